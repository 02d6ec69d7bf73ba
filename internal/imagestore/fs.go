package imagestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore writes images into one public directory on disk.
type FileStore struct {
	dir       string
	urlPrefix string
}

// NewFileStore creates the directory if needed. urlPrefix is the
// site-relative location the directory is published under.
func NewFileStore(dir, urlPrefix string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("image directory must be provided")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating image directory: %w", err)
	}
	return &FileStore{dir: dir, urlPrefix: urlPrefix}, nil
}

// Put writes data to dir/name, replacing any existing file. The write goes
// through a temp file and rename so readers never see a partial image.
func (s *FileStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("writing image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("closing image: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("chmod image: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("renaming image: %w", err)
	}

	return sitePath(s.urlPrefix, name), nil
}

// Path returns the filesystem path for name.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name)
}
