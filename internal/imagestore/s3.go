package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures an S3-compatible bucket that backs the public image
// directory.
type S3Options struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Prefix is the key prefix inside the bucket, e.g. "link-previews".
	Prefix string
	// URLPrefix is where the site serves Prefix from.
	URLPrefix string
}

// S3Store writes images to an S3-compatible bucket.
type S3Store struct {
	client    *minio.Client
	bucket    string
	prefix    string
	urlPrefix string
}

func NewS3Store(opts S3Options) (*S3Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}
	return &S3Store{
		client:    client,
		bucket:    opts.Bucket,
		prefix:    opts.Prefix,
		urlPrefix: opts.URLPrefix,
	}, nil
}

// Put uploads data as prefix/name, overwriting any existing object.
func (s *S3Store) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	key := s.key(name)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=86400",
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return sitePath(s.urlPrefix, name), nil
}

func (s *S3Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}
