package linkpreview

import (
	"errors"
	"fmt"
)

// Record is a resolved link preview. Optional fields are empty when the
// source page did not provide them.
type Record struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	// Image is the remote og:image URL straight out of Resolve, and a
	// site-relative path once persisted.
	Image   string `json:"image,omitempty"`
	Favicon string `json:"favicon,omitempty"`
	Domain  string `json:"domain"`
}

// Resolved reports whether the record carries a title. Only resolved records
// are skipped by reconciliation; a page without a title is retried every run.
func (r Record) Resolved() bool {
	return r.Title != ""
}

// Metadata holds the candidate fields found in a document head.
type Metadata struct {
	Title       string
	Description string
	Image       string
	Favicon     string
}

var (
	ErrUnsupportedURL = errors.New("unsupported URL")
	ErrNotHTML        = errors.New("response is not HTML")
	ErrNotImage       = errors.New("response is not an image")
	ErrImageTooLarge  = errors.New("image exceeds size limit")
	ErrEmptySlug      = errors.New("slug is empty after sanitizing")
)

// FetchError reports why a page could not be fetched. Resolve never returns
// it; it degrades the record to its domain instead.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ImagePersistError reports a failed image download or write. Callers keep
// the rest of the record and drop the image.
type ImagePersistError struct {
	ImageURL string
	Slug     string
	Err      error
}

func (e *ImagePersistError) Error() string {
	return fmt.Sprintf("persisting image %s as %q: %v", e.ImageURL, e.Slug, e.Err)
}

func (e *ImagePersistError) Unwrap() error {
	return e.Err
}
