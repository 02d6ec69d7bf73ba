// Package imagestore persists preview images. Every store keys objects by a
// flat file name ("{slug}.{ext}") and reports where the site serves them from;
// there are no subdirectories and no index beyond the listing itself.
package imagestore

import (
	"errors"
	"path"
	"strings"
)

var ErrInvalidName = errors.New("invalid image name")

// validateName rejects anything that is not a single, non-hidden path element.
func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return ErrInvalidName
	}
	return nil
}

// sitePath joins the public URL prefix and the object name.
func sitePath(urlPrefix, name string) string {
	return path.Join("/", urlPrefix, name)
}
