// Package handler exposes the edit-time link preview operations as JSON
// endpoints. Both run server-side only: resolving never persists anything,
// and saving an image is a separate, explicit call.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/enzyme/unfurl/internal/linkpreview"
)

// maxRequestBody caps the JSON request size.
const maxRequestBody = 64 << 10

// Resolver turns a URL into a preview record.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) linkpreview.Record
}

// ImageSaver stores a remote image under a slug.
type ImageSaver interface {
	Persist(ctx context.Context, imageURL, slug string) (string, error)
}

// Handler serves the link preview API.
type Handler struct {
	resolver Resolver
	images   ImageSaver
}

// Dependencies holds all dependencies for the Handler
type Dependencies struct {
	Resolver Resolver
	Images   ImageSaver
}

// New creates a new Handler with all dependencies
func New(deps Dependencies) *Handler {
	return &Handler{
		resolver: deps.Resolver,
		images:   deps.Images,
	}
}

// ResolveRequest is the body of POST /api/link-preview/resolve.
type ResolveRequest struct {
	URL string `json:"url"`
}

// SaveImageRequest is the body of POST /api/link-preview/image.
type SaveImageRequest struct {
	ImageURL string `json:"imageUrl"`
	Slug     string `json:"slug"`
}

// SaveImageResponse carries the site-relative path of the stored image.
type SaveImageResponse struct {
	Path string `json:"path"`
}

// ResolvePreview returns the preview record for a URL. An unreachable page
// is not an error: the response then holds only url and domain, and the
// author fills in the rest by hand.
func (h *Handler) ResolvePreview(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidationError, "url is required")
		return
	}
	if !isHTTPURL(req.URL) {
		writeError(w, http.StatusBadRequest, ErrCodeValidationError, "url must be an absolute http(s) URL")
		return
	}

	writeJSON(w, http.StatusOK, h.resolver.Resolve(r.Context(), req.URL))
}

// SaveImage downloads imageUrl into the image store under slug.
func (h *Handler) SaveImage(w http.ResponseWriter, r *http.Request) {
	var req SaveImageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.ImageURL = strings.TrimSpace(req.ImageURL)
	if req.ImageURL == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidationError, "imageUrl is required")
		return
	}
	if !isHTTPURL(req.ImageURL) {
		writeError(w, http.StatusBadRequest, ErrCodeValidationError, "imageUrl must be an absolute http(s) URL")
		return
	}
	if linkpreview.Slugify(req.Slug) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidationError, "slug must contain at least one letter or digit")
		return
	}

	path, err := h.images.Persist(r.Context(), req.ImageURL, req.Slug)
	if err != nil {
		var pe *linkpreview.ImagePersistError
		if errors.As(err, &pe) {
			writeError(w, http.StatusBadGateway, ErrCodeImagePersistFailed, err.Error())
			return
		}
		WriteInternalError(w)
		return
	}

	writeJSON(w, http.StatusOK, SaveImageResponse{Path: path})
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidJSON, "Invalid JSON body")
		return false
	}
	return true
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
