package linkpreview

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// defaultImageExt is used when neither the URL nor the content type names a
// known image format.
const defaultImageExt = "jpg"

// imageExtensions are the only suffixes a stored image may carry. SVG is
// excluded: it can embed script and would be served from the site's origin.
var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true,
	"webp": true, "avif": true, "ico": true, "bmp": true,
}

// extensionsByType maps sniffed media types to a stored suffix.
var extensionsByType = map[string]string{
	"image/jpeg":   "jpg",
	"image/png":    "png",
	"image/gif":    "gif",
	"image/webp":   "webp",
	"image/avif":   "avif",
	"image/x-icon": "ico",
	"image/bmp":    "bmp",
}

// ImageStore is the capability the persister writes through. Put stores data
// under name, replacing any previous object, and returns the site-relative
// path the stored image is served from.
type ImageStore interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// ImagePersister downloads preview images into an ImageStore.
type ImagePersister struct {
	client    *http.Client
	store     ImageStore
	userAgent string
	maxSize   int64
	tracer    trace.Tracer
	outcomes  metric.Int64Counter
}

// NewImagePersister creates an ImagePersister. If client is nil,
// NewHTTPClient(opts) is used.
func NewImagePersister(store ImageStore, opts Options, client *http.Client) *ImagePersister {
	opts = opts.withDefaults()
	if client == nil {
		client = NewHTTPClient(opts)
	}
	return &ImagePersister{
		client:    client,
		store:     store,
		userAgent: opts.UserAgent,
		maxSize:   opts.MaxImageSize,
		tracer:    otel.Tracer(instrumentationName),
		outcomes:  newCounter("unfurl.image.total", "Preview image downloads by outcome"),
	}
}

// Persist downloads imageURL and stores it as "{Slugify(slug)}.{ext}",
// returning the site-relative path. The same slug and URL always map to the
// same path. Every failure is an *ImagePersistError.
func (p *ImagePersister) Persist(ctx context.Context, imageURL, slug string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "linkpreview.PersistImage", trace.WithAttributes(
		attribute.String("url.full", imageURL),
		attribute.String("unfurl.slug", slug),
	))
	defer span.End()

	ref, err := p.persist(ctx, imageURL, slug)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
		return "", &ImagePersistError{ImageURL: imageURL, Slug: slug, Err: err}
	}
	p.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
	return ref, nil
}

func (p *ImagePersister) persist(ctx context.Context, imageURL, slug string) (string, error) {
	name := Slugify(slug)
	if name == "" {
		return "", ErrEmptySlug
	}

	u, err := parseHTTPURL(imageURL)
	if err != nil {
		return "", err
	}

	data, contentType, err := p.download(ctx, u)
	if err != nil {
		return "", err
	}

	filename := name + "." + ImageExtension(u, contentType)
	ref, err := p.store.Put(ctx, filename, contentType, data)
	if err != nil {
		return "", fmt.Errorf("storing %s: %w", filename, err)
	}
	return ref, nil
}

func (p *ImagePersister) download(ctx context.Context, u *url.URL) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", err
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/*;q=0.8,*/*;q=0.5")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > p.maxSize {
		return nil, "", ErrImageTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading image: %w", err)
	}
	if int64(len(data)) > p.maxSize {
		return nil, "", ErrImageTooLarge
	}

	declared := resp.Header.Get("Content-Type")
	if declared != "" {
		mediaType, _, err := mime.ParseMediaType(declared)
		if err != nil || !strings.HasPrefix(mediaType, "image/") {
			return nil, "", fmt.Errorf("%w: %s", ErrNotImage, declared)
		}
	}

	// The stored type comes from the bytes, never from the header.
	mediaType := sniffImage(data)
	if mediaType == "" {
		return nil, "", fmt.Errorf("%w: body is %s", ErrNotImage, http.DetectContentType(data))
	}
	return data, mediaType, nil
}

// sniffImage returns the image media type of data, or "" when the bytes are
// not a raster image format the site serves.
func sniffImage(data []byte) string {
	if len(data) >= 12 && string(data[4:8]) == "ftyp" {
		if brand := string(data[8:12]); brand == "avif" || brand == "avis" {
			return "image/avif"
		}
	}
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	if _, ok := extensionsByType[mediaType]; ok {
		return mediaType
	}
	return ""
}

// ImageExtension returns the lower-cased suffix of the URL path when it is a
// known image extension. Otherwise the suffix follows mediaType, and "jpg"
// is the last resort.
func ImageExtension(u *url.URL, mediaType string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	if imageExtensions[ext] {
		return ext
	}
	if ext, ok := extensionsByType[mediaType]; ok {
		return ext
	}
	return defaultImageExt
}
