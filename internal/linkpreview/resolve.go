package linkpreview

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// PageFetcher retrieves the bounded prefix of a page.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

// Unfurler turns a URL into a Record. It never persists images; callers that
// want a local copy call ImagePersister.Persist separately.
type Unfurler struct {
	fetcher  PageFetcher
	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

// NewUnfurler creates an Unfurler backed by fetcher.
func NewUnfurler(fetcher PageFetcher) *Unfurler {
	return &Unfurler{
		fetcher:  fetcher,
		tracer:   otel.Tracer(instrumentationName),
		outcomes: newCounter("unfurl.resolve.total", "Unfurl attempts by outcome"),
	}
}

// Resolve returns the preview record for rawURL. A failed fetch is not an
// error: the record then carries only URL and Domain.
func (u *Unfurler) Resolve(ctx context.Context, rawURL string) Record {
	rawURL = strings.TrimSpace(rawURL)
	rec := Record{
		URL:    rawURL,
		Domain: DomainOf(rawURL),
	}

	ctx, span := u.tracer.Start(ctx, "linkpreview.Resolve", trace.WithAttributes(
		attribute.String("url.full", rawURL),
		attribute.String("unfurl.domain", rec.Domain),
	))
	defer span.End()

	page, err := u.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		slog.Debug("link preview fetch failed", "url", rawURL, "error", err)
		span.SetAttributes(attribute.String("unfurl.outcome", "degraded"))
		u.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "degraded")))
		return rec
	}

	// References are relative to the page that was served, after redirects.
	base := page.FinalURL
	if base == "" {
		base = rawURL
	}

	meta := Extract(page.Prefix)
	rec.Title = meta.Title
	rec.Description = meta.Description
	rec.Image = resolveReference(base, meta.Image)
	rec.Favicon = resolveReference(base, meta.Favicon)

	span.SetAttributes(
		attribute.String("unfurl.outcome", "ok"),
		attribute.Bool("unfurl.resolved", rec.Resolved()),
	)
	u.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
	return rec
}

// resolveReference makes ref absolute against the source URL. References
// that do not end up as http(s) URLs (data:, javascript:, garbage) are
// dropped.
func resolveReference(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	abs := b.ResolveReference(r)
	if (abs.Scheme != "http" && abs.Scheme != "https") || abs.Host == "" {
		return ""
	}
	return abs.String()
}
