// Package reconcile fills in link preview blocks that have no resolved
// metadata yet. Resolved blocks are skipped without any network or store
// access, so running a pass twice is a no-op for everything that succeeded
// the first time.
package reconcile

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/enzyme/unfurl/internal/content"
	"github.com/enzyme/unfurl/internal/linkpreview"
)

const instrumentationName = "github.com/enzyme/unfurl/internal/reconcile"

// Resolver turns a URL into a preview record.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) linkpreview.Record
}

// ImageSaver stores a remote image under a slug and returns its local path.
type ImageSaver interface {
	Persist(ctx context.Context, imageURL, slug string) (string, error)
}

// Options tunes a pass.
type Options struct {
	// Concurrency is the number of blocks resolved at once. 1 or less is
	// sequential.
	Concurrency int
	// PerHostRPS caps requests per second to a single host. 0 disables it.
	PerHostRPS float64
}

// Stats summarises a pass.
type Stats struct {
	Scanned       int
	Skipped       int
	Resolved      int
	Unresolved    int
	ImageFailures int

	// Updated holds the blocks whose preview fields were written.
	Updated []*content.Block
}

// Reconciler runs the reconciliation pass.
type Reconciler struct {
	resolver    Resolver
	images      ImageSaver
	limiter     *HostLimiter
	concurrency int
	tracer      trace.Tracer
	blocks      metric.Int64Counter
}

// New creates a Reconciler. images may be nil, in which case resolved
// records are stored without an image rather than with a remote URL.
func New(resolver Resolver, images ImageSaver, opts Options) *Reconciler {
	r := &Reconciler{
		resolver:    resolver,
		images:      images,
		concurrency: opts.Concurrency,
		tracer:      otel.Tracer(instrumentationName),
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	if opts.PerHostRPS > 0 {
		r.limiter = NewHostLimiter(opts.PerHostRPS)
	}

	counter, err := otel.Meter(instrumentationName).Int64Counter("unfurl.reconcile.blocks",
		metric.WithDescription("Preview blocks seen by reconciliation, by state"))
	if err != nil {
		otel.Handle(err)
		r.blocks = noop.Int64Counter{}
	} else {
		r.blocks = counter
	}
	return r
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeResolved
	outcomeUnresolved
	outcomeUntouched
)

// Reconcile resolves every preview block in blocks that is not resolved yet
// and writes the result onto the block. Blocks without a PreviewURL are
// ignored. A block's fields are replaced in one step after its record is
// complete, so readers never see a half-filled block.
func (r *Reconciler) Reconcile(ctx context.Context, blocks []*content.Block) Stats {
	ctx, span := r.tracer.Start(ctx, "reconcile.Run")
	defer span.End()

	var (
		mu    sync.Mutex
		stats Stats
	)
	record := func(b *content.Block, o outcome, imageFailed bool) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeSkipped:
			stats.Skipped++
		case outcomeResolved:
			stats.Resolved++
			stats.Updated = append(stats.Updated, b)
		case outcomeUnresolved:
			stats.Unresolved++
			stats.Updated = append(stats.Updated, b)
		case outcomeUntouched:
			stats.Unresolved++
		}
		if imageFailed {
			stats.ImageFailures++
		}
	}

	var pending []*content.Block
	for _, b := range blocks {
		if !b.IsPreview() {
			continue
		}
		stats.Scanned++
		if b.Resolved() {
			record(b, outcomeSkipped, false)
			continue
		}
		pending = append(pending, b)
	}

	if r.concurrency == 1 {
		for _, b := range pending {
			o, imageFailed := r.reconcileBlock(ctx, b)
			record(b, o, imageFailed)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.concurrency)
		for _, b := range pending {
			g.Go(func() error {
				o, imageFailed := r.reconcileBlock(gctx, b)
				record(b, o, imageFailed)
				return nil
			})
		}
		_ = g.Wait()
	}

	r.count(ctx, "skipped", stats.Skipped)
	r.count(ctx, "resolved", stats.Resolved)
	r.count(ctx, "unresolved", stats.Unresolved)
	span.SetAttributes(
		attribute.Int("unfurl.scanned", stats.Scanned),
		attribute.Int("unfurl.skipped", stats.Skipped),
		attribute.Int("unfurl.resolved", stats.Resolved),
		attribute.Int("unfurl.unresolved", stats.Unresolved),
		attribute.Int("unfurl.image_failures", stats.ImageFailures),
	)
	return stats
}

func (r *Reconciler) reconcileBlock(ctx context.Context, b *content.Block) (outcome, bool) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, linkpreview.DomainOf(b.PreviewURL)); err != nil {
			return outcomeUntouched, false
		}
	}
	if ctx.Err() != nil {
		return outcomeUntouched, false
	}

	rec := r.resolver.Resolve(ctx, b.PreviewURL)
	if ctx.Err() != nil {
		// A cancelled fetch degrades to a domain-only record; keep what the
		// block already had instead.
		return outcomeUntouched, false
	}

	imageFailed := false
	if rec.Image != "" {
		if r.images == nil {
			rec.Image = ""
		} else {
			path, err := r.images.Persist(ctx, rec.Image, linkpreview.SlugFor(rec))
			if err != nil {
				slog.Warn("link preview image not saved", "url", b.PreviewURL, "error", err)
				rec.Image = ""
				imageFailed = true
			} else {
				rec.Image = path
			}
		}
	}

	if ctx.Err() != nil {
		return outcomeUntouched, false
	}

	b.Apply(rec)
	if rec.Resolved() {
		return outcomeResolved, imageFailed
	}
	return outcomeUnresolved, imageFailed
}

func (r *Reconciler) count(ctx context.Context, state string, n int) {
	if n == 0 {
		return
	}
	r.blocks.Add(ctx, int64(n), metric.WithAttributes(attribute.String("state", state)))
}
