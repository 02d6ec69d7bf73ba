// Package app wires configuration into the running pieces: the content
// database, the unfurl pipeline, and (for serve) the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/enzyme/unfurl/internal/config"
	"github.com/enzyme/unfurl/internal/content"
	"github.com/enzyme/unfurl/internal/database"
	"github.com/enzyme/unfurl/internal/handler"
	"github.com/enzyme/unfurl/internal/imagestore"
	"github.com/enzyme/unfurl/internal/linkpreview"
	"github.com/enzyme/unfurl/internal/ratelimit"
	"github.com/enzyme/unfurl/internal/reconcile"
	"github.com/enzyme/unfurl/internal/server"
)

type App struct {
	Config      *config.Config
	DB          *database.DB
	Content     *content.Repository
	Pipeline    *Pipeline
	Server      *server.Server
	RateLimiter *ratelimit.Limiter
}

// Pipeline is the unfurl engine shared by every entry point.
type Pipeline struct {
	Unfurler *linkpreview.Unfurler
	Images   *linkpreview.ImagePersister
}

// NewPipeline builds the fetcher, unfurler and image persister from config.
// It needs no database.
func NewPipeline(cfg *config.Config) (*Pipeline, error) {
	opts := linkpreview.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.Fetch.Timeout,
		MaxBodySize:  cfg.Fetch.MaxBodySize,
		MaxImageSize: cfg.Fetch.MaxImageSize,
		AllowPrivate: cfg.Fetch.AllowPrivate,
	}
	client := linkpreview.NewHTTPClient(opts)

	store, err := NewImageStore(cfg.Images)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Unfurler: linkpreview.NewUnfurler(linkpreview.NewFetcherWithClient(opts, client)),
		Images:   linkpreview.NewImagePersister(store, opts, client),
	}, nil
}

// NewImageStore returns the store selected by cfg.Backend.
func NewImageStore(cfg config.ImagesConfig) (linkpreview.ImageStore, error) {
	switch cfg.Backend {
	case "fs", "":
		return imagestore.NewFileStore(cfg.Dir, cfg.URLPrefix)
	case "s3":
		return imagestore.NewS3Store(imagestore.S3Options{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
			Prefix:    cfg.S3.Prefix,
			URLPrefix: cfg.URLPrefix,
		})
	case "memory":
		return imagestore.NewMemoryStore(cfg.URLPrefix), nil
	default:
		return nil, fmt.Errorf("unknown image backend %q", cfg.Backend)
	}
}

// Open opens the database and builds the pipeline without an HTTP server.
// The reconcile and import commands use it directly.
func Open(cfg *config.Config) (*App, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	pipeline, err := NewPipeline(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &App{
		Config:   cfg,
		DB:       db,
		Content:  content.NewRepository(db.DB),
		Pipeline: pipeline,
	}, nil
}

// New is Open plus the HTTP server for the edit-time API.
func New(cfg *config.Config) (*App, error) {
	a, err := Open(cfg)
	if err != nil {
		return nil, err
	}

	h := handler.New(handler.Dependencies{
		Resolver: a.Pipeline.Unfurler,
		Images:   a.Pipeline.Images,
	})

	// Build rate limiter (nil if disabled)
	if cfg.RateLimit.Enabled {
		a.RateLimiter = ratelimit.NewLimiter([]ratelimit.Rule{
			{Method: "POST", Path: "/api/link-preview/resolve", Limit: cfg.RateLimit.Resolve.Limit, Window: cfg.RateLimit.Resolve.Window},
			{Method: "POST", Path: "/api/link-preview/image", Limit: cfg.RateLimit.Image.Limit, Window: cfg.RateLimit.Image.Window},
		})
	}

	routerOpts := server.RouterOptions{AllowedOrigins: cfg.Server.AllowedOrigins}
	if cfg.Images.Backend == "fs" {
		routerOpts.ImagePrefix = cfg.Images.URLPrefix
		routerOpts.ImageDir = cfg.Images.Dir
	}
	router := server.NewRouter(h, a.RateLimiter, routerOpts)

	tlsOpts := server.TLSOptionsFrom(cfg.Server.TLS)
	if tlsOpts.Mode == "auto" {
		if err := os.MkdirAll(tlsOpts.CacheDir, 0700); err != nil {
			_ = a.DB.Close()
			return nil, fmt.Errorf("creating TLS cache directory: %w", err)
		}
	}

	a.Server = server.New(cfg.Server.Host, cfg.Server.Port, router, tlsOpts)
	return a, nil
}

// Start runs the HTTP server until Shutdown.
func (a *App) Start(ctx context.Context) error {
	// Start rate limiter cleanup
	if a.RateLimiter != nil {
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					a.RateLimiter.Cleanup()
				}
			}
		}()
	}

	slog.Info("starting unfurl server",
		"addr", a.Server.Addr(),
		"database", a.Config.Database.Path,
		"images", a.Config.Images.Backend,
		"tls", a.Server.TLSMode(),
	)

	return a.Server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			return err
		}
	}
	return a.DB.Close()
}

// Reconcile runs one pass over every stored link preview block and saves the
// blocks it changed. Save failures are collected; the pass itself never
// fails.
func (a *App) Reconcile(ctx context.Context) (reconcile.Stats, error) {
	blocks, err := a.Content.ListPreviewBlocks(ctx, false)
	if err != nil {
		return reconcile.Stats{}, fmt.Errorf("listing preview blocks: %w", err)
	}

	r := reconcile.New(a.Pipeline.Unfurler, a.Pipeline.Images, reconcile.Options{
		Concurrency: a.Config.Reconcile.Concurrency,
		PerHostRPS:  a.Config.Reconcile.PerHostRPS,
	})
	stats := r.Reconcile(ctx, blocks)

	var errs []error
	for _, b := range stats.Updated {
		if err := a.Content.SavePreview(ctx, b); err != nil {
			errs = append(errs, fmt.Errorf("saving block %s: %w", b.ID, err))
		}
	}

	slog.Info("reconcile finished",
		"scanned", stats.Scanned,
		"skipped", stats.Skipped,
		"resolved", stats.Resolved,
		"unresolved", stats.Unresolved,
		"image_failures", stats.ImageFailures,
		"save_errors", len(errs),
	)
	return stats, errors.Join(errs...)
}

// Import parses body into blocks and stores it as a new document.
func (a *App) Import(ctx context.Context, slug, title, body string) (*content.Document, error) {
	doc := &content.Document{
		Slug:   slug,
		Title:  title,
		Blocks: content.ParseBody(body),
	}
	if err := a.Content.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("importing %s: %w", slug, err)
	}

	previews := 0
	for _, b := range doc.Blocks {
		if b.IsPreview() {
			previews++
		}
	}
	slog.Info("document imported", "slug", slug, "blocks", len(doc.Blocks), "previews", previews)
	return doc, nil
}
