package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/enzyme/unfurl/internal/handler"
	"github.com/enzyme/unfurl/internal/ratelimit"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	// ImagePrefix and ImageDir, when both set, serve stored preview images
	// from disk at the same site-relative paths the image store returns.
	ImagePrefix string
	ImageDir    string
}

// NewRouter creates the HTTP router with all routes registered.
func NewRouter(h *handler.Handler, limiter *ratelimit.Limiter, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
			ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
			MaxAge:         86400,
		}))
	}

	r.Use(ratelimit.Middleware(limiter))

	// Health check
	r.Get("/health", handler.Health)

	r.Route("/api/link-preview", func(r chi.Router) {
		r.Post("/resolve", h.ResolvePreview)
		r.Post("/image", h.SaveImage)
	})

	if opts.ImagePrefix != "" && opts.ImageDir != "" {
		prefix := "/" + strings.Trim(opts.ImagePrefix, "/")
		r.With(middleware.SetHeader("X-Content-Type-Options", "nosniff")).
			Handle(prefix+"/*", http.StripPrefix(prefix, http.FileServer(http.Dir(opts.ImageDir))))
	}

	return otelhttp.NewHandler(r, "unfurl",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
