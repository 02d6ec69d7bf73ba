package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/enzyme/unfurl/internal/config"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	otellog "go.opentelemetry.io/otel/log"
)

const bridgeName = "github.com/enzyme/unfurl"

// Setup configures the default slog logger based on the provided config.
// This also bridges the standard "log" package via slog.SetDefault (Go 1.22+).
// When lp is non-nil, every record is additionally sent to the OpenTelemetry
// log pipeline.
func Setup(cfg config.LogConfig, lp otellog.LoggerProvider) {
	slog.SetDefault(slog.New(NewHandler(cfg, os.Stderr, lp)))
}

// NewHandler builds the handler Setup installs, writing to w.
func NewHandler(cfg config.LogConfig, w io.Writer, lp otellog.LoggerProvider) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	if lp == nil {
		return handler
	}
	return teeHandler{handler, otelslog.NewHandler(bridgeName, otelslog.WithLoggerProvider(lp))}
}

func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// teeHandler fans records out to several handlers. The first handler's level
// gates the rest, so the bridge never sees records stderr would drop.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return t[0].Enabled(ctx, level)
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
