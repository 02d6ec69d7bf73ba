package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/enzyme/unfurl/internal/app"
	"github.com/enzyme/unfurl/internal/config"
	"github.com/enzyme/unfurl/internal/linkpreview"
	"github.com/enzyme/unfurl/internal/logging"
	"github.com/enzyme/unfurl/internal/telemetry"
)

func main() {
	// Check for subcommands before flag parsing
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "serve", "reconcile", "import", "resolve":
			cmd, args = args[0], args[1:]
		}
	}

	var err error
	switch cmd {
	case "reconcile":
		err = runReconcile(args)
	case "import":
		err = runImport(args)
	case "resolve":
		err = runResolve(args)
	default:
		err = runServe(args)
	}
	if err != nil {
		slog.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

// setup parses flags, loads config and installs telemetry and logging. The
// returned function flushes telemetry.
func setup(args []string, extra func(*pflag.FlagSet)) (*config.Config, *pflag.FlagSet, func(), error) {
	flags := config.SetupFlags()
	if extra != nil {
		extra(flags)
	}
	if err := flags.Parse(args); err != nil {
		return nil, nil, nil, fmt.Errorf("parsing flags: %w", err)
	}

	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(configPath, flags)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	providers, err := telemetry.Setup(context.Background(), cfg.Telemetry)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("setting up telemetry: %w", err)
	}

	// Setup structured logging
	logging.Setup(cfg.Log, providers.LoggerProvider())

	flush := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := providers.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}
	return cfg, flags, flush, nil
}

func runServe(args []string) error {
	cfg, _, flush, err := setup(args, nil)
	if err != nil {
		return err
	}
	defer flush()

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("creating application: %w", err)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		slog.Info("received shutdown signal")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during shutdown", "error", err)
		}
	}()

	if err := application.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	slog.Info("server stopped")
	return nil
}

func runReconcile(args []string) error {
	cfg, _, flush, err := setup(args, nil)
	if err != nil {
		return err
	}
	defer flush()

	application, err := app.Open(cfg)
	if err != nil {
		return err
	}
	defer application.Shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Unreachable sources never fail the pass; only storage errors do.
	_, err = application.Reconcile(ctx)
	return err
}

func runImport(args []string) error {
	cfg, flags, flush, err := setup(args, func(f *pflag.FlagSet) {
		f.String("slug", "", "Document slug (required)")
		f.String("title", "", "Document title")
		f.String("file", "-", "Body file, - for stdin")
		f.Bool("reconcile", false, "Run a reconcile pass after importing")
	})
	if err != nil {
		return err
	}
	defer flush()

	slug, _ := flags.GetString("slug")
	title, _ := flags.GetString("title")
	path, _ := flags.GetString("file")
	runPass, _ := flags.GetBool("reconcile")
	if slug == "" {
		return errors.New("--slug is required")
	}

	body, err := readBody(path)
	if err != nil {
		return err
	}

	application, err := app.Open(cfg)
	if err != nil {
		return err
	}
	defer application.Shutdown(context.Background())

	ctx := context.Background()
	if _, err := application.Import(ctx, slug, title, string(body)); err != nil {
		return err
	}
	if runPass {
		_, err = application.Reconcile(ctx)
	}
	return err
}

func runResolve(args []string) error {
	cfg, flags, flush, err := setup(args, func(f *pflag.FlagSet) {
		f.Bool("persist", false, "Also save the image into the image store")
	})
	if err != nil {
		return err
	}
	defer flush()

	if flags.NArg() != 1 {
		return errors.New("usage: unfurl resolve [flags] <url>")
	}
	persist, _ := flags.GetBool("persist")

	pipeline, err := app.NewPipeline(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	rec := pipeline.Unfurler.Resolve(ctx, flags.Arg(0))
	if persist && rec.Image != "" {
		path, err := pipeline.Images.Persist(ctx, rec.Image, linkpreview.SlugFor(rec))
		if err != nil {
			slog.Warn("image not saved", "error", err)
			rec.Image = ""
		} else {
			rec.Image = path
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func readBody(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return body, nil
}
