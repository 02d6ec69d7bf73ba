package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

func Validate(cfg *Config) error {
	var errs []error

	// Server validation
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535"))
	}
	if cfg.Server.PublicURL != "" {
		if _, err := url.Parse(cfg.Server.PublicURL); err != nil {
			errs = append(errs, fmt.Errorf("server.public_url is not a valid URL: %w", err))
		}
	}

	// Allowed origins validation
	for i, origin := range cfg.Server.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.allowed_origins[%d] %q is not a valid URL with scheme", i, origin))
		}
	}

	// TLS validation
	switch cfg.Server.TLS.Mode {
	case "", "off":
		// no additional validation needed
	case "auto":
		if cfg.Server.TLS.Auto.Domain == "" {
			errs = append(errs, fmt.Errorf("server.tls.auto.domain is required when tls mode is auto"))
		}
		if cfg.Server.TLS.Auto.CacheDir == "" {
			errs = append(errs, fmt.Errorf("server.tls.auto.cache_dir is required when tls mode is auto"))
		}
	case "manual":
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, fmt.Errorf("server.tls.cert_file is required when tls mode is manual"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, fmt.Errorf("server.tls.key_file is required when tls mode is manual"))
		}
	default:
		errs = append(errs, fmt.Errorf("server.tls.mode must be off, auto, or manual"))
	}

	// Database validation
	if cfg.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path is required"))
	}

	// Log validation
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn, or error"))
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json"))
	}

	// Telemetry validation (only if enabled)
	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.Endpoint == "" {
			errs = append(errs, fmt.Errorf("telemetry.endpoint is required when telemetry is enabled"))
		}
		if cfg.Telemetry.Protocol != "http" && cfg.Telemetry.Protocol != "grpc" {
			errs = append(errs, fmt.Errorf("telemetry.protocol must be http or grpc"))
		}
	}

	// Fetch validation
	if cfg.Fetch.UserAgent == "" {
		errs = append(errs, fmt.Errorf("fetch.user_agent is required"))
	}
	if cfg.Fetch.Timeout < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("fetch.timeout must be at least 100ms"))
	}
	if cfg.Fetch.MaxBodySize < 1024 {
		errs = append(errs, fmt.Errorf("fetch.max_body_size must be at least 1KB"))
	}
	if cfg.Fetch.MaxImageSize < 1024 {
		errs = append(errs, fmt.Errorf("fetch.max_image_size must be at least 1KB"))
	}

	// Images validation
	if !strings.HasPrefix(cfg.Images.URLPrefix, "/") {
		errs = append(errs, fmt.Errorf("images.url_prefix must start with /"))
	}
	switch cfg.Images.Backend {
	case "fs":
		if cfg.Images.Dir == "" {
			errs = append(errs, fmt.Errorf("images.dir is required when images backend is fs"))
		}
	case "s3":
		if cfg.Images.S3.Endpoint == "" {
			errs = append(errs, fmt.Errorf("images.s3.endpoint is required when images backend is s3"))
		}
		if cfg.Images.S3.Bucket == "" {
			errs = append(errs, fmt.Errorf("images.s3.bucket is required when images backend is s3"))
		}
	case "memory":
		// Images are discarded on exit; useful for dry runs.
	default:
		errs = append(errs, fmt.Errorf("images.backend must be fs, s3 or memory"))
	}

	// Reconcile validation
	if cfg.Reconcile.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("reconcile.concurrency must be at least 1"))
	}
	if cfg.Reconcile.PerHostRPS < 0 {
		errs = append(errs, fmt.Errorf("reconcile.per_host_rps must not be negative"))
	}

	// Rate limit validation (only when enabled)
	if cfg.RateLimit.Enabled {
		for _, ep := range []struct {
			name string
			cfg  RateLimitEndpoint
		}{
			{"rate_limit.resolve", cfg.RateLimit.Resolve},
			{"rate_limit.image", cfg.RateLimit.Image},
		} {
			if ep.cfg.Limit < 1 {
				errs = append(errs, fmt.Errorf("%s.limit must be at least 1", ep.name))
			}
			if ep.cfg.Window < time.Second {
				errs = append(errs, fmt.Errorf("%s.window must be at least 1s", ep.name))
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
