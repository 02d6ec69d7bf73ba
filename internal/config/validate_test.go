package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaults_Valid(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
}

func TestValidate_AllowedOrigins_NoScheme(t *testing.T) {
	cfg := Defaults()
	cfg.Server.AllowedOrigins = []string{"localhost:3000"}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for origin without scheme")
	}
	if !strings.Contains(err.Error(), "allowed_origins") {
		t.Fatalf("expected error about allowed_origins, got: %v", err)
	}
}

func TestValidate_TLSManualRequiresFiles(t *testing.T) {
	cfg := Defaults()
	cfg.Server.TLS.Mode = "manual"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for manual TLS without files")
	}
	if !strings.Contains(err.Error(), "server.tls.cert_file") {
		t.Fatalf("expected error about cert_file, got: %v", err)
	}
}

func TestValidate_Table(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"telemetry bad protocol", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Protocol = "udp"
		}, "telemetry.protocol"},
		{"tiny body", func(c *Config) { c.Fetch.MaxBodySize = 10 }, "fetch.max_body_size"},
		{"tiny timeout", func(c *Config) { c.Fetch.Timeout = time.Millisecond }, "fetch.timeout"},
		{"relative url prefix", func(c *Config) { c.Images.URLPrefix = "images" }, "images.url_prefix"},
		{"s3 without bucket", func(c *Config) {
			c.Images.Backend = "s3"
			c.Images.S3.Endpoint = "localhost:9000"
		}, "images.s3.bucket"},
		{"zero concurrency", func(c *Config) { c.Reconcile.Concurrency = 0 }, "reconcile.concurrency"},
		{"negative rps", func(c *Config) { c.Reconcile.PerHostRPS = -1 }, "reconcile.per_host_rps"},
		{"rate limit zero", func(c *Config) { c.RateLimit.Resolve.Limit = 0 }, "rate_limit.resolve.limit"},
		{"rate limit short window", func(c *Config) { c.RateLimit.Image.Window = 500 * time.Millisecond }, "rate_limit.image.window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error about %s, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_RateLimitDisabled(t *testing.T) {
	cfg := Defaults()
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.Resolve.Limit = 0  // invalid, but should not matter when disabled
	cfg.RateLimit.Resolve.Window = 0 // invalid, but should not matter when disabled
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled rate limit should skip validation: %v", err)
	}
}
