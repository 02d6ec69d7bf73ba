package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const envPrefix = "UNFURL_"

func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Load defaults
	defaults := Defaults()
	if err := k.Load(defaultsProvider(defaults), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// 2. Load from config file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
		}
	} else {
		for _, path := range []string{"unfurl.yaml", "unfurl.yml"} {
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
					return nil, fmt.Errorf("loading config file: %w", err)
				}
				break
			}
		}
	}

	// 3. Load from environment variables (UNFURL_ prefix)
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper(k.Keys())), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	// 4. Load from CLI flags
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	// 5. Unmarshal into struct
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// 6. Validate
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// envKeyMapper maps UNFURL_RATE_LIMIT_RESOLVE_LIMIT to rate_limit.resolve.limit.
// Underscores are ambiguous (they separate sections and words), so the known
// keys decide; unknown variables fall back to treating every underscore as a
// section separator.
func envKeyMapper(known []string) func(string) string {
	byEnv := make(map[string]string, len(known))
	for _, key := range known {
		byEnv[strings.ReplaceAll(key, ".", "_")] = key
	}
	return func(s string) string {
		name := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		if key, ok := byEnv[name]; ok {
			return key
		}
		return strings.ReplaceAll(name, "_", ".")
	}
}

type defaultsProviderStruct struct {
	defaults *Config
}

func defaultsProvider(defaults *Config) *defaultsProviderStruct {
	return &defaultsProviderStruct{defaults: defaults}
}

func (d *defaultsProviderStruct) ReadBytes() ([]byte, error) {
	return nil, nil
}

func (d *defaultsProviderStruct) Read() (map[string]interface{}, error) {
	return map[string]interface{}{
		"server": map[string]interface{}{
			"host":            d.defaults.Server.Host,
			"port":            d.defaults.Server.Port,
			"public_url":      d.defaults.Server.PublicURL,
			"allowed_origins": d.defaults.Server.AllowedOrigins,
			"tls": map[string]interface{}{
				"mode":      d.defaults.Server.TLS.Mode,
				"cert_file": d.defaults.Server.TLS.CertFile,
				"key_file":  d.defaults.Server.TLS.KeyFile,
				"auto": map[string]interface{}{
					"domain":    d.defaults.Server.TLS.Auto.Domain,
					"email":     d.defaults.Server.TLS.Auto.Email,
					"cache_dir": d.defaults.Server.TLS.Auto.CacheDir,
				},
			},
		},
		"database": map[string]interface{}{
			"path": d.defaults.Database.Path,
		},
		"log": map[string]interface{}{
			"level":  d.defaults.Log.Level,
			"format": d.defaults.Log.Format,
		},
		"telemetry": map[string]interface{}{
			"enabled":      d.defaults.Telemetry.Enabled,
			"endpoint":     d.defaults.Telemetry.Endpoint,
			"protocol":     d.defaults.Telemetry.Protocol,
			"insecure":     d.defaults.Telemetry.Insecure,
			"service_name": d.defaults.Telemetry.ServiceName,
		},
		"fetch": map[string]interface{}{
			"user_agent":     d.defaults.Fetch.UserAgent,
			"timeout":        d.defaults.Fetch.Timeout.String(),
			"max_body_size":  d.defaults.Fetch.MaxBodySize,
			"max_image_size": d.defaults.Fetch.MaxImageSize,
			"allow_private":  d.defaults.Fetch.AllowPrivate,
		},
		"images": map[string]interface{}{
			"backend":    d.defaults.Images.Backend,
			"dir":        d.defaults.Images.Dir,
			"url_prefix": d.defaults.Images.URLPrefix,
			"s3": map[string]interface{}{
				"endpoint":   d.defaults.Images.S3.Endpoint,
				"bucket":     d.defaults.Images.S3.Bucket,
				"access_key": d.defaults.Images.S3.AccessKey,
				"secret_key": d.defaults.Images.S3.SecretKey,
				"use_ssl":    d.defaults.Images.S3.UseSSL,
				"prefix":     d.defaults.Images.S3.Prefix,
			},
		},
		"reconcile": map[string]interface{}{
			"concurrency":  d.defaults.Reconcile.Concurrency,
			"per_host_rps": d.defaults.Reconcile.PerHostRPS,
		},
		"rate_limit": map[string]interface{}{
			"enabled": d.defaults.RateLimit.Enabled,
			"resolve": map[string]interface{}{
				"limit":  d.defaults.RateLimit.Resolve.Limit,
				"window": d.defaults.RateLimit.Resolve.Window.String(),
			},
			"image": map[string]interface{}{
				"limit":  d.defaults.RateLimit.Image.Limit,
				"window": d.defaults.RateLimit.Image.Window.String(),
			},
		},
	}, nil
}

func SetupFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("unfurl", pflag.ContinueOnError)
	flags.String("config", "", "Path to config file")
	flags.String("server.host", "", "Server host")
	flags.Int("server.port", 0, "Server port")
	flags.String("server.public_url", "", "Public URL")
	flags.StringSlice("server.allowed_origins", nil, "Allowed CORS origins")
	flags.String("server.tls.mode", "", "TLS mode: off, auto, or manual")
	flags.String("server.tls.cert_file", "", "TLS certificate file (manual mode)")
	flags.String("server.tls.key_file", "", "TLS key file (manual mode)")
	flags.String("server.tls.auto.domain", "", "Domain for automatic TLS (auto mode)")
	flags.String("server.tls.auto.email", "", "Contact email for Let's Encrypt (auto mode)")
	flags.String("server.tls.auto.cache_dir", "", "Certificate cache directory (auto mode)")
	flags.String("database.path", "", "Database path")
	flags.String("log.level", "", "Log level: debug, info, warn, error")
	flags.String("log.format", "", "Log format: text or json")
	flags.Bool("telemetry.enabled", false, "Export traces, metrics and logs over OTLP")
	flags.String("telemetry.endpoint", "", "OTLP collector endpoint (host:port)")
	flags.Duration("fetch.timeout", 0, "Timeout for each outbound request")
	flags.Int64("fetch.max_body_size", 0, "Bytes of HTML read from each page")
	flags.Bool("fetch.allow_private", false, "Allow fetching loopback and private addresses")
	flags.String("images.backend", "", "Image store: fs or s3")
	flags.String("images.dir", "", "Directory for persisted preview images (fs backend)")
	flags.String("images.url_prefix", "", "Site-relative prefix for persisted preview images")
	flags.Int("reconcile.concurrency", 0, "Blocks resolved in parallel during reconcile")
	flags.Float64("reconcile.per_host_rps", 0, "Requests per second allowed per remote host during reconcile")
	return flags
}
