package config

import "time"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Fetch     FetchConfig     `koanf:"fetch"`
	Images    ImagesConfig    `koanf:"images"`
	Reconcile ReconcileConfig `koanf:"reconcile"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type ServerConfig struct {
	Host           string    `koanf:"host"`
	Port           int       `koanf:"port"`
	PublicURL      string    `koanf:"public_url"`
	AllowedOrigins []string  `koanf:"allowed_origins"`
	TLS            TLSConfig `koanf:"tls"`
}

type TLSConfig struct {
	Mode     string        `koanf:"mode"` // off, auto, manual
	CertFile string        `koanf:"cert_file"`
	KeyFile  string        `koanf:"key_file"`
	Auto     AutoTLSConfig `koanf:"auto"`
}

type AutoTLSConfig struct {
	Domain   string `koanf:"domain"`
	Email    string `koanf:"email"`
	CacheDir string `koanf:"cache_dir"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text, json
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	Protocol    string `koanf:"protocol"` // http, grpc
	Insecure    bool   `koanf:"insecure"`
	ServiceName string `koanf:"service_name"`
}

// FetchConfig bounds every outbound request made while unfurling.
type FetchConfig struct {
	UserAgent    string        `koanf:"user_agent"`
	Timeout      time.Duration `koanf:"timeout"`
	MaxBodySize  int64         `koanf:"max_body_size"`
	MaxImageSize int64         `koanf:"max_image_size"`
	AllowPrivate bool          `koanf:"allow_private"`
}

type ImagesConfig struct {
	Backend   string   `koanf:"backend"` // fs, s3, memory
	Dir       string   `koanf:"dir"`
	URLPrefix string   `koanf:"url_prefix"`
	S3        S3Config `koanf:"s3"`
}

type S3Config struct {
	Endpoint  string `koanf:"endpoint"`
	Bucket    string `koanf:"bucket"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	UseSSL    bool   `koanf:"use_ssl"`
	Prefix    string `koanf:"prefix"`
}

type ReconcileConfig struct {
	Concurrency int     `koanf:"concurrency"`
	PerHostRPS  float64 `koanf:"per_host_rps"`
}

type RateLimitConfig struct {
	Enabled bool              `koanf:"enabled"`
	Resolve RateLimitEndpoint `koanf:"resolve"`
	Image   RateLimitEndpoint `koanf:"image"`
}

type RateLimitEndpoint struct {
	Limit  int           `koanf:"limit"`
	Window time.Duration `koanf:"window"`
}

// DefaultUserAgent mimics a desktop browser. Some origins refuse bots or
// serve them stripped-down markup without Open Graph tags.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36"

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			PublicURL: "http://localhost:8080",
			TLS: TLSConfig{
				Mode: "off",
				Auto: AutoTLSConfig{
					CacheDir: "./data/certs",
				},
			},
		},
		Database: DatabaseConfig{
			Path: "./data/unfurl.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			Protocol:    "http",
			Insecure:    true,
			ServiceName: "unfurl",
		},
		Fetch: FetchConfig{
			UserAgent:    DefaultUserAgent,
			Timeout:      8 * time.Second,
			MaxBodySize:  100 * 1024,      // 100KB
			MaxImageSize: 5 * 1024 * 1024, // 5MB
		},
		Images: ImagesConfig{
			Backend:   "fs",
			Dir:       "./public/images/link-previews",
			URLPrefix: "/images/link-previews",
			S3: S3Config{
				UseSSL: true,
				Prefix: "link-previews",
			},
		},
		Reconcile: ReconcileConfig{
			Concurrency: 1,
			PerHostRPS:  2,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Resolve: RateLimitEndpoint{Limit: 30, Window: time.Minute},
			Image:   RateLimitEndpoint{Limit: 10, Window: time.Minute},
		},
	}
}
