// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Tenant   TenantConfig   `mapstructure:"tenant"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Queue    QueueConfig    `mapstructure:"queue"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Media    MediaConfig    `mapstructure:"media"`
	Geocode  GeocodeConfig  `mapstructure:"geocode"`
	Captcha  CaptchaConfig  `mapstructure:"captcha"`
	Enquiry  EnquiryConfig  `mapstructure:"enquiry"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	PageSize       int `mapstructure:"page_size"`
}

// AuthConfig holds the platform-wide signing key.
type AuthConfig struct {
	MasterKey            string `mapstructure:"master_key"`
	RequestWindowSeconds int    `mapstructure:"request_window_seconds"`
}

// TenantConfig governs tenant resolution and origin checks.
type TenantConfig struct {
	RootDomain string `mapstructure:"root_domain"`
}

// DatabaseConfig controls access to PostgreSQL.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig points at the cache and counter store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig selects the job queue backend.
type QueueConfig struct {
	Backend string `mapstructure:"backend"`
	Depth   int    `mapstructure:"depth"`
}

// PubSubConfig names the per-priority topics and subscriptions.
type PubSubConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	Topic           string `mapstructure:"topic"`
	LowTopic        string `mapstructure:"low_topic"`
	Subscription    string `mapstructure:"subscription"`
	LowSubscription string `mapstructure:"low_subscription"`
}

// WorkerConfig governs the job actor.
type WorkerConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	LowConcurrency    int           `mapstructure:"low_concurrency"`
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
	StartupAttempts   uint          `mapstructure:"startup_attempts"`
	StartupRetryDelay time.Duration `mapstructure:"startup_retry_delay"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// UpstreamConfig points at the platform API the socket syncs from.
type UpstreamConfig struct {
	APIRoot string  `mapstructure:"api_root"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// MediaConfig controls where contractor images are written.
type MediaConfig struct {
	Backend          string `mapstructure:"backend"`
	BaseDir          string `mapstructure:"base_dir"`
	Bucket           string `mapstructure:"bucket"`
	URL              string `mapstructure:"url"`
	MaxDownloadBytes int64  `mapstructure:"max_download_bytes"`
}

// GeocodeConfig configures the geocoding provider and cache policy.
type GeocodeConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	URL       string        `mapstructure:"url"`
	RateLimit int64         `mapstructure:"rate_limit"`
	Window    time.Duration `mapstructure:"window"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// CaptchaConfig configures the CAPTCHA verifier.
type CaptchaConfig struct {
	Secret string `mapstructure:"secret"`
	URL    string `mapstructure:"url"`
}

// EnquiryConfig controls enquiry schema caching.
type EnquiryConfig struct {
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SOCKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.timeout_seconds", 30)
	v.SetDefault("server.page_size", 100)
	v.SetDefault("auth.master_key", "")
	v.SetDefault("auth.request_window_seconds", 10)
	v.SetDefault("tenant.root_domain", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.depth", 256)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "socket-jobs")
	v.SetDefault("pubsub.low_topic", "socket-jobs-low")
	v.SetDefault("pubsub.subscription", "socket-jobs-worker")
	v.SetDefault("pubsub.low_subscription", "socket-jobs-low-worker")
	v.SetDefault("worker.concurrency", 6)
	v.SetDefault("worker.low_concurrency", 2)
	v.SetDefault("worker.job_timeout", 5*time.Minute)
	v.SetDefault("worker.startup_attempts", 5)
	v.SetDefault("worker.startup_retry_delay", time.Second)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "contractor-socket/1.0")
	v.SetDefault("upstream.api_root", "https://secure.tutorcruncher.com/api")
	v.SetDefault("upstream.rps", 5)
	v.SetDefault("upstream.burst", 5)
	v.SetDefault("media.backend", "local")
	v.SetDefault("media.base_dir", "media")
	v.SetDefault("media.bucket", "")
	v.SetDefault("media.url", "/media")
	v.SetDefault("media.max_download_bytes", 10<<20)
	v.SetDefault("geocode.api_key", "")
	v.SetDefault("geocode.url", "https://maps.googleapis.com/maps/api/geocode/json")
	v.SetDefault("geocode.rate_limit", 10)
	v.SetDefault("geocode.window", time.Hour)
	v.SetDefault("geocode.cache_ttl", 90*24*time.Hour)
	v.SetDefault("captcha.secret", "")
	v.SetDefault("captcha.url", "https://www.google.com/recaptcha/api/siteverify")
	v.SetDefault("enquiry.cache_ttl", 24*time.Hour)
	v.SetDefault("enquiry.stale_after", time.Hour)
	v.SetDefault("logging.development", false)
}

// Validate performs semantic validation on the loaded configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must be > 0"))
	}
	if c.Server.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("server.page_size must be > 0"))
	}
	if c.Auth.RequestWindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("auth.request_window_seconds must be > 0"))
	}
	if c.Worker.Concurrency <= 0 || c.Worker.LowConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker concurrency values must be > 0"))
	}
	if c.Worker.StartupAttempts == 0 {
		errs = append(errs, fmt.Errorf("worker.startup_attempts must be > 0"))
	}
	switch c.Queue.Backend {
	case "memory":
		if c.Queue.Depth <= 0 {
			errs = append(errs, fmt.Errorf("queue.depth must be > 0"))
		}
	case "pubsub":
		if c.PubSub.ProjectID == "" {
			errs = append(errs, fmt.Errorf("pubsub.project_id is required for the pubsub queue"))
		}
		if c.PubSub.Topic == "" || c.PubSub.LowTopic == "" {
			errs = append(errs, fmt.Errorf("pubsub topics are required for the pubsub queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.backend %q is not supported", c.Queue.Backend))
	}
	switch c.Media.Backend {
	case "local":
		if strings.TrimSpace(c.Media.BaseDir) == "" {
			errs = append(errs, fmt.Errorf("media.base_dir is required for local media"))
		}
	case "gcs":
		if c.Media.Bucket == "" {
			errs = append(errs, fmt.Errorf("media.bucket is required for gcs media"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("media.backend %q is not supported", c.Media.Backend))
	}
	if c.Media.MaxDownloadBytes <= 0 {
		errs = append(errs, fmt.Errorf("media.max_download_bytes must be > 0"))
	}
	if c.Geocode.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("geocode.rate_limit must be > 0"))
	}
	return errors.Join(errs...)
}

// RequestWindow returns the accepted request-time skew.
func (c Config) RequestWindow() time.Duration {
	return time.Duration(c.Auth.RequestWindowSeconds) * time.Second
}

// HTTPTimeout returns the outbound HTTP client timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
