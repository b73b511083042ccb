// Package config defines the top-level configuration for polysnap and
// provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/polysnap/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYSNAP_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Store      StoreConfig      `toml:"store"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Watch      WatchConfig      `toml:"watch"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig configures the data API client.
type PolymarketConfig struct {
	DataHost       string   `toml:"data_host"`
	Timeout        duration `toml:"timeout"`
	MaxRetries     int      `toml:"max_retries"`
	RetryBaseDelay duration `toml:"retry_base_delay"`
	PageSize       int      `toml:"page_size"`
}

// StoreConfig selects the chain store backend.
type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; when
// disabled there is no cross-process lock, rate limiter or event bus.
type RedisConfig struct {
	Enabled         bool     `toml:"enabled"`
	Addr            string   `toml:"addr"`
	Password        string   `toml:"password"`
	DB              int      `toml:"db"`
	PoolSize        int      `toml:"pool_size"`
	MaxRetries      int      `toml:"max_retries"`
	TLSEnabled      bool     `toml:"tls_enabled"`
	KeyPrefix       string   `toml:"key_prefix"`
	LockTTL         duration `toml:"lock_ttl"`
	RateLimitPerSec int      `toml:"rate_limit_per_sec"`
}

// S3Config holds S3-compatible object storage parameters for archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// WatchConfig drives the periodic snapshot loop.
type WatchConfig struct {
	Wallets     []string `toml:"wallets"`
	Interval    duration `toml:"interval"`
	Concurrency int      `toml:"concurrency"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	APIKey             string   `toml:"api_key"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			DataHost:       "https://data-api.polymarket.com",
			Timeout:        duration{15 * time.Second},
			MaxRetries:     3,
			RetryBaseDelay: duration{500 * time.Millisecond},
			PageSize:       500,
		},
		Store: StoreConfig{Driver: "postgres"},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "postgres",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		Redis: RedisConfig{
			Enabled:         false,
			Addr:            "localhost:6379",
			PoolSize:        20,
			MaxRetries:      3,
			KeyPrefix:       "polysnap:",
			LockTTL:         duration{2 * time.Minute},
			RateLimitPerSec: 5,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "polysnap-archive",
			ForcePathStyle: true,
		},
		Watch: WatchConfig{
			Interval:    duration{5 * time.Minute},
			Concurrency: 4,
		},
		Server: ServerConfig{
			Enabled:            false,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000"},
			RateLimitPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events: []string{string(domain.EventResolved), string(domain.EventClosed)},
		},
		LogLevel: "info",
	}
}

var validDrivers = map[string]bool{
	"postgres": true,
	"memory":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Polymarket
	if c.Polymarket.DataHost == "" {
		add("polymarket: data_host must not be empty")
	}
	if c.Polymarket.Timeout.Duration <= 0 {
		add("polymarket: timeout must be > 0")
	}
	if c.Polymarket.MaxRetries < 0 {
		add("polymarket: max_retries must be >= 0")
	}
	if c.Polymarket.PageSize < 1 {
		add("polymarket: page_size must be >= 1")
	}

	// Store
	if !validDrivers[strings.ToLower(c.Store.Driver)] {
		add("store: unknown driver %q (valid: postgres, memory)", c.Store.Driver)
	}
	if strings.EqualFold(c.Store.Driver, "postgres") {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			add("postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			add("redis: lock_ttl must be > 0")
		}
		if c.Redis.RateLimitPerSec < 0 {
			add("redis: rate_limit_per_sec must be >= 0")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}

	// Watch
	for _, w := range c.Watch.Wallets {
		if err := domain.ValidateWallet(strings.TrimSpace(w)); err != nil {
			add("watch: %w", err)
		}
	}
	if c.Watch.Interval.Duration <= 0 {
		add("watch: interval must be > 0")
	}
	if c.Watch.Concurrency < 1 {
		add("watch: concurrency must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimitPerMinute < 0 {
			add("server: rate_limit_per_minute must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, ev := range c.Notify.Events {
		if !domain.EventType(strings.ToUpper(ev)).Valid() {
			add("notify: unknown event type %q", ev)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}
