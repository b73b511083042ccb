package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYSNAP_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYSNAP_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.DataHost, "POLYSNAP_POLYMARKET_DATA_HOST")
	setDuration(&cfg.Polymarket.Timeout, "POLYSNAP_POLYMARKET_TIMEOUT")
	setInt(&cfg.Polymarket.MaxRetries, "POLYSNAP_POLYMARKET_MAX_RETRIES")
	setDuration(&cfg.Polymarket.RetryBaseDelay, "POLYSNAP_POLYMARKET_RETRY_BASE_DELAY")
	setInt(&cfg.Polymarket.PageSize, "POLYSNAP_POLYMARKET_PAGE_SIZE")

	// ── Store ──
	setStr(&cfg.Store.Driver, "POLYSNAP_STORE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYSNAP_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "POLYSNAP_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYSNAP_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYSNAP_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYSNAP_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYSNAP_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYSNAP_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYSNAP_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYSNAP_POSTGRES_POOL_MIN_CONNS")
	setDuration(&cfg.Postgres.ConnectTimeout, "POLYSNAP_POSTGRES_CONNECT_TIMEOUT")
	setBool(&cfg.Postgres.RunMigrations, "POLYSNAP_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYSNAP_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYSNAP_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYSNAP_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYSNAP_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYSNAP_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYSNAP_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYSNAP_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "POLYSNAP_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.LockTTL, "POLYSNAP_REDIS_LOCK_TTL")
	setInt(&cfg.Redis.RateLimitPerSec, "POLYSNAP_REDIS_RATE_LIMIT_PER_SEC")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYSNAP_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYSNAP_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYSNAP_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYSNAP_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYSNAP_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYSNAP_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYSNAP_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYSNAP_S3_FORCE_PATH_STYLE")

	// ── Watch ──
	setStringSlice(&cfg.Watch.Wallets, "POLYSNAP_WATCH_WALLETS")
	setDuration(&cfg.Watch.Interval, "POLYSNAP_WATCH_INTERVAL")
	setInt(&cfg.Watch.Concurrency, "POLYSNAP_WATCH_CONCURRENCY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYSNAP_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYSNAP_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYSNAP_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLYSNAP_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "POLYSNAP_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYSNAP_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYSNAP_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYSNAP_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYSNAP_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "POLYSNAP_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
