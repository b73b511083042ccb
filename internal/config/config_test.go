package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polysnap.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[store]
driver = "memory"

[polymarket]
timeout = "3s"
max_retries = 5

[watch]
wallets = ["0x56687bf447db6ffa42ffe2204a05edaa20f55839"]
interval = "30s"
concurrency = 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 3*time.Second, cfg.Polymarket.Timeout.Duration)
	assert.Equal(t, 5, cfg.Polymarket.MaxRetries)
	assert.Equal(t, "https://data-api.polymarket.com", cfg.Polymarket.DataHost)
	assert.Equal(t, 30*time.Second, cfg.Watch.Interval.Duration)
	assert.Len(t, cfg.Watch.Wallets, 1)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
}

func TestLoadBadFile(t *testing.T) {
	_, err := Load(writeConfig(t, "log_level = "))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POLYSNAP_STORE_DRIVER", "memory")
	t.Setenv("POLYSNAP_REDIS_ENABLED", "true")
	t.Setenv("POLYSNAP_REDIS_LOCK_TTL", "45s")
	t.Setenv("POLYSNAP_WATCH_WALLETS", " 0x56687bf447db6ffa42ffe2204a05edaa20f55839 , ,0x0000000000000000000000000000000000000001")
	t.Setenv("POLYSNAP_SERVER_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 45*time.Second, cfg.Redis.LockTTL.Duration)
	assert.Equal(t, []string{
		"0x56687bf447db6ffa42ffe2204a05edaa20f55839",
		"0x0000000000000000000000000000000000000001",
	}, cfg.Watch.Wallets)
	assert.Equal(t, 8000, cfg.Server.Port, "unparseable values are ignored")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Store.Driver = "sqlite"
	cfg.Watch.Wallets = []string{"nope"}
	cfg.Watch.Concurrency = 0
	cfg.Notify.TelegramToken = "tok"
	cfg.Notify.Events = []string{"resolved", "EXPLODED"}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, `store: unknown driver "sqlite"`)
	assert.Contains(t, msg, "watch: invalid wallet")
	assert.Contains(t, msg, "watch: concurrency must be >= 1")
	assert.Contains(t, msg, "telegram_chat_id must be set together")
	assert.Contains(t, msg, `unknown event type "EXPLODED"`)
	assert.NotContains(t, msg, `"resolved"`)
}

func TestValidatePostgresOnlyWhenSelected(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Host = ""
	require.Error(t, cfg.Validate())

	cfg.Store.Driver = "memory"
	require.NoError(t, cfg.Validate())

	cfg.Store.Driver = "postgres"
	cfg.Postgres.DSN = "postgres://u:p@db:5432/snap"
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "s3cret"
	cfg.Server.APIKey = "key"
	cfg.Watch.Wallets = []string{"0x56687bf447db6ffa42ffe2204a05edaa20f55839"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Redis.Password)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)

	out.Watch.Wallets[0] = "changed"
	assert.Equal(t, "0x56687bf447db6ffa42ffe2204a05edaa20f55839", cfg.Watch.Wallets[0])
}
