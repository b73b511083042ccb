package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/polysnap/internal/blob/s3"
	"github.com/alanyoungcy/polysnap/internal/cache/redis"
	"github.com/alanyoungcy/polysnap/internal/config"
	"github.com/alanyoungcy/polysnap/internal/domain"
	"github.com/alanyoungcy/polysnap/internal/metrics"
	"github.com/alanyoungcy/polysnap/internal/notify"
	"github.com/alanyoungcy/polysnap/internal/platform/polymarket"
	"github.com/alanyoungcy/polysnap/internal/server/handler"
	"github.com/alanyoungcy/polysnap/internal/service"
	"github.com/alanyoungcy/polysnap/internal/store/memory"
	"github.com/alanyoungcy/polysnap/internal/store/postgres"
)

// Dependencies bundles everything the commands need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Chain  domain.ChainStore
	Events domain.EventStore
	Audit  domain.AuditStore

	Provider domain.PositionProvider

	// Optional redis-backed collaborators; nil when redis is disabled.
	Lock    domain.LockManager
	Limiter domain.RateLimiter
	Bus     domain.SignalBus

	// Archiver is nil unless s3 is enabled.
	Archiver domain.Archiver

	Metrics   *metrics.Metrics
	Snapshots *service.SnapshotService

	// HealthChecks feed the /api/health endpoint.
	HealthChecks map[string]handler.Pinger
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{HealthChecks: map[string]handler.Pinger{}}

	// --- Chain store ---
	switch strings.ToLower(cfg.Store.Driver) {
	case "memory":
		mem := memory.New()
		deps.Chain, deps.Events, deps.Audit = mem, mem, mem
		logger.WarnContext(ctx, "using in-memory store, snapshots are lost on exit")
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Chain = postgres.NewChainStore(pool)
		deps.Events = postgres.NewEventStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pool
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Lock = redis.NewLockManager(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Chain, deps.Events, deps.Audit)
		deps.HealthChecks["s3"] = pingFunc(s3Client.Health)
	}

	// --- Provider ---
	provider := polymarket.NewDataClient(polymarket.DataClientConfig{
		BaseURL:        cfg.Polymarket.DataHost,
		Timeout:        cfg.Polymarket.Timeout.Duration,
		MaxRetries:     cfg.Polymarket.MaxRetries,
		RetryBaseDelay: cfg.Polymarket.RetryBaseDelay.Duration,
		PageSize:       cfg.Polymarket.PageSize,
	}, logger)
	if deps.Limiter != nil && cfg.Redis.RateLimitPerSec > 0 {
		provider = provider.WithRateLimiter(deps.Limiter, cfg.Redis.RateLimitPerSec, time.Second)
	}
	deps.Provider = provider

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.Metrics = metrics.New(reg)

	// --- Snapshot service ---
	opts := service.SnapshotOptions{
		LockTTL: cfg.Redis.LockTTL.Duration,
		Audit:   deps.Audit,
		Metrics: deps.Metrics,
	}
	if deps.Lock != nil {
		opts.Lock = deps.Lock
	}
	if deps.Bus != nil {
		opts.Bus = deps.Bus
	}
	if senders := buildSenders(cfg.Notify); len(senders) > 0 {
		opts.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}
	deps.Snapshots = service.NewSnapshotService(deps.Provider, deps.Chain, deps.Events, opts, logger)

	return deps, cleanup, nil
}

func buildSenders(cfg config.NotifyConfig) []notify.Sender {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return senders
}
