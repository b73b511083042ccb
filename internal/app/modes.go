package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polysnap/internal/diff"
	"github.com/alanyoungcy/polysnap/internal/domain"
	"github.com/alanyoungcy/polysnap/internal/render"
	"github.com/alanyoungcy/polysnap/internal/server"
	"github.com/alanyoungcy/polysnap/internal/server/handler"
	"github.com/alanyoungcy/polysnap/internal/service"
)

// ErrChainBroken is returned by verify when the chain walk found problems.
var ErrChainBroken = errors.New("chain integrity check failed")

const defaultEventLimit = 50

// SnapshotCommand takes one snapshot of a wallet and prints the result.
func (a *App) SnapshotCommand(ctx context.Context, deps *Dependencies, args []string) error {
	wallet, err := oneArg("snapshot", "wallet", args)
	if err != nil {
		return err
	}
	res, err := deps.Snapshots.TakeSnapshot(ctx, wallet)
	if err != nil {
		return err
	}
	render.SnapshotResult(a.out, res)
	return nil
}

// HistoryCommand prints the wallet's chain, newest first.
func (a *App) HistoryCommand(ctx context.Context, deps *Dependencies, args []string) error {
	wallet, limit, err := walletAndLimit("history", 0, args)
	if err != nil {
		return err
	}
	snaps, err := deps.Snapshots.History(ctx, wallet, limit)
	if err != nil {
		return err
	}
	render.History(a.out, wallet, snaps)
	return nil
}

// EventsCommand prints the wallet's change events, newest first.
func (a *App) EventsCommand(ctx context.Context, deps *Dependencies, args []string) error {
	wallet, limit, err := walletAndLimit("events", defaultEventLimit, args)
	if err != nil {
		return err
	}
	events, err := deps.Snapshots.Events(ctx, wallet, limit)
	if err != nil {
		return err
	}
	render.Events(a.out, events)
	return nil
}

// MarketCommand prints every change event of one market across wallets.
func (a *App) MarketCommand(ctx context.Context, deps *Dependencies, args []string) error {
	marketID, err := oneArg("market", "marketId", args)
	if err != nil {
		return err
	}
	events, err := deps.Snapshots.MarketEvents(ctx, marketID)
	if err != nil {
		return err
	}
	render.Events(a.out, events)
	return nil
}

// VerifyCommand walks the wallet's chain and fails when it is broken.
func (a *App) VerifyCommand(ctx context.Context, deps *Dependencies, args []string) error {
	wallet, err := oneArg("verify", "wallet", args)
	if err != nil {
		return err
	}
	report, err := deps.Snapshots.Verify(ctx, wallet)
	if err != nil {
		return err
	}
	render.ChainReport(a.out, report)
	if !report.OK() {
		return fmt.Errorf("verify %s: %w", report.Wallet, ErrChainBroken)
	}
	return nil
}

// ArchiveCommand exports a wallet's chain and events to object storage.
func (a *App) ArchiveCommand(ctx context.Context, deps *Dependencies, args []string) error {
	wallet, err := oneArg("archive", "wallet", args)
	if err != nil {
		return err
	}
	if deps.Archiver == nil {
		return errors.New("archive: s3 is not enabled (set s3.enabled)")
	}
	normalized, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	res, err := deps.Archiver.ArchiveWallet(ctx, normalized)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	render.Archive(a.out, res)
	return nil
}

// AuditCommand prints the audit log, newest first. -since bounds it to the
// trailing duration.
func (a *App) AuditCommand(ctx context.Context, deps *Dependencies, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", defaultEventLimit, "maximum number of rows")
	since := fs.Duration("since", 0, "only entries newer than this, e.g. 24h")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("audit: %v: %w", err, ErrUsage)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("audit: unexpected arguments %v: %w", fs.Args(), ErrUsage)
	}

	opts := domain.ListOpts{Limit: *limit}
	if *since > 0 {
		from := time.Now().Add(-*since)
		opts.Since = &from
	}
	entries, err := deps.Audit.List(ctx, opts)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	render.Audit(a.out, entries)
	return nil
}

// DiffCommand diffs two snapshot JSON files without touching any store.
func (a *App) DiffCommand(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("diff: expected <old.json> <new.json>: %w", ErrUsage)
	}
	prev, err := readSnapshot(args[0])
	if err != nil {
		return fmt.Errorf("diff: %w", err)
	}
	curr, err := readSnapshot(args[1])
	if err != nil {
		return fmt.Errorf("diff: %w", err)
	}
	render.Events(a.out, diff.ComputeDiff(&prev, curr))
	return nil
}

func readSnapshot(path string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	raw, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := snap.Validate(); err != nil {
		return snap, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

// WatchMode snapshots every configured wallet each watch.interval until ctx
// is cancelled, optionally serving the HTTP API alongside.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies, _ []string) error {
	wallets := a.cfg.Watch.Wallets
	if len(wallets) == 0 {
		return errors.New("watch: watch.wallets is empty")
	}
	interval := a.cfg.Watch.Interval.Duration

	a.logger.InfoContext(ctx, "starting watch mode",
		slog.Int("wallets", len(wallets)),
		slog.Duration("interval", interval),
		slog.Int("concurrency", a.cfg.Watch.Concurrency),
	)

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	g.Go(func() error {
		a.runWatchCycle(ctx, deps.Snapshots, deps.Metrics, wallets)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				a.runWatchCycle(ctx, deps.Snapshots, deps.Metrics, wallets)
			}
		}
	})

	return g.Wait()
}

type snapshotTaker interface {
	TakeSnapshot(ctx context.Context, wallet string) (service.SnapshotResult, error)
}

type cycleRecorder interface {
	ObserveWatchCycle(failed []string)
}

// runWatchCycle snapshots wallets with bounded concurrency. A failing wallet
// never stops the others. It returns the wallets that failed.
func (a *App) runWatchCycle(ctx context.Context, svc snapshotTaker, rec cycleRecorder, wallets []string) []string {
	limit := a.cfg.Watch.Concurrency
	if limit < 1 {
		limit = 1
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []string
	)
	g.SetLimit(limit)

	for _, wallet := range wallets {
		g.Go(func() error {
			res, err := svc.TakeSnapshot(ctx, wallet)
			switch {
			case err == nil:
				a.logger.InfoContext(ctx, "watch: snapshot taken",
					slog.String("wallet", wallet),
					slog.Bool("saved", res.Saved),
					slog.Int("events", len(res.Events)),
				)
			case ctx.Err() != nil:
			case service.IsBusy(err):
				a.logger.DebugContext(ctx, "watch: wallet busy, skipping", slog.String("wallet", wallet))
			default:
				a.logger.WarnContext(ctx, "watch: snapshot failed",
					slog.String("wallet", wallet),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				failed = append(failed, wallet)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if rec != nil {
		rec.ObserveWatchCycle(failed)
	}
	return failed
}

// ServeMode runs only the HTTP API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies, _ []string) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var stream handler.StreamReader
	if deps.Bus != nil {
		stream = deps.Bus
	}
	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Wallets: handler.NewWalletHandler(deps.Snapshots, stream, a.logger),
	}, server.Options{
		Metrics: deps.Metrics,
		Limiter: deps.Limiter,
	}, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func oneArg(cmd, name string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s: expected <%s>: %w", cmd, name, ErrUsage)
	}
	return args[0], nil
}

// walletAndLimit accepts -limit before or after the wallet argument.
func walletAndLimit(cmd string, defaultLimit int, args []string) (string, int, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", defaultLimit, "maximum number of rows")

	if err := fs.Parse(args); err != nil {
		return "", 0, fmt.Errorf("%s: %v: %w", cmd, err, ErrUsage)
	}
	if fs.NArg() == 0 {
		return "", 0, fmt.Errorf("%s: expected <wallet>: %w", cmd, ErrUsage)
	}
	wallet := fs.Arg(0)
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return "", 0, fmt.Errorf("%s: %v: %w", cmd, err, ErrUsage)
	}
	if fs.NArg() > 0 {
		return "", 0, fmt.Errorf("%s: unexpected arguments %v: %w", cmd, fs.Args(), ErrUsage)
	}
	return wallet, *limit, nil
}
