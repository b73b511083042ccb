// Package app provides the top-level application lifecycle for polysnap. It
// wires the stores, caches, provider and services and dispatches the CLI
// commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/polysnap/internal/config"
)

// ErrUsage reports a malformed command line.
var ErrUsage = errors.New("usage error")

// Usage lists the supported commands.
const Usage = `usage: polysnap [-config path] <command> [args]

commands:
  snapshot <wallet>              fetch positions and record a snapshot
  watch                          snapshot watch.wallets every watch.interval
  serve                          run the HTTP API only
  history <wallet> [-limit N]    list the wallet's snapshot chain, newest first
  events <wallet> [-limit N]     list the wallet's change events
  market <marketId>              list change events of one market
  verify <wallet>                check the wallet's chain integrity
  archive <wallet>               export snapshots and events to S3 as JSONL
  audit [-limit N] [-since D]    list audit log entries, newest first
  diff <old.json> <new.json>     diff two snapshot files offline`

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	out     io.Writer
	closers []func()
}

// New creates a new App. Command output is written to out.
func New(cfg *config.Config, logger *slog.Logger, out io.Writer) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		out:    out,
	}
}

// Run dispatches args[0] as a command. Everything except diff wires the full
// dependency graph first.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("app: no command: %w", ErrUsage)
	}
	cmd, rest := strings.ToLower(args[0]), args[1:]

	if cmd == "diff" {
		return a.DiffCommand(rest)
	}
	run, ok := a.commands()[cmd]
	if !ok {
		return fmt.Errorf("app: unknown command %q: %w", args[0], ErrUsage)
	}

	a.logger.InfoContext(ctx, "starting command",
		slog.String("command", cmd),
		slog.String("store", a.cfg.Store.Driver),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return run(ctx, deps, rest)
}

type command func(ctx context.Context, deps *Dependencies, args []string) error

func (a *App) commands() map[string]command {
	return map[string]command{
		"snapshot": a.SnapshotCommand,
		"watch":    a.WatchMode,
		"serve":    a.ServeMode,
		"history":  a.HistoryCommand,
		"events":   a.EventsCommand,
		"market":   a.MarketCommand,
		"verify":   a.VerifyCommand,
		"archive":  a.ArchiveCommand,
		"audit":    a.AuditCommand,
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
