package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polysnap/internal/diff"
	"github.com/alanyoungcy/polysnap/internal/domain"
)

// Channel and stream names used on the change bus.
const (
	EventsChannel      = "wallet_events"
	eventsStreamPrefix = "wallet_events:"
	lockKeyPrefix      = "snapshot:"
)

// EventsStream names the replayable change stream of wallet.
func EventsStream(wallet string) string {
	return eventsStreamPrefix + wallet
}

// Snapshot outcomes reported to the metrics recorder.
const (
	ResultInitialized = "initialized"
	ResultAppended    = "appended"
	ResultUnchanged   = "unchanged"
	ResultError       = "error"
)

// SnapshotResult is what one TakeSnapshot call produced.
type SnapshotResult struct {
	Snapshot        domain.Snapshot      `json:"snapshot"`
	SnapshotID      string               `json:"snapshotId,omitempty"`
	Events          []domain.ChangeEvent `json:"events"`
	IsFirstSnapshot bool                 `json:"isFirstSnapshot"`
	Saved           bool                 `json:"saved"`
}

// ChangeNotifier delivers human-facing alerts for committed events.
type ChangeNotifier interface {
	NotifyChanges(ctx context.Context, wallet string, events []domain.ChangeEvent) error
}

// Recorder receives snapshot and event metrics.
type Recorder interface {
	ObserveFetch(d time.Duration, err error)
	ObserveSnapshot(result string)
	ObserveEvents(events []domain.ChangeEvent)
}

// SnapshotOptions carries the optional collaborators of SnapshotService.
// Every field may be left zero.
type SnapshotOptions struct {
	Lock     domain.LockManager
	LockTTL  time.Duration
	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Notifier ChangeNotifier
	Metrics  Recorder
	Diff     diff.Engine
}

// SnapshotService captures wallet snapshots, diffs them against the chain
// tail and persists the result.
type SnapshotService struct {
	provider domain.PositionProvider
	chain    domain.ChainStore
	events   domain.EventStore
	opts     SnapshotOptions
	logger   *slog.Logger
}

// NewSnapshotService creates a SnapshotService.
func NewSnapshotService(
	provider domain.PositionProvider,
	chain domain.ChainStore,
	events domain.EventStore,
	opts SnapshotOptions,
	logger *slog.Logger,
) *SnapshotService {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	return &SnapshotService{
		provider: provider,
		chain:    chain,
		events:   events,
		opts:     opts,
		logger:   logger.With(slog.String("component", "snapshot_service")),
	}
}

func wrap(op, wallet string, err error) error {
	return fmt.Errorf("snapshot_service: %s wallet=%s: %w", op, wallet, err)
}

func normalize(op, wallet string) (string, error) {
	normalized, err := domain.NormalizeWallet(wallet)
	if err != nil {
		return "", wrap(op, wallet, err)
	}
	return normalized, nil
}

// TakeSnapshot fetches the wallet's positions and records them. The first
// snapshot of a wallet initializes its chain; later ones are appended only
// when they differ from the tail.
func (s *SnapshotService) TakeSnapshot(ctx context.Context, wallet string) (SnapshotResult, error) {
	wallet, err := normalize("validate", wallet)
	if err != nil {
		return SnapshotResult{}, err
	}

	if s.opts.Lock != nil {
		unlock, err := s.opts.Lock.Acquire(ctx, lockKeyPrefix+wallet, s.opts.LockTTL)
		if err != nil {
			s.record(ResultError)
			return SnapshotResult{}, wrap("lock", wallet, err)
		}
		defer unlock()
	}

	res, err := s.takeSnapshot(ctx, wallet)
	if err != nil {
		s.record(ResultError)
		return SnapshotResult{}, err
	}
	s.afterSnapshot(ctx, wallet, res)
	return res, nil
}

func (s *SnapshotService) takeSnapshot(ctx context.Context, wallet string) (SnapshotResult, error) {
	start := time.Now()
	current, err := s.provider.GetWalletPositions(ctx, wallet)
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveFetch(time.Since(start), err)
	}
	if err != nil {
		return SnapshotResult{}, wrap("fetch positions", wallet, err)
	}
	current.Wallet = wallet
	if current.Positions == nil {
		current.Positions = []domain.Position{}
	}
	if err := current.Validate(); err != nil {
		return SnapshotResult{}, wrap("validate positions", wallet, err)
	}

	latest, err := s.chain.GetLatest(ctx, wallet)
	if err != nil {
		return SnapshotResult{}, wrap("get latest", wallet, err)
	}

	if latest == nil {
		id, err := s.chain.InitializeChain(ctx, current)
		if err != nil {
			return SnapshotResult{}, wrap("initialize chain", wallet, err)
		}
		return SnapshotResult{
			Snapshot:        current,
			SnapshotID:      id,
			Events:          []domain.ChangeEvent{},
			IsFirstSnapshot: true,
			Saved:           true,
		}, nil
	}

	events := s.opts.Diff.Compute(&latest.Snapshot, current)
	if len(events) == 0 {
		return SnapshotResult{
			Snapshot: current,
			Events:   events,
		}, nil
	}

	id, err := s.chain.AppendWithEvents(ctx, current, events)
	if err != nil {
		return SnapshotResult{}, wrap("append with events", wallet, err)
	}
	for i := range events {
		events[i].SnapshotID = id
	}
	return SnapshotResult{
		Snapshot:   current,
		SnapshotID: id,
		Events:     events,
		Saved:      true,
	}, nil
}

// afterSnapshot runs the best-effort side effects of a successful call.
// Failures are logged and never reach the caller.
func (s *SnapshotService) afterSnapshot(ctx context.Context, wallet string, res SnapshotResult) {
	switch {
	case res.IsFirstSnapshot:
		s.record(ResultInitialized)
	case res.Saved:
		s.record(ResultAppended)
	default:
		s.record(ResultUnchanged)
		s.logger.DebugContext(ctx, "no changes", slog.String("wallet", wallet))
		return
	}

	s.logger.InfoContext(ctx, "snapshot saved",
		slog.String("wallet", wallet),
		slog.String("snapshot_id", res.SnapshotID),
		slog.Int("positions", len(res.Snapshot.Positions)),
		slog.Int("events", len(res.Events)),
		slog.Bool("first", res.IsFirstSnapshot),
	)

	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveEvents(res.Events)
	}

	if s.opts.Audit != nil {
		detail := map[string]any{
			"wallet":      wallet,
			"snapshot_id": res.SnapshotID,
			"events":      len(res.Events),
			"first":       res.IsFirstSnapshot,
		}
		if err := s.opts.Audit.Log(ctx, "snapshot_saved", detail); err != nil {
			s.warn(ctx, "audit log failed", wallet, err)
		}
	}

	if len(res.Events) == 0 {
		return
	}

	if s.opts.Bus != nil {
		s.publish(ctx, wallet, res.Events)
	}

	if s.opts.Notifier != nil {
		if err := s.opts.Notifier.NotifyChanges(ctx, wallet, res.Events); err != nil {
			s.warn(ctx, "notify failed", wallet, err)
		}
	}
}

func (s *SnapshotService) publish(ctx context.Context, wallet string, events []domain.ChangeEvent) {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.warn(ctx, "marshal event failed", wallet, err)
			continue
		}
		if err := s.opts.Bus.Publish(ctx, EventsChannel, payload); err != nil {
			s.warn(ctx, "publish event failed", wallet, err)
		}
		if err := s.opts.Bus.StreamAppend(ctx, EventsStream(wallet), payload); err != nil {
			s.warn(ctx, "stream append failed", wallet, err)
		}
	}
}

func (s *SnapshotService) record(result string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveSnapshot(result)
	}
}

func (s *SnapshotService) warn(ctx context.Context, msg, wallet string, err error) {
	s.logger.WarnContext(ctx, msg,
		slog.String("wallet", wallet),
		slog.String("error", err.Error()),
	)
}

// History returns up to limit snapshots of the wallet, newest first.
func (s *SnapshotService) History(ctx context.Context, wallet string, limit int) ([]domain.StoredSnapshot, error) {
	wallet, err := normalize("history", wallet)
	if err != nil {
		return nil, err
	}
	out, err := s.chain.History(ctx, wallet, limit)
	if err != nil {
		return nil, wrap("history", wallet, err)
	}
	return out, nil
}

// Latest returns the chain tail of the wallet, or domain.ErrNotFound.
func (s *SnapshotService) Latest(ctx context.Context, wallet string) (*domain.StoredSnapshot, error) {
	wallet, err := normalize("latest", wallet)
	if err != nil {
		return nil, err
	}
	latest, err := s.chain.GetLatest(ctx, wallet)
	if err != nil {
		return nil, wrap("latest", wallet, err)
	}
	if latest == nil {
		return nil, wrap("latest", wallet, domain.ErrNotFound)
	}
	return latest, nil
}

// Events returns up to limit change events of the wallet, newest first.
func (s *SnapshotService) Events(ctx context.Context, wallet string, limit int) ([]domain.ChangeEvent, error) {
	wallet, err := normalize("events", wallet)
	if err != nil {
		return nil, err
	}
	out, err := s.events.EventsByWallet(ctx, wallet, limit)
	if err != nil {
		return nil, wrap("events", wallet, err)
	}
	return out, nil
}

// MarketEvents returns every change event recorded for a market across all
// wallets, newest first.
func (s *SnapshotService) MarketEvents(ctx context.Context, marketID string) ([]domain.ChangeEvent, error) {
	if marketID == "" {
		return nil, fmt.Errorf("snapshot_service: market events: %w: empty market id", domain.ErrInvalidPosition)
	}
	out, err := s.events.EventsByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("snapshot_service: market events market=%s: %w", marketID, err)
	}
	return out, nil
}

// SnapshotEvents returns the events committed together with a snapshot.
func (s *SnapshotService) SnapshotEvents(ctx context.Context, snapshotID string) ([]domain.ChangeEvent, error) {
	snap, err := s.chain.GetByID(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("snapshot_service: snapshot events id=%s: %w", snapshotID, err)
	}
	if snap == nil {
		return nil, fmt.Errorf("snapshot_service: snapshot events id=%s: %w", snapshotID, domain.ErrNotFound)
	}
	out, err := s.events.EventsBySnapshot(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("snapshot_service: snapshot events id=%s: %w", snapshotID, err)
	}
	return out, nil
}

// Verify walks the wallet's chain and reports integrity problems.
func (s *SnapshotService) Verify(ctx context.Context, wallet string) (domain.ChainReport, error) {
	wallet, err := normalize("verify", wallet)
	if err != nil {
		return domain.ChainReport{}, err
	}
	report, err := s.chain.VerifyChain(ctx, wallet)
	if err != nil {
		return domain.ChainReport{}, wrap("verify", wallet, err)
	}
	if !report.OK() {
		s.logger.WarnContext(ctx, "chain integrity problems",
			slog.String("wallet", wallet),
			slog.Any("broken", report.Broken),
		)
	}
	return report, nil
}

// IsBusy reports whether err came from another caller holding the wallet's
// snapshot lock.
func IsBusy(err error) bool {
	return errors.Is(err, domain.ErrLockHeld)
}
