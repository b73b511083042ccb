// Package memory implements the chain and event stores with in-memory maps.
// Used for tests and for running without a database; nothing is persisted.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polysnap/internal/domain"
)

type snapshotRow struct {
	stored domain.StoredSnapshot
	seq    int64
}

// Store implements domain.ChainStore, domain.EventStore and
// domain.AuditStore. All writes stage their rows first and commit under a
// single lock, so readers never see a partial append.
type Store struct {
	mu        sync.RWMutex
	seq       int64
	snapshots map[string]*snapshotRow
	tails     map[string]string // wallet -> tail snapshot id
	events    []domain.ChangeEvent
	audit     []domain.AuditEntry

	now func() time.Time

	// failAppend, when set, is called after the snapshot row has been staged
	// and before events are staged. A non-nil return aborts the append.
	failAppend func(events []domain.ChangeEvent) error
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		snapshots: make(map[string]*snapshotRow),
		tails:     make(map[string]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// FailAppendWith installs a hook that can abort AppendWithEvents mid-write.
// Passing nil removes it.
func (s *Store) FailAppendWith(fn func(events []domain.ChangeEvent) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAppend = fn
}

func (s *Store) hasWallet(wallet string) bool {
	_, ok := s.tails[wallet]
	return ok
}

func (s *Store) stage(snap domain.Snapshot, predecessor *string) *snapshotRow {
	s.seq++
	return &snapshotRow{
		seq: s.seq,
		stored: domain.StoredSnapshot{
			ID:            uuid.NewString(),
			PredecessorID: predecessor,
			CreatedAt:     s.now(),
			Snapshot:      cloneSnapshot(snap),
		},
	}
}

// InitializeChain implements domain.ChainStore.
func (s *Store) InitializeChain(_ context.Context, snap domain.Snapshot) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasWallet(snap.Wallet) {
		return "", &domain.ChainError{Op: "initialize chain", Wallet: snap.Wallet, Err: domain.ErrDuplicateInitialization}
	}

	row := s.stage(snap, nil)
	s.snapshots[row.stored.ID] = row
	s.tails[snap.Wallet] = row.stored.ID
	return row.stored.ID, nil
}

// AppendWithEvents implements domain.ChainStore.
func (s *Store) AppendWithEvents(_ context.Context, snap domain.Snapshot, events []domain.ChangeEvent) (string, error) {
	if len(events) == 0 {
		return "", &domain.ChainError{Op: "append with events", Wallet: snap.Wallet, Err: domain.ErrEmptyEventSet}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tail, ok := s.tails[snap.Wallet]
	if !ok {
		return "", &domain.ChainError{Op: "append with events", Wallet: snap.Wallet, Err: domain.ErrNoPredecessor}
	}

	pred := tail
	row := s.stage(snap, &pred)

	if s.failAppend != nil {
		if err := s.failAppend(events); err != nil {
			return "", &domain.ChainError{Op: "append with events", Wallet: snap.Wallet, Err: err}
		}
	}

	seen := make(map[string]bool, len(s.events)+len(events))
	for _, ev := range s.events {
		seen[ev.ID] = true
	}

	staged := make([]domain.ChangeEvent, 0, len(events))
	for _, ev := range events {
		if ev.ID != "" && seen[ev.ID] {
			return "", &domain.ChainError{
				Op:     "append with events",
				Wallet: snap.Wallet,
				Err:    fmt.Errorf("%w: duplicate event id %s", domain.ErrChainConflict, ev.ID),
			}
		}
		seen[ev.ID] = true
		if !ev.Type.Valid() {
			return "", &domain.ChainError{
				Op:     "append with events",
				Wallet: snap.Wallet,
				Err:    fmt.Errorf("memory: event %s has invalid type %q", ev.ID, ev.Type),
			}
		}
		ev.SnapshotID = row.stored.ID
		staged = append(staged, ev)
	}

	s.snapshots[row.stored.ID] = row
	s.tails[snap.Wallet] = row.stored.ID
	s.events = append(s.events, staged...)
	return row.stored.ID, nil
}

// GetLatest implements domain.ChainStore.
func (s *Store) GetLatest(_ context.Context, wallet string) (*domain.StoredSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tails[wallet]
	if !ok {
		return nil, nil
	}
	out := cloneStored(s.snapshots[id].stored)
	return &out, nil
}

// GetByID implements domain.ChainStore.
func (s *Store) GetByID(_ context.Context, id string) (*domain.StoredSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.snapshots[id]
	if !ok {
		return nil, nil
	}
	out := cloneStored(row.stored)
	return &out, nil
}

// History implements domain.ChainStore.
func (s *Store) History(_ context.Context, wallet string, limit int) ([]domain.StoredSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.StoredSnapshot
	id, ok := s.tails[wallet]
	for ok {
		row := s.snapshots[id]
		out = append(out, cloneStored(row.stored))
		if limit > 0 && len(out) >= limit {
			break
		}
		if row.stored.PredecessorID == nil {
			break
		}
		id = *row.stored.PredecessorID
		_, ok = s.snapshots[id]
	}
	return out, nil
}

// VerifyChain implements domain.ChainStore.
func (s *Store) VerifyChain(_ context.Context, wallet string) (domain.ChainReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	preds := make(map[string]*string)
	for id, row := range s.snapshots {
		if row.stored.Wallet == wallet {
			preds[id] = row.stored.PredecessorID
		}
	}
	return domain.VerifyLinks(wallet, s.tails[wallet], preds), nil
}

// EventsByWallet implements domain.EventStore.
func (s *Store) EventsByWallet(_ context.Context, wallet string, limit int) ([]domain.ChangeEvent, error) {
	out := s.selectEvents(func(ev domain.ChangeEvent) bool { return ev.Wallet == wallet })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EventsByMarket implements domain.EventStore.
func (s *Store) EventsByMarket(_ context.Context, marketID string) ([]domain.ChangeEvent, error) {
	return s.selectEvents(func(ev domain.ChangeEvent) bool { return ev.MarketID == marketID }), nil
}

// EventsBySnapshot implements domain.EventStore.
func (s *Store) EventsBySnapshot(_ context.Context, snapshotID string) ([]domain.ChangeEvent, error) {
	return s.selectEvents(func(ev domain.ChangeEvent) bool { return ev.SnapshotID == snapshotID }), nil
}

// selectEvents returns matching events newest first by owning snapshot
// timestamp, then by commit order.
func (s *Store) selectEvents(match func(domain.ChangeEvent) bool) []domain.ChangeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type ranked struct {
		ev  domain.ChangeEvent
		seq int64
		pos int
	}
	var rows []ranked
	for i, ev := range s.events {
		if !match(ev) {
			continue
		}
		owner := s.snapshots[ev.SnapshotID]
		ev.SnapshotTimestamp = owner.stored.Timestamp
		rows = append(rows, ranked{ev: ev, seq: owner.seq, pos: i})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		ti, tj := rows[i].ev.SnapshotTimestamp, rows[j].ev.SnapshotTimestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		if rows[i].seq != rows[j].seq {
			return rows[i].seq > rows[j].seq
		}
		return rows[i].pos < rows[j].pos
	})

	out := make([]domain.ChangeEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ev)
	}
	return out
}

// Log implements domain.AuditStore.
func (s *Store) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, domain.AuditEntry{
		ID:        int64(len(s.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now(),
	})
	return nil
}

// List implements domain.AuditStore.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func cloneSnapshot(s domain.Snapshot) domain.Snapshot {
	out := s
	out.Positions = make([]domain.Position, len(s.Positions))
	for i, p := range s.Positions {
		if p.YesAvgPrice != nil {
			p.YesAvgPrice = domain.Float(*p.YesAvgPrice)
		}
		if p.NoAvgPrice != nil {
			p.NoAvgPrice = domain.Float(*p.NoAvgPrice)
		}
		p.ResolvedOutcome = p.ResolvedOutcome.OrUnresolved()
		out.Positions[i] = p
	}
	return out
}

func cloneStored(s domain.StoredSnapshot) domain.StoredSnapshot {
	out := s
	if s.PredecessorID != nil {
		pred := *s.PredecessorID
		out.PredecessorID = &pred
	}
	out.Snapshot = cloneSnapshot(s.Snapshot)
	return out
}

// Compile-time interface checks.
var (
	_ domain.ChainStore = (*Store)(nil)
	_ domain.EventStore = (*Store)(nil)
	_ domain.AuditStore = (*Store)(nil)
)
