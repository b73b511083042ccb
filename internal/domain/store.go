package domain

import (
	"context"
	"time"
)

// ChainStore persists snapshots as a per-wallet singly-linked chain.
//
// InitializeChain and AppendWithEvents are deliberately separate: the first
// record of a wallet never carries events and every later record always does.
type ChainStore interface {
	// InitializeChain stores the first snapshot of snap.Wallet and returns
	// its id. Fails with ErrDuplicateInitialization if the wallet already
	// has a snapshot.
	InitializeChain(ctx context.Context, snap Snapshot) (string, error)

	// AppendWithEvents stores snap linked to the wallet's current tail and
	// all events in one transaction. Fails with ErrEmptyEventSet when events
	// is empty and ErrNoPredecessor when the wallet has no snapshot.
	AppendWithEvents(ctx context.Context, snap Snapshot, events []ChangeEvent) (string, error)

	// GetLatest returns the chain tail, or nil when the wallet has none.
	GetLatest(ctx context.Context, wallet string) (*StoredSnapshot, error)

	// GetByID returns a snapshot by id, or nil when it does not exist.
	GetByID(ctx context.Context, id string) (*StoredSnapshot, error)

	// History walks predecessor links from the tail, newest first. A
	// non-positive limit returns the whole chain.
	History(ctx context.Context, wallet string, limit int) ([]StoredSnapshot, error)

	// VerifyChain walks the chain and reports integrity problems.
	VerifyChain(ctx context.Context, wallet string) (ChainReport, error)
}

// EventStore reads committed change events, newest first by the timestamp of
// the owning snapshot.
type EventStore interface {
	EventsByWallet(ctx context.Context, wallet string, limit int) ([]ChangeEvent, error)
	EventsByMarket(ctx context.Context, marketID string) ([]ChangeEvent, error)
	EventsBySnapshot(ctx context.Context, snapshotID string) ([]ChangeEvent, error)
}

// PositionProvider supplies the current positions of a wallet.
type PositionProvider interface {
	GetWalletPositions(ctx context.Context, wallet string) (Snapshot, error)
}

// ListOpts provides time filtering for list queries.
type ListOpts struct {
	Limit int
	Since *time.Time
	Until *time.Time
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
