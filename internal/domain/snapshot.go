package domain

import (
	"fmt"
	"time"
)

// Snapshot is an immutable capture of every position a wallet holds at one
// instant.
type Snapshot struct {
	Wallet    string     `json:"wallet"`
	Timestamp time.Time  `json:"timestamp"`
	Positions []Position `json:"positions"`
}

// Validate checks every position and rejects duplicate market ids.
func (s Snapshot) Validate() error {
	seen := make(map[string]struct{}, len(s.Positions))
	for _, p := range s.Positions {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.MarketID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateMarket, p.MarketID)
		}
		seen[p.MarketID] = struct{}{}
	}
	return nil
}

// StoredSnapshot is a snapshot as persisted in the chain store.
// PredecessorID is nil only for the first snapshot of a wallet.
type StoredSnapshot struct {
	ID            string    `json:"id"`
	PredecessorID *string   `json:"predecessorId"`
	CreatedAt     time.Time `json:"createdAt"`
	Snapshot
}

// ChainReport describes the result of walking a wallet's chain from its tail.
type ChainReport struct {
	Wallet string   `json:"wallet"`
	Length int      `json:"length"`
	HeadID string   `json:"headId"`
	RootID string   `json:"rootId"`
	Broken []string `json:"broken,omitempty"`
}

// OK reports whether the walk found no integrity problems.
func (r ChainReport) OK() bool {
	return len(r.Broken) == 0
}
