package domain

import "time"

// EventType classifies a ChangeEvent.
type EventType string

const (
	EventOpened   EventType = "OPENED"
	EventUpdated  EventType = "UPDATED"
	EventClosed   EventType = "CLOSED"
	EventResolved EventType = "RESOLVED"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventOpened, EventUpdated, EventClosed, EventResolved:
		return true
	}
	return false
}

// ChangeEvent is one detected transition of a single market between two
// adjacent snapshots. It carries the full before and after state.
//
// SnapshotID is empty when the diff engine creates the event. The chain store
// sets it when the event is committed.
type ChangeEvent struct {
	ID          string    `json:"id"`
	Wallet      string    `json:"wallet"`
	MarketID    string    `json:"marketId"`
	MarketTitle string    `json:"marketTitle"`
	Type        EventType `json:"eventType"`
	SnapshotID  string    `json:"snapshotId,omitempty"`

	PrevYesShares   *float64 `json:"prevYesShares"`
	PrevNoShares    *float64 `json:"prevNoShares"`
	PrevYesAvgPrice *float64 `json:"prevYesAvgPrice"`
	PrevNoAvgPrice  *float64 `json:"prevNoAvgPrice"`

	CurrYesShares   *float64 `json:"currYesShares"`
	CurrNoShares    *float64 `json:"currNoShares"`
	CurrYesAvgPrice *float64 `json:"currYesAvgPrice"`
	CurrNoAvgPrice  *float64 `json:"currNoAvgPrice"`

	ResolvedOutcome Outcome  `json:"resolvedOutcome"`
	PnL             *float64 `json:"pnl,omitempty"`

	// SnapshotTimestamp is populated on reads from the owning snapshot.
	SnapshotTimestamp time.Time `json:"snapshotTimestamp,omitzero"`
}
