// Package diff compares two snapshots of a wallet and produces the change
// events between them. Everything here is pure: no I/O, and the only source of
// non-determinism is event id generation.
package diff

import (
	"github.com/google/uuid"

	"github.com/alanyoungcy/polysnap/internal/domain"
)

// IDFunc generates change event identifiers.
type IDFunc func() string

// Engine computes change events. The zero value uses random UUIDs.
type Engine struct {
	NewID IDFunc
}

var defaultEngine Engine

// ComputeDiff returns the change events between previous and current using
// random UUID event ids. A nil previous establishes a baseline and yields no
// events.
func ComputeDiff(previous *domain.Snapshot, current domain.Snapshot) []domain.ChangeEvent {
	return defaultEngine.Compute(previous, current)
}

func (e Engine) id() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

// Compute returns the change events between previous and current.
//
// Events for markets present in current come first, in current's order, with
// UPDATED before RESOLVED for the same market. CLOSED events for markets only
// present in previous follow, in previous's order.
func (e Engine) Compute(previous *domain.Snapshot, current domain.Snapshot) []domain.ChangeEvent {
	if previous == nil {
		return []domain.ChangeEvent{}
	}

	prevByMarket := make(map[string]domain.Position, len(previous.Positions))
	for _, p := range previous.Positions {
		prevByMarket[p.MarketID] = p
	}
	currByMarket := make(map[string]struct{}, len(current.Positions))
	for _, p := range current.Positions {
		currByMarket[p.MarketID] = struct{}{}
	}

	events := []domain.ChangeEvent{}

	for _, curr := range current.Positions {
		prev, existed := prevByMarket[curr.MarketID]
		if !existed {
			events = append(events, e.opened(current.Wallet, curr))
			continue
		}

		if positionChanged(prev, curr) {
			events = append(events, e.updated(current.Wallet, prev, curr))
		}

		if prev.ResolvedOutcome.OrUnresolved() == domain.OutcomeUnresolved && curr.ResolvedOutcome.Resolved() {
			events = append(events, e.resolved(current.Wallet, prev, curr))
		}
	}

	for _, prev := range previous.Positions {
		if _, still := currByMarket[prev.MarketID]; still {
			continue
		}
		events = append(events, e.closed(current.Wallet, prev))
	}

	return events
}

// positionChanged compares the four share/price fields with exact equality.
// No tolerance is applied.
func positionChanged(prev, curr domain.Position) bool {
	return prev.YesShares != curr.YesShares ||
		prev.NoShares != curr.NoShares ||
		!samePrice(prev.YesAvgPrice, curr.YesAvgPrice) ||
		!samePrice(prev.NoAvgPrice, curr.NoAvgPrice)
}

func samePrice(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (e Engine) base(wallet string, typ domain.EventType, p domain.Position) domain.ChangeEvent {
	return domain.ChangeEvent{
		ID:          e.id(),
		Wallet:      wallet,
		MarketID:    p.MarketID,
		MarketTitle: p.MarketTitle,
		Type:        typ,
	}
}

func setBefore(ev *domain.ChangeEvent, p domain.Position) {
	ev.PrevYesShares = domain.Float(p.YesShares)
	ev.PrevNoShares = domain.Float(p.NoShares)
	ev.PrevYesAvgPrice = copyPrice(p.YesAvgPrice)
	ev.PrevNoAvgPrice = copyPrice(p.NoAvgPrice)
}

func setAfter(ev *domain.ChangeEvent, p domain.Position) {
	ev.CurrYesShares = domain.Float(p.YesShares)
	ev.CurrNoShares = domain.Float(p.NoShares)
	ev.CurrYesAvgPrice = copyPrice(p.YesAvgPrice)
	ev.CurrNoAvgPrice = copyPrice(p.NoAvgPrice)
}

// copyPrice detaches the event from the snapshot's pointers.
func copyPrice(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return domain.Float(*p)
}

func (e Engine) opened(wallet string, curr domain.Position) domain.ChangeEvent {
	ev := e.base(wallet, domain.EventOpened, curr)
	setAfter(&ev, curr)
	ev.ResolvedOutcome = curr.ResolvedOutcome.OrUnresolved()
	return ev
}

func (e Engine) updated(wallet string, prev, curr domain.Position) domain.ChangeEvent {
	ev := e.base(wallet, domain.EventUpdated, curr)
	setBefore(&ev, prev)
	setAfter(&ev, curr)
	ev.ResolvedOutcome = curr.ResolvedOutcome.OrUnresolved()
	return ev
}

func (e Engine) resolved(wallet string, prev, curr domain.Position) domain.ChangeEvent {
	ev := e.base(wallet, domain.EventResolved, curr)
	setBefore(&ev, prev)
	setAfter(&ev, curr)
	ev.ResolvedOutcome = curr.ResolvedOutcome
	ev.PnL = domain.Float(CalculatePnL(curr, curr.ResolvedOutcome))
	return ev
}

func (e Engine) closed(wallet string, prev domain.Position) domain.ChangeEvent {
	ev := e.base(wallet, domain.EventClosed, prev)
	setBefore(&ev, prev)
	ev.ResolvedOutcome = prev.ResolvedOutcome.OrUnresolved()
	return ev
}
