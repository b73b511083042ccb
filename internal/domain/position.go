package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// Outcome is the settlement state of a binary market.
type Outcome string

const (
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeYes        Outcome = "yes"
	OutcomeNo         Outcome = "no"
	OutcomeInvalid    Outcome = "invalid"
)

// Valid reports whether o is one of the four known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeUnresolved, OutcomeYes, OutcomeNo, OutcomeInvalid:
		return true
	}
	return false
}

// Resolved reports whether the market has settled.
func (o Outcome) Resolved() bool {
	return o != OutcomeUnresolved && o != ""
}

// OrUnresolved maps the zero value to OutcomeUnresolved.
func (o Outcome) OrUnresolved() Outcome {
	if o == "" {
		return OutcomeUnresolved
	}
	return o
}

// Position is one market's YES/NO holdings for a wallet at a point in time.
// It only has meaning inside a Snapshot; MarketID pairs positions across
// snapshots.
type Position struct {
	MarketID        string   `json:"marketId"`
	MarketTitle     string   `json:"marketTitle"`
	YesShares       float64  `json:"yesShares"`
	NoShares        float64  `json:"noShares"`
	YesAvgPrice     *float64 `json:"yesAvgPrice"`
	NoAvgPrice      *float64 `json:"noAvgPrice"`
	ResolvedOutcome Outcome  `json:"resolvedOutcome"`
}

// UnmarshalJSON decodes a position and defaults a missing outcome to
// unresolved.
func (p *Position) UnmarshalJSON(data []byte) error {
	type plain Position
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	v.ResolvedOutcome = v.ResolvedOutcome.OrUnresolved()
	*p = Position(v)
	return nil
}

// IsValidMarketPrice reports whether p is absent or a probability in [0, 1].
func IsValidMarketPrice(p *float64) bool {
	if p == nil {
		return true
	}
	return *p >= 0 && *p <= 1
}

// IsValidShareCount reports whether s is a usable share count.
func IsValidShareCount(s float64) bool {
	return s >= 0
}

// Validate checks the ingestion invariants of a single position.
func (p Position) Validate() error {
	switch {
	case p.MarketID == "":
		return fmt.Errorf("%w: empty market id", ErrInvalidPosition)
	case p.MarketTitle == "":
		return fmt.Errorf("%w: market %s has empty title", ErrInvalidPosition, p.MarketID)
	case math.IsNaN(p.YesShares) || !IsValidShareCount(p.YesShares):
		return fmt.Errorf("%w: market %s yes shares %v", ErrInvalidPosition, p.MarketID, p.YesShares)
	case math.IsNaN(p.NoShares) || !IsValidShareCount(p.NoShares):
		return fmt.Errorf("%w: market %s no shares %v", ErrInvalidPosition, p.MarketID, p.NoShares)
	case !IsValidMarketPrice(p.YesAvgPrice):
		return fmt.Errorf("%w: market %s yes avg price %v", ErrInvalidPosition, p.MarketID, *p.YesAvgPrice)
	case !IsValidMarketPrice(p.NoAvgPrice):
		return fmt.Errorf("%w: market %s no avg price %v", ErrInvalidPosition, p.MarketID, *p.NoAvgPrice)
	case !p.ResolvedOutcome.Valid():
		return fmt.Errorf("%w: market %s outcome %q", ErrInvalidPosition, p.MarketID, p.ResolvedOutcome)
	}
	return nil
}

// Float returns a pointer to v. Useful for building optional prices.
func Float(v float64) *float64 {
	return &v
}
