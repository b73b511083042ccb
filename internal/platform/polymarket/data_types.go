package polymarket

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/polysnap/internal/domain"
)

// APIPosition is one outcome-token holding as returned by the data API
// /positions endpoint. A binary market appears as up to two rows sharing a
// ConditionID.
type APIPosition struct {
	ProxyWallet  string  `json:"proxyWallet"`
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	InitialValue float64 `json:"initialValue"`
	CurrentValue float64 `json:"currentValue"`
	CashPnl      float64 `json:"cashPnl"`
	CurPrice     float64 `json:"curPrice"`
	Redeemable   bool    `json:"redeemable"`
	Title        string  `json:"title"`
	Slug         string  `json:"slug"`
	Outcome      string  `json:"outcome"`
	OutcomeIndex int     `json:"outcomeIndex"`
	EndDate      string  `json:"endDate"`
}

// side reports which side of the market the token is: 0 for yes, 1 for no.
func (p APIPosition) side() int {
	switch strings.ToLower(strings.TrimSpace(p.Outcome)) {
	case "yes":
		return 0
	case "no":
		return 1
	}
	return p.OutcomeIndex
}

type marketTokens struct {
	conditionID string
	title       string
	yes         *APIPosition
	no          *APIPosition
}

// groupByMarket folds token rows into one entry per condition id, keeping
// the order in which markets first appear.
func groupByMarket(rows []APIPosition) ([]*marketTokens, error) {
	index := make(map[string]*marketTokens)
	var order []*marketTokens

	for i := range rows {
		row := rows[i]
		if strings.TrimSpace(row.ConditionID) == "" {
			return nil, fmt.Errorf("%w: token %s has no condition id", domain.ErrInvalidPosition, row.Asset)
		}
		m, ok := index[row.ConditionID]
		if !ok {
			m = &marketTokens{conditionID: row.ConditionID}
			index[row.ConditionID] = m
			order = append(order, m)
		}
		if m.title == "" {
			m.title = firstNonEmpty(row.Title, row.Slug)
		}

		switch row.side() {
		case 0:
			if m.yes != nil {
				return nil, fmt.Errorf("%w: market %s has two yes tokens", domain.ErrInvalidPosition, row.ConditionID)
			}
			m.yes = &row
		case 1:
			if m.no != nil {
				return nil, fmt.Errorf("%w: market %s has two no tokens", domain.ErrInvalidPosition, row.ConditionID)
			}
			m.no = &row
		default:
			return nil, fmt.Errorf("%w: market %s outcome index %d", domain.ErrInvalidPosition, row.ConditionID, row.OutcomeIndex)
		}
	}
	return order, nil
}

// ToDomainPosition converts the grouped tokens into a validated position.
func (m *marketTokens) ToDomainPosition() (domain.Position, error) {
	pos := domain.Position{
		MarketID:        m.conditionID,
		MarketTitle:     firstNonEmpty(m.title, m.conditionID),
		ResolvedOutcome: m.outcome(),
	}
	if m.yes != nil {
		pos.YesShares = m.yes.Size
		pos.YesAvgPrice = domain.Float(m.yes.AvgPrice)
	}
	if m.no != nil {
		pos.NoShares = m.no.Size
		pos.NoAvgPrice = domain.Float(m.no.AvgPrice)
	}
	if err := pos.Validate(); err != nil {
		return domain.Position{}, err
	}
	return pos, nil
}

// outcome derives the settlement from redeemable tokens. Settled tokens trade
// at exactly 1 or 0, or 0.5 each when the market resolved invalid.
func (m *marketTokens) outcome() domain.Outcome {
	if m.yes != nil && m.yes.Redeemable {
		return settle(m.yes.CurPrice, domain.OutcomeYes, domain.OutcomeNo)
	}
	if m.no != nil && m.no.Redeemable {
		return settle(m.no.CurPrice, domain.OutcomeNo, domain.OutcomeYes)
	}
	return domain.OutcomeUnresolved
}

func settle(price float64, won, lost domain.Outcome) domain.Outcome {
	switch price {
	case 1:
		return won
	case 0:
		return lost
	case 0.5:
		return domain.OutcomeInvalid
	}
	return domain.OutcomeUnresolved
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
