package diff

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polysnap/internal/domain"
)

var one = decimal.NewFromInt(1)

// CalculatePnL returns the realised profit or loss of p when its market
// settles to outcome. Each winning share pays 1 and each losing share pays 0;
// a missing average price counts as zero cost basis. Invalid markets refund
// at cost and net to zero.
//
// The arithmetic is decimal so that, for example, 200 shares bought at 0.55
// settle to exactly 90.
func CalculatePnL(p domain.Position, outcome domain.Outcome) float64 {
	yesShares := decimal.NewFromFloat(p.YesShares)
	noShares := decimal.NewFromFloat(p.NoShares)
	yesAvg := priceOrZero(p.YesAvgPrice)
	noAvg := priceOrZero(p.NoAvgPrice)

	var pnl decimal.Decimal
	switch outcome {
	case domain.OutcomeYes:
		pnl = yesShares.Mul(one.Sub(yesAvg)).Sub(noShares.Mul(noAvg))
	case domain.OutcomeNo:
		pnl = noShares.Mul(one.Sub(noAvg)).Sub(yesShares.Mul(yesAvg))
	default:
		return 0
	}

	f, _ := pnl.Float64()
	return f
}

func priceOrZero(p *float64) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*p)
}
