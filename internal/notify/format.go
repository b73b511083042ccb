package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alanyoungcy/polysnap/internal/domain"
)

// FormatEvent renders a change event as an alert title and body.
func FormatEvent(wallet string, ev domain.ChangeEvent) (string, string) {
	title := fmt.Sprintf("%s %s", ev.Type, shortWallet(wallet))

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", ev.MarketTitle, ev.MarketID)
	switch ev.Type {
	case domain.EventResolved:
		fmt.Fprintf(&b, "outcome: %s\n", ev.ResolvedOutcome)
		if ev.PnL != nil {
			fmt.Fprintf(&b, "pnl: %s\n", signed(*ev.PnL))
		}
		fmt.Fprintf(&b, "held: yes %s / no %s", num(ev.CurrYesShares), num(ev.CurrNoShares))
	case domain.EventClosed:
		fmt.Fprintf(&b, "closed: yes %s / no %s", num(ev.PrevYesShares), num(ev.PrevNoShares))
	case domain.EventOpened:
		fmt.Fprintf(&b, "opened: yes %s @ %s / no %s @ %s",
			num(ev.CurrYesShares), num(ev.CurrYesAvgPrice), num(ev.CurrNoShares), num(ev.CurrNoAvgPrice))
	default:
		fmt.Fprintf(&b, "yes %s -> %s / no %s -> %s",
			num(ev.PrevYesShares), num(ev.CurrYesShares), num(ev.PrevNoShares), num(ev.CurrNoShares))
	}
	return title, b.String()
}

func shortWallet(w string) string {
	if len(w) <= 12 {
		return w
	}
	return w[:6] + "…" + w[len(w)-4:]
}

func num(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func signed(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	if v > 0 {
		return "+" + s
	}
	return s
}
