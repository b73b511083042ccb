// Package render formats snapshots, change events and chain reports as
// terminal tables.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/alanyoungcy/polysnap/internal/diff"
	"github.com/alanyoungcy/polysnap/internal/domain"
	"github.com/alanyoungcy/polysnap/internal/service"
)

var (
	subtle  = lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#6C6C6C"}
	special = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	warning = lipgloss.AdaptiveColor{Light: "#D7263D", Dark: "#FF5F6D"}

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	mutedStyle  = lipgloss.NewStyle().Foreground(subtle)
	goodStyle   = lipgloss.NewStyle().Foreground(special).Bold(true)
	badStyle    = lipgloss.NewStyle().Foreground(warning).Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

// SnapshotResult prints the outcome of one TakeSnapshot call.
func SnapshotResult(w io.Writer, res service.SnapshotResult) {
	switch {
	case res.IsFirstSnapshot:
		fmt.Fprintln(w, goodStyle.Render("chain initialized"), mutedStyle.Render(res.SnapshotID))
	case res.Saved:
		fmt.Fprintln(w, goodStyle.Render("snapshot saved"), mutedStyle.Render(res.SnapshotID))
	default:
		fmt.Fprintln(w, mutedStyle.Render("no changes, nothing saved"))
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s @ %s", res.Snapshot.Wallet, res.Snapshot.Timestamp.Format(time.RFC3339))))
	Positions(w, res.Snapshot.Positions)
	if len(res.Events) > 0 {
		Events(w, res.Events)
	}
}

// Positions prints one row per market.
func Positions(w io.Writer, positions []domain.Position) {
	if len(positions) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no positions"))
		return
	}
	t := newTable("Market", "Title", "Yes", "Yes avg", "No", "No avg", "Outcome")
	for _, p := range positions {
		t.Row(p.MarketID, truncate(p.MarketTitle, 40),
			num(p.YesShares), price(p.YesAvgPrice),
			num(p.NoShares), price(p.NoAvgPrice),
			string(p.ResolvedOutcome.OrUnresolved()))
	}
	fmt.Fprintln(w, t.String())
}

// Events prints change events with a summary line.
func Events(w io.Writer, events []domain.ChangeEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no change events"))
		return
	}
	t := newTable("When", "Type", "Market", "Yes", "No", "Outcome", "PnL")
	for _, ev := range events {
		when := "-"
		if !ev.SnapshotTimestamp.IsZero() {
			when = ev.SnapshotTimestamp.Format("2006-01-02 15:04")
		}
		t.Row(when, string(ev.Type), truncate(firstNonEmpty(ev.MarketTitle, ev.MarketID), 40),
			change(ev.PrevYesShares, ev.CurrYesShares),
			change(ev.PrevNoShares, ev.CurrNoShares),
			string(ev.ResolvedOutcome.OrUnresolved()),
			pnl(ev.PnL))
	}
	fmt.Fprintln(w, t.String())

	s := diff.Summarize(events)
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf(
		"%d opened, %d updated, %d closed, %d resolved, realized pnl %s",
		s.Opened, s.Updated, s.Closed, s.Resolved, strconv.FormatFloat(s.RealizedPnL, 'f', 2, 64))))
}

// History prints snapshots newest first.
func History(w io.Writer, wallet string, snaps []domain.StoredSnapshot) {
	fmt.Fprintln(w, titleStyle.Render(wallet))
	if len(snaps) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no snapshots"))
		return
	}
	t := newTable("#", "Snapshot", "Taken", "Positions", "Predecessor")
	for i, s := range snaps {
		pred := "(root)"
		if s.PredecessorID != nil {
			pred = *s.PredecessorID
		}
		t.Row(strconv.Itoa(i+1), s.ID, s.Timestamp.Format(time.RFC3339), strconv.Itoa(len(s.Positions)), pred)
	}
	fmt.Fprintln(w, t.String())
}

// ChainReport prints the result of a chain walk.
func ChainReport(w io.Writer, r domain.ChainReport) {
	if r.OK() {
		fmt.Fprintln(w, goodStyle.Render("chain ok"), mutedStyle.Render(fmt.Sprintf("%s: %d snapshots", r.Wallet, r.Length)))
	} else {
		fmt.Fprintln(w, badStyle.Render("chain broken"), mutedStyle.Render(fmt.Sprintf("%s: %d reachable snapshots", r.Wallet, r.Length)))
	}
	t := newTable("Field", "Value").
		Row("head", orDash(r.HeadID)).
		Row("root", orDash(r.RootID)).
		Row("length", strconv.Itoa(r.Length))
	for _, b := range r.Broken {
		t.Row("problem", b)
	}
	fmt.Fprintln(w, t.String())
}

// Archive prints where an export was written.
func Archive(w io.Writer, r domain.ArchiveResult) {
	fmt.Fprintln(w, goodStyle.Render("archived"), mutedStyle.Render(r.Wallet))
	fmt.Fprintln(w, newTable("Object", "Records").
		Row(r.SnapshotsPath, strconv.Itoa(r.SnapshotCount)).
		Row(r.EventsPath, strconv.Itoa(r.EventCount)).
		String())
}

// Audit prints audit log entries as given, newest first.
func Audit(w io.Writer, entries []domain.AuditEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no audit entries"))
		return
	}
	t := newTable("ID", "When", "Event", "Detail")
	for _, e := range entries {
		detail := "{}"
		if len(e.Detail) > 0 {
			if raw, err := json.Marshal(e.Detail); err == nil {
				detail = truncate(string(raw), 80)
			}
		}
		t.Row(strconv.FormatInt(e.ID, 10), e.CreatedAt.Format(time.RFC3339), e.Event, detail)
	}
	fmt.Fprintln(w, t.String())
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func price(p *float64) string {
	if p == nil {
		return "-"
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

func change(prev, curr *float64) string {
	switch {
	case prev == nil && curr == nil:
		return "-"
	case prev == nil:
		return price(curr)
	case curr == nil:
		return price(prev) + " → -"
	case *prev == *curr:
		return price(curr)
	}
	return price(prev) + " → " + price(curr)
}

func pnl(v *float64) string {
	if v == nil {
		return ""
	}
	s := strconv.FormatFloat(*v, 'f', 2, 64)
	switch {
	case *v > 0:
		return goodStyle.Render("+" + s)
	case *v < 0:
		return badStyle.Render(s)
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
