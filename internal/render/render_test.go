package render

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/polysnap/internal/domain"
	"github.com/alanyoungcy/polysnap/internal/service"
)

func f(v float64) *float64 { return &v }

func TestSnapshotResult(t *testing.T) {
	var buf bytes.Buffer
	SnapshotResult(&buf, service.SnapshotResult{
		SnapshotID:      "snap-1",
		IsFirstSnapshot: true,
		Saved:           true,
		Snapshot: domain.Snapshot{
			Wallet:    "0xabc",
			Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			Positions: []domain.Position{{MarketID: "m1", MarketTitle: "Will it rain?", YesShares: 10, YesAvgPrice: f(0.4)}},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "chain initialized")
	assert.Contains(t, out, "snap-1")
	assert.Contains(t, out, "Will it rain?")
	assert.Contains(t, out, "unresolved")
	assert.NotContains(t, out, "no change events")
}

func TestSnapshotResultUnchanged(t *testing.T) {
	var buf bytes.Buffer
	SnapshotResult(&buf, service.SnapshotResult{Snapshot: domain.Snapshot{Wallet: "0xabc"}})
	assert.Contains(t, buf.String(), "nothing saved")
	assert.Contains(t, buf.String(), "no positions")
}

func TestEvents(t *testing.T) {
	var buf bytes.Buffer
	Events(&buf, []domain.ChangeEvent{
		{Type: domain.EventOpened, MarketID: "m1", CurrYesShares: f(10), CurrNoShares: f(0)},
		{Type: domain.EventResolved, MarketID: "m2", MarketTitle: "Election", PrevYesShares: f(100), CurrYesShares: f(100),
			ResolvedOutcome: domain.OutcomeYes, PnL: f(90)},
	})
	out := buf.String()
	assert.Contains(t, out, "OPENED")
	assert.Contains(t, out, "Election")
	assert.Contains(t, out, "+90.00")
	assert.Contains(t, out, "1 opened, 0 updated, 0 closed, 1 resolved, realized pnl 90.00")
}

func TestHistory(t *testing.T) {
	root := "a"
	var buf bytes.Buffer
	History(&buf, "0xabc", []domain.StoredSnapshot{
		{ID: "b", PredecessorID: &root},
		{ID: "a"},
	})
	out := buf.String()
	assert.Contains(t, out, "0xabc")
	assert.Contains(t, out, "(root)")

	buf.Reset()
	History(&buf, "0xabc", nil)
	assert.Contains(t, buf.String(), "no snapshots")
}

func TestChainReport(t *testing.T) {
	var buf bytes.Buffer
	ChainReport(&buf, domain.ChainReport{Wallet: "0xabc", Length: 2, HeadID: "b", RootID: "a"})
	assert.Contains(t, buf.String(), "chain ok")

	buf.Reset()
	ChainReport(&buf, domain.ChainReport{Wallet: "0xabc", Broken: []string{"missing snapshot x"}})
	assert.Contains(t, buf.String(), "chain broken")
	assert.Contains(t, buf.String(), "missing snapshot x")
}

func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	Audit(&buf, []domain.AuditEntry{
		{ID: 2, Event: "snapshot_saved", Detail: map[string]any{"wallet": "0xabc", "events": 3}, CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{ID: 1, Event: "snapshot_saved"},
	})
	out := buf.String()
	assert.Contains(t, out, "snapshot_saved")
	assert.Contains(t, out, `{"events":3,"wallet":"0xabc"}`)
	assert.Contains(t, out, "2024-01-02T03:04:05Z")

	buf.Reset()
	Audit(&buf, nil)
	assert.Contains(t, buf.String(), "no audit entries")
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "-", change(nil, nil))
	assert.Equal(t, "3", change(nil, f(3)))
	assert.Equal(t, "3 → -", change(f(3), nil))
	assert.Equal(t, "1 → 2", change(f(1), f(2)))
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "", pnl(nil))
	assert.Equal(t, "0.00", pnl(f(0)))
}
