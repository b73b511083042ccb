package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysnap/internal/config"
	"github.com/alanyoungcy/polysnap/internal/domain"
	"github.com/alanyoungcy/polysnap/internal/platform/polymarket"
	"github.com/alanyoungcy/polysnap/internal/service"
)

const testWallet = "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDataAPI serves whatever rows are currently set.
type fakeDataAPI struct {
	mu   sync.Mutex
	rows []polymarket.APIPosition
}

func (f *fakeDataAPI) set(rows ...polymarket.APIPosition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
}

func (f *fakeDataAPI) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(f.rows)
}

func memoryConfig(t *testing.T, api http.Handler) *config.Config {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfg := config.Defaults()
	cfg.Store.Driver = "memory"
	cfg.Polymarket.DataHost = srv.URL
	cfg.Polymarket.MaxRetries = 0
	return &cfg
}

func TestCommandsAgainstMemoryStore(t *testing.T) {
	api := &fakeDataAPI{}
	api.set(polymarket.APIPosition{ConditionID: "c1", Title: "Will it rain?", Outcome: "Yes", Size: 100, AvgPrice: 0.4, CurPrice: 0.5})

	cfg := memoryConfig(t, api)
	var out bytes.Buffer
	a := New(cfg, discardLogger(), &out)
	ctx := context.Background()

	deps, cleanup, err := Wire(ctx, cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(cleanup)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.Lock)

	require.NoError(t, a.SnapshotCommand(ctx, deps, []string{testWallet}))
	assert.Contains(t, out.String(), "chain initialized")

	out.Reset()
	require.NoError(t, a.SnapshotCommand(ctx, deps, []string{testWallet}))
	assert.Contains(t, out.String(), "nothing saved")

	api.set(polymarket.APIPosition{ConditionID: "c1", Title: "Will it rain?", Outcome: "Yes", Size: 150, AvgPrice: 0.42, CurPrice: 0.5})
	out.Reset()
	require.NoError(t, a.SnapshotCommand(ctx, deps, []string{testWallet}))
	assert.Contains(t, out.String(), "snapshot saved")
	assert.Contains(t, out.String(), "UPDATED")

	out.Reset()
	require.NoError(t, a.HistoryCommand(ctx, deps, []string{testWallet, "-limit", "5"}))
	assert.Contains(t, out.String(), "(root)")

	out.Reset()
	require.NoError(t, a.EventsCommand(ctx, deps, []string{"-limit", "10", testWallet}))
	assert.Contains(t, out.String(), "0 opened, 1 updated")

	out.Reset()
	require.NoError(t, a.MarketCommand(ctx, deps, []string{"c1"}))
	assert.Contains(t, out.String(), "UPDATED")

	out.Reset()
	require.NoError(t, a.VerifyCommand(ctx, deps, []string{testWallet}))
	assert.Contains(t, out.String(), "chain ok")

	out.Reset()
	require.NoError(t, a.AuditCommand(ctx, deps, []string{"-limit", "1"}))
	assert.Contains(t, out.String(), "snapshot_saved")
	assert.Contains(t, out.String(), `"first":false`)

	out.Reset()
	require.NoError(t, a.AuditCommand(ctx, deps, []string{"-since", "1h"}))
	assert.Contains(t, out.String(), `"first":true`)

	assert.ErrorIs(t, a.AuditCommand(ctx, deps, []string{"-since", "yesterday"}), ErrUsage)
	assert.ErrorIs(t, a.AuditCommand(ctx, deps, []string{"extra"}), ErrUsage)

	err = a.ArchiveCommand(ctx, deps, []string{testWallet})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 is not enabled")
}

func TestRunRejectsBadCommands(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, discardLogger(), io.Discard)

	err := a.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUsage)

	err = a.Run(context.Background(), []string{"trade"})
	assert.ErrorIs(t, err, ErrUsage)

	err = a.Run(context.Background(), []string{"diff", "only-one.json"})
	assert.ErrorIs(t, err, ErrUsage)
}

func TestRunSnapshotEndToEnd(t *testing.T) {
	api := &fakeDataAPI{}
	api.set(polymarket.APIPosition{ConditionID: "c1", Title: "Fed cut?", Outcome: "No", OutcomeIndex: 1, Size: 20, AvgPrice: 0.3, CurPrice: 0.35})

	var out bytes.Buffer
	a := New(memoryConfig(t, api), discardLogger(), &out)
	defer a.Close()

	require.NoError(t, a.Run(context.Background(), []string{"snapshot", testWallet}))
	assert.Contains(t, out.String(), "chain initialized")
	assert.Contains(t, out.String(), "Fed cut?")
}

func TestSnapshotCommandInvalidWallet(t *testing.T) {
	a := New(memoryConfig(t, &fakeDataAPI{}), discardLogger(), io.Discard)
	defer a.Close()

	err := a.Run(context.Background(), []string{"snapshot", "not-a-wallet"})
	assert.ErrorIs(t, err, domain.ErrInvalidWallet)
}

func writeSnapshotFile(t *testing.T, dir, name string, snap domain.Snapshot) string {
	t.Helper()
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestDiffCommand(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 0.4
	oldPath := writeSnapshotFile(t, dir, "old.json", domain.Snapshot{
		Wallet: testWallet, Timestamp: ts,
		Positions: []domain.Position{{MarketID: "m1", MarketTitle: "Will it rain?", YesShares: 100, YesAvgPrice: &price}},
	})
	newPath := writeSnapshotFile(t, dir, "new.json", domain.Snapshot{
		Wallet: testWallet, Timestamp: ts.Add(time.Hour),
		Positions: []domain.Position{
			{MarketID: "m1", MarketTitle: "Will it rain?", YesShares: 100, YesAvgPrice: &price, ResolvedOutcome: domain.OutcomeYes},
			{MarketID: "m2", MarketTitle: "Fed cut?", NoShares: 5},
		},
	})

	var out bytes.Buffer
	a := New(&config.Config{}, discardLogger(), &out)
	require.NoError(t, a.Run(context.Background(), []string{"diff", oldPath, newPath}))
	assert.Contains(t, out.String(), "1 opened, 0 updated, 0 closed, 1 resolved, realized pnl 60.00")

	err := a.DiffCommand([]string{oldPath, filepath.Join(dir, "missing.json")})
	require.Error(t, err)
}

type scriptedTaker struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
}

func (s *scriptedTaker) TakeSnapshot(_ context.Context, wallet string) (service.SnapshotResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, wallet)
	if err := s.fail[wallet]; err != nil {
		return service.SnapshotResult{}, err
	}
	return service.SnapshotResult{Saved: true}, nil
}

type cycleCounter struct {
	cycles int
	failed []string
}

func (c *cycleCounter) ObserveWatchCycle(failed []string) {
	c.cycles++
	c.failed = append(c.failed, failed...)
}

func TestRunWatchCycleIsolatesFailures(t *testing.T) {
	cfg := config.Defaults()
	cfg.Watch.Concurrency = 2
	a := New(&cfg, discardLogger(), io.Discard)

	taker := &scriptedTaker{fail: map[string]error{
		"0x2": errors.New("provider down"),
		"0x3": domain.ErrLockHeld,
	}}
	rec := &cycleCounter{}

	failed := a.runWatchCycle(context.Background(), taker, rec, []string{"0x1", "0x2", "0x3", "0x4"})
	assert.Equal(t, []string{"0x2"}, failed)
	assert.ElementsMatch(t, []string{"0x1", "0x2", "0x3", "0x4"}, taker.calls)
	assert.Equal(t, 1, rec.cycles)
	assert.Equal(t, []string{"0x2"}, rec.failed)
}

func TestWatchModeStopsOnCancel(t *testing.T) {
	api := &fakeDataAPI{}
	cfg := memoryConfig(t, api)
	cfg.Watch.Wallets = []string{testWallet}
	cfg.Watch.Interval.Duration = 10 * time.Millisecond

	a := New(cfg, discardLogger(), io.Discard)
	deps, cleanup, err := Wire(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, a.WatchMode(ctx, deps, nil))

	latest, err := deps.Snapshots.Latest(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Empty(t, latest.Positions)
}

func TestWatchModeRequiresWallets(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, discardLogger(), io.Discard)
	require.Error(t, a.WatchMode(context.Background(), &Dependencies{}, nil))
}

func TestWalletAndLimit(t *testing.T) {
	w, n, err := walletAndLimit("events", 50, []string{testWallet})
	require.NoError(t, err)
	assert.Equal(t, testWallet, w)
	assert.Equal(t, 50, n)

	_, n, err = walletAndLimit("events", 50, []string{testWallet, "-limit", "3"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, _, err = walletAndLimit("events", 50, nil)
	assert.ErrorIs(t, err, ErrUsage)

	_, _, err = walletAndLimit("events", 50, []string{testWallet, "extra"})
	assert.ErrorIs(t, err, ErrUsage)

	_, _, err = walletAndLimit("events", 50, []string{"-limit", "x", testWallet})
	assert.ErrorIs(t, err, ErrUsage)
}
