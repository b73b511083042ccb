package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysnap/internal/domain"
)

func TestObservers(t *testing.T) {
	m := New(nil)

	m.ObserveSnapshot("appended")
	m.ObserveSnapshot("appended")
	m.ObserveSnapshot("error")
	m.ObserveEvents([]domain.ChangeEvent{
		{Type: domain.EventUpdated},
		{Type: domain.EventResolved, PnL: domain.Float(90)},
		{Type: domain.EventResolved, PnL: domain.Float(-10)},
	})
	m.ObserveFetch(20*time.Millisecond, nil)
	m.ObserveFetch(time.Second, errors.New("x"))
	m.ObserveWatchCycle([]string{"0xabc"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SnapshotsTotal.WithLabelValues("appended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsTotal.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChangeEventsTotal.WithLabelValues("RESOLVED")))
	assert.Equal(t, 90.0, testutil.ToFloat64(m.RealizedPnL))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WatchCyclesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WatchWalletErrors.WithLabelValues("0xabc")))
}

func TestHandlerAndMiddleware(t *testing.T) {
	m := New(nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/wallets/{wallet}/latest", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	mux.Handle("GET /metrics", m.Handler())
	srv := httptest.NewServer(m.Middleware(mux))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/wallets/0xabc/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("GET", "GET /api/wallets/{wallet}/latest", "418")))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "polysnap_http_requests_total")
}
