// Package metrics provides Prometheus instrumentation for snapshots, change
// events, provider fetches and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/polysnap/internal/domain"
)

// Metrics holds every collector. Build one per registry with New.
type Metrics struct {
	gatherer prometheus.Gatherer

	SnapshotsTotal      *prometheus.CounterVec
	ChangeEventsTotal   *prometheus.CounterVec
	RealizedPnL         prometheus.Counter
	FetchDuration       *prometheus.HistogramVec
	WatchCyclesTotal    prometheus.Counter
	WatchWalletErrors   *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		SnapshotsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polysnap_snapshots_total",
			Help: "Snapshot calls by result (initialized, appended, unchanged, error)",
		}, []string{"result"}),
		ChangeEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polysnap_change_events_total",
			Help: "Committed change events by type",
		}, []string{"type"}),
		RealizedPnL: f.NewCounter(prometheus.CounterOpts{
			Name: "polysnap_realized_pnl_gains_total",
			Help: "Sum of positive settlement PnL over RESOLVED events",
		}),
		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "polysnap_provider_fetch_duration_seconds",
			Help:    "Position provider fetch latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"status"}),
		WatchCyclesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "polysnap_watch_cycles_total",
			Help: "Completed watch cycles",
		}),
		WatchWalletErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polysnap_watch_wallet_errors_total",
			Help: "Failed snapshot attempts in watch mode by wallet",
		}, []string{"wallet"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "polysnap_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "polysnap_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"method", "route"}),
	}
}

// ObserveFetch records one provider call.
func (m *Metrics) ObserveFetch(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.FetchDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveSnapshot counts one TakeSnapshot outcome.
func (m *Metrics) ObserveSnapshot(result string) {
	m.SnapshotsTotal.WithLabelValues(result).Inc()
}

// ObserveEvents counts committed events by type.
func (m *Metrics) ObserveEvents(events []domain.ChangeEvent) {
	for _, ev := range events {
		m.ChangeEventsTotal.WithLabelValues(string(ev.Type)).Inc()
		// Counters cannot go down, so only gains are summed.
		if ev.Type == domain.EventResolved && ev.PnL != nil && *ev.PnL > 0 {
			m.RealizedPnL.Add(*ev.PnL)
		}
	}
}

// ObserveWatchCycle counts a finished watch cycle and its failed wallets.
func (m *Metrics) ObserveWatchCycle(failed []string) {
	m.WatchCyclesTotal.Inc()
	for _, w := range failed {
		m.WatchWalletErrors.WithLabelValues(w).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		// r.Pattern is filled in by ServeMux; raw paths would explode
		// label cardinality.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
