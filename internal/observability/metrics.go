package observability

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeDropped = "dropped"
	OutcomeEmpty   = "empty"
)

// Metrics bundles the Prometheus collectors for scrape runs.
type Metrics struct {
	Registry      *prometheus.Registry
	PagesTotal    *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	StubsTotal    *prometheus.CounterVec
	RecordsTotal  *prometheus.CounterVec
	RunsTotal     *prometheus.CounterVec

	logger *slog.Logger
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookstalk_pages_total",
			Help: "Pages loaded, by site, page kind and outcome.",
		},
		[]string{"site", "kind", "outcome"},
	)
	fetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookstalk_fetch_duration_seconds",
			Help:    "Page load latency, including settle time.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"kind"},
	)
	stubs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookstalk_stubs_total",
			Help: "Listing stubs seen, by site and outcome.",
		},
		[]string{"site", "outcome"},
	)
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookstalk_records_total",
			Help: "Public records produced, by site.",
		},
		[]string{"site"},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookstalk_runs_total",
			Help: "Pipeline runs, by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	registry.MustRegister(pages, fetchDuration, stubs, records, runs)

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Metrics{
		Registry:      registry,
		PagesTotal:    pages,
		FetchDuration: fetchDuration,
		StubsTotal:    stubs,
		RecordsTotal:  records,
		RunsTotal:     runs,
		logger:        logger.With("component", "metrics"),
	}
}

// IncPage counts one page load.
func (m *Metrics) IncPage(site, kind, outcome string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(site, kind, outcome).Inc()
}

// ObserveFetch records a page load duration.
func (m *Metrics) ObserveFetch(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// IncStub counts one listing stub.
func (m *Metrics) IncStub(site, outcome string) {
	if m == nil {
		return
	}
	m.StubsTotal.WithLabelValues(site, outcome).Inc()
}

// AddRecords counts produced records.
func (m *Metrics) AddRecords(site string, n int) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(site).Add(float64(n))
}

// IncRun counts one pipeline run.
func (m *Metrics) IncRun(site, outcome string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(site, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// StartServer starts a standalone metrics HTTP server.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}
