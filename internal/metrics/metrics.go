// Package metrics exposes Prometheus counters for the report history and the
// analysis client.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Analysis outcomes used as the "outcome" label.
const (
	OutcomeSuccess      = "success"
	OutcomeBackendError = "backend_error"
	OutcomeTransport    = "transport_error"
	OutcomeCircuitOpen  = "circuit_open"
	OutcomeRateLimited  = "rate_limited"
	OutcomeInvalid      = "invalid"
)

// Metrics holds the portal's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RecordsAdded     prometheus.Counter
	PersistFailures  prometheus.Counter
	HistoryLoads     *prometheus.CounterVec
	HistorySize      prometheus.Gauge
	AnalysisRequests *prometheus.CounterVec
	AnalysisLatency  prometheus.Histogram
	BreakerState     prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RecordsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quant_portal_records_added_total",
			Help: "Total number of report records added to the history",
		}),

		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quant_portal_persist_failures_total",
			Help: "Total number of failed report history writes",
		}),

		HistoryLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quant_portal_history_loads_total",
			Help: "Report history loads by outcome",
		}, []string{"outcome"}),

		HistorySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quant_portal_history_records",
			Help: "Current number of records in the report history",
		}),

		AnalysisRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quant_portal_analysis_requests_total",
			Help: "Analysis backend requests by outcome",
		}, []string{"outcome"}),

		AnalysisLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quant_portal_analysis_duration_seconds",
			Help:    "Analysis backend round-trip duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 90, 120},
		}),

		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quant_portal_analysis_breaker_state",
			Help: "Analysis circuit breaker state (0=closed, 1=half-open, 2=open)",
		}),
	}

	m.registry.MustRegister(
		m.RecordsAdded,
		m.PersistFailures,
		m.HistoryLoads,
		m.HistorySize,
		m.AnalysisRequests,
		m.AnalysisLatency,
		m.BreakerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HistoryLoaded implements history.Observer.
func (m *Metrics) HistoryLoaded(outcome string, records int) {
	m.HistoryLoads.WithLabelValues(outcome).Inc()
	m.HistorySize.Set(float64(records))
}

// RecordAdded implements history.Observer.
func (m *Metrics) RecordAdded(records int) {
	m.RecordsAdded.Inc()
	m.HistorySize.Set(float64(records))
}

// PersistFailed implements history.Observer.
func (m *Metrics) PersistFailed() {
	m.PersistFailures.Inc()
}

// AnalysisFinished implements analysis.Observer.
func (m *Metrics) AnalysisFinished(outcome string, elapsed time.Duration) {
	m.AnalysisRequests.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess || outcome == OutcomeBackendError {
		m.AnalysisLatency.Observe(elapsed.Seconds())
	}
}

// BreakerStateChanged implements analysis.Observer.
func (m *Metrics) BreakerStateChanged(state int) {
	m.BreakerState.Set(float64(state))
}
