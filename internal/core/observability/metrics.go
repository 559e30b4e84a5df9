package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for pricekeeper.
type Metrics struct {
	// Registry owns these metrics and backs the /metrics endpoint.
	Registry *prometheus.Registry

	resolutions   *prometheus.CounterVec
	priceLookups  *prometheus.CounterVec
	outboxPending prometheus.Gauge
	syncAttempts  *prometheus.CounterVec
	flushDuration prometheus.Histogram
	submissions   *prometheus.CounterVec
}

// NewMetrics creates a private registry and registers all metrics in it.
// Each call is independent, so tests can create as many as they need.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		resolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricekeeper_policy_resolutions_total",
				Help: "Policy resolutions by outcome.",
			},
			[]string{"result"},
		),
		priceLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricekeeper_price_lookups_total",
				Help: "Resolved prices by source (winner, fallback, base, none).",
			},
			[]string{"source"},
		),
		outboxPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pricekeeper_outbox_pending",
				Help: "Outbox entries not yet acknowledged by the remote.",
			},
		),
		syncAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricekeeper_outbox_sync_attempts_total",
				Help: "Remote write attempts by payload kind and result.",
			},
			[]string{"kind", "result"},
		),
		flushDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pricekeeper_outbox_flush_duration_seconds",
				Help:    "Duration of outbox flush passes.",
				Buckets: prometheus.DefBuckets,
			},
		),
		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricekeeper_gateway_submissions_total",
				Help: "Submissions received by the sync gateway by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
	}
}

// RecordResolution counts one policy resolution.
func (m *Metrics) RecordResolution(result string) {
	m.resolutions.WithLabelValues(result).Inc()
}

// RecordPriceLookup counts one resolved price by source.
func (m *Metrics) RecordPriceLookup(source string) {
	m.priceLookups.WithLabelValues(source).Inc()
}

// SetOutboxPending sets the number of unacknowledged entries.
func (m *Metrics) SetOutboxPending(n int) {
	m.outboxPending.Set(float64(n))
}

// RecordSyncAttempt counts one remote write attempt.
func (m *Metrics) RecordSyncAttempt(kind, result string) {
	m.syncAttempts.WithLabelValues(kind, result).Inc()
}

// ObserveFlush records the duration of one flush pass.
func (m *Metrics) ObserveFlush(d time.Duration) {
	m.flushDuration.Observe(d.Seconds())
}

// RecordSubmission counts one gateway submission.
func (m *Metrics) RecordSubmission(kind, outcome string) {
	m.submissions.WithLabelValues(kind, outcome).Inc()
}
