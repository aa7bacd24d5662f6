package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for decisions.
const (
	OutcomeAllowed    = "allowed"
	OutcomeDenied     = "denied"
	OutcomeFailedOpen = "failed_open"
)

type Metrics struct {
	RateLimitDecisionsTotal         *prometheus.CounterVec
	RateLimitFailOpenTotal          *prometheus.CounterVec
	RateLimitResetsTotal            *prometheus.CounterVec
	RateLimitStoreLatencySeconds    *prometheus.HistogramVec
	RateLimitCleanupDeletedTotal    prometheus.Counter
	RateLimitCleanupRunsTotal       *prometheus.CounterVec
	RateLimitCleanupDurationSeconds prometheus.Histogram
}

// New registers the rate limit metrics with reg. A nil registerer yields
// working but unregistered collectors, which is what tests use.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RateLimitDecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadgate_ratelimit_decisions_total",
			Help: "Total number of admission decisions by action and outcome",
		}, []string{"action", "outcome"}),
		RateLimitFailOpenTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadgate_ratelimit_fail_open_total",
			Help: "Total number of requests admitted because the counter store was unavailable",
		}, []string{"action"}),
		RateLimitResetsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadgate_ratelimit_resets_total",
			Help: "Total number of counter resets by action",
		}, []string{"action"}),
		RateLimitStoreLatencySeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leadgate_ratelimit_store_latency_seconds",
			Help:    "Latency of counter store operations in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"operation"}),
		RateLimitCleanupDeletedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "leadgate_ratelimit_cleanup_deleted_total",
			Help: "Total number of stale counters deleted",
		}),
		RateLimitCleanupRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadgate_ratelimit_cleanup_runs_total",
			Help: "Total number of cleanup runs",
		}, []string{"status"}),
		RateLimitCleanupDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "leadgate_ratelimit_cleanup_duration_seconds",
			Help: "Duration of cleanup runs in seconds",
		}),
	}
}

func (m *Metrics) ObserveDecision(action, outcome string) {
	m.RateLimitDecisionsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) IncrementFailOpen(action string) {
	m.RateLimitFailOpenTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) IncrementResets(action string) {
	m.RateLimitResetsTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveStoreLatency(operation string, durationSeconds float64) {
	m.RateLimitStoreLatencySeconds.WithLabelValues(operation).Observe(durationSeconds)
}

func (m *Metrics) IncrementCleanupDeleted(count int) {
	m.RateLimitCleanupDeletedTotal.Add(float64(count))
}

func (m *Metrics) IncrementCleanupRuns(status string) {
	m.RateLimitCleanupRunsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveCleanupDuration(durationSeconds float64) {
	m.RateLimitCleanupDurationSeconds.Observe(durationSeconds)
}
