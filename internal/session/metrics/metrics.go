package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Login outcomes.
const (
	LoginSucceeded   = "succeeded"
	LoginFailed      = "failed"
	LoginThrottled   = "throttled"
	LoginUnavailable = "unavailable"
)

type Metrics struct {
	LoginsTotal                *prometheus.CounterVec
	TransitionsTotal           *prometheus.CounterVec
	StoreErrorsTotal           *prometheus.CounterVec
	AuthenticateLatencySeconds prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LoginsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadgate_session_logins_total",
			Help: "Total number of login attempts by outcome",
		}, []string{"outcome"}),
		TransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadgate_session_transitions_total",
			Help: "Total number of session lifecycle transitions by target state",
		}, []string{"to"}),
		StoreErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadgate_session_store_errors_total",
			Help: "Total number of session and subject store failures by operation",
		}, []string{"operation"}),
		AuthenticateLatencySeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "leadgate_session_authenticate_duration_seconds",
			Help:    "Duration of login attempts in seconds, including credential hashing",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		}),
	}
}

func (m *Metrics) IncrementLogin(outcome string) {
	m.LoginsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementTransition(to string) {
	m.TransitionsTotal.WithLabelValues(to).Inc()
}

func (m *Metrics) IncrementStoreError(operation string) {
	m.StoreErrorsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveAuthenticate(durationSeconds float64) {
	m.AuthenticateLatencySeconds.Observe(durationSeconds)
}
