package csrf

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	TokensIssuedTotal    prometheus.Counter
	ValidationFailsTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TokensIssuedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "leadgate_csrf_tokens_issued_total",
			Help: "Total number of CSRF tokens minted",
		}),
		ValidationFailsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadgate_csrf_failures_total",
			Help: "Total number of rejected CSRF tokens by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) IncrementIssued() {
	m.TokensIssuedTotal.Inc()
}

func (m *Metrics) IncrementFailure(reason string) {
	m.ValidationFailsTotal.WithLabelValues(reason).Inc()
}
