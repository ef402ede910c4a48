package uplcgate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects per-operation counters. A nil *Metrics records nothing.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
}

// NewMetrics registers the gateway metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "uplcgate",
				Name:      "calls_total",
				Help:      "Total number of gateway calls by operation and result tag",
			},
			[]string{"op", "result"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "uplcgate",
				Name:      "call_duration_seconds",
				Help:      "Gateway call duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"op"},
		),
		outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "uplcgate",
				Name:      "redeemer_outcomes_total",
				Help:      "Evaluated redeemers by outcome kind",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) observeCall(op string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.calls.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) observeOutcomes(outcomes []Outcome) {
	if m == nil {
		return
	}
	for _, o := range outcomes {
		m.outcomes.WithLabelValues(string(o.Kind)).Inc()
	}
}
