package retry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for retry loops.
type Metrics struct {
	retriesTotal    *prometheus.CounterVec
	outcomesTotal   *prometheus.CounterVec
	backoffDuration *prometheus.HistogramVec
}

// NewMetrics creates retry metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "agentgateway"
	}

	m := &Metrics{
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "retries_total",
				Help:      "Total number of retries after a failed attempt",
			},
			[]string{"operation"},
		),
		outcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "outcomes_total",
				Help:      "Retried operations by outcome (recovered, exhausted)",
			},
			[]string{"operation", "outcome"},
		),
		backoffDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "backoff_duration_seconds",
				Help:      "Duration of backoff waits in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.retriesTotal, m.outcomesTotal, m.backoffDuration)
	}
	return m
}

func (m *Metrics) recordRetry(operation string, backoff time.Duration) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(operation).Inc()
	m.backoffDuration.WithLabelValues(operation).Observe(backoff.Seconds())
}

func (m *Metrics) recordOutcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(operation, outcome).Inc()
}
