package rbac

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for RBAC operations.
type Metrics struct {
	evaluationTotal    *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	roleCount          prometheus.Gauge
}

// NewMetrics creates RBAC metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "agentgateway"
	}

	m := &Metrics{
		evaluationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rbac",
				Name:      "evaluations_total",
				Help:      "Total number of RBAC permission checks",
			},
			[]string{"decision"},
		),
		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rbac",
				Name:      "evaluation_duration_seconds",
				Help:      "RBAC evaluation duration in seconds",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
			},
		),
		roleCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "rbac",
				Name:      "roles",
				Help:      "Number of roles in the loaded policy",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.evaluationTotal, m.evaluationDuration, m.roleCount)
	}
	return m
}

func (m *Metrics) recordEvaluation(allowed bool, d time.Duration) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.evaluationTotal.WithLabelValues(decision).Inc()
	m.evaluationDuration.Observe(d.Seconds())
}

func (m *Metrics) setRoleCount(n int) {
	if m == nil {
		return
	}
	m.roleCount.Set(float64(n))
}
