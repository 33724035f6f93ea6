package audit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains audit metrics.
type Metrics struct {
	entriesTotal *prometheus.CounterVec
	droppedTotal prometheus.Counter
	writeErrors  prometheus.Counter
	queueDepth   prometheus.Gauge
}

// NewMetrics creates audit metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "agentgateway"
	}

	m := &Metrics{
		entriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "entries_total",
				Help:      "Total number of audit entries written",
			},
			[]string{"surface", "outcome"},
		),
		droppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "dropped_total",
				Help:      "Total number of audit entries dropped because the queue was full",
			},
		),
		writeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "write_errors_total",
				Help:      "Total number of audit entries that could not be encoded or written",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "queue_depth",
				Help:      "Number of audit entries waiting to be written",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.entriesTotal, m.droppedTotal, m.writeErrors, m.queueDepth)
	}

	for _, s := range []Surface{SurfaceAPI, SurfaceMCP} {
		for _, o := range []Outcome{OutcomeSuccess, OutcomeDenied, OutcomeFailure, OutcomeError} {
			m.entriesTotal.WithLabelValues(string(s), string(o))
		}
	}
	return m
}

func (m *Metrics) recordWritten(e *Entry) {
	if m == nil {
		return
	}
	m.entriesTotal.WithLabelValues(string(e.Surface), string(e.Outcome)).Inc()
}

func (m *Metrics) recordDropped() {
	if m == nil {
		return
	}
	m.droppedTotal.Inc()
}

func (m *Metrics) recordWriteError() {
	if m == nil {
		return
	}
	m.writeErrors.Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
