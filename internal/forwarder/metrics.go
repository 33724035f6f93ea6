package forwarder

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Attempt outcomes.
const (
	outcomeSuccess     = "success"
	outcomeTransport   = "transport_error"
	outcomeCircuitOpen = "circuit_open"
	outcomeCanceled    = "canceled"
	outcomeError       = "error"
)

// Metrics holds Prometheus metrics for upstream calls.
type Metrics struct {
	attemptsTotal *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	upstreamCodes *prometheus.CounterVec
}

// NewMetrics creates forwarder metrics and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "agentgateway"
	}

	m := &Metrics{
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "attempts_total",
				Help:      "Total number of upstream attempts by outcome",
			},
			[]string{"destination", "outcome"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "call_duration_seconds",
				Help:      "Duration of upstream calls including retries in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"destination"},
		),
		upstreamCodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "responses_total",
				Help:      "Total number of upstream responses by status class",
			},
			[]string{"destination", "class"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.attemptsTotal, m.callDuration, m.upstreamCodes)
	}
	return m
}

func (m *Metrics) recordAttempt(destination, outcome string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(destination, outcome).Inc()
}

func (m *Metrics) recordCall(destination string, d time.Duration, resp *Response) {
	if m == nil {
		return
	}
	m.callDuration.WithLabelValues(destination).Observe(d.Seconds())
	if resp != nil {
		m.upstreamCodes.WithLabelValues(destination, statusClass(resp.StatusCode)).Inc()
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
