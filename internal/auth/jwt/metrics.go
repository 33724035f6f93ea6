package jwt

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for token verification.
type Metrics struct {
	verificationsTotal   *prometheus.CounterVec
	verificationDuration prometheus.Histogram
	keySetFetchesTotal   *prometheus.CounterVec
	keySetKeys           prometheus.Gauge
}

// NewMetrics creates verification metrics and registers them with reg.
// A nil reg leaves the collectors unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "agentgateway"
	}

	m := &Metrics{
		verificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "verifications_total",
				Help:      "Total number of bearer token verifications by result",
			},
			[]string{"result"},
		),
		verificationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "verification_duration_seconds",
				Help:      "Duration of bearer token verification including key lookup",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 10},
			},
		),
		keySetFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "keyset_fetches_total",
				Help:      "Total number of key set fetches by trigger and status",
			},
			[]string{"trigger", "status"},
		),
		keySetKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "keyset_keys",
				Help:      "Number of signing keys currently cached",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.verificationsTotal,
			m.verificationDuration,
			m.keySetFetchesTotal,
			m.keySetKeys,
		)
	}

	return m
}

func (m *Metrics) observeVerification(err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = reasonLabel(err)
	}
	m.verificationsTotal.WithLabelValues(result).Inc()
	m.verificationDuration.Observe(d.Seconds())
}

func (m *Metrics) observeFetch(trigger string, err error, keys int) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.keySetFetchesTotal.WithLabelValues(trigger, status).Inc()
	if err == nil {
		m.keySetKeys.Set(float64(keys))
	}
}
