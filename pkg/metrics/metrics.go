// Package metrics exposes Prometheus collectors for scan sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the session collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	DetectionSamples *prometheus.CounterVec
	CaptureDuration  prometheus.Histogram
}

// New registers the collectors, plus Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "facepay_sessions_started_total",
			Help: "Scan sessions started.",
		}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facepay_sessions_finished_total",
			Help: "Scan sessions that reached a terminal state, by state.",
		}, []string{"state"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "facepay_sessions_active",
			Help: "Scan sessions not yet in a terminal state.",
		}),
		DetectionSamples: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facepay_detection_samples_total",
			Help: "Detection samples consumed while scanning, by face presence.",
		}, []string{"present"}),
		CaptureDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "facepay_capture_duration_seconds",
			Help:    "Time from entering capturing to the capture outcome.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
	}
}

// Started records a new session.
func (m *Metrics) Started() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// Finished records a session reaching state.
func (m *Metrics) Finished(state string) {
	m.SessionsFinished.WithLabelValues(state).Inc()
	m.SessionsActive.Dec()
}

// Sample records one consumed detection sample.
func (m *Metrics) Sample(present bool) {
	label := "false"
	if present {
		label = "true"
	}
	m.DetectionSamples.WithLabelValues(label).Inc()
}

// Captured records how long a capture took.
func (m *Metrics) Captured(d time.Duration) {
	m.CaptureDuration.Observe(d.Seconds())
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
