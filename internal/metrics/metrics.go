// Package metrics holds the Prometheus collectors for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the gateway's Prometheus collectors. Collectors are
// registered against the registry passed to New, so tests can use
// isolated registries.
type Metrics struct {
	requests           *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	inFlight           prometheus.Gauge
}

// New registers and returns the gateway collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modelgate_requests_total",
				Help: "Total HTTP requests by endpoint and status code",
			},
			[]string{"endpoint", "status"},
		),
		generationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "modelgate_generation_duration_seconds",
				Help:    "Wall-clock duration of engine calls by mode",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"mode"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "modelgate_generation_in_flight",
				Help: "Engine calls currently holding an admission slot",
			},
		),
	}
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(endpoint, status string) {
	m.requests.WithLabelValues(endpoint, status).Inc()
}

// ObserveGeneration records the duration of one engine call.
func (m *Metrics) ObserveGeneration(mode string, seconds float64) {
	m.generationDuration.WithLabelValues(mode).Observe(seconds)
}

// SlotAcquired bumps the in-flight gauge.
func (m *Metrics) SlotAcquired() {
	m.inFlight.Inc()
}

// SlotReleased decrements the in-flight gauge.
func (m *Metrics) SlotReleased() {
	m.inFlight.Dec()
}
