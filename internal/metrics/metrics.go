package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Extraction metrics
	ExtractionCallsTotal   *prometheus.CounterVec
	ExtractionCallDuration *prometheus.HistogramVec
	ExtractionErrorsTotal  *prometheus.CounterVec
	SpansEmittedTotal      prometheus.Counter

	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	ConnectionsSwept  prometheus.Counter

	// Frame metrics
	FramesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		// Extraction metrics
		ExtractionCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extraction_calls_total",
				Help: "Total number of extraction calls",
			},
			[]string{"model", "status"},
		),
		ExtractionCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extraction_call_duration_seconds",
				Help:    "Duration of extraction calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		ExtractionErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extraction_errors_total",
				Help: "Total number of failed extraction calls",
			},
			[]string{"model"},
		),
		SpansEmittedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spans_emitted_total",
				Help: "Total number of spans emitted to clients",
			},
		),

		// Connection metrics
		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "connections_active",
				Help: "Number of currently open websocket connections",
			},
		),
		ConnectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "connections_total",
				Help: "Total number of websocket connections accepted",
			},
		),
		ConnectionsSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "connections_swept_total",
				Help: "Total number of idle connections closed by the sweeper",
			},
		),

		// Frame metrics
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frames_total",
				Help: "Total number of inbound frames by outcome",
			},
			[]string{"outcome"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.ExtractionCallsTotal)
	m.registry.MustRegister(m.ExtractionCallDuration)
	m.registry.MustRegister(m.ExtractionErrorsTotal)
	m.registry.MustRegister(m.SpansEmittedTotal)

	m.registry.MustRegister(m.ConnectionsActive)
	m.registry.MustRegister(m.ConnectionsTotal)
	m.registry.MustRegister(m.ConnectionsSwept)

	m.registry.MustRegister(m.FramesTotal)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
