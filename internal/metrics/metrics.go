// Package metrics exposes Prometheus instrumentation for the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters for the processing service.
type Metrics struct {
	registry       *prometheus.Registry
	requestsTotal  prometheus.Counter
	processedTotal *prometheus.CounterVec
	fallbacksTotal prometheus.Counter
	errorsTotal    prometheus.Counter
	processingHist prometheus.Histogram
}

// New creates and registers Prometheus metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audiopress_requests_total",
		Help: "Total number of HTTP requests received",
	})
	processedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiopress_processed_total",
		Help: "Total number of uploads processed, by result mode",
	}, []string{"mode"})
	fallbacksTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audiopress_fallbacks_total",
		Help: "Total number of degraded results (timeouts, fallback segments)",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audiopress_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	processingHist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "audiopress_processing_seconds",
		Help:    "Wall-clock time of pipeline runs",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	registry.MustRegister(
		requestsTotal,
		processedTotal,
		fallbacksTotal,
		errorsTotal,
		processingHist,
	)

	return &Metrics{
		registry:       registry,
		requestsTotal:  requestsTotal,
		processedTotal: processedTotal,
		fallbacksTotal: fallbacksTotal,
		errorsTotal:    errorsTotal,
		processingHist: processingHist,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncProcessed increments the processed counter for a result mode.
func (m *Metrics) IncProcessed(mode string) {
	m.processedTotal.WithLabelValues(mode).Inc()
}

// IncFallbacks increments the degraded-result counter.
func (m *Metrics) IncFallbacks() {
	m.fallbacksTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// ObserveProcessing records one pipeline run duration in seconds.
func (m *Metrics) ObserveProcessing(seconds float64) {
	m.processingHist.Observe(seconds)
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
