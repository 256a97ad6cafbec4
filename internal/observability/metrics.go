// Package observability exposes Prometheus metrics for the event
// pipeline and the detection engines.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's instrumentation on a private registry
// so tests can build isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal        prometheus.Counter
	EventsDropped      prometheus.Counter
	EventsMalformed    prometheus.Counter
	EngineResults      *prometheus.CounterVec
	EngineDuration     *prometheus.HistogramVec
	ClassifierRetries  prometheus.Counter
	TrackedEmailsGauge prometheus.Gauge
}

// NewMetrics builds and registers the instrument set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		EventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpwatch",
			Name:      "events_total",
			Help:      "Events accepted from the source.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpwatch",
			Name:      "events_dropped_total",
			Help:      "Events dropped because the queue was full.",
		}),
		EventsMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpwatch",
			Name:      "events_malformed_total",
			Help:      "Source lines rejected as malformed.",
		}),
		EngineResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpwatch",
			Name:      "engine_results_total",
			Help:      "Detection results by engine and severity.",
		}, []string{"detector", "severity"}),
		EngineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcpwatch",
			Name:      "engine_duration_seconds",
			Help:      "Per-event processing latency by engine.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"detector"}),
		ClassifierRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpwatch",
			Name:      "classifier_retries_total",
			Help:      "Classifier calls retried after rate limiting.",
		}),
		TrackedEmailsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mcpwatch",
			Name:      "tracked_emails",
			Help:      "Email addresses currently tracked for exfiltration correlation.",
		}),
	}

	registry.MustRegister(
		m.EventsTotal,
		m.EventsDropped,
		m.EventsMalformed,
		m.EngineResults,
		m.EngineDuration,
		m.ClassifierRetries,
		m.TrackedEmailsGauge,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
