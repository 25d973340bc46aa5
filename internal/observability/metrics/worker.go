package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics is the private registry of the completion-event consumer.
type WorkerMetrics struct {
	registry *prometheus.Registry

	completionsTotal *prometheus.CounterVec
	confidence       *prometheus.HistogramVec
	eventLag         *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	completionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kgq",
			Subsystem: "worker",
			Name:      "query_completions_total",
			Help:      "Total consumed query completion events by outcome.",
		},
		[]string{"service", "outcome"},
	)
	confidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kgq",
			Subsystem: "worker",
			Name:      "query_confidence",
			Help:      "Distribution of confidence scores in consumed events.",
			Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		[]string{"service", "outcome"},
	)
	eventLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kgq",
			Subsystem: "worker",
			Name:      "event_lag_seconds",
			Help:      "Delay between query completion and event consumption.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"service"},
	)

	registry.MustRegister(completionsTotal, confidence, eventLag)

	return &WorkerMetrics{
		registry:         registry,
		completionsTotal: completionsTotal,
		confidence:       confidence,
		eventLag:         eventLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) ObserveCompletion(service, outcome string, confidence int, lag time.Duration) {
	m.completionsTotal.WithLabelValues(service, outcome).Inc()
	m.confidence.WithLabelValues(service, outcome).Observe(float64(confidence))
	if lag >= 0 {
		m.eventLag.WithLabelValues(service).Observe(lag.Seconds())
	}
}
