package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/velumhealth/grounded-query/internal/core/domain"
)

// APIMetrics is the private registry of the API service. It implements the
// pipeline's metrics sink and also instruments the HTTP surface.
type APIMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	queriesTotal        *prometheus.CounterVec
	confidence          *prometheus.HistogramVec
	retrievalDuration   *prometheus.HistogramVec
	retrievedCandidates *prometheus.HistogramVec
	generationDuration  *prometheus.HistogramVec
	consentTotal        *prometheus.CounterVec
	auditRetriesTotal   prometheus.Counter
}

func NewAPIMetrics(service string) *APIMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kgq",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kgq",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kgq",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kgq",
			Subsystem: "pipeline",
			Name:      "queries_total",
			Help:      "Total completed queries by terminal outcome.",
		},
		[]string{"service", "outcome"},
	)
	confidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kgq",
			Subsystem: "pipeline",
			Name:      "confidence",
			Help:      "Distribution of confidence scores at query completion.",
			Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		[]string{"service", "outcome"},
	)
	retrievalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kgq",
			Subsystem: "pipeline",
			Name:      "retrieval_duration_seconds",
			Help:      "Corpus retrieval duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	retrievedCandidates := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kgq",
			Subsystem: "pipeline",
			Name:      "retrieved_candidates",
			Help:      "Distribution of merged candidates per retrieval.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	generationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kgq",
			Subsystem: "pipeline",
			Name:      "generation_duration_seconds",
			Help:      "Answer generation duration in seconds by mode and status.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"service", "mode", "status"},
	)
	consentTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kgq",
			Subsystem: "pipeline",
			Name:      "consent_events_total",
			Help:      "Total recorded external-source consent events.",
		},
		[]string{"service", "provider"},
	)
	auditRetriesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kgq",
			Subsystem: "pipeline",
			Name:      "audit_append_retries_total",
			Help:      "Total background retries of failed audit appends.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		requestTotal, requestDuration, requestInFlight,
		queriesTotal, confidence, retrievalDuration, retrievedCandidates,
		generationDuration, consentTotal, auditRetriesTotal,
	)

	return &APIMetrics{
		registry: registry,
		service:  service,

		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,

		queriesTotal:        queriesTotal,
		confidence:          confidence,
		retrievalDuration:   retrievalDuration,
		retrievedCandidates: retrievedCandidates,
		generationDuration:  generationDuration,
		consentTotal:        consentTotal,
		auditRetriesTotal:   auditRetriesTotal,
	}
}

func (m *APIMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *APIMetrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.requestTotal.WithLabelValues(m.service, method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(m.service, method, path).Observe(duration.Seconds())
}

func (m *APIMetrics) HTTPRequestStarted() {
	m.requestInFlight.Inc()
}

func (m *APIMetrics) HTTPRequestFinished() {
	m.requestInFlight.Dec()
}

func (m *APIMetrics) ObserveRetrieval(duration time.Duration, candidates int, err error) {
	m.retrievalDuration.WithLabelValues(m.service, statusLabel(err)).Observe(duration.Seconds())
	if err == nil {
		m.retrievedCandidates.WithLabelValues(m.service).Observe(float64(candidates))
	}
}

func (m *APIMetrics) ObserveGeneration(mode string, duration time.Duration, err error) {
	m.generationDuration.WithLabelValues(m.service, mode, statusLabel(err)).Observe(duration.Seconds())
}

func (m *APIMetrics) ObserveOutcome(kind domain.OutcomeKind, confidence int) {
	m.queriesTotal.WithLabelValues(m.service, string(kind)).Inc()
	m.confidence.WithLabelValues(m.service, string(kind)).Observe(float64(confidence))
}

func (m *APIMetrics) ObserveConsent(providerID string) {
	m.consentTotal.WithLabelValues(m.service, providerID).Inc()
}

func (m *APIMetrics) ObserveAuditRetry() {
	m.auditRetriesTotal.Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
