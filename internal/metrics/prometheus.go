// Package metrics provides Prometheus metrics for the healthledger pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest results.
const (
	IngestAccepted = "accepted"
	IngestReplayed = "replayed"
	IngestConflict = "conflict"
	IngestRejected = "rejected"
	IngestLimited  = "rate_limited"
	IngestError    = "error"
)

// Failure memory write outcomes.
const (
	FailureWritten   = "written"
	FailureDuplicate = "duplicate"
	FailureError     = "error"
)

// Manager owns every collector. A nil *Manager is valid and records nothing.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	ingestOutcomes     *prometheus.CounterVec
	runsBuilt          prometheus.Counter
	buildFailures      *prometheus.CounterVec
	integrityFailures  *prometheus.CounterVec
	failureWrites      *prometheus.CounterVec
	failureWriteErrors prometheus.Counter

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewManager creates a metrics manager on its own registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "healthledger",
		histogramBuckets: prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.ingestOutcomes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "ingest_requests_total",
		Help:      "Raw event ingestion requests by result",
	}, []string{"result"})

	m.runsBuilt = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "runs_built_total",
		Help:      "Derived runs committed",
	})

	m.buildFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "run_build_failures_total",
		Help:      "Derived run builds that failed, by stage",
	}, []string{"stage"})

	m.integrityFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "replay_integrity_failures_total",
		Help:      "Replays refused because stored data failed verification, by code",
	}, []string{"code"})

	m.failureWrites = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "failure_memory_writes_total",
		Help:      "Failure memory write attempts by outcome",
	}, []string{"outcome"})

	m.failureWriteErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "failure_memory_write_errors_total",
		Help:      "Failure records that could not be persisted",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status code",
	}, []string{"route", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   m.histogramBuckets,
	}, []string{"route", "method"})
}

// Registry returns the registry the collectors live on.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IngestOutcome counts one ingestion request.
func (m *Manager) IngestOutcome(result string) {
	if m == nil {
		return
	}
	m.ingestOutcomes.WithLabelValues(result).Inc()
}

// RunBuilt counts a committed run.
func (m *Manager) RunBuilt() {
	if m == nil {
		return
	}
	m.runsBuilt.Inc()
}

// BuildFailed counts a failed build at stage.
func (m *Manager) BuildFailed(stage string) {
	if m == nil {
		return
	}
	m.buildFailures.WithLabelValues(stage).Inc()
}

// IntegrityFailed counts a replay refused with code.
func (m *Manager) IntegrityFailed(code string) {
	if m == nil {
		return
	}
	m.integrityFailures.WithLabelValues(code).Inc()
}

// FailureWrite counts a failure memory write attempt. Error outcomes also
// increment the dedicated write-error counter.
func (m *Manager) FailureWrite(outcome string) {
	if m == nil {
		return
	}
	m.failureWrites.WithLabelValues(outcome).Inc()
	if outcome == FailureError {
		m.failureWriteErrors.Inc()
	}
}

// ObserveHTTPRequest records one served request.
func (m *Manager) ObserveHTTPRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
