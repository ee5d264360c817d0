package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager()
	require.NotNil(t, m.Registry())
	assert.Equal(t, "healthledger", m.namespace)
	assert.Equal(t, prometheus.DefBuckets, m.histogramBuckets)
}

func TestNewManager_Options(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewManager(
		WithNamespace("test"),
		WithHistogramBuckets([]float64{0.1, 1}),
		WithRegistry(reg),
	)
	assert.Same(t, reg, m.Registry())

	m.RunBuilt()
	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "test_runs_built_total")
}

func TestCounters(t *testing.T) {
	m := NewManager()

	m.IngestOutcome(IngestAccepted)
	m.IngestOutcome(IngestAccepted)
	m.IngestOutcome(IngestConflict)
	m.BuildFailed("commit")
	m.IntegrityFailed("SNAPSHOT_HASH_MISMATCH")
	m.FailureWrite(FailureWritten)
	m.FailureWrite(FailureError)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingestOutcomes.WithLabelValues(IngestAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestOutcomes.WithLabelValues(IngestConflict)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.buildFailures.WithLabelValues("commit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.integrityFailures.WithLabelValues("SNAPSHOT_HASH_MISMATCH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failureWrites.WithLabelValues(FailureWritten)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failureWriteErrors))
}

func TestNilManagerIsNoop(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() {
		m.IngestOutcome(IngestAccepted)
		m.RunBuilt()
		m.BuildFailed("compute")
		m.IntegrityFailed("SNAPSHOT_MISSING")
		m.FailureWrite(FailureError)
		m.ObserveHTTPRequest("/healthz", http.MethodGet, 200, time.Millisecond)
	})
}

func TestHandler(t *testing.T) {
	m := NewManager()
	m.ObserveHTTPRequest("/v1/runs", http.MethodGet, 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `healthledger_http_requests_total{method="GET",route="/v1/runs",status_code="200"} 1`)
}
