package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSubmission(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSubmission(true, 2, 1_000_000_000)
	m.RecordSubmission(false, 6, 500)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissionOutcomes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissionOutcomes.WithLabelValues("failed")))
	// failed submissions send nothing
	assert.Equal(t, 1e9, testutil.ToFloat64(m.lamportsSentTotal))
}

func TestRecordAttempts(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordBroadcastAttempt(errors.New("node is behind"))
	m.RecordBroadcastAttempt(nil)
	m.RecordBlockhashAttempt(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcastAttemptsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcastAttemptsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.blockhashAttemptsTotal.WithLabelValues("success")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m, "/api/v1/batches")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/batches", "POST", "2xx")))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestStatusCodeToString(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		302: "3xx",
		404: "4xx",
		503: "5xx",
		0:   "unknown",
	}
	for code, want := range tests {
		assert.Equal(t, want, statusCodeToString(code))
	}
}
