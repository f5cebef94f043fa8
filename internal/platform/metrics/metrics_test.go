package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)

	m.ObserveRequest(http.MethodGet, "/expedients/{id}", http.StatusNotFound, time.Now())
	m.ObserveRequest(http.MethodGet, "/expedients/{id}", http.StatusNotFound, time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues(http.MethodGet, "/expedients/{id}", "404")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "expedients_http_request_duration_seconds")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.ObserveRequest(http.MethodGet, "/", 200, time.Now()) })
}
