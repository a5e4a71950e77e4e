package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-ci/crucible/metrics"
)

func getHealthz(t *testing.T, handler http.Handler) healthzResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp healthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthzReportsRunState(t *testing.T) {
	m := NewMonitor(nil, "run-123")
	handler := m.Handler()

	resp := getHealthz(t, handler)
	assert.Equal(t, StatusRunning, resp.Status)
	assert.Equal(t, "run-123", resp.RunID)
	assert.NotEmpty(t, resp.Uptime)

	m.SetStatus(StatusFailed)
	assert.Equal(t, StatusFailed, getHealthz(t, handler).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.RecordError("monitor_smoke")

	m := NewMonitor(nil, "run-123")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "crucible_errors_total")
}

func TestShutdownWithoutStart(t *testing.T) {
	m := NewMonitor(nil, "run-123")
	assert.NoError(t, m.Shutdown(context.Background()))
}
