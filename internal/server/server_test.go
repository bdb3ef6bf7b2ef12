package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aaronlmathis/kusage/internal/timeseries/aggregator"
	"github.com/aaronlmathis/kusage/internal/version"
)

type staticStatus aggregator.Status

func (s staticStatus) Status() aggregator.Status { return aggregator.Status(s) }

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, status aggregator.Status, events http.Handler) *Server {
	t.Helper()
	s := NewServer(zaptest.NewLogger(t), staticStatus(status), events, time.Minute)
	s.now = func() time.Time { return now }
	return s
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestServer(t, aggregator.Status{}, nil), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReady(t *testing.T) {
	tests := []struct {
		name        string
		disabled    bool
		lastCollect time.Time
		wantCode    int
	}{
		{name: "no collection yet", wantCode: http.StatusServiceUnavailable},
		{name: "recent collection", lastCollect: now.Add(-time.Minute), wantCode: http.StatusOK},
		{name: "stale collection", lastCollect: now.Add(-10 * time.Minute), wantCode: http.StatusServiceUnavailable},
		{name: "collector disabled", disabled: true, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := aggregator.Status{Enabled: !tt.disabled, LastCollect: tt.lastCollect}
			rec := get(t, newTestServer(t, status, nil), "/readyz")
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestReady_CollectorDisabled(t *testing.T) {
	rec := get(t, newTestServer(t, aggregator.Status{}, nil), "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","collector":"disabled"}`, rec.Body.String())
}

func TestVersion(t *testing.T) {
	rec := get(t, newTestServer(t, aggregator.Status{}, nil), "/version")
	require.Equal(t, http.StatusOK, rec.Code)

	var info version.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, version.Get().Version, info.Version)
}

func TestStatus(t *testing.T) {
	rec := get(t, newTestServer(t, aggregator.Status{Nodes: 3, VolumeNodesPending: 1}, nil), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status aggregator.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 3, status.Nodes)
	assert.Equal(t, 1, status.VolumeNodesPending)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, aggregator.Status{}, nil)
	get(t, s, "/healthz")

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "kusage_http_requests_total"))
}

func TestEventsRoute(t *testing.T) {
	rec := get(t, newTestServer(t, aggregator.Status{}, nil), "/events")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	events := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rec = get(t, newTestServer(t, aggregator.Status{}, events), "/events")
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
