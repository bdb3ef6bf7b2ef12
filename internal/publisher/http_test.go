package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewHTTPPublisher_RequiresURL(t *testing.T) {
	_, err := NewHTTPPublisher(context.Background(), zaptest.NewLogger(t), HTTPConfig{})
	assert.Error(t, err)
}

func TestHTTPPublisher_Publish(t *testing.T) {
	var received []map[string]any
	var headers []http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received = append(received, body)
		headers = append(headers, r.Header.Clone())
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p, err := NewHTTPPublisher(context.Background(), zaptest.NewLogger(t), HTTPConfig{URL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 12, 20, 0, 0, time.UTC)
	err = p.Publish(context.Background(), NodeSummary{NodeName: "node-1", CPUAvg: 200, CPUMax: 300}, ts, map[string]string{AttributeCluster: "uid-ks"})
	require.NoError(t, err)

	require.Len(t, received, 1)
	assert.Equal(t, "node_summary", received[0]["kind"])
	assert.Equal(t, "uid-ks", received[0]["attributes"].(map[string]any)[AttributeCluster])
	payload := received[0]["payload"].(map[string]any)
	assert.Equal(t, "node-1", payload["nodeName"])
	assert.Equal(t, float64(300), payload["cpuMaxNanoCores"])

	assert.Equal(t, "application/json", headers[0].Get("Content-Type"))
	assert.Equal(t, "uid-ks", headers[0].Get("X-Cluster"))
	assert.Equal(t, received[0]["id"], headers[0].Get("X-Event-Id"))
	assert.Contains(t, headers[0].Get("User-Agent"), "kusage/")
}

func TestHTTPPublisher_PublishErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ingestion paused", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewHTTPPublisher(context.Background(), zaptest.NewLogger(t), HTTPConfig{URL: srv.URL})
	require.NoError(t, err)

	err = p.Publish(context.Background(), PodSummary{PodName: "web-0"}, time.Now(), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "ingestion paused")
}

func TestHTTPPublisher_OAuthClientCredentials(t *testing.T) {
	var tokenRequests atomic.Int32

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	var authHeaders []string
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	p, err := NewHTTPPublisher(context.Background(), zaptest.NewLogger(t), HTTPConfig{
		URL: sink.URL,
		OAuth: OAuthConfig{
			TokenURL:     tokenSrv.URL,
			ClientID:     "kusage",
			ClientSecret: "secret",
		},
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, p.Publish(context.Background(), NodeSummary{NodeName: "node-1"}, time.Now(), nil))
	}

	assert.Equal(t, []string{"Bearer tok-123", "Bearer tok-123"}, authHeaders)
	assert.Equal(t, int32(1), tokenRequests.Load(), "token is cached between requests")
}

func TestHTTPPublisher_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := NewHTTPPublisher(context.Background(), zaptest.NewLogger(t), HTTPConfig{
		URL:               srv.URL,
		RequestsPerSecond: 0.001,
		Burst:             1,
	})
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), NodeSummary{}, time.Now(), nil))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = p.Publish(ctx, NodeSummary{}, time.Now(), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}
