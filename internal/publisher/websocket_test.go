package publisher

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_PublishToSubscribers(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	all := dialHub(t, srv, "")
	podsOnly := dialHub(t, srv, "?kind=pod_summary")

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	ts := time.Date(2024, 3, 1, 12, 20, 0, 0, time.UTC)
	require.NoError(t, hub.Publish(context.Background(), NodeSummary{NodeName: "node-1"}, ts, nil))
	require.NoError(t, hub.Publish(context.Background(), PodSummary{Namespace: "default", PodName: "web-0"}, ts, nil))

	readKind := func(conn *websocket.Conn) string {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var env map[string]any
		require.NoError(t, json.Unmarshal(data, &env))
		return env["kind"].(string)
	}

	assert.Equal(t, "node_summary", readKind(all))
	assert.Equal(t, "pod_summary", readKind(all))
	assert.Equal(t, "pod_summary", readKind(podsOnly))
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()

	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
