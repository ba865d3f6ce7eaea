package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/lobbyshell/internal/domain/instance"
	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/monitoring"
)

func newStream(t *testing.T) (*Hub, *monitoring.Metrics, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	metrics := monitoring.NewMetrics()
	hub := NewHub(metrics, nil)
	router := gin.New()
	router.GET("/stream", hub.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, metrics, "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var welcome map[string]any
	require.NoError(t, conn.ReadJSON(&welcome))
	require.Equal(t, "system", welcome["type"])
	require.True(t, strings.HasPrefix(welcome["client_id"].(string), "client_"))
	return conn
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Len() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestPublishReachesClients(t *testing.T) {
	hub, metrics, url := newStream(t)
	a := dial(t, url)
	b := dial(t, url)
	waitClients(t, hub, 2)
	assert.Equal(t, int64(2), metrics.Snapshot().WSConnections)

	hub.Publish(instance.Event{Type: instance.EventOpened, InstanceID: "lobby_A", Time: time.Now()})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := read(t, conn)
		assert.Equal(t, instance.EventOpened, msg["type"])
		assert.Equal(t, "lobby_A", msg["instance_id"])
	}
}

func TestSubscribeFiltersInstances(t *testing.T) {
	hub, _, url := newStream(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "instances": []string{"lobby_B"}}))
	assert.Equal(t, "subscribed", read(t, conn)["type"])

	hub.Publish(instance.Event{Type: instance.EventState, InstanceID: "lobby_A"})
	hub.Publish(instance.Event{Type: instance.EventState, InstanceID: "lobby_B"})

	msg := read(t, conn)
	assert.Equal(t, "lobby_B", msg["instance_id"])
}

func TestPingAndUnknownMessages(t *testing.T) {
	hub, _, url := newStream(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	assert.Equal(t, "pong", read(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "launch"}))
	msg := read(t, conn)
	assert.Equal(t, "error", msg["type"])
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, metrics, url := newStream(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitClients(t, hub, 0)
	assert.Zero(t, metrics.Snapshot().WSConnections)

	assert.NotPanics(t, func() {
		hub.Publish(instance.Event{Type: instance.EventClosed, InstanceID: "lobby_A"})
	})
}

func TestCloseRejectsNewClients(t *testing.T) {
	hub, _, url := newStream(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	hub.Close()
	assert.Zero(t, hub.Len())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer late.Close()
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
