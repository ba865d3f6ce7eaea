package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/lobbyshell/internal/domain/instance"
	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/lobbyshell/internal/shared/id"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second
	maxReadBytes = 4096
)

var upgrader = websocket.Upgrader{
	// the shell loads from a local origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inbound is a message sent by a client.
type inbound struct {
	Type      string   `json:"type"`
	Instances []string `json:"instances,omitempty"`
}

type client struct {
	id   id.ClientID
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	filter map[string]bool // Protected by mu; nil means everything
}

func (c *client) wants(instanceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter == nil || c.filter[instanceID]
}

// Hub fans coordinator events out to every connected client. It is the
// coordinator's EventSink.
type Hub struct {
	metrics *monitoring.Metrics
	logger  *zap.Logger

	mu      sync.RWMutex
	clients map[id.ClientID]*client
	closed  bool
}

var _ instance.EventSink = (*Hub)(nil)

// NewHub creates an empty hub. metrics and logger may be nil.
func NewHub(metrics *monitoring.Metrics, logger *zap.Logger) *Hub {
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		metrics: metrics,
		logger:  logger.Named("ws"),
		clients: make(map[id.ClientID]*client),
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish broadcasts ev. It never blocks: a client whose buffer is full is
// disconnected.
func (h *Hub) Publish(ev instance.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("type", ev.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	var slow []*client
	for _, c := range h.clients {
		if !c.wants(ev.InstanceID) {
			continue
		}
		select {
		case c.send <- data:
			h.metrics.RecordWSMessage("out", ev.Type)
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("Dropping slow stream client", zap.String("client_id", c.id.String()))
		h.remove(c)
	}
}

// HandleConnection upgrades the request and serves one client until it
// disconnects.
func (h *Hub) HandleConnection(ctx *gin.Context) {
	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   id.NewClientID(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	if !h.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeTimeout))
		_ = conn.Close()
		return
	}

	h.reply(c, map[string]any{"type": "system", "client_id": c.id, "message": "connected"})

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	h.metrics.IncWSConnections()
	h.logger.Debug("Stream client connected", zap.String("client_id", c.id.String()))
	return true
}

// remove unregisters c once and stops its writer.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if !ok {
		return
	}
	close(c.done)
	h.metrics.DecWSConnections()
	h.logger.Debug("Stream client disconnected", zap.String("client_id", c.id.String()))
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Stream read error", zap.String("client_id", c.id.String()), zap.Error(err))
			}
			return
		}
		h.metrics.RecordWSMessage("in", msg.Type)

		switch msg.Type {
		case "ping":
			h.reply(c, map[string]any{"type": "pong"})
		case "subscribe":
			c.mu.Lock()
			if len(msg.Instances) == 0 {
				c.filter = nil
			} else {
				c.filter = make(map[string]bool, len(msg.Instances))
				for _, iid := range msg.Instances {
					c.filter[iid] = true
				}
			}
			c.mu.Unlock()
			h.reply(c, map[string]any{"type": "subscribed", "instances": msg.Instances})
		default:
			h.reply(c, map[string]any{"type": "error", "message": "unknown message type"})
		}
	}
}

// reply queues a direct answer to one client.
func (h *Hub) reply(c *client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		h.logger.Warn("Stream client buffer full", zap.String("client_id", c.id.String()))
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.Unlock()

	for _, c := range all {
		h.remove(c)
	}
}
