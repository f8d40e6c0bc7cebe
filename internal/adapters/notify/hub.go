package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/javimosch/superbackend-sub004/pkg/logger"
	"github.com/javimosch/superbackend-sub004/pkg/metrics"
)

// Hub connection tuning.
const (
	writeWait      = 10 * time.Second
	clientBuffer   = 16
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The hub serves same-process dashboards and internal tooling.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// Hub is a websocket broadcast hub. Slow clients are disconnected rather
// than allowed to apply backpressure to broadcasters.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	log     logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log logger.Logger) *Hub {
	if log == nil {
		log = logger.Get()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		log:     log.Named("ws-hub"),
	}
}

// Broadcast sends the event to every connected client.
func (h *Hub) Broadcast(ctx context.Context, event string, payload any) {
	data, err := json.Marshal(wsMessage{Event: event, Payload: payload})
	if err != nil {
		h.log.Warn(ctx, "broadcast marshal failed", logger.String("event", event), logger.Error(err))
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client is not draining; cut it loose instead of blocking.
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.drop(c)
	}
}

// ServeHTTP upgrades the request and keeps the connection attached to the
// hub until the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	metrics.UpdateWSClients(len(h.clients))
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// ClientCount reports the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) drop(c *client) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		metrics.UpdateWSClients(len(h.clients))
		h.mu.Unlock()
		close(c.send)
		_ = c.conn.Close()
	})
}

func (h *Hub) writePump(c *client) {
	defer func() { _ = c.conn.Close() }()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
}

// readPump discards inbound frames; the hub is broadcast-only. Reading is
// still required to process control frames and detect disconnects.
func (h *Hub) readPump(c *client) {
	defer h.drop(c)
	c.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
