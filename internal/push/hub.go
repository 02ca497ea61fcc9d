// Package push is the in-app real-time channel: a websocket hub that
// broadcasts reminder events to every connected client.
package push

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is one structured message broadcast to connected clients.
type Event struct {
	Type        string    `json:"type"`
	AccountID   string    `json:"account_id,omitempty"`
	AccountName string    `json:"account_name,omitempty"`
	Message     string    `json:"message"`
	At          time.Time `json:"at"`
}

const writeWait = 5 * time.Second

// client pairs a connection with its write lock. The websocket protocol
// allows only one concurrent writer per connection, and broadcasts run
// from multiple job workers at once.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub tracks connected websocket clients. Broadcast is best-effort: a
// client that cannot be written to within the deadline is dropped.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the client goes away. Inbound frames are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn}
	h.register(c)
	defer h.unregister(c)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// BroadcastAll sends the event to every connected client. Write failures
// drop the client and are never returned to the caller.
func (h *Hub) BroadcastAll(event Event) int {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal push event", zap.Error(err))
		return 0
	}

	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	delivered := 0
	for _, c := range clients {
		if err := c.write(payload); err != nil {
			h.logger.Warn("dropping unresponsive push client", zap.Error(err))
			h.unregister(c)
			continue
		}
		delivered++
	}

	return delivered
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("push client connected", zap.Int("clients", n))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("push client disconnected", zap.Int("clients", n))
}
