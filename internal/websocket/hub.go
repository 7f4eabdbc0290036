package websocket

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Hub tracks open connections so they can be closed on shutdown
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
	log     *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		log:     log,
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}

	h.log.Info("client registered",
		"room_id", c.roomID,
		"user_id", c.userID,
		"total_clients", len(h.clients),
	)
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)

	h.log.Info("client unregistered",
		"room_id", c.roomID,
		"user_id", c.userID,
		"remaining_clients", len(h.clients),
	)
}

// Count returns the number of open connections
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every connection and refuses new ones
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	h.log.Info("closing websocket connections", "count", len(clients))
	for _, c := range clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
