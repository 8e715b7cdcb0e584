package relay

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Hub tracks at most one socket per user. A new socket for a user replaces
// the previous one.
type Hub struct {
	clients map[int64]*Client
	mu      sync.RWMutex
	logger  *slog.Logger
	outbox  Outbox

	rateLimit rate.Limit
	rateBurst int
}

func NewHub(outbox Outbox, limit float64, burst int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:   make(map[int64]*Client),
		logger:    logger,
		outbox:    outbox,
		rateLimit: rate.Limit(limit),
		rateBurst: burst,
	}
}

// Register adds c and closes any socket the user already had.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	previous := h.clients[c.UserID]
	h.clients[c.UserID] = c
	h.mu.Unlock()

	if previous != nil {
		previous.closeWith(websocket.CloseNormalClosure, "replaced by a newer connection")
		h.logger.Info("client_replaced",
			"user_id", c.UserID,
			"old_client_id", previous.ID,
			"client_id", c.ID,
		)
	} else {
		activeConnections.Inc()
	}
	h.logger.Info("client_added", "user_id", c.UserID, "client_id", c.ID)
}

// Unregister removes c if it is still the user's current socket.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	current, ok := h.clients[c.UserID]
	if ok && current == c {
		delete(h.clients, c.UserID)
		activeConnections.Dec()
	}
	h.mu.Unlock()

	if ok && current == c {
		h.logger.Info("client_removed", "user_id", c.UserID, "client_id", c.ID)
	}
}

// Deliver queues data on the user's socket. Returns false when the user has
// no socket or its buffer is full.
func (h *Hub) Deliver(userID int64, kind string, data []byte) bool {
	h.mu.RLock()
	c, ok := h.clients[userID]
	h.mu.RUnlock()

	if !ok || !c.enqueue(data) {
		framesUndelivered.Inc()
		h.logger.Debug("frame_undelivered", "user_id", userID, "kind", kind)
		return false
	}
	framesPushed.WithLabelValues(kind).Inc()
	return true
}

func (h *Hub) Connected(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every socket with a going-away code so clients reconnect.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[int64]*Client)
	h.mu.Unlock()

	for id, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "relay shutting down")
		activeConnections.Dec()
		h.logger.Info("client_connection_closed", "user_id", id)
	}
}

func (h *Hub) newLimiter() *rate.Limiter {
	return rate.NewLimiter(h.rateLimit, h.rateBurst)
}
