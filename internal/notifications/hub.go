package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"commentguard/internal/middleware"
	"commentguard/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	hubName = "review"

	maxConnsPerReviewer = 8
	maxTotalConns       = 2000
)

var (
	ErrServerFull   = errors.New("server connection limit reached")
	ErrReviewerFull = errors.New("reviewer connection limit reached")
)

// Hub fans review events out to connected reviewers.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	perReviewer map[uint]int
	closed      bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients:     make(map[*Client]struct{}),
		perReviewer: make(map[uint]int),
	}
}

// Register adds a connection for reviewerID watching accounts (all when empty).
func (h *Hub) Register(reviewerID uint, accounts []uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || len(h.clients) >= maxTotalConns {
		return nil, ErrServerFull
	}
	if h.perReviewer[reviewerID] >= maxConnsPerReviewer {
		return nil, ErrReviewerFull
	}

	c := newClient(h, conn, reviewerID, accounts)
	h.clients[c] = struct{}{}
	h.perReviewer[reviewerID]++
	observability.WebSocketConnectionsTotal.Inc()
	return c, nil
}

// UnregisterClient removes c; calling it twice is harmless.
func (h *Hub) UnregisterClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if h.perReviewer[c.ReviewerID]--; h.perReviewer[c.ReviewerID] <= 0 {
		delete(h.perReviewer, c.ReviewerID)
	}
	close(c.Send)
	observability.WebSocketConnectionsTotal.Dec()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Deliver sends payload to every client watching accountID.
func (h *Hub) Deliver(accountID uint, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.Watches(accountID) {
			c.TrySend(payload)
		}
	}
}

// PublishReviewEvent delivers ev to local clients. It is used when Redis is not configured.
func (h *Hub) PublishReviewEvent(_ context.Context, ev ReviewEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal review event: %w", err)
	}
	h.Deliver(ev.AccountID, payload)
	return nil
}

// StartWiring forwards every event published through n to local clients.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartReviewSubscriber(ctx, func(accountID uint, payload string) {
		h.Deliver(accountID, []byte(payload))
	})
}

// Shutdown sends a close frame to every client and drops them.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		if c.Conn != nil {
			if err := c.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")); err != nil {
				middleware.Logger.Debug("close frame failed",
					slog.Uint64("reviewer_id", uint64(c.ReviewerID)), slog.String("error", err.Error()))
			}
			_ = c.Conn.Close()
		}
		close(c.Send)
		delete(h.clients, c)
		observability.WebSocketConnectionsTotal.Dec()
	}
	h.perReviewer = make(map[uint]int)
	return nil
}
