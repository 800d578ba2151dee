package notifications

import (
	"log/slog"
	"time"

	"commentguard/internal/middleware"
	"commentguard/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// The feed is server-to-client; inbound frames are only control traffic.
	maxMessageSize = 1024
)

// Client is one reviewer connection to the review feed.
type Client struct {
	hub *Hub

	Conn *websocket.Conn
	Send chan []byte

	ReviewerID uint
	// accounts restricts delivery; empty means every account.
	accounts map[uint]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, reviewerID uint, accounts []uint) *Client {
	c := &Client{
		hub:        hub,
		Conn:       conn,
		ReviewerID: reviewerID,
		Send:       make(chan []byte, 256),
	}
	if len(accounts) > 0 {
		c.accounts = make(map[uint]struct{}, len(accounts))
		for _, id := range accounts {
			c.accounts[id] = struct{}{}
		}
	}
	return c
}

// Watches reports whether events of accountID are delivered to this client.
func (c *Client) Watches(accountID uint) bool {
	if len(c.accounts) == 0 {
		return true
	}
	_, ok := c.accounts[accountID]
	return ok
}

// ReadPump drains inbound frames until the peer disconnects, then unregisters.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				middleware.Logger.Warn("review feed read failed",
					slog.Uint64("reviewer_id", uint64(c.ReviewerID)), slog.String("error", err.Error()))
			}
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues message without blocking. A full buffer drops it and queues a
// notice so the reviewer can re-fetch the queue.
func (c *Client) TrySend(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(hubName, "closed").Inc()
		}
	}()

	select {
	case c.Send <- message:
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(hubName, "full").Inc()
		middleware.Logger.Warn("review feed buffer full, dropped event", slog.Uint64("reviewer_id", uint64(c.ReviewerID)))

		dropNotice := []byte(`{"type":"events_dropped","reason":"buffer_full"}`)
		select {
		case c.Send <- dropNotice:
		default:
		}
	}
}
