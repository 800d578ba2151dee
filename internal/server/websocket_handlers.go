package server

import (
	"log/slog"
	"strconv"
	"strings"

	"commentguard/internal/middleware"
	"commentguard/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// ReviewFeedUpgrade rejects plain HTTP requests to the feed and validates the
// account filter before the upgrade.
func (s *Server) ReviewFeedUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	accounts, err := parseAccountFilter(c.Query("accounts"))
	if err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("accounts must be a comma separated list of IDs"))
	}
	if s.hub == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewInternalError(errFeedDisabled))
	}
	c.Locals("feedAccounts", accounts)
	return c.Next()
}

// ReviewFeedHandler streams review events of the watched accounts to a reviewer.
func (s *Server) ReviewFeedHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		reviewerID, ok := conn.Locals("reviewerID").(uint)
		if !ok {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}
		accounts, _ := conn.Locals("feedAccounts").([]uint)

		client, err := s.hub.Register(reviewerID, accounts, conn)
		if err != nil {
			middleware.Logger.Warn("review feed registration refused",
				slog.Uint64("reviewer_id", uint64(reviewerID)), slog.String("error", err.Error()))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		middleware.Logger.Info("reviewer connected to feed",
			slog.Uint64("reviewer_id", uint64(reviewerID)), slog.Int("accounts", len(accounts)))

		go client.WritePump()
		client.ReadPump()
	})
}

func parseAccountFilter(raw string) ([]uint, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]uint, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil || id == 0 {
			return nil, errInvalidAccountFilter
		}
		out = append(out, uint(id))
	}
	return out, nil
}
