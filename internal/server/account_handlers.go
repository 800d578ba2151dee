package server

import (
	"errors"
	"log/slog"

	"commentguard/internal/coordinator"
	"commentguard/internal/middleware"
	"commentguard/internal/models"
	"commentguard/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ListSuspiciousAccounts returns the account's flagged commenters, riskiest first.
func (s *Server) ListSuspiciousAccounts(c *fiber.Ctx) error {
	accountID, err := s.requireAccount(c)
	if err != nil {
		return nil
	}
	page := parsePagination(c, 50)

	records, err := s.suspicious.List(c.UserContext(), accountID, page.Limit, page.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"suspicious": records})
}

// GetFraudClusters returns the commenter clusters linked by shared identifiers
// that include at least one commenter of the account.
func (s *Server) GetFraudClusters(c *fiber.Ctx) error {
	accountID, err := s.requireAccount(c)
	if err != nil {
		return nil
	}

	clusters, err := s.fraud.Clusters(c.UserContext(), accountID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"clusters": clusters})
}

// TriggerSync starts a manual sync for one account. The run continues after the
// response; a run already in flight for the account answers 409.
func (s *Server) TriggerSync(c *fiber.Ctx) error {
	accountID, err := s.requireAccount(c)
	if err != nil {
		return nil
	}

	mode, ok := service.ParseSyncMode(c.Query("mode", string(service.ModeHybrid)))
	if !ok {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("mode must be hybrid or deep"))
	}

	job := s.worker.SyncJob(mode)
	if _, err := s.coord.TryDispatch(c.UserContext(), job, accountID); err != nil {
		if errors.Is(err, coordinator.ErrLocked) {
			return models.RespondWithError(c, fiber.StatusConflict,
				models.NewConflictError("A sync is already running for this account"))
		}
		return respondError(c, err)
	}

	middleware.Logger.InfoContext(c.UserContext(), "manual sync dispatched",
		slog.Uint64("account_id", uint64(accountID)), slog.String("mode", string(mode)))
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"account_id": accountID,
		"job":        job.Name,
	})
}
