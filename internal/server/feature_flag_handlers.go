package server

import "github.com/gofiber/fiber/v2"

// GetFeatureFlags returns configured feature flags and their evaluated state for the account.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	accountID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if s.flags == nil {
		return c.JSON(fiber.Map{
			"raw":       map[string]string{},
			"evaluated": map[string]bool{},
		})
	}

	return c.JSON(fiber.Map{
		"raw":       s.flags.Raw(),
		"evaluated": s.flags.Snapshot(accountID),
	})
}
