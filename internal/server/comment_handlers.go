package server

import (
	"errors"

	"commentguard/internal/models"
	"commentguard/internal/service"

	"github.com/gofiber/fiber/v2"
)

const defaultSimilarLimit = 20

// ReviewRequest is the body of POST /api/comments/:id/review.
type ReviewRequest struct {
	Action              string   `json:"action"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
	Notes               string   `json:"notes,omitempty"`
	Category            string   `json:"category,omitempty"`
}

// ListAccountComments pages an account's comments through a review filter.
func (s *Server) ListAccountComments(c *fiber.Ctx) error {
	accountID, err := s.requireAccount(c)
	if err != nil {
		return nil
	}
	page := parsePagination(c, 50)

	items, total, err := s.review.ListForReview(c.UserContext(), accountID, c.Query("filter", "all"), page.Limit, page.Offset)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"comments": items,
		"total":    total,
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}

// SubmitReview applies a reviewer's verdict to a queued comment.
func (s *Server) SubmitReview(c *fiber.Ctx) error {
	commentID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	reviewerID, _ := c.Locals("reviewerID").(uint)

	var req ReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	res, err := s.review.Submit(c.UserContext(), service.SubmitReviewInput{
		CommentID:           commentID,
		ReviewerID:          reviewerID,
		Action:              models.ReviewActionType(req.Action),
		SimilarityThreshold: req.SimilarityThreshold,
		Notes:               req.Notes,
		Category:            models.Category(req.Category),
	})
	if errors.Is(err, service.ErrEnforcement) && res != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":  err.Error(),
			"result": res,
		})
	}
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(res)
}

// GetSimilarComments lists near-duplicates of a comment posted by other commenters.
func (s *Server) GetSimilarComments(c *fiber.Ctx) error {
	commentID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	limit := c.QueryInt("limit", defaultSimilarLimit)
	neighbors, err := s.review.Similar(c.UserContext(), commentID, c.QueryFloat("threshold", 0), limit)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{"similar": neighbors})
}

// GetEvidence returns the audit trail of a comment.
func (s *Server) GetEvidence(c *fiber.Ctx) error {
	commentID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	bundle, err := s.review.Evidence(c.UserContext(), commentID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(bundle)
}
