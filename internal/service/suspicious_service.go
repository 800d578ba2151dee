package service

import (
	"context"
	"fmt"
	"time"

	"commentguard/internal/classifier"
	"commentguard/internal/models"
	"commentguard/internal/repository"
	"commentguard/internal/risk"
)

const velocityWindow = time.Hour

// SuspiciousService maintains per-commenter history and supplies the history
// terms of the risk formula.
type SuspiciousService struct {
	repo     repository.SuspiciousRepository
	comments repository.CommentRepository
	now      func() time.Time
}

// NewSuspiciousService returns a new SuspiciousService.
func NewSuspiciousService(repo repository.SuspiciousRepository, comments repository.CommentRepository) *SuspiciousService {
	return &SuspiciousService{repo: repo, comments: comments, now: time.Now}
}

// History is what the risk formula needs to know about a commenter.
type History struct {
	Record *models.SuspiciousAccount
	// Velocity is the number of comments in the trailing hour.
	Velocity float64
}

// Inputs fills the history terms of risk inputs.
func (h History) Inputs(severity int, confidence float64, now time.Time) risk.Inputs {
	in := risk.Inputs{Severity: severity, Confidence: confidence, CommentVelocity: h.Velocity}
	if h.Record != nil {
		in.RepeatOffenderCount = h.Record.FlaggedCount
		in.AccountAgeDays = h.Record.AgeDays(now)
	}
	return in
}

// History loads the commenter's aggregate and trailing-hour velocity.
func (s *SuspiciousService) History(ctx context.Context, c *models.Comment) (History, error) {
	rec, err := s.repo.Get(ctx, c.AccountID, c.CommenterID)
	if err != nil {
		return History{}, fmt.Errorf("load commenter history: %w", err)
	}
	n, err := s.comments.CountByCommenterSince(ctx, c.AccountID, c.CommenterID, s.now().Add(-velocityWindow))
	if err != nil {
		return History{}, fmt.Errorf("count recent comments: %w", err)
	}
	return History{Record: rec, Velocity: float64(n)}, nil
}

func flagged(a models.ActionType) bool {
	return a == models.ActionFlag || a == models.ActionHide || a == models.ActionDelete
}

// Record folds a decision into the commenter's aggregate. The record is created on
// the commenter's first flagged comment; earlier clean comments are not counted.
func (s *SuspiciousService) Record(ctx context.Context, c *models.Comment, d *models.ModerationDecision, velocity float64) error {
	for attempt := 0; attempt < 2; attempt++ {
		rec, err := s.repo.Get(ctx, c.AccountID, c.CommenterID)
		if err != nil {
			return err
		}
		if rec == nil && !flagged(d.ActionTaken) {
			return nil
		}

		now := s.now()
		if rec == nil {
			rec = &models.SuspiciousAccount{
				AccountID:   c.AccountID,
				CommenterID: c.CommenterID,
				FirstSeenAt: now,
			}
		}
		apply(rec, c, d, velocity, now)

		err = s.repo.Save(ctx, rec)
		if models.ErrorCode(err) == "CONFLICT" {
			// Another run created the record first; fold into theirs.
			continue
		}
		return err
	}
	return models.NewConflictError("suspicious account record is contended")
}

func apply(rec *models.SuspiciousAccount, c *models.Comment, d *models.ModerationDecision, velocity float64, now time.Time) {
	if rec.CategoryCounts == nil {
		rec.CategoryCounts = make(map[string]int)
	}
	rec.CommenterName = c.CommenterName
	rec.TotalComments++
	if flagged(d.ActionTaken) {
		rec.FlaggedCount++
		rec.CategoryCounts[string(d.Category)]++
	}
	rec.AverageRisk += (float64(d.RiskScore) - rec.AverageRisk) / float64(rec.TotalComments)
	if d.RiskScore > rec.PeakRisk {
		rec.PeakRisk = d.RiskScore
	}
	rec.Velocity = velocity
	rec.LastSeenAt = now
}

// SaveIdentifiers stores the identifiers extracted from c.
func (s *SuspiciousService) SaveIdentifiers(ctx context.Context, c *models.Comment, ids []classifier.Identifier) error {
	if len(ids) == 0 {
		return nil
	}
	rows := make([]models.ExtractedIdentifier, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, models.ExtractedIdentifier{
			CommentID:   c.ID,
			AccountID:   c.AccountID,
			CommenterID: c.CommenterID,
			Kind:        id.Kind,
			Platform:    id.Platform,
			Value:       id.Value,
			Normalized:  id.Normalized,
		})
	}
	return s.repo.SaveIdentifiers(ctx, rows)
}

// List returns the account's flagged commenters, riskiest first.
func (s *SuspiciousService) List(ctx context.Context, accountID uint, limit, offset int) ([]*models.SuspiciousAccount, error) {
	return s.repo.ListByAccount(ctx, accountID, limit, offset)
}
