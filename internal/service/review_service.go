package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"commentguard/internal/cache"
	"commentguard/internal/classifier"
	"commentguard/internal/middleware"
	"commentguard/internal/models"
	"commentguard/internal/notifications"
	"commentguard/internal/observability"
	"commentguard/internal/repository"
	"commentguard/internal/similarity"
	"commentguard/internal/validation"

	"github.com/pgvector/pgvector-go"
)

// ErrEnforcement means the reviewer's verdict was recorded but the platform
// rejected it. The comment stays in the review queue.
var ErrEnforcement = errors.New("review enforcement failed")

const maxSimilarLimit = 50

// ReviewService applies human verdicts and turns "similar" verdicts into
// precedents and custom filters.
type ReviewService struct {
	accounts   repository.AccountRepository
	comments   repository.CommentRepository
	decisions  repository.DecisionRepository
	reviews    repository.ReviewRepository
	similarity repository.SimilarityRepository
	executor   *ActionExecutor
	classifier *classifier.Classifier
	publisher  notifications.Publisher
	now        func() time.Time
}

// NewReviewService returns a new ReviewService. publisher may be nil.
func NewReviewService(
	accounts repository.AccountRepository,
	comments repository.CommentRepository,
	decisions repository.DecisionRepository,
	reviews repository.ReviewRepository,
	sim repository.SimilarityRepository,
	executor *ActionExecutor,
	cls *classifier.Classifier,
	publisher notifications.Publisher,
) *ReviewService {
	return &ReviewService{
		accounts:   accounts,
		comments:   comments,
		decisions:  decisions,
		reviews:    reviews,
		similarity: sim,
		executor:   executor,
		classifier: cls,
		publisher:  publisher,
		now:        time.Now,
	}
}

type SubmitReviewInput struct {
	CommentID  uint
	ReviewerID uint
	Action     models.ReviewActionType
	// SimilarityThreshold applies to the minted precedent; nil uses the account's
	// sampled threshold at match time.
	SimilarityThreshold *float64
	Notes               string
	// Category overrides the category recorded on a minted precedent or filter.
	Category models.Category
}

type ReviewResult struct {
	Action       *models.ReviewAction    `json:"action"`
	Status       models.ModerationStatus `json:"status"`
	Confirmation *Confirmation           `json:"confirmation,omitempty"`
	Precedent    *models.Precedent       `json:"precedent,omitempty"`
	Filter       *models.CustomFilter    `json:"filter,omitempty"`
}

func (in *SubmitReviewInput) validate() error {
	if _, ok := models.ParseReviewAction(string(in.Action)); !ok {
		return models.NewValidationError("Unknown review action")
	}
	if t := in.SimilarityThreshold; t != nil && (*t <= 0 || *t > 1) {
		return models.NewValidationError("similarity_threshold must be in (0, 1]")
	}
	if in.Category != "" && !in.Category.Valid() {
		return models.NewValidationError("Unknown category")
	}
	notes, err := validation.NormalizeReviewNotes(in.Notes)
	if err != nil {
		return models.NewValidationError(err.Error())
	}
	in.Notes = notes
	return nil
}

// Submit records a reviewer's verdict on a FLAGGED_FOR_REVIEW or AUTO_HIDDEN comment.
func (s *ReviewService) Submit(ctx context.Context, in SubmitReviewInput) (*ReviewResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	c, err := s.comments.GetByID(ctx, in.CommentID)
	if err != nil {
		return nil, err
	}
	if !c.Status.Reviewable() {
		return nil, models.NewConflictError(fmt.Sprintf("Comment is %s and cannot be reviewed", c.Status))
	}
	account, err := s.accounts.GetByID(ctx, c.AccountID)
	if err != nil {
		return nil, err
	}

	conf, enfErr := s.executor.Enforce(ctx, account, c, in.Action.Enforcement())

	action := &models.ReviewAction{
		CommentID:           c.ID,
		AccountID:           c.AccountID,
		Action:              in.Action,
		ReviewerID:          in.ReviewerID,
		SimilarityThreshold: in.SimilarityThreshold,
		Notes:               in.Notes,
	}
	res := &ReviewResult{Action: action, Status: c.Status, Confirmation: conf}

	if enfErr != nil {
		action.EnforcementError = enfErr.Error()
		if err := s.reviews.CreateAction(ctx, action); err != nil {
			return nil, fmt.Errorf("store review action: %w", err)
		}
		observability.ReviewActions.WithLabelValues(string(in.Action)).Inc()
		return res, fmt.Errorf("%w: %v", ErrEnforcement, enfErr)
	}

	// Rules are minted only once this review owns the status change.
	status := in.Action.ReviewedStatus()
	ok, err := s.comments.TransitionStatus(ctx, c.ID, status, models.StatusFlaggedForReview, models.StatusAutoHidden)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewConflictError("Comment was reviewed concurrently")
	}
	res.Status = status

	if err := s.comments.UpdateFields(ctx, c.ID, map[string]interface{}{
		"reviewed_at":   s.now(),
		"review_action": in.Action,
		"is_allowed":    in.Action.Enforcement() == models.ActionAllow,
	}); err != nil {
		return nil, err
	}

	if in.Action.Similar() {
		if err := s.mint(ctx, c, in, res); err != nil {
			return nil, err
		}
	}
	if err := s.reviews.CreateAction(ctx, action); err != nil {
		return nil, fmt.Errorf("store review action: %w", err)
	}
	if res.Precedent != nil {
		if err := s.reviews.LinkPrecedent(ctx, res.Precedent.ID, action.ID); err != nil {
			return nil, err
		}
		res.Precedent.ReviewActionID = action.ID
	}
	observability.ReviewActions.WithLabelValues(string(in.Action)).Inc()

	cache.InvalidateReviewState(ctx, c.AccountID)
	if s.publisher != nil {
		if err := s.publisher.PublishReviewEvent(ctx, notifications.ReviewEvent{
			Type:      notifications.EventCommentReviewed,
			AccountID: c.AccountID,
			CommentID: c.ID,
			Status:    string(status),
			Action:    string(in.Action),
		}); err != nil {
			middleware.Logger.WarnContext(ctx, "failed to publish review event", slog.String("error", err.Error()))
		}
	}

	middleware.Logger.InfoContext(ctx, "review applied",
		slog.Uint64("comment_id", uint64(c.ID)),
		slog.Uint64("reviewer_id", uint64(in.ReviewerID)),
		slog.String("action", string(in.Action)),
		slog.String("status", string(status)),
	)
	return res, nil
}

// mint creates the precedent, and for hide/delete verdicts the custom filter, that
// let future pipeline runs repeat this verdict.
func (s *ReviewService) mint(ctx context.Context, c *models.Comment, in SubmitReviewInput, res *ReviewResult) error {
	cat, err := s.verdictCategory(ctx, c, in)
	if err != nil {
		return err
	}

	if vec := c.EmbeddingSlice(); len(vec) > 0 {
		p := &models.Precedent{
			AccountID:       c.AccountID,
			SourceCommentID: c.ID,
			Action:          in.Action,
			Category:        cat,
			Embedding:       pgvector.NewVector(vec),
			Enabled:         true,
		}
		if in.SimilarityThreshold != nil {
			p.Threshold = *in.SimilarityThreshold
		}
		if err := s.reviews.CreatePrecedent(ctx, p); err != nil {
			return fmt.Errorf("store precedent: %w", err)
		}
		res.Precedent = p
		res.Action.PrecedentID = &p.ID
	} else {
		middleware.Logger.WarnContext(ctx, "comment has no embedding, precedent not minted",
			slog.Uint64("comment_id", uint64(c.ID)))
	}

	enforcement := in.Action.Enforcement()
	if enforcement == models.ActionAllow {
		return nil
	}
	accountID := c.AccountID
	f := &models.CustomFilter{
		AccountID:  &accountID,
		Name:       fmt.Sprintf("Reviewed %s #%d", in.Action, c.ID),
		Prompt:     s.classifier.GenerateFilterPrompt(ctx, c.Text, cat, in.Action),
		Category:   cat,
		AutoHide:   enforcement == models.ActionHide,
		AutoDelete: enforcement == models.ActionDelete,
		AutoFlag:   true,
		Enabled:    true,
		CreatedBy:  in.ReviewerID,
	}
	if err := s.reviews.CreateFilter(ctx, f); err != nil {
		return fmt.Errorf("store custom filter: %w", err)
	}
	res.Filter = f
	res.Action.CustomFilterID = &f.ID
	return nil
}

func (s *ReviewService) verdictCategory(ctx context.Context, c *models.Comment, in SubmitReviewInput) (models.Category, error) {
	cat := in.Category
	if cat == "" {
		latest, err := s.decisions.Latest(ctx, c.ID)
		if err != nil {
			return "", err
		}
		cat = models.CategoryBenign
		if latest != nil {
			cat = latest.Category
		}
	}
	if in.Action.Enforcement() != models.ActionAllow && !cat.Harmful() {
		cat = models.CategorySpam
	}
	return cat, nil
}

// ListForReview pages an account's comments through one of the review filters.
func (s *ReviewService) ListForReview(ctx context.Context, accountID uint, filter string, limit, offset int) ([]*models.Comment, int64, error) {
	f, ok := repository.ParseCommentFilter(filter)
	if !ok {
		return nil, 0, models.NewValidationError("filter must be one of all, flagged, hidden, deleted, unreviewed")
	}
	return s.comments.ListForReview(ctx, accountID, f, limit, offset)
}

// Similar finds near-duplicates of a comment from other commenters. A zero
// threshold uses the account's sampled threshold.
func (s *ReviewService) Similar(ctx context.Context, commentID uint, threshold float64, limit int) ([]similarity.Neighbor, error) {
	if threshold < 0 || threshold > 1 {
		return nil, models.NewValidationError("threshold must be in [0, 1]")
	}
	if limit <= 0 || limit > maxSimilarLimit {
		limit = maxSimilarLimit
	}
	c, err := s.comments.GetByID(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if len(c.EmbeddingSlice()) == 0 {
		return []similarity.Neighbor{}, nil
	}
	if threshold == 0 {
		if threshold, err = accountThreshold(ctx, s.similarity, c.AccountID); err != nil {
			return nil, err
		}
	}
	return s.similarity.NearestComments(ctx, c, threshold, limit)
}

// EvidenceBundle is the audit trail of one comment.
type EvidenceBundle struct {
	Comment   *models.Comment              `json:"comment"`
	Decisions []*models.ModerationDecision `json:"decisions"`
	Evidence  []*models.EvidenceRecord     `json:"evidence"`
	Reviews   []*models.ReviewAction       `json:"reviews"`
}

// Evidence returns every decision, evidence record and review of a comment, newest first.
func (s *ReviewService) Evidence(ctx context.Context, commentID uint) (*EvidenceBundle, error) {
	c, err := s.comments.GetByID(ctx, commentID)
	if err != nil {
		return nil, err
	}
	decisions, err := s.decisions.ListByComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	evidence, err := s.decisions.EvidenceByComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	reviews, err := s.reviews.ListActions(ctx, commentID)
	if err != nil {
		return nil, err
	}
	return &EvidenceBundle{Comment: c, Decisions: decisions, Evidence: evidence, Reviews: reviews}, nil
}
