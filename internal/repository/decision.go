package repository

import (
	"context"
	"errors"

	"commentguard/internal/models"

	"gorm.io/gorm"
)

// DecisionRepository appends moderation decisions and their evidence.
type DecisionRepository interface {
	Create(ctx context.Context, decision *models.ModerationDecision) error
	// Latest returns the active decision for a comment, or nil when it was never classified.
	Latest(ctx context.Context, commentID uint) (*models.ModerationDecision, error)
	ListByComment(ctx context.Context, commentID uint) ([]*models.ModerationDecision, error)
	CreateEvidence(ctx context.Context, evidence *models.EvidenceRecord) error
	EvidenceByComment(ctx context.Context, commentID uint) ([]*models.EvidenceRecord, error)
}

type decisionRepository struct {
	db *gorm.DB
}

// NewDecisionRepository creates a new DecisionRepository
func NewDecisionRepository(db *gorm.DB) DecisionRepository {
	return &decisionRepository{db: db}
}

func (r *decisionRepository) Create(ctx context.Context, decision *models.ModerationDecision) error {
	return r.db.WithContext(ctx).Create(decision).Error
}

func (r *decisionRepository) Latest(ctx context.Context, commentID uint) (*models.ModerationDecision, error) {
	var d models.ModerationDecision
	err := r.db.WithContext(ctx).
		Where("comment_id = ?", commentID).
		Order("created_at desc, id desc").
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *decisionRepository) ListByComment(ctx context.Context, commentID uint) ([]*models.ModerationDecision, error) {
	var out []*models.ModerationDecision
	err := r.db.WithContext(ctx).Where("comment_id = ?", commentID).Order("created_at desc, id desc").Find(&out).Error
	return out, err
}

func (r *decisionRepository) CreateEvidence(ctx context.Context, evidence *models.EvidenceRecord) error {
	if err := r.db.WithContext(ctx).Create(evidence).Error; err != nil {
		if isUniqueViolation(err) {
			return models.NewConflictError("evidence already recorded for this decision")
		}
		return err
	}
	return nil
}

func (r *decisionRepository) EvidenceByComment(ctx context.Context, commentID uint) ([]*models.EvidenceRecord, error) {
	var out []*models.EvidenceRecord
	err := r.db.WithContext(ctx).Where("comment_id = ?", commentID).Order("created_at desc, id desc").Find(&out).Error
	return out, err
}
