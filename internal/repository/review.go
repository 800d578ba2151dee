package repository

import (
	"context"

	"commentguard/internal/models"

	"gorm.io/gorm"
)

// ReviewRepository stores human review actions and the rules they mint.
type ReviewRepository interface {
	CreateAction(ctx context.Context, action *models.ReviewAction) error
	ListActions(ctx context.Context, commentID uint) ([]*models.ReviewAction, error)

	CreatePrecedent(ctx context.Context, p *models.Precedent) error
	ListPrecedents(ctx context.Context, accountID uint) ([]models.Precedent, error)
	DisablePrecedent(ctx context.Context, id uint) error
	// LinkPrecedent records which review action minted the precedent.
	LinkPrecedent(ctx context.Context, precedentID, reviewActionID uint) error

	CreateFilter(ctx context.Context, f *models.CustomFilter) error
	// ListFilters returns enabled filters scoped to accountID plus global ones.
	ListFilters(ctx context.Context, accountID uint) ([]models.CustomFilter, error)
}

type reviewRepository struct {
	db *gorm.DB
}

// NewReviewRepository creates a new ReviewRepository
func NewReviewRepository(db *gorm.DB) ReviewRepository {
	return &reviewRepository{db: db}
}

func (r *reviewRepository) CreateAction(ctx context.Context, action *models.ReviewAction) error {
	return r.db.WithContext(ctx).Create(action).Error
}

func (r *reviewRepository) ListActions(ctx context.Context, commentID uint) ([]*models.ReviewAction, error) {
	var out []*models.ReviewAction
	err := r.db.WithContext(ctx).Where("comment_id = ?", commentID).Order("created_at desc, id desc").Find(&out).Error
	return out, err
}

func (r *reviewRepository) CreatePrecedent(ctx context.Context, p *models.Precedent) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *reviewRepository) ListPrecedents(ctx context.Context, accountID uint) ([]models.Precedent, error) {
	var out []models.Precedent
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND enabled = ?", accountID, true).
		Order("id asc").
		Find(&out).Error
	return out, err
}

func (r *reviewRepository) DisablePrecedent(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.Precedent{}).Where("id = ?", id).Update("enabled", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Precedent", id)
	}
	return nil
}

func (r *reviewRepository) LinkPrecedent(ctx context.Context, precedentID, reviewActionID uint) error {
	return r.db.WithContext(ctx).Model(&models.Precedent{}).Where("id = ?", precedentID).
		Update("review_action_id", reviewActionID).Error
}

func (r *reviewRepository) CreateFilter(ctx context.Context, f *models.CustomFilter) error {
	return r.db.WithContext(ctx).Create(f).Error
}

func (r *reviewRepository) ListFilters(ctx context.Context, accountID uint) ([]models.CustomFilter, error) {
	var out []models.CustomFilter
	err := r.db.WithContext(ctx).
		Where("enabled = ? AND (account_id IS NULL OR account_id = ?)", true, accountID).
		Order("id asc").
		Find(&out).Error
	return out, err
}
