package repository

import (
	"context"
	"errors"

	"commentguard/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SuspiciousRepository persists per-commenter aggregates and extracted identifiers.
type SuspiciousRepository interface {
	// Get returns nil without error when the commenter has no record yet.
	Get(ctx context.Context, accountID uint, commenterID string) (*models.SuspiciousAccount, error)
	Save(ctx context.Context, s *models.SuspiciousAccount) error
	ListByAccount(ctx context.Context, accountID uint, limit, offset int) ([]*models.SuspiciousAccount, error)

	// SaveIdentifiers inserts identifiers, ignoring ones already stored for the comment.
	SaveIdentifiers(ctx context.Context, ids []models.ExtractedIdentifier) error
	// ListSharedIdentifiers returns identifiers whose normalized form occurs more than once.
	ListSharedIdentifiers(ctx context.Context) ([]models.ExtractedIdentifier, error)
}

type suspiciousRepository struct {
	db *gorm.DB
}

// NewSuspiciousRepository creates a new SuspiciousRepository
func NewSuspiciousRepository(db *gorm.DB) SuspiciousRepository {
	return &suspiciousRepository{db: db}
}

func (r *suspiciousRepository) Get(ctx context.Context, accountID uint, commenterID string) (*models.SuspiciousAccount, error) {
	var s models.SuspiciousAccount
	err := r.db.WithContext(ctx).Where("account_id = ? AND commenter_id = ?", accountID, commenterID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *suspiciousRepository) Save(ctx context.Context, s *models.SuspiciousAccount) error {
	if s.ID != 0 {
		return r.db.WithContext(ctx).Save(s).Error
	}
	err := r.db.WithContext(ctx).Create(s).Error
	if isUniqueViolation(err) {
		return models.NewConflictError("suspicious account record already exists")
	}
	return err
}

func (r *suspiciousRepository) ListByAccount(ctx context.Context, accountID uint, limit, offset int) ([]*models.SuspiciousAccount, error) {
	limit, offset = clampPage(limit, offset)
	var out []*models.SuspiciousAccount
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND flagged_count > 0", accountID).
		Order("peak_risk desc, flagged_count desc, id asc").
		Limit(limit).Offset(offset).
		Find(&out).Error
	return out, err
}

func (r *suspiciousRepository) SaveIdentifiers(ctx context.Context, ids []models.ExtractedIdentifier) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ids).Error
}

func (r *suspiciousRepository) ListSharedIdentifiers(ctx context.Context) ([]models.ExtractedIdentifier, error) {
	shared := r.db.Model(&models.ExtractedIdentifier{}).
		Select("normalized").
		Group("normalized").
		Having("COUNT(*) > 1")

	var out []models.ExtractedIdentifier
	err := r.db.WithContext(ctx).
		Where("normalized IN (?)", shared).
		Order("normalized asc, id asc").
		Find(&out).Error
	return out, err
}
