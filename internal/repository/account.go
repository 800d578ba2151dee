package repository

import (
	"context"
	"errors"
	"time"

	"commentguard/internal/models"

	"gorm.io/gorm"
)

// AccountRepository reads connected accounts and records sync bookkeeping.
type AccountRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Account, error)
	ListActiveIDs(ctx context.Context) ([]uint, error)
	MarkSynced(ctx context.Context, id uint, deep bool, at time.Time) error
	UpdateFollowerCount(ctx context.Context, id uint, count int64, at time.Time) error
	// CategorySetting returns the account override for cat, or nil when none exists.
	CategorySetting(ctx context.Context, id uint, cat models.Category) (*models.AccountCategorySetting, error)
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) GetByID(ctx context.Context, id uint) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).First(&account, id).Error; err != nil {
		return nil, notFound(err, "Account", id)
	}
	return &account, nil
}

func (r *accountRepository) ListActiveIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("is_active = ?", true).
		Order("id asc").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *accountRepository) MarkSynced(ctx context.Context, id uint, deep bool, at time.Time) error {
	updates := map[string]interface{}{"last_synced_at": at}
	if deep {
		updates["last_deep_sync_at"] = at
	}
	return r.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Updates(updates).Error
}

func (r *accountRepository) UpdateFollowerCount(ctx context.Context, id uint, count int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).
		Updates(map[string]interface{}{"follower_count": count, "follower_count_at": at}).Error
}

func (r *accountRepository) CategorySetting(ctx context.Context, id uint, cat models.Category) (*models.AccountCategorySetting, error) {
	var s models.AccountCategorySetting
	err := r.db.WithContext(ctx).Where("account_id = ? AND category = ?", id, cat).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
