package repository

import (
	"context"

	"commentguard/internal/models"

	"gorm.io/gorm"
)

// PostRepository stores remote posts observed during sync.
type PostRepository interface {
	// FindByExternalIDs returns the stored posts of accountID keyed by external id.
	FindByExternalIDs(ctx context.Context, accountID uint, externalIDs []string) (map[string]*models.Post, error)
	Create(ctx context.Context, post *models.Post) error
	Update(ctx context.Context, post *models.Post) error
}

type postRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) FindByExternalIDs(ctx context.Context, accountID uint, externalIDs []string) (map[string]*models.Post, error) {
	out := make(map[string]*models.Post, len(externalIDs))
	if len(externalIDs) == 0 {
		return out, nil
	}
	var posts []*models.Post
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND external_id IN ?", accountID, externalIDs).
		Find(&posts).Error; err != nil {
		return nil, err
	}
	for _, p := range posts {
		out[p.ExternalID] = p
	}
	return out, nil
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	return r.db.WithContext(ctx).Create(post).Error
}

func (r *postRepository) Update(ctx context.Context, post *models.Post) error {
	return r.db.WithContext(ctx).Model(post).Select("caption", "comment_count", "last_checked_at", "updated_at").Updates(post).Error
}
