package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"commentguard/internal/models"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// CommentFilter selects comments for the review queue.
type CommentFilter string

const (
	FilterAll        CommentFilter = "all"
	FilterFlagged    CommentFilter = "flagged"
	FilterHidden     CommentFilter = "hidden"
	FilterDeleted    CommentFilter = "deleted"
	FilterUnreviewed CommentFilter = "unreviewed"
)

// ParseCommentFilter defaults an empty value to FilterAll.
func ParseCommentFilter(s string) (CommentFilter, bool) {
	f := CommentFilter(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case "":
		return FilterAll, true
	case FilterAll, FilterFlagged, FilterHidden, FilterDeleted, FilterUnreviewed:
		return f, true
	default:
		return "", false
	}
}

// CommentRepository defines interface for comment operations
type CommentRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Comment, error)
	// FindByExternalIDs returns stored comments of accountID keyed by external id.
	FindByExternalIDs(ctx context.Context, accountID uint, externalIDs []string) (map[string]*models.Comment, error)
	// FindByExternalID returns nil without error when the comment is unknown.
	FindByExternalID(ctx context.Context, accountID uint, externalID string) (*models.Comment, error)
	Create(ctx context.Context, comment *models.Comment) error
	// UpdateText stores new remote text and resets the comment to NEW. Any
	// earlier review verdict is cleared so the new text is judged afresh.
	UpdateText(ctx context.Context, comment *models.Comment) error
	UpdateVisibility(ctx context.Context, id uint, hidden bool) error
	UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error
	// TransitionStatus moves the comment to `to` only if its status is one of from.
	TransitionStatus(ctx context.Context, id uint, to models.ModerationStatus, from ...models.ModerationStatus) (bool, error)
	SaveEmbedding(ctx context.Context, id uint, vec []float32) error
	// ListUnembedded returns the NEW comments among ids that have no embedding yet.
	ListUnembedded(ctx context.Context, ids []uint) ([]*models.Comment, error)
	ListForReview(ctx context.Context, accountID uint, filter CommentFilter, limit, offset int) ([]*models.Comment, int64, error)
	CountByCommenterSince(ctx context.Context, accountID uint, commenterID string, since time.Time) (int64, error)
	// ListPendingIDs returns comments of accountID still waiting in NEW, oldest first.
	ListPendingIDs(ctx context.Context, accountID uint, limit int) ([]uint, error)
}

type commentRepository struct {
	db *gorm.DB
}

// NewCommentRepository creates a new CommentRepository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) GetByID(ctx context.Context, id uint) (*models.Comment, error) {
	var comment models.Comment
	if err := r.db.WithContext(ctx).First(&comment, id).Error; err != nil {
		return nil, notFound(err, "Comment", id)
	}
	return &comment, nil
}

func (r *commentRepository) FindByExternalIDs(ctx context.Context, accountID uint, externalIDs []string) (map[string]*models.Comment, error) {
	out := make(map[string]*models.Comment, len(externalIDs))
	if len(externalIDs) == 0 {
		return out, nil
	}
	var comments []*models.Comment
	if err := r.db.WithContext(ctx).
		Omit("embedding").
		Where("account_id = ? AND external_id IN ?", accountID, externalIDs).
		Find(&comments).Error; err != nil {
		return nil, err
	}
	for _, c := range comments {
		out[c.ExternalID] = c
	}
	return out, nil
}

func (r *commentRepository) FindByExternalID(ctx context.Context, accountID uint, externalID string) (*models.Comment, error) {
	var comment models.Comment
	err := r.db.WithContext(ctx).Omit("embedding").
		Where("account_id = ? AND external_id = ?", accountID, externalID).
		First(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

func (r *commentRepository) ListUnembedded(ctx context.Context, ids []uint) ([]*models.Comment, error) {
	var comments []*models.Comment
	if len(ids) == 0 {
		return comments, nil
	}
	err := r.db.WithContext(ctx).
		Select("id", "account_id", "text").
		Where("id IN ? AND status = ? AND embedding IS NULL", ids, models.StatusNew).
		Order("id").
		Find(&comments).Error
	return comments, err
}

func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	if comment.Status == "" {
		comment.Status = models.StatusNew
	}
	comment.TextHash = models.HashText(comment.Text)
	return r.db.WithContext(ctx).Create(comment).Error
}

func (r *commentRepository) UpdateText(ctx context.Context, comment *models.Comment) error {
	comment.TextHash = models.HashText(comment.Text)
	comment.Status = models.StatusNew
	comment.Embedding = nil
	comment.ReviewedAt = nil
	comment.ReviewAction = ""
	comment.IsAllowed = false
	return r.db.WithContext(ctx).Model(&models.Comment{}).Where("id = ?", comment.ID).
		Updates(map[string]interface{}{
			"text":           comment.Text,
			"text_hash":      comment.TextHash,
			"commenter_name": comment.CommenterName,
			"is_hidden":      comment.IsHidden,
			"status":         comment.Status,
			"embedding":      gorm.Expr("NULL"),
			"reviewed_at":    gorm.Expr("NULL"),
			"review_action":  "",
			"is_allowed":     false,
			"updated_at":     time.Now(),
		}).Error
}

func (r *commentRepository) UpdateVisibility(ctx context.Context, id uint, hidden bool) error {
	return r.db.WithContext(ctx).Model(&models.Comment{}).Where("id = ?", id).
		Updates(map[string]interface{}{"is_hidden": hidden, "updated_at": time.Now()}).Error
}

func (r *commentRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now()
	}
	return r.db.WithContext(ctx).Model(&models.Comment{}).Where("id = ?", id).Updates(fields).Error
}

func (r *commentRepository) TransitionStatus(ctx context.Context, id uint, to models.ModerationStatus, from ...models.ModerationStatus) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.Comment{}).Where("id = ?", id)
	if len(from) > 0 {
		q = q.Where("status IN ?", from)
	}
	res := q.Updates(map[string]interface{}{"status": to, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *commentRepository) SaveEmbedding(ctx context.Context, id uint, vec []float32) error {
	return r.db.WithContext(ctx).Model(&models.Comment{}).Where("id = ?", id).
		Update("embedding", pgvector.NewVector(vec)).Error
}

func applyCommentFilter(q *gorm.DB, filter CommentFilter) *gorm.DB {
	switch filter {
	case FilterFlagged:
		return q.Where("status = ?", models.StatusFlaggedForReview)
	case FilterHidden:
		return q.Where("is_hidden = ?", true)
	case FilterDeleted:
		return q.Where("is_deleted = ?", true)
	case FilterUnreviewed:
		return q.Where("reviewed_at IS NULL AND status IN ?",
			[]models.ModerationStatus{models.StatusFlaggedForReview, models.StatusAutoHidden})
	default:
		return q
	}
}

func (r *commentRepository) ListForReview(ctx context.Context, accountID uint, filter CommentFilter, limit, offset int) ([]*models.Comment, int64, error) {
	limit, offset = clampPage(limit, offset)

	var total int64
	countQ := applyCommentFilter(r.db.WithContext(ctx).Model(&models.Comment{}).Where("account_id = ?", accountID), filter)
	if err := countQ.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var comments []*models.Comment
	q := applyCommentFilter(r.db.WithContext(ctx).Omit("embedding").Where("account_id = ?", accountID), filter)
	if err := q.Order("commented_at desc, id desc").Limit(limit).Offset(offset).Find(&comments).Error; err != nil {
		return nil, 0, err
	}
	return comments, total, nil
}

func (r *commentRepository) CountByCommenterSince(ctx context.Context, accountID uint, commenterID string, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("account_id = ? AND commenter_id = ? AND commented_at >= ?", accountID, commenterID, since).
		Count(&n).Error
	return n, err
}

func (r *commentRepository) ListPendingIDs(ctx context.Context, accountID uint, limit int) ([]uint, error) {
	limit, _ = clampPage(limit, 0)
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("account_id = ? AND status = ?", accountID, models.StatusNew).
		Order("id asc").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
