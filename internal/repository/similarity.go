package repository

import (
	"context"

	"commentguard/internal/models"
	"commentguard/internal/similarity"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// scanWindow bounds the in-process fallback scan on databases without pgvector.
const scanWindow = 5000

// SimilarityRepository answers nearest-neighbor queries over comment embeddings.
type SimilarityRepository interface {
	// NearestComments returns up to limit comments of accountID from commenters other
	// than target's whose cosine similarity to target exceeds threshold.
	NearestComments(ctx context.Context, target *models.Comment, threshold float64, limit int) ([]similarity.Neighbor, error)
	// SampleEmbeddings returns up to n random stored embeddings of accountID.
	SampleEmbeddings(ctx context.Context, accountID uint, n int) ([][]float32, error)
}

type similarityRepository struct {
	db *gorm.DB
}

// NewSimilarityRepository creates a new SimilarityRepository
func NewSimilarityRepository(db *gorm.DB) SimilarityRepository {
	return &similarityRepository{db: db}
}

type scoredComment struct {
	models.Comment `gorm:"embedded"`
	Similarity     float64
}

func (r *similarityRepository) NearestComments(ctx context.Context, target *models.Comment, threshold float64, limit int) ([]similarity.Neighbor, error) {
	vec := target.EmbeddingSlice()
	if len(vec) == 0 || limit <= 0 {
		return nil, nil
	}
	if r.db.Dialector.Name() != "postgres" {
		return r.scanNearest(ctx, target, threshold, limit)
	}

	q := pgvector.NewVector(vec)
	var rows []scoredComment
	err := r.db.WithContext(ctx).Raw(`
SELECT *, 1 - (embedding <=> ?) AS similarity
FROM comments
WHERE account_id = ? AND embedding IS NOT NULL AND id <> ? AND commenter_id <> ?
  AND 1 - (embedding <=> ?) > ?
ORDER BY embedding <=> ?
LIMIT ?`, q, target.AccountID, target.ID, target.CommenterID, q, threshold, q, limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]similarity.Neighbor, 0, len(rows))
	for _, row := range rows {
		out = append(out, similarity.Neighbor{Comment: row.Comment, Similarity: row.Similarity})
	}
	return out, nil
}

func (r *similarityRepository) scanNearest(ctx context.Context, target *models.Comment, threshold float64, limit int) ([]similarity.Neighbor, error) {
	var candidates []models.Comment
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND embedding IS NOT NULL AND id <> ? AND commenter_id <> ?", target.AccountID, target.ID, target.CommenterID).
		Order("id desc").
		Limit(scanWindow).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	return similarity.TopK(*target, candidates, threshold, limit), nil
}

func (r *similarityRepository) SampleEmbeddings(ctx context.Context, accountID uint, n int) ([][]float32, error) {
	if n <= 0 {
		return nil, nil
	}
	var rows []models.Comment
	err := r.db.WithContext(ctx).
		Select("id", "embedding").
		Where("account_id = ? AND embedding IS NOT NULL", accountID).
		Order("RANDOM()").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(rows))
	for i := range rows {
		if v := rows[i].EmbeddingSlice(); len(v) > 0 {
			out = append(out, v)
		}
	}
	return out, nil
}
