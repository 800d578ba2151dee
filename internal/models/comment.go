package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pgvector/pgvector-go"
)

// EmbeddingDimensions is the fixed vector size stored for comments and precedents.
const EmbeddingDimensions = 1536

// Comment is a remote comment or reply under a moderated post.
type Comment struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	AccountID        uint   `gorm:"not null;uniqueIndex:idx_comments_account_external;index:idx_comments_account_status" json:"account_id"`
	PostID           uint   `gorm:"not null;index" json:"post_id"`
	ExternalID       string `gorm:"size:128;not null;uniqueIndex:idx_comments_account_external" json:"external_id"`
	ParentID         *uint  `gorm:"index" json:"parent_id,omitempty"`
	ParentExternalID string `gorm:"size:128" json:"parent_external_id,omitempty"`
	Text             string `gorm:"type:text;not null" json:"text"`
	TextHash         string `gorm:"size:64;not null" json:"-"`
	CommenterID      string `gorm:"size:128;not null;index" json:"commenter_id"`
	CommenterName    string `gorm:"size:255" json:"commenter_name"`
	CommentedAt      time.Time `json:"commented_at"`

	Status ModerationStatus `gorm:"size:32;not null;default:NEW;index:idx_comments_account_status" json:"status"`

	IsDeleted         bool       `gorm:"default:false" json:"is_deleted"`
	PlatformDeletedAt *time.Time `json:"platform_deleted_at,omitempty"`
	DeleteError       string     `gorm:"type:text" json:"delete_error,omitempty"`

	IsHidden  bool       `gorm:"default:false" json:"is_hidden"`
	HiddenAt  *time.Time `json:"hidden_at,omitempty"`
	HideError string     `gorm:"type:text" json:"hide_error,omitempty"`

	IsBlocked  bool       `gorm:"default:false" json:"is_blocked"`
	BlockedAt  *time.Time `json:"blocked_at,omitempty"`
	BlockError string     `gorm:"type:text" json:"block_error,omitempty"`

	IsRestricted  bool       `gorm:"default:false" json:"is_restricted"`
	RestrictedAt  *time.Time `json:"restricted_at,omitempty"`
	RestrictError string     `gorm:"type:text" json:"restrict_error,omitempty"`

	IsReported  bool       `gorm:"default:false" json:"is_reported"`
	ReportedAt  *time.Time `json:"reported_at,omitempty"`
	ReportError string     `gorm:"type:text" json:"report_error,omitempty"`

	IsApproved   bool       `gorm:"default:false" json:"is_approved"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	ApproveError string     `gorm:"type:text" json:"approve_error,omitempty"`

	Embedding *pgvector.Vector `gorm:"type:vector(1536)" json:"-"`

	ReviewedAt   *time.Time       `json:"reviewed_at,omitempty"`
	ReviewAction ReviewActionType `gorm:"size:32" json:"review_action,omitempty"`
	IsAllowed    bool             `gorm:"default:false" json:"is_allowed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HashText returns the change-detection hash stored in TextHash.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// EmbeddingSlice returns the stored embedding or nil.
func (c *Comment) EmbeddingSlice() []float32 {
	if c.Embedding == nil {
		return nil
	}
	return c.Embedding.Slice()
}

// SetEmbedding stores vec as the comment embedding.
func (c *Comment) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		c.Embedding = nil
		return
	}
	v := pgvector.NewVector(vec)
	c.Embedding = &v
}
