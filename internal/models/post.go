// Package models contains data structures for the application's domain models.
package models

import (
	"time"
)

// Account is a connected social-media account whose comments are moderated.
// Account CRUD is owned by an external service; this table is read and updated
// only for sync bookkeeping.
type Account struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	OwnerID         uint       `gorm:"index" json:"owner_id"`
	Platform        string     `gorm:"size:32;not null;default:instagram" json:"platform"`
	ExternalID      string     `gorm:"size:128;not null;uniqueIndex" json:"external_id"`
	DisplayName     string     `gorm:"size:255" json:"display_name"`
	SealedToken     string     `gorm:"type:text" json:"-"`
	IsActive        bool       `gorm:"index" json:"is_active"`
	FollowerCount   int64      `json:"follower_count"`
	FollowerCountAt *time.Time `json:"follower_count_at,omitempty"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`
	LastDeepSyncAt  *time.Time `json:"last_deep_sync_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Post is a remote post observed during sync.
type Post struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	AccountID  uint   `gorm:"not null;uniqueIndex:idx_posts_account_external" json:"account_id"`
	ExternalID string `gorm:"size:128;not null;uniqueIndex:idx_posts_account_external" json:"external_id"`
	Caption    string `gorm:"type:text" json:"caption"`
	PostedAt   time.Time `gorm:"index" json:"posted_at"`
	// CommentCount is the platform-reported count at the last inspection.
	CommentCount  int        `json:"comment_count"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
