package models

import "time"

// SuspiciousAccount aggregates one commenter's history on one moderated account.
type SuspiciousAccount struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	AccountID      uint           `gorm:"not null;uniqueIndex:idx_suspicious_account_commenter" json:"account_id"`
	CommenterID    string         `gorm:"size:128;not null;uniqueIndex:idx_suspicious_account_commenter" json:"commenter_id"`
	CommenterName  string         `gorm:"size:255" json:"commenter_name"`
	CategoryCounts map[string]int `gorm:"type:text;serializer:json" json:"category_counts"`
	TotalComments  int            `json:"total_comments"`
	FlaggedCount   int            `json:"flagged_count"`
	AverageRisk    float64        `json:"average_risk"`
	PeakRisk       int            `json:"peak_risk"`
	// Velocity is the number of comments seen in the trailing hour at the last update.
	Velocity      float64   `json:"velocity"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastSeenAt    time.Time `gorm:"index" json:"last_seen_at"`
	IsBlocked     bool      `gorm:"default:false" json:"is_blocked"`
	IsWatchlisted bool      `gorm:"default:false" json:"is_watchlisted"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AgeDays returns whole days since the commenter was first seen.
func (s *SuspiciousAccount) AgeDays(now time.Time) int {
	if s.FirstSeenAt.IsZero() || now.Before(s.FirstSeenAt) {
		return 0
	}
	return int(now.Sub(s.FirstSeenAt).Hours() / 24)
}

// IdentifierKind classifies an extracted identifier.
type IdentifierKind string

const (
	IdentifierPayment IdentifierKind = "payment"
	IdentifierContact IdentifierKind = "contact"
	IdentifierURL     IdentifierKind = "url"
	IdentifierHandle  IdentifierKind = "handle"
)

// ExtractedIdentifier is a payment handle, contact method or URL found in a comment.
type ExtractedIdentifier struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	CommentID   uint           `gorm:"not null;uniqueIndex:idx_identifiers_comment_normalized" json:"comment_id"`
	AccountID   uint           `gorm:"not null;index" json:"account_id"`
	CommenterID string         `gorm:"size:128;not null;index" json:"commenter_id"`
	Kind        IdentifierKind `gorm:"size:32;not null" json:"kind"`
	Platform    string         `gorm:"size:64" json:"platform"`
	Value       string         `gorm:"size:512;not null" json:"value"`
	Normalized  string         `gorm:"size:512;not null;index;uniqueIndex:idx_identifiers_comment_normalized" json:"normalized"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AccountCategorySetting is a per-account override for one category. Nil fields
// inherit the global default.
type AccountCategorySetting struct {
	ID              uint     `gorm:"primaryKey" json:"id"`
	AccountID       uint     `gorm:"not null;uniqueIndex:idx_account_category" json:"account_id"`
	Category        Category `gorm:"size:32;not null;uniqueIndex:idx_account_category" json:"category"`
	AutoDelete      *bool    `json:"auto_delete,omitempty"`
	AutoHide        *bool    `json:"auto_hide,omitempty"`
	AutoFlag        *bool    `json:"auto_flag,omitempty"`
	DeleteThreshold *int     `json:"delete_threshold,omitempty"`
	HideThreshold   *int     `json:"hide_threshold,omitempty"`
	FlagThreshold   *int     `json:"flag_threshold,omitempty"`
}
