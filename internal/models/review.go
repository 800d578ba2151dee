package models

import (
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// ReviewActionType is a human verdict on a flagged comment.
type ReviewActionType string

const (
	ReviewAllowThis         ReviewActionType = "allow_this"
	ReviewAllowSimilar      ReviewActionType = "allow_similar"
	ReviewHideThis          ReviewActionType = "hide_this"
	ReviewAutoHideSimilar   ReviewActionType = "auto_hide_similar"
	ReviewDeleteThis        ReviewActionType = "delete_this"
	ReviewAutoDeleteSimilar ReviewActionType = "auto_delete_similar"
)

var reviewActions = map[ReviewActionType]struct{}{
	ReviewAllowThis:         {},
	ReviewAllowSimilar:      {},
	ReviewHideThis:          {},
	ReviewAutoHideSimilar:   {},
	ReviewDeleteThis:        {},
	ReviewAutoDeleteSimilar: {},
}

// ParseReviewAction accepts both snake_case and kebab-case spellings.
func ParseReviewAction(s string) (ReviewActionType, bool) {
	a := ReviewActionType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	_, ok := reviewActions[a]
	return a, ok
}

// Similar reports whether the action also applies to future near-duplicates.
func (a ReviewActionType) Similar() bool {
	return a == ReviewAllowSimilar || a == ReviewAutoHideSimilar || a == ReviewAutoDeleteSimilar
}

// Enforcement returns the platform action the verdict implies.
func (a ReviewActionType) Enforcement() ActionType {
	switch a {
	case ReviewHideThis, ReviewAutoHideSimilar:
		return ActionHide
	case ReviewDeleteThis, ReviewAutoDeleteSimilar:
		return ActionDelete
	default:
		return ActionAllow
	}
}

// ReviewedStatus returns the terminal status after this verdict.
func (a ReviewActionType) ReviewedStatus() ModerationStatus {
	switch a.Enforcement() {
	case ActionHide:
		return StatusReviewedHidden
	case ActionDelete:
		return StatusReviewedDeleted
	default:
		return StatusReviewedAllowed
	}
}

// ReviewAction is an append-only record of a human decision.
type ReviewAction struct {
	ID                  uint             `gorm:"primaryKey" json:"id"`
	CommentID           uint             `gorm:"not null;index" json:"comment_id"`
	AccountID           uint             `gorm:"not null;index" json:"account_id"`
	Action              ReviewActionType `gorm:"size:32;not null" json:"action"`
	ReviewerID          uint             `gorm:"not null;index" json:"reviewer_id"`
	SimilarityThreshold *float64         `json:"similarity_threshold,omitempty"`
	Notes               string           `gorm:"type:text" json:"notes,omitempty"`
	CustomFilterID      *uint            `json:"custom_filter_id,omitempty"`
	PrecedentID         *uint            `json:"precedent_id,omitempty"`
	EnforcementError    string           `gorm:"type:text" json:"enforcement_error,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

// Precedent is a stored embedding plus the human verdict it carries. New comments
// whose embedding is close enough inherit the verdict without classification.
type Precedent struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	AccountID       uint             `gorm:"not null;index" json:"account_id"`
	ReviewActionID  uint             `gorm:"index" json:"review_action_id"`
	SourceCommentID uint             `gorm:"index" json:"source_comment_id"`
	Action          ReviewActionType `gorm:"size:32;not null" json:"action"`
	Category        Category         `gorm:"size:32;not null" json:"category"`
	// Threshold is the minimum cosine similarity; zero means use the account's dynamic threshold.
	Threshold float64         `json:"threshold"`
	Embedding pgvector.Vector `gorm:"type:vector(1536);not null" json:"-"`
	Enabled   bool            `gorm:"index" json:"enabled"`
	CreatedAt time.Time       `json:"created_at"`
}

// CustomFilter is an owner-authored rule consulted on every classification.
// A nil AccountID makes the filter global. Boolean columns carry no gorm default
// so an explicit false is stored as false.
type CustomFilter struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	AccountID  *uint     `gorm:"index" json:"account_id,omitempty"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	Prompt     string    `gorm:"type:text;not null" json:"prompt"`
	Category   Category  `gorm:"size:32;not null" json:"category"`
	AutoHide   bool      `gorm:"default:false" json:"auto_hide"`
	AutoDelete bool      `gorm:"default:false" json:"auto_delete"`
	AutoFlag   bool      `json:"auto_flag"`
	Enabled    bool      `gorm:"index" json:"enabled"`
	CreatedBy  uint      `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Action returns the strongest enforcement the filter enables.
func (f CustomFilter) Action() ActionType {
	switch {
	case f.AutoDelete:
		return ActionDelete
	case f.AutoHide:
		return ActionHide
	case f.AutoFlag:
		return ActionFlag
	default:
		return ActionNone
	}
}
