package models

import "time"

// DecisionSource records which path produced a decision.
type DecisionSource string

const (
	SourceClassifier     DecisionSource = "classifier"
	SourcePrecedent      DecisionSource = "precedent"
	SourceCustomFilter   DecisionSource = "custom_filter"
	SourceInjectionGuard DecisionSource = "injection_guard"
	SourceFallback       DecisionSource = "fallback"
)

// RiskTrace is the full set of inputs and intermediate terms of the risk formula.
type RiskTrace struct {
	Severity            int     `json:"severity"`
	Confidence          float64 `json:"confidence"`
	RepeatOffenderCount int     `json:"repeat_offender_count"`
	CommentVelocity     float64 `json:"comment_velocity"`
	AccountAgeDays      int     `json:"account_age_days"`
	BaseScore           float64 `json:"base_score"`
	RepeatOffenderBonus int     `json:"repeat_offender_bonus"`
	VelocityBonus       int     `json:"velocity_bonus"`
	AgeAdjustment       int     `json:"age_adjustment"`
	RiskScore           int     `json:"risk_score"`
	ShouldDelete        bool    `json:"should_delete"`
	ShouldEscalate      bool    `json:"should_escalate"`
}

// ModerationDecision is one classification event. Rows are append-only; the most
// recent row for a comment is the active one.
type ModerationDecision struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	CommentID          uint           `gorm:"not null;index:idx_decisions_comment_created" json:"comment_id"`
	AccountID          uint           `gorm:"not null;index" json:"account_id"`
	Category           Category       `gorm:"size:32;not null;index" json:"category"`
	Severity           int            `gorm:"not null" json:"severity"`
	Confidence         float64        `gorm:"not null" json:"confidence"`
	Rationale          string         `gorm:"type:text" json:"rationale"`
	RiskScore          int            `gorm:"not null" json:"risk_score"`
	FormulaTrace       RiskTrace      `gorm:"type:text;serializer:json" json:"formula_trace"`
	ActionTaken        ActionType     `gorm:"size:32;not null" json:"action_taken"`
	ModelName          string         `gorm:"size:128" json:"model_name"`
	Source             DecisionSource `gorm:"size:32;not null" json:"source"`
	IsDegradedMode     bool           `gorm:"default:false" json:"is_degraded_mode"`
	InjectionSuspected bool           `gorm:"default:false" json:"injection_suspected"`
	PrecedentID        *uint          `json:"precedent_id,omitempty"`
	CustomFilterIDs    []uint         `gorm:"type:text;serializer:json" json:"custom_filter_ids,omitempty"`
	TextHash           string         `gorm:"size:64;not null" json:"-"`
	CreatedAt          time.Time      `gorm:"index:idx_decisions_comment_created" json:"created_at"`
}

// EvidenceRecord is an immutable snapshot of everything that went into a decision
// and what the platform answered when it was enforced.
type EvidenceRecord struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	DecisionID           uint      `gorm:"not null;uniqueIndex" json:"decision_id"`
	CommentID            uint      `gorm:"not null;index" json:"comment_id"`
	AccountID            uint      `gorm:"not null;index" json:"account_id"`
	RawText              string    `gorm:"type:text;not null" json:"raw_text"`
	RawCommenterID       string    `gorm:"size:128;not null" json:"raw_commenter_id"`
	RawCommenterName     string    `gorm:"size:255" json:"raw_commenter_name"`
	RequestPayload       string    `gorm:"type:text" json:"request_payload"`
	ResponsePayload      string    `gorm:"type:text" json:"response_payload"`
	FormulaInputs        RiskTrace `gorm:"type:text;serializer:json" json:"formula_inputs"`
	PlatformConfirmation string    `gorm:"type:text" json:"platform_confirmation"`
	ActionError          string    `gorm:"type:text" json:"action_error,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}
