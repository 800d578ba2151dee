// Package risk turns a classification and the commenter's history into a
// 0-100 score and an enforcement action. Nothing here performs I/O.
package risk

import (
	"math"

	"commentguard/internal/models"
)

const (
	// DeleteScore is the score above which a comment should be deleted.
	DeleteScore = 70
	// EscalateScore is the score above which a human is alerted.
	EscalateScore = 85

	maxRepeatOffenderBonus = 30
	repeatOffenderStep     = 10
	velocityLimit          = 5
	velocityBonus          = 20
	establishedAgeDays     = 365
	establishedAdjustment  = -10
)

// Inputs are the raw values the formula consumes.
type Inputs struct {
	Severity            int
	Confidence          float64
	RepeatOffenderCount int
	CommentVelocity     float64
	AccountAgeDays      int
}

// Result carries the score and every intermediate term so it can be stored as evidence.
type Result = models.RiskTrace

// Score computes
//
//	clamp(0, 100, severity*confidence + repeatOffenderBonus + velocityBonus + ageAdjustment)
func Score(in Inputs) Result {
	base := float64(in.Severity) * in.Confidence

	repeat := in.RepeatOffenderCount * repeatOffenderStep
	if repeat > maxRepeatOffenderBonus {
		repeat = maxRepeatOffenderBonus
	}
	if repeat < 0 {
		repeat = 0
	}

	velocity := 0
	if in.CommentVelocity > velocityLimit {
		velocity = velocityBonus
	}

	age := 0
	if in.AccountAgeDays > establishedAgeDays {
		age = establishedAdjustment
	}

	raw := math.Round(base + float64(repeat+velocity+age))
	score := int(math.Max(0, math.Min(100, raw)))

	return Result{
		Severity:            in.Severity,
		Confidence:          in.Confidence,
		RepeatOffenderCount: in.RepeatOffenderCount,
		CommentVelocity:     in.CommentVelocity,
		AccountAgeDays:      in.AccountAgeDays,
		BaseScore:           base,
		RepeatOffenderBonus: repeat,
		VelocityBonus:       velocity,
		AgeAdjustment:       age,
		RiskScore:           score,
		ShouldDelete:        score > DeleteScore,
		ShouldEscalate:      score > EscalateScore,
	}
}
