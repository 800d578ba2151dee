package risk

import "commentguard/internal/models"

const (
	// MinDeleteConfidence authorizes unattended deletion.
	MinDeleteConfidence = 0.90
	// MinHideConfidence authorizes unattended hiding.
	MinHideConfidence = 0.70
)

// Judgment is the classifier output relevant to enforcement.
type Judgment struct {
	Category           models.Category
	Confidence         float64
	Degraded           bool
	InjectionSuspected bool
}

// Decide picks the action for a scored judgment. Degraded or injection-suspected
// results always go to a human.
func Decide(j Judgment, r Result, s Settings) models.ActionType {
	if j.Degraded || j.InjectionSuspected {
		return models.ActionFlag
	}
	if !j.Category.Harmful() {
		return models.ActionAllow
	}

	switch {
	case s.AutoDelete && j.Confidence >= MinDeleteConfidence && r.RiskScore > s.DeleteThreshold:
		return models.ActionDelete
	case s.AutoHide && j.Confidence >= MinHideConfidence && r.RiskScore > s.HideThreshold:
		return models.ActionHide
	case s.AutoFlag && (r.RiskScore > s.FlagThreshold || j.Confidence < MinHideConfidence):
		return models.ActionFlag
	default:
		return models.ActionAllow
	}
}
