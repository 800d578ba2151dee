package models

// ModerationStatus is the position of a comment in the moderation state machine.
type ModerationStatus string

const (
	StatusNew              ModerationStatus = "NEW"
	StatusClassifying      ModerationStatus = "CLASSIFYING"
	StatusAutoDeleted      ModerationStatus = "AUTO_DELETED"
	StatusAutoHidden       ModerationStatus = "AUTO_HIDDEN"
	StatusFlaggedForReview ModerationStatus = "FLAGGED_FOR_REVIEW"
	StatusAllowed          ModerationStatus = "ALLOWED"
	StatusReviewedAllowed  ModerationStatus = "REVIEWED_ALLOWED"
	StatusReviewedHidden   ModerationStatus = "REVIEWED_HIDDEN"
	StatusReviewedDeleted  ModerationStatus = "REVIEWED_DELETED"
)

var transitions = map[ModerationStatus][]ModerationStatus{
	StatusNew:              {StatusClassifying},
	StatusClassifying:      {StatusAutoDeleted, StatusAutoHidden, StatusFlaggedForReview, StatusAllowed},
	StatusFlaggedForReview: {StatusReviewedAllowed, StatusReviewedHidden, StatusReviewedDeleted},
	StatusAutoHidden:       {StatusReviewedAllowed, StatusReviewedHidden, StatusReviewedDeleted},
}

// CanTransition reports whether a comment may move from one status to another.
// Any status may return to NEW when the remote text changes.
func CanTransition(from, to ModerationStatus) bool {
	if to == StatusNew {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reviewable reports whether a human decision can be applied in this status.
func (s ModerationStatus) Reviewable() bool {
	return s == StatusFlaggedForReview || s == StatusAutoHidden
}

// ActionType is the enforcement applied for a decision.
type ActionType string

const (
	ActionNone   ActionType = "none"
	ActionAllow  ActionType = "allow"
	ActionFlag   ActionType = "flag"
	ActionHide   ActionType = "hide"
	ActionDelete ActionType = "delete"
)

// ResultingStatus maps an automated action to the status it leaves the comment in.
func (a ActionType) ResultingStatus() ModerationStatus {
	switch a {
	case ActionDelete:
		return StatusAutoDeleted
	case ActionHide:
		return StatusAutoHidden
	case ActionFlag:
		return StatusFlaggedForReview
	default:
		return StatusAllowed
	}
}
