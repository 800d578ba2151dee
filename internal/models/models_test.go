package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in    string
		want  Category
		valid bool
	}{
		{"blackmail", CategoryBlackmail, true},
		{"  THREAT ", CategoryThreat, true},
		{"Benign", CategoryBenign, true},
		{"scam", Category("scam"), false},
		{"", Category(""), false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseCategory(tt.in)
			assert.Equal(t, tt.valid, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMostSevere(t *testing.T) {
	assert.Equal(t, CategoryBenign, MostSevere())
	assert.Equal(t, CategoryThreat, MostSevere(CategorySpam, CategoryThreat, CategoryHarassment))
	assert.Equal(t, CategoryBlackmail, MostSevere(CategoryBlackmail, CategoryThreat))
	assert.Equal(t, CategorySpam, MostSevere(Category("nope"), CategorySpam))
	assert.False(t, CategoryBenign.Harmful())
	assert.True(t, CategoryDefamation.Harmful())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusNew, StatusClassifying))
	assert.True(t, CanTransition(StatusClassifying, StatusAutoHidden))
	assert.True(t, CanTransition(StatusFlaggedForReview, StatusReviewedDeleted))
	assert.True(t, CanTransition(StatusAutoHidden, StatusReviewedAllowed))
	assert.True(t, CanTransition(StatusReviewedAllowed, StatusNew))
	assert.False(t, CanTransition(StatusNew, StatusAllowed))
	assert.False(t, CanTransition(StatusAllowed, StatusReviewedHidden))
	assert.False(t, CanTransition(StatusAutoDeleted, StatusClassifying))
}

func TestReviewActionType(t *testing.T) {
	a, ok := ParseReviewAction("auto-hide-similar")
	assert.True(t, ok)
	assert.Equal(t, ReviewAutoHideSimilar, a)
	assert.True(t, a.Similar())
	assert.Equal(t, ActionHide, a.Enforcement())
	assert.Equal(t, StatusReviewedHidden, a.ReviewedStatus())

	_, ok = ParseReviewAction("ban_user")
	assert.False(t, ok)

	assert.False(t, ReviewDeleteThis.Similar())
	assert.Equal(t, StatusReviewedDeleted, ReviewDeleteThis.ReviewedStatus())
	assert.Equal(t, StatusReviewedAllowed, ReviewAllowSimilar.ReviewedStatus())
}

func TestCustomFilterAction(t *testing.T) {
	assert.Equal(t, ActionDelete, CustomFilter{AutoDelete: true, AutoHide: true}.Action())
	assert.Equal(t, ActionHide, CustomFilter{AutoHide: true, AutoFlag: true}.Action())
	assert.Equal(t, ActionFlag, CustomFilter{AutoFlag: true}.Action())
	assert.Equal(t, ActionNone, CustomFilter{}.Action())
}

func TestHashTextAndEmbedding(t *testing.T) {
	assert.Equal(t, HashText("hello"), HashText("hello"))
	assert.NotEqual(t, HashText("hello"), HashText("hello "))
	assert.Len(t, HashText(""), 64)

	c := &Comment{}
	assert.Nil(t, c.EmbeddingSlice())
	c.SetEmbedding([]float32{1, 2, 3})
	assert.Equal(t, []float32{1, 2, 3}, c.EmbeddingSlice())
	c.SetEmbedding(nil)
	assert.Nil(t, c.Embedding)
}

func TestSuspiciousAccountAgeDays(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s := &SuspiciousAccount{FirstSeenAt: now.Add(-400 * 24 * time.Hour)}
	assert.Equal(t, 400, s.AgeDays(now))
	assert.Equal(t, 0, (&SuspiciousAccount{}).AgeDays(now))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, 404, StatusFor(NewNotFoundError("Comment", 1)))
	assert.Equal(t, 409, StatusFor(NewConflictError("locked")))
	assert.Equal(t, 400, StatusFor(NewValidationError("bad")))
	assert.Equal(t, 500, StatusFor(assert.AnError))
}
