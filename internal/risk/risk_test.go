package risk

import (
	"testing"

	"commentguard/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		want Result
	}{
		{
			name: "repeat offender with high velocity clamps to 100",
			in:   Inputs{Severity: 80, Confidence: 0.9, RepeatOffenderCount: 3, CommentVelocity: 6, AccountAgeDays: 10},
			want: Result{
				Severity: 80, Confidence: 0.9, RepeatOffenderCount: 3, CommentVelocity: 6, AccountAgeDays: 10,
				BaseScore: 72, RepeatOffenderBonus: 30, VelocityBonus: 20, AgeAdjustment: 0,
				RiskScore: 100, ShouldDelete: true, ShouldEscalate: true,
			},
		},
		{
			name: "established account gets age adjustment",
			in:   Inputs{Severity: 50, Confidence: 0.5, RepeatOffenderCount: 0, CommentVelocity: 1, AccountAgeDays: 400},
			want: Result{
				Severity: 50, Confidence: 0.5, CommentVelocity: 1, AccountAgeDays: 400,
				BaseScore: 25, AgeAdjustment: -10, RiskScore: 15,
			},
		},
		{
			name: "negative total clamps to zero",
			in:   Inputs{Severity: 0, Confidence: 0.3, AccountAgeDays: 1000},
			want: Result{Confidence: 0.3, AccountAgeDays: 1000, AgeAdjustment: -10, RiskScore: 0},
		},
		{
			name: "repeat bonus is capped at 30",
			in:   Inputs{Severity: 10, Confidence: 1, RepeatOffenderCount: 12},
			want: Result{
				Severity: 10, Confidence: 1, RepeatOffenderCount: 12,
				BaseScore: 10, RepeatOffenderBonus: 30, RiskScore: 40,
			},
		},
		{
			name: "velocity of exactly five earns no bonus",
			in:   Inputs{Severity: 60, Confidence: 1, CommentVelocity: 5},
			want: Result{Severity: 60, Confidence: 1, CommentVelocity: 5, BaseScore: 60, RiskScore: 60},
		},
		{
			name: "boundary scores are strict",
			in:   Inputs{Severity: 70, Confidence: 1},
			want: Result{Severity: 70, Confidence: 1, BaseScore: 70, RiskScore: 70},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.in))
		})
	}
}

func TestPolicyResolve(t *testing.T) {
	p := DefaultPolicy()

	t.Run("unknown categories fall back to the global default", func(t *testing.T) {
		for _, raw := range []string{"scam", "", "BLACKMAIL!", "other"} {
			yes := true
			override := &models.AccountCategorySetting{Category: models.Category(raw), AutoDelete: &yes}
			assert.Equal(t, p.Default, p.Resolve(models.Category(raw), override), raw)
		}
	})

	t.Run("category entry applies", func(t *testing.T) {
		s := p.Resolve(models.CategoryBlackmail, nil)
		assert.True(t, s.AutoDelete)
		assert.Equal(t, DeleteScore, s.DeleteThreshold)
	})

	t.Run("category missing from table uses default", func(t *testing.T) {
		sparse := Policy{Default: DefaultSettings, Categories: map[models.Category]Settings{}}
		assert.Equal(t, DefaultSettings, sparse.Resolve(models.CategoryThreat, nil))
	})

	t.Run("account override replaces only set fields", func(t *testing.T) {
		no := false
		threshold := 90
		override := &models.AccountCategorySetting{
			Category:        models.CategoryThreat,
			AutoDelete:      &no,
			DeleteThreshold: &threshold,
		}
		s := p.Resolve(models.CategoryThreat, override)
		assert.False(t, s.AutoDelete)
		assert.Equal(t, 90, s.DeleteThreshold)
		assert.True(t, s.AutoHide)
		assert.Equal(t, 50, s.HideThreshold)
	})

	t.Run("override for another category is ignored", func(t *testing.T) {
		no := false
		override := &models.AccountCategorySetting{Category: models.CategorySpam, AutoFlag: &no}
		assert.True(t, p.Resolve(models.CategoryThreat, override).AutoFlag)
	})
}

func TestDecide(t *testing.T) {
	strict := DefaultPolicy().Resolve(models.CategoryBlackmail, nil)
	lenient := DefaultPolicy().Resolve(models.CategorySpam, nil)

	tests := []struct {
		name     string
		judgment Judgment
		score    int
		settings Settings
		want     models.ActionType
	}{
		{"benign is allowed", Judgment{Category: models.CategoryBenign, Confidence: 0.99}, 0, strict, models.ActionAllow},
		{"degraded is flagged", Judgment{Category: models.CategoryBenign, Confidence: 0.5, Degraded: true}, 0, strict, models.ActionFlag},
		{"injection is flagged", Judgment{Category: models.CategoryBenign, Confidence: 0.3, InjectionSuspected: true}, 0, strict, models.ActionFlag},
		{"confident high risk deletes", Judgment{Category: models.CategoryBlackmail, Confidence: 0.95}, 90, strict, models.ActionDelete},
		{"confidence below delete gate hides", Judgment{Category: models.CategoryBlackmail, Confidence: 0.8}, 90, strict, models.ActionHide},
		{"low confidence is flagged", Judgment{Category: models.CategoryBlackmail, Confidence: 0.6}, 90, strict, models.ActionFlag},
		{"delete disabled falls to hide", Judgment{Category: models.CategorySpam, Confidence: 0.95}, 90, lenient, models.ActionHide},
		{"mid risk is flagged", Judgment{Category: models.CategorySpam, Confidence: 0.75}, 40, lenient, models.ActionFlag},
		{"low risk confident is allowed", Judgment{Category: models.CategorySpam, Confidence: 0.9}, 20, lenient, models.ActionAllow},
		{"all switches off allows", Judgment{Category: models.CategoryThreat, Confidence: 0.95}, 95, Settings{}, models.ActionAllow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.judgment, Result{RiskScore: tt.score}, tt.settings)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSettingsWithFilters(t *testing.T) {
	base := DefaultSettings
	assert.Equal(t, base, base.WithFilters(nil))

	s := base.WithFilters([]models.CustomFilter{{AutoDelete: true}, {AutoFlag: true}})
	assert.True(t, s.AutoDelete)
	assert.False(t, s.AutoHide)
	assert.True(t, s.AutoFlag)
	assert.Equal(t, base.DeleteThreshold, s.DeleteThreshold)
}
