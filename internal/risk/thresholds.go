package risk

import "commentguard/internal/models"

// Settings are the effective enforcement switches and score thresholds for one category.
type Settings struct {
	AutoDelete      bool `yaml:"auto_delete" json:"auto_delete"`
	AutoHide        bool `yaml:"auto_hide" json:"auto_hide"`
	AutoFlag        bool `yaml:"auto_flag" json:"auto_flag"`
	DeleteThreshold int  `yaml:"delete_threshold" json:"delete_threshold"`
	HideThreshold   int  `yaml:"hide_threshold" json:"hide_threshold"`
	FlagThreshold   int  `yaml:"flag_threshold" json:"flag_threshold"`
}

// Policy holds the global defaults. Categories without an entry use Default.
type Policy struct {
	Default    Settings                     `yaml:"default" json:"default"`
	Categories map[models.Category]Settings `yaml:"categories" json:"categories"`
}

// DefaultSettings is the fallback for any category without explicit configuration.
var DefaultSettings = Settings{
	AutoDelete:      false,
	AutoHide:        true,
	AutoFlag:        true,
	DeleteThreshold: DeleteScore,
	HideThreshold:   50,
	FlagThreshold:   30,
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	strict := DefaultSettings
	strict.AutoDelete = true

	return Policy{
		Default: DefaultSettings,
		Categories: map[models.Category]Settings{
			models.CategoryBlackmail:  strict,
			models.CategoryThreat:     strict,
			models.CategoryDefamation: DefaultSettings,
			models.CategoryHarassment: DefaultSettings,
			models.CategorySpam:       DefaultSettings,
		},
	}
}

// Resolve returns the effective settings for cat. An invalid category always gets
// the global default; otherwise the per-category global entry applies and any
// non-nil field of the account override replaces it.
func (p Policy) Resolve(cat models.Category, override *models.AccountCategorySetting) Settings {
	if !cat.Valid() {
		return p.Default
	}

	s, ok := p.Categories[cat]
	if !ok {
		s = p.Default
	}
	if override == nil || override.Category != cat {
		return s
	}

	if override.AutoDelete != nil {
		s.AutoDelete = *override.AutoDelete
	}
	if override.AutoHide != nil {
		s.AutoHide = *override.AutoHide
	}
	if override.AutoFlag != nil {
		s.AutoFlag = *override.AutoFlag
	}
	if override.DeleteThreshold != nil {
		s.DeleteThreshold = *override.DeleteThreshold
	}
	if override.HideThreshold != nil {
		s.HideThreshold = *override.HideThreshold
	}
	if override.FlagThreshold != nil {
		s.FlagThreshold = *override.FlagThreshold
	}
	return s
}

// WithFilters replaces the enable switches with those of the matched custom filters.
// Any matching filter enabling an action enables it.
func (s Settings) WithFilters(filters []models.CustomFilter) Settings {
	if len(filters) == 0 {
		return s
	}
	s.AutoDelete, s.AutoHide, s.AutoFlag = false, false, false
	for _, f := range filters {
		s.AutoDelete = s.AutoDelete || f.AutoDelete
		s.AutoHide = s.AutoHide || f.AutoHide
		s.AutoFlag = s.AutoFlag || f.AutoFlag
	}
	return s
}
