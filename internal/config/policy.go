package config

import (
	"errors"
	"fmt"
	"os"

	"commentguard/internal/models"
	"commentguard/internal/risk"

	"gopkg.in/yaml.v3"
)

type settingsFile struct {
	AutoDelete      *bool `yaml:"auto_delete"`
	AutoHide        *bool `yaml:"auto_hide"`
	AutoFlag        *bool `yaml:"auto_flag"`
	DeleteThreshold *int  `yaml:"delete_threshold"`
	HideThreshold   *int  `yaml:"hide_threshold"`
	FlagThreshold   *int  `yaml:"flag_threshold"`
}

type policyFile struct {
	Default    *settingsFile           `yaml:"default"`
	Categories map[string]settingsFile `yaml:"categories"`
}

func (f settingsFile) apply(s risk.Settings) risk.Settings {
	if f.AutoDelete != nil {
		s.AutoDelete = *f.AutoDelete
	}
	if f.AutoHide != nil {
		s.AutoHide = *f.AutoHide
	}
	if f.AutoFlag != nil {
		s.AutoFlag = *f.AutoFlag
	}
	if f.DeleteThreshold != nil {
		s.DeleteThreshold = *f.DeleteThreshold
	}
	if f.HideThreshold != nil {
		s.HideThreshold = *f.HideThreshold
	}
	if f.FlagThreshold != nil {
		s.FlagThreshold = *f.FlagThreshold
	}
	return s
}

func validateSettings(name string, s risk.Settings) error {
	for _, v := range []int{s.DeleteThreshold, s.HideThreshold, s.FlagThreshold} {
		if v < 0 || v > 100 {
			return fmt.Errorf("policy %s: thresholds must be within [0,100], got %d", name, v)
		}
	}
	return nil
}

// ParsePolicy overlays the YAML document on the built-in policy. Keys left out of
// the document keep their built-in values.
func ParsePolicy(data []byte) (risk.Policy, error) {
	policy := risk.DefaultPolicy()

	var doc policyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return risk.Policy{}, fmt.Errorf("parse policy: %w", err)
	}

	if doc.Default != nil {
		policy.Default = doc.Default.apply(policy.Default)
	}
	for name, sf := range doc.Categories {
		cat, ok := models.ParseCategory(name)
		if !ok || cat == models.CategoryBenign {
			return risk.Policy{}, fmt.Errorf("policy: unknown category %q", name)
		}
		base, ok := policy.Categories[cat]
		if !ok {
			base = policy.Default
		}
		policy.Categories[cat] = sf.apply(base)
	}

	if err := validateSettings("default", policy.Default); err != nil {
		return risk.Policy{}, err
	}
	for cat, s := range policy.Categories {
		if err := validateSettings(string(cat), s); err != nil {
			return risk.Policy{}, err
		}
	}
	return policy, nil
}

// LoadPolicy reads the policy file at path. An empty path or a missing file
// yields the built-in policy.
func LoadPolicy(path string) (risk.Policy, error) {
	if path == "" {
		return risk.DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return risk.DefaultPolicy(), nil
	}
	if err != nil {
		return risk.Policy{}, fmt.Errorf("read policy %s: %w", path, err)
	}
	return ParsePolicy(data)
}
