package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Profile is an optional automation profile that overrides the built-in
// play-affordance phrases, selectors and attempt limits.
//
//	phrases: ["tap to play", "continue"]
//	max_click_attempts: 6
//	retry_interval: 3s
//	selectors:
//	  - kind: attribute
//	    tags: [button]
//	    attr: data-testid
//	    value: play-button
type Profile struct {
	Phrases          []string       `yaml:"phrases"`
	MaxClickAttempts int            `yaml:"max_click_attempts"`
	RetryInterval    string         `yaml:"retry_interval"`
	MonitorInterval  string         `yaml:"monitor_interval"`
	EpisodeCeiling   string         `yaml:"episode_ceiling"`
	Selectors        []SelectorSpec `yaml:"selectors"`
}

// SelectorSpec describes one typed selector. Kind is one of attribute,
// aria-label, class or text.
type SelectorSpec struct {
	Kind  string   `yaml:"kind"`
	Tags  []string `yaml:"tags"`
	Attr  string   `yaml:"attr"`
	Value string   `yaml:"value"`
}

var selectorKinds = map[string]bool{
	"attribute":  true,
	"aria-label": true,
	"class":      true,
	"text":       true,
}

// LoadProfile reads a YAML automation profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read automation profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and validates a YAML automation profile.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse automation profile: %w", err)
	}

	for i, s := range p.Selectors {
		if !selectorKinds[s.Kind] {
			return nil, fmt.Errorf("selector %d: unknown kind %q", i, s.Kind)
		}
		if s.Kind == "attribute" && s.Attr == "" {
			return nil, fmt.Errorf("selector %d: attribute selector needs attr", i)
		}
		if s.Value == "" {
			return nil, fmt.Errorf("selector %d: empty value", i)
		}
	}
	if p.MaxClickAttempts < 0 {
		return nil, fmt.Errorf("max_click_attempts must not be negative")
	}
	for name, raw := range map[string]string{
		"retry_interval":   p.RetryInterval,
		"monitor_interval": p.MonitorInterval,
		"episode_ceiling":  p.EpisodeCeiling,
	} {
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			return nil, fmt.Errorf("%s: invalid duration %q", name, raw)
		}
	}
	return &p, nil
}

// Apply overlays the profile's timing and attempt overrides onto cfg.
// Phrases and selectors are consumed by the auto-play package directly.
func (p *Profile) Apply(cfg *AutomationConfig) {
	if p.MaxClickAttempts > 0 {
		cfg.MaxClickAttempts = p.MaxClickAttempts
	}
	if d, err := time.ParseDuration(p.RetryInterval); err == nil {
		cfg.RetryInterval = d
	}
	if d, err := time.ParseDuration(p.MonitorInterval); err == nil {
		cfg.MonitorInterval = d
	}
	if d, err := time.ParseDuration(p.EpisodeCeiling); err == nil {
		cfg.EpisodeCeiling = d
	}
}
