package autoplay

import (
	"fmt"
	"time"

	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/config"
)

// DefaultPhrases signal that the page waits for a manual play action.
var DefaultPhrases = []string{
	"click here to play",
	"click to play",
	"tap to play",
	"press to play",
	"start playing",
	"launch game",
}

// Policy tunes one heuristic.
type Policy struct {
	Phrases   []string
	Selectors []Selector

	MaxClickAttempts  int
	RetryInterval     time.Duration
	MonitorInterval   time.Duration
	EpisodeCeiling    time.Duration
	InitialCheckDelay time.Duration

	// Pointer sequence timing, relative to the pointer down.
	PointerUpDelay   time.Duration
	DirectClickDelay time.Duration

	// StepTimeout bounds each surface call made by the heuristic.
	StepTimeout time.Duration
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		Phrases:           append([]string(nil), DefaultPhrases...),
		Selectors:         DefaultSelectors(),
		MaxClickAttempts:  10,
		RetryInterval:     2 * time.Second,
		MonitorInterval:   5 * time.Second,
		EpisodeCeiling:    30 * time.Second,
		InitialCheckDelay: 2 * time.Second,
		PointerUpDelay:    50 * time.Millisecond,
		DirectClickDelay:  100 * time.Millisecond,
		StepTimeout:       5 * time.Second,
	}
}

// NewPolicy builds a policy from configuration and an optional profile.
// Profile phrases and selectors replace the defaults; its timings are
// expected to be applied to cfg already.
func NewPolicy(cfg config.AutomationConfig, profile *config.Profile) (Policy, error) {
	p := DefaultPolicy()
	if cfg.MaxClickAttempts > 0 {
		p.MaxClickAttempts = cfg.MaxClickAttempts
	}
	if cfg.RetryInterval > 0 {
		p.RetryInterval = cfg.RetryInterval
	}
	if cfg.MonitorInterval > 0 {
		p.MonitorInterval = cfg.MonitorInterval
	}
	if cfg.EpisodeCeiling > 0 {
		p.EpisodeCeiling = cfg.EpisodeCeiling
	}
	if cfg.InitialCheckDelay > 0 {
		p.InitialCheckDelay = cfg.InitialCheckDelay
	}

	if profile == nil {
		return p, nil
	}
	if len(profile.Phrases) > 0 {
		p.Phrases = append([]string(nil), profile.Phrases...)
	}
	if len(profile.Selectors) > 0 {
		p.Selectors = p.Selectors[:0:0]
		for i, spec := range profile.Selectors {
			s, err := SelectorFromSpec(spec)
			if err != nil {
				return Policy{}, fmt.Errorf("profile selector %d: %w", i, err)
			}
			p.Selectors = append(p.Selectors, s)
		}
	}
	return p, nil
}
