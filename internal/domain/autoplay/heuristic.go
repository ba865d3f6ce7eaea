// Package autoplay clicks through "tap to play" screens of hosted pages.
//
// Each instance runs one Heuristic, an explicit state machine driven by
// the shared scheduler:
//
//	Idle -> Detecting -> Clicking -> (Satisfied | Exhausted | TimedOut) -> Idle
//
// A periodic monitor and page mutation notifications both look for a play
// phrase in the page text. The first sighting starts an episode. Within
// an episode the typed selectors are tried in priority order and a
// pointer sequence is dispatched at the first visible match, retrying
// until the phrase is gone, the attempt budget is spent or the episode
// ceiling expires.
package autoplay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser"
	"github.com/GriffinCanCode/lobbyshell/internal/scheduler"
)

// Phase is the state machine position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDetecting
	PhaseClicking
)

func (p Phase) String() string {
	switch p {
	case PhaseDetecting:
		return "detecting"
	case PhaseClicking:
		return "clicking"
	default:
		return "idle"
	}
}

// Status is the coarse session status reported to the host shell.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusIdle         Status = "idle"
)

// Outcome is how an episode ended.
type Outcome string

const (
	OutcomeSatisfied Outcome = "satisfied"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeTimedOut  Outcome = "timed_out"
)

// Report describes a finished episode.
type Report struct {
	InstanceID string        `json:"instance_id"`
	Outcome    Outcome       `json:"outcome"`
	Attempts   int           `json:"attempts"`
	Phrase     string        `json:"phrase"`
	Duration   time.Duration `json:"duration"`
}

// Session is a snapshot of heuristic state.
type Session struct {
	Status           Status    `json:"status"`
	Phase            string    `json:"phase"`
	ClickAttempts    int       `json:"click_attempts"`
	MaxClickAttempts int       `json:"max_click_attempts"`
	Episodes         int       `json:"episodes"`
	LastActivity     time.Time `json:"last_activity"`
}

// Config wires a Heuristic.
type Config struct {
	InstanceID string
	Surface    browser.Surface
	Scheduler  scheduler.Scheduler
	// Owner tags every timer of the heuristic.
	Owner  string
	Policy Policy
	Logger *zap.Logger
	// OnOutcome receives every finished episode.
	OnOutcome func(Report)
	// OnClick is called once per dispatched pointer sequence.
	OnClick func(Candidate)
}

// Heuristic is the auto-play state machine of one instance. Its
// callbacks run on the scheduler.
type Heuristic struct {
	cfg    Config
	policy Policy
	sched  scheduler.Scheduler
	logger *zap.Logger

	mu           sync.Mutex
	started      bool
	stopped      bool
	checked      bool
	phase        Phase
	active       bool
	attempts     int
	episodes     int
	phrase       string
	episodeStart time.Time
	lastActivity time.Time
	// awaitClear blocks new episodes after exhaustion until the play
	// phrase has disappeared once.
	awaitClear bool
	// capturing is set while a detection snapshot is in flight
	capturing bool
	retry     scheduler.Timer
	ceiling   scheduler.Timer
}

// New creates a stopped heuristic.
func New(cfg Config) *Heuristic {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Owner == "" {
		cfg.Owner = scheduler.Owner(cfg.InstanceID, "autoplay")
	}
	policy := cfg.Policy
	if policy.MaxClickAttempts <= 0 {
		policy.MaxClickAttempts = DefaultPolicy().MaxClickAttempts
	}
	if policy.StepTimeout <= 0 {
		policy.StepTimeout = DefaultPolicy().StepTimeout
	}
	return &Heuristic{
		cfg:    cfg,
		policy: policy,
		sched:  cfg.Scheduler,
		logger: logger.With(zap.String("instance_id", cfg.InstanceID)),
	}
}

// Start arms the initial check and the periodic monitor.
func (h *Heuristic) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || h.stopped {
		return
	}
	h.started = true
	h.lastActivity = h.sched.Now()

	h.sched.AfterFunc(h.cfg.Owner, h.policy.InitialCheckDelay, h.check)
	if h.policy.MonitorInterval > 0 {
		h.sched.Every(h.cfg.Owner, h.policy.MonitorInterval, h.check)
	}
}

// Stop cancels every timer of the heuristic. Callbacks that were already
// due are swallowed.
func (h *Heuristic) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.active = false
	h.capturing = false
	h.phase = PhaseIdle
	h.retry, h.ceiling = nil, nil
	h.mu.Unlock()
	h.sched.Cancel(h.cfg.Owner)
}

// OnMutation schedules a check after the page changed.
func (h *Heuristic) OnMutation() {
	h.mu.Lock()
	run := h.started && !h.stopped
	h.mu.Unlock()
	if run {
		h.sched.Post(h.cfg.Owner, h.check)
	}
}

// Session reports the current state.
func (h *Heuristic) Session() Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	status := StatusIdle
	switch {
	case h.active:
		status = StatusActive
	case h.started && !h.stopped && !h.checked:
		status = StatusInitializing
	}
	return Session{
		Status:           status,
		Phase:            h.phase.String(),
		ClickAttempts:    h.attempts,
		MaxClickAttempts: h.policy.MaxClickAttempts,
		Episodes:         h.episodes,
		LastActivity:     h.lastActivity,
	}
}

// TriggerNow runs one detection and click pass immediately, outside the
// episode machine. It reports whether a pointer sequence was dispatched.
func (h *Heuristic) TriggerNow(ctx context.Context) (bool, error) {
	h.mu.Lock()
	stopped := h.stopped
	h.mu.Unlock()
	if stopped {
		return false, fmt.Errorf("autoplay stopped")
	}

	doc, err := h.capture(ctx)
	if err != nil {
		return false, err
	}
	c, ok := h.locate(doc)
	if !ok {
		return false, nil
	}
	if err := h.dispatch(ctx, c); err != nil {
		return false, err
	}

	h.mu.Lock()
	h.lastActivity = h.sched.Now()
	h.mu.Unlock()
	return true, nil
}

// check is the Idle -> Detecting trigger shared by the monitor, the
// initial delay and mutation notifications. The snapshot is taken off the
// scheduler; detect handles the result.
func (h *Heuristic) check() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.checked = true
	// the retry timer owns the page while an episode runs
	skip := h.active || h.capturing
	if !skip {
		h.capturing = true
	}
	h.mu.Unlock()
	if skip {
		return
	}

	h.page(func(ctx context.Context) func() {
		doc, err := h.capture(ctx)
		return func() { h.detect(doc, err) }
	})
}

func (h *Heuristic) detect(doc *Document, err error) {
	h.mu.Lock()
	h.capturing = false
	h.mu.Unlock()
	if err != nil {
		h.logger.Debug("Auto-play check skipped", zap.Error(err))
		return
	}
	phrase, needed := doc.MatchPhrase(h.policy.Phrases)

	h.mu.Lock()
	if h.stopped || h.active {
		h.mu.Unlock()
		return
	}
	if !needed {
		h.awaitClear = false
		h.mu.Unlock()
		return
	}
	if h.awaitClear {
		h.mu.Unlock()
		return
	}

	h.active = true
	h.phase = PhaseDetecting
	h.attempts = 0
	h.phrase = phrase
	h.episodes++
	h.episodeStart = h.sched.Now()
	h.lastActivity = h.episodeStart
	h.ceiling = h.sched.AfterFunc(h.cfg.Owner, h.policy.EpisodeCeiling, func() {
		h.finish(OutcomeTimedOut)
	})
	h.mu.Unlock()

	h.logger.Info("Play prompt detected", zap.String("phrase", phrase))
	h.attempt(doc)
}

// retryTick is the Clicking -> Detecting retry.
func (h *Heuristic) retryTick() {
	h.mu.Lock()
	if h.stopped || !h.active {
		h.mu.Unlock()
		return
	}
	h.retry = nil
	h.mu.Unlock()

	h.page(func(ctx context.Context) func() {
		doc, err := h.capture(ctx)
		return func() { h.recheck(doc, err) }
	})
}

func (h *Heuristic) recheck(doc *Document, err error) {
	h.mu.Lock()
	if h.stopped || !h.active {
		h.mu.Unlock()
		return
	}
	spent := h.attempts >= h.policy.MaxClickAttempts
	h.mu.Unlock()

	if err != nil {
		h.logger.Debug("Auto-play retry snapshot failed", zap.Error(err))
		h.armRetry()
		return
	}
	if _, needed := doc.MatchPhrase(h.policy.Phrases); !needed {
		h.finish(OutcomeSatisfied)
		return
	}
	if spent {
		h.finish(OutcomeExhausted)
		return
	}
	h.attempt(doc)
}

// attempt selects a candidate, presses it and arms the next retry.
func (h *Heuristic) attempt(doc *Document) {
	h.mu.Lock()
	if h.stopped || !h.active {
		h.mu.Unlock()
		return
	}
	h.phase = PhaseDetecting
	h.mu.Unlock()

	if c, ok := h.locate(doc); ok {
		h.mu.Lock()
		h.attempts++
		h.phase = PhaseClicking
		h.lastActivity = h.sched.Now()
		attempts := h.attempts
		h.mu.Unlock()

		h.page(func(ctx context.Context) func() {
			err := h.pointerDown(ctx, c)
			return func() {
				if err != nil {
					h.logger.Debug("Pointer dispatch failed", zap.String("handle", c.Handle), zap.Error(err))
					return
				}
				h.release(c)
				h.logger.Debug("Play affordance clicked",
					zap.String("handle", c.Handle),
					zap.Int("attempts", attempts),
				)
			}
		})
	}
	h.armRetry()
}

func (h *Heuristic) armRetry() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || !h.active {
		return
	}
	h.retry = h.sched.AfterFunc(h.cfg.Owner, h.policy.RetryInterval, h.retryTick)
}

// page runs call against the surface off the scheduler, bounded by the
// step timeout. The callback it returns runs on the scheduler unless the
// heuristic was stopped first.
func (h *Heuristic) page(call func(ctx context.Context) func()) {
	timeout := h.policy.StepTimeout
	h.sched.Go(h.cfg.Owner, func(ctx context.Context) func() {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return call(ctx)
	})
}

// finish ends the running episode.
func (h *Heuristic) finish(outcome Outcome) {
	h.mu.Lock()
	if !h.active {
		h.mu.Unlock()
		return
	}
	if h.retry != nil {
		h.retry.Stop()
		h.retry = nil
	}
	if h.ceiling != nil {
		h.ceiling.Stop()
		h.ceiling = nil
	}
	report := Report{
		InstanceID: h.cfg.InstanceID,
		Outcome:    outcome,
		Attempts:   h.attempts,
		Phrase:     h.phrase,
		Duration:   h.sched.Now().Sub(h.episodeStart),
	}
	h.active = false
	h.phase = PhaseIdle
	h.attempts = 0
	h.awaitClear = outcome == OutcomeExhausted
	h.mu.Unlock()

	fields := []zap.Field{
		zap.String("outcome", string(outcome)),
		zap.Int("attempts", report.Attempts),
		zap.Duration("duration", report.Duration),
	}
	if outcome == OutcomeSatisfied {
		h.logger.Info("Auto-play episode finished", fields...)
	} else {
		h.logger.Warn("Auto-play episode abandoned", fields...)
	}
	if h.cfg.OnOutcome != nil {
		h.cfg.OnOutcome(report)
	}
}

func (h *Heuristic) capture(ctx context.Context) (*Document, error) {
	snap, err := h.cfg.Surface.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return Parse(snap)
}

// locate evaluates the selectors in priority order and returns the first
// visible candidate. A failing selector is skipped.
func (h *Heuristic) locate(doc *Document) (Candidate, bool) {
	for _, s := range h.policy.Selectors {
		found, err := s.Select(doc)
		if err != nil {
			h.logger.Debug("Selector failed", zap.String("selector", s.Name()), zap.Error(err))
			continue
		}
		for _, c := range found {
			if c.Visible {
				return c, true
			}
		}
	}
	return Candidate{}, false
}

// dispatch sends pointer down now, pointer up after PointerUpDelay and a
// direct element click after DirectClickDelay.
func (h *Heuristic) dispatch(ctx context.Context, c Candidate) error {
	if err := h.pointerDown(ctx, c); err != nil {
		return err
	}
	h.release(c)
	return nil
}

func (h *Heuristic) pointerDown(ctx context.Context, c Candidate) error {
	x, y := c.Rect.Center()
	return h.cfg.Surface.DispatchPointer(ctx, browser.PointerEvent{Type: browser.PointerDown, X: x, Y: y})
}

// release schedules the pointer up and the direct click that follow a
// pointer down on c.
func (h *Heuristic) release(c Candidate) {
	if h.cfg.OnClick != nil {
		h.cfg.OnClick(c)
	}
	x, y := c.Rect.Center()
	h.sched.AfterFunc(h.cfg.Owner, h.policy.PointerUpDelay, func() {
		h.page(func(ctx context.Context) func() {
			if err := h.cfg.Surface.DispatchPointer(ctx, browser.PointerEvent{Type: browser.PointerUp, X: x, Y: y}); err != nil {
				h.logger.Debug("Pointer up failed", zap.Error(err))
			}
			return nil
		})
	})
	h.sched.AfterFunc(h.cfg.Owner, h.policy.DirectClickDelay, func() {
		h.page(func(ctx context.Context) func() {
			if err := h.cfg.Surface.ClickElement(ctx, c.Handle); err != nil {
				h.logger.Debug("Direct click failed", zap.String("handle", c.Handle), zap.Error(err))
			}
			return nil
		})
	})
}
