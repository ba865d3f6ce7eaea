package autoplay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser/surfacetest"
	"github.com/GriffinCanCode/lobbyshell/internal/scheduler"
)

const (
	promptPage = `<html><body>
		<p>Tap to play</p>
		<button data-testid="play-button" data-lobby-handle="h1" data-lobby-rect="10,20,100,40" data-lobby-visible="true">Play</button>
	</body></html>`
	hiddenPromptPage = `<html><body>
		<p>Click to play</p>
		<button data-testid="play-button" data-lobby-handle="h1" data-lobby-rect="0,0,0,0" data-lobby-visible="false">Play</button>
	</body></html>`
	playingPage = `<html><body><canvas></canvas></body></html>`
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	sched    *scheduler.Manual
	surface  *surfacetest.Surface
	h        *Heuristic
	reports  []Report
	clicks   int
	policy   Policy
	instance string
}

func newHarness(t *testing.T, mutate func(*Policy)) *harness {
	t.Helper()
	hs := &harness{
		sched:    scheduler.NewManual(epoch),
		surface:  surfacetest.New("lobby_1", "persist:lobby_1"),
		policy:   DefaultPolicy(),
		instance: "lobby_1",
	}
	t.Cleanup(func() { hs.surface.Close() })
	if mutate != nil {
		mutate(&hs.policy)
	}
	hs.h = New(Config{
		InstanceID: hs.instance,
		Surface:    hs.surface,
		Scheduler:  hs.sched,
		Policy:     hs.policy,
		OnOutcome:  func(r Report) { hs.reports = append(hs.reports, r) },
		OnClick:    func(Candidate) { hs.clicks++ },
	})
	return hs
}

func (hs *harness) owner() string { return scheduler.Owner(hs.instance, "autoplay") }

func TestSatisfiedAfterOneClick(t *testing.T) {
	hs := newHarness(t, nil)
	hs.surface.SetDocument(promptPage, "")
	hs.surface.OnClick = func(string) { hs.surface.SetDocument(playingPage, "") }

	hs.h.Start()
	assert.Equal(t, StatusInitializing, hs.h.Session().Status)

	hs.sched.Advance(2 * time.Second)
	s := hs.h.Session()
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, "clicking", s.Phase)
	assert.Equal(t, 1, s.ClickAttempts)
	assert.Equal(t, 1, s.Episodes)

	require.Equal(t, []browser.PointerEvent{{Type: browser.PointerDown, X: 60, Y: 40}}, hs.surface.Pointers())

	hs.sched.Advance(100 * time.Millisecond)
	assert.Equal(t, []browser.PointerEvent{
		{Type: browser.PointerDown, X: 60, Y: 40},
		{Type: browser.PointerUp, X: 60, Y: 40},
	}, hs.surface.Pointers())
	assert.Equal(t, []string{"h1"}, hs.surface.Clicks())

	hs.sched.Advance(2 * time.Second)
	require.Len(t, hs.reports, 1)
	assert.Equal(t, OutcomeSatisfied, hs.reports[0].Outcome)
	assert.Equal(t, 1, hs.reports[0].Attempts)
	assert.Equal(t, "tap to play", hs.reports[0].Phrase)

	s = hs.h.Session()
	assert.Equal(t, StatusIdle, s.Status)
	assert.Equal(t, "idle", s.Phase)
	assert.Zero(t, s.ClickAttempts)
	assert.Equal(t, 1, hs.clicks)

	// a new prompt starts a fresh episode with a fresh counter
	hs.surface.OnClick = nil
	hs.surface.SetDocument(promptPage, "")
	hs.sched.Advance(time.Second)
	s = hs.h.Session()
	assert.Equal(t, 2, s.Episodes)
	assert.Equal(t, 1, s.ClickAttempts)
}

func TestAttemptsNeverExceedBudget(t *testing.T) {
	hs := newHarness(t, func(p *Policy) { p.MaxClickAttempts = 3 })
	hs.surface.SetDocument(promptPage, "")

	hs.h.Start()
	for i := 0; i < 10; i++ {
		hs.sched.Advance(time.Second)
		assert.LessOrEqual(t, hs.h.Session().ClickAttempts, 3)
	}

	require.Len(t, hs.reports, 1)
	assert.Equal(t, OutcomeExhausted, hs.reports[0].Outcome)
	assert.Equal(t, 3, hs.reports[0].Attempts)
	assert.Equal(t, 3, hs.clicks)
}

func TestExhaustedWaitsForPromptToClear(t *testing.T) {
	hs := newHarness(t, func(p *Policy) { p.MaxClickAttempts = 2 })
	hs.surface.SetDocument(promptPage, "")
	hs.h.Start()

	hs.sched.Advance(10 * time.Second)
	require.Len(t, hs.reports, 1)
	assert.Equal(t, OutcomeExhausted, hs.reports[0].Outcome)

	// the prompt is still up: no new episode
	hs.sched.Advance(20 * time.Second)
	assert.Equal(t, 1, hs.h.Session().Episodes)

	hs.surface.SetDocument(playingPage, "")
	hs.sched.Advance(5 * time.Second)
	hs.surface.SetDocument(promptPage, "")
	hs.sched.Advance(5 * time.Second)
	assert.Equal(t, 2, hs.h.Session().Episodes)
}

func TestEpisodeCeiling(t *testing.T) {
	hs := newHarness(t, nil)
	hs.surface.SetDocument(hiddenPromptPage, "")
	hs.h.Start()

	hs.sched.Advance(2 * time.Second)
	assert.Equal(t, StatusActive, hs.h.Session().Status)
	assert.Empty(t, hs.surface.Pointers(), "invisible elements are never clicked")

	hs.sched.Advance(30 * time.Second)
	require.Len(t, hs.reports, 1)
	assert.Equal(t, OutcomeTimedOut, hs.reports[0].Outcome)
	assert.Zero(t, hs.reports[0].Attempts)
	assert.Equal(t, 30*time.Second, hs.reports[0].Duration)

	// a timed out episode does not block the next detection
	hs.sched.Advance(5 * time.Second)
	assert.Equal(t, 2, hs.h.Session().Episodes)
}

func TestMutationStartsEpisode(t *testing.T) {
	hs := newHarness(t, func(p *Policy) {
		p.InitialCheckDelay = time.Hour
		p.MonitorInterval = time.Hour
	})
	hs.surface.SetDocument(playingPage, "")
	hs.h.Start()

	hs.h.OnMutation()
	hs.sched.Flush()
	assert.Zero(t, hs.h.Session().Episodes)

	hs.surface.SetDocument(promptPage, "")
	hs.h.OnMutation()
	hs.h.OnMutation()
	hs.sched.Flush()
	assert.Equal(t, 1, hs.h.Session().Episodes, "one episode at a time")
	assert.Equal(t, 1, hs.h.Session().ClickAttempts)
}

func TestStopCancelsEverything(t *testing.T) {
	hs := newHarness(t, nil)
	hs.surface.SetDocument(promptPage, "")
	hs.h.Start()
	hs.sched.Advance(2 * time.Second)
	require.Positive(t, hs.sched.Pending(hs.owner()))

	hs.h.Stop()
	assert.Zero(t, hs.sched.Pending(hs.owner()))

	pointers := len(hs.surface.Pointers())
	hs.h.OnMutation()
	hs.sched.Advance(time.Minute)
	assert.Len(t, hs.surface.Pointers(), pointers)
	assert.Empty(t, hs.reports)
	assert.Equal(t, StatusIdle, hs.h.Session().Status)
}

func TestSnapshotFailureIsSwallowed(t *testing.T) {
	hs := newHarness(t, nil)
	hs.surface.SnapshotErr = errors.New("page busy")
	hs.h.Start()
	hs.sched.Advance(time.Minute)
	assert.Zero(t, hs.h.Session().Episodes)
}

func TestTriggerNow(t *testing.T) {
	hs := newHarness(t, nil)
	hs.surface.SetDocument(promptPage, "")

	clicked, err := hs.h.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.True(t, clicked)
	assert.Len(t, hs.surface.Pointers(), 1)
	assert.Zero(t, hs.h.Session().Episodes, "manual passes do not start episodes")

	hs.surface.SetDocument(playingPage, "")
	clicked, err = hs.h.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.False(t, clicked)

	hs.h.Stop()
	_, err = hs.h.TriggerNow(context.Background())
	assert.Error(t, err)
}

func TestHungPageDoesNotStallOtherInstances(t *testing.T) {
	loop := scheduler.NewLoop(zaptest.NewLogger(t))
	defer loop.Close()

	surface := surfacetest.New("lobby_a", "persist:lobby_a")
	defer surface.Close()
	surface.SetDocument(promptPage, "")
	hung := make(chan struct{})
	entered := make(chan struct{}, 1)
	surface.SnapshotHook = func(ctx context.Context) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-hung:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	policy := DefaultPolicy()
	policy.InitialCheckDelay = time.Millisecond
	policy.MonitorInterval = time.Hour
	policy.StepTimeout = 2 * time.Second
	h := New(Config{InstanceID: "lobby_a", Surface: surface, Scheduler: loop, Policy: policy})
	h.Start()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("snapshot never started")
	}

	start := time.Now()
	fired := make(chan time.Duration, 1)
	loop.AfterFunc("lobby_b/stimulus", 10*time.Millisecond, func() { fired <- time.Since(start) })
	select {
	case d := <-fired:
		assert.Less(t, d, 500*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("another instance's timer waited on the hung page")
	}

	// the late snapshot of a stopped heuristic is discarded
	h.Stop()
	close(hung)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.Session().Episodes)
	assert.Empty(t, surface.Pointers())
	assert.Zero(t, loop.Pending("lobby_a"))
}

func TestOneDetectionSnapshotInFlight(t *testing.T) {
	hs := newHarness(t, func(p *Policy) {
		p.InitialCheckDelay = time.Hour
		p.MonitorInterval = time.Hour
	})
	hs.surface.SetDocument(playingPage, "")
	snapshots := 0
	hs.surface.SnapshotHook = func(context.Context) error {
		snapshots++
		return nil
	}
	hs.h.Start()

	hs.h.OnMutation()
	hs.h.OnMutation()
	hs.sched.Flush()
	assert.Equal(t, 1, snapshots, "a check while a snapshot is in flight is skipped")
	assert.Zero(t, hs.h.Session().Episodes)
}
