// Package gamepad fabricates the virtual controller each hosted page sees.
//
// The Device is the host-side source of truth. Every update is pushed one
// way into the page, where a shim serves navigator.getGamepads from the
// last pushed state and raises connect/disconnect events on changes.
// Out-of-range values are clamped rather than rejected: an update always
// succeeds.
package gamepad

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser/script"
	"github.com/GriffinCanCode/lobbyshell/internal/scheduler"
)

const (
	// NumButtons is the length of the standard mapping button list.
	NumButtons = 17
	// NumAxes covers leftX, leftY, rightX, rightY.
	NumAxes = 4
	// Slots is the length of the navigator.getGamepads() view.
	Slots = 4

	defaultAnnounceDelay = time.Second
	defaultPushTimeout   = 2 * time.Second
)

// Button is one standard-mapping button.
type Button struct {
	Pressed bool    `json:"pressed"`
	Touched bool    `json:"touched"`
	Value   float64 `json:"value"`
}

// State is a snapshot of the virtual pad.
type State struct {
	Index     int                `json:"index"`
	ID        string             `json:"id"`
	Mapping   string             `json:"mapping"`
	Connected bool               `json:"connected"`
	Buttons   [NumButtons]Button `json:"buttons"`
	Axes      [NumAxes]float64   `json:"axes"`
	// Timestamp is the monotonic time of the last mutation, measured from
	// device creation.
	Timestamp time.Duration `json:"-"`
}

// TimestampMillis reports Timestamp the way the page sees it.
func (s State) TimestampMillis() float64 {
	return float64(s.Timestamp) / float64(time.Millisecond)
}

// ButtonInput overwrites one button. Omitted fields default to released.
type ButtonInput struct {
	Index   int     `json:"index"`
	Pressed bool    `json:"pressed"`
	Value   float64 `json:"value"`
}

// Update is a partial pad mutation. Axes are positional.
type Update struct {
	Buttons   []ButtonInput `json:"buttons,omitempty"`
	Axes      []float64     `json:"axes,omitempty"`
	Connected *bool         `json:"connected,omitempty"`
}

// Config configures a Device.
type Config struct {
	// ID is the pad id reported to the page.
	ID string
	// Clock defaults to time.Now.
	Clock func() time.Time
	// AnnounceDelay delays the initial gamepadconnected event.
	AnnounceDelay time.Duration
	// PushTimeout bounds a single page push.
	PushTimeout time.Duration
	// OnUpdate is called after every applied update.
	OnUpdate func(State)
	Logger   *zap.Logger
}

// Device is the virtual gamepad of one hosted instance.
type Device struct {
	cfg     Config
	surface browser.Surface
	logger  *zap.Logger

	mu       sync.Mutex
	state    State
	origin   time.Time
	attached bool
}

// New creates a connected, neutral pad bound to surface.
func New(surface browser.Surface, cfg Config) *Device {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.AnnounceDelay == 0 {
		cfg.AnnounceDelay = defaultAnnounceDelay
	}
	if cfg.PushTimeout == 0 {
		cfg.PushTimeout = defaultPushTimeout
	}
	if cfg.ID == "" {
		cfg.ID = "Xbox Wireless Controller (STANDARD GAMEPAD Vendor: 045e Product: 02fd)"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Device{
		cfg:     cfg,
		surface: surface,
		logger:  logger,
		origin:  cfg.Clock(),
		state: State{
			ID:        cfg.ID,
			Mapping:   "standard",
			Connected: true,
		},
	}
}

// Shim renders the page-side installer for this pad.
func (d *Device) Shim() (string, error) {
	d.mu.Lock()
	connected := d.state.Connected
	d.mu.Unlock()
	return script.GamepadShim(d.cfg.ID, connected, d.cfg.AnnounceDelay)
}

// Attach installs the shim in the current document and pushes the current
// state into it. Subsequent updates are pushed as they happen.
func (d *Device) Attach(ctx context.Context) error {
	shim, err := d.Shim()
	if err != nil {
		return err
	}
	if err := d.surface.ExecuteScript(ctx, shim); err != nil {
		return err
	}

	d.mu.Lock()
	d.attached = true
	state := d.state
	d.mu.Unlock()

	d.push(ctx, state)
	return nil
}

// Detach stops pushing updates until the next Attach. The host-side state
// is kept.
func (d *Device) Detach() {
	d.mu.Lock()
	d.attached = false
	d.mu.Unlock()
}

// Attached reports whether updates are currently pushed to the page.
func (d *Device) Attached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attached
}

// State returns the current pad state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Gamepads returns the view a page gets from navigator.getGamepads():
// slot 0 holds the pad while connected, the other slots are always empty.
func (d *Device) Gamepads() [Slots]*State {
	var out [Slots]*State
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.Connected {
		s := d.state
		out[0] = &s
	}
	return out
}

// Update applies u and returns the resulting state. It never fails; a page
// push error is logged.
func (d *Device) Update(ctx context.Context, u Update) State {
	state, attached := d.apply(u)
	if attached {
		d.push(ctx, state)
	}
	return state
}

// Post applies u like Update but pushes the new state to the page from
// sched.Go under owner, so a hung page never holds up the scheduler.
func (d *Device) Post(sched scheduler.Scheduler, owner string, u Update) State {
	state, attached := d.apply(u)
	if attached {
		sched.Go(owner, func(ctx context.Context) func() {
			d.push(ctx, state)
			return nil
		})
	}
	return state
}

func (d *Device) apply(u Update) (State, bool) {
	d.mu.Lock()
	for _, b := range u.Buttons {
		if b.Index < 0 || b.Index >= NumButtons {
			continue
		}
		d.state.Buttons[b.Index] = Button{
			Pressed: b.Pressed,
			Touched: b.Pressed,
			Value:   clamp(b.Value, 0, 1),
		}
	}
	for i, v := range u.Axes {
		if i >= NumAxes {
			break
		}
		d.state.Axes[i] = clamp(v, -1, 1)
	}
	if u.Connected != nil {
		d.state.Connected = *u.Connected
	}
	d.state.Timestamp = d.tick()
	state := d.state
	attached := d.attached
	d.mu.Unlock()

	if d.cfg.OnUpdate != nil {
		d.cfg.OnUpdate(state)
	}
	return state, attached
}

// tick returns a timestamp strictly greater than the previous one.
// Callers hold d.mu.
func (d *Device) tick() time.Duration {
	ts := d.cfg.Clock().Sub(d.origin)
	if ts <= d.state.Timestamp {
		ts = d.state.Timestamp + 1
	}
	return ts
}

func (d *Device) push(ctx context.Context, s State) {
	src, err := script.GamepadApply(pagePad{
		Buttons:   s.Buttons[:],
		Axes:      s.Axes[:],
		Connected: s.Connected,
		Timestamp: s.TimestampMillis(),
	})
	if err != nil {
		d.logger.Error("Failed to render gamepad update", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.PushTimeout)
	defer cancel()
	if err := d.surface.ExecuteScript(ctx, src); err != nil {
		d.logger.Warn("Failed to push gamepad state", zap.Error(err))
	}
}

// pagePad is the shape __lobbyPad.apply expects.
type pagePad struct {
	Buttons   []Button  `json:"buttons"`
	Axes      []float64 `json:"axes"`
	Connected bool      `json:"connected"`
	Timestamp float64   `json:"timestamp"`
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
