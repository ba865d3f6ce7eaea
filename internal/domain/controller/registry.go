// Package controller tracks the controllers the control server has bound
// to hosted lobbies and fans bulk actions out across them.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/lobbyshell/internal/providers/control"
	"github.com/GriffinCanCode/lobbyshell/internal/scheduler"
)

var (
	ErrNoControllers = errors.New("no connected controllers")
	ErrUnknownLobby  = errors.New("no controller bound to lobby")
)

// Control is the part of the control server client the registry uses.
type Control interface {
	AllControllerStatus(ctx context.Context) (*control.AllStatus, error)
	Connect(ctx context.Context, lobbyID string) (*control.Result, error)
	Disconnect(ctx context.Context, lobbyID string, controllerID *int) (*control.Result, error)
	SetMovement(ctx context.Context, lobbyID string, controllerID int, enabled bool) (*control.Result, error)
	SetAntiAFK(ctx context.Context, lobbyID string, controllerID int, enabled bool) (*control.Result, error)
	SelectClass(ctx context.Context, lobbyID string, controllerID int) (*control.Result, error)
}

// Entry is one lobby's controller.
type Entry struct {
	LobbyID string `json:"lobby_id"`
	control.ControllerStatus
}

// Summary reports a fan-out across connected controllers.
type Summary struct {
	Action   string            `json:"action"`
	Success  int               `json:"success_count"`
	Total    int               `json:"total_count"`
	Enabled  *bool             `json:"enabled,omitempty"`
	Failures map[string]string `json:"failures,omitempty"`
}

// Message renders the summary the way the shell shows it.
func (s Summary) Message() string {
	if s.Enabled == nil {
		return fmt.Sprintf("%s on %d/%d controller(s)", s.Action, s.Success, s.Total)
	}
	state := "disabled"
	if *s.Enabled {
		state = "enabled"
	}
	return fmt.Sprintf("%s %s on %d/%d controller(s)", s.Action, state, s.Success, s.Total)
}

// Snapshot is the registry view served to the shell.
type Snapshot struct {
	Controllers     map[string]control.ControllerStatus `json:"controllers"`
	ConnectedCount  int                                 `json:"connected_count"`
	MovementEnabled bool                                `json:"global_movement_enabled"`
	AntiAFKEnabled  bool                                `json:"global_anti_afk_enabled"`
	LastRefresh     time.Time                           `json:"last_refresh"`
	LastError       string                              `json:"last_error,omitempty"`
}

// Config configures a Registry.
type Config struct {
	Client    Control
	Scheduler scheduler.Scheduler
	// Interval between status refreshes; zero means 30s.
	Interval time.Duration
	// Timeout bounds each control server call; zero means 10s.
	Timeout     time.Duration
	Concurrency int
	Logger      *zap.Logger
}

// Registry mirrors the control server's controller table.
type Registry struct {
	client      Control
	sched       scheduler.Scheduler
	interval    time.Duration
	timeout     time.Duration
	concurrency int
	logger      *zap.Logger
	group       singleflight.Group

	mu          sync.RWMutex
	controllers map[string]control.ControllerStatus
	// unresolved holds lobbies assigned here whose controller id no
	// refresh has reported yet
	unresolved map[string]struct{}
	movement   bool
	antiAFK     bool
	lastRefresh time.Time
	lastErr     error
}

const owner = "controllers"

// New creates a registry. It does not poll until Start.
func New(cfg Config) *Registry {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Registry{
		client:      cfg.Client,
		sched:       cfg.Scheduler,
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
		controllers: make(map[string]control.ControllerStatus),
		unresolved:  make(map[string]struct{}),
	}
}

// Start refreshes now and then every interval until ctx ends or Stop.
// Refreshes run off the scheduler goroutine.
func (r *Registry) Start(ctx context.Context) {
	refresh := func() {
		go func() {
			if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("Controller status refresh failed", zap.Error(err))
			}
		}()
	}
	r.sched.Post(owner, refresh)
	r.sched.Every(owner, r.interval, refresh)
}

// Stop ends periodic refreshes.
func (r *Registry) Stop() {
	r.sched.Cancel(owner)
}

// Refresh replaces the table with the server's view. Concurrent callers
// share one request.
func (r *Registry) Refresh(ctx context.Context) error {
	_, err, _ := r.group.Do("refresh", func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		all, err := r.client.AllControllerStatus(ctx)

		r.mu.Lock()
		defer r.mu.Unlock()
		r.lastErr = err
		if err != nil {
			return nil, err
		}
		r.controllers = make(map[string]control.ControllerStatus, len(all.Controllers))
		for id, st := range all.Controllers {
			r.controllers[id] = st
			if st.Connected && st.ControllerID != 0 {
				delete(r.unresolved, id)
			}
		}
		r.lastRefresh = time.Now()
		return nil, nil
	})
	return err
}

// Snapshot returns a copy of the table.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		Controllers:     make(map[string]control.ControllerStatus, len(r.controllers)),
		MovementEnabled: r.movement,
		AntiAFKEnabled:  r.antiAFK,
		LastRefresh:     r.lastRefresh,
	}
	for id, st := range r.controllers {
		s.Controllers[id] = st
		if st.Connected {
			s.ConnectedCount++
		}
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}

// Connected lists connected controllers ordered by lobby id.
func (r *Registry) Connected() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for id, st := range r.controllers {
		if st.Connected {
			out = append(out, Entry{LobbyID: id, ControllerStatus: st})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LobbyID < out[j].LobbyID })
	return out
}

// Assign asks the server to bind a controller to lobbyID, then refreshes
// the table to learn which controller it picked.
func (r *Registry) Assign(ctx context.Context, lobbyID string) error {
	connectCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.client.Connect(connectCtx, lobbyID); err != nil {
		return fmt.Errorf("assign controller to %s: %w", lobbyID, err)
	}
	r.mu.Lock()
	r.unresolved[lobbyID] = struct{}{}
	r.mu.Unlock()

	if err := r.Refresh(ctx); err != nil {
		r.logger.Debug("Controller id unknown until the next refresh",
			zap.String("lobby_id", lobbyID),
			zap.Error(err),
		)
	}
	return nil
}

// Release unbinds lobbyID's controller, if any. When the controller id was
// never reported the request names only the lobby.
func (r *Registry) Release(ctx context.Context, lobbyID string) error {
	r.mu.Lock()
	st, known := r.controllers[lobbyID]
	_, unresolved := r.unresolved[lobbyID]
	delete(r.controllers, lobbyID)
	delete(r.unresolved, lobbyID)
	r.mu.Unlock()

	var controllerID *int
	switch {
	case known && st.Connected && st.ControllerID != 0:
		controllerID = &st.ControllerID
	case unresolved, known && st.Connected:
	default:
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if _, err := r.client.Disconnect(ctx, lobbyID, controllerID); err != nil {
		return fmt.Errorf("release controller of %s: %w", lobbyID, err)
	}
	return nil
}

// ToggleMovement flips the global movement flag on every connected
// controller. The flag only changes when at least one call succeeds.
func (r *Registry) ToggleMovement(ctx context.Context) (Summary, error) {
	r.mu.RLock()
	next := !r.movement
	r.mu.RUnlock()

	sum, err := r.fanOut(ctx, "movement", &next, func(ctx context.Context, e Entry) error {
		_, err := r.client.SetMovement(ctx, e.LobbyID, e.ControllerID, next)
		return err
	})
	if err == nil && sum.Success > 0 {
		r.mu.Lock()
		r.movement = next
		r.mu.Unlock()
	}
	return sum, err
}

// ToggleAntiAFK flips the global anti-AFK flag on every connected
// controller.
func (r *Registry) ToggleAntiAFK(ctx context.Context) (Summary, error) {
	r.mu.RLock()
	next := !r.antiAFK
	r.mu.RUnlock()

	sum, err := r.fanOut(ctx, "anti-afk", &next, func(ctx context.Context, e Entry) error {
		_, err := r.client.SetAntiAFK(ctx, e.LobbyID, e.ControllerID, next)
		return err
	})
	if err == nil && sum.Success > 0 {
		r.mu.Lock()
		r.antiAFK = next
		r.mu.Unlock()
	}
	return sum, err
}

// SelectClass runs class selection on every connected controller.
func (r *Registry) SelectClass(ctx context.Context) (Summary, error) {
	return r.fanOut(ctx, "select-class", nil, func(ctx context.Context, e Entry) error {
		_, err := r.client.SelectClass(ctx, e.LobbyID, e.ControllerID)
		return err
	})
}

// SetMovement sets movement for a single lobby.
func (r *Registry) SetMovement(ctx context.Context, lobbyID string, enabled bool) error {
	return r.single(ctx, lobbyID, func(ctx context.Context, st control.ControllerStatus) (control.ControllerStatus, error) {
		_, err := r.client.SetMovement(ctx, lobbyID, st.ControllerID, enabled)
		st.MovementEnabled = enabled
		return st, err
	})
}

// SetAntiAFK sets anti-AFK for a single lobby.
func (r *Registry) SetAntiAFK(ctx context.Context, lobbyID string, enabled bool) error {
	return r.single(ctx, lobbyID, func(ctx context.Context, st control.ControllerStatus) (control.ControllerStatus, error) {
		_, err := r.client.SetAntiAFK(ctx, lobbyID, st.ControllerID, enabled)
		st.AntiAFKEnabled = enabled
		return st, err
	})
}

func (r *Registry) single(ctx context.Context, lobbyID string, fn func(context.Context, control.ControllerStatus) (control.ControllerStatus, error)) error {
	r.mu.RLock()
	st, ok := r.controllers[lobbyID]
	r.mu.RUnlock()
	if !ok || !st.Connected {
		return fmt.Errorf("%w: %s", ErrUnknownLobby, lobbyID)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	updated, err := fn(ctx, st)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, ok := r.controllers[lobbyID]; ok {
		r.controllers[lobbyID] = updated
	}
	r.mu.Unlock()
	return nil
}

func (r *Registry) fanOut(ctx context.Context, action string, enabled *bool, call func(context.Context, Entry) error) (Summary, error) {
	targets := r.Connected()
	sum := Summary{Action: action, Total: len(targets), Enabled: enabled}
	if len(targets) == 0 {
		return sum, ErrNoControllers
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, e := range targets {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, r.timeout)
			defer cancel()
			err := call(cctx, e)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if sum.Failures == nil {
					sum.Failures = make(map[string]string)
				}
				sum.Failures[e.LobbyID] = err.Error()
				r.logger.Warn("Controller action failed",
					zap.String("action", action),
					zap.String("lobby_id", e.LobbyID),
					zap.Error(err),
				)
				return nil
			}
			sum.Success++
			return nil
		})
	}
	// per-target failures are collected, not propagated
	_ = g.Wait()

	if sum.Success > 0 && enabled != nil {
		r.mu.Lock()
		for _, e := range targets {
			if _, failed := sum.Failures[e.LobbyID]; failed {
				continue
			}
			st, ok := r.controllers[e.LobbyID]
			if !ok {
				continue
			}
			switch action {
			case "movement":
				st.MovementEnabled = *enabled
			case "anti-afk":
				st.AntiAFKEnabled = *enabled
			}
			r.controllers[e.LobbyID] = st
		}
		r.mu.Unlock()
	}
	return sum, nil
}
