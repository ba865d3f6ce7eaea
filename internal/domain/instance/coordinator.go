package instance

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/lobbyshell/internal/domain/autoplay"
	"github.com/GriffinCanCode/lobbyshell/internal/domain/session"
	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser/script"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/gamepad"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/viewport"
	"github.com/GriffinCanCode/lobbyshell/internal/scheduler"
	"github.com/GriffinCanCode/lobbyshell/internal/shared/id"
)

// MaxInstances is the hard ceiling on concurrently hosted instances.
const MaxInstances = 20

// ErrShutdown is returned by Open once the coordinator has shut down.
var ErrShutdown = errors.New("coordinator shut down")

// Config wires a Coordinator. Assigner, Events and Metrics are optional.
type Config struct {
	Factory   browser.Factory
	Scheduler scheduler.Scheduler
	Isolator  *session.Isolator
	Spoofer   *viewport.Spoofer
	Policy    autoplay.Policy
	Assigner  Assigner
	Events    EventSink
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger

	TargetURL string
	// Max is clamped to [1, MaxInstances].
	Max              int
	SpoofSettleDelay time.Duration
	AutoPlayDelay    time.Duration
	MountTimeout     time.Duration
	StepTimeout      time.Duration
	AssignTimeout    time.Duration

	// NewRand seeds each instance's stimulus; nil draws random seeds.
	NewRand func() *rand.Rand
}

// Coordinator owns every hosted instance.
type Coordinator struct {
	cfg      Config
	sched    scheduler.Scheduler
	isolator *session.Isolator
	spoofer  *viewport.Spoofer
	metrics  *monitoring.Metrics
	logger   *zap.Logger

	mu        sync.RWMutex
	instances map[string]*Instance // Protected by mu
	reserved  int                  // Protected by mu
	shutdown  bool                 // Protected by mu
}

// Instance is one hosted page.
type Instance struct {
	id        id.InstanceID
	partition string
	createdAt time.Time
	surface   browser.Surface
	device    *gamepad.Device
	stimulus  *gamepad.Simulator
	logger    *zap.Logger
	unlisten  func()

	mu        sync.Mutex
	state     State
	spoof     viewport.Strategy
	reloads   int
	heuristic *autoplay.Heuristic
}

// ID returns the instance id.
func (i *Instance) ID() string { return i.id.String() }

// Partition returns the storage partition key.
func (i *Instance) Partition() string { return i.partition }

// State returns the lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Instance) autoplay() *autoplay.Heuristic {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.heuristic
}

func (i *Instance) swapAutoplay(h *autoplay.Heuristic) *autoplay.Heuristic {
	i.mu.Lock()
	defer i.mu.Unlock()
	old := i.heuristic
	i.heuristic = h
	return old
}

func (i *Instance) info() Info {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := Info{
		ID:        i.id.String(),
		Partition: i.partition,
		State:     i.state,
		CreatedAt: i.createdAt,
		Spoof:     i.spoof,
		Reloads:   i.reloads,
		Gamepad:   i.device.Attached(),
	}
	if i.heuristic != nil {
		s := i.heuristic.Session()
		out.AutoPlay = &s
	}
	return out
}

// NewCoordinator creates a coordinator with no instances.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Max <= 0 || cfg.Max > MaxInstances {
		cfg.Max = MaxInstances
	}
	if cfg.SpoofSettleDelay <= 0 {
		cfg.SpoofSettleDelay = 2 * time.Second
	}
	if cfg.AutoPlayDelay <= 0 {
		cfg.AutoPlayDelay = time.Second
	}
	if cfg.MountTimeout <= 0 {
		cfg.MountTimeout = 15 * time.Second
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 10 * time.Second
	}
	if cfg.AssignTimeout <= 0 {
		cfg.AssignTimeout = 10 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = monitoring.NewMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Isolator == nil {
		cfg.Isolator = session.NewIsolator(session.NewMemorySubstrate(), cfg.Logger)
	}
	if cfg.Spoofer == nil {
		cfg.Spoofer = viewport.New(viewport.DefaultWidth, viewport.DefaultHeight, cfg.Logger)
	}
	if cfg.Policy.Selectors == nil {
		cfg.Policy = autoplay.DefaultPolicy()
	}

	return &Coordinator{
		cfg:       cfg,
		sched:     cfg.Scheduler,
		isolator:  cfg.Isolator,
		spoofer:   cfg.Spoofer,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		instances: make(map[string]*Instance),
	}
}

// Max returns the configured instance ceiling.
func (c *Coordinator) Max() int { return c.cfg.Max }

// Open creates n instances. Admission failures create nothing and return
// an *AdmissionError. A mount failure stops the batch and returns the
// instances created so far together with the error.
func (c *Coordinator) Open(ctx context.Context, n int) ([]Info, error) {
	if err := c.admit(n); err != nil {
		var admission *AdmissionError
		if errors.As(err, &admission) {
			reason := "capacity"
			if errors.Is(err, ErrInvalidCount) {
				reason = "invalid_count"
			}
			c.metrics.IncAdmissionDenied(reason)
		}
		c.logger.Warn("Open request rejected", zap.Int("requested", n), zap.Error(err))
		return nil, err
	}

	infos := make([]Info, 0, n)
	for i := 0; i < n; i++ {
		inst, err := c.mount(ctx)
		if err != nil {
			c.unreserve(n - i)
			c.logger.Error("Failed to mount instance",
				zap.Int("created", len(infos)),
				zap.Int("requested", n),
				zap.Error(err),
			)
			return infos, fmt.Errorf("open instance %d of %d: %w", i+1, n, err)
		}
		if !c.register(inst) {
			c.unreserve(n - i - 1)
			c.logger.Warn("Shut down while opening", zap.Int("created", len(infos)), zap.Int("requested", n))
			return infos, ErrShutdown
		}
		infos = append(infos, inst.info())
	}

	c.logger.Info("Instances opened", zap.Int("count", n), zap.Int("active", c.Count()))
	return infos, nil
}

func (c *Coordinator) admit(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := len(c.instances) + c.reserved
	if n < 1 {
		return &AdmissionError{Reason: ErrInvalidCount, Requested: n, Current: current, Max: c.cfg.Max}
	}
	if c.shutdown {
		return ErrShutdown
	}
	if current+n > c.cfg.Max {
		return &AdmissionError{Reason: ErrCapacityExceeded, Requested: n, Current: current, Max: c.cfg.Max}
	}
	c.reserved += n
	return nil
}

func (c *Coordinator) unreserve(n int) {
	c.mu.Lock()
	c.reserved -= n
	c.mu.Unlock()
}

// register turns one reservation into a live instance. An instance that
// finished mounting after Shutdown is torn down instead and register
// reports false.
func (c *Coordinator) register(inst *Instance) bool {
	c.mu.Lock()
	c.reserved--
	if c.shutdown {
		c.mu.Unlock()
		c.discard(inst)
		return false
	}
	c.instances[inst.ID()] = inst
	active := len(c.instances)
	c.mu.Unlock()

	c.metrics.IncInstancesOpened()
	c.metrics.SetInstancesActive(active)
	c.publish(EventOpened, inst, inst.info())
	c.assign(inst)
	return true
}

// discard releases an instance that never became visible.
func (c *Coordinator) discard(inst *Instance) {
	inst.unlisten()
	inst.mu.Lock()
	inst.state = StateDestroyed
	inst.mu.Unlock()
	c.stop(inst)
	c.isolator.Release(inst.partition)
	if err := inst.surface.Close(); err != nil {
		inst.logger.Debug("Surface close failed", zap.Error(err))
	}
}

// mount creates the surface, wires listeners and shims, and navigates.
func (c *Coordinator) mount(ctx context.Context) (*Instance, error) {
	iid := id.NewInstanceID()
	partition := iid.PartitionKey()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.MountTimeout)
	defer cancel()

	surface, err := c.cfg.Factory.NewSurface(ctx, iid.String(), partition)
	if err != nil {
		return nil, fmt.Errorf("mount surface: %w", err)
	}

	logger := logging.Instance(c.logger, iid.String())
	inst := &Instance{
		id:        iid,
		partition: partition,
		createdAt: c.sched.Now(),
		surface:   surface,
		logger:    logger,
		state:     StateCreating,
	}
	inst.device = gamepad.New(surface, gamepad.Config{
		Clock:    c.sched.Now,
		Logger:   logger,
		OnUpdate: func(gamepad.State) { c.metrics.IncGamepadUpdates() },
	})
	var rng *rand.Rand
	if c.cfg.NewRand != nil {
		rng = c.cfg.NewRand()
	}
	inst.stimulus = gamepad.NewSimulator(inst.device, c.sched, owner(iid, "stimulus"), rng)

	events := owner(iid, "events")
	inst.unlisten = surface.Listen(func(ev browser.Event) {
		c.sched.Post(events, func() { c.handle(inst, ev) })
	})

	c.preload(ctx, inst)

	if err := surface.Navigate(ctx, c.cfg.TargetURL); err != nil {
		inst.unlisten()
		c.sched.Cancel(iid.String())
		_ = surface.Close()
		return nil, fmt.Errorf("navigate %s: %w", iid, err)
	}
	return inst, nil
}

// preload registers the isolation and gamepad shims so they run before
// page scripts in every document. Failures are logged; DOM-ready attach
// installs both again.
func (c *Coordinator) preload(ctx context.Context, inst *Instance) {
	if err := c.isolator.Preload(ctx, inst.surface, inst.partition); err != nil {
		inst.logger.Warn("Failed to preload storage shim", zap.Error(err))
	}

	pad, err := inst.device.Shim()
	if err == nil {
		err = inst.surface.Preload(ctx, "gamepad", pad)
	}
	if err != nil {
		inst.logger.Warn("Failed to preload gamepad shim", zap.Error(err))
	}
}

func (c *Coordinator) assign(inst *Instance) {
	if c.cfg.Assigner == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AssignTimeout)
		defer cancel()
		if err := c.cfg.Assigner.Assign(ctx, inst.ID()); err != nil {
			inst.logger.Warn("Controller assignment failed", zap.Error(err))
			return
		}
		c.publish(EventControllerAssign, inst, nil)
	}()
}

// handle runs on the scheduler for every surface event.
func (c *Coordinator) handle(inst *Instance, ev browser.Event) {
	if inst.State() == StateDestroyed {
		return
	}
	switch ev.Type {
	case browser.EventDOMReady:
		c.onDOMReady(inst)
	case browser.EventLoadComplete:
		c.onLoadComplete(inst)
	case browser.EventBinding:
		if ev.Name != script.StorageBinding {
			return
		}
		if err := c.isolator.HandleBinding(inst.partition, ev.Payload); err != nil {
			inst.logger.Warn("Rejected storage message", zap.Error(err))
		}
	case browser.EventMutation:
		if h := inst.autoplay(); h != nil {
			h.OnMutation()
		}
	case browser.EventGone:
		c.vanish(inst, ev.Reason)
	}
}

// onDOMReady attaches storage isolation first, then the gamepad. The page
// calls run off the scheduler under the lifecycle owner.
func (c *Coordinator) onDOMReady(inst *Instance) {
	c.page(inst, func(ctx context.Context) func() {
		if err := c.isolator.Attach(ctx, inst.surface, inst.partition); err != nil {
			inst.logger.Warn("Storage isolation attach failed", zap.Error(err))
		}
		if err := inst.device.Attach(ctx); err != nil {
			inst.logger.Warn("Gamepad attach failed", zap.Error(err))
		}
		if err := inst.surface.ObserveMutations(ctx); err != nil {
			inst.logger.Warn("Mutation observation unavailable", zap.Error(err))
		}
		return nil
	})
}

func (c *Coordinator) onLoadComplete(inst *Instance) {
	lifecycle := owner(inst.id, "lifecycle")

	if !c.transition(inst, StateCreating, StateLoaded) {
		// a page-initiated navigation loses a DOM-level spoof
		inst.mu.Lock()
		respoof := inst.spoof == viewport.StrategyDOM
		inst.mu.Unlock()
		if respoof {
			c.sched.AfterFunc(lifecycle, c.cfg.SpoofSettleDelay, func() { c.spoof(inst, nil) })
		}
		return
	}
	c.sched.AfterFunc(lifecycle, c.cfg.SpoofSettleDelay, func() { c.activate(inst) })
}

// spoof applies the viewport override off the scheduler, records the
// strategy and hands the result to then.
func (c *Coordinator) spoof(inst *Instance, then func(viewport.Result)) {
	c.page(inst, func(ctx context.Context) func() {
		res := c.spoofer.Apply(ctx, inst.surface)
		return func() {
			c.metrics.RecordSpoof(string(res.Strategy))
			inst.mu.Lock()
			inst.spoof = res.Strategy
			inst.mu.Unlock()
			if then != nil {
				then(res)
			}
		}
	})
}

// page runs call against the instance's surface on its own goroutine,
// bounded by the step timeout. The returned callback runs on the
// scheduler; a refresh or teardown in between drops it.
func (c *Coordinator) page(inst *Instance, call func(ctx context.Context) func()) {
	timeout := c.cfg.StepTimeout
	c.sched.Go(owner(inst.id, "lifecycle"), func(ctx context.Context) func() {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return call(ctx)
	})
}

func (c *Coordinator) activate(inst *Instance) {
	if inst.State() == StateDestroyed {
		return
	}
	c.spoof(inst, func(res viewport.Result) { c.activated(inst, res) })
}

func (c *Coordinator) activated(inst *Instance, res viewport.Result) {
	if inst.State() == StateDestroyed {
		return
	}
	if res.Applied() {
		c.transition(inst, StateLoaded, StateSpoofApplied)
	}

	inst.stimulus.Start()
	inst.mu.Lock()
	changed := inst.state == StateLoaded || inst.state == StateSpoofApplied
	if changed {
		inst.state = StateActive
	}
	inst.mu.Unlock()
	if !changed {
		return
	}
	c.publish(EventState, inst, map[string]any{"state": StateActive})

	c.sched.AfterFunc(owner(inst.id, "lifecycle"), c.cfg.AutoPlayDelay, func() { c.startAutoPlay(inst) })
}

func (c *Coordinator) startAutoPlay(inst *Instance) {
	if inst.State() != StateActive {
		return
	}
	h := autoplay.New(autoplay.Config{
		InstanceID: inst.ID(),
		Surface:    inst.surface,
		Scheduler:  c.sched,
		Owner:      owner(inst.id, "autoplay"),
		Policy:     c.cfg.Policy,
		Logger:     c.logger.Named("autoplay"),
		OnOutcome: func(r autoplay.Report) {
			c.metrics.RecordAutoPlayEpisode(string(r.Outcome))
			c.publish(EventAutoPlayOutcome, inst, r)
		},
		OnClick: func(autoplay.Candidate) { c.metrics.IncAutoPlayClicks() },
	})
	if old := inst.swapAutoplay(h); old != nil {
		old.Stop()
	}
	h.Start()
}

// transition moves inst from one state to the next and publishes it.
func (c *Coordinator) transition(inst *Instance, from, to State) bool {
	inst.mu.Lock()
	if inst.state != from {
		inst.mu.Unlock()
		return false
	}
	inst.state = to
	inst.mu.Unlock()

	inst.logger.Debug("Instance state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	c.publish(EventState, inst, map[string]any{"state": to})
	return true
}

// Close destroys one instance.
func (c *Coordinator) Close(instanceID string) error {
	c.mu.Lock()
	inst, ok := c.instances[instanceID]
	delete(c.instances, instanceID)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}
	c.teardown(inst, "closed")
	return nil
}

// CloseAll destroys every instance and reports how many were closed.
func (c *Coordinator) CloseAll() int {
	c.mu.Lock()
	all := make([]*Instance, 0, len(c.instances))
	for _, inst := range c.instances {
		all = append(all, inst)
	}
	c.instances = make(map[string]*Instance)
	c.mu.Unlock()

	for _, inst := range all {
		c.teardown(inst, "closed")
	}
	if len(all) > 0 {
		c.logger.Info("Closed all instances", zap.Int("count", len(all)))
	}
	return len(all)
}

// Shutdown closes everything and rejects further opens.
func (c *Coordinator) Shutdown() int {
	c.mu.Lock()
	c.shutdown = true
	c.mu.Unlock()
	return c.CloseAll()
}

func (c *Coordinator) vanish(inst *Instance, reason string) {
	c.mu.Lock()
	current, ok := c.instances[inst.ID()]
	if ok && current == inst {
		delete(c.instances, inst.ID())
	}
	c.mu.Unlock()
	if !ok || current != inst {
		return
	}
	inst.logger.Warn("Render surface vanished", zap.String("reason", reason))
	c.teardown(inst, "gone")
}

// stop cancels every piece of scheduled work of inst.
func (c *Coordinator) stop(inst *Instance) {
	if h := inst.swapAutoplay(nil); h != nil {
		h.Stop()
	}
	inst.stimulus.Stop()
	c.sched.Cancel(inst.ID())
}

func (c *Coordinator) teardown(inst *Instance, reason string) {
	inst.unlisten()
	inst.mu.Lock()
	inst.state = StateDestroyed
	inst.mu.Unlock()

	c.stop(inst)
	inst.device.Detach()
	c.isolator.Release(inst.partition)
	if err := inst.surface.Close(); err != nil {
		inst.logger.Debug("Surface close failed", zap.Error(err))
	}

	c.metrics.IncInstancesClosed(reason)
	c.metrics.SetInstancesActive(c.Count())
	c.publish(EventClosed, inst, map[string]any{"reason": reason})

	if c.cfg.Assigner != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AssignTimeout)
			defer cancel()
			if err := c.cfg.Assigner.Release(ctx, inst.ID()); err != nil {
				inst.logger.Warn("Controller release failed", zap.Error(err))
			}
		}()
	}
}

// Refresh reloads one instance in place. Auto-play, stimulus and
// per-document storage are torn down and rebuilt by the lifecycle of the
// new document; id, partition and persisted storage survive.
func (c *Coordinator) Refresh(ctx context.Context, instanceID string) error {
	inst, err := c.lookup(instanceID)
	if err != nil {
		return err
	}

	c.stop(inst)
	inst.device.Detach()
	c.isolator.Reset(inst.partition)
	inst.mu.Lock()
	inst.state = StateCreating
	inst.reloads++
	inst.mu.Unlock()
	c.publish(EventState, inst, map[string]any{"state": StateCreating})

	// the next document starts from the entries persisted so far
	if err := c.isolator.Preload(ctx, inst.surface, inst.partition); err != nil {
		inst.logger.Warn("Failed to refresh storage shim", zap.Error(err))
	}
	if err := inst.surface.Reload(ctx); err != nil {
		inst.logger.Warn("Reload failed", zap.Error(err))
		return fmt.Errorf("reload %s: %w", instanceID, err)
	}
	inst.logger.Info("Instance refreshed")
	return nil
}

// RefreshAll refreshes every instance and reports how many reloaded.
func (c *Coordinator) RefreshAll(ctx context.Context) int {
	n := 0
	for _, inst := range c.snapshot() {
		if err := c.Refresh(ctx, inst.ID()); err == nil {
			n++
		}
	}
	return n
}

// Get returns one instance.
func (c *Coordinator) Get(instanceID string) (Info, error) {
	inst, err := c.lookup(instanceID)
	if err != nil {
		return Info{}, err
	}
	return inst.info(), nil
}

// List returns every instance in open order.
func (c *Coordinator) List() []Info {
	all := c.snapshot()
	out := make([]Info, 0, len(all))
	for _, inst := range all {
		out = append(out, inst.info())
	}
	return out
}

// Count returns the number of live instances.
func (c *Coordinator) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.instances)
}

// UpdateGamepad applies a partial update to an instance's pad.
func (c *Coordinator) UpdateGamepad(ctx context.Context, instanceID string, u gamepad.Update) (gamepad.State, error) {
	inst, err := c.lookup(instanceID)
	if err != nil {
		return gamepad.State{}, err
	}
	return inst.device.Update(ctx, u), nil
}

// Gamepads returns the navigator.getGamepads() view of an instance.
func (c *Coordinator) Gamepads(instanceID string) ([gamepad.Slots]*gamepad.State, error) {
	inst, err := c.lookup(instanceID)
	if err != nil {
		return [gamepad.Slots]*gamepad.State{}, err
	}
	return inst.device.Gamepads(), nil
}

// ExerciseGamepad schedules the scripted pad self-test and returns how
// long it runs.
func (c *Coordinator) ExerciseGamepad(instanceID string) (time.Duration, error) {
	inst, err := c.lookup(instanceID)
	if err != nil {
		return 0, err
	}
	return gamepad.Exercise(inst.device, c.sched, owner(inst.id, "exercise")), nil
}

// TriggerAutoPlay runs one manual detection and click pass.
func (c *Coordinator) TriggerAutoPlay(ctx context.Context, instanceID string) (bool, error) {
	inst, err := c.lookup(instanceID)
	if err != nil {
		return false, err
	}
	h := inst.autoplay()
	if h == nil {
		return false, fmt.Errorf("%w: %s", ErrNotReady, instanceID)
	}
	return h.TriggerNow(ctx)
}

// Storage returns the content of an instance's storage namespace.
func (c *Coordinator) Storage(instanceID string) (StorageView, error) {
	inst, err := c.lookup(instanceID)
	if err != nil {
		return StorageView{}, err
	}
	view := StorageView{Partition: inst.partition, Local: map[string]string{}, Session: map[string]string{}}
	if ns, ok := c.isolator.Lookup(inst.partition); ok {
		view.Local = ns.Entries(session.AreaLocal)
		view.Session = ns.Entries(session.AreaSession)
	}
	return view, nil
}

// WipeStorage removes every persisted entry of an instance.
func (c *Coordinator) WipeStorage(instanceID string) (int, error) {
	inst, err := c.lookup(instanceID)
	if err != nil {
		return 0, err
	}
	return c.isolator.Wipe(inst.partition)
}

func (c *Coordinator) lookup(instanceID string) (*Instance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}
	return inst, nil
}

func (c *Coordinator) snapshot() []*Instance {
	c.mu.RLock()
	all := make([]*Instance, 0, len(c.instances))
	for _, inst := range c.instances {
		all = append(all, inst)
	}
	c.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].ID() < all[j].ID() })
	return all
}

func (c *Coordinator) publish(kind string, inst *Instance, data any) {
	if c.cfg.Events == nil {
		return
	}
	c.cfg.Events.Publish(Event{
		Type:       kind,
		InstanceID: inst.ID(),
		Time:       c.sched.Now(),
		Data:       data,
	})
}

func owner(iid id.InstanceID, part string) string {
	return scheduler.Owner(iid.String(), part)
}
