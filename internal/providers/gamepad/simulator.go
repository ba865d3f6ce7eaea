package gamepad

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/GriffinCanCode/lobbyshell/internal/scheduler"
)

// Ambient stimulus defaults.
const (
	DefaultMinInterval = 2 * time.Second
	DefaultMaxInterval = 5 * time.Second

	minPress = 100 * time.Millisecond
	maxPress = 300 * time.Millisecond
)

// Simulator keeps a pad looking alive with small randomized input so idle
// detection in the hosted page does not fire. Each tick re-arms with a fresh
// random interval, which keeps instances from ticking in lockstep.
type Simulator struct {
	dev   *Device
	sched scheduler.Scheduler
	owner string
	rng   *rand.Rand

	MinInterval time.Duration
	MaxInterval time.Duration

	mu      sync.Mutex
	timer   scheduler.Timer
	running bool
	ticks   int
}

// NewSimulator creates a stopped simulator scheduling under owner. A nil
// rng is seeded randomly.
func NewSimulator(dev *Device, sched scheduler.Scheduler, owner string, rng *rand.Rand) *Simulator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Simulator{
		dev:         dev,
		sched:       sched,
		owner:       owner,
		rng:         rng,
		MinInterval: DefaultMinInterval,
		MaxInterval: DefaultMaxInterval,
	}
}

// Start arms the first tick. Starting a running simulator is a no-op.
func (s *Simulator) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.arm()
}

// Stop cancels every pending tick and release owned by the simulator.
func (s *Simulator) Stop() {
	s.mu.Lock()
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.sched.Cancel(s.owner)
}

// Running reports whether ticks are scheduled.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Ticks counts completed ticks.
func (s *Simulator) Ticks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// arm schedules the next tick. Callers hold s.mu.
func (s *Simulator) arm() {
	s.timer = s.sched.AfterFunc(s.owner, s.between(s.MinInterval, s.MaxInterval), s.tick)
}

func (s *Simulator) tick() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.ticks++
	roll := s.rng.Float64()
	s.mu.Unlock()

	switch {
	case roll < 0.3:
		s.mu.Lock()
		x, y := s.rng.Float64()*2-1, s.rng.Float64()*2-1
		s.mu.Unlock()
		s.dev.Post(s.sched, s.owner, Update{Axes: []float64{x, y, 0, 0}})
	case roll < 0.6:
		s.mu.Lock()
		button := s.rng.IntN(4)
		hold := s.between(minPress, maxPress)
		s.mu.Unlock()
		press(s.dev, s.sched, s.owner, button, hold)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.arm()
	}
}

// between draws a duration in [lo, hi]. Callers hold s.mu.
func (s *Simulator) between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.rng.Int64N(int64(hi-lo)+1))
}

// press holds button for hold, releasing it on the scheduler.
func press(dev *Device, sched scheduler.Scheduler, owner string, button int, hold time.Duration) {
	dev.Post(sched, owner, Update{Buttons: []ButtonInput{{Index: button, Pressed: true, Value: 1}}})
	sched.AfterFunc(owner, hold, func() {
		dev.Post(sched, owner, Update{Buttons: []ButtonInput{{Index: button}}})
	})
}
