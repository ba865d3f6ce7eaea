package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Manual is a virtual-clock scheduler. Nothing runs until Advance or Flush
// is called, and callbacks run on the calling goroutine in due order.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*manualTimer
	reg    *registry
}

type manualTimer struct {
	e      *entry
	due    time.Time
	seq    uint64
	period time.Duration
	fn     func()
}

// NewManual creates a manual scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, reg: newRegistry()}
}

// Now returns the virtual clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Post queues fn to run on the next Advance or Flush.
func (m *Manual) Post(owner string, fn func()) {
	m.schedule(owner, 0, 0, fn)
}

// AfterFunc runs fn once the virtual clock has moved d past now.
func (m *Manual) AfterFunc(owner string, d time.Duration, fn func()) Timer {
	return m.schedule(owner, d, 0, fn)
}

// Every runs fn each time the virtual clock crosses another period d.
func (m *Manual) Every(owner string, d time.Duration, fn func()) Timer {
	if d <= 0 {
		d = time.Nanosecond
	}
	return m.schedule(owner, d, d, fn)
}

// Go runs work on the calling goroutine and queues the callback it returns
// for the next due pass, keeping tests deterministic.
func (m *Manual) Go(owner string, work func(ctx context.Context) func()) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if then := work(ctx); then != nil {
		m.Post(owner, then)
	}
}

func (m *Manual) schedule(owner string, d, period time.Duration, fn func()) Timer {
	e := m.reg.add(owner)
	m.mu.Lock()
	m.seq++
	m.timers = append(m.timers, &manualTimer{
		e:      e,
		due:    m.now.Add(d),
		seq:    m.seq,
		period: period,
		fn:     fn,
	})
	m.mu.Unlock()
	return &loopTimer{reg: m.reg, e: e}
}

// Cancel stops all work owned by owner or its sub-owners.
func (m *Manual) Cancel(owner string) int {
	return m.reg.cancel(owner)
}

// Pending counts live work owned by owner or its sub-owners.
func (m *Manual) Pending(owner string) int {
	return m.reg.pending(owner)
}

// Advance moves the clock forward by d, running every callback that
// becomes due on the way. Callbacks scheduled by callbacks run in the same
// pass if they fall due before the target time.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		t := m.next(target)
		if t == nil {
			break
		}
		t.fn()
		if t.period > 0 && m.reg.alive(t.e) {
			m.mu.Lock()
			t.due = t.due.Add(t.period)
			m.seq++
			t.seq = m.seq
			m.timers = append(m.timers, t)
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	if target.After(m.now) {
		m.now = target
	}
	m.mu.Unlock()
}

// Flush runs everything already due without moving the clock.
func (m *Manual) Flush() {
	m.Advance(0)
}

// next pops the earliest live timer due at or before target and moves the
// clock to its due time.
func (m *Manual) next(target time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.timers[:0]
	for _, t := range m.timers {
		if m.reg.alive(t.e) {
			live = append(live, t)
		}
	}
	m.timers = live
	if len(m.timers) == 0 {
		return nil
	}

	sort.Slice(m.timers, func(i, j int) bool {
		a, b := m.timers[i], m.timers[j]
		if !a.due.Equal(b.due) {
			return a.due.Before(b.due)
		}
		return a.seq < b.seq
	})

	t := m.timers[0]
	if t.due.After(target) {
		return nil
	}
	m.timers = m.timers[1:]
	if t.period == 0 {
		m.reg.release(t.e)
	}
	if t.due.After(m.now) {
		m.now = t.due
	}
	return t
}
