// Package scheduler is the single scheduling abstraction every per-instance
// component runs on.
//
// All timer and event callbacks are executed serially: the Loop runs them on
// one goroutine, the Manual scheduler runs them on the goroutine that advances
// its virtual clock. Work is tagged with an owner path such as
// "lobby_01H.../autoplay"; Cancel and Pending on "lobby_01H..." cover every
// sub-owner, which is how instance teardown proves it left nothing behind.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Timer is a handle to scheduled work.
type Timer interface {
	// Stop prevents the callback from running again. It reports whether the
	// timer was still pending.
	Stop() bool
}

// Scheduler schedules owner-tagged callbacks.
type Scheduler interface {
	Now() time.Time
	Post(owner string, fn func())
	AfterFunc(owner string, d time.Duration, fn func()) Timer
	Every(owner string, d time.Duration, fn func()) Timer
	// Go runs work off the scheduler. The callback work returns, if any,
	// runs on the scheduler under owner. Cancelling owner while work runs
	// cancels its context and drops the callback.
	Go(owner string, work func(ctx context.Context) func())
	Cancel(owner string) int
	Pending(owner string) int
}

// Owner joins owner path segments.
func Owner(parts ...string) string {
	return strings.Join(parts, "/")
}

// owns reports whether candidate is owner or one of its sub-owners.
func owns(owner, candidate string) bool {
	return candidate == owner || strings.HasPrefix(candidate, owner+"/")
}

type entry struct {
	owner string
	stop  func()
}

// registry tracks live entries so ownership queries and bulk cancellation
// work the same way for every implementation.
type registry struct {
	mu      sync.Mutex
	entries map[*entry]struct{}
}

func newRegistry() *registry {
	return &registry{entries: make(map[*entry]struct{})}
}

func (r *registry) add(owner string) *entry {
	e := &entry{owner: owner}
	r.mu.Lock()
	r.entries[e] = struct{}{}
	r.mu.Unlock()
	return e
}

// arm attaches stop to e. When e was cancelled in the meantime stop runs
// at once.
func (r *registry) arm(e *entry, stop func()) {
	r.mu.Lock()
	_, live := r.entries[e]
	if live {
		e.stop = stop
	}
	r.mu.Unlock()
	if !live {
		stop()
	}
}

func (r *registry) alive(e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[e]
	return ok
}

// release removes e and reports whether it was still live.
func (r *registry) release(e *entry) bool {
	_, ok := r.take(e)
	return ok
}

// take removes e and returns its stop func.
func (r *registry) take(e *entry) (func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e]; !ok {
		return nil, false
	}
	delete(r.entries, e)
	return e.stop, true
}

func (r *registry) cancel(owner string) int {
	r.mu.Lock()
	n := 0
	var stops []func()
	for e := range r.entries {
		if owns(owner, e.owner) {
			delete(r.entries, e)
			n++
			if e.stop != nil {
				stops = append(stops, e.stop)
			}
		}
	}
	r.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	return n
}

func (r *registry) pending(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for e := range r.entries {
		if owns(owner, e.owner) {
			n++
		}
	}
	return n
}

// clear drops every entry and returns their stop funcs.
func (r *registry) clear() []func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stops []func()
	for e := range r.entries {
		if e.stop != nil {
			stops = append(stops, e.stop)
		}
	}
	r.entries = make(map[*entry]struct{})
	return stops
}
