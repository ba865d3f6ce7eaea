package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type task struct {
	e  *entry
	fn func()
	// periodic tasks stay registered after running
	periodic bool
	rearm    func()
}

// Loop is the real-time scheduler. Every callback runs on the loop
// goroutine, one at a time, in the order it became due.
type Loop struct {
	reg    *registry
	done   chan struct{}
	wake   chan struct{}
	logger *zap.Logger

	mu    sync.Mutex
	queue []task // Protected by mu

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewLoop starts an event loop.
func NewLoop(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		reg:    newRegistry(),
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *Loop) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}
		for {
			t, ok := l.next()
			if !ok {
				break
			}
			l.execute(t)
		}
	}
}

// next pops the oldest queued task unless the loop is closing.
func (l *Loop) next() (task, bool) {
	select {
	case <-l.done:
		return task{}, false
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return task{}, false
	}
	t := l.queue[0]
	l.queue[0] = task{}
	l.queue = l.queue[1:]
	return t, true
}

func (l *Loop) execute(t task) {
	if t.periodic {
		if !l.reg.alive(t.e) {
			return
		}
	} else if !l.reg.release(t.e) {
		// stopped after it became due
		return
	}

	l.guard(t.e.owner, t.fn)

	if t.periodic && t.rearm != nil && l.reg.alive(t.e) {
		t.rearm()
	}
}

func (l *Loop) guard(owner string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Scheduled callback panicked",
				zap.String("owner", owner),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}

// enqueue appends t to the queue. It never blocks, so timers and page
// goroutines can always hand work to the loop.
func (l *Loop) enqueue(t task) {
	select {
	case <-l.done:
		return
	default:
	}
	l.mu.Lock()
	l.queue = append(l.queue, t)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Now returns the wall clock.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Post queues fn to run on the loop as soon as possible.
func (l *Loop) Post(owner string, fn func()) {
	l.enqueue(task{e: l.reg.add(owner), fn: fn})
}

// AfterFunc runs fn on the loop once d has elapsed.
func (l *Loop) AfterFunc(owner string, d time.Duration, fn func()) Timer {
	e := l.reg.add(owner)
	t := time.AfterFunc(d, func() {
		l.enqueue(task{e: e, fn: fn})
	})
	l.reg.arm(e, func() { t.Stop() })
	return &loopTimer{reg: l.reg, e: e}
}

// Every runs fn on the loop every d until stopped. The next period starts
// after the previous callback returns.
func (l *Loop) Every(owner string, d time.Duration, fn func()) Timer {
	e := l.reg.add(owner)
	var t *time.Timer
	var mu sync.Mutex
	rearm := func() {
		mu.Lock()
		t.Reset(d)
		mu.Unlock()
	}
	mu.Lock()
	t = time.AfterFunc(d, func() {
		l.enqueue(task{e: e, fn: fn, periodic: true, rearm: rearm})
	})
	mu.Unlock()
	l.reg.arm(e, func() {
		mu.Lock()
		t.Stop()
		mu.Unlock()
	})
	return &loopTimer{reg: l.reg, e: e}
}

// Go runs work on its own goroutine and queues the callback it returns.
func (l *Loop) Go(owner string, work func(ctx context.Context) func()) {
	ctx, cancel := context.WithCancel(context.Background())
	e := l.reg.add(owner)
	l.reg.arm(e, cancel)
	go func() {
		defer cancel()
		var then func()
		l.guard(owner, func() { then = work(ctx) })
		if then == nil {
			l.reg.release(e)
			return
		}
		l.enqueue(task{e: e, fn: then})
	}()
}

// Cancel stops all work owned by owner or its sub-owners.
func (l *Loop) Cancel(owner string) int {
	return l.reg.cancel(owner)
}

// Pending counts live work owned by owner or its sub-owners.
func (l *Loop) Pending(owner string) int {
	return l.reg.pending(owner)
}

// Close stops the loop and every outstanding timer.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		for _, stop := range l.reg.clear() {
			stop()
		}
		close(l.done)
		l.wg.Wait()
		l.mu.Lock()
		l.queue = nil
		l.mu.Unlock()
	})
}

type loopTimer struct {
	reg *registry
	e   *entry
}

func (t *loopTimer) Stop() bool {
	stop, ok := t.reg.take(t.e)
	if !ok {
		return false
	}
	if stop != nil {
		stop()
	}
	return true
}
