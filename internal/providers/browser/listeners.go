package browser

import "sync"

// Listeners fans surface events out to registered callbacks.
type Listeners struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(Event)
}

// Add registers fn and returns its removal function.
func (l *Listeners) Add(fn func(Event)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(Event))
	}
	id := l.next
	l.next++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

// Emit delivers ev to every listener registered at call time.
func (l *Listeners) Emit(ev Event) {
	l.mu.RLock()
	fns := make([]func(Event), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Len returns the number of registered listeners.
func (l *Listeners) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fns)
}

// Clear removes every listener.
func (l *Listeners) Clear() {
	l.mu.Lock()
	l.fns = nil
	l.mu.Unlock()
}
