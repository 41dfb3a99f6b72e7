package events

import "sync"

// Emitter is a typed fan-out event source. Subscribe returns an unsubscribe
// func so listeners cannot leak across repeated join/leave cycles.
type Emitter[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(T)
}

func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{subs: make(map[int]func(T))}
}

// Subscribe registers fn and returns a func that removes it. Unsubscribing
// twice is harmless.
func (e *Emitter[T]) Subscribe(fn func(T)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Emit calls every subscriber synchronously with v. Subscribers registered
// during emission are not called for the current event.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	fns := make([]func(T), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the current subscriber count.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Group collects unsubscribe funcs so a component can drop all of its
// listeners at once on teardown.
type Group struct {
	mu     sync.Mutex
	cancel []func()
}

func (g *Group) Add(unsub func()) {
	g.mu.Lock()
	g.cancel = append(g.cancel, unsub)
	g.mu.Unlock()
}

func (g *Group) Close() {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.mu.Unlock()

	for _, fn := range cancel {
		fn()
	}
}
