package memory

import (
	"context"
	"sync"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
)

// ViewStateRepository is the in-process view state store. Watchers are
// notified synchronously on every mutation.
type ViewStateRepository struct {
	mu       sync.Mutex
	state    domain.ViewState
	nextID   int
	watchers map[int]func(domain.ViewState)
}

func NewViewStateRepository() *ViewStateRepository {
	return &ViewStateRepository{
		state:    domain.ViewState{Mode: domain.ViewModeFull},
		watchers: make(map[int]func(domain.ViewState)),
	}
}

func (r *ViewStateRepository) Get(ctx context.Context) (domain.ViewState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, nil
}

func (r *ViewStateRepository) SetWindowPosition(ctx context.Context, pos domain.WindowPosition) error {
	r.update(func(state *domain.ViewState) {
		state.Window = pos
	})
	return nil
}

func (r *ViewStateRepository) SetViewedServer(ctx context.Context, serverID domain.ServerID) error {
	r.update(func(state *domain.ViewState) {
		state.ViewedServerID = serverID
	})
	return nil
}

func (r *ViewStateRepository) SetViewMode(ctx context.Context, mode domain.ViewMode) error {
	r.update(func(state *domain.ViewState) {
		state.Mode = mode
	})
	return nil
}

func (r *ViewStateRepository) Watch(fn func(domain.ViewState)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.watchers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.watchers, id)
		r.mu.Unlock()
	}
}

func (r *ViewStateRepository) Close() error {
	r.mu.Lock()
	r.watchers = make(map[int]func(domain.ViewState))
	r.mu.Unlock()
	return nil
}

func (r *ViewStateRepository) update(mutate func(*domain.ViewState)) {
	r.mu.Lock()
	mutate(&r.state)
	state := r.state
	fns := make([]func(domain.ViewState), 0, len(r.watchers))
	for _, fn := range r.watchers {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

var _ ports.ViewStateRepository = (*ViewStateRepository)(nil)
