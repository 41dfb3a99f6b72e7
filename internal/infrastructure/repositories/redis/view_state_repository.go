package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	viewStateKey     = "voicemesh:viewstate"
	viewStateChannel = "voicemesh:viewstate:changed"
)

// ViewStateRepository persists view state in Redis and distributes changes
// through pub/sub, so every window of the client observes the same state
// without polling.
type ViewStateRepository struct {
	client *redis.Client
	logger *zap.SugaredLogger

	mu       sync.Mutex
	nextID   int
	watchers map[int]func(domain.ViewState)
	cancel   context.CancelFunc
}

func NewViewStateRepository(client *redis.Client, logger *zap.SugaredLogger) *ViewStateRepository {
	ctx, cancel := context.WithCancel(context.Background())
	r := &ViewStateRepository{
		client:   client,
		logger:   logger,
		watchers: make(map[int]func(domain.ViewState)),
		cancel:   cancel,
	}
	go r.subscribe(ctx)
	return r
}

func (r *ViewStateRepository) Get(ctx context.Context) (domain.ViewState, error) {
	data, err := r.client.Get(ctx, viewStateKey).Bytes()
	if err == redis.Nil {
		return domain.ViewState{Mode: domain.ViewModeFull}, nil
	}
	if err != nil {
		return domain.ViewState{}, fmt.Errorf("failed to get view state: %w", err)
	}

	var state domain.ViewState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.ViewState{}, fmt.Errorf("failed to unmarshal view state: %w", err)
	}
	return state, nil
}

func (r *ViewStateRepository) SetWindowPosition(ctx context.Context, pos domain.WindowPosition) error {
	return r.update(ctx, func(state *domain.ViewState) {
		state.Window = pos
	})
}

func (r *ViewStateRepository) SetViewedServer(ctx context.Context, serverID domain.ServerID) error {
	return r.update(ctx, func(state *domain.ViewState) {
		state.ViewedServerID = serverID
	})
}

func (r *ViewStateRepository) SetViewMode(ctx context.Context, mode domain.ViewMode) error {
	return r.update(ctx, func(state *domain.ViewState) {
		state.Mode = mode
	})
}

func (r *ViewStateRepository) update(ctx context.Context, mutate func(*domain.ViewState)) error {
	state, err := r.Get(ctx)
	if err != nil {
		return err
	}
	mutate(&state)

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal view state: %w", err)
	}
	if err := r.client.Set(ctx, viewStateKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store view state: %w", err)
	}
	if err := r.client.Publish(ctx, viewStateChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish view state: %w", err)
	}
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
	r.cancel()
	return nil
}

func (r *ViewStateRepository) subscribe(ctx context.Context) {
	sub := r.client.Subscribe(ctx, viewStateChannel)
	defer sub.Close()

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warnw("view state subscription error", "error", err)
			continue
		}

		var state domain.ViewState
		if err := json.Unmarshal([]byte(msg.Payload), &state); err != nil {
			r.logger.Warnw("malformed view state notification", "error", err)
			continue
		}
		r.notify(state)
	}
}

func (r *ViewStateRepository) notify(state domain.ViewState) {
	r.mu.Lock()
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
