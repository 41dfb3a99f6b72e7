package ports

import (
	"context"

	"voicemesh/internal/core/domain"
)

// ViewStateRepository persists the client-local cross-view state and pushes
// changes to watchers, replacing the storage-polling workaround of browser
// targets.
type ViewStateRepository interface {
	Get(ctx context.Context) (domain.ViewState, error)
	SetWindowPosition(ctx context.Context, pos domain.WindowPosition) error
	SetViewedServer(ctx context.Context, serverID domain.ServerID) error
	SetViewMode(ctx context.Context, mode domain.ViewMode) error

	// Watch registers fn for every subsequent state change and returns an
	// unsubscribe func.
	Watch(fn func(domain.ViewState)) func()

	Close() error
}
