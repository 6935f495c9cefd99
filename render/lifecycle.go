package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/websess/engine"
	"github.com/hazyhaar/websess/statestore"
)

// ErrReleased reports lifecycle misuse: releasing a lease twice, or using
// it after release. Surfaced as a programming error, never ignored.
var ErrReleased = errors.New("render: lease already released")

// Lease is a held browser context plus its ownership tag. Externally
// supplied contexts are never closed here; ephemeral ones are closed
// exactly once, with a mandatory state sync-back first.
type Lease struct {
	ctx engine.Context

	mu        sync.Mutex
	ephemeral bool
	released  bool
}

// Context returns the leased browser context.
func (l *Lease) Context() engine.Context { return l.ctx }

// Ephemeral reports whether Release will close the context.
func (l *Lease) Ephemeral() bool { return l.ephemeral }

// Lifecycle acquires and releases browser contexts on behalf of one
// session's render operations.
type Lifecycle struct {
	engine engine.Engine
	sync   *Syncer
	store  *statestore.Store
	log    *slog.Logger
}

// NewLifecycle creates a Lifecycle bound to one engine and one store.
func NewLifecycle(eng engine.Engine, sync *Syncer, store *statestore.Store, log *slog.Logger) *Lifecycle {
	if log == nil {
		log = slog.Default()
	}
	return &Lifecycle{engine: eng, sync: sync, store: store, log: log}
}

// Acquire returns a lease on explicit when it is non-nil (externally
// owned, never closed here), otherwise creates a fresh ephemeral context
// tagged for teardown on Release.
func (m *Lifecycle) Acquire(ctx context.Context, explicit engine.Context) (*Lease, error) {
	if explicit != nil {
		return &Lease{ctx: explicit}, nil
	}
	bc, err := m.engine.NewContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("render: acquire context: %w", err)
	}
	return &Lease{ctx: bc, ephemeral: true}, nil
}

// Release ends a lease. For externally owned contexts it only syncs state
// back. For ephemeral contexts it syncs state back and then closes the
// context exactly once. Release must run on every exit path, including
// errors and cancellation: the pull uses a detached context so state is
// not lost when the caller's context is already done. A second Release
// returns ErrReleased.
func (m *Lifecycle) Release(ctx context.Context, lease *Lease) error {
	lease.mu.Lock()
	if lease.released {
		lease.mu.Unlock()
		return ErrReleased
	}
	lease.released = true
	lease.mu.Unlock()

	// Best-effort sync-back even when ctx was cancelled.
	m.sync.PullFrom(context.WithoutCancel(ctx), lease.ctx, m.store)

	if !lease.ephemeral {
		return nil
	}
	if err := lease.ctx.Close(); err != nil {
		return fmt.Errorf("render: close context: %w", err)
	}
	return nil
}
