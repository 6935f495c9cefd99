// Package render implements the offline-render engine: it promotes an
// already-fetched HTTP response into a live browser page without
// re-issuing the network request, and keeps the canonical session state
// (statestore) in step with the browser context's live cookie and
// localStorage state across pushes, pulls, retries and teardown.
package render

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/websess/engine"
	"github.com/hazyhaar/websess/statestore"
)

// Syncer translates between the canonical statestore form and a browser
// context's live session state, in both directions.
type Syncer struct {
	log *slog.Logger
}

// NewSyncer creates a Syncer. A nil logger falls back to slog.Default.
func NewSyncer(log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{log: log}
}

// PushInto writes a snapshot into the browser context: every cookie into
// the native cookie store, every origin's key/value pairs into that
// origin's localStorage. It must complete before any interception rule is
// armed, so a site's bootstrap script observes pre-seeded storage exactly
// as if the browser had visited before. Push failures abort: rendering on
// top of half-pushed state would silently desynchronize the two sides.
func (s *Syncer) PushInto(ctx context.Context, bc engine.Context, snap statestore.Snapshot) error {
	if err := bc.AddCookies(ctx, snap.Cookies); err != nil {
		return fmt.Errorf("render: push cookies: %w", err)
	}
	for origin, kv := range snap.LocalStorage {
		if err := bc.SeedStorage(ctx, origin, kv); err != nil {
			return fmt.Errorf("render: push storage %s: %w", origin, err)
		}
	}
	return nil
}

// PullFrom reads the context's live cookies and, for every origin the
// context has visited, its localStorage, merging both into the store.
// Partial sync is preferred over total failure: an origin whose storage
// the engine cannot report any more is skipped and logged, never
// surfaced, so losing freshly-warmed state for one origin cannot
// invalidate cookies already captured for others.
func (s *Syncer) PullFrom(ctx context.Context, bc engine.Context, store *statestore.Store) {
	cookies, err := bc.Cookies(ctx)
	if err != nil {
		s.log.Warn("render: pull cookies failed", "error", err)
	} else {
		store.MergeCookies(cookies)
	}

	for _, origin := range bc.Origins() {
		kv, err := bc.StorageForOrigin(ctx, origin)
		if err != nil {
			s.log.Debug("render: pull storage skipped", "origin", origin, "error", err)
			continue
		}
		store.MergeLocalStorage(origin, kv)
	}
}
