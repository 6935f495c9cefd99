package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/websess/engine"
	"github.com/hazyhaar/websess/statestore"
)

// ErrNoTarget reports a render or visit request without a target URL.
var ErrNoTarget = errors.New("render: target has no URL")

// Target is a captured response to promote into a live page: the
// fulfillment payload plus the final (post-redirect) URL to navigate to.
type Target struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// Options control one offline render.
type Options struct {
	// Wait is the navigation milestone to wait for.
	// Default: domcontentloaded.
	Wait engine.WaitCondition

	// MaxRetries is the soft-retry budget after the initial attempt.
	// Default: 3. Negative disables retries.
	MaxRetries int

	// Timeout bounds each navigation attempt. Default: 10s.
	Timeout time.Duration

	// Context, when non-nil, is an externally owned browser context to
	// render in. It is reused as-is and never closed by the renderer.
	// Concurrent renders against the same external context race on which
	// fulfillment rule is first; callers serialize them. When nil, an
	// ephemeral context is created and torn down within this render.
	Context engine.Context
}

func (o *Options) defaults() {
	if o.Wait == "" {
		o.Wait = engine.WaitDOMContentLoaded
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
}

// Renderer reconstructs a browser-rendered view of an already-fetched
// response. One Renderer serves one session; its store is the session's
// canonical state.
type Renderer struct {
	store     *statestore.Store
	syncer    *Syncer
	lifecycle *Lifecycle
	intercept Interceptor
	log       *slog.Logger
}

// NewRenderer creates a Renderer bound to an engine and a store.
func NewRenderer(eng engine.Engine, store *statestore.Store, log *slog.Logger) *Renderer {
	if log == nil {
		log = slog.Default()
	}
	syncer := NewSyncer(log)
	return &Renderer{
		store:     store,
		syncer:    syncer,
		lifecycle: NewLifecycle(eng, syncer, store, log),
		log:       log,
	}
}

// Render promotes target into a live page. The browser context is seeded
// with the session's current cookies and localStorage before a one-shot
// fulfillment rule is armed, then navigation is driven against that rule,
// re-arming on every retryable failure, so no request for target.URL
// reaches the network. The returned Page stays live until closed; closing
// it syncs the context's state back into the store and releases the
// context.
func (r *Renderer) Render(ctx context.Context, target Target, opts Options) (*Page, error) {
	if target.URL == "" {
		return nil, ErrNoTarget
	}
	opts.defaults()
	if target.Status == 0 {
		target.Status = http.StatusOK
	}

	lease, err := r.lifecycle.Acquire(ctx, opts.Context)
	if err != nil {
		return nil, err
	}
	bc := lease.Context()

	// Push before arming: the page's bootstrap scripts must observe the
	// seeded state on their very first run.
	if err := r.syncer.PushInto(ctx, bc, r.store.Snapshot()); err != nil {
		return nil, r.abort(ctx, lease, nil, err)
	}

	fulfillment := engine.Fulfillment{
		Status: target.Status,
		Header: target.Header,
		Body:   target.Body,
	}
	if err := r.intercept.ArmOnce(bc, MatchAll, fulfillment); err != nil {
		return nil, r.abort(ctx, lease, nil, err)
	}

	page, err := bc.NewPage(ctx)
	if err != nil {
		return nil, r.abort(ctx, lease, nil, fmt.Errorf("render: new page: %w", err))
	}

	nav := Navigator{Timeout: opts.Timeout, Log: r.log}
	err = nav.NavigateWithRetry(ctx, page, target.URL, opts.Wait, opts.MaxRetries, func() error {
		return r.intercept.ArmOnce(bc, MatchAll, fulfillment)
	})
	if err != nil {
		return nil, r.abort(ctx, lease, page, err)
	}

	return &Page{page: page, lease: lease, r: r}, nil
}

// Visit opens a live page on url. The context is seeded with the
// session's current cookies and localStorage first, then navigation
// proceeds to the real network with no fulfillment rule armed; retryable
// failures soft-reload the same page. Live navigation waits for the load
// event unless opts says otherwise. The returned Page stays live until
// closed; closing it syncs the context's state back into the store and
// releases the context.
func (r *Renderer) Visit(ctx context.Context, url string, opts Options) (*Page, error) {
	if url == "" {
		return nil, ErrNoTarget
	}
	if opts.Wait == "" {
		opts.Wait = engine.WaitLoad
	}
	opts.defaults()

	lease, err := r.lifecycle.Acquire(ctx, opts.Context)
	if err != nil {
		return nil, err
	}
	bc := lease.Context()

	if err := r.syncer.PushInto(ctx, bc, r.store.Snapshot()); err != nil {
		return nil, r.abort(ctx, lease, nil, err)
	}

	page, err := bc.NewPage(ctx)
	if err != nil {
		return nil, r.abort(ctx, lease, nil, fmt.Errorf("render: new page: %w", err))
	}

	nav := Navigator{Timeout: opts.Timeout, Log: r.log}
	if err := nav.NavigateWithRetry(ctx, page, url, opts.Wait, opts.MaxRetries, nil); err != nil {
		return nil, r.abort(ctx, lease, page, err)
	}

	return &Page{page: page, lease: lease, r: r}, nil
}

// abort tears down a failed render: disarm, close the page if one was
// opened, release the lease (which syncs state back best-effort). The
// original cause wins; teardown problems are logged.
func (r *Renderer) abort(ctx context.Context, lease *Lease, page engine.Page, cause error) error {
	if err := r.intercept.Disarm(lease.Context(), MatchAll); err != nil {
		r.log.Debug("render: abort disarm", "error", err)
	}
	if page != nil {
		if err := page.Close(); err != nil {
			r.log.Debug("render: abort page close", "error", err)
		}
	}
	if err := r.lifecycle.Release(ctx, lease); err != nil {
		r.log.Warn("render: abort release", "error", err)
	}
	return cause
}

// Page is a live, rendered browser page handle.
type Page struct {
	page  engine.Page
	lease *Lease
	r     *Renderer
}

// Engine returns the underlying engine page for scripting.
func (p *Page) Engine() engine.Page { return p.page }

// Content returns the serialized DOM of the rendered document.
func (p *Page) Content(ctx context.Context) (string, error) {
	return p.page.Content(ctx)
}

// URL returns the page's current URL.
func (p *Page) URL() string { return p.page.URL() }

// Close closes the page, removes any unconsumed fulfillment rule, syncs
// the context's live state back into the session store and releases the
// context (closing it when ephemeral). Closing twice is lifecycle misuse
// and returns ErrReleased.
func (p *Page) Close(ctx context.Context) error {
	if err := p.r.intercept.Disarm(p.lease.Context(), MatchAll); err != nil {
		p.r.log.Debug("render: close disarm", "error", err)
	}
	if err := p.page.Close(); err != nil {
		p.r.log.Debug("render: page close", "error", err)
	}
	return p.r.lifecycle.Release(ctx, p.lease)
}
