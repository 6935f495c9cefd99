// Package engine defines the narrow capability set this module requires
// from a browser engine: create contexts, create pages, route/unroute
// network interception, navigate, and read/write cookies and per-origin
// localStorage. The production implementation lives in engine/rodengine;
// tests use engine/enginetest. Nothing outside the implementations may
// assume a concrete engine's object model.
package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/hazyhaar/websess/statestore"
)

// WaitCondition selects the navigation milestone Goto and Reload wait for.
type WaitCondition string

const (
	WaitCommit           WaitCondition = "commit"
	WaitDOMContentLoaded WaitCondition = "domcontentloaded"
	WaitLoad             WaitCondition = "load"
	WaitNetworkIdle      WaitCondition = "networkidle"
)

// Request describes an intercepted outgoing request as seen by a route
// handler.
type Request struct {
	Method string
	URL    string
	Header http.Header
}

// Fulfillment is a locally-supplied answer for an intercepted request:
// the request never reaches the network.
type Fulfillment struct {
	Status int
	Header http.Header
	Body   []byte
}

// RouteHandler inspects an intercepted request. Returning a non-nil
// Fulfillment answers it locally; returning nil lets it continue to the
// real network.
type RouteHandler func(req *Request) *Fulfillment

// Engine creates browser contexts. One Engine typically maps to one
// browser process.
type Engine interface {
	// NewContext creates an isolated browser context with its own cookie
	// and storage state.
	NewContext(ctx context.Context) (Context, error)
	// Close shuts the engine down, closing any contexts it still owns.
	Close() error
}

// Context is an isolated cookie/storage/page universe inside the engine.
type Context interface {
	// NewPage opens a blank page in this context.
	NewPage(ctx context.Context) (Page, error)

	// Route installs an interception handler for requests matching
	// pattern ("**/*" matches everything). At most one handler per
	// pattern; installing over an existing pattern is an engine error,
	// callers unroute first.
	Route(pattern string, handler RouteHandler) error
	// Unroute removes the handler for pattern. Removing a pattern that
	// is not installed is a no-op.
	Unroute(pattern string) error

	// Cookies returns every cookie currently held by the context.
	Cookies(ctx context.Context) ([]statestore.Cookie, error)
	// AddCookies writes cookies into the context's native cookie store.
	AddCookies(ctx context.Context, cookies []statestore.Cookie) error

	// Origins lists the origins this context has visited, i.e. the
	// origins whose localStorage is readable.
	Origins() []string
	// StorageForOrigin reads localStorage for one visited origin. It
	// fails when the engine cannot reach a document of that origin any
	// more (page navigated away, context tearing down).
	StorageForOrigin(ctx context.Context, origin string) (map[string]string, error)
	// SeedStorage writes key/value pairs into one origin's localStorage,
	// creating a transient document for the origin if needed, without
	// touching the network.
	SeedStorage(ctx context.Context, origin string, kv map[string]string) error

	// Close destroys the context and its pages.
	Close() error
}

// Page is a single tab inside a Context.
type Page interface {
	// Goto navigates to url and waits for the given condition, observing
	// timeout. Interception handlers installed on the owning context see
	// the navigation request.
	Goto(ctx context.Context, url string, wait WaitCondition, timeout time.Duration) error
	// Reload re-navigates the current document with the same semantics as
	// Goto. Used for soft retries so the page object survives.
	Reload(ctx context.Context, wait WaitCondition, timeout time.Duration) error
	// Content returns the serialized DOM of the current document.
	Content(ctx context.Context) (string, error)
	// URL returns the page's current URL.
	URL() string
	// Close closes the page. The owning context stays alive.
	Close() error
}
