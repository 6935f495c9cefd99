// Package enginetest provides an in-memory engine.Engine for tests. It
// records route arms, navigations, fulfillments and network passthroughs,
// and lets tests script navigation failures per attempt, so the retry and
// interception machinery can be exercised without a browser process.
package enginetest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hazyhaar/websess/engine"
	"github.com/hazyhaar/websess/statestore"
)

// Engine is a fake engine.Engine.
type Engine struct {
	mu sync.Mutex

	// NewContextErr, when set, is returned by NewContext.
	NewContextErr error

	// ContextPageNavErrs is copied onto every context this engine
	// creates, scripting navigation failures for contexts the code under
	// test creates internally.
	ContextPageNavErrs []error

	Contexts []*Context
	closed   bool
}

// New creates a fake engine.
func New() *Engine { return &Engine{} }

// NewContext implements engine.Engine.
func (e *Engine) NewContext(_ context.Context) (engine.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NewContextErr != nil {
		return nil, e.NewContextErr
	}
	c := &Context{
		Storage:    make(map[string]map[string]string),
		StorageErr: make(map[string]error),
		SeedErr:    make(map[string]error),
		routes:     make(map[string]engine.RouteHandler),
		ArmCount:   make(map[string]int),
	}
	c.PageNavErrs = append(c.PageNavErrs, e.ContextPageNavErrs...)
	e.Contexts = append(e.Contexts, c)
	return c, nil
}

// Close implements engine.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Context is a fake engine.Context. Exported fields may be inspected and
// pre-seeded by tests; guard concurrent access with the test's own
// sequencing (the core serializes operations per context anyway).
type Context struct {
	mu sync.Mutex

	CookieList []statestore.Cookie
	Storage    map[string]map[string]string // origin -> key -> value
	Visited    []string                     // origins with a reachable document

	// StorageErr scripts per-origin read failures for StorageForOrigin.
	StorageErr map[string]error
	// SeedErr scripts per-origin write failures for SeedStorage.
	SeedErr map[string]error
	// CookiesErr, when set, is returned by Cookies.
	CookiesErr error

	// ArmCount counts Route installs per pattern.
	ArmCount map[string]int
	// NetworkRequests records URLs that passed through to the "network"
	// (no route handler fulfilled them).
	NetworkRequests []string
	// Fulfilled records URLs answered locally by a route handler.
	Fulfilled []string

	// PageNavErrs scripts the per-attempt navigation errors copied onto
	// every page created in this context.
	PageNavErrs []error

	Pages      []*Page
	routes     map[string]engine.RouteHandler
	CloseCount int
}

// NewPage implements engine.Context.
func (c *Context) NewPage(_ context.Context) (engine.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CloseCount > 0 {
		return nil, engine.ErrClosed
	}
	p := &Page{ctx: c, NavErrs: append([]error(nil), c.PageNavErrs...)}
	c.Pages = append(c.Pages, p)
	return p, nil
}

// Route implements engine.Context.
func (c *Context) Route(pattern string, handler engine.RouteHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.routes[pattern]; dup {
		return fmt.Errorf("enginetest: pattern %q already routed", pattern)
	}
	c.routes[pattern] = handler
	c.ArmCount[pattern]++
	return nil
}

// Unroute implements engine.Context.
func (c *Context) Unroute(pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.routes, pattern)
	return nil
}

// Cookies implements engine.Context.
func (c *Context) Cookies(_ context.Context) ([]statestore.Cookie, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CookiesErr != nil {
		return nil, c.CookiesErr
	}
	out := make([]statestore.Cookie, len(c.CookieList))
	copy(out, c.CookieList)
	return out, nil
}

// AddCookies implements engine.Context.
func (c *Context) AddCookies(_ context.Context, cookies []statestore.Cookie) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, in := range cookies {
		replaced := false
		for i, old := range c.CookieList {
			if old.Identity() == in.Identity() {
				c.CookieList[i] = in
				replaced = true
				break
			}
		}
		if !replaced {
			c.CookieList = append(c.CookieList, in)
		}
	}
	return nil
}

// Origins implements engine.Context.
func (c *Context) Origins() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Visited))
	copy(out, c.Visited)
	return out
}

// StorageForOrigin implements engine.Context.
func (c *Context) StorageForOrigin(_ context.Context, origin string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.StorageErr[origin]; err != nil {
		return nil, err
	}
	kv := make(map[string]string, len(c.Storage[origin]))
	for k, v := range c.Storage[origin] {
		kv[k] = v
	}
	return kv, nil
}

// SeedStorage implements engine.Context.
func (c *Context) SeedStorage(_ context.Context, origin string, kv map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.SeedErr[origin]; err != nil {
		return err
	}
	dst, ok := c.Storage[origin]
	if !ok {
		dst = make(map[string]string, len(kv))
		c.Storage[origin] = dst
	}
	for k, v := range kv {
		dst[k] = v
	}
	c.markVisited(origin)
	return nil
}

// Close implements engine.Context.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCount++
	if c.CloseCount > 1 {
		return engine.ErrClosed
	}
	return nil
}

func (c *Context) markVisited(origin string) {
	for _, o := range c.Visited {
		if o == origin {
			return
		}
	}
	c.Visited = append(c.Visited, origin)
}

// dispatch runs an outgoing request through the installed routes. Exactly
// one handler gets the request; a nil return falls through to the network.
func (c *Context) dispatch(rawURL string) (fulfilled bool, body string) {
	c.mu.Lock()
	var handler engine.RouteHandler
	for _, h := range c.routes {
		handler = h
		break
	}
	c.mu.Unlock()

	if handler != nil {
		f := handler(&engine.Request{Method: http.MethodGet, URL: rawURL, Header: http.Header{}})
		if f != nil {
			c.mu.Lock()
			c.Fulfilled = append(c.Fulfilled, rawURL)
			c.mu.Unlock()
			return true, string(f.Body)
		}
	}
	c.mu.Lock()
	c.NetworkRequests = append(c.NetworkRequests, rawURL)
	c.mu.Unlock()
	return false, "<html>network</html>"
}

// Page is a fake engine.Page.
type Page struct {
	mu  sync.Mutex
	ctx *Context

	// NavErrs scripts the error returned by each successive navigation
	// attempt (Goto, then Reloads). Attempts beyond the slice succeed.
	// The fake dispatches the request through the routes before failing,
	// mirroring a real browser that consumes the interception rule and
	// then times out waiting for the load condition.
	NavErrs []error

	url      string
	content  string
	attempts int
	Gotos    int
	Reloads  int
	Closed   bool
}

// Goto implements engine.Page.
func (p *Page) Goto(_ context.Context, rawURL string, _ engine.WaitCondition, _ time.Duration) error {
	p.mu.Lock()
	p.Gotos++
	p.url = rawURL
	p.mu.Unlock()
	return p.attempt(rawURL)
}

// Reload implements engine.Page.
func (p *Page) Reload(_ context.Context, _ engine.WaitCondition, _ time.Duration) error {
	p.mu.Lock()
	p.Reloads++
	rawURL := p.url
	p.mu.Unlock()
	return p.attempt(rawURL)
}

func (p *Page) attempt(rawURL string) error {
	_, body := p.ctx.dispatch(rawURL)

	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.attempts
	p.attempts++
	if idx < len(p.NavErrs) && p.NavErrs[idx] != nil {
		return p.NavErrs[idx]
	}
	p.content = body
	if u := originOf(rawURL); u != "" {
		p.ctx.mu.Lock()
		p.ctx.markVisited(u)
		p.ctx.mu.Unlock()
	}
	return nil
}

// Content implements engine.Page.
func (p *Page) Content(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content, nil
}

// URL implements engine.Page.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Close implements engine.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Attempts returns how many navigation attempts the page has seen.
func (p *Page) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
