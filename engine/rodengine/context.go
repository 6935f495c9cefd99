package rodengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/websess/engine"
)

// rodContext implements engine.Context on an incognito rod browser.
type rodContext struct {
	browser *rod.Browser
	stealth bool
	log     *slog.Logger

	mu      sync.Mutex
	router  *rod.HijackRouter
	routes  map[string]bool
	visited []string
	pages   []*rodPage
	closed  bool
}

var _ engine.Context = (*rodContext)(nil)

func newContext(b *rod.Browser, useStealth bool, log *slog.Logger) *rodContext {
	return &rodContext{
		browser: b,
		stealth: useStealth,
		log:     log,
		routes:  make(map[string]bool),
	}
}

// NewPage implements engine.Context.
func (c *rodContext) NewPage(ctx context.Context) (engine.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("rodengine: new page: %w", engine.ErrClosed)
	}
	pg, err := blankTarget(c.browser.Context(ctx), c.stealth)
	if err != nil {
		return nil, fmt.Errorf("rodengine: create page: %w", err)
	}
	p := &rodPage{pg: pg, owner: c}
	c.pages = append(c.pages, p)
	return p, nil
}

// Route implements engine.Context. The hijack router is created on first
// use and serves every pattern installed on this context.
func (c *rodContext) Route(pattern string, handler engine.RouteHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("rodengine: route: %w", engine.ErrClosed)
	}
	if c.routes[pattern] {
		return fmt.Errorf("rodengine: pattern %q already routed", pattern)
	}
	if c.router == nil {
		c.router = c.browser.HijackRequests()
		go c.router.Run()
	}
	if err := c.router.Add(pattern, "", hijackHandler(handler)); err != nil {
		return fmt.Errorf("rodengine: route %q: %w", pattern, err)
	}
	c.routes[pattern] = true
	return nil
}

// Unroute implements engine.Context.
func (c *rodContext) Unroute(pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.router == nil || !c.routes[pattern] {
		return nil
	}
	if err := c.router.Remove(pattern); err != nil {
		return fmt.Errorf("rodengine: unroute %q: %w", pattern, err)
	}
	delete(c.routes, pattern)
	return nil
}

// Origins implements engine.Context.
func (c *rodContext) Origins() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.visited))
	copy(out, c.visited)
	return out
}

// Close implements engine.Context.
func (c *rodContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("rodengine: close: %w", engine.ErrClosed)
	}
	c.closed = true
	if c.router != nil {
		if err := c.router.Stop(); err != nil {
			c.log.Warn("rodengine: router stop", "error", err)
		}
		c.router = nil
	}
	for _, p := range c.pages {
		if err := p.Close(); err != nil {
			c.log.Debug("rodengine: page close", "error", err)
		}
	}
	if err := c.browser.Close(); err != nil {
		return fmt.Errorf("rodengine: close context: %w", err)
	}
	return nil
}

func (c *rodContext) markVisited(origin string) {
	if origin == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.visited {
		if o == origin {
			return
		}
	}
	c.visited = append(c.visited, origin)
}

// hijackHandler adapts an engine.RouteHandler to rod's hijack callback.
func hijackHandler(handler engine.RouteHandler) func(*rod.Hijack) {
	return func(hj *rod.Hijack) {
		req := &engine.Request{
			Method: hj.Request.Method(),
			URL:    hj.Request.URL().String(),
			Header: hj.Request.Req().Header,
		}
		f := handler(req)
		if f == nil {
			hj.ContinueRequest(&proto.FetchContinueRequest{})
			return
		}
		hj.Response.Payload().ResponseCode = f.Status
		for k, vs := range f.Header {
			for _, v := range vs {
				hj.Response.SetHeader(k, v)
			}
		}
		hj.Response.SetBody(f.Body)
	}
}
