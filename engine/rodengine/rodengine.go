// Package rodengine implements engine.Engine on go-rod: Chrome contexts
// via incognito browser contexts, interception via the Fetch-domain
// hijack router, storage access via evaluated scripts. Stealth pages hide
// the usual automation signatures.
package rodengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/websess/engine"
)

// Config configures the rod engine.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headless controls the launch mode of a local Chrome. Ignored for
	// remote instances.
	Headless bool

	// Proxy is a proxy server address handed to Chrome (host:port).
	Proxy string

	// Stealth creates pages through go-rod/stealth, hiding automation
	// signatures. Default: on.
	Stealth bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine is a rod-backed engine.Engine. One Engine owns one Chrome
// process (or one connection to a remote instance).
type Engine struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

var _ engine.Engine = (*Engine)(nil)

// New launches Chrome (or connects to Config.RemoteURL) and returns the
// engine. Call Close to shut the browser down.
func New(cfg Config) (*Engine, error) {
	cfg.defaults()
	e := &Engine{cfg: cfg}

	var wsURL string
	if cfg.RemoteURL != "" {
		wsURL = cfg.RemoteURL
		cfg.Logger.Info("rodengine: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(cfg.Headless)
		l = l.Set("disable-blink-features", "AutomationControlled")
		if cfg.Proxy != "" {
			l = l.Proxy(cfg.Proxy)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("rodengine: launch: %w", err)
		}
		wsURL = u
		e.lnch = l
		cfg.Logger.Info("rodengine: launched local chrome", "headless", cfg.Headless)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		e.cleanup()
		return nil, fmt.Errorf("rodengine: connect: %w", err)
	}
	e.browser = b
	return e, nil
}

// NewContext implements engine.Engine. Each context is an incognito
// browser context with isolated cookies and storage.
func (e *Engine) NewContext(ctx context.Context) (engine.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.browser == nil {
		return nil, fmt.Errorf("rodengine: %w", engine.ErrClosed)
	}
	inc, err := e.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("rodengine: incognito context: %w", err)
	}
	return newContext(inc, e.cfg.Stealth, e.cfg.Logger), nil
}

// Close implements engine.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.cleanup()
	return nil
}

func (e *Engine) cleanup() {
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			e.cfg.Logger.Warn("rodengine: browser close", "error", err)
		}
		e.browser = nil
	}
	if e.lnch != nil {
		e.lnch.Cleanup()
		e.lnch = nil
	}
}

// blankTarget creates an empty tab, with or without stealth patches.
func blankTarget(b *rod.Browser, useStealth bool) (*rod.Page, error) {
	if useStealth {
		return stealth.Page(b)
	}
	return b.Page(proto.TargetCreateTarget{URL: ""})
}
