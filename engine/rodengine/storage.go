package rodengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/websess/engine"
)

// SeedStorage implements engine.Context. localStorage is only writable
// from a document of the target origin, so when no live page has that
// origin a transient one is opened against a locally-fulfilled blank
// document. No request reaches the network.
func (c *rodContext) SeedStorage(ctx context.Context, origin string, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}
	err := c.withOriginDocument(ctx, origin, func(pg *rod.Page) error {
		_, err := pg.Eval(`(pairs) => {
			for (const [k, v] of Object.entries(pairs)) {
				localStorage.setItem(k, v);
			}
		}`, kv)
		return err
	})
	if err != nil {
		return fmt.Errorf("rodengine: seed storage %s: %w", origin, err)
	}
	c.markVisited(origin)
	return nil
}

// StorageForOrigin implements engine.Context.
func (c *rodContext) StorageForOrigin(ctx context.Context, origin string) (map[string]string, error) {
	var kv map[string]string
	err := c.withOriginDocument(ctx, origin, func(pg *rod.Page) error {
		res, err := pg.Eval(`() => JSON.stringify(Object.fromEntries(Object.entries(localStorage)))`)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(res.Value.Str()), &kv)
	})
	if err != nil {
		return nil, fmt.Errorf("rodengine: read storage %s: %w", origin, err)
	}
	return kv, nil
}

// withOriginDocument runs fn against a page whose document belongs to
// origin. An already-open page of the origin is preferred; otherwise a
// transient page is navigated to a hijack-fulfilled empty document of
// that origin and closed afterwards.
func (c *rodContext) withOriginDocument(ctx context.Context, origin string, fn func(*rod.Page) error) error {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q: %w", origin, engine.ErrBadTarget)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return engine.ErrClosed
	}
	var live *rod.Page
	for _, p := range c.pages {
		if sameOrigin(p.URL(), origin) {
			live = p.pg
			break
		}
	}
	b := c.browser.Context(ctx)
	c.mu.Unlock()

	if live != nil {
		return fn(live.Context(ctx))
	}

	pg, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return fmt.Errorf("transient page: %w", err)
	}
	defer pg.Close()

	router := pg.HijackRequests()
	if err := router.Add(origin+"/*", "", func(hj *rod.Hijack) {
		hj.Response.Payload().ResponseCode = http.StatusOK
		hj.Response.SetHeader("Content-Type", "text/html; charset=utf-8")
		hj.Response.SetBody("<html></html>")
	}); err != nil {
		return fmt.Errorf("transient route: %w", err)
	}
	go router.Run()
	defer router.Stop()

	if err := pg.Context(ctx).Navigate(origin + "/"); err != nil {
		return fmt.Errorf("transient navigate: %w", err)
	}
	if err := pg.Context(ctx).WaitLoad(); err != nil {
		return fmt.Errorf("transient load: %w", err)
	}
	return fn(pg.Context(ctx))
}

func sameOrigin(rawURL, origin string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Scheme+"://"+u.Host, origin)
}
