package rodengine

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/websess/engine"
	"github.com/hazyhaar/websess/statestore"
)

// Cookies implements engine.Context. The incognito browser context scopes
// the CDP cookie store, so this reads every cookie the context holds.
func (c *rodContext) Cookies(ctx context.Context) ([]statestore.Cookie, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("rodengine: cookies: %w", engine.ErrClosed)
	}
	b := c.browser.Context(ctx)
	c.mu.Unlock()

	raw, err := b.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("rodengine: get cookies: %w", err)
	}
	out := make([]statestore.Cookie, 0, len(raw))
	for _, nc := range raw {
		out = append(out, fromProto(nc))
	}
	return out, nil
}

// AddCookies implements engine.Context.
func (c *rodContext) AddCookies(ctx context.Context, cookies []statestore.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("rodengine: add cookies: %w", engine.ErrClosed)
	}
	b := c.browser.Context(ctx)
	c.mu.Unlock()

	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, sc := range cookies {
		params = append(params, toProto(sc))
	}
	if err := b.SetCookies(params); err != nil {
		return fmt.Errorf("rodengine: set cookies: %w", err)
	}
	return nil
}

func fromProto(nc *proto.NetworkCookie) statestore.Cookie {
	c := statestore.Cookie{
		Name:     nc.Name,
		Value:    nc.Value,
		Domain:   nc.Domain,
		Path:     nc.Path,
		Secure:   nc.Secure,
		HTTPOnly: nc.HTTPOnly,
		SameSite: statestore.SameSiteLax,
	}
	if nc.Expires > 0 {
		c.Expires = int64(nc.Expires)
	}
	switch nc.SameSite {
	case proto.NetworkCookieSameSiteStrict:
		c.SameSite = statestore.SameSiteStrict
	case proto.NetworkCookieSameSiteNone:
		c.SameSite = statestore.SameSiteNone
	}
	return c
}

func toProto(sc statestore.Cookie) *proto.NetworkCookieParam {
	p := &proto.NetworkCookieParam{
		Name:     sc.Name,
		Value:    sc.Value,
		Domain:   sc.Domain,
		Path:     sc.Path,
		Secure:   sc.Secure,
		HTTPOnly: sc.HTTPOnly,
	}
	if sc.Expires > 0 {
		p.Expires = proto.TimeSinceEpoch(sc.Expires)
	}
	switch sc.SameSite {
	case statestore.SameSiteStrict:
		p.SameSite = proto.NetworkCookieSameSiteStrict
	case statestore.SameSiteNone:
		p.SameSite = proto.NetworkCookieSameSiteNone
	default:
		p.SameSite = proto.NetworkCookieSameSiteLax
	}
	return p
}
