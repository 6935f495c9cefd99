package rodengine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/websess/engine"
)

// rodPage implements engine.Page.
type rodPage struct {
	pg    *rod.Page
	owner *rodContext
}

var _ engine.Page = (*rodPage)(nil)

// Goto implements engine.Page.
func (p *rodPage) Goto(ctx context.Context, rawURL string, wait engine.WaitCondition, timeout time.Duration) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("rodengine: %q: %w", rawURL, engine.ErrBadTarget)
	}

	pg := p.pg.Context(ctx).Timeout(timeout)
	defer pg.CancelTimeout()

	if err := p.navigate(pg, wait, func() error { return pg.Navigate(rawURL) }); err != nil {
		return classifyNav(rawURL, err)
	}
	p.owner.markVisited(u.Scheme + "://" + u.Host)
	return nil
}

// Reload implements engine.Page. A soft retry: the document is
// re-requested but the page object, and everything the context
// accumulated, survives.
func (p *rodPage) Reload(ctx context.Context, wait engine.WaitCondition, timeout time.Duration) error {
	pg := p.pg.Context(ctx).Timeout(timeout)
	defer pg.CancelTimeout()

	if err := p.navigate(pg, wait, pg.Reload); err != nil {
		return classifyNav(p.URL(), err)
	}
	return nil
}

// navigate runs nav and then blocks until the wait condition is reached.
// DOMContentLoaded must be subscribed before navigation starts or the
// event can fire unobserved.
func (p *rodPage) navigate(pg *rod.Page, wait engine.WaitCondition, nav func() error) error {
	var domReady func()
	if wait == engine.WaitDOMContentLoaded {
		domReady = pg.WaitEvent(&proto.PageDomContentEventFired{})
	}
	if err := nav(); err != nil {
		return err
	}
	switch wait {
	case engine.WaitCommit:
		return nil
	case engine.WaitDOMContentLoaded:
		domReady()
		return pg.GetContext().Err()
	case engine.WaitNetworkIdle:
		return pg.WaitIdle(time.Minute)
	default: // WaitLoad and unspecified
		return pg.WaitLoad()
	}
}

// Content implements engine.Page.
func (p *rodPage) Content(ctx context.Context) (string, error) {
	html, err := p.pg.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("rodengine: page content: %w", err)
	}
	return html, nil
}

// URL implements engine.Page.
func (p *rodPage) URL() string {
	info, err := p.pg.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Close implements engine.Page.
func (p *rodPage) Close() error {
	return p.pg.Close()
}

// classifyNav wraps a raw rod error with the matching engine sentinel.
// Unknown errors stay unwrapped and therefore classify as fatal.
func classifyNav(rawURL string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("rodengine: navigate %s: %w", rawURL, engine.ErrTimeout)
	}
	var navErr *rod.NavigationError
	if errors.As(err, &navErr) {
		return fmt.Errorf("rodengine: navigate %s: %s: %w", rawURL, navErr.Reason, engine.ErrNavigation)
	}
	var cdpErr *cdp.Error
	if errors.As(err, &cdpErr) {
		return fmt.Errorf("rodengine: navigate %s: cdp %d %s: %w",
			rawURL, cdpErr.Code, cdpErr.Message, engine.ErrBadTarget)
	}
	return fmt.Errorf("rodengine: navigate %s: %w", rawURL, err)
}
