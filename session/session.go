// Package session ties the pieces together: one Session owns one
// canonical state store, a plain HTTP transport and a browser engine, and
// keeps cookies and per-origin localStorage consistent between the two
// execution modes. Sessions are independent; run as many concurrently as
// you like, but serialize renders that target the same external browser
// context.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hazyhaar/websess/engine"
	"github.com/hazyhaar/websess/engine/rodengine"
	"github.com/hazyhaar/websess/idgen"
	"github.com/hazyhaar/websess/render"
	"github.com/hazyhaar/websess/statestore"
	"github.com/hazyhaar/websess/transport"
)

// Session is a stateful HTTP + browser session.
type Session struct {
	id     string
	store  *statestore.Store
	sender transport.Sender
	log    *slog.Logger

	timeout       time.Duration
	pageRetries   int
	directRetries int
	headless      bool
	stealth       bool
	proxy         string
	remoteURL     string

	mu         sync.Mutex
	eng        engine.Engine
	ownsEngine bool
	renderer   *render.Renderer
	closed     bool
}

// Option configures a Session.
type Option func(*Session)

// WithTimeout sets the default timeout for both direct requests and
// navigation attempts. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithPageRetries sets the soft-retry budget for browser navigations
// after the initial attempt. Default: 3.
func WithPageRetries(n int) Option {
	return func(s *Session) { s.pageRetries = n }
}

// WithDirectRetries sets the retry budget for plain requests on timeout.
// Default: 2.
func WithDirectRetries(n int) Option {
	return func(s *Session) { s.directRetries = n }
}

// WithHeadful launches the browser with a visible window.
func WithHeadful() Option {
	return func(s *Session) { s.headless = false }
}

// WithoutStealth disables the stealth page patches.
func WithoutStealth() Option {
	return func(s *Session) { s.stealth = false }
}

// WithProxy routes both the transport and the browser through a proxy.
func WithProxy(addr string) Option {
	return func(s *Session) { s.proxy = addr }
}

// WithRemoteBrowser connects to an external Chrome over its WebSocket URL
// instead of launching one.
func WithRemoteBrowser(wsURL string) Option {
	return func(s *Session) { s.remoteURL = wsURL }
}

// WithEngine supplies a browser engine. The session will not close it;
// ownership stays with the caller. Used to share one browser across
// sessions and to plug a fake engine in tests.
func WithEngine(eng engine.Engine) Option {
	return func(s *Session) { s.eng = eng }
}

// WithSender supplies the HTTP transport, e.g. a fingerprint
// impersonation engine. The default is the plain transport.Client wired
// to the session's cookie store.
func WithSender(sender transport.Sender) Option {
	return func(s *Session) { s.sender = sender }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// New creates a Session. The browser engine launches lazily on the first
// operation that needs it.
func New(opts ...Option) *Session {
	s := &Session{
		id:            idgen.NewID("sess_"),
		store:         statestore.New(),
		timeout:       10 * time.Second,
		pageRetries:   3,
		directRetries: 2,
		headless:      true,
		stealth:       true,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("session", s.id)
	if s.sender == nil {
		s.sender = transport.New(
			transport.WithJar(&statestore.Jar{Store: s.store}),
			transport.WithTimeout(s.timeout),
			transport.WithLogger(s.log),
		)
	}
	return s
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// State returns the session's canonical state store.
func (s *Session) State() *statestore.Store { return s.store }

// Request issues a plain HTTP request through the transport, with the
// session's cookie jar applied. Timeouts are retried up to the direct
// retry budget.
func (s *Session) Request(ctx context.Context, method, rawURL string, opts ...RequestOption) (*Response, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, fmt.Errorf("session: request url: %w", err)
	}
	req := transport.Request{Method: method, URL: rawURL, Header: http.Header{}}
	for _, o := range opts {
		o(&req)
	}

	var res *transport.Result
	var err error
	for attempt := 0; ; attempt++ {
		res, err = s.sender.Send(ctx, req)
		if err == nil {
			break
		}
		if attempt >= s.directRetries || !timeoutErr(err) {
			return nil, err
		}
		s.log.Debug("session: direct retry", "url", rawURL, "attempt", attempt+1, "cause", err)
	}

	// The default transport merges every redirect hop through the jar;
	// this extra merge of the final response covers custom Senders that
	// carry no jar. Re-merging jar-captured cookies is a no-op.
	if sc := res.Header.Values("Set-Cookie"); len(sc) > 0 {
		if u, err := url.Parse(res.FinalURL); err == nil {
			s.store.MergeCookies(statestore.FromSetCookie(sc, u.Hostname()))
		}
	}

	return &Response{
		Status:   res.Status,
		Header:   res.Header,
		Body:     res.Body,
		URL:      res.FinalURL,
		Duration: res.Duration,
		sess:     s,
	}, nil
}

// Get is shorthand for Request with GET.
func (s *Session) Get(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	return s.Request(ctx, http.MethodGet, rawURL, opts...)
}

// Post is shorthand for Request with POST.
func (s *Session) Post(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	return s.Request(ctx, http.MethodPost, rawURL, opts...)
}

// Visit opens a live browser page on rawURL. The browser context is
// seeded with the session's cookies and localStorage before navigating,
// and the navigation goes to the real network; no interception is
// involved. Live navigation waits for the load event by default.
// Retryable failures soft-reload the same page up to the page retry
// budget.
//
// Close the returned page to sync browser state back into the session.
func (s *Session) Visit(ctx context.Context, rawURL string, opts ...RenderOption) (*render.Page, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, fmt.Errorf("session: visit url: %w", err)
	}
	renderer, err := s.ensureRenderer()
	if err != nil {
		return nil, err
	}

	ro := render.Options{
		MaxRetries: s.pageRetries,
		Timeout:    s.timeout,
	}
	for _, o := range opts {
		o(&ro)
	}
	return renderer.Visit(ctx, rawURL, ro)
}

// NewContext creates a browser context the caller owns. Pass it to
// render options to reuse warmed-up browser state across renders; close
// it yourself when done.
func (s *Session) NewContext(ctx context.Context) (engine.Context, error) {
	eng, err := s.ensureEngine()
	if err != nil {
		return nil, err
	}
	return eng.NewContext(ctx)
}

// Close releases the session's resources. An engine the session launched
// itself is shut down; one supplied via WithEngine stays with the caller.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.eng != nil && s.ownsEngine {
		if err := s.eng.Close(); err != nil {
			return fmt.Errorf("session: close engine: %w", err)
		}
	}
	return nil
}

func (s *Session) ensureEngine() (engine.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("session: closed")
	}
	if s.eng == nil {
		eng, err := rodengine.New(rodengine.Config{
			RemoteURL: s.remoteURL,
			Headless:  s.headless,
			Stealth:   s.stealth,
			Proxy:     s.proxy,
			Logger:    s.log,
		})
		if err != nil {
			return nil, fmt.Errorf("session: launch engine: %w", err)
		}
		s.eng = eng
		s.ownsEngine = true
	}
	return s.eng, nil
}

func (s *Session) ensureRenderer() (*render.Renderer, error) {
	eng, err := s.ensureEngine()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renderer == nil {
		s.renderer = render.NewRenderer(eng, s.store, s.log)
	}
	return s.renderer, nil
}

// RequestOption modifies one outgoing request.
type RequestOption func(*transport.Request)

// WithHeader adds a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *transport.Request) { r.Header.Add(key, value) }
}

// WithBody sets the request body.
func WithBody(body []byte) RequestOption {
	return func(r *transport.Request) { r.Body = body }
}

// WithQuery appends a query parameter to the request URL.
func WithQuery(key, value string) RequestOption {
	return func(r *transport.Request) {
		u, err := url.Parse(r.URL)
		if err != nil {
			return
		}
		q := u.Query()
		q.Add(key, value)
		u.RawQuery = q.Encode()
		r.URL = u.String()
	}
}

func timeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
