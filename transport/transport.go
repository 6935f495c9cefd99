// Package transport defines the HTTP transport boundary of a session and
// ships a plain net/http implementation with browser-shaped headers. The
// TLS/HTTP fingerprint impersonation engine is an external collaborator:
// anything satisfying Sender can be plugged into a session in its place.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Request is one outgoing HTTP request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Result is the transport-level outcome: final status, headers and body
// after redirects, plus the final URL.
type Result struct {
	Status   int
	Header   http.Header
	Body     []byte
	FinalURL string
	Duration time.Duration
}

// Sender issues HTTP requests. Implementations must honor ctx and must
// route cookies through the jar they were constructed with, so every
// redirect hop's Set-Cookie lands in the session's canonical store.
type Sender interface {
	Send(ctx context.Context, req Request) (*Result, error)
}

// Client is the plain-transport Sender.
type Client struct {
	hc     *http.Client
	ua     string
	maxLen int64
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.ua = ua }
}

// WithTimeout sets the whole-request timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = d }
}

// WithJar sets the cookie jar. Sessions pass their statestore.Jar here so
// plain requests and browser navigations share one cookie universe.
func WithJar(jar http.CookieJar) Option {
	return func(c *Client) { c.hc.Jar = jar }
}

// WithMaxBodySize caps the response body read. Default: 10MB.
func WithMaxBodySize(n int64) Option {
	return func(c *Client) { c.maxLen = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client with sensible defaults.
func New(opts ...Option) *Client {
	c := &Client{
		hc:     &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		maxLen: 10 << 20,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Send implements Sender.
func (c *Client) Send(ctx context.Context, req Request) (*Result, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("transport: new request: %w", err)
	}

	hr.Header.Set("User-Agent", c.ua)
	hr.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	hr.Header.Set("Accept-Language", "en-US,en;q=0.5")
	for k, vs := range req.Header {
		hr.Header.Del(k)
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.hc.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("transport: do: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxLen))
	if err != nil {
		return nil, fmt.Errorf("transport: read body: %w", err)
	}

	res := &Result{
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     raw,
		FinalURL: resp.Request.URL.String(),
		Duration: time.Since(start),
	}
	c.logger.Debug("transport: sent",
		"method", req.Method, "url", req.URL,
		"status", res.Status, "size", len(raw), "duration", res.Duration)
	return res, nil
}
