package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/hazyhaar/websess/content"
	"github.com/hazyhaar/websess/engine"
	"github.com/hazyhaar/websess/render"
)

// ErrDetached reports a render attempt on a Response that has no owning
// session. Only responses produced by a Session can be rendered.
var ErrDetached = errors.New("session: response has no owning session")

// Response is the outcome of a plain request, renderable into a live
// browser page later.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	URL      string // final URL, post-redirect
	Duration time.Duration

	sess *Session
}

// Text returns the body decoded to UTF-8. A charset declared in
// Content-Type is honored; absent or unknown charsets fall back to
// interpreting the bytes as UTF-8.
func (r *Response) Text() string {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil {
		if label := params["charset"]; label != "" && !strings.EqualFold(label, "utf-8") {
			if enc, _ := charset.Lookup(label); enc != nil {
				if decoded, err := enc.NewDecoder().Bytes(r.Body); err == nil {
					return string(decoded)
				}
			}
		}
	}
	return string(r.Body)
}

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("session: response json: %w", err)
	}
	return nil
}

// HTML parses the body as an HTML document for content extraction.
func (r *Response) HTML() (*content.Document, error) {
	return content.Parse(r.Body, r.URL)
}

// RenderOption customizes one offline render.
type RenderOption func(*render.Options)

// RenderWait sets the navigation milestone to wait for.
// Default: domcontentloaded.
func RenderWait(w engine.WaitCondition) RenderOption {
	return func(o *render.Options) { o.Wait = w }
}

// RenderRetries sets the soft-retry budget. Negative disables retries.
func RenderRetries(n int) RenderOption {
	return func(o *render.Options) { o.MaxRetries = n }
}

// RenderIn renders inside a caller-owned browser context. The context is
// reused as-is and never closed by the render.
func RenderIn(bc engine.Context) RenderOption {
	return func(o *render.Options) { o.Context = bc }
}

// Render promotes the captured response into a live browser page without
// re-issuing the network request: the browser context is seeded with the
// session's cookies and localStorage, the first navigation request is
// fulfilled locally with this response's status, headers and body, and
// retryable navigation failures re-arm the fulfillment and soft-reload
// the same page. Useful when the server answered with a script challenge
// that needs a real DOM to run in.
//
// Close the returned page to sync browser state back into the session.
func (r *Response) Render(ctx context.Context, opts ...RenderOption) (*render.Page, error) {
	if r.sess == nil {
		return nil, ErrDetached
	}
	renderer, err := r.sess.ensureRenderer()
	if err != nil {
		return nil, err
	}

	ro := render.Options{
		MaxRetries: r.sess.pageRetries,
		Timeout:    r.sess.timeout,
	}
	for _, o := range opts {
		o(&ro)
	}

	return renderer.Render(ctx, render.Target{
		URL:    r.URL,
		Status: r.Status,
		Header: renderableHeader(r.Header),
		Body:   r.Body,
	}, ro)
}

// renderableHeader strips headers that describe the transport encoding of
// the original exchange. The body handed to the browser is already
// decoded, so replaying these would make the engine misparse it.
func renderableHeader(h http.Header) http.Header {
	out := h.Clone()
	for _, k := range []string{"Content-Encoding", "Content-Length", "Transfer-Encoding", "Connection"} {
		out.Del(k)
	}
	return out
}
