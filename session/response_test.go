package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/websess/engine"
	"github.com/hazyhaar/websess/engine/enginetest"
	"github.com/hazyhaar/websess/render"
	"github.com/hazyhaar/websess/statestore"
)

func challengeServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/guarded", func(w http.ResponseWriter, req *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>challenge</body></html>"))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestRenderReplaysResponseWithoutNetwork(t *testing.T) {
	srv := challengeServer(t)
	eng := enginetest.New()
	s := New(WithEngine(eng))
	defer s.Close()

	resp, err := s.Get(context.Background(), srv.URL+"/guarded")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	page, err := resp.Render(context.Background())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	got, err := page.Content(context.Background())
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if got != resp.Text() {
		t.Errorf("rendered content = %q, want the captured body", got)
	}
	if page.URL() != resp.URL {
		t.Errorf("page URL = %q, want %q", page.URL(), resp.URL)
	}

	if len(eng.Contexts) != 1 {
		t.Fatalf("contexts = %d, want 1 ephemeral", len(eng.Contexts))
	}
	bc := eng.Contexts[0]
	if len(bc.NetworkRequests) != 0 {
		t.Errorf("network requests = %v, want none", bc.NetworkRequests)
	}
	if len(bc.Fulfilled) != 1 {
		t.Errorf("fulfilled = %v, want exactly one local answer", bc.Fulfilled)
	}

	// The session cookie captured by the plain request was pushed into
	// the browser context before navigation.
	found := false
	for _, ck := range bc.CookieList {
		if ck.Name == "sid" && ck.Value == "abc" {
			found = true
		}
	}
	if !found {
		t.Errorf("context cookies = %v, want pushed sid", bc.CookieList)
	}

	if err := page.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bc.CloseCount != 1 {
		t.Errorf("ephemeral context CloseCount = %d, want 1", bc.CloseCount)
	}
}

func TestRenderSyncsBrowserStateBackOnClose(t *testing.T) {
	srv := challengeServer(t)
	eng := enginetest.New()
	s := New(WithEngine(eng))
	defer s.Close()

	resp, err := s.Get(context.Background(), srv.URL+"/guarded")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	page, err := resp.Render(context.Background())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	// Simulate the page's scripts rotating the cookie and writing storage.
	bc := eng.Contexts[0]
	u, _ := url.Parse(srv.URL)
	bc.AddCookies(context.Background(), []statestore.Cookie{
		{Name: "sid", Value: "rotated", Domain: u.Hostname(), Path: "/"},
	})
	origin := "http://" + u.Host
	bc.SeedStorage(context.Background(), origin, map[string]string{"cf_clearance": "tok"})

	if err := page.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := s.State().CookieHeader(u); got != "sid=rotated" {
		t.Errorf("CookieHeader = %q, want rotated value synced back", got)
	}
	snap := s.State().Snapshot()
	if snap.LocalStorage[origin]["cf_clearance"] != "tok" {
		t.Errorf("localStorage = %v, want cf_clearance synced back", snap.LocalStorage)
	}
}

func TestRenderInCallerContextStaysOpen(t *testing.T) {
	srv := challengeServer(t)
	eng := enginetest.New()
	s := New(WithEngine(eng))
	defer s.Close()

	bc, err := s.NewContext(context.Background())
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	resp, err := s.Get(context.Background(), srv.URL+"/guarded")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	page, err := resp.Render(context.Background(), RenderIn(bc))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if err := page.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(eng.Contexts) != 1 {
		t.Fatalf("contexts = %d, want only the caller's", len(eng.Contexts))
	}
	if eng.Contexts[0].CloseCount != 0 {
		t.Errorf("caller context was closed, CloseCount = %d", eng.Contexts[0].CloseCount)
	}
}

func TestRenderRetriesTimeoutsThenSucceeds(t *testing.T) {
	srv := challengeServer(t)
	eng := enginetest.New()
	eng.ContextPageNavErrs = []error{engine.ErrTimeout, engine.ErrTimeout}
	s := New(WithEngine(eng), WithPageRetries(3))
	defer s.Close()

	resp, err := s.Get(context.Background(), srv.URL+"/guarded")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	page, err := resp.Render(context.Background())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	defer page.Close(context.Background())

	bc := eng.Contexts[0]
	if bc.ArmCount[render.MatchAll] != 3 {
		t.Errorf("arm count = %d, want re-arm before each retry", bc.ArmCount[render.MatchAll])
	}
	if got := bc.Pages[0].Attempts(); got != 3 {
		t.Errorf("attempts = %d, want initial goto + 2 reloads", got)
	}
	if len(bc.NetworkRequests) != 0 {
		t.Errorf("network requests = %v, want none across retries", bc.NetworkRequests)
	}
}

func TestRenderExhaustedRetries(t *testing.T) {
	srv := challengeServer(t)
	eng := enginetest.New()
	eng.ContextPageNavErrs = []error{engine.ErrTimeout, engine.ErrTimeout, engine.ErrTimeout}
	s := New(WithEngine(eng))
	defer s.Close()

	resp, err := s.Get(context.Background(), srv.URL+"/guarded")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	_, err = resp.Render(context.Background(), RenderRetries(2))
	var exhausted *render.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("Attempts = %d, want budget fully spent", exhausted.Attempts)
	}
	if eng.Contexts[0].CloseCount != 1 {
		t.Errorf("ephemeral context CloseCount = %d, want cleanup on failure", eng.Contexts[0].CloseCount)
	}
}

func TestRenderDetachedResponse(t *testing.T) {
	r := &Response{Status: 200, Body: []byte("<html></html>"), URL: "https://example.com/"}
	if _, err := r.Render(context.Background()); !errors.Is(err, ErrDetached) {
		t.Fatalf("err = %v, want ErrDetached", err)
	}
}

func TestTextDecodesDeclaredCharset(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "text/html; charset=iso-8859-1")
	r := &Response{Header: h, Body: []byte{'c', 'a', 'f', 0xE9}}
	if got := r.Text(); got != "café" {
		t.Errorf("Text = %q, want latin-1 decoded to UTF-8", got)
	}

	// No declared charset: bytes pass through as UTF-8.
	r = &Response{Header: http.Header{}, Body: []byte("café")}
	if got := r.Text(); got != "café" {
		t.Errorf("Text = %q, want bytes untouched", got)
	}
}

func TestResponseTextAndJSON(t *testing.T) {
	r := &Response{Body: []byte(`{"n":7}`)}
	if r.Text() != `{"n":7}` {
		t.Errorf("Text = %q", r.Text())
	}
	var v struct {
		N int `json:"n"`
	}
	if err := r.JSON(&v); err != nil || v.N != 7 {
		t.Errorf("JSON: v=%+v err=%v", v, err)
	}
	if err := r.JSON(&struct{}{}); err != nil {
		t.Errorf("JSON into empty struct: %v", err)
	}
	bad := &Response{Body: []byte("not json")}
	if err := bad.JSON(&v); err == nil {
		t.Error("want error for invalid json")
	}
}

func TestResponseHTML(t *testing.T) {
	r := &Response{
		Body: []byte(`<html><head><title>T</title></head><body><a href="/x">x</a></body></html>`),
		URL:  "https://example.com/page",
	}
	doc, err := r.HTML()
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	if doc.Title() != "T" {
		t.Errorf("Title = %q", doc.Title())
	}
	links := doc.AbsoluteLinks()
	if len(links) != 1 || links[0] != "https://example.com/x" {
		t.Errorf("AbsoluteLinks = %v", links)
	}
}

func TestRenderableHeaderStripsTransportHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "text/html")
	h.Set("Content-Encoding", "gzip")
	h.Set("Content-Length", "123")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Connection", "keep-alive")
	h.Set("X-Custom", "kept")

	out := renderableHeader(h)
	for _, k := range []string{"Content-Encoding", "Content-Length", "Transfer-Encoding", "Connection"} {
		if out.Get(k) != "" {
			t.Errorf("header %s survived", k)
		}
	}
	if out.Get("Content-Type") != "text/html" || out.Get("X-Custom") != "kept" {
		t.Errorf("content headers dropped: %v", out)
	}
	if h.Get("Content-Encoding") == "" {
		t.Error("original header mutated")
	}
}

func TestVisitOpensLivePageWithSessionState(t *testing.T) {
	eng := enginetest.New()
	s := New(WithEngine(eng))
	defer s.Close()

	s.State().MergeCookies([]statestore.Cookie{
		{Name: "sid", Value: "abc", Domain: "example.com", Path: "/"},
	})

	page, err := s.Visit(context.Background(), "https://example.com/dash")
	if err != nil {
		t.Fatalf("Visit: %v", err)
	}
	if page.URL() != "https://example.com/dash" {
		t.Errorf("page URL = %q", page.URL())
	}

	bc := eng.Contexts[0]
	if len(bc.NetworkRequests) != 1 {
		t.Errorf("live visit must reach the network once: %v", bc.NetworkRequests)
	}
	if len(bc.Fulfilled) != 0 {
		t.Errorf("live visit must not fulfill locally: %v", bc.Fulfilled)
	}
	found := false
	for _, ck := range bc.CookieList {
		if ck.Name == "sid" && ck.Value == "abc" {
			found = true
		}
	}
	if !found {
		t.Errorf("session cookie not pushed before navigation: %v", bc.CookieList)
	}

	// A cookie the site sets while browsing flows back on close.
	bc.AddCookies(context.Background(), []statestore.Cookie{
		{Name: "cf_clearance", Value: "tok", Domain: "example.com", Path: "/"},
	})
	if err := page.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bc.CloseCount != 1 {
		t.Errorf("ephemeral context CloseCount = %d, want 1", bc.CloseCount)
	}
	found = false
	for _, ck := range s.State().Snapshot().Cookies {
		if ck.Name == "cf_clearance" && ck.Value == "tok" {
			found = true
		}
	}
	if !found {
		t.Error("browser cookie not merged back into the session")
	}
}

func TestVisitInCallerContextStaysOpen(t *testing.T) {
	eng := enginetest.New()
	s := New(WithEngine(eng))
	defer s.Close()

	bc, err := s.NewContext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	page, err := s.Visit(context.Background(), "https://example.com/", RenderIn(bc))
	if err != nil {
		t.Fatalf("Visit: %v", err)
	}
	if err := page.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bc.(*enginetest.Context).CloseCount != 0 {
		t.Error("caller-owned context must stay open")
	}
}

func TestVisitRejectsMalformedURL(t *testing.T) {
	s := New(WithEngine(enginetest.New()))
	defer s.Close()

	if _, err := s.Visit(context.Background(), "://nope"); err == nil {
		t.Fatal("want error for malformed url")
	}
}
