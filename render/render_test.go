package render

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/hazyhaar/websess/engine"
	"github.com/hazyhaar/websess/engine/enginetest"
	"github.com/hazyhaar/websess/statestore"
)

func seededStore(t *testing.T) *statestore.Store {
	t.Helper()
	store := statestore.New()
	store.MergeCookies([]statestore.Cookie{
		{Name: "sid", Value: "abc", Domain: "example.com", Path: "/"},
	})
	store.MergeLocalStorage("https://example.com", map[string]string{"flag": "1"})
	return store
}

func TestRenderOfflineWithoutNetwork(t *testing.T) {
	eng := enginetest.New()
	store := seededStore(t)
	r := NewRenderer(eng, store, nil)

	page, err := r.Render(context.Background(), Target{
		URL:    "https://example.com/",
		Status: http.StatusOK,
		Body:   []byte("<html>ok</html>"),
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}

	content, err := page.Content(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if content != "<html>ok</html>" {
		t.Errorf("rendered content = %q, want captured body", content)
	}

	fake := eng.Contexts[0]
	if len(fake.NetworkRequests) != 0 {
		t.Errorf("render must not reach the network: %v", fake.NetworkRequests)
	}
	if len(fake.Fulfilled) != 1 {
		t.Errorf("want exactly one local fulfillment, got %v", fake.Fulfilled)
	}

	// The page's bootstrap environment saw the seeded session state.
	foundSid := false
	for _, c := range fake.CookieList {
		if c.Name == "sid" && c.Value == "abc" {
			foundSid = true
		}
	}
	if !foundSid {
		t.Errorf("cookie not pushed into context: %+v", fake.CookieList)
	}
	if fake.Storage["https://example.com"]["flag"] != "1" {
		t.Errorf("localStorage not pushed: %+v", fake.Storage)
	}

	if err := page.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fake.CloseCount != 1 {
		t.Errorf("ephemeral context closed %d times, want 1", fake.CloseCount)
	}
}

func TestRenderRetriesRearmOnSameContext(t *testing.T) {
	eng := enginetest.New()
	store := statestore.New()
	r := NewRenderer(eng, store, nil)

	bc, err := eng.NewContext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	fake := bc.(*enginetest.Context)
	fake.PageNavErrs = []error{
		fmt.Errorf("t1: %w", engine.ErrTimeout),
		fmt.Errorf("t2: %w", engine.ErrTimeout),
		nil,
	}

	page, err := r.Render(context.Background(), Target{
		URL:  "https://example.com/",
		Body: []byte("<html>ok</html>"),
	}, Options{MaxRetries: 2, Context: bc})
	if err != nil {
		t.Fatalf("third attempt should succeed: %v", err)
	}

	if len(eng.Contexts) != 1 {
		t.Fatalf("context must never be recreated across retries: %d contexts", len(eng.Contexts))
	}
	if got := fake.ArmCount[MatchAll]; got != 3 {
		t.Errorf("want 3 arm cycles (1 + 2 retries), got %d", got)
	}
	if len(fake.Fulfilled) != 3 {
		t.Errorf("each attempt consumes one fulfillment: got %d", len(fake.Fulfilled))
	}
	if len(fake.NetworkRequests) != 0 {
		t.Errorf("retries must never hit the network: %v", fake.NetworkRequests)
	}
	if len(fake.Pages) != 1 {
		t.Errorf("page must survive retries: %d pages", len(fake.Pages))
	}

	content, err := page.Content(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if content != "<html>ok</html>" {
		t.Errorf("final content = %q", content)
	}

	if err := page.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fake.CloseCount != 0 {
		t.Error("external context must stay open after render")
	}
}

func TestRenderExhaustedOnExternalContext(t *testing.T) {
	eng := enginetest.New()
	store := statestore.New()
	r := NewRenderer(eng, store, nil)

	timeout := fmt.Errorf("stuck: %w", engine.ErrTimeout)
	bc, err := eng.NewContext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	fake := bc.(*enginetest.Context)
	fake.PageNavErrs = []error{timeout, timeout}
	fake.CookieList = []statestore.Cookie{
		{Name: "warm", Value: "1", Domain: "example.com", Path: "/"},
	}

	_, err = r.Render(context.Background(), Target{
		URL:  "https://example.com/",
		Body: []byte("x"),
	}, Options{MaxRetries: 1, Context: bc})

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("want ExhaustedError, got %v", err)
	}
	if ex.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", ex.Attempts)
	}
	// External context: not closed, but state synced back on abort.
	if fake.CloseCount != 0 {
		t.Error("external context must not be closed on failure")
	}
	if len(store.Snapshot().Cookies) != 1 {
		t.Error("abort must still sync state back")
	}
}

func TestRenderExhaustedClosesEphemeralContext(t *testing.T) {
	eng := enginetest.New()
	eng.ContextPageNavErrs = []error{
		fmt.Errorf("stuck: %w", engine.ErrTimeout),
		fmt.Errorf("stuck: %w", engine.ErrTimeout),
	}
	r := NewRenderer(eng, statestore.New(), nil)

	_, err := r.Render(context.Background(), Target{
		URL:  "https://example.com/",
		Body: []byte("x"),
	}, Options{MaxRetries: 1})

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("want ExhaustedError, got %v", err)
	}
	if len(eng.Contexts) != 1 || eng.Contexts[0].CloseCount != 1 {
		t.Errorf("ephemeral context must be closed exactly once on failure")
	}
}

func TestRenderInvalidTargetAndPushFailure(t *testing.T) {
	eng := enginetest.New()
	store := statestore.New()
	r := NewRenderer(eng, store, nil)

	_, err := r.Render(context.Background(), Target{URL: ""}, Options{})
	if !errors.Is(err, ErrNoTarget) {
		t.Fatalf("want ErrNoTarget, got %v", err)
	}
	if len(eng.Contexts) != 0 {
		t.Error("no context may be created for an invalid target")
	}

	// Failure after acquisition: push fails, context must be torn down.
	store.MergeLocalStorage("https://example.com", map[string]string{"flag": "1"})
	failing := errors.New("seed refused")

	bc, err := eng.NewContext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	fake := bc.(*enginetest.Context)
	fake.SeedErr["https://example.com"] = failing

	_, err = r.Render(context.Background(), Target{
		URL:  "https://example.com/",
		Body: []byte("x"),
	}, Options{Context: bc})
	if !errors.Is(err, failing) {
		t.Fatalf("push failure must surface: %v", err)
	}
}

func TestRenderDoubleCloseIsProgrammingError(t *testing.T) {
	eng := enginetest.New()
	r := NewRenderer(eng, statestore.New(), nil)

	page, err := r.Render(context.Background(), Target{
		URL:  "https://example.com/",
		Body: []byte("x"),
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := page.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := page.Close(context.Background()); !errors.Is(err, ErrReleased) {
		t.Errorf("double close must report ErrReleased, got %v", err)
	}
}

func TestRenderDefaultStatus(t *testing.T) {
	eng := enginetest.New()
	r := NewRenderer(eng, statestore.New(), nil)

	page, err := r.Render(context.Background(), Target{
		URL:  "https://example.com/",
		Body: []byte("<html>ok</html>"),
	}, Options{Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { page.Close(context.Background()) })

	if len(eng.Contexts[0].Fulfilled) != 1 {
		t.Error("zero status must default to 200 and still fulfill")
	}
}

func TestVisitNavigatesLiveAndSyncsState(t *testing.T) {
	eng := enginetest.New()
	store := seededStore(t)
	r := NewRenderer(eng, store, nil)

	page, err := r.Visit(context.Background(), "https://example.com/dash", Options{})
	if err != nil {
		t.Fatal(err)
	}

	fake := eng.Contexts[0]
	if len(fake.NetworkRequests) != 1 || fake.NetworkRequests[0] != "https://example.com/dash" {
		t.Errorf("live visit must reach the network once: %v", fake.NetworkRequests)
	}
	if len(fake.Fulfilled) != 0 {
		t.Errorf("live visit must not fulfill locally: %v", fake.Fulfilled)
	}
	if got := fake.ArmCount[MatchAll]; got != 0 {
		t.Errorf("live visit must not arm interception, armed %d times", got)
	}

	// Session state was pushed before the navigation.
	foundSid := false
	for _, c := range fake.CookieList {
		if c.Name == "sid" && c.Value == "abc" {
			foundSid = true
		}
	}
	if !foundSid {
		t.Errorf("cookie not pushed into context: %+v", fake.CookieList)
	}

	// State the site sets while the page is open flows back on close.
	fake.CookieList = append(fake.CookieList, statestore.Cookie{
		Name: "cf_clearance", Value: "tok", Domain: "example.com", Path: "/",
	})
	if err := page.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fake.CloseCount != 1 {
		t.Errorf("ephemeral context closed %d times, want 1", fake.CloseCount)
	}
	found := false
	for _, c := range store.Snapshot().Cookies {
		if c.Name == "cf_clearance" && c.Value == "tok" {
			found = true
		}
	}
	if !found {
		t.Error("browser-set cookie not synced back into the store")
	}
}

func TestVisitRetriesOnSamePage(t *testing.T) {
	eng := enginetest.New()
	eng.ContextPageNavErrs = []error{
		fmt.Errorf("t1: %w", engine.ErrTimeout),
		fmt.Errorf("t2: %w", engine.ErrTimeout),
	}
	r := NewRenderer(eng, statestore.New(), nil)

	page, err := r.Visit(context.Background(), "https://example.com/", Options{MaxRetries: 2})
	if err != nil {
		t.Fatalf("third attempt should succeed: %v", err)
	}
	defer page.Close(context.Background())

	fake := eng.Contexts[0]
	if len(fake.Pages) != 1 {
		t.Fatalf("page must survive retries: %d pages", len(fake.Pages))
	}
	if got := fake.Pages[0].Attempts(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if len(fake.NetworkRequests) != 3 {
		t.Errorf("each live attempt reaches the network: %v", fake.NetworkRequests)
	}
	if got := fake.ArmCount[MatchAll]; got != 0 {
		t.Errorf("retries must not arm interception, armed %d times", got)
	}
}

func TestVisitExternalContextStaysOpen(t *testing.T) {
	eng := enginetest.New()
	r := NewRenderer(eng, statestore.New(), nil)

	bc, err := eng.NewContext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	page, err := r.Visit(context.Background(), "https://example.com/", Options{Context: bc})
	if err != nil {
		t.Fatal(err)
	}
	if err := page.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if bc.(*enginetest.Context).CloseCount != 0 {
		t.Error("external context must stay open after a visit")
	}
}

func TestVisitEmptyURL(t *testing.T) {
	r := NewRenderer(enginetest.New(), statestore.New(), nil)
	if _, err := r.Visit(context.Background(), "", Options{}); !errors.Is(err, ErrNoTarget) {
		t.Errorf("err = %v, want ErrNoTarget", err)
	}
}
