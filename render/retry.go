package render

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/websess/engine"
)

// NavState is one state of the navigation retry machine.
type NavState int

const (
	NavIdle NavState = iota
	NavAttempting
	NavSucceeded
	NavRetryableFailure
	NavFatalFailure
)

func (s NavState) String() string {
	switch s {
	case NavIdle:
		return "idle"
	case NavAttempting:
		return "attempting"
	case NavSucceeded:
		return "succeeded"
	case NavRetryableFailure:
		return "retryable-failure"
	case NavFatalFailure:
		return "fatal-failure"
	default:
		return "unknown"
	}
}

// Attempt is the transient record of one navigation attempt. It exists
// only for the duration of a navigate-with-retry operation.
type Attempt struct {
	Index   int
	URL     string
	Wait    engine.WaitCondition
	LastErr error
}

// classify maps the outcome of one attempt to the next state, given how
// many attempts have already run against a budget of maxRetries retries
// after the initial attempt. Pure function; the side effects (re-arm,
// reload) live in NavigateWithRetry.
func classify(err error, attemptIndex, maxRetries int) NavState {
	switch {
	case err == nil:
		return NavSucceeded
	case !engine.Retryable(err):
		return NavFatalFailure
	case attemptIndex < maxRetries:
		return NavRetryableFailure
	default:
		return NavFatalFailure
	}
}

// ExhaustedError is the terminal failure after the retry budget ran out.
// It carries the attempt count and the last attempt's cause.
type ExhaustedError struct {
	Attempts int
	URL      string
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("render: navigation to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Navigator drives the attempt/retry state machine for one page.
type Navigator struct {
	Timeout time.Duration
	Log     *slog.Logger
}

// NavigateWithRetry navigates page to url and retries retryable failures
// up to maxRetries times. The initial attempt is a Goto; every retry is a
// soft Reload on the same page, so the context, the page object and any
// state accumulated by prior attempts (cookies, storage, executed
// bootstrap scripts) all survive. Before each retry onRetry runs
// synchronously — the interception rule is consumed once per attempt, so
// without re-arming the retry would hit the real network.
//
// Retryable failures within budget are absorbed; the terminal failure is
// either the fatal error itself or an *ExhaustedError wrapping the last
// retryable cause.
func (n *Navigator) NavigateWithRetry(ctx context.Context, page engine.Page, url string, wait engine.WaitCondition, maxRetries int, onRetry func() error) error {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}

	att := Attempt{URL: url, Wait: wait}
	att.LastErr = page.Goto(ctx, url, wait, n.Timeout)

	for {
		switch classify(att.LastErr, att.Index, maxRetries) {
		case NavSucceeded:
			return nil
		case NavFatalFailure:
			if att.Index >= maxRetries && engine.Retryable(att.LastErr) {
				return &ExhaustedError{Attempts: att.Index + 1, URL: url, Last: att.LastErr}
			}
			return att.LastErr
		case NavRetryableFailure:
			att.Index++
			log.Debug("render: navigation retry",
				"url", url, "attempt", att.Index, "cause", att.LastErr)
			if onRetry != nil {
				if err := onRetry(); err != nil {
					return fmt.Errorf("render: re-arm before retry %d: %w", att.Index, err)
				}
			}
			att.LastErr = page.Reload(ctx, wait, n.Timeout)
		}
	}
}
