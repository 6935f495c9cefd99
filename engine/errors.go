package engine

import (
	"context"
	"errors"
)

// Navigation failure classes. Implementations wrap their native errors
// with exactly one of these sentinels so the retry controller can
// classify without knowing the engine.
var (
	// ErrTimeout marks a navigation that did not reach its wait
	// condition in time. Retryable.
	ErrTimeout = errors.New("engine: navigation timeout")

	// ErrNavigation marks a transport-level navigation failure
	// (connection reset, aborted load, redirect loop). Retryable.
	ErrNavigation = errors.New("engine: navigation failed")

	// ErrBadTarget marks a malformed or unsupported navigation target.
	// Fatal, never retried.
	ErrBadTarget = errors.New("engine: invalid navigation target")

	// ErrClosed marks use of a context or page after it was closed.
	// Fatal programming error.
	ErrClosed = errors.New("engine: use after close")
)

// Retryable reports whether a navigation error is worth re-attempting on
// the same page. Context cancellation is never retryable: the caller asked
// to stop.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNavigation) ||
		errors.Is(err, context.DeadlineExceeded)
}
