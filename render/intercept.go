package render

import (
	"fmt"
	"sync"

	"github.com/hazyhaar/websess/engine"
)

// MatchAll is the interception pattern that matches every outgoing
// request on a context.
const MatchAll = "**/*"

// Interceptor installs one-shot fulfillment rules: the first matching
// request is answered locally with the supplied payload, subsequent
// requests proceed to the real network until the rule is re-armed.
type Interceptor struct{}

// ArmOnce installs a one-shot fulfillment rule for pattern on the
// context. Re-arming is idempotent: any rule previously installed for the
// same pattern is removed first, so at most one fulfillment rule is ever
// active per pattern per context. The rule is consumed by the first
// matching request; everything after passes through.
func (Interceptor) ArmOnce(bc engine.Context, pattern string, f engine.Fulfillment) error {
	if err := bc.Unroute(pattern); err != nil {
		return fmt.Errorf("render: disarm %q: %w", pattern, err)
	}

	var once sync.Once
	handler := func(_ *engine.Request) *engine.Fulfillment {
		var hit *engine.Fulfillment
		once.Do(func() { hit = &f })
		return hit
	}

	if err := bc.Route(pattern, handler); err != nil {
		return fmt.Errorf("render: arm %q: %w", pattern, err)
	}
	return nil
}

// Disarm removes the rule for pattern, consumed or not.
func (Interceptor) Disarm(bc engine.Context, pattern string) error {
	if err := bc.Unroute(pattern); err != nil {
		return fmt.Errorf("render: disarm %q: %w", pattern, err)
	}
	return nil
}
