// internal/browser/session/context_utils.go
package session

import (
	"context"
	"time"
)

// CombineContext returns a context that inherits values and deadline from
// primary and is cancelled when either primary or secondary is done. chromedp
// finds its target through context values, so the tab context must be
// primary and the caller's operational context secondary.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}

// valueOnlyContext keeps the values of its parent but drops its deadline
// and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context carrying ctx's values that is never cancelled.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
