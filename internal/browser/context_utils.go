// internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext derives a context from primary that is additionally
// cancelled when secondary is cancelled. The returned context keeps the
// values of primary, which matters for chromedp contexts where the target
// handle travels in the context values.
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

// valueOnlyContext inherits the values of its parent but none of its
// cancellation or deadline.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (valueOnlyContext) Done() <-chan struct{}       { return nil }
func (valueOnlyContext) Err() error                  { return nil }

// Detach returns a context that carries the values of ctx but ignores its
// cancellation. Used for teardown work that must still reach the remote
// browser after the session context has been cancelled.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
