// internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext returns a context derived from sessionCtx that is also cancelled
// when opCtx is done. Values (including the chromedp target) come from sessionCtx;
// the operation deadline comes from opCtx. A deadline reached on opCtx surfaces as
// context.Canceled on the combined context, so callers inspect opCtx.Err() to tell
// a timeout apart.
func CombineContext(sessionCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(sessionCtx)

	go func() {
		select {
		case <-opCtx.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}

// valueOnlyContext keeps the parent's values but drops its deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context that inherits values from ctx but is never cancelled by it.
// Cleanup paths use it so a browser can be torn down after the run context is gone.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
