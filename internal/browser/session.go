// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepwright/api/schemas"
)

// selectOptionFn runs with `this` bound to the <select> element.
const selectOptionFn = `function(value) {
	if (!(this instanceof HTMLSelectElement)) {
		throw new Error('element is not a <select>');
	}
	const option = Array.from(this.options).find((o) => o.value === value);
	if (!option) {
		throw new Error('no option with value ' + JSON.stringify(value));
	}
	this.value = value;
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

const scrollByViewportScript = `window.scrollBy(0, window.innerHeight)`

// Session is one isolated browser process with a single tab. It is owned by exactly
// one execution and is not safe for concurrent steps.
type Session struct {
	id     string
	ctx    context.Context
	logger *zap.Logger

	monitor *NetworkMonitor

	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	profileDir  string

	closeOnce sync.Once
	released  atomic.Bool
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// run executes chromedp actions on the tab, bounded by the caller's context.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

// WaitReady waits until the selector matches a node in the DOM.
func (s *Session) WaitReady(ctx context.Context, selector string, st schemas.SelectorType) error {
	q, err := resolveSelector(selector, st)
	if err != nil {
		return err
	}
	return s.run(ctx, chromedp.WaitReady(q.sel, q.by))
}

// Click clicks the first node matching the selector.
func (s *Session) Click(ctx context.Context, selector string, st schemas.SelectorType) error {
	q, err := resolveSelector(selector, st)
	if err != nil {
		return err
	}
	return s.run(ctx, chromedp.Click(q.sel, q.by))
}

// Type focuses the field, clears its value and types value key by key.
func (s *Session) Type(ctx context.Context, selector string, st schemas.SelectorType, value string) error {
	q, err := resolveSelector(selector, st)
	if err != nil {
		return err
	}
	return s.run(ctx,
		chromedp.Focus(q.sel, q.by),
		chromedp.Clear(q.sel, q.by),
		chromedp.SendKeys(q.sel, value, q.by),
	)
}

// Text returns the trimmed textContent of the first matching node.
func (s *Session) Text(ctx context.Context, selector string, st schemas.SelectorType) (string, error) {
	q, err := resolveSelector(selector, st)
	if err != nil {
		return "", err
	}
	var text string
	if err := s.run(ctx, chromedp.TextContent(q.sel, &text, q.by)); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Attribute reads a named attribute. ok is false when the attribute is absent.
func (s *Session) Attribute(ctx context.Context, selector string, st schemas.SelectorType, name string) (value string, ok bool, err error) {
	q, err := resolveSelector(selector, st)
	if err != nil {
		return "", false, err
	}
	err = s.run(ctx, chromedp.AttributeValue(q.sel, name, &value, &ok, q.by))
	return value, ok, err
}

// Select picks the option with the given value on a <select> element and fires
// input and change events.
func (s *Session) Select(ctx context.Context, selector string, st schemas.SelectorType, value string) error {
	q, err := resolveSelector(selector, st)
	if err != nil {
		return err
	}
	return s.run(ctx, chromedp.QueryAfter(q.sel, func(ctx context.Context, _ runtime.ExecutionContextID, nodes ...*cdp.Node) error {
		if len(nodes) == 0 {
			return fmt.Errorf("selector %q matched no nodes", selector)
		}
		var selected bool
		return callOnNode(ctx, nodes[0], selectOptionFn, &selected, value)
	}, q.by))
}

// callOnNode runs fn with `this` bound to the node's remote object.
func callOnNode(ctx context.Context, node *cdp.Node, fn string, res any, args ...any) error {
	obj, err := dom.ResolveNode().WithNodeID(node.NodeID).Do(ctx)
	if err != nil {
		return fmt.Errorf("resolve node: %w", err)
	}
	// Released best effort; a navigation invalidates the object anyway.
	defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

	return chromedp.CallFunctionOn(fn, res, func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
		return p.WithObjectID(obj.ObjectID)
	}, args...).Do(ctx)
}

// ScrollByViewport scrolls the window down by one viewport height.
func (s *Session) ScrollByViewport(ctx context.Context) error {
	return s.run(ctx, chromedp.Evaluate(scrollByViewportScript, nil))
}

// Evaluate runs a JS expression, awaiting it when it returns a promise, and
// decodes the result into out.
func (s *Session) Evaluate(ctx context.Context, expression string, out any) error {
	return s.run(ctx, chromedp.Evaluate(expression, out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true)
	}))
}

// FullScreenshot captures the whole page as PNG.
func (s *Session) FullScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 keeps the capture lossless PNG.
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

// WaitNetworkIdle waits for the tab's network to go quiet. Reaching max is not an error.
func (s *Session) WaitNetworkIdle(ctx context.Context, idle, max time.Duration) error {
	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return s.monitor.WaitIdle(opCtx, idle, max)
}

// close tears down the tab, then the browser process. Errors are logged, never
// returned. Safe to call more than once.
func (s *Session) close(ctx context.Context) {
	s.closeOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("Failed to close tab cleanly.", zap.Error(err))
			}
			s.cancelTab()
			// Cancelling the allocator kills the process and waits for it to exit.
			s.cancelAlloc()
		}()

		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("Browser close timed out, forcing termination.", zap.Error(ctx.Err()))
			s.cancelTab()
			s.cancelAlloc()
		}

		if s.profileDir != "" {
			if err := os.RemoveAll(s.profileDir); err != nil {
				s.logger.Warn("Failed to remove browser profile directory.", zap.String("dir", s.profileDir), zap.Error(err))
			}
		}
		s.logger.Debug("Browser session closed.")
	})
}
