// internal/engine/launcher.go
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stepwright/internal/browser"
)

// browserLauncher adapts the chromedp browser manager to Launcher.
type browserLauncher struct {
	manager *browser.Manager
	logger  *zap.Logger
}

// NewBrowserLauncher returns a Launcher backed by real headless browsers.
func NewBrowserLauncher(manager *browser.Manager, logger *zap.Logger) Launcher {
	return &browserLauncher{manager: manager, logger: logger}
}

func (l *browserLauncher) Acquire(ctx context.Context) (Page, error) {
	s, err := l.manager.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (l *browserLauncher) Release(ctx context.Context, page Page) {
	s, ok := page.(*browser.Session)
	if !ok {
		l.logger.Warn("Release called with a page the browser manager does not own.")
		return
	}
	l.manager.Release(ctx, s)
}
