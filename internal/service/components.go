// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stepwright/internal/browser"
	"github.com/xkilldash9x/stepwright/internal/capture"
	"github.com/xkilldash9x/stepwright/internal/engine"
	"github.com/xkilldash9x/stepwright/internal/observability"
	"github.com/xkilldash9x/stepwright/internal/store"
)

const defaultShutdownTimeout = 30 * time.Second

// Components holds everything needed to run scripts.
// It centralizes the lifecycle of those dependencies.
type Components struct {
	Store          store.Repository
	BrowserManager *browser.Manager
	Capture        *capture.Chain
	Executor       *engine.StepExecutor
	Orchestrator   *engine.Orchestrator
}

// Shutdown releases components in dependency order: running executions first, then
// browsers, then the store they write to. It is safe on a partially built value.
func (c *Components) Shutdown(ctx context.Context) {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	if ctx == nil || ctx.Err() != nil {
		// The caller's context is often already canceled by the signal that
		// triggered shutdown.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
	}

	if c.Orchestrator != nil {
		if err := c.Orchestrator.Shutdown(ctx); err != nil {
			logger.Warn("Orchestrator did not drain before the deadline.", zap.Error(err))
		} else {
			logger.Debug("Orchestrator stopped.")
		}
	}

	if c.BrowserManager != nil {
		if err := c.BrowserManager.Shutdown(ctx); err != nil {
			logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser manager shut down.")
		}
	}

	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			logger.Warn("Error closing store.", zap.Error(err))
		} else {
			logger.Debug("Store closed.")
		}
	}

	logger.Info("All components shut down successfully.")
}
