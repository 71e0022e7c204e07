// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stepwright/internal/browser"
	"github.com/xkilldash9x/stepwright/internal/capture"
	"github.com/xkilldash9x/stepwright/internal/config"
	"github.com/xkilldash9x/stepwright/internal/engine"
	"github.com/xkilldash9x/stepwright/internal/store"
)

// ComponentFactory creates the set of components a command needs. Commands depend
// on the interface so tests can substitute a factory backed by fakes.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error)
}

// StoreOpener opens the configured Repository.
type StoreOpener func(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (store.Repository, error)

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	openStore StoreOpener
}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{openStore: store.Open}
}

// NewComponentFactoryWithStore creates a factory that opens its store with opener.
func NewComponentFactoryWithStore(opener StoreOpener) ComponentFactory {
	return &concreteFactory{openStore: opener}
}

// Create wires the store, browser manager, capture chain, executor and orchestrator.
// A failure part way shuts down whatever was already built.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	components := &Components{}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown(context.Background())
		}
	}()

	// 1. Store
	repo, err := f.openStore(ctx, cfg.Database, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize %s store: %w", cfg.Database.Driver, err)
		return nil, initializationErr
	}
	components.Store = repo
	logger.Debug("Store initialized.", zap.String("driver", cfg.Database.Driver))

	// 2. Browser manager; browsers launch lazily, one per execution.
	components.BrowserManager = browser.NewManager(cfg.Browser, logger)
	logger.Debug("Browser manager initialized.")

	// 3. Screenshot persistence chain.
	components.Capture = capture.NewDefaultChain(repo, cfg.Capture, logger)
	logger.Debug("Capture chain initialized.", zap.Strings("strategies", components.Capture.Strategies()))

	// 4. Step executor with the stability monitor.
	stabilizer := browser.NewStabilityMonitor(cfg.Engine.Stability, logger)
	executor, err := engine.NewStepExecutor(cfg.Engine, stabilizer, components.Capture, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create step executor: %w", err)
		return nil, initializationErr
	}
	components.Executor = executor

	// 5. Orchestrator
	launcher := engine.NewBrowserLauncher(components.BrowserManager, logger)
	orch, err := engine.NewOrchestrator(cfg.Engine, repo, launcher, executor, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create orchestrator: %w", err)
		return nil, initializationErr
	}
	components.Orchestrator = orch
	logger.Debug("Orchestrator initialized.")

	logger.Info("All components initialized successfully.")
	return components, nil
}
