// internal/engine/orchestrator.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/stepwright/api/schemas"
	"github.com/xkilldash9x/stepwright/internal/browser"
	"github.com/xkilldash9x/stepwright/internal/config"
	"github.com/xkilldash9x/stepwright/internal/observability"
)

const defaultPersistTimeout = 30 * time.Second

// task is the handle of one background execution.
type task struct {
	done chan struct{}
}

// Orchestrator runs scripts as background executions and is the only writer of
// their terminal state.
type Orchestrator struct {
	cfg      config.EngineConfig
	store    Store
	launcher Launcher
	executor *StepExecutor
	logger   *zap.Logger

	// rootCtx outlives callers' request contexts; Shutdown cancels it.
	rootCtx    context.Context
	cancelRoot context.CancelFunc
	group      errgroup.Group

	mu     sync.Mutex
	tasks  map[int64]*task
	closed bool
}

// NewOrchestrator wires the orchestrator. All dependencies are required.
func NewOrchestrator(cfg config.EngineConfig, store Store, launcher Launcher, executor *StepExecutor, logger *zap.Logger) (*Orchestrator, error) {
	if store == nil || launcher == nil || executor == nil || logger == nil {
		return nil, errors.New("cannot initialize orchestrator with nil dependencies")
	}
	rootCtx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		launcher:   launcher,
		executor:   executor,
		logger:     logger.With(zap.String("component", "orchestrator")),
		rootCtx:    rootCtx,
		cancelRoot: cancel,
		tasks:      make(map[int64]*task),
	}, nil
}

// StartExecution snapshots the script's steps, records a running execution and
// starts it in the background. It returns without waiting for the run.
func (o *Orchestrator) StartExecution(ctx context.Context, scriptID int64) (*schemas.StartResponse, error) {
	if o.isClosed() {
		return nil, ErrShuttingDown
	}

	script, err := o.store.GetScript(ctx, scriptID)
	if err != nil {
		return nil, fmt.Errorf("failed to load script %d: %w", scriptID, err)
	}
	steps := make([]schemas.AutomationStep, len(script.Steps))
	copy(steps, script.Steps)

	exec, err := o.store.CreateExecution(ctx, scriptID)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution for script %d: %w", scriptID, err)
	}

	t := &task{done: make(chan struct{})}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		// Lost the race with Shutdown; the row must not stay running.
		o.persist(exec.ID, schemas.StatusFailed, schemas.NewExecutionResult(), ErrShuttingDown.Error())
		return nil, ErrShuttingDown
	}
	o.tasks[exec.ID] = t
	o.group.Go(func() error {
		defer o.forget(exec.ID, t)
		o.run(o.rootCtx, exec.ID, steps)
		return nil
	})
	o.mu.Unlock()

	observability.RecordExecutionStarted()
	o.logger.Info("Execution started.",
		zap.Int64("execution_id", exec.ID), zap.Int64("script_id", scriptID), zap.Int("steps", len(steps)))

	return &schemas.StartResponse{ExecutionID: exec.ID, Status: schemas.StatusRunning}, nil
}

// GetExecution returns the stored execution. Once terminal it no longer changes.
func (o *Orchestrator) GetExecution(ctx context.Context, id int64) (*schemas.Execution, error) {
	return o.store.GetExecution(ctx, id)
}

// ListScreenshots returns the stored screenshot references of an execution.
func (o *Orchestrator) ListScreenshots(ctx context.Context, executionID int64) ([]schemas.ScreenshotRef, error) {
	return o.store.ListScreenshots(ctx, executionID)
}

// Wait blocks until the execution's background task has finished, then returns the
// stored execution. Executions not tracked by this orchestrator are read directly.
func (o *Orchestrator) Wait(ctx context.Context, id int64) (*schemas.Execution, error) {
	o.mu.Lock()
	t, ok := o.tasks[id]
	o.mu.Unlock()

	if ok {
		select {
		case <-t.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.store.GetExecution(ctx, id)
}

// Running returns the number of executions still in flight.
func (o *Orchestrator) Running() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tasks)
}

// Shutdown stops accepting executions, cancels the running ones between steps and
// waits for them to record their terminal state, bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancelRoot()

	done := make(chan struct{})
	go func() {
		_ = o.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("All executions finished.")
		return nil
	case <-ctx.Done():
		o.logger.Warn("Shutdown deadline exceeded with executions still running.", zap.Int("running", o.Running()))
		return ctx.Err()
	}
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Orchestrator) forget(id int64, t *task) {
	o.mu.Lock()
	delete(o.tasks, id)
	o.mu.Unlock()
	close(t.done)
}

// run executes the steps and records the terminal state exactly once.
func (o *Orchestrator) run(ctx context.Context, executionID int64, steps []schemas.AutomationStep) {
	logger := o.logger.With(zap.Int64("execution_id", executionID))
	rec := newRunRecorder(logger)

	status, errMsg := schemas.StatusCompleted, ""
	if err := o.runSteps(ctx, executionID, steps, rec); err != nil {
		status, errMsg = schemas.StatusFailed, err.Error()
		rec.fail(err)
		logger.Error("Execution failed.", zap.Error(err))
	}

	result := rec.snapshot()
	o.persist(executionID, status, result, errMsg)
	logger.Info("Execution finished.",
		zap.String("status", string(status)),
		zap.Bool("success", result.Success),
		zap.Int("steps_attempted", len(result.StepResults)),
		zap.Int("screenshots", len(result.Screenshots)))
}

// runSteps owns the browser session for the run. A returned error is a
// session-level failure; step failures are only recorded.
func (o *Orchestrator) runSteps(ctx context.Context, executionID int64, steps []schemas.AutomationStep, rec *runRecorder) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Recovered from panic during execution.",
				zap.Int64("execution_id", executionID), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("unexpected error: %v", r)
		}
	}()

	page, err := o.launcher.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire browser session: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(browser.Detach(ctx), o.persistTimeout())
		defer cancel()
		o.launcher.Release(releaseCtx, page)
	}()

	for i, step := range steps {
		number := i + 1
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("execution interrupted before step %d: %w", number, err)
		}

		run := newStepRun(executionID, number, step, page, rec)
		o.executor.execute(ctx, run)
		if step.Action != schemas.ActionScreenshot {
			o.executor.captureAfterStep(ctx, run)
		}
		rec.appendStep(*run.result)

		if number < len(steps) {
			if err := sleepCtx(ctx, o.cfg.StepDelay); err != nil {
				return fmt.Errorf("execution interrupted after step %d: %w", number, err)
			}
		}
	}
	return nil
}

// persist writes the terminal state on a fresh context so shutdown cannot lose it.
func (o *Orchestrator) persist(executionID int64, status schemas.ExecutionStatus, result *schemas.ExecutionResult, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.persistTimeout())
	defer cancel()

	if err := o.store.CompleteExecution(ctx, executionID, status, result, errMsg); err != nil {
		o.logger.Error("Failed to persist execution result.",
			zap.Int64("execution_id", executionID), zap.String("status", string(status)), zap.Error(err))
		return
	}
	observability.RecordExecutionFinished(string(status))
}

func (o *Orchestrator) persistTimeout() time.Duration {
	if o.cfg.PersistTimeout > 0 {
		return o.cfg.PersistTimeout
	}
	return defaultPersistTimeout
}
