// internal/engine/executor.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stepwright/api/schemas"
	"github.com/xkilldash9x/stepwright/internal/capture"
	"github.com/xkilldash9x/stepwright/internal/config"
	"github.com/xkilldash9x/stepwright/internal/observability"
)

// Screenshot filename prefixes.
const (
	kindAuto   = "step"
	kindError  = "error_step"
	kindManual = "screenshot_step"
)

// stepRun is everything a handler needs for one step.
type stepRun struct {
	number      int
	executionID int64
	step        schemas.AutomationStep
	page        Page
	rec         *runRecorder
	result      *schemas.StepResult
}

type stepHandler func(ctx context.Context, run *stepRun) error

// StepExecutor performs single steps against a page.
type StepExecutor struct {
	cfg        config.EngineConfig
	stabilizer Stabilizer
	capturer   Capturer
	logger     *zap.Logger
	now        func() time.Time
}

// NewStepExecutor creates an executor. All dependencies are required.
func NewStepExecutor(cfg config.EngineConfig, stabilizer Stabilizer, capturer Capturer, logger *zap.Logger) (*StepExecutor, error) {
	if stabilizer == nil {
		return nil, errors.New("stabilizer cannot be nil")
	}
	if capturer == nil {
		return nil, errors.New("capturer cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &StepExecutor{
		cfg:        cfg,
		stabilizer: stabilizer,
		capturer:   capturer,
		logger:     logger.With(zap.String("component", "step_executor")),
		now:        time.Now,
	}, nil
}

// handlerFor selects the handler for an action. Unknown actions get a no-op.
func (e *StepExecutor) handlerFor(action schemas.Action) stepHandler {
	switch action {
	case schemas.ActionNavigate:
		return e.navigate
	case schemas.ActionClick:
		return e.click
	case schemas.ActionType:
		return e.typeText
	case schemas.ActionWait:
		return e.wait
	case schemas.ActionScreenshot:
		return e.screenshot
	case schemas.ActionExtractText:
		return e.extractText
	case schemas.ActionExtractAttribute:
		return e.extractAttribute
	case schemas.ActionScroll:
		return e.scroll
	case schemas.ActionSelectDropdown:
		return e.selectDropdown
	default:
		return e.unknown
	}
}

// newStepRun prepares the result for step number (1-based) of an execution.
func newStepRun(executionID int64, number int, step schemas.AutomationStep, page Page, rec *runRecorder) *stepRun {
	return &stepRun{
		number:      number,
		executionID: executionID,
		step:        step,
		page:        page,
		rec:         rec,
		result: &schemas.StepResult{
			StepID:      step.ID,
			Action:      step.Action,
			Description: step.Description,
			Success:     true,
		},
	}
}

// Execute runs a single step outside of an execution and returns its result with
// the log lines, screenshots and extracted data it produced.
func (e *StepExecutor) Execute(ctx context.Context, step schemas.AutomationStep, page Page) (schemas.StepResult, *schemas.ExecutionResult) {
	rec := newRunRecorder(e.logger)
	run := newStepRun(0, 1, step, page, rec)
	e.execute(ctx, run)
	rec.appendStep(*run.result)
	return *run.result, rec.snapshot()
}

// execute runs one step and fills in its result. Handler errors and panics become
// a failed result; they never escape.
func (e *StepExecutor) execute(ctx context.Context, run *stepRun) {
	step := run.step
	desc := step.Description
	if desc == "" {
		desc = "No description"
	}
	run.rec.logf("Executing step: %s - %s", step.Action, desc)

	start := e.now()
	if err := e.invoke(ctx, run); err != nil {
		stepErr := &StepError{StepID: step.ID, Action: step.Action, Err: err}
		run.result.Success = false
		run.result.Error = stepErr.Error()
		run.rec.logf("Step %d failed: %v", run.number, err)

		// A failed manual capture is replaced by an error capture; other actions get
		// theirs from the post-step capture.
		if step.Action == schemas.ActionScreenshot {
			e.captureAfterStep(ctx, run)
		}
	}
	observability.RecordStep(string(step.Action), run.result.Success, e.now().Sub(start))
	run.result.Timestamp = e.now().UTC().Format(time.RFC3339)
}

func (e *StepExecutor) invoke(ctx context.Context, run *stepRun) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovered from panic in step handler.",
				zap.String("step_id", run.step.ID), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.handlerFor(run.step.Action)(ctx, run)
}

// captureAfterStep settles the page and records one screenshot for the step,
// tagged as an error capture when the step failed. Capture problems are logged on
// the run and never change the step outcome.
func (e *StepExecutor) captureAfterStep(ctx context.Context, run *stepRun) {
	kind := kindAuto
	if !run.result.Success {
		kind = kindError
	}
	if err := e.capture(ctx, run, kind); err != nil {
		run.rec.logf("Screenshot for step %d not captured: %v", run.number, err)
	}
}

// capture settles, grabs a full-page image and records the persisted reference on
// both the run and the step.
func (e *StepExecutor) capture(ctx context.Context, run *stepRun, kind string) error {
	page := run.page
	e.stabilizer.Settle(ctx, page)

	captureCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeouts.Navigation)
	defer cancel()
	data, err := page.FullScreenshot(captureCtx)
	if err != nil {
		return classify(captureCtx, err, "full-page capture", e.cfg.Timeouts.Navigation)
	}

	ref, err := e.capturer.Persist(ctx, capture.Shot{
		ExecutionID: run.executionID,
		StepNumber:  run.number,
		Filename:    capture.Filename(kind, run.number, e.now()),
		ContentType: capture.ContentTypePNG,
		Data:        data,
	})
	if err != nil {
		return err
	}

	run.rec.addScreenshot(ref.URL)
	run.result.Screenshot = ref.URL
	run.result.ScreenshotID = ref.ScreenshotID
	return nil
}

// classify turns a failed bounded operation into a timeout error when its own
// deadline expired, and wraps it otherwise.
func classify(opCtx context.Context, err error, what string, bound time.Duration) error {
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", ErrTimeout, what, bound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// waitFor bounds a selector wait plus the follow-up action with the selector timeout.
func (e *StepExecutor) waitFor(ctx context.Context, run *stepRun, act func(ctx context.Context) error) error {
	step := run.step
	bound := e.cfg.Timeouts.Selector
	opCtx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	if err := run.page.WaitReady(opCtx, step.Selector, step.SelectorType); err != nil {
		return classify(opCtx, err, fmt.Sprintf("waiting for selector %q", step.Selector), bound)
	}
	if act == nil {
		return nil
	}
	if err := act(opCtx); err != nil {
		return classify(opCtx, err, fmt.Sprintf("%s on %q", step.Action, step.Selector), bound)
	}
	return nil
}

func (e *StepExecutor) navigate(ctx context.Context, run *stepRun) error {
	step := run.step
	if step.Value == "" {
		return missingField(step.Action, "value (URL)")
	}
	run.rec.logf("Navigating to: %s", step.Value)

	bound := e.cfg.Timeouts.Navigation
	opCtx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()
	if err := run.page.Navigate(opCtx, step.Value); err != nil {
		return classify(opCtx, err, fmt.Sprintf("navigation to %s", step.Value), bound)
	}

	// Mostly idle is enough; the safety bound keeps long-polling pages moving.
	s := e.cfg.Stability
	if err := run.page.WaitNetworkIdle(ctx, s.NetworkIdle, s.NetworkMax); err != nil {
		e.logger.Debug("Network idle wait after navigation ended early.", zap.Error(err))
	}
	return nil
}

func (e *StepExecutor) click(ctx context.Context, run *stepRun) error {
	step := run.step
	if step.Selector == "" {
		return missingField(step.Action, "selector")
	}
	run.rec.logf("Clicking element: %s", step.Selector)
	return e.waitFor(ctx, run, func(opCtx context.Context) error {
		return run.page.Click(opCtx, step.Selector, step.SelectorType)
	})
}

func (e *StepExecutor) typeText(ctx context.Context, run *stepRun) error {
	step := run.step
	if step.Selector == "" {
		return missingField(step.Action, "selector")
	}
	if step.Value == "" {
		return missingField(step.Action, "value")
	}
	run.rec.logf("Typing %q into element: %s", step.Value, step.Selector)
	return e.waitFor(ctx, run, func(opCtx context.Context) error {
		return run.page.Type(opCtx, step.Selector, step.SelectorType, step.Value)
	})
}

func (e *StepExecutor) wait(ctx context.Context, run *stepRun) error {
	d := e.cfg.Wait.Default
	if w := run.step.WaitTime; w != nil && *w > 0 {
		d = time.Duration(*w) * time.Millisecond
	}
	run.rec.logf("Waiting for %dms", d.Milliseconds())

	if err := sleepCtx(ctx, d); err != nil {
		return err
	}
	// The page may never settle; that is reported but does not fail the wait.
	if err := e.stabilizer.CheckReady(ctx, run.page, e.cfg.Wait.Extra); err != nil {
		run.rec.logf("Page not fully settled after wait: %v", err)
	}
	return nil
}

func (e *StepExecutor) screenshot(ctx context.Context, run *stepRun) error {
	run.rec.logf("Taking screenshot")
	return e.capture(ctx, run, kindManual)
}

func (e *StepExecutor) extractText(ctx context.Context, run *stepRun) error {
	step := run.step
	if step.Selector == "" {
		return missingField(step.Action, "selector")
	}
	run.rec.logf("Extracting text from: %s", step.Selector)

	var text string
	err := e.waitFor(ctx, run, func(opCtx context.Context) error {
		var err error
		text, err = run.page.Text(opCtx, step.Selector, step.SelectorType)
		return err
	})
	if err != nil {
		return err
	}
	run.rec.extract(step.ID, text)
	run.result.ExtractedData = text
	return nil
}

func (e *StepExecutor) extractAttribute(ctx context.Context, run *stepRun) error {
	step := run.step
	if step.Selector == "" {
		return missingField(step.Action, "selector")
	}
	if step.Value == "" {
		return missingField(step.Action, "value (attribute name)")
	}
	run.rec.logf("Extracting attribute %q from: %s", step.Value, step.Selector)

	var (
		value string
		ok    bool
	)
	err := e.waitFor(ctx, run, func(opCtx context.Context) error {
		var err error
		value, ok, err = run.page.Attribute(opCtx, step.Selector, step.SelectorType, step.Value)
		return err
	})
	if err != nil {
		return err
	}

	// A missing attribute is recorded as null, like getAttribute.
	var extracted any
	if ok {
		extracted = value
	} else {
		run.rec.logf("Attribute %q not present on %s", step.Value, step.Selector)
	}
	run.rec.extract(step.ID, extracted)
	run.result.ExtractedData = extracted
	return nil
}

func (e *StepExecutor) scroll(ctx context.Context, run *stepRun) error {
	run.rec.logf("Scrolling page")
	if err := run.page.ScrollByViewport(ctx); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return sleepCtx(ctx, e.cfg.Stability.ScrollSettle)
}

func (e *StepExecutor) selectDropdown(ctx context.Context, run *stepRun) error {
	step := run.step
	if step.Selector == "" {
		return missingField(step.Action, "selector")
	}
	if step.Value == "" {
		return missingField(step.Action, "value")
	}
	run.rec.logf("Selecting %q from dropdown: %s", step.Value, step.Selector)
	return e.waitFor(ctx, run, func(opCtx context.Context) error {
		return run.page.Select(opCtx, step.Selector, step.SelectorType, step.Value)
	})
}

func (e *StepExecutor) unknown(_ context.Context, run *stepRun) error {
	run.rec.logf("Unknown action %q, skipping", run.step.Action)
	return nil
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
