// internal/engine/interfaces.go
package engine

import (
	"context"
	"time"

	"github.com/xkilldash9x/stepwright/api/schemas"
	"github.com/xkilldash9x/stepwright/internal/browser"
	"github.com/xkilldash9x/stepwright/internal/capture"
)

// Page is the browser capability steps are executed against.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitReady(ctx context.Context, selector string, st schemas.SelectorType) error
	Click(ctx context.Context, selector string, st schemas.SelectorType) error
	Type(ctx context.Context, selector string, st schemas.SelectorType, value string) error
	Text(ctx context.Context, selector string, st schemas.SelectorType) (string, error)
	Attribute(ctx context.Context, selector string, st schemas.SelectorType, name string) (string, bool, error)
	Select(ctx context.Context, selector string, st schemas.SelectorType, value string) error
	ScrollByViewport(ctx context.Context) error
	Evaluate(ctx context.Context, expression string, out any) error
	FullScreenshot(ctx context.Context) ([]byte, error)
	WaitNetworkIdle(ctx context.Context, idle, max time.Duration) error
}

// Launcher hands out one exclusive Page per execution.
type Launcher interface {
	Acquire(ctx context.Context) (Page, error)
	// Release must never fail the run; implementations log cleanup errors.
	Release(ctx context.Context, page Page)
}

// Stabilizer decides when a page is settled enough to act on or capture.
type Stabilizer interface {
	Settle(ctx context.Context, target browser.StabilityTarget)
	CheckReady(ctx context.Context, target browser.StabilityTarget, limit time.Duration) error
}

// Capturer persists screenshot bytes and returns a reference to them.
type Capturer interface {
	Persist(ctx context.Context, shot capture.Shot) (capture.Ref, error)
}

// Store is the slice of the data store the orchestrator reads and writes.
type Store interface {
	GetScript(ctx context.Context, id int64) (*schemas.Script, error)
	CreateExecution(ctx context.Context, scriptID int64) (*schemas.Execution, error)
	CompleteExecution(ctx context.Context, id int64, status schemas.ExecutionStatus, result *schemas.ExecutionResult, errMsg string) error
	GetExecution(ctx context.Context, id int64) (*schemas.Execution, error)
	ListScreenshots(ctx context.Context, executionID int64) ([]schemas.ScreenshotRef, error)
}

var (
	_ Page       = (*browser.Session)(nil)
	_ Stabilizer = (*browser.StabilityMonitor)(nil)
	_ Capturer   = (*capture.Chain)(nil)
)
