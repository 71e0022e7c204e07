package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepwright/api/schemas"
	"github.com/xkilldash9x/stepwright/internal/config"
)

// ErrNotFound is returned when a script, execution or screenshot does not exist.
var ErrNotFound = errors.New("not found")

// DefaultListLimit caps list queries that do not ask for a limit.
const DefaultListLimit = 50

// ExecutionFilter narrows ListExecutions. A nil ScriptID lists every script.
type ExecutionFilter struct {
	ScriptID *int64
	Limit    int
}

// Page selects a window of a paged listing.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalized() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultListLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// Repository is the persistence surface shared by every backend.
type Repository interface {
	CreateScript(ctx context.Context, script *schemas.Script) (*schemas.Script, error)
	GetScript(ctx context.Context, id int64) (*schemas.Script, error)
	ListScripts(ctx context.Context) ([]schemas.Script, error)
	UpdateScript(ctx context.Context, id int64, update schemas.ScriptUpdate) (*schemas.Script, error)
	DeleteScript(ctx context.Context, id int64) error

	CreateExecution(ctx context.Context, scriptID int64) (*schemas.Execution, error)
	// CompleteExecution moves a running execution to a terminal status. Calls on an
	// execution that is already terminal are ignored.
	CompleteExecution(ctx context.Context, id int64, status schemas.ExecutionStatus, result *schemas.ExecutionResult, errMsg string) error
	GetExecution(ctx context.Context, id int64) (*schemas.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]schemas.Execution, error)
	// ClearExecutions deletes the executions of one script, or all of them when
	// scriptID is nil, along with their screenshots. It returns how many were deleted.
	ClearExecutions(ctx context.Context, scriptID *int64) (int64, error)

	CreateScreenshot(ctx context.Context, shot *schemas.Screenshot) (int64, error)
	GetScreenshot(ctx context.Context, id int64) (*schemas.Screenshot, error)
	ListScreenshots(ctx context.Context, executionID int64) ([]schemas.ScreenshotRef, error)
	ListAllScreenshots(ctx context.Context, page Page) ([]schemas.ScreenshotRef, int, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the backend selected by cfg.Driver and applies its schema.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Repository, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		s, err := New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	case config.DriverSQLite:
		return NewSQLite(ctx, cfg.SQLitePath, logger)
	case config.DriverMemory:
		return NewMemory(ctx, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func screenshotURL(id int64) string {
	return fmt.Sprintf("%s%d", schemas.ScreenshotURLPrefix, id)
}
