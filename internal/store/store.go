package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stepwright/api/schemas"
)

//go:embed schema/postgres.sql
var postgresSchema string

// foreignKeyViolation is the Postgres SQLSTATE for a missing referenced row.
const foreignKeyViolation = "23503"

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	sqlInsertScript = `
        INSERT INTO scripts (name, description, steps, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $4)
        RETURNING id;
    `
	sqlSelectScript = `
        SELECT id, name, description, steps, created_at, updated_at
        FROM scripts
        WHERE id = $1;
    `
	sqlListScripts = `
        SELECT id, name, description, steps, created_at, updated_at
        FROM scripts
        ORDER BY updated_at DESC, id DESC;
    `
	sqlUpdateScript = `
        UPDATE scripts SET
            name = COALESCE($2, name),
            description = COALESCE($3, description),
            steps = COALESCE($4, steps),
            updated_at = $5
        WHERE id = $1
        RETURNING id, name, description, steps, created_at, updated_at;
    `
	sqlDeleteScript = `DELETE FROM scripts WHERE id = $1;`

	sqlInsertExecution = `
        INSERT INTO executions (script_id, status, started_at)
        VALUES ($1, $2, $3)
        RETURNING id;
    `
	sqlCompleteExecution = `
        UPDATE executions
        SET status = $2, result = $3, error_message = $4, completed_at = $5
        WHERE id = $1 AND status = 'running';
    `
	sqlExecutionExists = `SELECT EXISTS(SELECT 1 FROM executions WHERE id = $1);`
	sqlSelectExecution = `
        SELECT id, script_id, status, result, error_message, started_at, completed_at
        FROM executions
        WHERE id = $1;
    `
	sqlListExecutions = `
        SELECT id, script_id, status, result, error_message, started_at, completed_at
        FROM executions
        ORDER BY started_at DESC, id DESC
        LIMIT $1;
    `
	sqlListExecutionsByScript = `
        SELECT id, script_id, status, result, error_message, started_at, completed_at
        FROM executions
        WHERE script_id = $1
        ORDER BY started_at DESC, id DESC
        LIMIT $2;
    `
	sqlClearExecutions         = `DELETE FROM executions;`
	sqlClearExecutionsByScript = `DELETE FROM executions WHERE script_id = $1;`

	sqlInsertScreenshot = `
        INSERT INTO screenshots (execution_id, step_number, filename, content_type, data, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id;
    `
	sqlSelectScreenshot = `
        SELECT id, execution_id, step_number, filename, content_type, data, created_at
        FROM screenshots
        WHERE id = $1;
    `
	sqlListScreenshots = `
        SELECT id, execution_id, step_number, filename, created_at
        FROM screenshots
        WHERE execution_id = $1
        ORDER BY step_number ASC, created_at ASC, id ASC;
    `
	sqlListAllScreenshots = `
        SELECT s.id, s.execution_id, e.script_id, sc.name, s.step_number, s.filename, s.created_at
        FROM screenshots s
        JOIN executions e ON e.id = s.execution_id
        JOIN scripts sc ON sc.id = e.script_id
        ORDER BY s.created_at DESC, s.id DESC
        LIMIT $1 OFFSET $2;
    `
	sqlCountScreenshots = `SELECT COUNT(*) FROM screenshots;`
)

// Store provides a PostgreSQL implementation of the Repository interface.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

var _ Repository = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Migrate applies the embedded schema inside a single transaction.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// -- Scripts --

func (s *Store) CreateScript(ctx context.Context, script *schemas.Script) (*schemas.Script, error) {
	steps, err := encodeSteps(script.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode steps: %w", err)
	}
	now := s.now()

	var id int64
	if err := s.pool.QueryRow(ctx, sqlInsertScript, script.Name, script.Description, steps, now).Scan(&id); err != nil {
		return nil, fmt.Errorf("failed to insert script: %w", err)
	}

	created := *script
	created.ID = id
	created.Steps = decodeSteps(steps, id, s.log)
	created.CreatedAt, created.UpdatedAt = now, now
	return &created, nil
}

func (s *Store) GetScript(ctx context.Context, id int64) (*schemas.Script, error) {
	script, err := s.scanScript(s.pool.QueryRow(ctx, sqlSelectScript, id))
	if err != nil {
		return nil, wrapNoRows(err, "script", id)
	}
	return script, nil
}

func (s *Store) ListScripts(ctx context.Context) ([]schemas.Script, error) {
	rows, err := s.pool.Query(ctx, sqlListScripts)
	if err != nil {
		return nil, fmt.Errorf("failed to query scripts: %w", err)
	}
	defer rows.Close()

	scripts := []schemas.Script{}
	for rows.Next() {
		script, err := s.scanScript(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan script row: %w", err)
		}
		scripts = append(scripts, *script)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return scripts, nil
}

func (s *Store) UpdateScript(ctx context.Context, id int64, update schemas.ScriptUpdate) (*schemas.Script, error) {
	// A nil parameter keeps the stored column through COALESCE.
	var steps any
	if update.Steps != nil {
		encoded, err := encodeSteps(*update.Steps)
		if err != nil {
			return nil, fmt.Errorf("failed to encode steps: %w", err)
		}
		steps = encoded
	}

	script, err := s.scanScript(s.pool.QueryRow(ctx, sqlUpdateScript, id, update.Name, update.Description, steps, s.now()))
	if err != nil {
		return nil, wrapNoRows(err, "script", id)
	}
	return script, nil
}

func (s *Store) DeleteScript(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, sqlDeleteScript, id)
	if err != nil {
		return fmt.Errorf("failed to delete script %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("script %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) scanScript(row pgx.Row) (*schemas.Script, error) {
	var (
		script schemas.Script
		steps  []byte
	)
	if err := row.Scan(&script.ID, &script.Name, &script.Description, &steps, &script.CreatedAt, &script.UpdatedAt); err != nil {
		return nil, err
	}
	script.Steps = decodeSteps(steps, script.ID, s.log)
	return &script, nil
}

// -- Executions --

func (s *Store) CreateExecution(ctx context.Context, scriptID int64) (*schemas.Execution, error) {
	now := s.now()
	var id int64
	err := s.pool.QueryRow(ctx, sqlInsertExecution, scriptID, string(schemas.StatusRunning), now).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("script %d: %w", scriptID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to insert execution: %w", err)
	}
	return &schemas.Execution{ID: id, ScriptID: scriptID, Status: schemas.StatusRunning, StartedAt: now}, nil
}

func (s *Store) CompleteExecution(ctx context.Context, id int64, status schemas.ExecutionStatus, result *schemas.ExecutionResult, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("cannot complete execution %d with non-terminal status %q", id, status)
	}
	encoded, err := encodeResult(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	tag, err := s.pool.Exec(ctx, sqlCompleteExecution, id, string(status), encoded, errMsg, s.now())
	if err != nil {
		return fmt.Errorf("failed to complete execution %d: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: either already terminal, or missing.
	var exists bool
	if err := s.pool.QueryRow(ctx, sqlExecutionExists, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check execution %d: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("execution %d: %w", id, ErrNotFound)
	}
	s.log.Debug("Execution already terminal; completion ignored.", zap.Int64("execution_id", id))
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id int64) (*schemas.Execution, error) {
	exec, err := scanExecution(s.pool.QueryRow(ctx, sqlSelectExecution, id))
	if err != nil {
		return nil, wrapNoRows(err, "execution", id)
	}
	return exec, nil
}

func (s *Store) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]schemas.Execution, error) {
	limit := limitOrDefault(filter.Limit)

	var (
		rows pgx.Rows
		err  error
	)
	if filter.ScriptID != nil {
		rows, err = s.pool.Query(ctx, sqlListExecutionsByScript, *filter.ScriptID, limit)
	} else {
		rows, err = s.pool.Query(ctx, sqlListExecutions, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	executions := []schemas.Execution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		executions = append(executions, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return executions, nil
}

func (s *Store) ClearExecutions(ctx context.Context, scriptID *int64) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if scriptID != nil {
		tag, err = s.pool.Exec(ctx, sqlClearExecutionsByScript, *scriptID)
	} else {
		tag, err = s.pool.Exec(ctx, sqlClearExecutions)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to clear executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanExecution(row pgx.Row) (*schemas.Execution, error) {
	var (
		exec   schemas.Execution
		status string
		result []byte
	)
	if err := row.Scan(&exec.ID, &exec.ScriptID, &status, &result, &exec.ErrorMessage, &exec.StartedAt, &exec.CompletedAt); err != nil {
		return nil, err
	}
	exec.Status = schemas.ExecutionStatus(status)
	decoded, err := decodeResult(result)
	if err != nil {
		return nil, fmt.Errorf("failed to decode result of execution %d: %w", exec.ID, err)
	}
	exec.Result = decoded
	return &exec, nil
}

// -- Screenshots --

func (s *Store) CreateScreenshot(ctx context.Context, shot *schemas.Screenshot) (int64, error) {
	created := shot.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	var id int64
	err := s.pool.QueryRow(ctx, sqlInsertScreenshot,
		shot.ExecutionID, shot.StepNumber, shot.Filename, contentTypeOrDefault(shot.ContentType), shot.Data, created.UTC(),
	).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("execution %d: %w", shot.ExecutionID, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to insert screenshot: %w", err)
	}
	return id, nil
}

func (s *Store) GetScreenshot(ctx context.Context, id int64) (*schemas.Screenshot, error) {
	var shot schemas.Screenshot
	err := s.pool.QueryRow(ctx, sqlSelectScreenshot, id).Scan(
		&shot.ID, &shot.ExecutionID, &shot.StepNumber, &shot.Filename, &shot.ContentType, &shot.Data, &shot.CreatedAt,
	)
	if err != nil {
		return nil, wrapNoRows(err, "screenshot", id)
	}
	return &shot, nil
}

func (s *Store) ListScreenshots(ctx context.Context, executionID int64) ([]schemas.ScreenshotRef, error) {
	rows, err := s.pool.Query(ctx, sqlListScreenshots, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query screenshots: %w", err)
	}
	defer rows.Close()

	refs := []schemas.ScreenshotRef{}
	for rows.Next() {
		var ref schemas.ScreenshotRef
		if err := rows.Scan(&ref.ID, &ref.ExecutionID, &ref.StepNumber, &ref.Filename, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan screenshot row: %w", err)
		}
		ref.URL = screenshotURL(ref.ID)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return refs, nil
}

func (s *Store) ListAllScreenshots(ctx context.Context, page Page) ([]schemas.ScreenshotRef, int, error) {
	page = page.normalized()

	var total int
	if err := s.pool.QueryRow(ctx, sqlCountScreenshots).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count screenshots: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlListAllScreenshots, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query screenshots: %w", err)
	}
	defer rows.Close()

	refs := []schemas.ScreenshotRef{}
	for rows.Next() {
		var ref schemas.ScreenshotRef
		if err := rows.Scan(&ref.ID, &ref.ExecutionID, &ref.ScriptID, &ref.ScriptName, &ref.StepNumber, &ref.Filename, &ref.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan screenshot row: %w", err)
		}
		ref.URL = screenshotURL(ref.ID)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error during row iteration: %w", err)
	}
	return refs, total, nil
}

func wrapNoRows(err error, kind string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %d: %w", kind, id, err)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

func contentTypeOrDefault(ct string) string {
	if ct == "" {
		return "image/png"
	}
	return ct
}
