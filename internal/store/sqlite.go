package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xkilldash9x/stepwright/api/schemas"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// Pragmas go in the DSN so every pooled connection gets them.
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// SQLiteStore is the Repository used by the CLI by default, backed either by a
// local file or by a private in-memory database. Timestamps are stored as unix
// milliseconds.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite opens (creating if needed) the database at path and applies the schema.
func NewSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?" + sqlitePragmas + "&_pragma=journal_mode(WAL)"
	return openSQLite(ctx, dsn, 4, logger.Named("sqlite_store"))
}

// NewMemory opens a private in-memory database with the same schema as the file
// store. It lives on a single connection and is gone once closed.
func NewMemory(ctx context.Context, logger *zap.Logger) (*SQLiteStore, error) {
	return openSQLite(ctx, "file::memory:?"+sqlitePragmas, 1, logger.Named("memory_store"))
}

func openSQLite(ctx context.Context, dsn string, maxConns int, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{
		db:  db,
		log: logger,
		now: func() time.Time { return time.Now().UTC() },
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded schema. It is idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// -- Scripts --

func (s *SQLiteStore) CreateScript(ctx context.Context, script *schemas.Script) (*schemas.Script, error) {
	steps, err := encodeSteps(script.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode steps: %w", err)
	}
	now := s.now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scripts (name, description, steps, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		script.Name, script.Description, string(steps), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to insert script: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read script id: %w", err)
	}

	created := *script
	created.ID = id
	created.Steps = decodeSteps(steps, id, s.log)
	created.CreatedAt = fromMillis(now.UnixMilli())
	created.UpdatedAt = created.CreatedAt
	return &created, nil
}

const sqliteScriptColumns = `id, name, description, steps, created_at, updated_at`

func (s *SQLiteStore) GetScript(ctx context.Context, id int64) (*schemas.Script, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteScriptColumns+` FROM scripts WHERE id = ?`, id)
	script, err := s.scanScript(row)
	if err != nil {
		return nil, sqlNoRows(err, "script", id)
	}
	return script, nil
}

func (s *SQLiteStore) ListScripts(ctx context.Context) ([]schemas.Script, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteScriptColumns+` FROM scripts ORDER BY updated_at DESC, id DESC`)
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

func (s *SQLiteStore) UpdateScript(ctx context.Context, id int64, update schemas.ScriptUpdate) (*schemas.Script, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	current, err := s.scanScript(tx.QueryRowContext(ctx, `SELECT `+sqliteScriptColumns+` FROM scripts WHERE id = ?`, id))
	if err != nil {
		return nil, sqlNoRows(err, "script", id)
	}

	if update.Name != nil {
		current.Name = *update.Name
	}
	if update.Description != nil {
		current.Description = *update.Description
	}
	if update.Steps != nil {
		current.Steps = *update.Steps
	}
	steps, err := encodeSteps(current.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode steps: %w", err)
	}
	now := s.now()

	if _, err := tx.ExecContext(ctx,
		`UPDATE scripts SET name = ?, description = ?, steps = ?, updated_at = ? WHERE id = ?`,
		current.Name, current.Description, string(steps), now.UnixMilli(), id); err != nil {
		return nil, fmt.Errorf("failed to update script %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	current.Steps = decodeSteps(steps, id, s.log)
	current.UpdatedAt = fromMillis(now.UnixMilli())
	return current, nil
}

func (s *SQLiteStore) DeleteScript(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scripts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete script %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("script %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) scanScript(row interface{ Scan(...any) error }) (*schemas.Script, error) {
	var (
		script             schemas.Script
		steps              string
		created, updatedAt int64
	)
	if err := row.Scan(&script.ID, &script.Name, &script.Description, &steps, &created, &updatedAt); err != nil {
		return nil, err
	}
	script.Steps = decodeSteps([]byte(steps), script.ID, s.log)
	script.CreatedAt = fromMillis(created)
	script.UpdatedAt = fromMillis(updatedAt)
	return &script, nil
}

// -- Executions --

const sqliteExecutionColumns = `id, script_id, status, result, error_message, started_at, completed_at`

func (s *SQLiteStore) CreateExecution(ctx context.Context, scriptID int64) (*schemas.Execution, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (script_id, status, started_at) VALUES (?, ?, ?)`,
		scriptID, string(schemas.StatusRunning), now.UnixMilli())
	if err != nil {
		if isSQLiteForeignKey(err) {
			return nil, fmt.Errorf("script %d: %w", scriptID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to insert execution: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read execution id: %w", err)
	}
	return &schemas.Execution{
		ID:        id,
		ScriptID:  scriptID,
		Status:    schemas.StatusRunning,
		StartedAt: fromMillis(now.UnixMilli()),
	}, nil
}

func (s *SQLiteStore) CompleteExecution(ctx context.Context, id int64, status schemas.ExecutionStatus, result *schemas.ExecutionResult, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("cannot complete execution %d with non-terminal status %q", id, status)
	}
	encoded, err := encodeResult(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	var resultText any
	if encoded != nil {
		resultText = string(encoded)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, result = ?, error_message = ?, completed_at = ? WHERE id = ? AND status = 'running'`,
		string(status), resultText, errMsg, s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to complete execution %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM executions WHERE id = ?)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check execution %d: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("execution %d: %w", id, ErrNotFound)
	}
	s.log.Debug("Execution already terminal; completion ignored.", zap.Int64("execution_id", id))
	return nil
}

func (s *SQLiteStore) GetExecution(ctx context.Context, id int64) (*schemas.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteExecutionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanSQLiteExecution(row)
	if err != nil {
		return nil, sqlNoRows(err, "execution", id)
	}
	return exec, nil
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]schemas.Execution, error) {
	limit := limitOrDefault(filter.Limit)

	var (
		rows *sql.Rows
		err  error
	)
	if filter.ScriptID != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+sqliteExecutionColumns+` FROM executions WHERE script_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
			*filter.ScriptID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+sqliteExecutionColumns+` FROM executions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	executions := []schemas.Execution{}
	for rows.Next() {
		exec, err := scanSQLiteExecution(rows)
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

func (s *SQLiteStore) ClearExecutions(ctx context.Context, scriptID *int64) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if scriptID != nil {
		res, err = s.db.ExecContext(ctx, `DELETE FROM executions WHERE script_id = ?`, *scriptID)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM executions`)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to clear executions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared executions: %w", err)
	}
	return n, nil
}

func scanSQLiteExecution(row interface{ Scan(...any) error }) (*schemas.Execution, error) {
	var (
		exec      schemas.Execution
		status    string
		result    sql.NullString
		started   int64
		completed sql.NullInt64
	)
	if err := row.Scan(&exec.ID, &exec.ScriptID, &status, &result, &exec.ErrorMessage, &started, &completed); err != nil {
		return nil, err
	}
	exec.Status = schemas.ExecutionStatus(status)
	exec.StartedAt = fromMillis(started)
	if completed.Valid {
		t := fromMillis(completed.Int64)
		exec.CompletedAt = &t
	}
	if result.Valid {
		decoded, err := decodeResult([]byte(result.String))
		if err != nil {
			return nil, fmt.Errorf("failed to decode result of execution %d: %w", exec.ID, err)
		}
		exec.Result = decoded
	}
	return &exec, nil
}

// -- Screenshots --

func (s *SQLiteStore) CreateScreenshot(ctx context.Context, shot *schemas.Screenshot) (int64, error) {
	created := shot.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO screenshots (execution_id, step_number, filename, content_type, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		shot.ExecutionID, shot.StepNumber, shot.Filename, contentTypeOrDefault(shot.ContentType), shot.Data, created.UnixMilli())
	if err != nil {
		if isSQLiteForeignKey(err) {
			return 0, fmt.Errorf("execution %d: %w", shot.ExecutionID, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to insert screenshot: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetScreenshot(ctx context.Context, id int64) (*schemas.Screenshot, error) {
	var (
		shot    schemas.Screenshot
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, execution_id, step_number, filename, content_type, data, created_at FROM screenshots WHERE id = ?`, id,
	).Scan(&shot.ID, &shot.ExecutionID, &shot.StepNumber, &shot.Filename, &shot.ContentType, &shot.Data, &created)
	if err != nil {
		return nil, sqlNoRows(err, "screenshot", id)
	}
	shot.CreatedAt = fromMillis(created)
	return &shot, nil
}

func (s *SQLiteStore) ListScreenshots(ctx context.Context, executionID int64) ([]schemas.ScreenshotRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, step_number, filename, created_at FROM screenshots
		 WHERE execution_id = ? ORDER BY step_number ASC, created_at ASC, id ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query screenshots: %w", err)
	}
	defer rows.Close()

	refs := []schemas.ScreenshotRef{}
	for rows.Next() {
		var (
			ref     schemas.ScreenshotRef
			created int64
		)
		if err := rows.Scan(&ref.ID, &ref.ExecutionID, &ref.StepNumber, &ref.Filename, &created); err != nil {
			return nil, fmt.Errorf("failed to scan screenshot row: %w", err)
		}
		ref.CreatedAt = fromMillis(created)
		ref.URL = screenshotURL(ref.ID)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return refs, nil
}

func (s *SQLiteStore) ListAllScreenshots(ctx context.Context, page Page) ([]schemas.ScreenshotRef, int, error) {
	page = page.normalized()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM screenshots`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count screenshots: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.execution_id, e.script_id, sc.name, s.step_number, s.filename, s.created_at
		 FROM screenshots s
		 JOIN executions e ON e.id = s.execution_id
		 JOIN scripts sc ON sc.id = e.script_id
		 ORDER BY s.created_at DESC, s.id DESC
		 LIMIT ? OFFSET ?`, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query screenshots: %w", err)
	}
	defer rows.Close()

	refs := []schemas.ScreenshotRef{}
	for rows.Next() {
		var (
			ref     schemas.ScreenshotRef
			created int64
		)
		if err := rows.Scan(&ref.ID, &ref.ExecutionID, &ref.ScriptID, &ref.ScriptName, &ref.StepNumber, &ref.Filename, &created); err != nil {
			return nil, 0, fmt.Errorf("failed to scan screenshot row: %w", err)
		}
		ref.CreatedAt = fromMillis(created)
		ref.URL = screenshotURL(ref.ID)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error during row iteration: %w", err)
	}
	return refs, total, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func sqlNoRows(err error, kind string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %d: %w", kind, id, err)
}

func isSQLiteForeignKey(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
			return true
		}
		return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(err.Error(), "FOREIGN KEY")
	}
	return false
}
