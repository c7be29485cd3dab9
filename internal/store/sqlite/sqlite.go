// Package sqlite implements workflow.Store backed by SQLite, for
// single-node deployments that still want durability across process
// restarts without running a separate database server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stepflow/engine/pkg/workflow"
)

// Store implements workflow.Store on top of database/sql with the
// modernc.org/sqlite pure-Go driver.
type Store struct {
	db *sql.DB
}

var _ workflow.Store = (*Store)(nil)

// Config configures the SQLite connection.
type Config struct {
	// Path is the database file path (":memory:" for an ephemeral store).
	Path string
	// WAL enables Write-Ahead Logging for concurrent readers.
	WAL bool
}

// New opens (creating if needed) the database at cfg.Path and runs
// migrations.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: connect: %w", err)
	}

	s := &Store{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, wal bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if wal {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			input TEXT,
			ctx TEXT,
			current_step TEXT,
			result TEXT,
			recover_to TEXT,
			halt_data TEXT,
			error TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at)`,
		`CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			step_type TEXT NOT NULL,
			action TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			input TEXT,
			output TEXT,
			error TEXT,
			timestamp TEXT NOT NULL,
			FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_execution ON entries(execution_id, timestamp)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("sqlite: migration failed: %w", err)
		}
	}
	return nil
}

func (s *Store) Save(ctx context.Context, execution *workflow.Execution) error {
	inputJSON, _ := json.Marshal(execution.Input)
	ctxJSON, _ := json.Marshal(execution.Ctx)
	resultJSON, _ := json.Marshal(execution.Result)
	haltJSON, _ := json.Marshal(execution.HaltData)

	now := time.Now().UTC()
	createdAt := execution.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, status, input, ctx, current_step, result, recover_to, halt_data, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			status = excluded.status,
			input = excluded.input,
			ctx = excluded.ctx,
			current_step = excluded.current_step,
			result = excluded.result,
			recover_to = excluded.recover_to,
			halt_data = excluded.halt_data,
			error = excluded.error,
			updated_at = excluded.updated_at
	`,
		execution.ID, execution.WorkflowID, string(execution.Status), string(inputJSON), string(ctxJSON),
		execution.CurrentStep, string(resultJSON), execution.RecoverTo, string(haltJSON), execution.Error,
		createdAt.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save execution: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*workflow.Execution, error) {
	var exec workflow.Execution
	var status, createdAt, updatedAt string
	var inputJSON, ctxJSON, resultJSON, haltJSON sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, status, input, ctx, current_step, result, recover_to, halt_data, error, created_at, updated_at
		FROM executions WHERE id = ?
	`, id).Scan(
		&exec.ID, &exec.WorkflowID, &status, &inputJSON, &ctxJSON, &exec.CurrentStep,
		&resultJSON, &exec.RecoverTo, &haltJSON, &exec.Error, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load execution: %w", err)
	}

	exec.Status = workflow.Status(status)
	if inputJSON.Valid {
		_ = json.Unmarshal([]byte(inputJSON.String), &exec.Input)
	}
	if ctxJSON.Valid {
		_ = json.Unmarshal([]byte(ctxJSON.String), &exec.Ctx)
	}
	if resultJSON.Valid {
		_ = json.Unmarshal([]byte(resultJSON.String), &exec.Result)
	}
	if haltJSON.Valid {
		_ = json.Unmarshal([]byte(haltJSON.String), &exec.HaltData)
	}
	exec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	exec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &exec, nil
}

func (s *Store) Record(ctx context.Context, entry *workflow.Entry) error {
	inputJSON, _ := json.Marshal(entry.Input)
	outputJSON, _ := json.Marshal(entry.Output)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (id, execution_id, step_id, step_type, action, duration_ms, input, output, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.ExecutionID, entry.StepID, entry.StepType, string(entry.Action),
		entry.DurationMS, string(inputJSON), string(outputJSON), entry.Error,
		entry.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record entry: %w", err)
	}
	return nil
}

func (s *Store) Entries(ctx context.Context, executionID string) ([]*workflow.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, step_id, step_type, action, duration_ms, input, output, error, timestamp
		FROM entries WHERE execution_id = ? ORDER BY timestamp ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list entries: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Entry
	for rows.Next() {
		var e workflow.Entry
		var action, ts string
		var inputJSON, outputJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.StepID, &e.StepType, &action, &e.DurationMS, &inputJSON, &outputJSON, &e.Error, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan entry: %w", err)
		}
		e.Action = workflow.EntryAction(action)
		if inputJSON.Valid {
			_ = json.Unmarshal([]byte(inputJSON.String), &e.Input)
		}
		if outputJSON.Valid {
			_ = json.Unmarshal([]byte(outputJSON.String), &e.Output)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) Find(ctx context.Context, query workflow.Query) ([]*workflow.Execution, error) {
	sqlStr := `
		SELECT id, workflow_id, status, input, ctx, current_step, result, recover_to, halt_data, error, created_at, updated_at
		FROM executions WHERE 1=1
	`
	var args []any
	if query.WorkflowID != "" {
		sqlStr += " AND workflow_id = ?"
		args = append(args, query.WorkflowID)
	}
	if query.Status != "" {
		sqlStr += " AND status = ?"
		args = append(args, string(query.Status))
	}
	sqlStr += " ORDER BY created_at ASC"
	if query.Limit > 0 {
		sqlStr += " LIMIT ?"
		args = append(args, query.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find executions: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Execution
	for rows.Next() {
		var exec workflow.Execution
		var status, createdAt, updatedAt string
		var inputJSON, ctxJSON, resultJSON, haltJSON sql.NullString
		if err := rows.Scan(&exec.ID, &exec.WorkflowID, &status, &inputJSON, &ctxJSON, &exec.CurrentStep, &resultJSON, &exec.RecoverTo, &haltJSON, &exec.Error, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan execution: %w", err)
		}
		exec.Status = workflow.Status(status)
		if inputJSON.Valid {
			_ = json.Unmarshal([]byte(inputJSON.String), &exec.Input)
		}
		if ctxJSON.Valid {
			_ = json.Unmarshal([]byte(ctxJSON.String), &exec.Ctx)
		}
		if resultJSON.Valid {
			_ = json.Unmarshal([]byte(resultJSON.String), &exec.Result)
		}
		if haltJSON.Valid {
			_ = json.Unmarshal([]byte(haltJSON.String), &exec.HaltData)
		}
		exec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		exec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, &exec)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete execution: %w", err)
	}
	return nil
}

func (s *Store) ExecutionIDs(ctx context.Context, workflowID string, limit int) ([]string, error) {
	sqlStr := `SELECT id FROM executions WHERE 1=1`
	var args []any
	if workflowID != "" {
		sqlStr += " AND workflow_id = ?"
		args = append(args, workflowID)
	}
	sqlStr += " ORDER BY created_at ASC"
	if limit > 0 {
		sqlStr += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list execution ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan execution id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
