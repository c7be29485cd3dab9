// Package postgres implements workflow.Store backed by PostgreSQL, for
// multi-process deployments where the Engine's Store must be shared
// across replicas.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stepflow/engine/pkg/workflow"
)

// Store implements workflow.Store against an externally-owned
// *pgxpool.Pool. The caller creates and closes the pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ workflow.Store = (*Store)(nil)

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the executions and entries tables and their indexes. Safe
// to call repeatedly.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL,
			input JSONB,
			ctx JSONB,
			current_step VARCHAR(255),
			result JSONB,
			recover_to VARCHAR(255),
			halt_data JSONB,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at)`,
		`CREATE TABLE IF NOT EXISTS entries (
			id VARCHAR(64) PRIMARY KEY,
			execution_id VARCHAR(64) NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
			step_id VARCHAR(255) NOT NULL,
			step_type VARCHAR(64) NOT NULL,
			action VARCHAR(20) NOT NULL,
			duration_ms BIGINT NOT NULL,
			input JSONB,
			output JSONB,
			error TEXT,
			timestamp TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_execution ON entries(execution_id, timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

func (s *Store) Save(ctx context.Context, execution *workflow.Execution) error {
	inputJSON, err := json.Marshal(execution.Input)
	if err != nil {
		return fmt.Errorf("postgres: marshal input: %w", err)
	}
	ctxJSON, err := json.Marshal(execution.Ctx)
	if err != nil {
		return fmt.Errorf("postgres: marshal ctx: %w", err)
	}
	resultJSON, err := json.Marshal(execution.Result)
	if err != nil {
		return fmt.Errorf("postgres: marshal result: %w", err)
	}
	haltJSON, err := json.Marshal(execution.HaltData)
	if err != nil {
		return fmt.Errorf("postgres: marshal halt data: %w", err)
	}

	now := time.Now().UTC()
	createdAt := execution.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (id, workflow_id, status, input, ctx, current_step, result, recover_to, halt_data, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
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
		execution.ID, execution.WorkflowID, string(execution.Status), inputJSON, ctxJSON,
		execution.CurrentStep, resultJSON, execution.RecoverTo, haltJSON, execution.Error,
		createdAt, now,
	)
	if err != nil {
		return fmt.Errorf("postgres: save execution: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*workflow.Execution, error) {
	var exec workflow.Execution
	var status string
	var inputJSON, ctxJSON, resultJSON, haltJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, workflow_id, status, input, ctx, current_step, result, recover_to, halt_data, error, created_at, updated_at
		FROM executions WHERE id = $1
	`, id).Scan(
		&exec.ID, &exec.WorkflowID, &status, &inputJSON, &ctxJSON, &exec.CurrentStep,
		&resultJSON, &exec.RecoverTo, &haltJSON, &exec.Error, &exec.CreatedAt, &exec.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load execution: %w", err)
	}

	exec.Status = workflow.Status(status)
	_ = json.Unmarshal(inputJSON, &exec.Input)
	_ = json.Unmarshal(ctxJSON, &exec.Ctx)
	_ = json.Unmarshal(resultJSON, &exec.Result)
	_ = json.Unmarshal(haltJSON, &exec.HaltData)
	return &exec, nil
}

func (s *Store) Record(ctx context.Context, entry *workflow.Entry) error {
	inputJSON, err := json.Marshal(entry.Input)
	if err != nil {
		return fmt.Errorf("postgres: marshal entry input: %w", err)
	}
	outputJSON, err := json.Marshal(entry.Output)
	if err != nil {
		return fmt.Errorf("postgres: marshal entry output: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO entries (id, execution_id, step_id, step_type, action, duration_ms, input, output, error, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		entry.ID, entry.ExecutionID, entry.StepID, entry.StepType, string(entry.Action),
		entry.DurationMS, inputJSON, outputJSON, entry.Error, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: record entry: %w", err)
	}
	return nil
}

func (s *Store) Entries(ctx context.Context, executionID string) ([]*workflow.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, execution_id, step_id, step_type, action, duration_ms, input, output, error, timestamp
		FROM entries WHERE execution_id = $1 ORDER BY timestamp ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list entries: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Entry
	for rows.Next() {
		var e workflow.Entry
		var action string
		var inputJSON, outputJSON []byte
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.StepID, &e.StepType, &action, &e.DurationMS, &inputJSON, &outputJSON, &e.Error, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan entry: %w", err)
		}
		e.Action = workflow.EntryAction(action)
		_ = json.Unmarshal(inputJSON, &e.Input)
		_ = json.Unmarshal(outputJSON, &e.Output)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) Find(ctx context.Context, query workflow.Query) ([]*workflow.Execution, error) {
	sql := `
		SELECT id, workflow_id, status, input, ctx, current_step, result, recover_to, halt_data, error, created_at, updated_at
		FROM executions WHERE 1=1
	`
	var args []any
	n := 0
	next := func() string { n++; return fmt.Sprintf("$%d", n) }

	if query.WorkflowID != "" {
		sql += " AND workflow_id = " + next()
		args = append(args, query.WorkflowID)
	}
	if query.Status != "" {
		sql += " AND status = " + next()
		args = append(args, string(query.Status))
	}
	sql += " ORDER BY created_at ASC"
	if query.Limit > 0 {
		sql += " LIMIT " + next()
		args = append(args, query.Limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: find executions: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Execution
	for rows.Next() {
		var exec workflow.Execution
		var status string
		var inputJSON, ctxJSON, resultJSON, haltJSON []byte
		if err := rows.Scan(&exec.ID, &exec.WorkflowID, &status, &inputJSON, &ctxJSON, &exec.CurrentStep, &resultJSON, &exec.RecoverTo, &haltJSON, &exec.Error, &exec.CreatedAt, &exec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		exec.Status = workflow.Status(status)
		_ = json.Unmarshal(inputJSON, &exec.Input)
		_ = json.Unmarshal(ctxJSON, &exec.Ctx)
		_ = json.Unmarshal(resultJSON, &exec.Result)
		_ = json.Unmarshal(haltJSON, &exec.HaltData)
		out = append(out, &exec)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete execution: %w", err)
	}
	return nil
}

func (s *Store) ExecutionIDs(ctx context.Context, workflowID string, limit int) ([]string, error) {
	sql := `SELECT id FROM executions WHERE 1=1`
	var args []any
	n := 0
	next := func() string { n++; return fmt.Sprintf("$%d", n) }

	if workflowID != "" {
		sql += " AND workflow_id = " + next()
		args = append(args, workflowID)
	}
	sql += " ORDER BY created_at ASC"
	if limit > 0 {
		sql += " LIMIT " + next()
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list execution ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan execution id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close is a no-op; the caller owns the pool.
func (s *Store) Close() error {
	return nil
}
