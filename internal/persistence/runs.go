package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveWorkflow inserts a workflow run or updates its state, error and
// description. Name and creation time are kept from the first save.
func (s *SQLiteStore) SaveWorkflow(ctx context.Context, wf *WorkflowRecord) error {
	now := time.Now().UTC()
	created := wf.CreatedAt.UTC()
	if wf.CreatedAt.IsZero() {
		created = now
	}
	updated := wf.UpdatedAt.UTC()
	if wf.UpdatedAt.IsZero() {
		updated = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, state, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = CASE WHEN excluded.description = '' THEN workflows.description ELSE excluded.description END,
			state = excluded.state,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, wf.ID, wf.Name, wf.Description, wf.State, wf.Error, created, updated)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", wf.ID, err)
	}
	return nil
}

// GetWorkflow retrieves a workflow run with its steps in update order.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error) {
	wf := &WorkflowRecord{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, state, error, created_at, updated_at
		FROM workflows
		WHERE id = ?
	`, id).Scan(&wf.ID, &wf.Name, &wf.Description, &wf.State, &wf.Error, &wf.CreatedAt, &wf.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT workflow_id, step, module, task_id, state, attempts, result, error, updated_at
		FROM steps
		WHERE workflow_id = ?
		ORDER BY updated_at, step
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st StepRecord
		if err := rows.Scan(&st.WorkflowID, &st.Step, &st.Module, &st.TaskID, &st.State, &st.Attempts, &st.Result, &st.Error, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		wf.Steps = append(wf.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}
	return wf, nil
}

// ListWorkflows returns the most recent workflow runs first, without steps.
// A limit <= 0 returns every run.
func (s *SQLiteStore) ListWorkflows(ctx context.Context, limit int) ([]*WorkflowRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, state, error, created_at, updated_at
		FROM workflows
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	var out []*WorkflowRecord
	for rows.Next() {
		wf := &WorkflowRecord{}
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.Description, &wf.State, &wf.Error, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}
	return out, nil
}

// DeleteWorkflow removes a workflow run and its steps.
func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveStep records the latest state of a step. The owning workflow must
// exist. An empty module keeps the previously stored one.
func (s *SQLiteStore) SaveStep(ctx context.Context, st *StepRecord) error {
	updated := st.UpdatedAt.UTC()
	if st.UpdatedAt.IsZero() {
		updated = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM workflows WHERE id = ?`, st.WorkflowID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("workflow %s: %w", st.WorkflowID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check workflow existence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO steps (workflow_id, step, module, task_id, state, attempts, result, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id, step) DO UPDATE SET
			module = CASE WHEN excluded.module = '' THEN steps.module ELSE excluded.module END,
			task_id = excluded.task_id,
			state = excluded.state,
			attempts = excluded.attempts,
			result = excluded.result,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, st.WorkflowID, st.Step, st.Module, st.TaskID, st.State, st.Attempts, st.Result, st.Error, updated)
	if err != nil {
		return fmt.Errorf("failed to upsert step %s/%s: %w", st.WorkflowID, st.Step, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
