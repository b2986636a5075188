package persistence

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"
)

// RecordTask appends a settled task outcome.
func (s *SQLiteStore) RecordTask(ctx context.Context, rec *TaskRecord) error {
	finished := rec.FinishedAt.UTC()
	if rec.FinishedAt.IsZero() {
		finished = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_outcomes (task_id, state, error, duration_ms, finished_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.TaskID, rec.State, rec.Error, rec.Duration.Milliseconds(), finished)
	if err != nil {
		return fmt.Errorf("failed to record task %s: %w", rec.TaskID, err)
	}
	return nil
}

// ListTasks returns task outcomes whose id starts with prefix, oldest first.
// Workflow task ids start with "<workflow id>/". The prefix is compared
// literally, so ids may contain LIKE wildcards.
func (s *SQLiteStore) ListTasks(ctx context.Context, prefix string) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, state, error, duration_ms, finished_at
		FROM task_outcomes
		WHERE substr(task_id, 1, ?) = ?
		ORDER BY id
	`, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query task outcomes: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var ms int64
		if err := rows.Scan(&rec.TaskID, &rec.State, &rec.Error, &ms, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task outcome: %w", err)
		}
		rec.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task outcomes: %w", err)
	}
	return out, nil
}
