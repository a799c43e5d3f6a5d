package queue

import (
	"context"
	"fmt"
	"time"
)

// List returns tasks filtered by status set (or all tasks when no status is
// provided), newest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Task, error) {
	baseQuery := `SELECT ` + taskColumns + ` FROM pipeline_tasks`
	orderClause := ` ORDER BY created_at DESC, id DESC`

	var (
		query string
		args  []any
	)
	if len(statuses) == 0 {
		query = baseQuery + orderClause
	} else {
		query = baseQuery + ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)` + orderClause
		args = make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Stats returns task counts grouped by status and stage.
func (s *Store) Stats(ctx context.Context) (StatsSummary, error) {
	summary := StatsSummary{ByStage: make(map[Stage]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT stage, status, COUNT(1) FROM pipeline_tasks GROUP BY stage, status`)
	if err != nil {
		return summary, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			stage  Stage
			status Status
			count  int
		)
		if err := rows.Scan(&stage, &status, &count); err != nil {
			return summary, err
		}
		summary.Total += count
		summary.ByStage[stage] += count
		switch status {
		case StatusPending:
			summary.Pending += count
		case StatusRunning:
			summary.Running += count
		case StatusCompleted:
			summary.Completed += count
		case StatusFailed:
			summary.Failed += count
		}
	}
	return summary, rows.Err()
}

// RetryFailed re-enqueues failed tasks as fresh pending tasks with a reset
// attempt chain. With no ids, every failed task is retried. This is the
// operator-facing recovery path; the original failed rows are preserved.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int, error) {
	query := `SELECT ` + taskColumns + ` FROM pipeline_tasks WHERE status = ?`
	args := []any{StatusFailed}
	if len(ids) > 0 {
		query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("query failed tasks: %w", err)
	}
	var failed []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			_ = rows.Close()
			return 0, err
		}
		failed = append(failed, task)
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("close failed rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate failed rows: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	retried := 0
	for _, task := range failed {
		_, err := s.db.ExecContext(
			ctx,
			`INSERT INTO pipeline_tasks (
                stage, status, priority, payload, dedupe_key,
                attempt_count, max_attempts, forced, created_at
            ) VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)`,
			task.Stage,
			StatusPending,
			task.Priority,
			nullableString(task.PayloadJSON),
			nullableString(task.DedupeKey),
			task.MaxAttempts,
			boolToInt(task.Forced),
			now,
		)
		if err != nil {
			return retried, fmt.Errorf("re-enqueue failed task %d: %w", task.ID, err)
		}
		retried++
	}
	return retried, nil
}

// ClearTerminal removes completed and failed tasks. Operator-only: the
// pipeline itself never deletes tasks.
func (s *Store) ClearTerminal(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM pipeline_tasks WHERE status IN (?, ?)`,
		StatusCompleted,
		StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("clear terminal tasks: %w", err)
	}
	return res.RowsAffected()
}
