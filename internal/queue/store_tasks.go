package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition indicates a terminal transition was attempted on a task
// that is not running.
var ErrInvalidTransition = errors.New("invalid task transition")

// EnqueueRequest carries everything needed to insert a pending task.
type EnqueueRequest struct {
	Stage       Stage
	Payload     Payload
	Priority    int
	DedupeKey   string
	MaxAttempts int
	Forced      bool

	// attemptCount is set internally by Retry to carry the attempt chain.
	attemptCount int
}

// Enqueue inserts a pending task unless a pending or running task with the
// same dedupe key already exists. The existence check and the insert execute
// as a single statement so two concurrent trigger callers cannot both insert.
// The returned bool reports whether a new task was created.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (*Task, bool, error) {
	if _, ok := stageSet[req.Stage]; !ok {
		return nil, false, fmt.Errorf("enqueue: unknown stage %q", req.Stage)
	}
	payloadJSON, err := req.Payload.Encode()
	if err != nil {
		return nil, false, err
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = 3
	}
	attempt := req.attemptCount
	if attempt <= 0 {
		attempt = 1
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO pipeline_tasks (
            stage, status, priority, payload, dedupe_key,
            attempt_count, max_attempts, forced, created_at
        )
        SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
        WHERE ? = ''
           OR NOT EXISTS (
                SELECT 1 FROM pipeline_tasks
                WHERE dedupe_key = ? AND status IN (?, ?)
           )`,
		req.Stage,
		StatusPending,
		req.Priority,
		payloadJSON,
		nullableString(req.DedupeKey),
		attempt,
		req.MaxAttempts,
		boolToInt(req.Forced),
		now,
		req.DedupeKey,
		req.DedupeKey,
		StatusPending,
		StatusRunning,
	)
	if err != nil {
		return nil, false, fmt.Errorf("enqueue task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("last insert id: %w", err)
	}
	task, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return task, true, nil
}

// ClaimNext atomically selects the most urgent pending task among the given
// stages, transitions it to running, and stamps the claiming worker. Forced
// tasks are eligible regardless of the stage filter so a gate toggled off
// after a forced enqueue cannot strand them. Returns nil when no eligible
// task exists.
//
// The select and the status flip happen in one UPDATE so two concurrent
// claimants can never receive the same task: SQLite serializes the writes and
// the inner SELECT re-evaluates under the write lock.
func (s *Store) ClaimNext(ctx context.Context, workerID string, stages ...Stage) (*Task, error) {
	if len(stages) == 0 {
		stages = AllStages()
	}

	criteria := make([]any, 0, len(stages))
	for _, stage := range stages {
		criteria = append(criteria, stage)
	}
	return s.claim(ctx, workerID, "stage IN ("+makePlaceholders(len(stages))+") OR forced = 1", criteria...)
}

// ClaimForced atomically claims the most urgent pending forced task with no
// stage filter at all. Workers fall back to this claim when every gate is
// disabled, so a forced task cannot be stranded by a fully toggled-off
// pipeline.
func (s *Store) ClaimForced(ctx context.Context, workerID string) (*Task, error) {
	return s.claim(ctx, workerID, "forced = 1")
}

func (s *Store) claim(ctx context.Context, workerID, criteria string, criteriaArgs ...any) (*Task, error) {
	if workerID == "" {
		return nil, errors.New("claim: worker id required")
	}

	args := make([]any, 0, len(criteriaArgs)+4)
	args = append(args, StatusRunning, workerID, time.Now().UTC().Format(time.RFC3339Nano), StatusPending)
	args = append(args, criteriaArgs...)

	query := `UPDATE pipeline_tasks
        SET status = ?, claimed_by = ?, claimed_at = ?
        WHERE id = (
            SELECT id FROM pipeline_tasks
            WHERE status = ? AND (` + criteria + `)
            ORDER BY priority ASC, created_at ASC, id ASC
            LIMIT 1
        )
        RETURNING ` + taskColumns

	row := s.db.QueryRowContext(ctx, query, args...)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next task: %w", err)
	}
	return task, nil
}

// Complete marks a running task completed, recording per-item failures for
// partial-batch outcomes. Claim fields are cleared; the task row remains as
// the audit trail.
func (s *Store) Complete(ctx context.Context, taskID int64, failedItems int) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE pipeline_tasks
        SET status = ?, failed_items = ?, completed_at = ?, claimed_by = NULL, claimed_at = NULL
        WHERE id = ? AND status = ?`,
		StatusCompleted,
		failedItems,
		time.Now().UTC().Format(time.RFC3339Nano),
		taskID,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return requireTransition(res, taskID)
}

// Fail marks a running task failed with the given message. Retry bookkeeping
// is the caller's responsibility (see Retry).
func (s *Store) Fail(ctx context.Context, taskID int64, errorMessage string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE pipeline_tasks
        SET status = ?, error_message = ?, completed_at = ?, claimed_by = NULL, claimed_at = NULL
        WHERE id = ? AND status = ?`,
		StatusFailed,
		errorMessage,
		time.Now().UTC().Format(time.RFC3339Nano),
		taskID,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return requireTransition(res, taskID)
}

// Retry fails the original task and enqueues a fresh pending task carrying the
// same payload with attempt_count+1, in one transaction. The original row is
// never reset in place. The replacement insert bypasses dedupe: the original
// is failed in the same transaction, so no live duplicate can exist, and a
// retry must not be swallowed by an unrelated pending task sharing the key.
func (s *Store) Retry(ctx context.Context, task *Task, errorMessage string) (*Task, error) {
	if task == nil {
		return nil, errors.New("retry: task is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin retry tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(
		ctx,
		`UPDATE pipeline_tasks
        SET status = ?, error_message = ?, completed_at = ?, claimed_by = NULL, claimed_at = NULL
        WHERE id = ? AND status = ?`,
		StatusFailed,
		errorMessage,
		now,
		task.ID,
		StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("fail task for retry: %w", err)
	}
	if err := requireTransition(res, task.ID); err != nil {
		return nil, err
	}

	res, err = tx.ExecContext(
		ctx,
		`INSERT INTO pipeline_tasks (
            stage, status, priority, payload, dedupe_key,
            attempt_count, max_attempts, forced, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.Stage,
		StatusPending,
		task.Priority,
		nullableString(task.PayloadJSON),
		nullableString(task.DedupeKey),
		task.AttemptCount+1,
		task.MaxAttempts,
		boolToInt(task.Forced),
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue retry task: %w", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit retry: %w", err)
	}
	return s.GetByID(ctx, newID)
}

// ReclaimStale returns running tasks whose claim predates the cutoff, marking
// each failed and re-enqueueing a fresh attempt when the chain allows it.
// Workers that crashed mid-task leave exactly this signature behind.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+taskColumns+` FROM pipeline_tasks
        WHERE status = ? AND claimed_at IS NOT NULL AND claimed_at < ?`,
		StatusRunning,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("query stale tasks: %w", err)
	}
	var stale []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			_ = rows.Close()
			return 0, err
		}
		stale = append(stale, task)
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("close stale rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate stale rows: %w", err)
	}

	reclaimed := 0
	for _, task := range stale {
		message := fmt.Sprintf("claim expired (claimed by %s)", task.ClaimedBy)
		if task.AttemptsExhausted() {
			if err := s.Fail(ctx, task.ID, message); err != nil {
				return reclaimed, err
			}
		} else {
			if _, err := s.Retry(ctx, task, message); err != nil {
				return reclaimed, err
			}
		}
		reclaimed++
	}
	return reclaimed, nil
}

func requireTransition(res sql.Result, taskID int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: task %d is not running", ErrInvalidTransition, taskID)
	}
	return nil
}
