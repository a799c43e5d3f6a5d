package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"currents/internal/config"
)

// Store manages pipeline task persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the task database and verifies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.QueueDatabasePath())
}

// OpenPath opens the task database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	// Pragmas are per-connection, so they go in the DSN to reach every
	// connection in the database/sql pool, not just the one an Exec lands on.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the location of the task database file.
func (s *Store) Path() string {
	return s.path
}

// GetByID fetches a task by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM pipeline_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

const taskColumns = "id, stage, status, priority, payload, dedupe_key, attempt_count, max_attempts, forced, claimed_by, claimed_at, error_message, failed_items, created_at, completed_at"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id           int64
		stageStr     string
		statusStr    string
		priority     int
		payload      sql.NullString
		dedupeKey    sql.NullString
		attemptCount int
		maxAttempts  int
		forced       sql.NullInt64
		claimedBy    sql.NullString
		claimedRaw   sql.NullString
		errorMessage sql.NullString
		failedItems  int
		createdRaw   sql.NullString
		completedRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&stageStr,
		&statusStr,
		&priority,
		&payload,
		&dedupeKey,
		&attemptCount,
		&maxAttempts,
		&forced,
		&claimedBy,
		&claimedRaw,
		&errorMessage,
		&failedItems,
		&createdRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:           id,
		Stage:        Stage(stageStr),
		Status:       Status(statusStr),
		Priority:     priority,
		PayloadJSON:  payload.String,
		DedupeKey:    dedupeKey.String,
		AttemptCount: attemptCount,
		MaxAttempts:  maxAttempts,
		ClaimedBy:    claimedBy.String,
		ErrorMessage: errorMessage.String,
		FailedItems:  failedItems,
	}
	if forced.Valid {
		task.Forced = forced.Int64 != 0
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		task.CreatedAt = created
	}
	if claimedRaw.Valid {
		if claimed, err := parseTimeString(claimedRaw.String); err == nil {
			task.ClaimedAt = &claimed
		}
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			task.CompletedAt = &completed
		}
	}
	return task, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
