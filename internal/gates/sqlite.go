package gates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps gate flags in a table alongside the pipeline task
// database. This is the default backend: no extra infrastructure, and the
// flags survive restarts with the rest of the pipeline state.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite connects to the gate table at the given database path, creating
// the table if needed.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout = 5000"} {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	const schema = `CREATE TABLE IF NOT EXISTS feature_gates (
        key TEXT PRIMARY KEY,
        enabled INTEGER NOT NULL,
        updated_at TEXT NOT NULL
    )`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create feature_gates table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get reads a single gate flag.
func (s *SQLiteStore) Get(ctx context.Context, key string) (bool, bool, error) {
	var enabled int
	err := s.db.QueryRowContext(ctx, `SELECT enabled FROM feature_gates WHERE key = ?`, key).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("get gate: %w", err)
	}
	return enabled != 0, true, nil
}

// Set upserts a gate flag.
func (s *SQLiteStore) Set(ctx context.Context, key string, enabled bool) error {
	value := 0
	if enabled {
		value = 1
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO feature_gates (key, enabled, updated_at) VALUES (?, ?, ?)
        ON CONFLICT (key) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		key,
		value,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert gate: %w", err)
	}
	return nil
}

// All returns every stored gate flag.
func (s *SQLiteStore) All(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, enabled FROM feature_gates`)
	if err != nil {
		return nil, fmt.Errorf("list gates: %w", err)
	}
	defer rows.Close()

	flags := make(map[string]bool)
	for rows.Next() {
		var (
			key     string
			enabled int
		)
		if err := rows.Scan(&key, &enabled); err != nil {
			return nil, err
		}
		flags[key] = enabled != 0
	}
	return flags, rows.Err()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
