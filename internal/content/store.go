package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"currents/internal/config"
)

// Store manages content records, cluster assignments, and derived artifacts
// backed by SQLite. It is safe for concurrent use by pipeline workers.
type Store struct {
	db   *sql.DB
	path string
}

// stmt builds dynamic queries with ? placeholders for SQLite.
var stmt = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Open initializes or connects to the content database and verifies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.ContentDatabasePath())
}

// OpenPath opens the content database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
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

// Path returns the location of the content database file.
func (s *Store) Path() string {
	return s.path
}

// AddItem inserts a content item, or refreshes the stored copy when an item
// with the same external_id already exists. Derived fields written by earlier
// pipeline runs are preserved on refresh.
func (s *Store) AddItem(ctx context.Context, item *Item) (*Item, error) {
	if item == nil {
		return nil, errors.New("nil item")
	}
	if item.ExternalID == "" {
		return nil, errors.New("external id required")
	}

	now := time.Now().UTC()
	publishedAt := item.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = now
	}

	keywordsJSON, err := encodeStrings(item.Keywords)
	if err != nil {
		return nil, fmt.Errorf("encode keywords: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO content_items (external_id, source, title, body, summary, translation, category, keywords, importance, embedding, published_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			source = excluded.source,
			title = excluded.title,
			body = excluded.body,
			published_at = excluded.published_at,
			updated_at = excluded.updated_at`,
		item.ExternalID,
		item.Source,
		item.Title,
		item.Body,
		nullableString(item.Summary),
		nullableString(item.Translation),
		nullableString(item.Category),
		nullableString(keywordsJSON),
		item.Importance,
		publishedAt.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert content item: %w", err)
	}

	return s.GetByExternalID(ctx, item.ExternalID)
}

// GetItem fetches an item by identifier. Returns nil when not found.
func (s *Store) GetItem(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM content_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// GetByExternalID fetches an item by its producer-assigned identifier.
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM content_items WHERE external_id = ?`, externalID)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item by external id: %w", err)
	}
	return item, nil
}

// ItemsByID fetches the given items in id order. Missing ids are skipped.
func (s *Store) ItemsByID(ctx context.Context, ids []int64) ([]*Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := stmt.
		Select(itemColumnList...).
		From("content_items").
		Where(sq.Eq{"id": ids}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build items query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectItems(rows)
}

const itemColumns = "id, external_id, source, title, body, summary, translation, category, keywords, importance, embedding, published_at, created_at, updated_at"

var itemColumnList = []string{
	"id", "external_id", "source", "title", "body", "summary", "translation",
	"category", "keywords", "importance", "embedding", "published_at", "created_at", "updated_at",
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id           int64
		externalID   string
		source       string
		title        string
		body         string
		summary      sql.NullString
		translation  sql.NullString
		category     sql.NullString
		keywordsRaw  sql.NullString
		importance   int
		embeddingRaw sql.NullString
		publishedRaw sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&externalID,
		&source,
		&title,
		&body,
		&summary,
		&translation,
		&category,
		&keywordsRaw,
		&importance,
		&embeddingRaw,
		&publishedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:          id,
		ExternalID:  externalID,
		Source:      source,
		Title:       title,
		Body:        body,
		Summary:     summary.String,
		Translation: translation.String,
		Category:    category.String,
		Importance:  importance,
	}
	if keywordsRaw.Valid && keywordsRaw.String != "" {
		if err := json.Unmarshal([]byte(keywordsRaw.String), &item.Keywords); err != nil {
			return nil, fmt.Errorf("decode keywords: %w", err)
		}
	}
	if embeddingRaw.Valid && embeddingRaw.String != "" {
		if err := json.Unmarshal([]byte(embeddingRaw.String), &item.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
	}
	if published, err := parseTimeString(publishedRaw.String); err == nil {
		item.PublishedAt = published
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func collectItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func encodeStrings(values []string) (string, error) {
	if len(values) == 0 {
		return "", nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
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
