package content

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// FetchUnprocessed returns items that have no progress record for the given
// stage, oldest published first. limit <= 0 means no limit.
func (s *Store) FetchUnprocessed(ctx context.Context, stage string, limit int) ([]*Item, error) {
	builder := stmt.
		Select(prefixColumns("ci", itemColumnList)...).
		From("content_items ci").
		LeftJoin("content_progress cp ON cp.item_id = ci.id AND cp.stage = ?", stage).
		Where("cp.item_id IS NULL").
		OrderBy("ci.published_at ASC", "ci.id ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unprocessed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectItems(rows)
}

// CountUnprocessed reports how many items still need the given stage.
func (s *Store) CountUnprocessed(ctx context.Context, stage string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1)
		FROM content_items ci
		LEFT JOIN content_progress cp ON cp.item_id = ci.id AND cp.stage = ?
		WHERE cp.item_id IS NULL`, stage).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unprocessed items: %w", err)
	}
	return count, nil
}

// MarkProcessed records that the stage finished for the item. Reprocessing
// the same item updates the existing record, so stage handlers stay
// idempotent across retries.
func (s *Store) MarkProcessed(ctx context.Context, itemID int64, stage string, result string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_progress (item_id, stage, processed_at, result)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id, stage) DO UPDATE SET
			processed_at = excluded.processed_at,
			result = excluded.result`,
		itemID, stage, time.Now().UTC().Format(time.RFC3339Nano), nullableString(result))
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// IsProcessed reports whether a progress record exists for the item and stage.
func (s *Store) IsProcessed(ctx context.Context, itemID int64, stage string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM content_progress WHERE item_id = ? AND stage = ?",
		itemID, stage).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check progress: %w", err)
	}
	return count > 0, nil
}

// UpdateItemAnalysis stores the analysis outputs for an item.
func (s *Store) UpdateItemAnalysis(ctx context.Context, itemID int64, summary, category string, keywords []string, importance int) error {
	keywordsJSON, err := encodeStrings(keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	return s.updateItem(ctx, itemID, map[string]any{
		"summary":    nullableString(summary),
		"category":   nullableString(category),
		"keywords":   nullableString(keywordsJSON),
		"importance": importance,
	})
}

// UpdateItemTranslation stores the translated text for an item.
func (s *Store) UpdateItemTranslation(ctx context.Context, itemID int64, translation string) error {
	return s.updateItem(ctx, itemID, map[string]any{
		"translation": nullableString(translation),
	})
}

// UpdateItemEmbedding stores the embedding vector for an item.
func (s *Store) UpdateItemEmbedding(ctx context.Context, itemID int64, embedding []float32) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	return s.updateItem(ctx, itemID, map[string]any{
		"embedding": string(data),
	})
}

func (s *Store) updateItem(ctx context.Context, itemID int64, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	query, args, err := stmt.
		Update("content_items").
		SetMap(fields).
		Where(sq.Eq{"id": itemID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build item update: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update item rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update item: item %d not found", itemID)
	}
	return nil
}

// RecentItems returns items published at or after since, newest first.
// limit <= 0 means no limit.
func (s *Store) RecentItems(ctx context.Context, since time.Time, limit int) ([]*Item, error) {
	builder := stmt.
		Select(itemColumnList...).
		From("content_items").
		Where(sq.GtOrEq{"published_at": since.UTC().Format(time.RFC3339Nano)}).
		OrderBy("published_at DESC", "id DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent items query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectItems(rows)
}

func prefixColumns(alias string, columns []string) []string {
	prefixed := make([]string, len(columns))
	for i, column := range columns {
		prefixed[i] = alias + "." + column
	}
	return prefixed
}
