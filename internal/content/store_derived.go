package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SaveTopics replaces stored topic rows for the given window with a fresh set.
func (s *Store) SaveTopics(ctx context.Context, windowStart, windowEnd time.Time, topics []*Topic) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin topics tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		"DELETE FROM topics WHERE window_start = ? AND window_end = ?",
		windowStart.UTC().Format(time.RFC3339Nano), windowEnd.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("clear topics window: %w", err)
	}

	for _, topic := range topics {
		keywordsJSON, err := encodeStrings(topic.Keywords)
		if err != nil {
			return fmt.Errorf("encode topic keywords: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO topics (name, keywords, item_count, window_start, window_end, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			topic.Name,
			nullableString(keywordsJSON),
			topic.ItemCount,
			windowStart.UTC().Format(time.RFC3339Nano),
			windowEnd.UTC().Format(time.RFC3339Nano),
			now.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert topic: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit topics: %w", err)
	}
	return nil
}

// RecentTopics returns topics created at or after since, newest window first.
func (s *Store) RecentTopics(ctx context.Context, since time.Time) ([]*Topic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, keywords, item_count, window_start, window_end, created_at
		FROM topics WHERE created_at >= ?
		ORDER BY window_end DESC, item_count DESC`,
		since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var topics []*Topic
	for rows.Next() {
		var (
			topic       Topic
			keywordsRaw sql.NullString
			startRaw    sql.NullString
			endRaw      sql.NullString
			createdRaw  sql.NullString
		)
		if err := rows.Scan(&topic.ID, &topic.Name, &keywordsRaw, &topic.ItemCount, &startRaw, &endRaw, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		if keywordsRaw.Valid && keywordsRaw.String != "" {
			if err := json.Unmarshal([]byte(keywordsRaw.String), &topic.Keywords); err != nil {
				return nil, fmt.Errorf("decode topic keywords: %w", err)
			}
		}
		if start, err := parseTimeString(startRaw.String); err == nil {
			topic.WindowStart = start
		}
		if end, err := parseTimeString(endRaw.String); err == nil {
			topic.WindowEnd = end
		}
		if created, err := parseTimeString(createdRaw.String); err == nil {
			topic.CreatedAt = created
		}
		topics = append(topics, &topic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return topics, nil
}

// SaveActionItems stores extracted action items for one content item,
// replacing any earlier extraction so retried tasks do not duplicate rows.
func (s *Store) SaveActionItems(ctx context.Context, itemID int64, actions []*ActionItem) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin actions tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM action_items WHERE item_id = ?", itemID); err != nil {
		return fmt.Errorf("clear actions: %w", err)
	}

	for _, action := range actions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO action_items (item_id, description, owner, due_hint, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			itemID,
			action.Description,
			nullableString(action.Owner),
			nullableString(action.DueHint),
			now.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit actions: %w", err)
	}
	return nil
}

// RecentActions returns action items created at or after since, newest first.
func (s *Store) RecentActions(ctx context.Context, since time.Time, limit int) ([]*ActionItem, error) {
	query := `SELECT id, item_id, description, owner, due_hint, created_at
		FROM action_items WHERE created_at >= ?
		ORDER BY created_at DESC, id DESC`
	args := []any{since.UTC().Format(time.RFC3339Nano)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var actions []*ActionItem
	for rows.Next() {
		var (
			action     ActionItem
			owner      sql.NullString
			dueHint    sql.NullString
			createdRaw sql.NullString
		)
		if err := rows.Scan(&action.ID, &action.ItemID, &action.Description, &owner, &dueHint, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		action.Owner = owner.String
		action.DueHint = dueHint.String
		if created, err := parseTimeString(createdRaw.String); err == nil {
			action.CreatedAt = created
		}
		actions = append(actions, &action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}

// SaveReport stores a generated report.
func (s *Store) SaveReport(ctx context.Context, report *Report) (*Report, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (period, body, cluster_count, item_count, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		report.Period, report.Body, report.ClusterCount, report.ItemCount, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("report id: %w", err)
	}

	saved := *report
	saved.ID = id
	saved.CreatedAt = now
	return &saved, nil
}

// LatestReport returns the most recently created report, or nil when none
// has been generated yet.
func (s *Store) LatestReport(ctx context.Context) (*Report, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, period, body, cluster_count, item_count, created_at
		FROM reports ORDER BY id DESC LIMIT 1`)

	var (
		report     Report
		createdRaw sql.NullString
	)
	err := row.Scan(&report.ID, &report.Period, &report.Body, &report.ClusterCount, &report.ItemCount, &createdRaw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest report: %w", err)
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		report.CreatedAt = created
	}
	return &report, nil
}
