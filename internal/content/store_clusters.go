package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CandidateClusters returns active clusters updated at or after since,
// most recently updated first. A recency-first order means that when two
// clusters score identically against an item, the caller naturally prefers
// the fresher one.
func (s *Store) CandidateClusters(ctx context.Context, since time.Time, limit int) ([]*EventCluster, error) {
	query := `SELECT ` + clusterColumns + ` FROM event_clusters
		WHERE is_active = 1 AND last_updated_at >= ?
		ORDER BY last_updated_at DESC, id DESC`
	args := []any{since.UTC().Format(time.RFC3339Nano)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidate clusters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var clusters []*EventCluster
	for rows.Next() {
		cluster, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		clusters = append(clusters, cluster)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clusters: %w", err)
	}
	return clusters, nil
}

// GetCluster fetches a cluster by identifier. Returns nil when not found.
func (s *Store) GetCluster(ctx context.Context, id int64) (*EventCluster, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clusterColumns+` FROM event_clusters WHERE id = ?`, id)
	cluster, err := scanCluster(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cluster: %w", err)
	}
	return cluster, nil
}

// CreateCluster inserts a new cluster seeded by one item. The seed becomes
// the first member in the same transaction so a cluster is never observable
// without members.
func (s *Store) CreateCluster(ctx context.Context, title, category string, seedItemID int64, method DetectionMethod) (*EventCluster, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin cluster tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO event_clusters (title, category, first_seen_at, last_updated_at, is_active, member_count)
		VALUES (?, ?, ?, ?, 1, 1)`,
		title, category, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert cluster: %w", err)
	}
	clusterID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("cluster id: %w", err)
	}

	// Seed member: a new cluster has perfect similarity with its own seed.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO event_members (cluster_id, item_id, similarity_score, detection_method, created_at)
		VALUES (?, ?, 1.0, ?, ?)`,
		clusterID, seedItemID, string(method), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert seed member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cluster: %w", err)
	}

	return s.GetCluster(ctx, clusterID)
}

// AttachMember adds an item to an existing cluster, bumping member_count and
// last_updated_at in the same transaction. The count bump is a relative
// increment so concurrent attachments to the same cluster never lose updates.
func (s *Store) AttachMember(ctx context.Context, clusterID, itemID int64, score float64, method DetectionMethod) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin member tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO event_members (cluster_id, item_id, similarity_score, detection_method, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		clusterID, itemID, score, string(method), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE event_clusters
		SET member_count = member_count + 1, last_updated_at = ?
		WHERE id = ?`,
		now.Format(time.RFC3339Nano), clusterID)
	if err != nil {
		return fmt.Errorf("update cluster: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update cluster rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("attach member: cluster %d not found", clusterID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit member: %w", err)
	}
	return nil
}

// IsItemClustered reports whether an item already belongs to a cluster.
func (s *Store) IsItemClustered(ctx context.Context, itemID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM event_members WHERE item_id = ?", itemID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return count > 0, nil
}

// ClusterMembers returns the membership records for a cluster, oldest first.
func (s *Store) ClusterMembers(ctx context.Context, clusterID int64) ([]*EventMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cluster_id, item_id, similarity_score, detection_method, created_at
		FROM event_members WHERE cluster_id = ? ORDER BY created_at ASC, id ASC`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []*EventMember
	for rows.Next() {
		var (
			member     EventMember
			methodStr  string
			createdRaw sql.NullString
		)
		if err := rows.Scan(&member.ID, &member.ClusterID, &member.ItemID, &member.SimilarityScore, &methodStr, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		member.DetectionMethod = DetectionMethod(methodStr)
		if created, err := parseTimeString(createdRaw.String); err == nil {
			member.CreatedAt = created
		}
		members = append(members, &member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// DeactivateClustersBefore marks clusters idle since the cutoff as inactive
// and returns how many were deactivated.
func (s *Store) DeactivateClustersBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE event_clusters SET is_active = 0
		WHERE is_active = 1 AND last_updated_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("deactivate clusters: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate clusters rows: %w", err)
	}
	return int(affected), nil
}

const clusterColumns = "id, title, category, first_seen_at, last_updated_at, is_active, member_count"

func scanCluster(scanner interface{ Scan(dest ...any) error }) (*EventCluster, error) {
	var (
		cluster    EventCluster
		isActive   int
		firstRaw   sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(&cluster.ID, &cluster.Title, &cluster.Category, &firstRaw, &updatedRaw, &isActive, &cluster.MemberCount); err != nil {
		return nil, err
	}
	cluster.IsActive = isActive != 0
	if first, err := parseTimeString(firstRaw.String); err == nil {
		cluster.FirstSeenAt = first
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		cluster.LastUpdatedAt = updated
	}
	return &cluster, nil
}
