package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"review-queue/internal/models"
)

const queueColumns = "id, generation_id, collection_id, mode, status, assigned_to, assigned_at, ordering_key, metadata, created_at, updated_at"

// Store wraps pgxpool for Postgres persistence of the review queue and the
// generation records it reads.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Upsert inserts a pending item or refreshes the active one for the same
// (collection, mode, generation). The partial unique index on non-done rows
// makes concurrent upserts converge on a single row.
func (s *Store) Upsert(ctx context.Context, entry models.EnqueueEntry) (models.QueueItem, bool, error) {
	if err := entry.Validate(); err != nil {
		return models.QueueItem{}, false, err
	}
	meta, err := json.Marshal(nonNilMeta(entry.Metadata))
	if err != nil {
		return models.QueueItem{}, false, fmt.Errorf("%w: marshal metadata: %v", models.ErrInvalidArgument, err)
	}
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO review_queue (id, generation_id, collection_id, mode, status, ordering_key, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, $7)
		ON CONFLICT (collection_id, mode, generation_id) WHERE status <> 'done'
		DO UPDATE SET ordering_key = EXCLUDED.ordering_key, metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at
		RETURNING `+queueColumns+`, (xmax = 0) AS inserted
	`, uuid.New().String(), entry.GenerationID, entry.CollectionID, string(entry.Mode), entry.OrderingKey.UTC(), meta, now)

	var inserted bool
	item, err := scanQueueItem(row, &inserted)
	if err != nil {
		return models.QueueItem{}, false, models.Unavailable("upsert queue item", err)
	}
	return item, inserted, nil
}

// Claim leases pending rows with a single UPDATE over a SKIP LOCKED selection,
// so concurrent claimers never receive the same row.
func (s *Store) Claim(ctx context.Context, collectionID string, mode models.Mode, limit int, reviewerID string, now time.Time) ([]models.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		WITH picked AS (
			SELECT id FROM review_queue
			WHERE collection_id = $1 AND mode = $2 AND status = 'pending'
			ORDER BY ordering_key, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE review_queue q
		SET status = 'in_progress', assigned_to = $4, assigned_at = $5, updated_at = $5
		FROM picked
		WHERE q.id = picked.id AND q.status = 'pending'
		RETURNING `+qualify("q", queueColumns),
		collectionID, string(mode), limit, reviewerID, now.UTC())
	if err != nil {
		return nil, models.Unavailable("claim queue items", err)
	}
	items, err := collectQueueItems(rows)
	if err != nil {
		return nil, models.Unavailable("claim queue items", err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Less(items[j]) })
	return items, nil
}

// Release returns in_progress rows to pending; owner limits it to one reviewer's leases.
func (s *Store) Release(ctx context.Context, ids []string, owner string, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE review_queue
		SET status = 'pending', assigned_to = NULL, assigned_at = NULL, updated_at = $3
		WHERE id = ANY($1) AND status = 'in_progress' AND ($2 = '' OR assigned_to = $2)
	`, ids, owner, now.UTC())
	if err != nil {
		return 0, models.Unavailable("release queue items", err)
	}
	return int(tag.RowsAffected()), nil
}

// Reap requeues leases assigned at or before cutoff.
func (s *Store) Reap(ctx context.Context, cutoff, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE review_queue
		SET status = 'pending', assigned_to = NULL, assigned_at = NULL, updated_at = $2
		WHERE status = 'in_progress' AND assigned_at <= $1
	`, cutoff.UTC(), now.UTC())
	if err != nil {
		return 0, models.Unavailable("reap queue items", err)
	}
	return int(tag.RowsAffected()), nil
}

// Complete marks every non-done row of the generation done.
func (s *Store) Complete(ctx context.Context, generationID string, mode models.Mode, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE review_queue
		SET status = 'done', assigned_to = NULL, assigned_at = NULL, updated_at = $3
		WHERE generation_id = $1 AND ($2 = '' OR mode = $2) AND status <> 'done'
	`, generationID, string(mode), now.UTC())
	if err != nil {
		return 0, models.Unavailable("complete queue items", err)
	}
	return int(tag.RowsAffected()), nil
}

// Active lists non-done rows for a generation.
func (s *Store) Active(ctx context.Context, generationID string, mode models.Mode) ([]models.QueueItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+queueColumns+` FROM review_queue
		WHERE generation_id = $1 AND ($2 = '' OR mode = $2) AND status <> 'done'
		ORDER BY ordering_key, id
	`, generationID, string(mode))
	if err != nil {
		return nil, models.Unavailable("list generation items", err)
	}
	items, err := collectQueueItems(rows)
	if err != nil {
		return nil, models.Unavailable("list generation items", err)
	}
	return items, nil
}

// Counts groups a collection's rows by mode and status.
func (s *Store) Counts(ctx context.Context, collectionID string) (models.Counts, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT mode, status, COUNT(*) FROM review_queue
		WHERE collection_id = $1
		GROUP BY mode, status
	`, collectionID)
	if err != nil {
		return nil, models.Unavailable("count queue items", err)
	}
	defer rows.Close()

	counts := models.NewCounts()
	for rows.Next() {
		var mode, status string
		var n int64
		if err := rows.Scan(&mode, &status, &n); err != nil {
			return nil, models.Unavailable("scan queue counts", err)
		}
		if byStatus, ok := counts[models.Mode(mode)]; ok {
			byStatus[models.Status(status)] = int(n)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, models.Unavailable("count queue items", err)
	}
	return counts, nil
}

// InFlightDepth counts outstanding leases across all collections.
func (s *Store) InFlightDepth(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM review_queue WHERE status = 'in_progress'`).Scan(&n); err != nil {
		return 0, models.Unavailable("count in-flight items", err)
	}
	return n, nil
}

func collectQueueItems(rows pgx.Rows) ([]models.QueueItem, error) {
	defer rows.Close()
	var items []models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanQueueItem(row pgx.Row, extra ...any) (models.QueueItem, error) {
	var (
		item       models.QueueItem
		mode       string
		status     string
		assignedTo pgtype.Text
		assignedAt pgtype.Timestamptz
		metaJSON   []byte
	)
	dest := []any{
		&item.ID, &item.GenerationID, &item.CollectionID, &mode, &status,
		&assignedTo, &assignedAt, &item.OrderingKey, &metaJSON, &item.CreatedAt, &item.UpdatedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return models.QueueItem{}, fmt.Errorf("scan queue item: %w", err)
	}
	item.Mode = models.Mode(mode)
	item.Status = models.Status(status)
	if assignedTo.Valid {
		item.AssignedTo = assignedTo.String
	}
	if assignedAt.Valid {
		t := assignedAt.Time.UTC()
		item.AssignedAt = &t
	}
	item.OrderingKey = item.OrderingKey.UTC()
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &item.Metadata); err != nil {
			return models.QueueItem{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return item, nil
}

func qualify(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func nonNilMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func textOrEmpty(t pgtype.Text) string {
	if t.Valid {
		return t.String
	}
	return ""
}
