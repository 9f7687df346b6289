// Package artifacts provides an embedded SQLite ArtifactStore for
// single-node deployments and tests.
package artifacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"review-queue/internal/models"
)

const artifactColumns = "id, collection_id, status, parent_job_id, review_outcome, cull_status, export_excluded, requested_at_ms, tool, prompt, media_key, metadata_json"

// SQLiteStore keeps generation records in a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path and applies migrations.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serializes writers and keeps pragmas in effect.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, path: path}
	if err := store.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put inserts or replaces an artifact record.
func (s *SQLiteStore) Put(ctx context.Context, a models.Artifact) error {
	if a.GenerationID == "" || a.CollectionID == "" {
		return fmt.Errorf("%w: generation_id and collection_id are required", models.ErrInvalidArgument)
	}
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO generations (`+artifactColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			collection_id = excluded.collection_id, status = excluded.status,
			parent_job_id = excluded.parent_job_id, review_outcome = excluded.review_outcome,
			cull_status = excluded.cull_status, export_excluded = excluded.export_excluded,
			requested_at_ms = excluded.requested_at_ms, tool = excluded.tool,
			prompt = excluded.prompt, media_key = excluded.media_key,
			metadata_json = excluded.metadata_json, updated_at = excluded.updated_at`,
		a.GenerationID,
		a.CollectionID,
		string(a.Status),
		nullableString(a.ParentJobID),
		nullableString(string(a.ReviewOutcome)),
		nullableString(string(a.CullStatus)),
		boolToInt(a.ExportExcluded),
		a.RequestedAt.UnixMilli(),
		nullableString(a.Tool),
		nullableString(a.Prompt),
		nullableString(a.MediaKey),
		string(meta),
		nowString(),
	)
	if err != nil {
		return models.Unavailable("put artifact", err)
	}
	return nil
}

// Delete removes an artifact; deleting a missing record is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, generationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM generations WHERE id = ?`, generationID); err != nil {
		return models.Unavailable("delete artifact", err)
	}
	return nil
}

// Get fetches an artifact by generation id, returning nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, generationID string) (*models.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM generations WHERE id = ?`, generationID)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, models.Unavailable("get artifact", err)
	}
	return a, nil
}

// FindEligible lists artifacts seedable into mode, oldest request first.
func (s *SQLiteStore) FindEligible(ctx context.Context, collectionID string, mode models.Mode, limit int) ([]models.Artifact, error) {
	var where string
	switch mode {
	case models.ModeReview:
		where = `status = 'completed' AND COALESCE(parent_job_id, '') = '' AND COALESCE(review_outcome, '') = ''`
	case models.ModeCull:
		where = `review_outcome = 'accepted' AND COALESCE(cull_status, '') = ''`
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", models.ErrInvalidArgument, mode)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM generations
		 WHERE collection_id = ? AND `+where+`
		 ORDER BY requested_at_ms, id LIMIT ?`,
		collectionID, limit,
	)
	if err != nil {
		return nil, models.Unavailable("find eligible artifacts", err)
	}
	defer rows.Close()

	var out []models.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, models.Unavailable("scan artifact", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Unavailable("iterate artifacts", err)
	}
	return out, nil
}

// SetReviewOutcome records a review-mode judgement.
func (s *SQLiteStore) SetReviewOutcome(ctx context.Context, generationID string, outcome models.Outcome) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE generations SET review_outcome = ?, updated_at = ? WHERE id = ?`,
		string(outcome), nowString(), generationID,
	)
	return checkUpdated(res, err, "set review outcome", generationID)
}

// SetCullStatus records a cull-mode judgement and the derived export flag.
func (s *SQLiteStore) SetCullStatus(ctx context.Context, generationID string, outcome models.Outcome) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE generations SET cull_status = ?, export_excluded = ?, updated_at = ? WHERE id = ?`,
		string(outcome), boolToInt(outcome == models.OutcomeExclude), nowString(), generationID,
	)
	return checkUpdated(res, err, "set cull status", generationID)
}

func checkUpdated(res sql.Result, err error, op, generationID string) error {
	if err != nil {
		return models.Unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.Unavailable(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: artifact %s: %w", op, generationID, models.ErrNotFound)
	}
	return nil
}

func scanArtifact(scanner interface{ Scan(dest ...any) error }) (*models.Artifact, error) {
	var (
		a             models.Artifact
		status        string
		parent        sql.NullString
		reviewOutcome sql.NullString
		cullStatus    sql.NullString
		excluded      int
		requestedMs   int64
		tool          sql.NullString
		prompt        sql.NullString
		mediaKey      sql.NullString
		metadata      sql.NullString
	)
	if err := scanner.Scan(
		&a.GenerationID,
		&a.CollectionID,
		&status,
		&parent,
		&reviewOutcome,
		&cullStatus,
		&excluded,
		&requestedMs,
		&tool,
		&prompt,
		&mediaKey,
		&metadata,
	); err != nil {
		return nil, err
	}
	a.Status = models.ArtifactStatus(status)
	a.ParentJobID = parent.String
	a.ReviewOutcome = models.Outcome(reviewOutcome.String)
	a.CullStatus = models.Outcome(cullStatus.String)
	a.ExportExcluded = excluded != 0
	a.RequestedAt = time.UnixMilli(requestedMs).UTC()
	a.Tool = tool.String
	a.Prompt = prompt.String
	a.MediaKey = mediaKey.String
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %s: %w", a.GenerationID, err)
		}
	}
	return &a, nil
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

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
