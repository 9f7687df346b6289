package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"review-queue/internal/models"
)

const generationColumns = "id, collection_id, status, parent_job_id, review_outcome, cull_status, export_excluded, requested_at, tool, prompt, media_key, metadata"

// eligibility holds the per-mode seeding predicates over the generations table.
var eligibility = map[models.Mode]string{
	models.ModeReview: "status = 'completed' AND parent_job_id IS NULL AND review_outcome IS NULL",
	models.ModeCull:   "review_outcome = 'accepted' AND cull_status IS NULL",
}

// FindEligible lists generations seedable into mode, oldest request first.
func (s *Store) FindEligible(ctx context.Context, collectionID string, mode models.Mode, limit int) ([]models.Artifact, error) {
	where, ok := eligibility[mode]
	if !ok {
		return nil, fmt.Errorf("%w: unknown mode %q", models.ErrInvalidArgument, mode)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+generationColumns+` FROM generations
		WHERE collection_id = $1 AND `+where+`
		ORDER BY requested_at, id
		LIMIT $2
	`, collectionID, limit)
	if err != nil {
		return nil, models.Unavailable("find eligible generations", err)
	}
	defer rows.Close()

	var out []models.Artifact
	for rows.Next() {
		a, err := scanGeneration(rows)
		if err != nil {
			return nil, models.Unavailable("scan generation", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Unavailable("find eligible generations", err)
	}
	return out, nil
}

// Get fetches a generation by id, returning nil when it does not exist.
func (s *Store) Get(ctx context.Context, generationID string) (*models.Artifact, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+generationColumns+` FROM generations WHERE id = $1`, generationID)
	a, err := scanGeneration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, models.Unavailable("get generation", err)
	}
	return &a, nil
}

// SetReviewOutcome records a review-mode judgement.
func (s *Store) SetReviewOutcome(ctx context.Context, generationID string, outcome models.Outcome) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE generations SET review_outcome = $2, updated_at = NOW() WHERE id = $1
	`, generationID, string(outcome))
	if err != nil {
		return models.Unavailable("set review outcome", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set review outcome: generation %s: %w", generationID, models.ErrNotFound)
	}
	return nil
}

// SetCullStatus records a cull-mode judgement and the derived export flag.
func (s *Store) SetCullStatus(ctx context.Context, generationID string, outcome models.Outcome) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE generations SET cull_status = $2, export_excluded = $3, updated_at = NOW() WHERE id = $1
	`, generationID, string(outcome), outcome == models.OutcomeExclude)
	if err != nil {
		return models.Unavailable("set cull status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set cull status: generation %s: %w", generationID, models.ErrNotFound)
	}
	return nil
}

func scanGeneration(row pgx.Row) (models.Artifact, error) {
	var (
		a             models.Artifact
		status        string
		parent        pgtype.Text
		reviewOutcome pgtype.Text
		cullStatus    pgtype.Text
		tool          pgtype.Text
		prompt        pgtype.Text
		mediaKey      pgtype.Text
		metaJSON      []byte
	)
	if err := row.Scan(
		&a.GenerationID, &a.CollectionID, &status, &parent, &reviewOutcome, &cullStatus,
		&a.ExportExcluded, &a.RequestedAt, &tool, &prompt, &mediaKey, &metaJSON,
	); err != nil {
		return models.Artifact{}, err
	}
	a.Status = models.ArtifactStatus(status)
	a.ParentJobID = textOrEmpty(parent)
	a.ReviewOutcome = models.Outcome(textOrEmpty(reviewOutcome))
	a.CullStatus = models.Outcome(textOrEmpty(cullStatus))
	a.Tool = textOrEmpty(tool)
	a.Prompt = textOrEmpty(prompt)
	a.MediaKey = textOrEmpty(mediaKey)
	a.RequestedAt = a.RequestedAt.UTC()
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
			return models.Artifact{}, fmt.Errorf("unmarshal generation metadata: %w", err)
		}
	}
	return a, nil
}
