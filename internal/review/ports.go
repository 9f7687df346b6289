package review

import (
	"context"
	"time"

	"review-queue/internal/models"
)

// QueueStore persists queue items. Every transition must be a single atomic
// conditional write in the backing store; callers hold no locks between calls.
type QueueStore interface {
	// Upsert creates a pending item or refreshes the non-done item already
	// present for (collection, mode, generation). created is false on refresh.
	Upsert(ctx context.Context, entry models.EnqueueEntry) (item models.QueueItem, created bool, err error)
	// Claim moves up to limit pending items to in_progress for reviewerID,
	// oldest ordering key first. No item may be returned to two callers.
	Claim(ctx context.Context, collectionID string, mode models.Mode, limit int, reviewerID string, now time.Time) ([]models.QueueItem, error)
	// Release returns in_progress items to pending. A non-empty owner limits
	// the release to items assigned to that reviewer.
	Release(ctx context.Context, ids []string, owner string, now time.Time) (int, error)
	// Reap returns in_progress items assigned at or before cutoff to pending.
	Reap(ctx context.Context, cutoff, now time.Time) (int, error)
	// Complete marks every non-done item for the generation as done. An empty
	// mode matches items of any mode.
	Complete(ctx context.Context, generationID string, mode models.Mode, now time.Time) (int, error)
	// Active lists non-done items for the generation in the given mode.
	Active(ctx context.Context, generationID string, mode models.Mode) ([]models.QueueItem, error)
	// Counts aggregates items of a collection by mode and status.
	Counts(ctx context.Context, collectionID string) (models.Counts, error)
}

// ArtifactStore is the generation record collaborator.
type ArtifactStore interface {
	// FindEligible returns up to limit artifacts seedable into mode, oldest first.
	FindEligible(ctx context.Context, collectionID string, mode models.Mode, limit int) ([]models.Artifact, error)
	// Get returns nil without error when the artifact does not exist.
	Get(ctx context.Context, generationID string) (*models.Artifact, error)
	// SetReviewOutcome returns models.ErrNotFound for an unknown artifact.
	SetReviewOutcome(ctx context.Context, generationID string, outcome models.Outcome) error
	// SetCullStatus also derives export exclusion from the outcome.
	SetCullStatus(ctx context.Context, generationID string, outcome models.Outcome) error
}

// Previewer produces a short-lived URL for an artifact's media object.
type Previewer interface {
	PreviewURL(ctx context.Context, mediaKey string) (string, error)
}
