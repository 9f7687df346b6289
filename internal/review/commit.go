package review

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"review-queue/internal/models"
	"review-queue/internal/telemetry"
)

// CommitResult summarizes a decision batch.
type CommitResult struct {
	AppliedCount int                  `json:"applied_count"`
	Results      []models.EntryResult `json:"results"`
}

// DecisionCommitter writes reviewer outcomes to artifacts and retires the
// matching queue items. Each decision succeeds or fails on its own.
type DecisionCommitter struct {
	queue     QueueStore
	artifacts ArtifactStore
	strict    bool
	log       logrus.FieldLogger
	now       func() time.Time
}

// Commit applies every decision in order. It only fails as a whole when the
// batch is empty.
func (c *DecisionCommitter) Commit(ctx context.Context, decisions []models.Decision) (CommitResult, error) {
	if len(decisions) == 0 {
		return CommitResult{}, fmt.Errorf("%w: decisions must not be empty", models.ErrInvalidArgument)
	}
	result := CommitResult{Results: make([]models.EntryResult, 0, len(decisions))}
	for _, d := range decisions {
		res := c.apply(ctx, d)
		if res.Status == models.ResultOK {
			result.AppliedCount++
		}
		result.Results = append(result.Results, res)
	}
	return result, nil
}

func (c *DecisionCommitter) apply(ctx context.Context, d models.Decision) models.EntryResult {
	res := models.EntryResult{GenerationID: d.GenerationID, Mode: d.Mode}
	log := c.log.WithFields(logrus.Fields{
		"generation_id": d.GenerationID,
		"mode":          d.Mode,
		"reviewer_id":   d.ReviewerID,
	})
	fail := func(err error) models.EntryResult {
		log.WithError(err).Warn("commit: decision not applied")
		telemetry.DecisionFailures.WithLabelValues(string(d.Mode)).Inc()
		res.Status = models.ResultError
		res.Detail = err.Error()
		return res
	}

	if err := d.Validate(); err != nil {
		return fail(err)
	}
	if c.strict {
		if err := c.checkOwnership(ctx, d); err != nil {
			return fail(err)
		}
	}

	var err error
	switch d.Mode {
	case models.ModeReview:
		err = c.artifacts.SetReviewOutcome(ctx, d.GenerationID, d.Outcome)
	case models.ModeCull:
		err = c.artifacts.SetCullStatus(ctx, d.GenerationID, d.Outcome)
	}
	if err != nil {
		return fail(err)
	}
	telemetry.DecisionsApplied.WithLabelValues(string(d.Mode), string(d.Outcome)).Inc()

	res.Status = models.ResultOK
	retired, err := c.queue.Complete(ctx, d.GenerationID, d.Mode, c.now().UTC())
	if err != nil {
		// The outcome is written; eligibility now excludes the artifact and the
		// next pop that claims the item retires it.
		log.WithError(err).Warn("commit: outcome applied but queue item not retired")
		res.Detail = "outcome applied; queue retirement deferred"
		return res
	}
	res.Detail = fmt.Sprintf("retired %d queue item(s)", retired)
	return res
}

func (c *DecisionCommitter) checkOwnership(ctx context.Context, d models.Decision) error {
	if d.ReviewerID == "" {
		return fmt.Errorf("%w: reviewer_id is required under strict lease ownership", models.ErrInvalidArgument)
	}
	items, err := c.queue.Active(ctx, d.GenerationID, d.Mode)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.Status == models.StatusInProgress && it.AssignedTo != d.ReviewerID {
			return fmt.Errorf("%w: queue item %s is assigned to %s", models.ErrLeaseConflict, it.ID, it.AssignedTo)
		}
	}
	return nil
}

