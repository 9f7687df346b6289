package review

import (
	"context"
	"fmt"

	"review-queue/internal/models"
)

// StatsReport is a read-only snapshot of one collection's queue.
type StatsReport struct {
	CollectionID string        `json:"collection_id"`
	Counts       models.Counts `json:"counts"`
}

// Total sums every status of a mode.
func (r StatsReport) Total(mode models.Mode) int {
	total := 0
	for _, n := range r.Counts[mode] {
		total += n
	}
	return total
}

// StatsReporter aggregates queue counts for dashboards.
type StatsReporter struct {
	queue QueueStore
}

// Stats returns counts by mode and status for a collection.
func (r *StatsReporter) Stats(ctx context.Context, collectionID string) (StatsReport, error) {
	if collectionID == "" {
		return StatsReport{}, fmt.Errorf("%w: collection_id is required", models.ErrInvalidArgument)
	}
	counts, err := r.queue.Counts(ctx, collectionID)
	if err != nil {
		return StatsReport{}, err
	}
	full := models.NewCounts()
	for mode, byStatus := range counts {
		if _, ok := full[mode]; !ok {
			continue
		}
		for status, n := range byStatus {
			full[mode][status] = n
		}
	}
	return StatsReport{CollectionID: collectionID, Counts: full}, nil
}
