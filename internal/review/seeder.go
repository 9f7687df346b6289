package review

import (
	"context"

	"github.com/sirupsen/logrus"

	"review-queue/internal/models"
	"review-queue/internal/telemetry"
)

// Seeder materializes queue items from eligible artifacts when a pool runs thin.
// Seeding is best effort: failures are logged and counted, never returned.
type Seeder struct {
	artifacts ArtifactStore
	queue     QueueStore
	overFetch int
	log       logrus.FieldLogger
}

// NewSeeder builds a seeder that over-fetches overFetch times the shortfall
// to absorb artifacts that already have a queue item.
func NewSeeder(artifacts ArtifactStore, queue QueueStore, overFetch int, log logrus.FieldLogger) *Seeder {
	if overFetch < 1 {
		overFetch = 1
	}
	return &Seeder{artifacts: artifacts, queue: queue, overFetch: overFetch, log: log}
}

// Seed returns how many new queue items were created.
func (s *Seeder) Seed(ctx context.Context, collectionID string, mode models.Mode, needed int) int {
	if needed <= 0 {
		return 0
	}
	log := s.log.WithFields(logrus.Fields{"collection_id": collectionID, "mode": mode})

	candidates, err := s.artifacts.FindEligible(ctx, collectionID, mode, needed*s.overFetch)
	if err != nil {
		log.WithError(err).Warn("seed: find eligible artifacts failed")
		telemetry.SeedFailures.WithLabelValues(string(mode)).Inc()
		return 0
	}

	created := 0
	for _, a := range candidates {
		if !a.EligibleFor(mode) {
			continue
		}
		_, isNew, err := s.queue.Upsert(ctx, models.EnqueueEntry{
			GenerationID: a.GenerationID,
			CollectionID: collectionID,
			Mode:         mode,
			OrderingKey:  a.RequestedAt,
			Metadata:     a.SeedMetadata(),
		})
		if err != nil {
			log.WithError(err).WithField("generation_id", a.GenerationID).Warn("seed: upsert failed")
			telemetry.SeedFailures.WithLabelValues(string(mode)).Inc()
			continue
		}
		if isNew {
			created++
		}
	}
	if created > 0 {
		telemetry.SeedCounter.WithLabelValues(string(mode)).Add(float64(created))
		telemetry.EnqueueCounter.Add(float64(created))
	}
	log.WithFields(logrus.Fields{"needed": needed, "candidates": len(candidates), "created": created}).Debug("seed finished")
	return created
}
