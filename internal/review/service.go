// Package review implements the reviewer work queue: lazy seeding from
// eligible artifacts, leased batch claims, decision commits and lease reaping.
//
// The package holds no locks of its own. Mutual exclusion between reviewers
// comes entirely from the QueueStore's atomic transitions, so any number of
// Service instances may share one store.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"review-queue/internal/config"
	"review-queue/internal/models"
	"review-queue/internal/telemetry"
)

// AnonymousReviewer is recorded as the lease holder when a caller does not identify itself.
const AnonymousReviewer = "anonymous"

// Settings tunes batch sizes, lease length and ownership policy.
type Settings struct {
	DefaultLimit    int
	MaxBatch        int
	LockWindow      time.Duration
	OverFetch       int
	StrictOwnership bool
}

// SettingsFromConfig copies the queue tunables out of the runtime config.
func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		DefaultLimit:    cfg.DefaultPopLimit,
		MaxBatch:        cfg.MaxPopBatch,
		LockWindow:      cfg.LockWindow,
		OverFetch:       cfg.SeedOverFetch,
		StrictOwnership: cfg.StrictOwnership(),
	}
}

func (s Settings) withDefaults() Settings {
	if s.MaxBatch <= 0 {
		s.MaxBatch = 100
	}
	if s.DefaultLimit <= 0 {
		s.DefaultLimit = 48
	}
	if s.DefaultLimit > s.MaxBatch {
		s.DefaultLimit = s.MaxBatch
	}
	if s.LockWindow <= 0 {
		s.LockWindow = 5 * time.Minute
	}
	if s.OverFetch <= 0 {
		s.OverFetch = 3
	}
	return s
}

// Option customizes a Service.
type Option func(*deps)

type deps struct {
	log      logrus.FieldLogger
	now      func() time.Time
	previews Previewer
}

// WithLogger sets the logger used by every component.
func WithLogger(log logrus.FieldLogger) Option {
	return func(d *deps) { d.log = log }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}

// WithPreviewer attaches media preview URLs to popped artifacts.
func WithPreviewer(p Previewer) Option {
	return func(d *deps) { d.previews = p }
}

// Service is the full set of queue operations exposed to callers.
type Service struct {
	*LeaseManager
	*DecisionCommitter
	*StatsReporter

	seeder *Seeder
	queue  QueueStore
	log    logrus.FieldLogger
	now    func() time.Time
}

// New wires the components over the given stores.
func New(queue QueueStore, artifacts ArtifactStore, settings Settings, opts ...Option) *Service {
	d := deps{log: logrus.StandardLogger(), now: time.Now}
	for _, opt := range opts {
		opt(&d)
	}
	settings = settings.withDefaults()

	seeder := NewSeeder(artifacts, queue, settings.OverFetch, d.log)
	return &Service{
		LeaseManager: &LeaseManager{
			queue:     queue,
			artifacts: artifacts,
			seeder:    seeder,
			previews:  d.previews,
			settings:  settings,
			log:       d.log,
			now:       d.now,
		},
		DecisionCommitter: &DecisionCommitter{
			queue:     queue,
			artifacts: artifacts,
			strict:    settings.StrictOwnership,
			log:       d.log,
			now:       d.now,
		},
		StatsReporter: &StatsReporter{queue: queue},
		seeder:        seeder,
		queue:         queue,
		log:           d.log,
		now:           d.now,
	}
}

// Seed exposes the seeder for administrative pre-filling of a pool.
func (s *Service) Seed(ctx context.Context, collectionID string, mode models.Mode, needed int) int {
	return s.seeder.Seed(ctx, collectionID, mode, needed)
}

// Enqueue upserts each entry independently and reports a result per entry.
// A zero ordering key defaults to the time of the call.
func (s *Service) Enqueue(ctx context.Context, entries []models.EnqueueEntry) ([]models.EntryResult, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: entries must not be empty", models.ErrInvalidArgument)
	}
	results := make([]models.EntryResult, 0, len(entries))
	for _, entry := range entries {
		res := models.EntryResult{GenerationID: entry.GenerationID, Mode: entry.Mode}
		if entry.OrderingKey.IsZero() {
			entry.OrderingKey = s.now().UTC()
		}
		item, created, err := s.queue.Upsert(ctx, entry)
		if err != nil {
			s.log.WithError(err).WithField("generation_id", entry.GenerationID).Warn("enqueue failed")
			res.Status = models.ResultError
			res.Detail = err.Error()
			results = append(results, res)
			continue
		}
		res.Status = models.ResultOK
		res.QueueID = item.ID
		if created {
			res.Detail = "created"
			telemetry.EnqueueCounter.Inc()
		} else {
			res.Detail = "updated"
		}
		results = append(results, res)
	}
	return results, nil
}
