package review

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"review-queue/internal/models"
	"review-queue/internal/telemetry"
)

// PopRequest names the pool to claim from and who is claiming.
// Zero Limit and LockWindow fall back to the configured defaults.
type PopRequest struct {
	CollectionID string
	Mode         models.Mode
	Limit        int
	ReviewerID   string
	LockWindow   time.Duration
}

// PoppedItem is a claimed queue item joined with its artifact.
// Artifact is nil when the generation record no longer exists.
type PoppedItem struct {
	QueueID        string           `json:"queue_id"`
	GenerationID   string           `json:"generation_id"`
	Status         models.Status    `json:"status"`
	AssignedAt     *time.Time       `json:"assigned_at,omitempty"`
	LeaseExpiresAt *time.Time       `json:"lease_expires_at,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	Artifact       *models.Artifact `json:"artifact"`
}

// LeaseManager claims, releases and reaps leases over a QueueStore.
type LeaseManager struct {
	queue     QueueStore
	artifacts ArtifactStore
	seeder    *Seeder
	previews  Previewer
	settings  Settings
	log       logrus.FieldLogger
	now       func() time.Time
}

// clampLimit maps 0 to the default and clamps everything else to [1, MaxBatch].
func (m *LeaseManager) clampLimit(limit int) int {
	if limit == 0 {
		return m.settings.DefaultLimit
	}
	if limit < 1 {
		return 1
	}
	if limit > m.settings.MaxBatch {
		return m.settings.MaxBatch
	}
	return limit
}

// Pop claims up to Limit pending items, seeding the pool at most once when
// the first claim comes up short. A result shorter than Limit means the pool
// is exhausted.
func (m *LeaseManager) Pop(ctx context.Context, req PopRequest) ([]PoppedItem, error) {
	if req.CollectionID == "" {
		return nil, fmt.Errorf("%w: collection_id is required", models.ErrInvalidArgument)
	}
	mode, err := models.ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	limit := m.clampLimit(req.Limit)
	reviewer := req.ReviewerID
	if reviewer == "" {
		reviewer = AnonymousReviewer
	}
	window := req.LockWindow
	if window <= 0 {
		window = m.settings.LockWindow
	}
	log := m.log.WithFields(logrus.Fields{
		"collection_id": req.CollectionID,
		"mode":          mode,
		"reviewer_id":   reviewer,
	})

	now := m.now().UTC()
	live, err := m.claimLive(ctx, req.CollectionID, mode, limit, reviewer, now, log)
	if err != nil {
		return nil, err
	}
	if short := limit - len(live); short > 0 {
		m.seeder.Seed(ctx, req.CollectionID, mode, short)
		more, err := m.claimLive(ctx, req.CollectionID, mode, short, reviewer, now, log)
		switch {
		case err != nil && len(live) == 0:
			return nil, err
		case err != nil:
			log.WithError(err).Warn("pop: retry claim failed, returning first batch")
		default:
			live = append(live, more...)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].item.Less(live[j].item) })

	out := make([]PoppedItem, 0, len(live))
	for _, c := range live {
		if c.artifact != nil && m.previews != nil && c.artifact.MediaKey != "" {
			url, err := m.previews.PreviewURL(ctx, c.artifact.MediaKey)
			if err != nil {
				log.WithError(err).WithField("generation_id", c.item.GenerationID).Debug("pop: preview url unavailable")
			} else {
				c.artifact.PreviewURL = url
			}
		}
		out = append(out, popped(c.item, c.artifact, window))
	}
	return out, nil
}

type claim struct {
	item     models.QueueItem
	artifact *models.Artifact
}

// claimLive claims up to limit items and joins their artifacts. Items whose
// outcome is already settled are retired and left out, so the caller's
// shortfall counts them.
func (m *LeaseManager) claimLive(ctx context.Context, collectionID string, mode models.Mode, limit int, reviewer string, now time.Time, log logrus.FieldLogger) ([]claim, error) {
	claimed, err := m.queue.Claim(ctx, collectionID, mode, limit, reviewer, now)
	if err != nil {
		return nil, err
	}
	telemetry.ClaimCounter.WithLabelValues(string(mode)).Add(float64(len(claimed)))

	live := make([]claim, 0, len(claimed))
	for _, item := range claimed {
		artifact, err := m.artifacts.Get(ctx, item.GenerationID)
		if err != nil {
			log.WithError(err).WithField("generation_id", item.GenerationID).Warn("pop: artifact lookup failed")
			artifact = nil
		}
		if artifact != nil && artifact.Settled(mode) {
			// Outcome already written by a commit whose queue update never landed.
			if _, err := m.queue.Complete(ctx, item.GenerationID, mode, now); err != nil {
				log.WithError(err).WithField("generation_id", item.GenerationID).Warn("pop: retire stale claim failed")
			}
			telemetry.StaleClaims.Inc()
			continue
		}
		live = append(live, claim{item: item, artifact: artifact})
	}
	return live, nil
}

func popped(item models.QueueItem, artifact *models.Artifact, window time.Duration) PoppedItem {
	p := PoppedItem{
		QueueID:      item.ID,
		GenerationID: item.GenerationID,
		Status:       item.Status,
		AssignedAt:   item.AssignedAt,
		Metadata:     item.Metadata,
		Artifact:     artifact,
	}
	if item.AssignedAt != nil {
		expires := item.AssignedAt.Add(window)
		p.LeaseExpiresAt = &expires
	}
	return p
}

// Release returns the named in_progress items to pending. Under strict
// ownership only items held by reviewerID are released.
func (m *LeaseManager) Release(ctx context.Context, queueIDs []string, reviewerID string) (int, error) {
	if len(queueIDs) == 0 {
		return 0, fmt.Errorf("%w: queue_ids must not be empty", models.ErrInvalidArgument)
	}
	owner := ""
	if m.settings.StrictOwnership {
		if reviewerID == "" {
			return 0, fmt.Errorf("%w: reviewer_id is required under strict lease ownership", models.ErrInvalidArgument)
		}
		owner = reviewerID
	}
	n, err := m.queue.Release(ctx, queueIDs, owner, m.now().UTC())
	if err != nil {
		return 0, err
	}
	telemetry.ReleaseCounter.Add(float64(n))
	m.log.WithFields(logrus.Fields{"reviewer_id": reviewerID, "requested": len(queueIDs), "released": n}).Debug("leases released")
	return n, nil
}

// Reap returns every lease older than lockWindow to pending. Safe to run
// concurrently with Pop and with other reaps.
func (m *LeaseManager) Reap(ctx context.Context, lockWindow time.Duration) (int, error) {
	if lockWindow < 0 {
		return 0, fmt.Errorf("%w: lock window must not be negative", models.ErrInvalidArgument)
	}
	now := m.now().UTC()
	n, err := m.queue.Reap(ctx, now.Add(-lockWindow), now)
	if err != nil {
		telemetry.ReapErrors.Inc()
		return 0, err
	}
	if n > 0 {
		telemetry.ReapCounter.Add(float64(n))
		m.log.WithFields(logrus.Fields{"reclaimed": n, "lock_window": lockWindow.String()}).Info("expired leases reclaimed")
	}
	return n, nil
}
