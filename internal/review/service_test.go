package review_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"review-queue/internal/artifacts"
	"review-queue/internal/logging"
	"review-queue/internal/models"
	"review-queue/internal/review"
	"review-queue/internal/testsupport"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	svc       *review.Service
	artifacts *artifacts.SQLiteStore
	clock     *testsupport.Clock
}

func newHarness(t *testing.T, settings review.Settings, opts ...review.Option) harness {
	t.Helper()
	clock := testsupport.NewClock(base)
	arts := testsupport.NewArtifactStore(t)
	opts = append([]review.Option{review.WithClock(clock.Now), review.WithLogger(logging.Discard())}, opts...)
	svc := review.New(testsupport.NewRedisQueue(t), arts, settings, opts...)
	return harness{svc: svc, artifacts: arts, clock: clock}
}

func (h harness) seedArtifacts(t *testing.T, ids ...string) {
	t.Helper()
	for i, id := range ids {
		testsupport.MustPut(t, h.artifacts, testsupport.Completed(id, "C1", base.Add(time.Duration(i+1)*time.Second)))
	}
}

func generationIDs(items []review.PoppedItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.GenerationID)
	}
	return out
}

func expectIDs(t *testing.T, got []review.PoppedItem, want ...string) {
	t.Helper()
	ids := generationIDs(got)
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, ids)
	}
}

func TestReviewLifecycle(t *testing.T) {
	h := newHarness(t, review.Settings{})
	h.seedArtifacts(t, "A", "B", "C")
	ctx := context.Background()

	first, err := h.svc.Pop(ctx, review.PopRequest{CollectionID: "C1", Mode: models.ModeReview, Limit: 2, ReviewerID: "r1"})
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	expectIDs(t, first, "A", "B")
	for _, it := range first {
		if it.Status != models.StatusInProgress {
			t.Fatalf("expected in_progress, got %s", it.Status)
		}
		if it.Artifact == nil || it.Artifact.GenerationID != it.GenerationID {
			t.Fatalf("expected joined artifact for %s", it.GenerationID)
		}
		if it.Metadata["tool"] != "txt2img" {
			t.Fatalf("expected seeded metadata, got %v", it.Metadata)
		}
	}

	second, err := h.svc.Pop(ctx, review.PopRequest{CollectionID: "C1", Mode: models.ModeReview, Limit: 2, ReviewerID: "r2"})
	if err != nil {
		t.Fatalf("second pop: %v", err)
	}
	expectIDs(t, second, "C")

	res, err := h.svc.Commit(ctx, []models.Decision{{GenerationID: "A", Mode: models.ModeReview, Outcome: models.OutcomeAccepted, ReviewerID: "r1"}})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.AppliedCount != 1 || res.Results[0].Status != models.ResultOK {
		t.Fatalf("unexpected commit result: %+v", res)
	}

	reaped, err := h.svc.Reap(ctx, 0)
	if err != nil || reaped != 2 {
		t.Fatalf("expected B and C reaped, got %d err=%v", reaped, err)
	}

	third, err := h.svc.Pop(ctx, review.PopRequest{CollectionID: "C1", Mode: models.ModeReview, Limit: 2, ReviewerID: "r3"})
	if err != nil {
		t.Fatalf("third pop: %v", err)
	}
	expectIDs(t, third, "B", "C")

	stats, err := h.svc.Stats(ctx, "C1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	counts := stats.Counts[models.ModeReview]
	if counts[models.StatusDone] != 1 || counts[models.StatusInProgress] != 2 || counts[models.StatusPending] != 0 {
		t.Fatalf("unexpected review counts: %v", counts)
	}
	if stats.Total(models.ModeCull) != 0 {
		t.Fatalf("cull pool should still be empty: %v", stats.Counts[models.ModeCull])
	}
}

func TestAcceptedArtifactMovesToCull(t *testing.T) {
	h := newHarness(t, review.Settings{})
	h.seedArtifacts(t, "A", "B")
	ctx := context.Background()

	if _, err := h.svc.Pop(ctx, review.PopRequest{CollectionID: "C1", Mode: models.ModeReview, Limit: 2}); err != nil {
		t.Fatalf("pop: %v", err)
	}
	if _, err := h.svc.Commit(ctx, []models.Decision{
		{GenerationID: "A", Mode: models.ModeReview, Outcome: models.OutcomeAccepted},
		{GenerationID: "B", Mode: models.ModeReview, Outcome: models.OutcomeRejected},
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	cull, err := h.svc.Pop(ctx, review.PopRequest{CollectionID: "C1", Mode: models.ModeCull, Limit: 5})
	if err != nil {
		t.Fatalf("cull pop: %v", err)
	}
	expectIDs(t, cull, "A")
	if cull[0].Artifact.ReviewOutcome != models.OutcomeAccepted {
		t.Fatalf("expected accepted artifact, got %+v", cull[0].Artifact)
	}

	if _, err := h.svc.Commit(ctx, []models.Decision{{GenerationID: "A", Mode: models.ModeCull, Outcome: models.OutcomeExclude}}); err != nil {
		t.Fatalf("cull commit: %v", err)
	}
	a, err := h.artifacts.Get(ctx, "A")
	if err != nil || a == nil {
		t.Fatalf("get A: %v", err)
	}
	if a.CullStatus != models.OutcomeExclude || !a.ExportExcluded {
		t.Fatalf("expected excluded artifact, got %+v", a)
	}
	again, err := h.svc.Pop(ctx, review.PopRequest{CollectionID: "C1", Mode: models.ModeCull, Limit: 5})
	if err != nil || len(again) != 0 {
		t.Fatalf("cull pool should be exhausted, got %v err=%v", generationIDs(again), err)
	}
}

func TestCommitReportsPerDecisionFailures(t *testing.T) {
	h := newHarness(t, review.Settings{})
	h.seedArtifacts(t, "G1", "G2", "G3")
	ctx := context.Background()

	if _, err := h.svc.Pop(ctx, review.PopRequest{CollectionID: "C1", Mode: models.ModeReview, Limit: 3}); err != nil {
		t.Fatalf("pop: %v", err)
	}
	if err := h.artifacts.Delete(ctx, "G2"); err != nil {
		t.Fatalf("delete G2: %v", err)
	}

	res, err := h.svc.Commit(ctx, []models.Decision{
		{GenerationID: "G1", Mode: models.ModeReview, Outcome: models.OutcomeAccepted},
		{GenerationID: "G2", Mode: models.ModeReview, Outcome: models.OutcomeAccepted},
		{GenerationID: "G3", Mode: models.ModeReview, Outcome: models.OutcomeRejected},
		{GenerationID: "G3", Mode: models.ModeReview, Outcome: models.OutcomeKeep},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.AppliedCount != 2 {
		t.Fatalf("expected two applied decisions, got %+v", res)
	}
	statuses := make([]string, 0, len(res.Results))
	for _, r := range res.Results {
		statuses = append(statuses, r.Status)
	}
	if strings.Join(statuses, ",") != "ok,error,ok,error" {
		t.Fatalf("unexpected per-decision statuses: %v", statuses)
	}
	if !strings.Contains(res.Results[1].Detail, "not found") {
		t.Fatalf("expected not found detail, got %q", res.Results[1].Detail)
	}
	if !strings.Contains(res.Results[3].Detail, "not valid for review") {
		t.Fatalf("expected validation detail, got %q", res.Results[3].Detail)
	}

	stats, err := h.svc.Stats(ctx, "C1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if got := stats.Counts[models.ModeReview]; got[models.StatusDone] != 2 || got[models.StatusInProgress] != 1 {
		t.Fatalf("G1 and G3 should be retired, G2 left leased: %v", got)
	}
}

func TestReapHonorsLockWindow(t *testing.T) {
	h := newHarness(t, review.Settings{LockWindow: 5 * time.Minute})
	h.seedArtifacts(t, "A")
	ctx := context.Background()

	popped, err := h.svc.Pop(ctx, review.PopRequest{CollectionID: "C1", Mode: models.ModeReview, Limit: 1})
	if err != nil || len(popped) != 1 {
		t.Fatalf("pop: %v %v", popped, err)
	}
	if want := base.Add(5 * time.Minute); popped[0].LeaseExpiresAt == nil || !popped[0].LeaseExpiresAt.Equal(want) {
		t.Fatalf("expected lease expiry %s, got %v", want, popped[0].LeaseExpiresAt)
	}

	h.clock.Advance(3 * time.Minute)
	if n, err := h.svc.Reap(ctx, 5*time.Minute); err != nil || n != 0 {
		t.Fatalf("fresh lease must survive, reaped %d err=%v", n, err)
	}
	h.clock.Advance(3 * time.Minute)
	if n, err := h.svc.Reap(ctx, 5*time.Minute); err != nil || n != 1 {
		t.Fatalf("expired lease must be reaped, got %d err=%v", n, err)
	}
	if _, err := h.svc.Reap(ctx, -time.Second); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("negative window should be rejected, got %v", err)
	}
}

func TestReleaseReturnsItemsToPool(t *testing.T) {
	h := newHarness(t, review.Settings{})
	h.seedArtifacts(t, "A", "B")
	ctx := context.Background()

	popped, err := h.svc.Pop(ctx, review.PopRequest{CollectionID: "C1", Mode: models.ModeReview, Limit: 2, ReviewerID: "alice"})
	if err != nil || len(popped) != 2 {
		t.Fatalf("pop: %v err=%v", generationIDs(popped), err)
	}
	n, err := h.svc.Release(ctx, []string{popped[1].QueueID, "unknown"}, "")
	if err != nil || n != 1 {
		t.Fatalf("expected one release, got %d err=%v", n, err)
	}
	again, err := h.svc.Pop(ctx, review.PopRequest{CollectionID: "C1", Mode: models.ModeReview, Limit: 2, ReviewerID: "bob"})
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	expectIDs(t, again, "B")
	if again[0].QueueID != popped[1].QueueID {
		t.Fatalf("released item should be reused, got %s want %s", again[0].QueueID, popped[1].QueueID)
	}
}

func TestStrictOwnership(t *testing.T) {
	h := newHarness(t, review.Settings{StrictOwnership: true})
	h.seedArtifacts(t, "A")
	ctx := context.Background()

	popped, err := h.svc.Pop(ctx, review.PopRequest{CollectionID: "C1", Mode: models.ModeReview, Limit: 1, ReviewerID: "alice"})
	if err != nil || len(popped) != 1 {
		t.Fatalf("pop: %v err=%v", generationIDs(popped), err)
	}

	if _, err := h.svc.Release(ctx, []string{popped[0].QueueID}, ""); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("release without reviewer should be rejected, got %v", err)
	}
	if n, err := h.svc.Release(ctx, []string{popped[0].QueueID}, "bob"); err != nil || n != 0 {
		t.Fatalf("bob must not release alice's lease, got %d err=%v", n, err)
	}

	res, err := h.svc.Commit(ctx, []models.Decision{{GenerationID: "A", Mode: models.ModeReview, Outcome: models.OutcomeRejected, ReviewerID: "bob"}})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.AppliedCount != 0 || !strings.Contains(res.Results[0].Detail, "alice") {
		t.Fatalf("expected lease conflict, got %+v", res)
	}

	res, err = h.svc.Commit(ctx, []models.Decision{{GenerationID: "A", Mode: models.ModeReview, Outcome: models.OutcomeRejected, ReviewerID: "alice"}})
	if err != nil || res.AppliedCount != 1 {
		t.Fatalf("owner commit should apply, got %+v err=%v", res, err)
	}
}

func TestPopRetiresAlreadySettledItems(t *testing.T) {
	h := newHarness(t, review.Settings{})
	ctx := context.Background()
	settled := testsupport.Completed("S", "C1", base)
	settled.ReviewOutcome = models.OutcomeRejected
	testsupport.MustPut(t, h.artifacts, settled)

	if _, err := h.svc.Enqueue(ctx, []models.EnqueueEntry{{GenerationID: "S", CollectionID: "C1", Mode: models.ModeReview}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	popped, err := h.svc.Pop(ctx, review.PopRequest{CollectionID: "C1", Mode: models.ModeReview, Limit: 5})
	if err != nil || len(popped) != 0 {
		t.Fatalf("settled item must not be handed out, got %v err=%v", generationIDs(popped), err)
	}
	stats, _ := h.svc.Stats(ctx, "C1")
	if stats.Counts[models.ModeReview][models.StatusDone] != 1 {
		t.Fatalf("settled item should be retired: %v", stats.Counts)
	}
}

func TestPopClampsToMaxBatch(t *testing.T) {
	h := newHarness(t, review.Settings{MaxBatch: 2})
	h.seedArtifacts(t, "A", "B", "C")

	popped, err := h.svc.Pop(context.Background(), review.PopRequest{CollectionID: "C1", Mode: models.ModeReview, Limit: 50})
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	expectIDs(t, popped, "A", "B")
}

func TestPopValidation(t *testing.T) {
	h := newHarness(t, review.Settings{})
	ctx := context.Background()

	cases := []review.PopRequest{
		{Mode: models.ModeReview},
		{CollectionID: "C1", Mode: "triage"},
	}
	for _, req := range cases {
		if _, err := h.svc.Pop(ctx, req); !errors.Is(err, models.ErrInvalidArgument) {
			t.Fatalf("expected invalid argument for %+v, got %v", req, err)
		}
	}
	if _, err := h.svc.Commit(ctx, nil); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("empty commit: %v", err)
	}
	if _, err := h.svc.Release(ctx, nil, "r1"); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("empty release: %v", err)
	}
	if _, err := h.svc.Stats(ctx, ""); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("empty stats: %v", err)
	}
	if _, err := h.svc.Enqueue(ctx, nil); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("empty enqueue: %v", err)
	}
}

func TestEnqueueReportsPerEntry(t *testing.T) {
	h := newHarness(t, review.Settings{})
	ctx := context.Background()

	results, err := h.svc.Enqueue(ctx, []models.EnqueueEntry{
		{GenerationID: "A", CollectionID: "C1", Mode: models.ModeReview, OrderingKey: base.Add(-time.Minute)},
		{GenerationID: "B", CollectionID: "C1", Mode: "triage"},
		{GenerationID: "A", CollectionID: "C1", Mode: models.ModeReview, OrderingKey: base.Add(-time.Minute)},
		{GenerationID: "Z", CollectionID: "C1", Mode: models.ModeReview},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got := make([]string, 0, len(results))
	for _, r := range results {
		got = append(got, r.Status+":"+r.Detail)
	}
	if got[0] != "ok:created" || !strings.HasPrefix(got[1], "error:") || got[2] != "ok:updated" || got[3] != "ok:created" {
		t.Fatalf("unexpected enqueue results: %v", got)
	}
	if results[0].QueueID != results[2].QueueID {
		t.Fatalf("re-enqueue must keep the queue id")
	}

	popped, err := h.svc.Pop(ctx, review.PopRequest{CollectionID: "C1", Mode: models.ModeReview, Limit: 5})
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	// Z defaults to the call time, which sorts after A's explicit key.
	expectIDs(t, popped, "A", "Z")
	for _, it := range popped {
		if it.Artifact != nil {
			t.Fatalf("no artifact exists for %s", it.GenerationID)
		}
	}
}

func TestSettledClaimDoesNotShortenBatch(t *testing.T) {
	h := newHarness(t, review.Settings{})
	ctx := context.Background()
	settled := testsupport.Completed("S", "C1", base.Add(-time.Hour))
	settled.ReviewOutcome = models.OutcomeAccepted
	testsupport.MustPut(t, h.artifacts, settled)
	h.seedArtifacts(t, "A", "B", "C")

	if _, err := h.svc.Enqueue(ctx, []models.EnqueueEntry{
		{GenerationID: "S", CollectionID: "C1", Mode: models.ModeReview, OrderingKey: base.Add(-time.Hour)},
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if created := h.svc.Seed(ctx, "C1", models.ModeReview, 3); created != 3 {
		t.Fatalf("expected A, B and C seeded, got %d", created)
	}

	popped, err := h.svc.Pop(ctx, review.PopRequest{CollectionID: "C1", Mode: models.ModeReview, Limit: 2})
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	expectIDs(t, popped, "A", "B")

	stats, _ := h.svc.Stats(ctx, "C1")
	counts := stats.Counts[models.ModeReview]
	if counts[models.StatusDone] != 1 || counts[models.StatusPending] != 1 || counts[models.StatusInProgress] != 2 {
		t.Fatalf("expected S retired, C pending, A and B leased: %v", counts)
	}
}

func TestNegativeLimitClaimsOne(t *testing.T) {
	h := newHarness(t, review.Settings{})
	h.seedArtifacts(t, "A", "B", "C")

	popped, err := h.svc.Pop(context.Background(), review.PopRequest{CollectionID: "C1", Mode: models.ModeReview, Limit: -5})
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	expectIDs(t, popped, "A")
}
