package artifacts_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"review-queue/internal/artifacts"
	"review-queue/internal/models"
)

func openStore(t *testing.T) *artifacts.SQLiteStore {
	t.Helper()
	store, err := artifacts.Open(context.Background(), filepath.Join(t.TempDir(), "artifacts.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func put(t *testing.T, store *artifacts.SQLiteStore, a models.Artifact) {
	t.Helper()
	if err := store.Put(context.Background(), a); err != nil {
		t.Fatalf("put %s: %v", a.GenerationID, err)
	}
}

func TestFindEligibleReviewFilters(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	put(t, store, models.Artifact{GenerationID: "late", CollectionID: "c1", Status: models.ArtifactCompleted, RequestedAt: base.Add(3 * time.Minute)})
	put(t, store, models.Artifact{GenerationID: "early", CollectionID: "c1", Status: models.ArtifactCompleted, RequestedAt: base.Add(time.Minute)})
	put(t, store, models.Artifact{GenerationID: "failed", CollectionID: "c1", Status: models.ArtifactFailed, RequestedAt: base})
	put(t, store, models.Artifact{GenerationID: "substep", CollectionID: "c1", Status: models.ArtifactCompleted, ParentJobID: "batch-1", RequestedAt: base})
	put(t, store, models.Artifact{GenerationID: "reviewed", CollectionID: "c1", Status: models.ArtifactCompleted, ReviewOutcome: models.OutcomeRejected, RequestedAt: base})
	put(t, store, models.Artifact{GenerationID: "other", CollectionID: "c2", Status: models.ArtifactCompleted, RequestedAt: base})

	got, err := store.FindEligible(ctx, "c1", models.ModeReview, 10)
	if err != nil {
		t.Fatalf("find eligible: %v", err)
	}
	if len(got) != 2 || got[0].GenerationID != "early" || got[1].GenerationID != "late" {
		t.Fatalf("unexpected eligible set: %+v", got)
	}

	limited, err := store.FindEligible(ctx, "c1", models.ModeReview, 1)
	if err != nil {
		t.Fatalf("find eligible limited: %v", err)
	}
	if len(limited) != 1 || limited[0].GenerationID != "early" {
		t.Fatalf("expected limit to keep oldest, got %+v", limited)
	}
}

func TestReviewAcceptMakesCullEligible(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	put(t, store, models.Artifact{GenerationID: "g1", CollectionID: "c1", Status: models.ArtifactCompleted, RequestedAt: time.Now()})

	cull, err := store.FindEligible(ctx, "c1", models.ModeCull, 10)
	if err != nil || len(cull) != 0 {
		t.Fatalf("expected no cull candidates before review, got %v err=%v", cull, err)
	}
	if err := store.SetReviewOutcome(ctx, "g1", models.OutcomeAccepted); err != nil {
		t.Fatalf("set review outcome: %v", err)
	}
	cull, err = store.FindEligible(ctx, "c1", models.ModeCull, 10)
	if err != nil || len(cull) != 1 {
		t.Fatalf("expected g1 cull candidate, got %v err=%v", cull, err)
	}
	review, _ := store.FindEligible(ctx, "c1", models.ModeReview, 10)
	if len(review) != 0 {
		t.Fatalf("reviewed artifact should leave the review pool, got %v", review)
	}

	if err := store.SetCullStatus(ctx, "g1", models.OutcomeExclude); err != nil {
		t.Fatalf("set cull status: %v", err)
	}
	a, err := store.Get(ctx, "g1")
	if err != nil || a == nil {
		t.Fatalf("get: %v", err)
	}
	if a.CullStatus != models.OutcomeExclude || !a.ExportExcluded {
		t.Fatalf("expected excluded artifact, got %+v", a)
	}
}

func TestMissingArtifact(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	a, err := store.Get(ctx, "ghost")
	if err != nil || a != nil {
		t.Fatalf("expected nil artifact without error, got %v err=%v", a, err)
	}
	if err := store.SetReviewOutcome(ctx, "ghost", models.OutcomeAccepted); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.SetCullStatus(ctx, "ghost", models.OutcomeKeep); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutRoundTripsMetadata(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	put(t, store, models.Artifact{
		GenerationID: "g1",
		CollectionID: "c1",
		Status:       models.ArtifactCompleted,
		Tool:         "txt2img",
		MediaKey:     "renders/g1.png",
		RequestedAt:  time.UnixMilli(1700000000000),
		Metadata:     map[string]any{"channel": "discord"},
	})
	a, err := store.Get(ctx, "g1")
	if err != nil || a == nil {
		t.Fatalf("get: %v", err)
	}
	if a.Metadata["channel"] != "discord" || a.Tool != "txt2img" || a.MediaKey != "renders/g1.png" {
		t.Fatalf("unexpected artifact: %+v", a)
	}
	if a.RequestedAt.UnixMilli() != 1700000000000 {
		t.Fatalf("requested_at not preserved: %s", a.RequestedAt)
	}
}
