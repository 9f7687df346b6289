// Package testsupport builds wired stores for package tests: a miniredis
// backed queue, a temp-dir SQLite artifact store and a settable clock.
package testsupport

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"review-queue/internal/artifacts"
	"review-queue/internal/models"
	"review-queue/internal/queue"
)

// NewRedis starts a miniredis server torn down with the test.
func NewRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

// NewRedisQueue returns a queue store on a fresh miniredis.
func NewRedisQueue(t testing.TB) *queue.RedisQueue {
	t.Helper()
	_, client := NewRedis(t)
	return queue.NewRedisQueueWithClient(client, "test")
}

// NewArtifactStore opens an SQLite artifact store in a temp dir.
func NewArtifactStore(t testing.TB) *artifacts.SQLiteStore {
	t.Helper()
	store, err := artifacts.Open(context.Background(), filepath.Join(t.TempDir(), "artifacts.db"))
	if err != nil {
		t.Fatalf("open artifact store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Completed builds a review-eligible artifact.
func Completed(generationID, collectionID string, requestedAt time.Time) models.Artifact {
	return models.Artifact{
		GenerationID: generationID,
		CollectionID: collectionID,
		Status:       models.ArtifactCompleted,
		RequestedAt:  requestedAt,
		Tool:         "txt2img",
	}
}

// MustPut stores artifacts or fails the test.
func MustPut(t testing.TB, store *artifacts.SQLiteStore, list ...models.Artifact) {
	t.Helper()
	for _, a := range list {
		if err := store.Put(context.Background(), a); err != nil {
			t.Fatalf("put artifact %s: %v", a.GenerationID, err)
		}
	}
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts the clock at now truncated to milliseconds, the precision the stores keep.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now.UTC().Truncate(time.Millisecond)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
