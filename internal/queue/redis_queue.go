package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"review-queue/internal/config"
	"review-queue/internal/models"
)

// RedisQueue keeps queue items in Redis hashes with per-(collection, mode)
// sorted sets for pending and in-flight items. Every state change runs as a
// Lua script so each transition is atomic on the server.
type RedisQueue struct {
	client      *redis.Client
	prefix      string
	inflightKey string
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisQueueWithClient(client, cfg.RedisKeyPrefix)
}

// NewRedisQueueWithClient wraps an existing client; an empty prefix defaults to "rq".
func NewRedisQueueWithClient(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "rq"
	}
	return &RedisQueue{
		client:      client,
		prefix:      prefix,
		inflightKey: prefix + ":inflight",
	}
}

// Client exposes the underlying connection for components sharing it.
func (q *RedisQueue) Client() *redis.Client {
	return q.client
}

// Close releases the Redis connection pool.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) itemKey(id string) string {
	return q.prefix + ":item:" + id
}

func (q *RedisQueue) scopeKey(collectionID string, mode models.Mode, suffix string) string {
	return fmt.Sprintf("%s:%s:%s:%s", q.prefix, collectionID, mode, suffix)
}

func (q *RedisQueue) byGenerationKey(generationID string) string {
	return q.prefix + ":bygen:" + generationID
}

// Upsert creates or refreshes the single non-done item for the entry's generation.
func (q *RedisQueue) Upsert(ctx context.Context, entry models.EnqueueEntry) (models.QueueItem, bool, error) {
	if err := entry.Validate(); err != nil {
		return models.QueueItem{}, false, err
	}
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return models.QueueItem{}, false, fmt.Errorf("%w: marshal metadata: %v", models.ErrInvalidArgument, err)
	}
	keys := []string{
		q.scopeKey(entry.CollectionID, entry.Mode, "gen"),
		q.scopeKey(entry.CollectionID, entry.Mode, "pending"),
		q.byGenerationKey(entry.GenerationID),
	}
	now := time.Now().UTC()
	res, err := upsertScript.Run(ctx, q.client, keys,
		q.prefix,
		uuid.New().String(),
		entry.GenerationID,
		entry.CollectionID,
		string(entry.Mode),
		entry.OrderingKey.UnixMilli(),
		string(meta),
		now.UnixMilli(),
	).Result()
	if err != nil {
		return models.QueueItem{}, false, models.Unavailable("upsert queue item", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return models.QueueItem{}, false, fmt.Errorf("unexpected upsert reply: %T", res)
	}
	id, _ := arr[0].(string)
	created, _ := arr[1].(int64)

	items, err := q.fetch(ctx, []string{id})
	if err != nil {
		return models.QueueItem{}, false, err
	}
	if len(items) == 0 {
		return models.QueueItem{}, false, fmt.Errorf("queue item %s vanished after upsert: %w", id, models.ErrNotFound)
	}
	return items[0], created == 1, nil
}

// Claim leases up to limit pending items to reviewerID in ordering-key order.
func (q *RedisQueue) Claim(ctx context.Context, collectionID string, mode models.Mode, limit int, reviewerID string, now time.Time) ([]models.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	keys := []string{
		q.scopeKey(collectionID, mode, "pending"),
		q.scopeKey(collectionID, mode, "inflight"),
		q.inflightKey,
	}
	res, err := claimScript.Run(ctx, q.client, keys, q.prefix, limit, reviewerID, now.UnixMilli()).Result()
	if err != nil && err != redis.Nil {
		return nil, models.Unavailable("claim queue items", err)
	}
	ids := toStrings(res)
	items, err := q.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Less(items[j]) })
	return items, nil
}

// Release returns the named in_progress items to their pending pools.
func (q *RedisQueue) Release(ctx context.Context, ids []string, owner string, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]interface{}, 0, len(ids)+3)
	args = append(args, q.prefix, owner, now.UnixMilli())
	for _, id := range ids {
		args = append(args, id)
	}
	n, err := releaseScript.Run(ctx, q.client, []string{q.inflightKey}, args...).Int()
	if err != nil {
		return 0, models.Unavailable("release queue items", err)
	}
	return n, nil
}

// Reap requeues leases assigned at or before cutoff.
func (q *RedisQueue) Reap(ctx context.Context, cutoff, now time.Time) (int, error) {
	n, err := reapScript.Run(ctx, q.client, []string{q.inflightKey}, q.prefix, cutoff.UnixMilli(), now.UnixMilli()).Int()
	if err != nil {
		return 0, models.Unavailable("reap queue items", err)
	}
	return n, nil
}

// Complete retires every non-done item of the generation, optionally filtered by mode.
func (q *RedisQueue) Complete(ctx context.Context, generationID string, mode models.Mode, now time.Time) (int, error) {
	keys := []string{q.byGenerationKey(generationID), q.inflightKey}
	n, err := completeScript.Run(ctx, q.client, keys, q.prefix, string(mode), now.UnixMilli(), generationID).Int()
	if err != nil {
		return 0, models.Unavailable("complete queue items", err)
	}
	return n, nil
}

// Active lists the non-done items of a generation in one mode.
func (q *RedisQueue) Active(ctx context.Context, generationID string, mode models.Mode) ([]models.QueueItem, error) {
	ids, err := q.client.SMembers(ctx, q.byGenerationKey(generationID)).Result()
	if err != nil {
		return nil, models.Unavailable("list generation items", err)
	}
	items, err := q.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, it := range items {
		if it.Status != models.StatusDone && (mode == "" || it.Mode == mode) {
			out = append(out, it)
		}
	}
	return out, nil
}

// Counts reads pool sizes for each mode of a collection in one pipeline.
func (q *RedisQueue) Counts(ctx context.Context, collectionID string) (models.Counts, error) {
	pipe := q.client.Pipeline()
	type modeCmds struct {
		pending, inflight, done *redis.IntCmd
	}
	cmds := make(map[models.Mode]modeCmds, len(models.Modes))
	for _, m := range models.Modes {
		cmds[m] = modeCmds{
			pending:  pipe.ZCard(ctx, q.scopeKey(collectionID, m, "pending")),
			inflight: pipe.ZCard(ctx, q.scopeKey(collectionID, m, "inflight")),
			done:     pipe.SCard(ctx, q.scopeKey(collectionID, m, "done")),
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, models.Unavailable("count queue items", err)
	}
	counts := models.NewCounts()
	for m, c := range cmds {
		counts[m][models.StatusPending] = int(c.pending.Val())
		counts[m][models.StatusInProgress] = int(c.inflight.Val())
		counts[m][models.StatusDone] = int(c.done.Val())
	}
	return counts, nil
}

// InFlightDepth returns how many leases are outstanding across all collections.
func (q *RedisQueue) InFlightDepth(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.inflightKey).Result()
	if err != nil {
		return 0, models.Unavailable("count in-flight items", err)
	}
	return n, nil
}

// Get loads a single item by id.
func (q *RedisQueue) Get(ctx context.Context, id string) (models.QueueItem, error) {
	items, err := q.fetch(ctx, []string{id})
	if err != nil {
		return models.QueueItem{}, err
	}
	if len(items) == 0 {
		return models.QueueItem{}, fmt.Errorf("queue item %s: %w", id, models.ErrNotFound)
	}
	return items[0], nil
}

func (q *RedisQueue) fetch(ctx context.Context, ids []string) ([]models.QueueItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := q.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, q.itemKey(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, models.Unavailable("load queue items", err)
	}
	items := make([]models.QueueItem, 0, len(ids))
	for _, c := range cmds {
		fields := c.Val()
		if len(fields) == 0 {
			continue
		}
		item, err := decodeItem(fields)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func decodeItem(f map[string]string) (models.QueueItem, error) {
	item := models.QueueItem{
		ID:           f["id"],
		GenerationID: f["generation_id"],
		CollectionID: f["collection_id"],
		Mode:         models.Mode(f["mode"]),
		Status:       models.Status(f["status"]),
		AssignedTo:   f["assigned_to"],
		OrderingKey:  msToTime(f["ordering_key"]),
		CreatedAt:    msToTime(f["created_at"]),
		UpdatedAt:    msToTime(f["updated_at"]),
	}
	if raw := f["assigned_at"]; raw != "" {
		t := msToTime(raw)
		item.AssignedAt = &t
	}
	if raw := f["metadata"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &item.Metadata); err != nil {
			return models.QueueItem{}, fmt.Errorf("unmarshal metadata for %s: %w", item.ID, err)
		}
	}
	return item, nil
}

func msToTime(raw string) time.Time {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toStrings(res interface{}) []string {
	arr, ok := res.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
