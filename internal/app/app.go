// Package app assembles the configured stores into a review.Service. The API,
// reaper and CLI binaries share it so they always agree on backends.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"review-queue/internal/artifacts"
	"review-queue/internal/config"
	"review-queue/internal/preview"
	"review-queue/internal/queue"
	"review-queue/internal/ratelimit"
	"review-queue/internal/review"
	"review-queue/internal/store"
	"review-queue/internal/sweeper"
)

// App holds the wired service and the handles that need closing.
type App struct {
	Config  config.Config
	Service *review.Service
	Depth   sweeper.DepthReader
	Log     logrus.FieldLogger

	redis   *redis.Client
	closers []func()
}

// Open connects to every configured backend and runs migrations.
func Open(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var pg *store.Store
	if cfg.QueueBackend == config.BackendPostgres || cfg.ArtifactBackend == config.BackendPostgres {
		st, err := store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		if err := st.RunMigrations(ctx); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		pg = st
	}

	var qs review.QueueStore
	switch cfg.QueueBackend {
	case config.BackendRedis:
		rq := queue.NewRedisQueue(cfg)
		a.closers = append(a.closers, func() { _ = rq.Close() })
		if err := rq.Client().Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = rq.Client()
		qs, a.Depth = rq, rq
	case config.BackendPostgres:
		qs, a.Depth = pg, pg
	default:
		return nil, fmt.Errorf("unsupported queue backend %q", cfg.QueueBackend)
	}

	var as review.ArtifactStore
	switch cfg.ArtifactBackend {
	case config.BackendPostgres:
		as = pg
	case config.BackendSQLite:
		lite, err := artifacts.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = lite.Close() })
		as = lite
	default:
		return nil, fmt.Errorf("unsupported artifact backend %q", cfg.ArtifactBackend)
	}

	opts := []review.Option{review.WithLogger(log)}
	signer, err := preview.NewS3Signer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if signer != nil {
		opts = append(opts, review.WithPreviewer(signer))
	}

	a.Service = review.New(qs, as, review.SettingsFromConfig(cfg), opts...)
	log.WithFields(logrus.Fields{
		"queue_backend":    cfg.QueueBackend,
		"artifact_backend": cfg.ArtifactBackend,
		"lease_ownership":  cfg.LeaseOwnership,
		"previews":         signer != nil,
	}).Info("review queue ready")
	ok = true
	return a, nil
}

// Limiter returns the per-reviewer pop limiter, or nil when the queue does
// not run on Redis or the capacity is zero.
func (a *App) Limiter() *ratelimit.TokenBucket {
	if a.redis == nil || a.Config.RateLimitCapacity <= 0 {
		return nil
	}
	return ratelimit.NewTokenBucket(a.redis, a.Config.RedisKeyPrefix, a.Config.RateLimitCapacity, a.Config.RateLimitRefill, time.Hour)
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
