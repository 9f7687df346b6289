// Package sweeper runs reap on an interval so abandoned leases return to the
// pool without an operator calling reap by hand.
package sweeper

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"review-queue/internal/telemetry"
)

// Reaper reclaims leases older than lockWindow.
type Reaper interface {
	Reap(ctx context.Context, lockWindow time.Duration) (int, error)
}

// DepthReader reports outstanding leases for the in-flight gauge.
type DepthReader interface {
	InFlightDepth(ctx context.Context) (int64, error)
}

// Options tunes the sweep loop. Zero backoff values fall back to 1s and 1m.
type Options struct {
	Interval       time.Duration
	LockWindow     time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Sweeper drives the reap loop.
type Sweeper struct {
	reaper   Reaper
	depth    DepthReader
	opts     Options
	log      logrus.FieldLogger
	failures int
}

// New builds a sweeper. depth may be nil when the queue store cannot report it.
func New(reaper Reaper, depth DepthReader, opts Options, log logrus.FieldLogger) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sweeper{reaper: reaper, depth: depth, opts: opts, log: log}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.WithFields(logrus.Fields{
		"interval":    s.opts.Interval.String(),
		"lock_window": s.opts.LockWindow.String(),
	}).Info("sweeper started")
	for {
		wait := s.Sweep(ctx)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Sweep runs one reap and returns how long to wait before the next one.
// Consecutive failures back off exponentially with jitter.
func (s *Sweeper) Sweep(ctx context.Context) time.Duration {
	n, err := s.reaper.Reap(ctx, s.opts.LockWindow)
	if err != nil {
		s.failures++
		wait := backoffWithJitter(s.opts.BackoffInitial, s.opts.BackoffMax, s.failures)
		s.log.WithError(err).WithFields(logrus.Fields{
			"failures": s.failures,
			"retry_in": wait.String(),
		}).Warn("reap failed")
		return wait
	}
	s.failures = 0
	if n > 0 {
		s.log.WithField("reclaimed", n).Debug("sweep reclaimed leases")
	}
	if s.depth != nil {
		if depth, err := s.depth.InFlightDepth(ctx); err == nil {
			telemetry.InFlightGauge.Set(float64(depth))
		} else {
			s.log.WithError(err).Debug("in-flight depth unavailable")
		}
	}
	return s.opts.Interval
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max || exp > float64(max) {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
