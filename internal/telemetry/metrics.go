package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_items_enqueued_total", Help: "Queue items created by enqueue or seeding"})
	ClaimCounter     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "review_items_claimed_total", Help: "Queue items leased to reviewers"}, []string{"mode"})
	SeedCounter      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "review_items_seeded_total", Help: "Queue items created lazily from eligible artifacts"}, []string{"mode"})
	SeedFailures     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "review_seed_failures_total", Help: "Seeding attempts that degraded to fewer items"}, []string{"mode"})
	DecisionsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "review_decisions_applied_total", Help: "Reviewer decisions written to artifacts"}, []string{"mode", "outcome"})
	DecisionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "review_decisions_failed_total", Help: "Reviewer decisions that could not be applied"}, []string{"mode"})
	StaleClaims      = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_stale_claims_total", Help: "Claimed items retired because their outcome was already settled"})
	ReleaseCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_leases_released_total", Help: "Leases returned explicitly by reviewers"})
	ReapCounter      = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_leases_reaped_total", Help: "Expired leases reclaimed by reap"})
	ReapErrors       = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_reap_errors_total", Help: "Reap sweeps that failed against the store"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_rate_limit_rejects_total", Help: "Pop requests rejected by rate limiter"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "review_inflight", Help: "Queue items currently leased"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			ClaimCounter,
			SeedCounter,
			SeedFailures,
			DecisionsApplied,
			DecisionFailures,
			StaleClaims,
			ReleaseCounter,
			ReapCounter,
			ReapErrors,
			RateLimitRejects,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
