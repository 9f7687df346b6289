package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"review-queue/internal/models"
	"review-queue/internal/ratelimit"
	"review-queue/internal/review"
	"review-queue/internal/telemetry"
)

// Limiter throttles pop requests per reviewer.
type Limiter interface {
	Allow(ctx context.Context, reviewerID string) (ratelimit.Decision, error)
}

// Server wires HTTP handlers for the reviewer queue.
type Server struct {
	svc        *review.Service
	limiter    Limiter
	lockWindow time.Duration
	log        logrus.FieldLogger
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(svc *review.Service, limiter Limiter, lockWindow time.Duration, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		svc:        svc,
		limiter:    limiter,
		lockWindow: lockWindow,
		log:        log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/queue", func(r chi.Router) {
		r.Use(contentTypeJSON)
		r.Post("/enqueue", s.handleEnqueue)
		r.Post("/pop", s.handlePop)
		r.Post("/commit", s.handleCommit)
		r.Post("/release", s.handleRelease)
		r.Post("/reap", s.handleReap)
		r.Get("/stats/{collectionID}", s.handleStats)
	})
	return r
}

type enqueueRequest struct {
	Entries []models.EnqueueEntry `json:"entries"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !decode(w, r, &req) {
		return
	}
	results, err := s.svc.Enqueue(r.Context(), req.Entries)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type popRequest struct {
	CollectionID string      `json:"collection_id"`
	Mode         models.Mode `json:"mode"`
	Limit        int         `json:"limit"`
	ReviewerID   string      `json:"reviewer_id"`
	LockWindowMS int64       `json:"lock_window_ms"`
}

func (s *Server) handlePop(w http.ResponseWriter, r *http.Request) {
	var req popRequest
	if !decode(w, r, &req) {
		return
	}
	reviewer := req.ReviewerID
	if reviewer == "" {
		reviewer = review.AnonymousReviewer
	}
	if s.limiter != nil {
		d, err := s.limiter.Allow(r.Context(), reviewer)
		if err != nil {
			s.fail(w, r, models.Unavailable("rate limit", err))
			return
		}
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	items, err := s.svc.Pop(r.Context(), review.PopRequest{
		CollectionID: req.CollectionID,
		Mode:         req.Mode,
		Limit:        req.Limit,
		ReviewerID:   reviewer,
		LockWindow:   time.Duration(req.LockWindowMS) * time.Millisecond,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type commitRequest struct {
	Decisions []models.Decision `json:"decisions"`
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.Commit(r.Context(), req.Decisions)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type releaseRequest struct {
	QueueIDs   []string `json:"queue_ids"`
	ReviewerID string   `json:"reviewer_id"`
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := s.svc.Release(r.Context(), req.QueueIDs, req.ReviewerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"released": n})
}

type reapRequest struct {
	LockWindowMS *int64 `json:"lock_window_ms"`
}

func (s *Server) handleReap(w http.ResponseWriter, r *http.Request) {
	var req reapRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	window := s.lockWindow
	if req.LockWindowMS != nil {
		window = time.Duration(*req.LockWindowMS) * time.Millisecond
	}
	n, err := s.svc.Reap(r.Context(), window)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reclaimed": n})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Stats(r.Context(), chi.URLParam(r, "collectionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeError(w, code, err.Error())
}

// statusFor maps engine sentinel errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrLeaseConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
