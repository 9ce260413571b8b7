// Package api exposes the operations HTTP surface of the ingestion service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/localnewslab/newsingest/internal/dedup"
	"github.com/localnewslab/newsingest/internal/ingest"
	"github.com/localnewslab/newsingest/internal/metrics"
	"github.com/localnewslab/newsingest/internal/storage/postgres"
)

const maintenanceTimeout = 60 * time.Second

// Pinger reports database liveness for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the maintenance and health endpoints.
type Server struct {
	router     chi.Router
	db         Pinger
	reconciler *dedup.Reconciler
	store      *postgres.PipelineStore
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(db Pinger, reconciler *dedup.Reconciler, store *postgres.PipelineStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		db:         db,
		reconciler: reconciler,
		store:      store,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/maintenance/dedup", s.reconcileDedup)
		r.Post("/content/{content_id}/reprocess", s.reprocessContent)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// reconcileDedup handles POST /v1/maintenance/dedup. The default is a
// dry run reporting duplicate groups and the rows a real pass would
// remove; destructive mode requires confirm=DELETE.
func (s *Server) reconcileDedup(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("confirm") != "DELETE"
	ctx, cancel := context.WithTimeout(r.Context(), maintenanceTimeout)
	defer cancel()

	result, err := s.reconciler.Reconcile(ctx, dryRun)
	if err != nil {
		s.logger.Error("dedup reconcile failed", zap.Bool("dry_run", dryRun), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reconcile failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type reprocessRequest struct {
	Status string `json:"status"`
}

// reprocessContent handles POST /v1/content/{content_id}/reprocess, the
// only path that moves a content row backward through the stage graph.
func (s *Server) reprocessContent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "content_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid content id")
		return
	}
	var req reprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	status := ingest.ContentStatus(req.Status)
	switch status {
	case ingest.ContentExtracted, ingest.ContentCleaned:
	default:
		writeError(w, http.StatusBadRequest, "status must be extracted or cleaned")
		return
	}
	if err := s.store.ReprocessContent(r.Context(), id, status); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content_id": id, "status": string(status)})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
