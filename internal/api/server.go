// Package api exposes the HTTP interface for the service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/schemasmith/schemasmith/internal/autosave"
	"github.com/schemasmith/schemasmith/internal/bulk"
	"github.com/schemasmith/schemasmith/internal/bulk/scheduler"
	"github.com/schemasmith/schemasmith/internal/config"
	"github.com/schemasmith/schemasmith/internal/draft"
	"github.com/schemasmith/schemasmith/internal/exportstore"
	"github.com/schemasmith/schemasmith/internal/metrics"
	"github.com/schemasmith/schemasmith/internal/realtime"
	"github.com/schemasmith/schemasmith/internal/store"
)

// Server wires HTTP handlers to the scheduler and stores.
type Server struct {
	router    chi.Router
	jobs      bulk.Store
	scheduler *scheduler.Scheduler
	autosaves autosave.Store
	drafts    *draft.Engine
	archive   exportstore.Archive
	activity  store.ActivityRepository
	hub       *realtime.Hub
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. archive, activity,
// and hub may be nil when the corresponding features are disabled.
func NewServer(
	jobs bulk.Store,
	sched *scheduler.Scheduler,
	autosaves autosave.Store,
	drafts *draft.Engine,
	archive exportstore.Archive,
	activity store.ActivityRepository,
	hub *realtime.Hub,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:      jobs,
		scheduler: sched,
		autosaves: autosaves,
		drafts:    drafts,
		archive:   archive,
		activity:  activity,
		hub:       hub,
		cfg:       cfg,
		logger:    logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(identityMiddleware)
		r.Use(timeoutMiddleware(60 * time.Second))

		r.Route("/bulk/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Get("/", s.listJobs)
			r.Get("/stats", s.jobStats)
			r.Post("/cleanup", s.cleanupJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/start", s.startJob)
				r.Post("/cancel", s.cancelJob)
				r.Get("/results", s.jobResults)
			})
		})

		// Durable run history survives the in-memory retention sweep. Only
		// mounted when a database is configured.
		if activity != nil {
			r.Route("/bulk/history", func(r chi.Router) {
				r.Get("/", s.listJobHistory)
				r.Get("/{job_id}", s.getJobHistory)
			})
		}

		r.Route("/autosave/{project_id}", func(r chi.Router) {
			r.Get("/", s.autosaveStatus)
			r.Post("/", s.autosaveDraft)
			r.Post("/save", s.manualSave)
			r.Get("/recover", s.recoverDraft)
			r.Post("/recover", s.recoverDraft)
			r.Delete("/", s.clearDraft)
			r.Put("/settings", s.saveSettings)
		})

		r.Route("/projects/{project_id}/versions", func(r chi.Router) {
			r.Get("/", s.versionHistory)
			r.Get("/current", s.currentVersion)
			r.Get("/compare", s.compareVersions)
			r.Get("/search", s.searchVersions)
			r.Get("/stats", s.versionStats)
			r.Get("/export", s.exportVersions)
			r.Post("/{version}/restore", s.restoreVersion)
			r.Post("/{version}/tags", s.tagVersion)
		})
	})

	if hub != nil {
		r.Get("/ws", s.serveWS)
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// In-memory dependencies are always ready; downstream checks can hang
	// off this later.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	s.hub.ServeWS(w, r, userID)
}

// identityMiddleware requires an X-User-ID header on every /v1 route. The
// gateway in front of this service resolves sessions to that header.
func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identityFrom(r) == "" {
			writeError(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func identityFrom(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("user_id")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			dur := time.Since(start)
			metrics.ObserveHTTPRequest(r.Method, routePattern(r), ww.status, dur)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", dur.Milliseconds()),
			)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
