package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/schemasmith/schemasmith/internal/bulk"
)

const (
	defaultResultsLimit = 50
	maxResultsLimit     = 500
)

type createJobRequest struct {
	URLs    []string         `json:"urls"`
	Options createJobOptions `json:"options"`
	Start   bool             `json:"start"`
}

type createJobOptions struct {
	MaxConcurrency       int      `json:"max_concurrency"`
	DelayBetweenRequests int      `json:"delay_between_requests_ms"`
	TimeoutSeconds       int      `json:"timeout_seconds"`
	TargetKeywords       []string `json:"target_keywords"`
}

// createJob handles POST /v1/bulk/jobs. The job is created pending; with
// "start": true it is handed to the scheduler immediately.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	opts := bulk.Options{
		MaxConcurrency:       req.Options.MaxConcurrency,
		DelayBetweenRequests: time.Duration(req.Options.DelayBetweenRequests) * time.Millisecond,
		Timeout:              time.Duration(req.Options.TimeoutSeconds) * time.Second,
		TargetKeywords:       req.Options.TargetKeywords,
	}
	job, err := s.jobs.Create(r.Context(), userID, req.URLs, opts)
	if err != nil {
		s.writeBulkError(w, err, "create job failed")
		return
	}

	if req.Start {
		if err := s.scheduler.Start(r.Context(), job.ID, userID); err != nil {
			// The job exists but could not start; return it with the error
			// so the caller can retry /start.
			s.logger.Warn("job created but not started", zap.String("job_id", job.ID), zap.Error(err))
			writeJSON(w, http.StatusCreated, map[string]any{
				"job":         job,
				"start_error": err.Error(),
			})
			return
		}
		job, err = s.jobs.Get(r.Context(), job.ID, userID)
		if err != nil {
			s.writeBulkError(w, err, "load started job failed")
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"job": job})
}

// startJob handles POST /v1/bulk/jobs/{job_id}/start.
func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	jobID := chi.URLParam(r, "job_id")
	if err := s.scheduler.Start(r.Context(), jobID, userID); err != nil {
		s.writeBulkError(w, err, "start job failed")
		return
	}
	job, err := s.jobs.Get(r.Context(), jobID, userID)
	if err != nil {
		s.writeBulkError(w, err, "load job failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

// getJob handles GET /v1/bulk/jobs/{job_id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.Get(r.Context(), jobID, userID)
	if err != nil {
		s.writeBulkError(w, err, "get job failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// listJobs handles GET /v1/bulk/jobs?limit=&status=.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	limit := 0
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = val
	}
	var status *bulk.Status
	if stStr := strings.TrimSpace(r.URL.Query().Get("status")); stStr != "" {
		st := bulk.Status(strings.ToLower(stStr))
		switch st {
		case bulk.StatusPending, bulk.StatusProcessing, bulk.StatusCompleted, bulk.StatusFailed, bulk.StatusCancelled:
			status = &st
		default:
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}
	jobs, err := s.jobs.ListByUser(r.Context(), userID, limit, status)
	if err != nil {
		s.writeBulkError(w, err, "list jobs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// cancelJob handles POST /v1/bulk/jobs/{job_id}/cancel.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.Cancel(r.Context(), jobID, userID)
	if err != nil {
		s.writeBulkError(w, err, "cancel job failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// jobResults handles GET /v1/bulk/jobs/{job_id}/results?limit=&offset=.
// Results are paginated in completion order.
func (s *Server) jobResults(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	jobID := chi.URLParam(r, "job_id")
	limit, offset, err := parseLimitOffset(r, defaultResultsLimit, maxResultsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.jobs.Get(r.Context(), jobID, userID)
	if err != nil {
		s.writeBulkError(w, err, "get job failed")
		return
	}

	results := job.Results
	total := len(results)
	if offset >= total {
		results = nil
	} else {
		end := min(offset+limit, total)
		results = results[offset:end]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":   job.ID,
		"status":   job.Status,
		"progress": job.Progress,
		"total":    total,
		"offset":   offset,
		"results":  results,
	})
}

// jobStats handles GET /v1/bulk/jobs/stats.
func (s *Server) jobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.jobs.Stats(r.Context())
	if err != nil {
		s.writeBulkError(w, err, "job stats failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// cleanupJobs handles POST /v1/bulk/jobs/cleanup, forcing a retention sweep.
func (s *Server) cleanupJobs(w http.ResponseWriter, r *http.Request) {
	removed, err := s.jobs.SweepExpired(r.Context())
	if err != nil {
		s.writeBulkError(w, err, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// writeBulkError maps store sentinels onto HTTP statuses.
func (s *Server) writeBulkError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, bulk.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, bulk.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, bulk.ErrQuotaExceeded):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, bulk.ErrCapacityExceeded):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, bulk.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error(logMsg, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
