package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/schemasmith/schemasmith/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type jobRunResponse struct {
	JobID      string     `json:"job_id"`
	UserID     string     `json:"user_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Error      *string    `json:"error,omitempty"`
}

type jobOutcomeResponse struct {
	Outcome    string    `json:"outcome"`
	Count      int64     `json:"count"`
	LastUpdate time.Time `json:"last_update"`
}

// listJobHistory handles GET /v1/bulk/history?status=&limit=&offset=. It
// reads the durable run records, so jobs removed by the retention sweep
// still show up here.
func (s *Server) listJobHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.RunStatus
	if stStr := strings.TrimSpace(r.URL.Query().Get("status")); stStr != "" {
		st := store.RunStatus(strings.ToLower(stStr))
		switch st {
		case store.RunRunning, store.RunCompleted, store.RunFailed, store.RunCancelled:
			status = &st
		default:
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}

	runs, err := s.activity.ListJobs(r.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("list job history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]jobRunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, runResponse(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":   out,
		"offset": offset,
	})
}

// getJobHistory handles GET /v1/bulk/history/{job_id}, returning the run
// record together with its aggregated URL outcomes.
func (s *Server) getJobHistory(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	run, err := s.activity.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job run not found")
			return
		}
		s.logger.Error("get job history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	outcomes, err := s.activity.ListJobOutcomes(r.Context(), jobID)
	if err != nil {
		s.logger.Error("list job outcomes failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	stats := make([]jobOutcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		stats = append(stats, jobOutcomeResponse{
			Outcome:    o.Outcome,
			Count:      o.Count,
			LastUpdate: o.LastUpdate,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":      runResponse(run),
		"outcomes": stats,
	})
}

func runResponse(run store.JobRun) jobRunResponse {
	return jobRunResponse{
		JobID:      run.JobID,
		UserID:     run.UserID,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Error:      run.ErrorMessage,
	}
}
