package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/schemasmith/schemasmith/internal/autosave"
	"github.com/schemasmith/schemasmith/internal/draft"
	"github.com/schemasmith/schemasmith/internal/metrics"
)

type saveRequest struct {
	Content json.RawMessage `json:"content"`
	// Version, when set on a manual save, must advance the stored version.
	Version *int     `json:"version,omitempty"`
	Changes string   `json:"changes,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

type settingsRequest struct {
	SaveFrequencySeconds int `json:"save_frequency_seconds"`
}

// autosaveStatus handles GET /v1/autosave/{project_id}.
func (s *Server) autosaveStatus(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	projectID := chi.URLParam(r, "project_id")
	state, err := s.autosaves.Get(r.Context(), projectID, userID)
	if err != nil {
		if errors.Is(err, autosave.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{
				"project_id":   projectID,
				"has_autosave": false,
			})
			return
		}
		s.writeAutosaveError(w, err, "autosave status failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id":   projectID,
		"has_autosave": true,
		"state":        state,
	})
}

// autosaveDraft handles POST /v1/autosave/{project_id}: the periodic
// autosave path. The version advances by one on every write.
func (s *Server) autosaveDraft(w http.ResponseWriter, r *http.Request) {
	s.saveDraft(w, r, true)
}

// manualSave handles POST /v1/autosave/{project_id}/save: an explicit user
// save. It also records a manual snapshot in the version history.
func (s *Server) manualSave(w http.ResponseWriter, r *http.Request) {
	s.saveDraft(w, r, false)
}

func (s *Server) saveDraft(w http.ResponseWriter, r *http.Request, auto bool) {
	userID := identityFrom(r)
	projectID := chi.URLParam(r, "project_id")
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Content) == 0 {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if !s.drafts.Owns(r.Context(), projectID, userID) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}

	var explicit *int
	if !auto {
		explicit = req.Version
	}
	state, err := s.autosaves.Save(r.Context(), projectID, userID, req.Content, explicit)
	if err != nil {
		s.writeAutosaveError(w, err, "save draft failed")
		return
	}
	kind := "manual"
	if auto {
		kind = "auto"
	}
	metrics.ObserveAutosave(kind)

	snap, err := s.drafts.AddVersion(r.Context(), projectID, userID, req.Content, draft.Meta{
		Author:  userID,
		Changes: req.Changes,
		Tags:    req.Tags,
		Auto:    auto,
	})
	if err != nil {
		s.logger.Warn("record snapshot failed", zap.String("project_id", projectID), zap.Error(err))
	} else {
		metrics.ObserveVersion(kind)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"state":   state,
		"version": snap.Version,
	})
}

// recoverDraft handles GET and POST /v1/autosave/{project_id}/recover.
// Stale drafts are refused with 410.
func (s *Server) recoverDraft(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	projectID := chi.URLParam(r, "project_id")
	content, err := s.autosaves.Recover(r.Context(), projectID, userID)
	if err != nil {
		s.writeAutosaveError(w, err, "recover draft failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"content":    content,
	})
}

// clearDraft handles DELETE /v1/autosave/{project_id}.
func (s *Server) clearDraft(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	projectID := chi.URLParam(r, "project_id")
	if err := s.autosaves.Clear(r.Context(), projectID, userID); err != nil {
		s.writeAutosaveError(w, err, "clear draft failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"project_id": projectID, "status": "cleared"})
}

// saveSettings handles PUT /v1/autosave/{project_id}/settings. The
// frequency hint is clamped, stored and echoed back.
func (s *Server) saveSettings(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	projectID := chi.URLParam(r, "project_id")
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	freq := time.Duration(req.SaveFrequencySeconds) * time.Second
	state, err := s.autosaves.SetFrequency(r.Context(), projectID, userID, freq)
	if err != nil {
		s.writeAutosaveError(w, err, "save settings failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

func (s *Server) writeAutosaveError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, autosave.ErrNotFound):
		writeError(w, http.StatusNotFound, "autosave state not found")
	case errors.Is(err, autosave.ErrStale):
		writeError(w, http.StatusGone, "autosave state is stale")
	case errors.Is(err, autosave.ErrVersionConflict):
		writeError(w, http.StatusConflict, "version conflict: reload before saving")
	default:
		s.logger.Error(logMsg, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
