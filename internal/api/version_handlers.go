package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/schemasmith/schemasmith/internal/draft"
)

// versionHistory handles GET /v1/projects/{project_id}/versions.
func (s *Server) versionHistory(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	projectID := chi.URLParam(r, "project_id")
	history, err := s.drafts.History(r.Context(), projectID, userID)
	if err != nil {
		s.writeDraftError(w, err, "version history failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"versions":   history,
	})
}

// currentVersion handles GET /v1/projects/{project_id}/versions/current.
func (s *Server) currentVersion(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	projectID := chi.URLParam(r, "project_id")
	snap, err := s.drafts.Current(r.Context(), projectID, userID)
	if err != nil {
		s.writeDraftError(w, err, "current version failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": snap})
}

// restoreVersion handles POST /v1/projects/{project_id}/versions/{version}/restore.
// History is untouched; the chosen snapshot simply becomes current.
func (s *Server) restoreVersion(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	projectID := chi.URLParam(r, "project_id")
	version, err := parseVersionParam(r, "version")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.drafts.Restore(r.Context(), projectID, userID, version)
	if err != nil {
		s.writeDraftError(w, err, "restore version failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"restored": snap})
}

// compareVersions handles GET /v1/projects/{project_id}/versions/compare?v1=&v2=.
func (s *Server) compareVersions(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	projectID := chi.URLParam(r, "project_id")
	v1, err1 := strconv.Atoi(r.URL.Query().Get("v1"))
	v2, err2 := strconv.Atoi(r.URL.Query().Get("v2"))
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "v1 and v2 must be version numbers")
		return
	}
	diff, err := s.drafts.Compare(r.Context(), projectID, userID, v1, v2)
	if err != nil {
		s.writeDraftError(w, err, "compare versions failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"diff": diff})
}

type tagRequest struct {
	Tags []string `json:"tags"`
}

// tagVersion handles POST /v1/projects/{project_id}/versions/{version}/tags.
// Tagging is an idempotent union.
func (s *Server) tagVersion(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	projectID := chi.URLParam(r, "project_id")
	version, err := parseVersionParam(r, "version")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Tags) == 0 {
		writeError(w, http.StatusBadRequest, "tags are required")
		return
	}
	snap, err := s.drafts.Tag(r.Context(), projectID, userID, version, req.Tags)
	if err != nil {
		s.writeDraftError(w, err, "tag version failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": snap})
}

// searchVersions handles GET /v1/projects/{project_id}/versions/search.
// Filters combine conjunctively: tags=, author=, from=, to=, q=.
func (s *Server) searchVersions(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	projectID := chi.URLParam(r, "project_id")
	query := draft.Query{
		Author:           r.URL.Query().Get("author"),
		ContentSubstring: r.URL.Query().Get("q"),
	}
	if tags := r.URL.Query().Get("tags"); tags != "" {
		query.Tags = strings.Split(tags, ",")
	}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		query.DateFrom = &t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		query.DateTo = &t
	}
	matches, err := s.drafts.Search(r.Context(), projectID, userID, query)
	if err != nil {
		s.writeDraftError(w, err, "search versions failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": matches})
}

// versionStats handles GET /v1/projects/{project_id}/versions/stats.
func (s *Server) versionStats(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	projectID := chi.URLParam(r, "project_id")
	stats, err := s.drafts.Stats(r.Context(), projectID, userID)
	if err != nil {
		s.writeDraftError(w, err, "version stats failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// exportVersions handles GET /v1/projects/{project_id}/versions/export.
// Query parameters: format=json|csv, versions=1,2,3, include_content=true,
// archive=true to also persist the artifact.
func (s *Server) exportVersions(w http.ResponseWriter, r *http.Request) {
	userID := identityFrom(r)
	projectID := chi.URLParam(r, "project_id")

	opts := draft.ExportOptions{
		Format:         draft.ExportFormat(r.URL.Query().Get("format")),
		IncludeContent: r.URL.Query().Get("include_content") == "true",
	}
	if opts.Format == "" {
		opts.Format = draft.FormatJSON
	}
	if versions := r.URL.Query().Get("versions"); versions != "" {
		for _, part := range strings.Split(versions, ",") {
			v, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				writeError(w, http.StatusBadRequest, "versions must be numbers")
				return
			}
			opts.Versions = append(opts.Versions, v)
		}
	}

	payload, contentType, err := s.drafts.Export(r.Context(), projectID, userID, opts)
	if err != nil {
		s.writeDraftError(w, err, "export versions failed")
		return
	}

	if r.URL.Query().Get("archive") == "true" {
		if s.archive == nil {
			writeError(w, http.StatusServiceUnavailable, "export archive not configured")
			return
		}
		key := fmt.Sprintf("%s/%s/history-%d.%s",
			s.cfg.Export.Prefix, projectID, time.Now().Unix(), opts.Format)
		uri, err := s.archive.Put(r.Context(), key, contentType, bytes.NewReader(payload))
		if err != nil {
			s.logger.Error("archive export failed", zap.String("project_id", projectID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "archive failed")
			return
		}
		w.Header().Set("X-Archive-URI", uri)
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func parseVersionParam(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.New("version must be a positive number")
	}
	return v, nil
}

func (s *Server) writeDraftError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, draft.ErrNotFound):
		writeError(w, http.StatusNotFound, "project not found")
	case errors.Is(err, draft.ErrVersionNotFound):
		writeError(w, http.StatusNotFound, "version not found")
	case errors.Is(err, draft.ErrInvalidFormat):
		writeError(w, http.StatusBadRequest, "unsupported export format")
	default:
		s.logger.Error(logMsg, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
