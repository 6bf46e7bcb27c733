// Package realtime provides the websocket collaboration layer: project
// rooms, autosave triggers and presence relays.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client-to-server event names.
const (
	EventJoinProject       = "join-project"
	EventTriggerAutosave   = "trigger-autosave"
	EventCursorMove        = "cursor-move"
	EventTextSelect        = "text-select"
	EventGetAutosaveStatus = "get-autosave-status"
)

// Server-to-client event names.
const (
	EventJoinedProject        = "joined-project"
	EventAutosaveComplete     = "autosave-complete"
	EventAutosaveStatusUpdate = "autosave-status-update"
	EventUserCursorMove       = "user-cursor-move"
	EventUserTextSelect       = "user-text-select"
	EventCollaboratorSaved    = "collaborator-saved"
	EventUserLeft             = "user-left"
	EventError                = "error"
)

// Envelope is the wire frame for every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an Envelope. It panics only on values that
// cannot be marshaled, which would be a programming error.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// JoinProjectPayload asks to enter a project room.
type JoinProjectPayload struct {
	ProjectID string `json:"project_id"`
}

// TriggerAutosavePayload carries the draft content to persist.
type TriggerAutosavePayload struct {
	ProjectID string          `json:"project_id"`
	Content   json.RawMessage `json:"content"`
}

// CursorPayload relays a collaborator's cursor position.
type CursorPayload struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id,omitempty"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
}

// SelectionPayload relays a collaborator's text selection.
type SelectionPayload struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id,omitempty"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
}

// JoinedPayload confirms room entry.
type JoinedPayload struct {
	ProjectID     string   `json:"project_id"`
	Collaborators []string `json:"collaborators"`
}

// AutosaveStatusPayload reports the stored autosave state.
type AutosaveStatusPayload struct {
	ProjectID   string     `json:"project_id"`
	HasAutosave bool       `json:"has_autosave"`
	Version     int        `json:"version,omitempty"`
	LastSavedAt *time.Time `json:"last_saved_at,omitempty"`
}

// AutosaveCompletePayload confirms a persisted autosave.
type AutosaveCompletePayload struct {
	ProjectID   string    `json:"project_id"`
	Version     int       `json:"version"`
	LastSavedAt time.Time `json:"last_saved_at"`
}

// CollaboratorSavedPayload tells room peers another user saved.
type CollaboratorSavedPayload struct {
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Version   int       `json:"version"`
	SavedAt   time.Time `json:"saved_at"`
}

// UserLeftPayload tells room peers a user disconnected.
type UserLeftPayload struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
}

// ErrorPayload reports a per-message failure without closing the socket.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
