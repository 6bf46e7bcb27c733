// Package autosave maintains the singular current-draft record per
// (project, owner) pair, with staleness-gated recovery.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors mapped to HTTP statuses by the API layer.
var (
	// ErrNotFound covers absent states, including states owned by a
	// different user.
	ErrNotFound = errors.New("autosave state not found")
	// ErrStale means the state is past the recovery window. Recovery is
	// refused outright so an abandoned draft is never served as current.
	ErrStale = errors.New("autosave state is stale")
	// ErrVersionConflict means a manual save carried an explicit version
	// that does not advance the stored one. The caller holds an outdated
	// draft and must reload before saving.
	ErrVersionConflict = errors.New("autosave version conflict")
)

// StaleAfter is the recovery window. A state whose last write is older
// than this is expired, not recoverable.
const StaleAfter = 24 * time.Hour

// Save-frequency hint bounds. The hint is stored for the client; the
// server never acts on it.
const (
	MinSaveFrequency = 5 * time.Second
	MaxSaveFrequency = 300 * time.Second
)

// State is the current draft record for one (project, owner) pair.
type State struct {
	ProjectID string `json:"project_id"`
	OwnerID   string `json:"owner_id"`
	// DraftContent is opaque to this package; it is stored, sized and
	// returned but never interpreted.
	DraftContent json.RawMessage `json:"draft_content"`
	// Version increases monotonically on every write.
	Version     int       `json:"version"`
	LastSavedAt time.Time `json:"last_saved_at"`
	// SaveFrequency is a client hint, clamped to [5s, 300s].
	SaveFrequency time.Duration `json:"save_frequency_seconds"`
	// RecoveryToken is generated once and stays stable across writes,
	// enabling out-of-band recovery links.
	RecoveryToken string `json:"recovery_token"`
}

// IsStale reports whether the state is past the recovery window at now.
func (s State) IsStale(now time.Time) bool {
	return now.Sub(s.LastSavedAt) > StaleAfter
}

// ClampFrequency bounds a save-frequency hint to the documented range.
func ClampFrequency(d time.Duration) time.Duration {
	if d < MinSaveFrequency {
		return MinSaveFrequency
	}
	if d > MaxSaveFrequency {
		return MaxSaveFrequency
	}
	return d
}

// Store persists autosave states. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save upserts the state. A nil explicitVersion is the autosave path:
	// the version increments by one. A non-nil explicitVersion is the
	// manual-save path: it must advance the stored version or
	// ErrVersionConflict is returned.
	Save(ctx context.Context, projectID, ownerID string, content json.RawMessage, explicitVersion *int) (State, error)
	// Get returns the state or ErrNotFound.
	Get(ctx context.Context, projectID, ownerID string) (State, error)
	// Recover returns the draft content, ErrNotFound, or ErrStale.
	Recover(ctx context.Context, projectID, ownerID string) (json.RawMessage, error)
	// Clear hard-deletes the state; ErrNotFound when nothing exists.
	Clear(ctx context.Context, projectID, ownerID string) error
	// SetFrequency stores a clamped save-frequency hint.
	SetFrequency(ctx context.Context, projectID, ownerID string, freq time.Duration) (State, error)
	// CleanupStale removes every stale state; returns the number removed.
	CleanupStale(ctx context.Context) (int, error)
}
