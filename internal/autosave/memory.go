package autosave

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Clock supplies timestamps; injected for staleness tests.
type Clock interface {
	Now() time.Time
}

// TokenGenerator mints recovery tokens.
type TokenGenerator interface {
	NewToken() (string, error)
}

// MemoryStore is the in-process Store implementation, a mutex-guarded map
// keyed by (project, owner).
type MemoryStore struct {
	mu     sync.RWMutex
	states map[stateKey]*State
	clock  Clock
	tokens TokenGenerator
}

type stateKey struct {
	projectID string
	ownerID   string
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore(clock Clock, tokens TokenGenerator) *MemoryStore {
	return &MemoryStore{
		states: make(map[stateKey]*State),
		clock:  clock,
		tokens: tokens,
	}
}

// Save upserts the current draft for (projectID, ownerID).
func (s *MemoryStore) Save(
	_ context.Context,
	projectID, ownerID string,
	content json.RawMessage,
	explicitVersion *int,
) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey{projectID: projectID, ownerID: ownerID}
	state, exists := s.states[key]
	if !exists {
		token, err := s.tokens.NewToken()
		if err != nil {
			return State{}, fmt.Errorf("generate recovery token: %w", err)
		}
		state = &State{
			ProjectID:     projectID,
			OwnerID:       ownerID,
			SaveFrequency: MinSaveFrequency,
			RecoveryToken: token,
		}
		s.states[key] = state
	}

	if explicitVersion != nil {
		if *explicitVersion <= state.Version {
			return State{}, fmt.Errorf(
				"%w: explicit version %d does not advance stored version %d",
				ErrVersionConflict, *explicitVersion, state.Version,
			)
		}
		state.Version = *explicitVersion
	} else {
		state.Version++
	}
	state.DraftContent = append(json.RawMessage(nil), content...)
	state.LastSavedAt = s.clock.Now()
	return *state, nil
}

// Get returns the state or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, projectID, ownerID string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[stateKey{projectID: projectID, ownerID: ownerID}]
	if !ok {
		return State{}, ErrNotFound
	}
	return *state, nil
}

// Recover returns the draft content unless the state is missing or stale.
func (s *MemoryStore) Recover(_ context.Context, projectID, ownerID string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[stateKey{projectID: projectID, ownerID: ownerID}]
	if !ok {
		return nil, ErrNotFound
	}
	if state.IsStale(s.clock.Now()) {
		return nil, fmt.Errorf("%w: last saved %s", ErrStale, state.LastSavedAt.Format(time.RFC3339))
	}
	return append(json.RawMessage(nil), state.DraftContent...), nil
}

// Clear hard-deletes the state.
func (s *MemoryStore) Clear(_ context.Context, projectID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stateKey{projectID: projectID, ownerID: ownerID}
	if _, ok := s.states[key]; !ok {
		return ErrNotFound
	}
	delete(s.states, key)
	return nil
}

// SetFrequency stores the clamped save-frequency hint.
func (s *MemoryStore) SetFrequency(
	_ context.Context,
	projectID, ownerID string,
	freq time.Duration,
) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[stateKey{projectID: projectID, ownerID: ownerID}]
	if !ok {
		return State{}, ErrNotFound
	}
	state.SaveFrequency = ClampFrequency(freq)
	return *state, nil
}

// CleanupStale removes all stale states regardless of recovery attempts.
func (s *MemoryStore) CleanupStale(_ context.Context) (int, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, state := range s.states {
		if state.IsStale(now) {
			delete(s.states, key)
			removed++
		}
	}
	return removed, nil
}
