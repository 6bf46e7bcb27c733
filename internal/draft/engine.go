package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Clock supplies snapshot timestamps.
type Clock interface {
	Now() time.Time
}

// Hasher computes content checksums.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Engine is the in-process version history store. Projects are created
// lazily: the first writer becomes the owner. All reads return copies.
type Engine struct {
	mu       sync.RWMutex
	projects map[string]*Project
	cap      int
	clock    Clock
	hasher   Hasher
}

// NewEngine constructs an Engine. historyCap <= 0 uses DefaultHistoryCap.
func NewEngine(historyCap int, clock Clock, hasher Hasher) *Engine {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &Engine{
		projects: make(map[string]*Project),
		cap:      historyCap,
		clock:    clock,
		hasher:   hasher,
	}
}

// Owns reports whether userID may act on projectID. Unknown projects are
// claimable by anyone; they come into existence on first write.
func (e *Engine) Owns(_ context.Context, projectID, userID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	project, ok := e.projects[projectID]
	if !ok {
		return true
	}
	return project.OwnerID == userID
}

// AddVersion appends a snapshot, sets it as the current draft, and evicts
// history beyond the cap (oldest by CreatedAt).
func (e *Engine) AddVersion(
	_ context.Context,
	projectID, ownerID string,
	content json.RawMessage,
	meta Meta,
) (Snapshot, error) {
	checksum, err := e.hasher.Hash(content)
	if err != nil {
		return Snapshot{}, fmt.Errorf("checksum content: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	project, err := e.projectForWriteLocked(projectID, ownerID)
	if err != nil {
		return Snapshot{}, err
	}

	// Gap-tolerant numbering: max+1, never reused even after evictions.
	next := 1
	for _, snap := range project.History {
		if snap.Version >= next {
			next = snap.Version + 1
		}
	}

	snap := Snapshot{
		Content:   append(json.RawMessage(nil), content...),
		Version:   next,
		CreatedAt: e.clock.Now(),
		Author:    meta.Author,
		Changes:   meta.Changes,
		Auto:      meta.Auto,
		Tags:      normalizeTags(meta.Tags),
		Size:      len(content),
		Checksum:  checksum,
	}
	project.History = append(project.History, snap)
	e.evictLocked(project)
	current := cloneSnapshot(snap)
	project.CurrentDraft = &current
	return cloneSnapshot(snap), nil
}

// Restore copies a historical snapshot into the current draft. History is
// untouched: newer versions survive, so this is not a strict undo stack.
func (e *Engine) Restore(_ context.Context, projectID, ownerID string, version int) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	project, err := e.projectLocked(projectID, ownerID)
	if err != nil {
		return Snapshot{}, err
	}
	idx := indexOfVersion(project.History, version)
	if idx < 0 {
		return Snapshot{}, fmt.Errorf("%w: version %d", ErrVersionNotFound, version)
	}
	restored := cloneSnapshot(project.History[idx])
	project.CurrentDraft = &restored
	return cloneSnapshot(restored), nil
}

// Compare returns the coarse diff between two versions.
func (e *Engine) Compare(_ context.Context, projectID, ownerID string, v1, v2 int) (Diff, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	project, err := e.projectLocked(projectID, ownerID)
	if err != nil {
		return Diff{}, err
	}
	i1 := indexOfVersion(project.History, v1)
	i2 := indexOfVersion(project.History, v2)
	if i1 < 0 || i2 < 0 {
		return Diff{}, fmt.Errorf("%w: versions %d, %d", ErrVersionNotFound, v1, v2)
	}
	s1, s2 := project.History[i1], project.History[i2]
	return Diff{
		Version1:       v1,
		Version2:       v2,
		ContentDiffers: s1.Checksum != s2.Checksum,
		SizeDelta:      s2.Size - s1.Size,
	}, nil
}

// Tag merges tags into a version's tag set; the union is idempotent.
func (e *Engine) Tag(_ context.Context, projectID, ownerID string, version int, tags []string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	project, err := e.projectLocked(projectID, ownerID)
	if err != nil {
		return Snapshot{}, err
	}
	idx := indexOfVersion(project.History, version)
	if idx < 0 {
		return Snapshot{}, fmt.Errorf("%w: version %d", ErrVersionNotFound, version)
	}
	merged := project.History[idx].Tags
	for _, tag := range normalizeTags(tags) {
		if !containsString(merged, tag) {
			merged = append(merged, tag)
		}
	}
	project.History[idx].Tags = merged
	if project.CurrentDraft != nil && project.CurrentDraft.Version == version {
		project.CurrentDraft.Tags = append([]string(nil), merged...)
	}
	return cloneSnapshot(project.History[idx]), nil
}

// Search applies every provided criterion conjunctively.
func (e *Engine) Search(_ context.Context, projectID, ownerID string, q Query) ([]Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	project, err := e.projectLocked(projectID, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0)
	for _, snap := range project.History {
		if matches(snap, q) {
			out = append(out, cloneSnapshot(snap))
		}
	}
	return out, nil
}

// History returns all snapshots, newest-first.
func (e *Engine) History(_ context.Context, projectID, ownerID string) ([]Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	project, err := e.projectLocked(projectID, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(project.History))
	for _, snap := range project.History {
		out = append(out, cloneSnapshot(snap))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Version > out[j].Version
	})
	return out, nil
}

// Current returns the current draft or ErrVersionNotFound when the
// project has never been written.
func (e *Engine) Current(_ context.Context, projectID, ownerID string) (Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	project, err := e.projectLocked(projectID, ownerID)
	if err != nil {
		return Snapshot{}, err
	}
	if project.CurrentDraft == nil {
		return Snapshot{}, ErrVersionNotFound
	}
	return cloneSnapshot(*project.CurrentDraft), nil
}

// Stats aggregates the project's history.
func (e *Engine) Stats(_ context.Context, projectID, ownerID string) (Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	project, err := e.projectLocked(projectID, ownerID)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{TotalVersions: len(project.History)}
	authors := make(map[string]struct{})
	tags := make(map[string]struct{})
	totalSize := 0
	for _, snap := range project.History {
		if snap.Auto {
			stats.AutoSaves++
		} else {
			stats.ManualSaves++
		}
		if snap.Author != "" {
			authors[snap.Author] = struct{}{}
		}
		for _, tag := range snap.Tags {
			tags[tag] = struct{}{}
		}
		totalSize += snap.Size
		created := snap.CreatedAt
		if stats.Oldest == nil || created.Before(*stats.Oldest) {
			t := created
			stats.Oldest = &t
		}
		if stats.Newest == nil || created.After(*stats.Newest) {
			t := created
			stats.Newest = &t
		}
	}
	stats.UniqueAuthors = len(authors)
	stats.UniqueTags = len(tags)
	if stats.TotalVersions > 0 {
		stats.AverageSize = totalSize / stats.TotalVersions
	}
	return stats, nil
}

func (e *Engine) projectForWriteLocked(projectID, ownerID string) (*Project, error) {
	project, ok := e.projects[projectID]
	if !ok {
		project = &Project{ID: projectID, OwnerID: ownerID}
		e.projects[projectID] = project
		return project, nil
	}
	if project.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return project, nil
}

func (e *Engine) projectLocked(projectID, ownerID string) (*Project, error) {
	project, ok := e.projects[projectID]
	if !ok || project.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return project, nil
}

func (e *Engine) evictLocked(project *Project) {
	if len(project.History) <= e.cap {
		return
	}
	sort.Slice(project.History, func(i, j int) bool {
		return project.History[i].CreatedAt.Before(project.History[j].CreatedAt)
	})
	project.History = project.History[len(project.History)-e.cap:]
}

func matches(snap Snapshot, q Query) bool {
	for _, tag := range normalizeTags(q.Tags) {
		if !containsString(snap.Tags, tag) {
			return false
		}
	}
	if q.Author != "" && snap.Author != q.Author {
		return false
	}
	if q.DateFrom != nil && snap.CreatedAt.Before(*q.DateFrom) {
		return false
	}
	if q.DateTo != nil && snap.CreatedAt.After(*q.DateTo) {
		return false
	}
	if q.ContentSubstring != "" && !strings.Contains(string(snap.Content), q.ContentSubstring) {
		return false
	}
	return true
}

func indexOfVersion(history []Snapshot, version int) int {
	for i, snap := range history {
		if snap.Version == version {
			return i
		}
	}
	return -1
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		if !containsString(out, trimmed) {
			out = append(out, trimmed)
		}
	}
	return out
}

func containsString(list []string, want string) bool {
	for _, have := range list {
		if have == want {
			return true
		}
	}
	return false
}

func cloneSnapshot(snap Snapshot) Snapshot {
	cp := snap
	cp.Content = append(json.RawMessage(nil), snap.Content...)
	cp.Tags = append([]string(nil), snap.Tags...)
	return cp
}
