// Package memory provides the in-memory job store implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/schemasmith/schemasmith/internal/bulk"
)

// Clock supplies timestamps; injected for test determinism.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Store keeps jobs in a mutex-guarded map. All reads return copies so
// callers can never mutate store state through a returned Job.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*bulk.Job
	limits bulk.Limits
	clock  Clock
	idGen  IDGenerator
}

// NewStore constructs a Store with the provided intake limits.
func NewStore(limits bulk.Limits, clock Clock, idGen IDGenerator) *Store {
	return &Store{
		jobs:   make(map[string]*bulk.Job),
		limits: limits,
		clock:  clock,
		idGen:  idGen,
	}
}

// Create validates the URL batch and intake caps and stores a pending job.
func (s *Store) Create(_ context.Context, userID string, urls []string, opts bulk.Options) (bulk.Job, error) {
	valid := bulk.ValidateURLs(urls)
	if len(valid) == 0 {
		return bulk.Job{}, fmt.Errorf("%w: no valid urls in batch", bulk.ErrInvalidInput)
	}
	if len(valid) > s.limits.MaxURLsPerJob {
		return bulk.Job{}, fmt.Errorf(
			"%w: %d urls exceeds the per-job cap of %d",
			bulk.ErrInvalidInput, len(valid), s.limits.MaxURLsPerJob,
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Quota is counted under the same lock as the insert so two racing
	// creates cannot both slip under the cap.
	if s.countActiveLocked(userID) >= s.limits.MaxActivePerUser {
		return bulk.Job{}, fmt.Errorf(
			"%w: user %s already has %d active jobs",
			bulk.ErrQuotaExceeded, userID, s.limits.MaxActivePerUser,
		)
	}

	id, err := s.idGen.NewID()
	if err != nil {
		return bulk.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := &bulk.Job{
		ID:        id,
		UserID:    userID,
		URLs:      valid,
		Status:    bulk.StatusPending,
		Progress:  bulk.Progress{Total: len(valid)},
		Options:   bulk.DefaultOptions(opts),
		CreatedAt: s.clock.Now(),
	}
	s.jobs[id] = job
	return cloneJob(job), nil
}

// Get returns the job if it exists and belongs to userID. Ownership
// failures are folded into ErrNotFound so existence is not leaked.
func (s *Store) Get(_ context.Context, jobID, userID string) (bulk.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok || job.UserID != userID {
		return bulk.Job{}, bulk.ErrNotFound
	}
	return cloneJob(job), nil
}

// ListByUser returns the user's jobs newest-first.
func (s *Store) ListByUser(_ context.Context, userID string, limit int, status *bulk.Status) ([]bulk.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bulk.Job, 0)
	for _, job := range s.jobs {
		if job.UserID != userID {
			continue
		}
		if status != nil && job.Status != *status {
			continue
		}
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Cancel transitions the job to cancelled and freezes its counters.
func (s *Store) Cancel(_ context.Context, jobID, userID string) (bulk.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.UserID != userID {
		return bulk.Job{}, bulk.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return bulk.Job{}, fmt.Errorf("%w: job is already %s", bulk.ErrInvalidState, job.Status)
	}
	job.Status = bulk.StatusCancelled
	now := s.clock.Now()
	job.CompletedAt = &now
	return cloneJob(job), nil
}

// SweepExpired drops jobs past retention that are not processing.
func (s *Store) SweepExpired(_ context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.limits.Retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.Status == bulk.StatusProcessing {
			continue
		}
		if job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Stats aggregates counters across all jobs.
func (s *Store) Stats(_ context.Context) (bulk.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := bulk.Stats{TotalJobs: len(s.jobs)}
	var totalDur time.Duration
	var timed int
	for _, job := range s.jobs {
		switch job.Status {
		case bulk.StatusPending, bulk.StatusProcessing:
			stats.ActiveJobs++
		case bulk.StatusCompleted:
			stats.CompletedJobs++
		case bulk.StatusFailed:
			stats.FailedJobs++
		}
		if job.StartedAt != nil && job.CompletedAt != nil {
			totalDur += job.CompletedAt.Sub(*job.StartedAt)
			timed++
		}
	}
	if timed > 0 {
		stats.AverageProcessingTime = totalDur / time.Duration(timed)
	}
	return stats, nil
}

// MarkProcessing moves pending -> processing and stamps StartedAt.
func (s *Store) MarkProcessing(_ context.Context, jobID string) (bulk.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return bulk.Job{}, bulk.ErrNotFound
	}
	if job.Status != bulk.StatusPending {
		return bulk.Job{}, fmt.Errorf("%w: cannot start a %s job", bulk.ErrInvalidState, job.Status)
	}
	job.Status = bulk.StatusProcessing
	now := s.clock.Now()
	job.StartedAt = &now
	return cloneJob(job), nil
}

// AppendResult records one URL outcome and bumps the matching counter.
// Late results from an in-flight chunk are still recorded after a cancel.
func (s *Store) AppendResult(_ context.Context, jobID string, res bulk.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return bulk.ErrNotFound
	}
	job.Results = append(job.Results, res)
	switch res.Status {
	case bulk.ResultSuccess:
		job.Progress.Completed++
	case bulk.ResultFailed:
		job.Progress.Failed++
	case bulk.ResultSkipped:
		job.Progress.Skipped++
	}
	return nil
}

// SetCurrent advances the highest-dispatched-index marker; it never regresses.
func (s *Store) SetCurrent(_ context.Context, jobID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return bulk.ErrNotFound
	}
	if index > job.Progress.Current {
		job.Progress.Current = index
	}
	return nil
}

// Finalize stamps the terminal status unless a cancel already won.
func (s *Store) Finalize(_ context.Context, jobID string, status bulk.Status, errText string) (bulk.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return bulk.Job{}, bulk.ErrNotFound
	}
	if !job.Status.IsTerminal() {
		job.Status = status
		job.Error = errText
		now := s.clock.Now()
		job.CompletedAt = &now
	}
	return cloneJob(job), nil
}

// IsCancelled reports whether the job has been cancelled.
func (s *Store) IsCancelled(_ context.Context, jobID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, bulk.ErrNotFound
	}
	return job.Status == bulk.StatusCancelled, nil
}

func (s *Store) countActiveLocked(userID string) int {
	active := 0
	for _, job := range s.jobs {
		if job.UserID != userID {
			continue
		}
		if job.Status == bulk.StatusPending || job.Status == bulk.StatusProcessing {
			active++
		}
	}
	return active
}

func cloneJob(job *bulk.Job) bulk.Job {
	cp := *job
	cp.URLs = append([]string(nil), job.URLs...)
	cp.Results = append([]bulk.Result(nil), job.Results...)
	cp.Options.TargetKeywords = append([]string(nil), job.Options.TargetKeywords...)
	if job.StartedAt != nil {
		t := *job.StartedAt
		cp.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}
