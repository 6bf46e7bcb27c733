// Package store declares interfaces for persisting job activity history.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("activity record not found")

// RunStatus mirrors the job_runs status column.
type RunStatus string

// Job run statuses persisted in job_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// JobRun models the job_runs table for API responses and audits. The
// in-memory job store is authoritative while a job lives; this table is
// the durable record that outlasts the retention sweep.
type JobRun struct {
	// JobID is the bulk job identifier shared with the scheduler.
	JobID string
	// UserID is the job owner.
	UserID string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run reaches a terminal status.
	FinishedAt *time.Time
	// Status is running/completed/failed/cancelled.
	Status RunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// OutcomeStats aggregates URL outcomes for one job.
type OutcomeStats struct {
	JobID      string
	Outcome    string
	Count      int64
	LastUpdate time.Time
}

// ActivityRepository persists incremental job activity.
type ActivityRepository interface {
	// UpsertJobStart inserts (or idempotently updates) the run row.
	UpsertJobStart(ctx context.Context, jobID, userID string, startedAt time.Time) error
	// CompleteJob marks the run finished with the provided status and error.
	CompleteJob(ctx context.Context, jobID string, finishedAt time.Time, status RunStatus, errMsg *string) error
	// UpsertOutcomeStats applies count deltas per (job, outcome).
	UpsertOutcomeStats(ctx context.Context, jobID, outcome string, delta int64, at time.Time) error

	// GetJob loads a single job run or returns ErrNotFound.
	GetJob(ctx context.Context, jobID string) (JobRun, error)
	// ListJobs returns runs filtered by optional status plus limit/offset.
	ListJobs(ctx context.Context, status *RunStatus, limit, offset int) ([]JobRun, error)
	// ListJobOutcomes returns aggregated outcome stats for one job.
	ListJobOutcomes(ctx context.Context, jobID string) ([]OutcomeStats, error)
}
