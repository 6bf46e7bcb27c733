// Package bulk defines the bulk markup-generation job model and the store
// contract shared by the API layer and the scheduler.
package bulk

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a Job.
type Status string

// Job statuses. Completed, failed and cancelled are terminal.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ResultStatus classifies one per-URL outcome.
type ResultStatus string

// Per-URL outcome classes.
const (
	ResultSuccess ResultStatus = "success"
	ResultFailed  ResultStatus = "failed"
	ResultSkipped ResultStatus = "skipped"
)

// Progress tracks counters for a job. Completed+Failed+Skipped never
// exceeds Total; Current is the highest URL index dispatched so far.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Current   int `json:"current"`
}

// Result records the outcome of processing a single URL. Results are
// appended in completion order, not input order; correlate by URL.
type Result struct {
	URL            string          `json:"url"`
	Status         ResultStatus    `json:"status"`
	Schema         json.RawMessage `json:"schema,omitempty"`
	Error          string          `json:"error,omitempty"`
	ProcessingTime time.Duration   `json:"processing_time_ms"`
	FinishedAt     time.Time       `json:"finished_at"`
}

// Options captures per-job knobs at creation time; immutable afterwards.
type Options struct {
	// MaxConcurrency bounds the number of URLs dispatched per chunk.
	MaxConcurrency int `json:"max_concurrency"`
	// DelayBetweenRequests is slept between chunks to respect provider
	// rate limits.
	DelayBetweenRequests time.Duration `json:"delay_between_requests_ms"`
	// Timeout is applied to each external call; expiry is a per-URL
	// failure, never a job-level abort.
	Timeout time.Duration `json:"timeout_ms"`
	// TargetKeywords are forwarded to the markup generator.
	TargetKeywords []string `json:"target_keywords,omitempty"`
}

// Job is one bulk URL-processing request and its mutable progress state.
type Job struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	URLs        []string   `json:"urls"`
	Status      Status     `json:"status"`
	Progress    Progress   `json:"progress"`
	Results     []Result   `json:"results,omitempty"`
	Options     Options    `json:"options"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Stats aggregates store-wide job figures for the stats endpoint.
type Stats struct {
	TotalJobs             int           `json:"total_jobs"`
	ActiveJobs            int           `json:"active_jobs"`
	CompletedJobs         int           `json:"completed_jobs"`
	FailedJobs            int           `json:"failed_jobs"`
	AverageProcessingTime time.Duration `json:"average_processing_time_ms"`
}

// Limits bound job intake. The zero value is not useful; use DefaultLimits.
type Limits struct {
	// MaxURLsPerJob caps the URL list length after validation.
	MaxURLsPerJob int
	// MaxActivePerUser caps a user's jobs in pending/processing.
	MaxActivePerUser int
	// Retention is how long non-processing jobs are kept before sweeps.
	Retention time.Duration
}

// DefaultLimits returns the documented intake caps.
func DefaultLimits() Limits {
	return Limits{
		MaxURLsPerJob:    100,
		MaxActivePerUser: 3,
		Retention:        7 * 24 * time.Hour,
	}
}

// Store is the authoritative collection of jobs. Implementations must be
// safe for concurrent use and return copies, never internal state.
type Store interface {
	// Create validates URLs and intake caps and stores a pending job.
	Create(ctx context.Context, userID string, urls []string, opts Options) (Job, error)
	// Get returns ErrNotFound when the job is absent or owned by another
	// user; ownership failures are indistinguishable from absence.
	Get(ctx context.Context, jobID, userID string) (Job, error)
	// ListByUser returns the user's jobs newest-first. A nil status means
	// no filter; limit <= 0 means no limit.
	ListByUser(ctx context.Context, userID string, limit int, status *Status) ([]Job, error)
	// Cancel transitions a non-terminal job to cancelled and freezes its
	// progress. Returns ErrNotFound or ErrInvalidState.
	Cancel(ctx context.Context, jobID, userID string) (Job, error)
	// SweepExpired drops jobs older than the retention window that are
	// not processing; returns the number removed.
	SweepExpired(ctx context.Context) (int, error)
	// Stats aggregates counters across all jobs.
	Stats(ctx context.Context) (Stats, error)

	// Scheduler-facing mutators.

	// MarkProcessing moves pending -> processing and stamps StartedAt.
	MarkProcessing(ctx context.Context, jobID string) (Job, error)
	// AppendResult records one URL outcome and bumps the matching counter.
	AppendResult(ctx context.Context, jobID string, res Result) error
	// SetCurrent advances the highest-dispatched-index marker.
	SetCurrent(ctx context.Context, jobID string, index int) error
	// Finalize stamps CompletedAt and the terminal status unless the job
	// is already terminal (a cancel may have won the race).
	Finalize(ctx context.Context, jobID string, status Status, errText string) (Job, error)
	// IsCancelled reports whether the job has been cancelled.
	IsCancelled(ctx context.Context, jobID string) (bool, error)
}

// DefaultOptions fills unset option fields and clamps MaxConcurrency.
func DefaultOptions(opts Options) Options {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 3
	}
	if opts.MaxConcurrency > 10 {
		opts.MaxConcurrency = 10
	}
	if opts.DelayBetweenRequests < 0 {
		opts.DelayBetweenRequests = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return opts
}
