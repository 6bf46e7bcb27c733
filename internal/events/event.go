// Package events defines the job lifecycle event stream emitted by the
// batch scheduler and fanned out to observers.
package events

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the kind of milestone an Event represents.
type Stage string

// Supported stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StageJobCancelled Stage = "JOB_CANCELLED"
	StageURLDone      Stage = "URL_DONE"
)

// Outcome classifies a URL_DONE event.
type Outcome string

// URL outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Event captures a single scheduler milestone.
type Event struct {
	// JobID identifies the bulk job.
	JobID string
	// UserID is the job owner, carried for per-user observability.
	UserID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// URL is set for URL_DONE events.
	URL string
	// Outcome is set for URL_DONE events.
	Outcome Outcome
	// Dur captures per-URL processing time or total job runtime.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError, StageJobCancelled:
	case StageURLDone:
		if e.URL == "" {
			return errors.New("url done requires url")
		}
		if e.Outcome == "" {
			return errors.New("url done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
