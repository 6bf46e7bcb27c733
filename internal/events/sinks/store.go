package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/schemasmith/schemasmith/internal/events"
	"github.com/schemasmith/schemasmith/internal/store"
)

// StoreSink persists job activity via a store.ActivityRepository. It
// collapses per-URL outcomes into count deltas to reduce write
// amplification.
type StoreSink struct {
	repo   store.ActivityRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ActivityRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards job lifecycle rows and collapsed outcome deltas to the
// repository. It respects ctx deadlines and returns repository errors
// verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[outcomeKey]*outcomeDelta)

	for _, evt := range batch {
		switch evt.Stage {
		case events.StageJobStart, events.StageJobDone, events.StageJobError, events.StageJobCancelled:
			if err := s.handleJobEvent(ctx, evt); err != nil {
				return err
			}
		case events.StageURLDone:
			recordOutcome(deltas, evt)
		}
	}

	for key, delta := range deltas {
		if delta.count == 0 {
			continue
		}
		if err := s.repo.UpsertOutcomeStats(ctx, key.jobID, key.outcome, delta.count, delta.at); err != nil {
			return fmt.Errorf("upsert outcome stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleJobEvent(ctx context.Context, evt events.Event) error {
	switch evt.Stage {
	case events.StageJobStart:
		if err := s.repo.UpsertJobStart(ctx, evt.JobID, evt.UserID, evt.TS); err != nil {
			return fmt.Errorf("upsert job start: %w", err)
		}
	case events.StageJobDone:
		if err := s.repo.CompleteJob(ctx, evt.JobID, evt.TS, store.RunCompleted, nil); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
	case events.StageJobError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteJob(ctx, evt.JobID, evt.TS, store.RunFailed, note); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
	case events.StageJobCancelled:
		if err := s.repo.CompleteJob(ctx, evt.JobID, evt.TS, store.RunCancelled, nil); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
	}
	return nil
}

func recordOutcome(deltas map[outcomeKey]*outcomeDelta, evt events.Event) {
	key := outcomeKey{jobID: evt.JobID, outcome: string(evt.Outcome)}
	delta := deltas[key]
	if delta == nil {
		delta = &outcomeDelta{}
		deltas[key] = delta
	}
	delta.count++
	if evt.TS.After(delta.at) || delta.at.IsZero() {
		delta.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type outcomeKey struct {
	jobID   string
	outcome string
}

type outcomeDelta struct {
	count int64
	at    time.Time
}
