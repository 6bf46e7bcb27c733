// Package scheduler drives bulk jobs through concurrency-bounded URL
// processing with progress tracking and cooperative cancellation.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/schemasmith/schemasmith/internal/bulk"
	"github.com/schemasmith/schemasmith/internal/events"
)

// Processor performs the per-URL work: scrape the page and generate
// structured-data markup for it. Implementations are external
// collaborators with latency and rate-limit failure modes.
type Processor interface {
	Process(ctx context.Context, url string, keywords []string) (json.RawMessage, error)
}

// Publisher delivers job completion notifications to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock supplies timestamps for result and runtime measurements.
type Clock interface {
	Now() time.Time
}

// Config controls Scheduler behavior.
type Config struct {
	// MaxConcurrentJobs caps jobs running system-wide (default 5).
	MaxConcurrentJobs int
	// CompletionTopic, when set with a publisher, receives a payload per
	// finished job.
	CompletionTopic string
}

// Scheduler executes pending jobs chunk by chunk. URLs within a chunk run
// concurrently; the next chunk only starts once every URL in the current
// one has resolved. Together with the inter-chunk delay, the barrier keeps
// the request rate to the external providers predictable.
type Scheduler struct {
	store     bulk.Store
	processor Processor
	clock     Clock
	emitter   events.Emitter
	publisher Publisher
	pacer     Pacer
	sem       *semaphore.Weighted
	cfg       Config
	logger    *zap.Logger

	// baseCtx bounds job execution to the process lifecycle rather than
	// the HTTP request that started the job.
	baseCtx context.Context

	wg sync.WaitGroup
}

// New constructs a Scheduler. emitter, publisher and pacer may be nil.
func New(
	baseCtx context.Context,
	store bulk.Store,
	processor Processor,
	clock Clock,
	emitter events.Emitter,
	publisher Publisher,
	pacer Pacer,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:     store,
		processor: processor,
		clock:     clock,
		emitter:   emitter,
		publisher: publisher,
		pacer:     pacer,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		cfg:       cfg,
		logger:    logger,
		baseCtx:   baseCtx,
	}
}

// Start begins executing a pending job owned by userID. It returns
// bulk.ErrCapacityExceeded when the global job cap is reached; the job
// stays pending and the caller may retry.
func (s *Scheduler) Start(ctx context.Context, jobID, userID string) error {
	job, err := s.store.Get(ctx, jobID, userID)
	if err != nil {
		return err
	}
	if job.Status != bulk.StatusPending {
		return fmt.Errorf("%w: cannot start a %s job", bulk.ErrInvalidState, job.Status)
	}
	if !s.sem.TryAcquire(1) {
		return fmt.Errorf(
			"%w: %d jobs already running",
			bulk.ErrCapacityExceeded, s.cfg.MaxConcurrentJobs,
		)
	}
	job, err = s.store.MarkProcessing(ctx, jobID)
	if err != nil {
		s.sem.Release(1)
		return err
	}

	s.emit(events.Event{
		JobID:  job.ID,
		UserID: job.UserID,
		TS:     s.clock.Now(),
		Stage:  events.StageJobStart,
	})
	s.wg.Add(1)
	go s.run(job)
	return nil
}

// Wait blocks until all in-flight jobs have finished. Used on shutdown.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(job bulk.Job) {
	defer s.wg.Done()
	defer s.sem.Release(1)
	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("job processing panic: %v", rec)
			s.logger.Error("bulk job panicked",
				zap.String("job_id", job.ID),
				zap.Any("panic", rec),
			)
			if _, err := s.store.Finalize(s.baseCtx, job.ID, bulk.StatusFailed, msg); err != nil {
				s.logger.Error("finalize after panic failed", zap.String("job_id", job.ID), zap.Error(err))
			}
			s.emit(events.Event{
				JobID:  job.ID,
				UserID: job.UserID,
				TS:     s.clock.Now(),
				Stage:  events.StageJobError,
				Note:   msg,
			})
		}
	}()

	ctx := s.baseCtx
	s.processChunks(ctx, job)
	s.finalize(ctx, job)
}

func (s *Scheduler) processChunks(ctx context.Context, job bulk.Job) {
	size := job.Options.MaxConcurrency
	for offset := 0; offset < len(job.URLs); offset += size {
		if s.cancelled(ctx, job.ID) {
			s.skipFrom(ctx, job, offset)
			return
		}
		// Sleep before every chunk but the first; equivalent to the
		// documented "between chunks, not after the last".
		if offset > 0 && job.Options.DelayBetweenRequests > 0 {
			if !sleepCtx(ctx, job.Options.DelayBetweenRequests) {
				return
			}
		}
		end := min(offset+size, len(job.URLs))
		next, done := s.runChunk(ctx, job, offset, end)
		if !done {
			s.skipFrom(ctx, job, next)
			return
		}
	}
}

// runChunk dispatches URLs [offset, end) concurrently and waits for all of
// them. When cancellation stops dispatching mid-chunk it returns the first
// undispatched index and false; in-flight URLs are still awaited and their
// results recorded.
func (s *Scheduler) runChunk(ctx context.Context, job bulk.Job, offset, end int) (int, bool) {
	var wg sync.WaitGroup
	next := end
	stopped := false
	for i := offset; i < end; i++ {
		if s.cancelled(ctx, job.ID) {
			next = i
			stopped = true
			break
		}
		if err := s.store.SetCurrent(ctx, job.ID, i); err != nil {
			s.logger.Warn("set current index failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			s.processURL(ctx, job, url)
		}(job.URLs[i])
	}
	wg.Wait()
	return next, !stopped
}

// skipFrom records a skipped result for every URL from index from onward.
// After a cancel each input URL still ends up with an outcome, so result
// pages and outcome stats account for the whole list.
func (s *Scheduler) skipFrom(ctx context.Context, job bulk.Job, from int) {
	now := s.clock.Now()
	for _, url := range job.URLs[from:] {
		s.record(ctx, job, bulk.Result{
			URL:        url,
			Status:     bulk.ResultSkipped,
			FinishedAt: now,
		})
	}
}

func (s *Scheduler) processURL(ctx context.Context, job bulk.Job, url string) {
	if s.pacer != nil {
		if err := s.pacer.Wait(ctx, url); err != nil {
			s.record(ctx, job, bulk.Result{
				URL:        url,
				Status:     bulk.ResultFailed,
				Error:      err.Error(),
				FinishedAt: s.clock.Now(),
			})
			return
		}
	}

	urlCtx := ctx
	cancel := func() {}
	if job.Options.Timeout > 0 {
		urlCtx, cancel = context.WithTimeout(ctx, job.Options.Timeout)
	}
	defer cancel()

	start := s.clock.Now()
	schema, err := s.processor.Process(urlCtx, url, job.Options.TargetKeywords)
	res := bulk.Result{
		URL:            url,
		ProcessingTime: s.clock.Now().Sub(start),
		FinishedAt:     s.clock.Now(),
	}
	if err != nil {
		res.Status = bulk.ResultFailed
		res.Error = err.Error()
	} else {
		res.Status = bulk.ResultSuccess
		res.Schema = schema
	}
	s.record(ctx, job, res)
}

// record appends the result and emits the matching event. Per-URL failures
// are captured here and never propagate; this isolation is what keeps one
// bad URL from sinking the batch.
func (s *Scheduler) record(ctx context.Context, job bulk.Job, res bulk.Result) {
	if err := s.store.AppendResult(ctx, job.ID, res); err != nil {
		s.logger.Error("append result failed",
			zap.String("job_id", job.ID),
			zap.String("url", res.URL),
			zap.Error(err),
		)
		return
	}
	s.emit(events.Event{
		JobID:   job.ID,
		UserID:  job.UserID,
		TS:      res.FinishedAt,
		Stage:   events.StageURLDone,
		URL:     res.URL,
		Outcome: events.Outcome(res.Status),
		Dur:     res.ProcessingTime,
		Note:    res.Error,
	})
}

func (s *Scheduler) finalize(ctx context.Context, job bulk.Job) {
	current, err := s.store.Get(ctx, job.ID, job.UserID)
	if err != nil {
		s.logger.Error("load job for finalize failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	status := bulk.StatusCompleted
	errText := ""
	if current.Progress.Completed == 0 && current.Progress.Failed > 0 {
		status = bulk.StatusFailed
		errText = "all urls failed"
	}
	final, err := s.store.Finalize(ctx, job.ID, status, errText)
	if err != nil {
		s.logger.Error("finalize job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	var runtime time.Duration
	if final.StartedAt != nil && final.CompletedAt != nil {
		runtime = final.CompletedAt.Sub(*final.StartedAt)
	}
	evt := events.Event{
		JobID:  final.ID,
		UserID: final.UserID,
		TS:     s.clock.Now(),
		Dur:    runtime,
	}
	switch final.Status {
	case bulk.StatusCancelled:
		evt.Stage = events.StageJobCancelled
	case bulk.StatusFailed:
		evt.Stage = events.StageJobError
		evt.Note = final.Error
	default:
		evt.Stage = events.StageJobDone
	}
	s.emit(evt)
	s.publishCompletion(ctx, final, runtime)

	s.logger.Info("bulk job finished",
		zap.String("job_id", final.ID),
		zap.String("status", string(final.Status)),
		zap.Int("completed", final.Progress.Completed),
		zap.Int("failed", final.Progress.Failed),
		zap.Duration("runtime", runtime),
	)
}

func (s *Scheduler) publishCompletion(ctx context.Context, job bulk.Job, runtime time.Duration) {
	if s.publisher == nil || s.cfg.CompletionTopic == "" {
		return
	}
	payload := map[string]any{
		"job_id":     job.ID,
		"user_id":    job.UserID,
		"status":     string(job.Status),
		"total":      job.Progress.Total,
		"completed":  job.Progress.Completed,
		"failed":     job.Progress.Failed,
		"skipped":    job.Progress.Skipped,
		"runtime_ms": runtime.Milliseconds(),
		"timestamp":  s.clock.Now().Format(time.RFC3339),
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.CompletionTopic, payload); err != nil {
		s.logger.Warn("publish completion failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *Scheduler) cancelled(ctx context.Context, jobID string) bool {
	cancelled, err := s.store.IsCancelled(ctx, jobID)
	if err != nil {
		s.logger.Warn("cancellation check failed", zap.String("job_id", jobID), zap.Error(err))
		return false
	}
	return cancelled
}

func (s *Scheduler) emit(evt events.Event) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(evt)
}

// sleepCtx sleeps for d or until ctx ends; reports whether the full delay
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
