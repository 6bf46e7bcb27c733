package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/schemasmith/schemasmith/internal/events"
)

// PrometheusSink exports scheduler metrics via Prometheus. It owns all
// collectors for jobs started/completed/running and per-URL outcome
// counters.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	urlOutcomes *prometheus.CounterVec
	urlDuration *prometheus.HistogramVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bulk_jobs_started_total",
			Help: "Total bulk jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_jobs_completed_total",
			Help: "Total bulk jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bulk_jobs_running",
			Help: "Current number of running bulk jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bulk_job_runtime_seconds",
			Help:    "Wall time per completed bulk job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		urlOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_url_outcomes_total",
			Help: "URL completions partitioned by outcome.",
		}, []string{"outcome"}),
		urlDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bulk_url_processing_seconds",
			Help:    "Per-URL processing duration partitioned by outcome.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"outcome"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.urlOutcomes,
		s.urlDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It
// is safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt events.Event) {
	switch evt.Stage {
	case events.StageJobStart, events.StageJobDone, events.StageJobError, events.StageJobCancelled:
		s.handleJobEvent(evt)
	case events.StageURLDone:
		s.handleURLEvent(evt)
	}
}

func (s *PrometheusSink) handleJobEvent(evt events.Event) {
	switch evt.Stage {
	case events.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
		return
	case events.StageJobDone:
		s.jobsCompleted.WithLabelValues("completed").Inc()
		s.observeRuntime(evt, "completed")
	case events.StageJobError:
		s.jobsCompleted.WithLabelValues("failed").Inc()
		s.observeRuntime(evt, "failed")
	case events.StageJobCancelled:
		s.jobsCompleted.WithLabelValues("cancelled").Inc()
		s.observeRuntime(evt, "cancelled")
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt events.Event, label string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleURLEvent(evt events.Event) {
	outcome := string(evt.Outcome)
	if outcome == "" {
		outcome = "unknown"
	}
	s.urlOutcomes.WithLabelValues(outcome).Inc()
	if evt.Dur > 0 {
		s.urlDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
