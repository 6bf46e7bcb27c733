package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/schemasmith/schemasmith/internal/autosave"
	"github.com/schemasmith/schemasmith/internal/bulk"
	bulkmemory "github.com/schemasmith/schemasmith/internal/bulk/memory"
	"github.com/schemasmith/schemasmith/internal/bulk/scheduler"
	"github.com/schemasmith/schemasmith/internal/config"
	"github.com/schemasmith/schemasmith/internal/draft"
	exportmemory "github.com/schemasmith/schemasmith/internal/exportstore/memory"
	"github.com/schemasmith/schemasmith/internal/store"
)

// fakeActivityRepo serves canned run history for handler tests.
type fakeActivityRepo struct {
	runs     map[string]store.JobRun
	outcomes map[string][]store.OutcomeStats
	listed   []store.JobRun
}

func (f *fakeActivityRepo) UpsertJobStart(context.Context, string, string, time.Time) error {
	return nil
}

func (f *fakeActivityRepo) CompleteJob(context.Context, string, time.Time, store.RunStatus, *string) error {
	return nil
}

func (f *fakeActivityRepo) UpsertOutcomeStats(context.Context, string, string, int64, time.Time) error {
	return nil
}

func (f *fakeActivityRepo) GetJob(_ context.Context, jobID string) (store.JobRun, error) {
	run, ok := f.runs[jobID]
	if !ok {
		return store.JobRun{}, store.ErrNotFound
	}
	return run, nil
}

func (f *fakeActivityRepo) ListJobs(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.JobRun, error) {
	out := make([]store.JobRun, 0, len(f.listed))
	for _, run := range f.listed {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeActivityRepo) ListJobOutcomes(_ context.Context, jobID string) ([]store.OutcomeStats, error) {
	return f.outcomes[jobID], nil
}

func newHistoryServer(t *testing.T, repo store.ActivityRepository) *fixture {
	t.Helper()
	clk := systemClock{}
	ids := &seqIDs{}

	jobs := bulkmemory.NewStore(bulk.DefaultLimits(), clk, ids)
	sched := scheduler.New(
		context.Background(), jobs, stubProcessor{}, clk,
		nil, nil, nil, scheduler.Config{}, zap.NewNop(),
	)
	autosaves := autosave.NewMemoryStore(clk, ids)
	drafts := draft.NewEngine(draft.DefaultHistoryCap, clk, testHasher{})
	archive := exportmemory.New()

	srv := NewServer(jobs, sched, autosaves, drafts, archive, repo, nil, config.Config{}, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		sched.Wait()
	})
	return &fixture{server: ts, jobs: jobs, autosaves: autosaves, drafts: drafts, archive: archive}
}

func TestJobHistoryList(t *testing.T) {
	t.Parallel()
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(30 * time.Second)
	repo := &fakeActivityRepo{
		listed: []store.JobRun{
			{JobID: "run-1", UserID: "user-1", StartedAt: started, FinishedAt: &finished, Status: store.RunCompleted},
			{JobID: "run-2", UserID: "user-1", StartedAt: started, Status: store.RunRunning},
		},
	}
	f := newHistoryServer(t, repo)

	resp := f.do(t, http.MethodGet, "/v1/bulk/history", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	runs := body["runs"].([]any)
	require.Len(t, runs, 2)
	first := runs[0].(map[string]any)
	require.Equal(t, "run-1", first["job_id"])
	require.Equal(t, "completed", first["status"])

	resp = f.do(t, http.MethodGet, "/v1/bulk/history?status=running", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	require.Len(t, body["runs"].([]any), 1)

	resp = f.do(t, http.MethodGet, "/v1/bulk/history?status=bogus", "user-1", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobHistoryDetail(t *testing.T) {
	t.Parallel()
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	errMsg := "provider unreachable"
	repo := &fakeActivityRepo{
		runs: map[string]store.JobRun{
			"run-9": {JobID: "run-9", UserID: "user-1", StartedAt: started, Status: store.RunFailed, ErrorMessage: &errMsg},
		},
		outcomes: map[string][]store.OutcomeStats{
			"run-9": {
				{JobID: "run-9", Outcome: "success", Count: 3, LastUpdate: started},
				{JobID: "run-9", Outcome: "failed", Count: 1, LastUpdate: started},
			},
		},
	}
	f := newHistoryServer(t, repo)

	resp := f.do(t, http.MethodGet, "/v1/bulk/history/run-9", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	run := body["run"].(map[string]any)
	require.Equal(t, "run-9", run["job_id"])
	require.Equal(t, "failed", run["status"])
	require.Equal(t, errMsg, run["error"])
	require.Len(t, body["outcomes"].([]any), 2)

	resp = f.do(t, http.MethodGet, "/v1/bulk/history/missing", "user-1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobHistoryUnmountedWithoutRepository(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, config.Config{})

	resp := f.do(t, http.MethodGet, "/v1/bulk/history", "user-1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
