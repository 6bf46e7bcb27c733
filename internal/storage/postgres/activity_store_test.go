package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/schemasmith/schemasmith/internal/store"
)

func newMockStore(t *testing.T) (*ActivityStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	s, err := NewActivityStoreWithPool(mock)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return s, mock
}

func TestUpsertJobStart(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	startedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO job_runs").
		WithArgs("job-1", "user-1", startedAt, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertJobStart(context.Background(), "job-1", "user-1", startedAt))
}

func TestCompleteJob(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	finishedAt := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	errMsg := "all urls failed"
	mock.ExpectExec("UPDATE job_runs").
		WithArgs(finishedAt, store.RunFailed, &errMsg, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.CompleteJob(context.Background(), "job-1", finishedAt, store.RunFailed, &errMsg))
}

func TestUpsertOutcomeStatsUpdatesExistingRow(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	at := time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE job_url_stats").
		WithArgs(int64(3), at, "job-1", "success").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.UpsertOutcomeStats(context.Background(), "job-1", "success", 3, at))
}

func TestUpsertOutcomeStatsInsertsWhenMissing(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	at := time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE job_url_stats").
		WithArgs(int64(1), at, "job-1", "failed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("INSERT INTO job_url_stats").
		WithArgs("job-1", "failed", int64(1), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertOutcomeStats(context.Background(), "job-1", "failed", 1, at))
}

func TestGetJob(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	startedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	finishedAt := startedAt.Add(2 * time.Minute)
	rows := pgxmock.NewRows([]string{"job_id", "user_id", "started_at", "finished_at", "status", "error_message"}).
		AddRow("job-1", "user-1", startedAt, &finishedAt, store.RunCompleted, (*string)(nil))
	mock.ExpectQuery("SELECT job_id, user_id, started_at").
		WithArgs("job-1").
		WillReturnRows(rows)

	run, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, "job-1", run.JobID)
	require.Equal(t, store.RunCompleted, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.Nil(t, run.ErrorMessage)
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT job_id, user_id, started_at").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"job_id", "user_id", "started_at", "finished_at", "status", "error_message"}))

	_, err := s.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListJobsWithStatusFilter(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	startedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	status := store.RunRunning
	rows := pgxmock.NewRows([]string{"job_id", "user_id", "started_at", "finished_at", "status", "error_message"}).
		AddRow("job-2", "user-1", startedAt.Add(time.Minute), (*time.Time)(nil), store.RunRunning, (*string)(nil)).
		AddRow("job-1", "user-1", startedAt, (*time.Time)(nil), store.RunRunning, (*string)(nil))
	mock.ExpectQuery("SELECT job_id, user_id, started_at").
		WithArgs(&status, 10, 0).
		WillReturnRows(rows)

	runs, err := s.ListJobs(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "job-2", runs[0].JobID)
}

func TestListJobOutcomes(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	at := time.Date(2025, 6, 1, 12, 2, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"job_id", "outcome", "count", "last_update"}).
		AddRow("job-1", "failed", int64(2), at).
		AddRow("job-1", "success", int64(8), at)
	mock.ExpectQuery("SELECT job_id, outcome, count, last_update").
		WithArgs("job-1").
		WillReturnRows(rows)

	stats, err := s.ListJobOutcomes(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	require.Equal(t, int64(8), stats[1].Count)
}

func TestQueryErrorsAreWrapped(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	boom := errors.New("connection reset")
	mock.ExpectExec("UPDATE job_runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(boom)

	err := s.CompleteJob(context.Background(), "job-1", time.Now(), store.RunCompleted, nil)
	require.ErrorContains(t, err, "failed to complete job")
}
