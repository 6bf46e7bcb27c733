// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schemasmith/schemasmith/internal/store"
)

// ActivityStoreConfig controls the Postgres connection pool.
type ActivityStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type db interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ActivityStore implements store.ActivityRepository using Postgres.
type ActivityStore struct {
	pool db
}

// NewActivityStore creates an ActivityStore using the provided config.
func NewActivityStore(ctx context.Context, cfg ActivityStoreConfig) (*ActivityStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ActivityStore{pool: pool}, nil
}

// NewActivityStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewActivityStoreWithPool(pool db) (*ActivityStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ActivityStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *ActivityStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertJobStart inserts the run row, or refreshes its status if the start
// event is redelivered.
func (s *ActivityStore) UpsertJobStart(ctx context.Context, jobID, userID string, startedAt time.Time) error {
	query := `
		INSERT INTO job_runs (job_id, user_id, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE job_runs.finished_at IS NULL;
	`
	_, err := s.pool.Exec(ctx, query, jobID, userID, startedAt, store.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to upsert job start: %w", err)
	}
	return nil
}

// CompleteJob marks a run as finished with a status and optional error message.
func (s *ActivityStore) CompleteJob(
	ctx context.Context,
	jobID string,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE job_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE job_id = $4;
	`
	_, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, jobID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// UpsertOutcomeStats applies a count delta for one (job, outcome) pair.
func (s *ActivityStore) UpsertOutcomeStats(ctx context.Context, jobID, outcome string, delta int64, at time.Time) error {
	query := `
		UPDATE job_url_stats
		SET count = count + $1, last_update = $2
		WHERE job_id = $3 AND outcome = $4;
	`
	res, err := s.pool.Exec(ctx, query, delta, at, jobID, outcome)
	if err != nil {
		return fmt.Errorf("failed to update outcome stats: %w", err)
	}
	if res.RowsAffected() == 0 {
		query = `
			INSERT INTO job_url_stats (job_id, outcome, count, last_update)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (job_id, outcome) DO NOTHING;
		`
		if _, err := s.pool.Exec(ctx, query, jobID, outcome, delta, at); err != nil {
			return fmt.Errorf("failed to insert outcome stats: %w", err)
		}
	}
	return nil
}

// GetJob retrieves a single job run by its ID.
func (s *ActivityStore) GetJob(ctx context.Context, jobID string) (store.JobRun, error) {
	query := `
		SELECT job_id, user_id, started_at, finished_at, status, error_message
		FROM job_runs
		WHERE job_id = $1;
	`
	var run store.JobRun
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&run.JobID,
		&run.UserID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.JobRun{}, store.ErrNotFound
		}
		return store.JobRun{}, fmt.Errorf("failed to get job: %w", err)
	}
	return run, nil
}

// ListJobs retrieves job runs, newest first, with optional status filtering.
func (s *ActivityStore) ListJobs(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.JobRun, error) {
	query := `
		SELECT job_id, user_id, started_at, finished_at, status, error_message
		FROM job_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var runs []store.JobRun
	for rows.Next() {
		var run store.JobRun
		err := rows.Scan(
			&run.JobID,
			&run.UserID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListJobOutcomes retrieves aggregated URL outcome counts for a job.
func (s *ActivityStore) ListJobOutcomes(ctx context.Context, jobID string) ([]store.OutcomeStats, error) {
	query := `
		SELECT job_id, outcome, count, last_update
		FROM job_url_stats
		WHERE job_id = $1
		ORDER BY outcome;
	`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job outcomes: %w", err)
	}
	defer rows.Close()

	var stats []store.OutcomeStats
	for rows.Next() {
		var stat store.OutcomeStats
		err := rows.Scan(
			&stat.JobID,
			&stat.Outcome,
			&stat.Count,
			&stat.LastUpdate,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}
