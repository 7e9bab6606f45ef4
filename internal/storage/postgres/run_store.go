package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/capital-forecast-crawler/internal/store"
)

// RunStore implements store.RunRepository on the worker_runs table.
type RunStore struct {
	pool Pool
}

// NewRunStore wraps pool.
func NewRunStore(pool Pool) (*RunStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// StartRun inserts the run; an existing row is left untouched.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, worker string, startedAt time.Time) error {
	const query = `
		INSERT INTO worker_runs (run_id, worker, started_at, updated_at, status)
		VALUES ($1, $2, $3, $3, $4)
		ON CONFLICT (run_id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, runID, worker, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// SetRunStatus records a pause or resume. Finished runs keep their status.
func (s *RunStore) SetRunStatus(ctx context.Context, runID uuid.UUID, status store.RunStatus, at time.Time) error {
	const query = `
		UPDATE worker_runs
		SET status = CASE WHEN finished_at IS NULL THEN $1 ELSE status END,
			updated_at = GREATEST(updated_at, $2)
		WHERE run_id = $3;
	`
	tag, err := s.pool.Exec(ctx, query, status, at, runID)
	return affected(tag, err, "set run status")
}

// AddRunCounts applies counter deltas.
func (s *RunStore) AddRunCounts(ctx context.Context, runID uuid.UUID, delta store.RunDelta) error {
	const query = `
		UPDATE worker_runs
		SET processed = processed + $1,
			succeeded = succeeded + $2,
			failed = failed + $3,
			bytes_total = bytes_total + $4,
			fraction = CASE WHEN $5 THEN $6 ELSE fraction END,
			updated_at = GREATEST(updated_at, $7)
		WHERE run_id = $8;
	`
	tag, err := s.pool.Exec(ctx, query,
		delta.Processed,
		delta.Succeeded,
		delta.Failed,
		delta.Bytes,
		delta.HasFraction,
		delta.Fraction,
		delta.At,
		runID,
	)
	return affected(tag, err, "add run counts")
}

// FinishRun marks the run ended. Fraction resets; counters are kept.
func (s *RunStore) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	const query = `
		UPDATE worker_runs
		SET status = $1, fraction = 0, finished_at = $2, updated_at = $2, error_message = $3
		WHERE run_id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, status, finishedAt, errMsg, runID)
	return affected(tag, err, "finish run")
}

const runColumns = `run_id, worker, started_at, updated_at, finished_at, status,
	processed, succeeded, failed, bytes_total, fraction, error_message`

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.WorkerRun, error) {
	query := `SELECT ` + runColumns + ` FROM worker_runs WHERE run_id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.WorkerRun{}, store.ErrNotFound
	}
	return run, err
}

// ListRuns returns runs newest first. An empty worker matches every worker.
func (s *RunStore) ListRuns(ctx context.Context, worker string, limit int) ([]store.WorkerRun, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + runColumns + `
		FROM worker_runs
		WHERE ($1 = '' OR worker = $1)
		ORDER BY started_at DESC
		LIMIT $2;
	`
	rows, err := s.pool.Query(ctx, query, worker, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.WorkerRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.WorkerRun, error) {
	var (
		run    store.WorkerRun
		status string
	)
	err := row.Scan(
		&run.RunID,
		&run.Worker,
		&run.StartedAt,
		&run.UpdatedAt,
		&run.FinishedAt,
		&status,
		&run.Processed,
		&run.Succeeded,
		&run.Failed,
		&run.Bytes,
		&run.Fraction,
		&run.ErrorMessage,
	)
	if err != nil {
		return store.WorkerRun{}, fmt.Errorf("scan run: %w", err)
	}
	run.Status = store.RunStatus(status)
	return run, nil
}

func affected(tag pgconn.CommandTag, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
