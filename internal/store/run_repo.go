// Package store declares the repository behind the worker run history. It
// must not import database drivers; implementations live under storage/.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("worker run not found")

// RunStatus mirrors the worker_runs.status column.
type RunStatus string

// Worker run statuses.
const (
	RunRunning     RunStatus = "running"
	RunPaused      RunStatus = "paused"
	RunSucceeded   RunStatus = "succeeded"
	RunInterrupted RunStatus = "interrupted"
)

// WorkerRun is one Run of one worker.
type WorkerRun struct {
	RunID      uuid.UUID
	Worker     string
	StartedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Processed  int64
	Succeeded  int64
	Failed     int64
	Bytes      int64
	// Fraction is the last reported completion fraction.
	Fraction     float64
	ErrorMessage *string
}

// RunDelta carries counter increments for a run.
type RunDelta struct {
	Processed int64
	Succeeded int64
	Failed    int64
	Bytes     int64
	// Fraction replaces the stored value when HasFraction is set.
	Fraction    float64
	HasFraction bool
	At          time.Time
}

// Empty reports whether applying d would change nothing.
func (d RunDelta) Empty() bool {
	return d.Processed == 0 && d.Succeeded == 0 && d.Failed == 0 && d.Bytes == 0 && !d.HasFraction
}

// RunRepository persists worker run progress.
type RunRepository interface {
	// StartRun inserts the run, or leaves an existing row untouched.
	StartRun(ctx context.Context, runID uuid.UUID, worker string, startedAt time.Time) error
	// SetRunStatus records a pause or resume.
	SetRunStatus(ctx context.Context, runID uuid.UUID, status RunStatus, at time.Time) error
	// AddRunCounts applies counter deltas.
	AddRunCounts(ctx context.Context, runID uuid.UUID, delta RunDelta) error
	// FinishRun marks the run ended with the given status and optional error.
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error

	// GetRun returns ErrNotFound when the run is unknown.
	GetRun(ctx context.Context, runID uuid.UUID) (WorkerRun, error)
	// ListRuns returns the newest runs first; an empty worker matches all.
	ListRuns(ctx context.Context, worker string, limit int) ([]WorkerRun, error)
}
