package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/capital-forecast-crawler/internal/store"
)

// RunStore provides an in-memory store.RunRepository.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.WorkerRun
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]store.WorkerRun)}
}

// StartRun inserts a running row unless the run already exists.
func (s *RunStore) StartRun(_ context.Context, runID uuid.UUID, worker string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[runID]; exists {
		return nil
	}
	s.runs[runID] = store.WorkerRun{
		RunID:     runID,
		Worker:    worker,
		StartedAt: startedAt,
		UpdatedAt: startedAt,
		Status:    store.RunRunning,
	}
	return nil
}

// SetRunStatus updates the status of an unfinished run.
func (s *RunStore) SetRunStatus(_ context.Context, runID uuid.UUID, status store.RunStatus, at time.Time) error {
	return s.update(runID, func(run *store.WorkerRun) {
		if run.FinishedAt != nil {
			return
		}
		run.Status = status
		run.UpdatedAt = at
	})
}

// AddRunCounts applies delta to the run's counters.
func (s *RunStore) AddRunCounts(_ context.Context, runID uuid.UUID, delta store.RunDelta) error {
	return s.update(runID, func(run *store.WorkerRun) {
		run.Processed += delta.Processed
		run.Succeeded += delta.Succeeded
		run.Failed += delta.Failed
		run.Bytes += delta.Bytes
		if delta.HasFraction {
			run.Fraction = delta.Fraction
		}
		if delta.At.After(run.UpdatedAt) {
			run.UpdatedAt = delta.At
		}
	})
}

// FinishRun records the terminal status. The fraction is reset the same way
// the worker resets it on stop.
func (s *RunStore) FinishRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	return s.update(runID, func(run *store.WorkerRun) {
		run.Status = status
		run.Fraction = 0
		run.UpdatedAt = finishedAt
		run.FinishedAt = pointerTime(finishedAt)
		if errMsg != nil {
			msg := *errMsg
			run.ErrorMessage = &msg
		}
	})
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.WorkerRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.WorkerRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first, filtered by worker when set.
func (s *RunStore) ListRuns(_ context.Context, worker string, limit int) ([]store.WorkerRun, error) {
	s.mu.RLock()
	out := make([]store.WorkerRun, 0, len(s.runs))
	for _, run := range s.runs {
		if worker == "" || run.Worker == worker {
			out = append(out, run)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RunStore) update(runID uuid.UUID, apply func(*store.WorkerRun)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	apply(&run)
	s.runs[runID] = run
	return nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
