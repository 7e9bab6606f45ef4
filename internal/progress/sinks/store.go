package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/capital-forecast-crawler/internal/progress"
	"github.com/JakeFAU/capital-forecast-crawler/internal/store"
)

// StoreSink persists progress through a store.RunRepository. Item and fetch
// events are collapsed into one counter delta per run per batch.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch in order. Lifecycle events are written as they
// come; counter deltas are flushed before any lifecycle write for the same
// run so a finished run never receives late counts.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[uuid.UUID]*store.RunDelta)
	order := make([]uuid.UUID, 0)

	flushRun := func(id uuid.UUID) error {
		delta, ok := pending[id]
		if !ok {
			return nil
		}
		delete(pending, id)
		if delta.Empty() {
			return nil
		}
		if err := s.repo.AddRunCounts(ctx, id, *delta); err != nil {
			return fmt.Errorf("add run counts: %w", err)
		}
		return nil
	}

	for _, evt := range batch {
		switch evt.Kind {
		case progress.KindFetchDone, progress.KindItemDone:
			delta := pending[evt.RunID]
			if delta == nil {
				delta = &store.RunDelta{}
				pending[evt.RunID] = delta
				order = append(order, evt.RunID)
			}
			accumulate(delta, evt)
		default:
			if err := flushRun(evt.RunID); err != nil {
				return err
			}
			if err := s.handleLifecycle(ctx, evt); err != nil {
				return err
			}
		}
	}
	for _, id := range order {
		if err := flushRun(id); err != nil {
			return err
		}
	}
	return nil
}

func accumulate(delta *store.RunDelta, evt progress.Event) {
	if evt.TS.After(delta.At) {
		delta.At = evt.TS
	}
	if evt.Kind == progress.KindFetchDone {
		delta.Bytes += evt.Bytes
		return
	}
	delta.Processed++
	if evt.OK {
		delta.Succeeded++
	} else {
		delta.Failed++
	}
	delta.Fraction = evt.Fraction
	delta.HasFraction = true
}

func (s *StoreSink) handleLifecycle(ctx context.Context, evt progress.Event) error {
	switch evt.Kind {
	case progress.KindWorkerStart:
		if err := s.repo.StartRun(ctx, evt.RunID, evt.Worker, evt.TS); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case progress.KindWorkerPaused:
		if err := s.repo.SetRunStatus(ctx, evt.RunID, store.RunPaused, evt.TS); err != nil {
			return fmt.Errorf("pause run: %w", err)
		}
	case progress.KindWorkerResumed:
		if err := s.repo.SetRunStatus(ctx, evt.RunID, store.RunRunning, evt.TS); err != nil {
			return fmt.Errorf("resume run: %w", err)
		}
	case progress.KindWorkerDone:
		if err := s.repo.FinishRun(ctx, evt.RunID, evt.TS, store.RunSucceeded, nil); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	case progress.KindWorkerError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.FinishRun(ctx, evt.RunID, evt.TS, store.RunInterrupted, note); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
