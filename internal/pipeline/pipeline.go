// Package pipeline runs a set of crawl workers side by side and reports on
// them as a group.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/capital-forecast-crawler/internal/queue"
	"github.com/JakeFAU/capital-forecast-crawler/internal/worker"
)

// ErrEmpty is returned by Run when no workers were added.
var ErrEmpty = errors.New("pipeline has no workers")

// Pipeline starts every worker in its own goroutine and waits for all of
// them to terminate.
type Pipeline struct {
	logger  *zap.Logger
	workers []*worker.Worker
	queues  []queue.Handoff

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// New builds an empty pipeline.
func New(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{logger: logger, done: make(chan struct{})}
}

// Add registers workers. It must be called before Run.
func (p *Pipeline) Add(workers ...*worker.Worker) *Pipeline {
	p.workers = append(p.workers, workers...)
	return p
}

// Own registers queues the pipeline closes after every worker has finished.
func (p *Pipeline) Own(queues ...queue.Handoff) *Pipeline {
	p.queues = append(p.queues, queues...)
	return p
}

// Run blocks until every worker has terminated. A worker that fails cancels
// the others; the first such error is returned. Interruptions caused by ctx
// itself are reported as ctx.Err() wrapped in worker.ErrInterrupted.
func (p *Pipeline) Run(ctx context.Context) error {
	if len(p.workers) == 0 {
		return ErrEmpty
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return worker.ErrAlreadyStarted
	}
	p.running = true
	p.mu.Unlock()
	defer close(p.done)
	defer p.closeQueues()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			if err := w.Run(gctx); err != nil {
				return fmt.Errorf("%s: %w", w.Name(), err)
			}
			p.logger.Debug("worker finished", zap.String("worker", w.Name()))
			return nil
		})
	}
	err := g.Wait()
	p.logSummary()
	return err
}

// Done is closed once Run has returned.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Pause asks every worker to pause at its next iteration.
func (p *Pipeline) Pause() {
	for _, w := range p.workers {
		w.Pause()
	}
}

// Resume wakes every paused worker.
func (p *Pipeline) Resume() {
	for _, w := range p.workers {
		w.Resume()
	}
}

// Progress returns one snapshot per worker in registration order.
func (p *Pipeline) Progress() []worker.Snapshot {
	out := make([]worker.Snapshot, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.Progress())
	}
	return out
}

// Report logs every worker's progress each interval until ctx ends or the
// pipeline finishes.
func (p *Pipeline) Report(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			for _, snap := range p.Progress() {
				p.logger.Info("progress", snapshotFields(snap)...)
			}
		}
	}
}

func (p *Pipeline) logSummary() {
	for _, snap := range p.Progress() {
		p.logger.Info("worker summary", snapshotFields(snap)...)
	}
}

func (p *Pipeline) closeQueues() {
	for _, q := range p.queues {
		q.Close()
	}
}

func snapshotFields(s worker.Snapshot) []zap.Field {
	return []zap.Field{
		zap.String("worker", s.Name),
		zap.Stringer("state", s.State),
		zap.Float64("fraction", s.Fraction),
		zap.Int64("processed", s.Processed),
		zap.Int64("succeeded", s.Succeeded),
		zap.Int64("failed", s.Failed),
	}
}
