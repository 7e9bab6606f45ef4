// Package memory provides the in-process hand-off queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
	"github.com/JakeFAU/capital-forecast-crawler/internal/metrics"
	"github.com/JakeFAU/capital-forecast-crawler/internal/queue"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	name    string
	ch      chan crawler.Capital
	closeMu sync.RWMutex
	closed  bool
}

var _ queue.Handoff = (*Queue)(nil)

// NewQueue constructs a queue holding at most capacity items. The name labels
// the queue depth gauge.
func NewQueue(name string, capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		name: name,
		ch:   make(chan crawler.Capital, capacity),
	}
}

// Cap reports the fixed capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Push enqueues a capital, blocking while the queue is full.
func (q *Queue) Push(ctx context.Context, capital crawler.Capital) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return fmt.Errorf("push %q: %w", capital.Name, queue.ErrClosed)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("push canceled: %w", ctx.Err())
	case q.ch <- capital:
		metrics.SetQueueDepth(q.name, len(q.ch))
		return nil
	}
}

// Pop dequeues the oldest capital, blocking while the queue is empty.
func (q *Queue) Pop(ctx context.Context) (crawler.Capital, error) {
	select {
	case <-ctx.Done():
		return crawler.Capital{}, fmt.Errorf("pop canceled: %w", ctx.Err())
	case capital, ok := <-q.ch:
		if !ok {
			return crawler.Capital{}, queue.ErrClosed
		}
		metrics.SetQueueDepth(q.name, len(q.ch))
		return capital, nil
	}
}

// TryPop dequeues without blocking.
func (q *Queue) TryPop(ctx context.Context) (crawler.Capital, bool, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Capital{}, false, fmt.Errorf("pop canceled: %w", err)
	}
	select {
	case capital, ok := <-q.ch:
		if !ok {
			return crawler.Capital{}, false, queue.ErrClosed
		}
		metrics.SetQueueDepth(q.name, len(q.ch))
		return capital, true, nil
	default:
		return crawler.Capital{}, false, nil
	}
}

// Close stops further pushes. Items already queued can still be popped.
// It waits for in-flight pushes, so call it once producers have returned.
// Closing twice is safe.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
