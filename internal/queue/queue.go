// Package queue defines the hand-off queue that carries capitals from a
// producing crawl stage to a consuming one, and the sentinel bookkeeping
// consumers use to decide when every producer has finished.
package queue

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
)

var (
	// ErrClosed is returned by Pop once the queue is closed and drained.
	ErrClosed = errors.New("queue closed")
	// ErrMalformed is returned when a popped entry cannot be decoded. The
	// entry has already left the queue; the next Pop moves on.
	ErrMalformed = errors.New("malformed queue entry")
)

// Handoff is a bounded FIFO shared by declared producers and consumers.
// Push blocks while full and Pop blocks while empty; both honor ctx.
type Handoff interface {
	Push(ctx context.Context, capital crawler.Capital) error
	Pop(ctx context.Context) (crawler.Capital, error)
	// TryPop returns immediately; ok is false when nothing was queued.
	TryPop(ctx context.Context) (capital crawler.Capital, ok bool, err error)
	Close()
}

// Terminator counts sentinels on behalf of one consumer. With a single
// producer the first sentinel terminates; with N producers feeding the same
// queue the consumer keeps going until it has seen N of them.
type Terminator struct {
	remaining atomic.Int64
}

// NewTerminator expects the given number of producers (minimum one).
func NewTerminator(producers int) *Terminator {
	if producers < 1 {
		producers = 1
	}
	t := &Terminator{}
	t.remaining.Store(int64(producers))
	return t
}

// Observe records one sentinel and reports whether it was the last expected.
func (t *Terminator) Observe() bool {
	return t.remaining.Add(-1) <= 0
}

// Remaining reports how many producers have not yet signalled.
func (t *Terminator) Remaining() int {
	n := t.remaining.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
