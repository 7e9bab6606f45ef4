package worker

import (
	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
	"github.com/JakeFAU/capital-forecast-crawler/internal/progress"
	"github.com/JakeFAU/capital-forecast-crawler/internal/queue"
)

// Option configures a Worker.
type Option func(*Worker)

// WithDownstream sets the queue discovered or consumed capitals are handed to.
// Producers push every discovered capital; consumers only forward the
// termination sentinel.
func WithDownstream(q queue.Handoff) Option {
	return func(w *Worker) { w.downstream = q }
}

// WithProducers sets how many producers feed the upstream queue. The
// consumer terminates after seeing that many sentinels.
func WithProducers(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.producers = n
		}
	}
}

// WithExpected gives a consumer the number of capitals it should see, used
// only to report a completion fraction.
func WithExpected(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.expected = n
		}
	}
}

// WithEmitter sends progress events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(w *Worker) {
		if e != nil {
			w.emitter = e
		}
	}
}

// WithRetryPolicy retries failed fetches according to p.
func WithRetryPolicy(p crawler.RetryPolicy) Option {
	return func(w *Worker) { w.retry = p }
}

// WithQueueRetry sets the backoff between attempts when the upstream queue
// fails. Only p.Backoff is used: pops are retried until ctx ends.
func WithQueueRetry(p crawler.RetryPolicy) Option {
	return func(w *Worker) {
		if p != nil {
			w.queueRetry = p
		}
	}
}

// WithArchive stores every fetched body under prefix/<worker>/<hash>.html.
func WithArchive(store crawler.BlobStore, hasher crawler.Hasher, prefix string) Option {
	return func(w *Worker) {
		w.archive = store
		w.hasher = hasher
		w.archivePrefix = prefix
	}
}

// WithClock overrides the clock used for event timestamps.
func WithClock(c crawler.Clock) Option {
	return func(w *Worker) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithIDGenerator overrides how run IDs are generated.
func WithIDGenerator(g crawler.IDGenerator) Option {
	return func(w *Worker) {
		if g != nil {
			w.ids = g
		}
	}
}
