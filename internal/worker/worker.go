package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/capital-forecast-crawler/internal/clock/system"
	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
	iduuid "github.com/JakeFAU/capital-forecast-crawler/internal/id/uuid"
	"github.com/JakeFAU/capital-forecast-crawler/internal/logging"
	"github.com/JakeFAU/capital-forecast-crawler/internal/metrics"
	"github.com/JakeFAU/capital-forecast-crawler/internal/progress"
	"github.com/JakeFAU/capital-forecast-crawler/internal/queue"
)

const (
	defaultQueueBackoff = 250 * time.Millisecond
	maxQueueBackoff     = 5 * time.Second
)

var (
	// ErrInterrupted is returned by Run when the context ends while the
	// worker is paused, blocked on a queue, or between iterations.
	ErrInterrupted = errors.New("worker interrupted")
	// ErrAlreadyStarted is returned by a second call to Run.
	ErrAlreadyStarted = errors.New("worker already started")
)

// Worker drives one stage. All methods are safe for concurrent use; Run must
// be called exactly once.
type Worker struct {
	name     string
	producer Producer
	consumer Consumer
	fetcher  crawler.Fetcher
	errLog   *logging.ErrorLog

	upstream   queue.Handoff
	downstream queue.Handoff
	producers  int
	expected   int

	emitter       progress.Emitter
	retry         crawler.RetryPolicy
	queueRetry    crawler.RetryPolicy
	archive       crawler.BlobStore
	hasher        crawler.Hasher
	archivePrefix string
	clock         crawler.Clock
	ids           crawler.IDGenerator

	// resume is the single-slot rendezvous a paused worker waits on.
	resume chan struct{}

	mu             sync.Mutex
	started        bool
	state          State
	pauseRequested bool
	runID          uuid.UUID
	startedAt      time.Time
	fraction       float64
	processed      int64
	succeeded      int64
	failed         int64
	stopped        bool
}

// NewProducer builds a worker for a producing stage.
func NewProducer(p Producer, fetcher crawler.Fetcher, errLog *logging.ErrorLog, opts ...Option) *Worker {
	w := newWorker(p.Name(), fetcher, errLog, opts...)
	w.producer = p
	return w
}

// NewConsumer builds a worker for a consuming stage fed by upstream.
func NewConsumer(
	c Consumer,
	upstream queue.Handoff,
	fetcher crawler.Fetcher,
	errLog *logging.ErrorLog,
	opts ...Option,
) *Worker {
	w := newWorker(c.Name(), fetcher, errLog, opts...)
	w.consumer = c
	w.upstream = upstream
	return w
}

func newWorker(name string, fetcher crawler.Fetcher, errLog *logging.ErrorLog, opts ...Option) *Worker {
	if errLog == nil {
		errLog = logging.NopErrorLog(zap.NewNop())
	}
	w := &Worker{
		name:      name,
		fetcher:   fetcher,
		errLog:    errLog,
		producers: 1,
		emitter:   progress.Discard,
		clock:     system.New(),
		ids:       iduuid.New(),
		resume:    make(chan struct{}, 1),
		state:     StateStopped,
		// Only Backoff is consulted; a live queue is retried until ctx ends.
		queueRetry: crawler.NewExponentialRetryPolicy(0, defaultQueueBackoff, maxQueueBackoff),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns the worker's name, which also names its error log file.
func (w *Worker) Name() string {
	return w.name
}

// Run starts the loop and blocks until the worker terminates. It returns nil
// when the source is exhausted or the last sentinel was seen, and an error
// wrapping ErrInterrupted when ctx ends first.
func (w *Worker) Run(ctx context.Context) error {
	runID, err := w.ids.NewRawID()
	if err != nil {
		return fmt.Errorf("worker %s: %w", w.name, err)
	}
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true
	w.state = StateRunning
	w.runID = runID
	w.startedAt = w.clock.Now()
	w.fraction = 0
	w.mu.Unlock()

	w.errLog.Open()
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	w.logger().Info("started", zap.String("run_id", runID.String()))
	w.emit(progress.Event{Kind: progress.KindWorkerStart})

	if w.producer != nil {
		err = w.runProducer(ctx)
	} else {
		err = w.runConsumer(ctx)
	}
	w.stop(err)
	return err
}

// Pause asks the worker to stop at the top of its next iteration. It does
// not interrupt a fetch or queue operation already in progress, and is a
// no-op on a worker that is already paused or terminated.
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateTerminated || w.state == StatePaused {
		return
	}
	w.pauseRequested = true
}

// Resume wakes a paused worker. On a worker that has not paused yet it only
// withdraws a pending Pause.
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pauseRequested = false
	if w.state != StatePaused {
		return
	}
	w.state = StateRunning
	select {
	case w.resume <- struct{}{}:
	default:
	}
}

// Progress returns the current snapshot.
func (w *Worker) Progress() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		Name:      w.name,
		State:     w.state,
		Fraction:  w.fraction,
		Processed: w.processed,
		Succeeded: w.succeeded,
		Failed:    w.failed,
		Stopped:   w.stopped,
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) runProducer(ctx context.Context) error {
	targets := w.producer.Targets()
	total := len(targets)
	for i, target := range targets {
		if err := w.checkpoint(ctx); err != nil {
			return err
		}
		url, ok, items := w.produce(ctx, target)
		if w.downstream != nil {
			for _, capital := range items {
				if err := w.push(ctx, capital); err != nil {
					return err
				}
			}
		}
		w.recordItem(url, ok, len(items), float64(i+1)/float64(total))
	}
	if w.downstream == nil {
		return nil
	}
	// Single final push: every real capital is already queued.
	return w.push(ctx, crawler.SentinelCapital())
}

func (w *Worker) produce(ctx context.Context, target crawler.Target) (string, bool, []crawler.Capital) {
	url, body, ok := w.fetch(ctx, target, zap.Skip())
	if !ok {
		return url, false, nil
	}
	found, err := w.producer.Discover(ctx, target, body)
	if err != nil {
		// Capitals the stage did manage to persist are still handed off.
		w.logger().Warn("discover failed", zap.String("url", url),
			zap.Int("kept", len(found)), zap.Error(err))
	}
	items := make([]crawler.Capital, 0, len(found))
	for _, capital := range found {
		if capital.IsTermination() {
			w.logger().Warn("discovered capital uses the reserved sentinel name; skipping",
				zap.String("url", url))
			continue
		}
		items = append(items, capital)
	}
	return url, err == nil, items
}

func (w *Worker) runConsumer(ctx context.Context) error {
	term := queue.NewTerminator(w.producers)
	for {
		if err := w.checkpoint(ctx); err != nil {
			return err
		}
		capital, err := w.pop(ctx)
		if errors.Is(err, queue.ErrMalformed) {
			w.logger().Warn("skipping malformed queue entry", zap.Error(err))
			w.recordItem("", false, 0, w.consumedFraction())
			continue
		}
		if err != nil {
			return err
		}
		if capital.IsTermination() {
			if !term.Observe() {
				w.logger().Info("producer finished", zap.Int("remaining", term.Remaining()))
				continue
			}
			if w.downstream != nil {
				return w.push(ctx, crawler.SentinelCapital())
			}
			return nil
		}
		url, ok := w.consume(ctx, capital)
		w.recordItem(url, ok, 1, w.consumedFraction())
	}
}

// consumedFraction is the fraction reached once the current item is counted.
func (w *Worker) consumedFraction() float64 {
	if w.expected <= 0 {
		return 0
	}
	return min(float64(w.Progress().Processed+1)/float64(w.expected), 1)
}

func (w *Worker) consume(ctx context.Context, capital crawler.Capital) (string, bool) {
	field := zap.String("capital", capital.Name)
	target, err := w.consumer.Target(capital)
	if err != nil {
		w.logger().Warn("cannot build target", field, zap.Error(err))
		return "", false
	}
	url, body, ok := w.fetch(ctx, target, field)
	if !ok {
		return url, false
	}
	if err := w.consumer.Process(ctx, capital, body); err != nil {
		w.logger().Warn("process failed", field, zap.String("url", url), zap.Error(err))
		return url, false
	}
	return url, true
}

// checkpoint runs at the top of every iteration. It honors a pending pause
// and turns a finished ctx into ErrInterrupted.
func (w *Worker) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return interrupted(err)
	}
	w.mu.Lock()
	if !w.pauseRequested {
		w.mu.Unlock()
		return nil
	}
	w.pauseRequested = false
	w.state = StatePaused
	w.mu.Unlock()

	w.errLog.Close()
	w.logger().Info("stopped")
	w.emit(progress.Event{Kind: progress.KindWorkerPaused})

	select {
	case <-w.resume:
	case <-ctx.Done():
		return interrupted(ctx.Err())
	}

	w.logger().Info("resumed")
	w.errLog.Open()
	w.emit(progress.Event{Kind: progress.KindWorkerResumed})
	return nil
}

// pop takes the next capital. An empty queue is a suspend point: the error
// log file is released while the worker blocks. Queue failures other than
// closure or cancellation are retried with backoff.
func (w *Worker) pop(ctx context.Context) (crawler.Capital, error) {
	for attempt := 1; ; attempt++ {
		capital, err := w.popOnce(ctx)
		switch {
		case err == nil, errors.Is(err, queue.ErrMalformed):
			return capital, err
		case ctx.Err() != nil, errors.Is(err, queue.ErrClosed):
			return crawler.Capital{}, interrupted(err)
		}
		delay := w.queueRetry.Backoff(attempt)
		w.logger().Warn("queue pop failed; retrying",
			zap.Int("attempt", attempt), zap.Duration("backoff", delay), zap.Error(err))
		if err := sleep(ctx, delay); err != nil {
			return crawler.Capital{}, interrupted(err)
		}
	}
}

func (w *Worker) popOnce(ctx context.Context) (crawler.Capital, error) {
	capital, ok, err := w.upstream.TryPop(ctx)
	if err != nil || ok {
		return capital, err
	}
	w.logger().Info("waiting")
	w.errLog.Close()
	defer w.errLog.Open()
	return w.upstream.Pop(ctx)
}

func (w *Worker) push(ctx context.Context, capital crawler.Capital) error {
	if err := w.downstream.Push(ctx, capital); err != nil {
		return interrupted(err)
	}
	return nil
}

func (w *Worker) recordItem(url string, ok bool, items int, fraction float64) {
	w.mu.Lock()
	w.processed++
	if ok {
		w.succeeded++
	} else {
		w.failed++
	}
	// Progress never moves backwards while running.
	if fraction > w.fraction {
		w.fraction = fraction
	}
	current := w.fraction
	w.mu.Unlock()

	w.emit(progress.Event{
		Kind:     progress.KindItemDone,
		URL:      url,
		OK:       ok,
		Items:    int64(items),
		Fraction: current,
	})
}

func (w *Worker) stop(cause error) {
	w.mu.Lock()
	w.fraction = 0
	w.stopped = true
	w.state = StateTerminated
	w.pauseRequested = false
	snap := Snapshot{Processed: w.processed, Succeeded: w.succeeded, Failed: w.failed}
	elapsed := w.clock.Now().Sub(w.startedAt)
	w.mu.Unlock()

	fields := []zap.Field{
		zap.Int64("processed", snap.Processed),
		zap.Int64("succeeded", snap.Succeeded),
		zap.Int64("failed", snap.Failed),
	}
	evt := progress.Event{Kind: progress.KindWorkerDone, Dur: max(elapsed, 0)}
	if cause != nil {
		w.logger().Warn("terminated", append(fields, zap.Error(cause))...)
		evt.Kind = progress.KindWorkerError
		evt.Note = cause.Error()
	} else {
		w.logger().Info("terminated", fields...)
	}
	w.errLog.Close()
	w.emit(evt)
}

func (w *Worker) emit(evt progress.Event) {
	w.mu.Lock()
	evt.RunID = w.runID
	w.mu.Unlock()
	evt.Worker = w.name
	evt.TS = w.clock.Now()
	w.emitter.Emit(evt)
}

func (w *Worker) logger() *zap.Logger {
	return w.errLog.Logger().With(zap.String("worker", w.name))
}

func interrupted(err error) error {
	if errors.Is(err, ErrInterrupted) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInterrupted, err)
}
