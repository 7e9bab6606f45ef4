package progress

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config tunes the Hub. Zero values take the defaults in parentheses.
type Config struct {
	// BufferSize is the capacity of the emit channel (1024).
	BufferSize int
	// MaxBatchEvents flushes as soon as this many events are pending (256).
	MaxBatchEvents int
	// MaxBatchWait is the flush tick for smaller batches (500ms).
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call (10s).
	SinkTimeout time.Duration
	// BaseContext parents every sink call (context.Background()).
	BaseContext context.Context
	// Logger receives drop and sink warnings (no-op).
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = 256
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = 500 * time.Millisecond
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = 10 * time.Second
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// dropWarnEvery rate-limits the backpressure warning.
const dropWarnEvery = 5 * time.Second

// Stats is a point-in-time view of Hub delivery.
type Stats struct {
	Delivered  int64
	Dropped    int64
	SinkErrors int64
}

// Hub collects events from every worker and delivers them in batches to its
// sinks. Emit never blocks: a worker is never slowed down by a slow sink.
type Hub struct {
	cfg   Config
	sinks []Sink
	in    chan Event
	quit  chan struct{}
	done  chan struct{}

	closing  atomic.Bool
	stopOnce sync.Once
	closeCtx context.Context

	delivered  atomic.Int64
	dropped    atomic.Int64
	unwarned   atomic.Int64
	sinkErrors atomic.Int64
	lastWarn   atomic.Int64
}

// NewHub starts delivering to sinks. Nil sinks are ignored.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:   cfg,
		sinks: slices.DeleteFunc(slices.Clone(sinks), func(s Sink) bool { return s == nil }),
		in:    make(chan Event, cfg.BufferSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go h.loop()
	return h
}

// Emit queues evt for delivery. Invalid events are discarded; when the
// buffer is full the event is counted as dropped.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.cfg.Logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.in <- evt:
	default:
		h.dropped.Add(1)
		h.unwarned.Add(1)
		h.warnDrops(time.Now())
	}
}

func (h *Hub) warnDrops(now time.Time) {
	last := h.lastWarn.Load()
	if now.UnixNano()-last < int64(dropWarnEvery) || !h.lastWarn.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	h.cfg.Logger.Warn("progress events dropped due to backpressure",
		zap.Int64("dropped", h.unwarned.Swap(0)),
		zap.Int64("dropped_total", h.dropped.Load()))
}

// Dropped returns how many events have been dropped since the Hub started.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Stats reports delivery counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Delivered:  h.delivered.Load(),
		Dropped:    h.dropped.Load(),
		SinkErrors: h.sinkErrors.Load(),
	}
}

// Close stops accepting events, delivers what is buffered, closes the sinks
// with ctx and waits for all of it. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.stopOnce.Do(func() {
		h.closing.Store(true)
		h.closeCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close progress hub: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	tick := time.NewTicker(h.cfg.MaxBatchWait)
	defer tick.Stop()

	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	for {
		select {
		case evt := <-h.in:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				pending = h.deliver(pending)
			}
		case <-tick.C:
			pending = h.deliver(pending)
		case <-h.quit:
			h.deliver(h.drain(pending))
			h.closeSinks()
			return
		}
	}
}

// drain collects whatever is still buffered once Close has been called.
func (h *Hub) drain(pending []Event) []Event {
	for {
		select {
		case evt := <-h.in:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				pending = h.deliver(pending)
			}
		default:
			return pending
		}
	}
}

// deliver hands one batch to every sink concurrently and returns pending
// emptied for reuse. Sinks receive the same slice and must not modify it.
func (h *Hub) deliver(pending []Event) []Event {
	if len(pending) == 0 {
		return pending
	}
	batch := slices.Clone(pending)
	var g errgroup.Group
	for _, sink := range h.sinks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
			defer cancel()
			if err := sink.Consume(ctx, batch); err != nil {
				h.sinkErrors.Add(1)
				h.cfg.Logger.Warn("progress sink consume failed",
					zap.String("sink", fmt.Sprintf("%T", sink)),
					zap.Int("events", len(batch)),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	h.delivered.Add(int64(len(batch)))
	return pending[:0]
}

func (h *Hub) closeSinks() {
	for _, sink := range h.sinks {
		if err := sink.Close(h.closeCtx); err != nil {
			h.cfg.Logger.Warn("progress sink close failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
	s := h.Stats()
	h.cfg.Logger.Debug("progress hub closed",
		zap.Int64("delivered", s.Delivered),
		zap.Int64("dropped", s.Dropped),
		zap.Int64("sink_errors", s.SinkErrors))
}
