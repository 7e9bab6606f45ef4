// Package redis implements the hand-off queue on a Redis list so producer and
// consumer stages can run in different processes. Capitals cross the wire as
// JSON, which is why consumers identify the sentinel by name only.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
	"github.com/JakeFAU/capital-forecast-crawler/internal/metrics"
	"github.com/JakeFAU/capital-forecast-crawler/internal/queue"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultBlockSlice   = time.Second
)

// pushIfRoom appends ARGV[1] to KEYS[1] only while the list is shorter than
// ARGV[2]; it returns the new length, or -1 when the list is full.
var pushIfRoom = goredis.NewScript(`
local n = redis.call('LLEN', KEYS[1])
if n >= tonumber(ARGV[2]) then
	return -1
end
return redis.call('RPUSH', KEYS[1], ARGV[1])
`)

// Config controls the Redis-backed queue.
type Config struct {
	// Key is the Redis list holding queued capitals.
	Key string
	// Capacity bounds the list length seen by Push.
	Capacity int
	// PollInterval is how long Push sleeps between attempts on a full list.
	PollInterval time.Duration
	// BlockSlice bounds each BLPOP so cancellation is noticed promptly.
	BlockSlice time.Duration
	// DeadKey, when set, receives the raw text of entries that fail to decode.
	DeadKey string
}

// Queue is a bounded FIFO backed by a Redis list.
type Queue struct {
	client goredis.UniversalClient
	cfg    Config
	closed atomic.Bool
}

var _ queue.Handoff = (*Queue)(nil)

// New wraps an existing client.
func New(client goredis.UniversalClient, cfg Config) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Key == "" {
		return nil, errors.New("redis queue key is required")
	}
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("redis queue capacity must be > 0, got %d", cfg.Capacity)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BlockSlice <= 0 {
		cfg.BlockSlice = defaultBlockSlice
	}
	return &Queue{client: client, cfg: cfg}, nil
}

// Push appends a capital, waiting while the list is at capacity.
func (q *Queue) Push(ctx context.Context, capital crawler.Capital) error {
	if q.closed.Load() {
		return fmt.Errorf("push %q: %w", capital.Name, queue.ErrClosed)
	}
	payload, err := json.Marshal(capital)
	if err != nil {
		return fmt.Errorf("encode capital: %w", err)
	}
	for {
		n, err := pushIfRoom.Run(ctx, q.client, []string{q.cfg.Key}, payload, q.cfg.Capacity).Int64()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("push canceled: %w", ctx.Err())
			}
			return fmt.Errorf("redis push: %w", err)
		}
		if n >= 0 {
			metrics.SetQueueDepth(q.cfg.Key, int(n))
			return nil
		}
		if err := sleep(ctx, q.cfg.PollInterval); err != nil {
			return fmt.Errorf("push canceled: %w", err)
		}
	}
}

// Pop removes the oldest capital, blocking while the list is empty.
func (q *Queue) Pop(ctx context.Context) (crawler.Capital, error) {
	for {
		if err := ctx.Err(); err != nil {
			return crawler.Capital{}, fmt.Errorf("pop canceled: %w", err)
		}
		res, err := q.client.BLPop(ctx, q.cfg.BlockSlice, q.cfg.Key).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			if q.closed.Load() {
				return crawler.Capital{}, queue.ErrClosed
			}
			continue
		case err != nil:
			if ctx.Err() != nil {
				return crawler.Capital{}, fmt.Errorf("pop canceled: %w", ctx.Err())
			}
			return crawler.Capital{}, fmt.Errorf("redis pop: %w", err)
		}
		if len(res) != 2 {
			return crawler.Capital{}, fmt.Errorf("redis pop: unexpected reply %v", res)
		}
		return q.decode(ctx, res[1])
	}
}

// TryPop removes the oldest capital if one is queued.
func (q *Queue) TryPop(ctx context.Context) (crawler.Capital, bool, error) {
	raw, err := q.client.LPop(ctx, q.cfg.Key).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		if q.closed.Load() {
			return crawler.Capital{}, false, queue.ErrClosed
		}
		return crawler.Capital{}, false, nil
	case err != nil:
		return crawler.Capital{}, false, fmt.Errorf("redis pop: %w", err)
	}
	capital, err := q.decode(ctx, raw)
	if err != nil {
		return crawler.Capital{}, false, err
	}
	return capital, true, nil
}

// Close marks the local handle closed. The Redis list and client are left
// alone because other processes may still use them.
func (q *Queue) Close() {
	q.closed.Store(true)
}

func (q *Queue) decode(ctx context.Context, raw string) (crawler.Capital, error) {
	var capital crawler.Capital
	if err := json.Unmarshal([]byte(raw), &capital); err != nil {
		if q.cfg.DeadKey != "" {
			if dlErr := q.client.RPush(ctx, q.cfg.DeadKey, raw).Err(); dlErr != nil {
				return crawler.Capital{}, fmt.Errorf("%w: %w (dead-letter: %w)", queue.ErrMalformed, err, dlErr)
			}
		}
		return crawler.Capital{}, fmt.Errorf("%w: %w", queue.ErrMalformed, err)
	}
	if n, err := q.client.LLen(ctx, q.cfg.Key).Result(); err == nil {
		metrics.SetQueueDepth(q.cfg.Key, int(n))
	}
	return capital, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
