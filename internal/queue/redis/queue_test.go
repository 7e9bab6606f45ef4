package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
	"github.com/JakeFAU/capital-forecast-crawler/internal/queue"
)

func newTestQueue(t *testing.T, capacity int) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q, err := New(client, Config{
		Key:          "crawler:capitals",
		Capacity:     capacity,
		PollInterval: 5 * time.Millisecond,
		BlockSlice:   50 * time.Millisecond,
	})
	require.NoError(t, err)
	return q, srv
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Key: "k", Capacity: 1})
	require.Error(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	_, err = New(client, Config{Capacity: 1})
	require.Error(t, err)
	_, err = New(client, Config{Key: "k"})
	require.Error(t, err)
}

func TestQueueRoundTripPreservesSentinelByValue(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t, 4)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, crawler.Capital{Name: "Hanoi", ISO2Code: "VN", Latitude: 21.03}))
	require.NoError(t, q.Push(ctx, crawler.SentinelCapital()))

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawler.Capital{Name: "Hanoi", ISO2Code: "VN", Latitude: 21.03}, first)
	assert.False(t, first.IsTermination())

	second, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.True(t, second.IsTermination())
}

func TestQueuePushWaitsForRoom(t *testing.T) {
	t.Parallel()

	q, srv := newTestQueue(t, 1)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, crawler.Capital{Name: "A"}))

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	err := q.Push(timeoutCtx, crawler.Capital{Name: "B"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	done := make(chan error, 1)
	go func() { done <- q.Push(ctx, crawler.Capital{Name: "C"}) }()
	got, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)
	require.NoError(t, <-done)

	items, err := srv.List("crawler:capitals")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t, 2)
	ctx := context.Background()
	result := make(chan crawler.Capital, 1)
	go func() {
		c, err := q.Pop(ctx)
		if err == nil {
			result <- c
		}
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(ctx, crawler.Capital{Name: "Quito"}))
	select {
	case c := <-result:
		assert.Equal(t, "Quito", c.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("pop never returned")
	}
}

func TestQueuePopHonorsCancel(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestQueueTryPopAndClose(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t, 2)
	ctx := context.Background()
	_, ok, err := q.TryPop(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, q.Push(ctx, crawler.Capital{Name: "Rome"}))
	q.Close()
	require.ErrorIs(t, q.Push(ctx, crawler.Capital{Name: "Bern"}), queue.ErrClosed)

	c, ok, err := q.TryPop(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Rome", c.Name)

	_, _, err = q.TryPop(ctx)
	require.ErrorIs(t, err, queue.ErrClosed)
	_, err = q.Pop(ctx)
	require.ErrorIs(t, err, queue.ErrClosed)
}

func TestQueueMalformedEntryIsDeadLetteredAndSkipped(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q, err := New(client, Config{
		Key:        "crawler:capitals",
		Capacity:   4,
		BlockSlice: 50 * time.Millisecond,
		DeadKey:    "crawler:capitals:dead",
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Push(ctx, crawler.Capital{Name: "Lima"}))
	_, err = srv.RPush("crawler:capitals", "{garbage")
	require.NoError(t, err)
	require.NoError(t, q.Push(ctx, crawler.Capital{Name: "Quito"}))

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Lima", first.Name)

	_, err = q.Pop(ctx)
	require.ErrorIs(t, err, queue.ErrMalformed)

	next, ok, err := q.TryPop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Quito", next.Name)

	dead, err := srv.List("crawler:capitals:dead")
	require.NoError(t, err)
	assert.Equal(t, []string{"{garbage"}, dead)
}

func TestQueueTryPopReportsMalformedEntry(t *testing.T) {
	t.Parallel()

	q, srv := newTestQueue(t, 2)
	_, err := srv.RPush("crawler:capitals", "not json")
	require.NoError(t, err)

	_, ok, err := q.TryPop(context.Background())
	require.ErrorIs(t, err, queue.ErrMalformed)
	assert.False(t, ok)
	assert.False(t, srv.Exists("crawler:capitals:dead"), "no dead-letter key configured")
}
