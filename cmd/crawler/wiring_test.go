package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/capital-forecast-crawler/internal/config"
	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/capital-forecast-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/capital-forecast-crawler/internal/storage/local"
	"github.com/JakeFAU/capital-forecast-crawler/internal/storage/memory"
	"github.com/JakeFAU/capital-forecast-crawler/internal/worker"
)

func defaultConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Logging.Dir = t.TempDir()
	return cfg
}

func TestBuildWiresEveryStage(t *testing.T) {
	cfg := defaultConfig(t)
	res := &resources{logger: zap.NewNop()}
	defer res.close()

	app, err := build(context.Background(), cfg, zap.NewNop(), res)
	require.NoError(t, err)
	defer func() { _ = app.hub.Close(context.Background()) }()

	var names []string
	for _, snap := range app.pipeline.Progress() {
		names = append(names, snap.Name)
		assert.Equal(t, worker.StateStopped, snap.State)
	}
	assert.ElementsMatch(t, []string{"ForecastWorker", "CapitalWorker", "NewsWorker"}, names)
	assert.IsType(t, &memory.RunStore{}, app.runs)
	assert.Empty(t, app.checks)
}

func TestBuildHonorsStageSelection(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Pipeline.Stages = []string{"news"}
	res := &resources{logger: zap.NewNop()}
	defer res.close()

	app, err := build(context.Background(), cfg, zap.NewNop(), res)
	require.NoError(t, err)
	defer func() { _ = app.hub.Close(context.Background()) }()

	snaps := app.pipeline.Progress()
	require.Len(t, snaps, 1)
	assert.Equal(t, "NewsWorker", snaps[0].Name)
}

func TestBuildFetcherColly(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.RateLimit.RPS = 0
	res := &resources{logger: zap.NewNop()}
	defer res.close()

	fetcher, err := buildFetcher(cfg, zap.NewNop(), res)
	require.NoError(t, err)
	assert.IsType(t, &collyfetcher.Fetcher{}, fetcher)

	cfg.RateLimit.RPS = 2
	limited, err := buildFetcher(cfg, zap.NewNop(), res)
	require.NoError(t, err)
	assert.IsType(t, crawler.FetcherFunc(nil), limited, "a rate limit wraps the collector")
}

func TestOpenArchive(t *testing.T) {
	cfg := defaultConfig(t)
	res := &resources{logger: zap.NewNop()}
	defer res.close()

	blobs, err := openArchive(context.Background(), cfg, zap.NewNop(), res)
	require.NoError(t, err)
	assert.Nil(t, blobs)

	cfg.Archive.Backend = config.ArchiveMemory
	blobs, err = openArchive(context.Background(), cfg, zap.NewNop(), res)
	require.NoError(t, err)
	assert.IsType(t, &memory.BlobStore{}, blobs)

	cfg.Archive.Backend = config.ArchiveLocal
	cfg.Archive.Dir = t.TempDir()
	blobs, err = openArchive(context.Background(), cfg, zap.NewNop(), res)
	require.NoError(t, err)
	assert.IsType(t, &local.BlobStore{}, blobs)
}

func TestOpenPublisherDisabled(t *testing.T) {
	cfg := defaultConfig(t)
	pub, err := openPublisher(context.Background(), cfg, &resources{logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Nil(t, pub)
}

func TestOpenQueueMemory(t *testing.T) {
	cfg := defaultConfig(t)
	app := &application{}
	q, err := openQueue(cfg, &resources{logger: zap.NewNop()}, app)
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Push(context.Background(), crawler.Capital{Name: "Oslo", ISO2Code: "NO"}))
	got, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Oslo", got.Name)
	assert.Empty(t, app.checks)
}

func TestResourcesCloseInReverseOrder(t *testing.T) {
	res := &resources{logger: zap.NewNop()}
	var order []int
	res.add(func() { order = append(order, 1) })
	res.add(func() { order = append(order, 2) })
	res.close()
	res.close()
	assert.Equal(t, []int{2, 1}, order)
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := newLogger(config.LoggingConfig{Level: "chatty"})
	require.Error(t, err)

	logger, err := newLogger(config.LoggingConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
