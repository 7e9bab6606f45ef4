package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/capital-forecast-crawler/internal/api"
	"github.com/JakeFAU/capital-forecast-crawler/internal/config"
	"github.com/JakeFAU/capital-forecast-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/capital-forecast-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/capital-forecast-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/capital-forecast-crawler/internal/hash/sha256"
	"github.com/JakeFAU/capital-forecast-crawler/internal/headless/detector"
	"github.com/JakeFAU/capital-forecast-crawler/internal/logging"
	"github.com/JakeFAU/capital-forecast-crawler/internal/pipeline"
	"github.com/JakeFAU/capital-forecast-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/capital-forecast-crawler/internal/progress"
	"github.com/JakeFAU/capital-forecast-crawler/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/capital-forecast-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/capital-forecast-crawler/internal/queue"
	queuememory "github.com/JakeFAU/capital-forecast-crawler/internal/queue/memory"
	redisqueue "github.com/JakeFAU/capital-forecast-crawler/internal/queue/redis"
	"github.com/JakeFAU/capital-forecast-crawler/internal/stages"
	"github.com/JakeFAU/capital-forecast-crawler/internal/storage/gcs"
	"github.com/JakeFAU/capital-forecast-crawler/internal/storage/local"
	"github.com/JakeFAU/capital-forecast-crawler/internal/storage/memory"
	"github.com/JakeFAU/capital-forecast-crawler/internal/storage/mongo"
	"github.com/JakeFAU/capital-forecast-crawler/internal/storage/postgres"
	"github.com/JakeFAU/capital-forecast-crawler/internal/store"
	"github.com/JakeFAU/capital-forecast-crawler/internal/worker"
)

// entityStore is what the stages persist into.
type entityStore interface {
	crawler.CapitalStore
	crawler.ForecastStore
	crawler.ArticleStore
}

// resources collects cleanup functions, run in reverse order.
type resources struct {
	logger  *zap.Logger
	closers []func()
}

func (r *resources) add(fn func()) {
	r.closers = append(r.closers, fn)
}

func (r *resources) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

type application struct {
	pipeline *pipeline.Pipeline
	hub      *progress.Hub
	runs     store.RunRepository
	checks   []api.Option
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger, res *resources) (*application, error) {
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}
	app := &application{}

	entities, runs, err := openStores(ctx, cfg, logger, res, app)
	if err != nil {
		return nil, err
	}
	app.runs = runs

	fetcher, err := buildFetcher(cfg, logger, res)
	if err != nil {
		return nil, err
	}
	archive, err := openArchive(ctx, cfg, logger, res)
	if err != nil {
		return nil, err
	}
	publisher, err := openPublisher(ctx, cfg, res)
	if err != nil {
		return nil, err
	}

	hub, err := buildHub(cfg, logger, runs)
	if err != nil {
		return nil, err
	}
	app.hub = hub

	fileLevel, err := logging.ParseLevel(cfg.Logging.FileLevel)
	if err != nil {
		return nil, fmt.Errorf("logging.file_level: %w", err)
	}
	errLog := func(name string) *logging.ErrorLog {
		return logging.NewErrorLog(logger.Named(name), name, logging.ErrorLogConfig{
			Dir:    cfg.Logging.Dir,
			Suffix: cfg.Logging.Suffix,
			Level:  fileLevel,
		})
	}
	common := []worker.Option{
		worker.WithEmitter(hub),
		worker.WithRetryPolicy(cfg.RetryPolicy()),
	}
	if archive != nil {
		common = append(common, worker.WithArchive(archive, sha256.New(), cfg.Archive.Prefix))
	}
	with := func(extra ...worker.Option) []worker.Option {
		return append(append([]worker.Option(nil), common...), extra...)
	}

	p := pipeline.New(logger.Named("pipeline"))
	if cfg.RunsStage("capital") {
		capitalStage := stages.NewCapitalStage(catalog.MustPage(crawler.PageCapitalList), cfg.Stages.Capital, entities)
		var opts []worker.Option
		if cfg.RunsStage("forecast") {
			handoff, err := openQueue(cfg, res, app)
			if err != nil {
				return nil, err
			}
			p.Own(handoff)
			opts = append(opts, worker.WithDownstream(handoff))

			forecastOpts := []stages.ForecastOption{stages.WithWindow(cfg.Stages.Forecast.WindowDays)}
			if publisher != nil {
				forecastOpts = append(forecastOpts, stages.WithPublisher(publisher, cfg.PubSub.Topic))
			}
			forecastStage := stages.NewForecastStage(
				catalog.MustPage(crawler.PageWeather),
				cfg.Stages.Forecast.ForecastSelectors,
				entities,
				forecastOpts...,
			)
			p.Add(worker.NewConsumer(forecastStage, handoff, fetcher, errLog(forecastStage.Name()),
				with(worker.WithExpected(cfg.Pipeline.ExpectedCapitals))...))
		}
		p.Add(worker.NewProducer(capitalStage, fetcher, errLog(capitalStage.Name()), with(opts...)...))
	}
	if cfg.RunsStage("news") {
		newsStage := stages.NewNewsStage(
			catalog.MustPage(crawler.PageNews),
			cfg.Stages.News.NewsSelectors,
			entities,
			cfg.Stages.News.Pages,
			cfg.Stages.News.PageParam,
		)
		p.Add(worker.NewProducer(newsStage, fetcher, errLog(newsStage.Name()), with()...))
	}
	app.pipeline = p
	return app, nil
}

func openStores(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
	res *resources,
	app *application,
) (entityStore, store.RunRepository, error) {
	switch cfg.Store.Backend {
	case config.StorePostgres:
		pool, err := postgres.Connect(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeSeconds) * time.Second,
		}, serviceName)
		if err != nil {
			return nil, nil, err
		}
		res.add(pool.Close)
		if cfg.Store.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				return nil, nil, err
			}
			logger.Info("postgres schema applied")
		}
		entities, err := postgres.NewEntityStore(pool)
		if err != nil {
			return nil, nil, err
		}
		runs, err := postgres.NewRunStore(pool)
		if err != nil {
			return nil, nil, err
		}
		app.checks = append(app.checks, api.WithCheck("postgres", entities))
		return entities, runs, nil
	case config.StoreMongo:
		client, err := mongo.Connect(ctx, mongo.Config{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
			Timeout:  time.Duration(cfg.Mongo.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		res.add(func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(dctx); err != nil {
				logger.Warn("mongo disconnect failed", zap.Error(err))
			}
		})
		entities := mongo.New(client.Database(cfg.Mongo.Database))
		if err := entities.EnsureIndexes(ctx); err != nil {
			return nil, nil, err
		}
		app.checks = append(app.checks, api.WithCheck("mongo", entities))
		return entities, memory.NewRunStore(), nil
	default:
		return memory.NewEntityStore(), memory.NewRunStore(), nil
	}
}

func buildFetcher(cfg config.Config, logger *zap.Logger, res *resources) (crawler.Fetcher, error) {
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetcher.UserAgent,
		RespectRobots: cfg.Fetcher.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	})

	var fetcher crawler.Fetcher = static
	if cfg.Fetcher.Mode == config.FetcherHeadless || cfg.Fetcher.Mode == config.FetcherAuto {
		rendered, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetcher.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			Settle:            time.Duration(cfg.Headless.SettleMs) * time.Millisecond,
			ExecPath:          cfg.Headless.ExecPath,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher: %w", err)
		}
		res.add(rendered.Close)
		fetcher = rendered
		if cfg.Fetcher.Mode == config.FetcherAuto {
			fetcher = detector.NewPromoting(static, rendered, detector.PromotingConfig{
				Heuristic:    detector.NewHeuristic(cfg.Headless.ShellMaxBytes),
				PromoteAfter: cfg.Headless.PromotionThreshold,
				Logger:       logger.Named("detector"),
			})
		}
	}

	if cfg.RateLimit.RPS > 0 {
		hosts := make([]ratelimit.HostLimit, 0, len(cfg.RateLimit.Hosts))
		for _, h := range cfg.RateLimit.Hosts {
			hosts = append(hosts, ratelimit.HostLimit{Host: h.Host, RPS: h.RPS, Burst: h.Burst})
		}
		limiter := ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.RPS,
			DefaultBurst: cfg.RateLimit.Burst,
			Hosts:        hosts,
		})
		fetcher = limiter.Wrap(fetcher)
	}
	return fetcher, nil
}

func openArchive(ctx context.Context, cfg config.Config, logger *zap.Logger, res *resources) (crawler.BlobStore, error) {
	switch cfg.Archive.Backend {
	case config.ArchiveLocal:
		blobs, err := local.New(local.Config{BaseDir: cfg.Archive.Dir})
		if err != nil {
			return nil, fmt.Errorf("local archive: %w", err)
		}
		return blobs, nil
	case config.ArchiveGCS:
		blobs, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Archive.GCSBucket}, logger.Named("gcs"))
		if err != nil {
			return nil, err
		}
		res.add(func() {
			if err := blobs.Close(); err != nil {
				logger.Warn("gcs close failed", zap.Error(err))
			}
		})
		return blobs, nil
	case config.ArchiveMemory:
		return memory.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func openPublisher(ctx context.Context, cfg config.Config, res *resources) (crawler.Publisher, error) {
	if !cfg.PubSub.Enabled {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client, cfg.PubSub.Source)
	res.add(func() {
		pub.Close()
		_ = client.Close()
	})
	return pub, nil
}

func openQueue(cfg config.Config, res *resources, app *application) (queue.Handoff, error) {
	if cfg.Pipeline.Queue != config.QueueRedis {
		return queuememory.NewQueue("capitals", cfg.Pipeline.QueueCapacity), nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	res.add(func() { _ = client.Close() })
	q, err := redisqueue.New(client, redisqueue.Config{
		Key:          cfg.Redis.Key,
		Capacity:     cfg.Pipeline.QueueCapacity,
		PollInterval: time.Duration(cfg.Redis.PollIntervalMs) * time.Millisecond,
		DeadKey:      cfg.Redis.Key + ":dead",
	})
	if err != nil {
		return nil, fmt.Errorf("redis queue: %w", err)
	}
	app.checks = append(app.checks, api.WithCheck("redis", api.PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})))
	return q, nil
}

func buildHub(cfg config.Config, logger *zap.Logger, runs store.RunRepository) (*progress.Hub, error) {
	hubSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress"))}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	var already prometheus.AlreadyRegisteredError
	switch {
	case err == nil:
		hubSinks = append(hubSinks, promSink)
	case errors.As(err, &already):
		logger.Warn("progress metrics already registered", zap.Error(err))
	default:
		return nil, fmt.Errorf("progress prometheus sink: %w", err)
	}

	if runs != nil && cfg.Progress.PersistRuns {
		hubSinks = append(hubSinks, sinks.NewStoreSink(runs, logger.Named("runs")))
	}
	return progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		Logger:         logger.Named("hub"),
	}, hubSinks...), nil
}
