package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/capital-forecast-crawler/internal/api"
	"github.com/JakeFAU/capital-forecast-crawler/internal/config"
	"github.com/JakeFAU/capital-forecast-crawler/internal/logging"
	"github.com/JakeFAU/capital-forecast-crawler/internal/worker"
)

const serviceName = "capital-forecast-crawler"

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := 0
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("crawler failed", zap.Error(err))
		code = 1
	}
	stop()
	_ = logger.Sync()
	os.Exit(code)
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Development: cfg.Development,
		Level:       cfg.Level,
		Service:     serviceName,
	})
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	res := &resources{logger: logger}
	defer res.close()

	app, err := build(ctx, cfg, logger, res)
	if err != nil {
		return err
	}

	var srv *http.Server
	if cfg.Server.Port > 0 {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.NewServer(app.runs, logger.Named("api"), app.checks...).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http server started", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
	}

	go app.pipeline.Report(ctx, time.Duration(cfg.Progress.LogIntervalSeconds)*time.Second)

	logger.Info("pipeline started", zap.Strings("stages", cfg.Pipeline.Stages))
	runErr := app.pipeline.Run(ctx)
	if errors.Is(runErr, worker.ErrInterrupted) && ctx.Err() != nil {
		logger.Info("shutdown initiated")
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}
	if err := app.hub.Close(shutdownCtx); err != nil {
		logger.Warn("progress hub close failed", zap.Error(err))
	}
	if runErr != nil {
		return fmt.Errorf("pipeline: %w", runErr)
	}
	logger.Info("crawl complete")
	return nil
}
