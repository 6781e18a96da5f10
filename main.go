package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"coinview/config"
	"coinview/internal/auth"
	"coinview/internal/dashboard"
	"coinview/internal/metrics"
	"coinview/internal/refresh"
	"coinview/internal/view"
	"coinview/logger"
	"coinview/reader"
	"coinview/writer"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file (default depends on APP_ENV)")
	flag.Parse()

	path := config.ResolvePath(*configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithEnv("APP_ENV", "LOG_LEVEL").WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
		"provider":    cfg.Source.Provider,
	}).Info("starting coinview")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		interval := cfg.Logging.ReportInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		logger.StartReport(ctx, log, interval)
	}

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("coinview stopped with error")
		os.Exit(1)
	}
	log.Info("coinview stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Log) error {
	source, err := reader.New(cfg, log)
	if err != nil {
		return err
	}

	store := view.NewStore(view.Options{
		PageSize:      cfg.View.PageSize,
		NoticeHistory: cfg.View.NoticeHistory,
		Log:           log,
	})
	scheduler := refresh.New(source, store, refresh.Options{
		Interval:     cfg.Refresh.Interval,
		FetchTimeout: cfg.Refresh.FetchTimeout,
		Log:          log,
	})

	authSvc, closer, err := auth.Build(ctx, cfg.Auth, log)
	if err != nil {
		return err
	}
	defer closer.Close()

	g, gctx := errgroup.WithContext(ctx)

	var promHandler http.Handler
	if cfg.Metrics.Prometheus {
		prom := metrics.NewPrometheus()
		id := metrics.RegisterMetricHandler(prom.Handle)
		defer metrics.UnregisterMetricHandler(id)
		promHandler = prom.Handler()
	}

	if cfg.Metrics.CloudWatch.Enabled {
		cw, err := metrics.NewCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, log)
		if err != nil {
			return err
		}
		id := metrics.RegisterMetricHandler(cw.Handle)
		defer metrics.UnregisterMetricHandler(id)
		g.Go(func() error { return cw.Run(gctx) })
	}

	if cfg.Storage.S3.Enabled {
		archive, err := writer.NewSnapshotArchive(ctx, cfg, log)
		if err != nil {
			return err
		}
		scheduler.AddSink(archive)
		g.Go(func() error { return archive.Run(gctx) })
	}

	srv, err := dashboard.NewServer(cfg.Dashboard, dashboard.Deps{
		Store:     store,
		Refresher: scheduler,
		Auth:      authSvc,
		Metrics:   promHandler,
	}, log)
	if err != nil {
		return err
	}
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })

	log.WithFields(logger.Fields{"address": srv.Address()}).Info("all components started successfully")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return ignoreCanceled(err)
	case <-ctx.Done():
		log.Info("shutdown signal received, starting graceful shutdown")
	}

	select {
	case err := <-done:
		log.Info("graceful shutdown completed")
		return ignoreCanceled(err)
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
		return nil
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
