// Command coinwatch browses market data in the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"coinview/config"
	"coinview/internal/auth"
	"coinview/internal/refresh"
	"coinview/internal/view"
	"coinview/logger"
	"coinview/reader"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file (default depends on APP_ENV)")
	logPath := flag.String("log", "coinwatch.log", "File the client logs to")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	// The terminal belongs to the menu, so logs always go to a file.
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, *logPath, cfg.Logging.MaxAge); err != nil {
		fmt.Fprintln(os.Stderr, "failed to configure logger:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, huh.ErrUserAborted) && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "coinwatch:", err)
		os.Exit(1)
	}
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

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(gctx) })

	ui := newApp(store, scheduler, authSvc, log)
	err = ui.loop(gctx)
	cancel()
	if werr := g.Wait(); werr != nil && err == nil {
		err = werr
	}
	return err
}
