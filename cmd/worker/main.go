package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"clubattend/internal/app"
	"clubattend/internal/config"
)

// Worker sends queued confirmation emails and exports presence gauges for
// today's team attendance and the watched events.
func main() {
	cfg := config.Load()

	logger, err := app.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" || cfg.LedgerBackend == "memory" {
		logger.Fatal("worker needs shared backends; memory backends run inside the api process")
	}

	inf, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("setup failed", zap.Error(err))
	}
	defer inf.Close()

	if err := inf.Mailer.Health(ctx); err != nil {
		logger.Warn("mail endpoint not available", zap.Error(err))
	}

	dispatcher := inf.Dispatcher(cfg, logger)
	inf.RunBackground(ctx, cfg, dispatcher, logger)

	logger.Info("worker started", zap.Strings("watch_events", cfg.WatchEvents))
	<-ctx.Done()
	logger.Info("worker stopped")
}
