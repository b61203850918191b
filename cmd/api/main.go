package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"clubattend/internal/app"
	"clubattend/internal/attendance"
	"clubattend/internal/config"
	"clubattend/internal/handler"
	"clubattend/internal/notify"
)

func main() {
	cfg := config.Load()

	logger, err := app.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inf, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer inf.Close()

	dispatcher := inf.Dispatcher(cfg, logger)
	if inf.InProcess(cfg) {
		logger.Info("running notification consumer and pollers in-process")
		inf.RunBackground(ctx, cfg, dispatcher, logger)
	}

	engine := attendance.NewEngine(inf.Ledger, inf.Locker)
	svc := attendance.NewService(
		attendance.NewResolver(inf.Directory),
		engine,
		notify.NewQueuePublisher(inf.Queue),
		attendance.WithLocation(cfg.Location),
		attendance.WithPublishTimeout(cfg.PublishTimeout),
		attendance.WithLogger(logger.Named("scan")),
	)

	h := handler.New(handler.Deps{
		Service:    svc,
		Ledger:     inf.Ledger,
		Aggregator: attendance.NewAggregator(inf.Ledger),
		Dispatcher: dispatcher,
		Batches:    notify.NewBatches(ctx, dispatcher, logger.Named("batches")),
		Devices:    inf.Devices,
		Tokens: handler.TokenConfig{
			Issuer:     cfg.JWTIssuer,
			SigningKey: cfg.JWTSigningKey,
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		},
		Location: cfg.Location,
		Log:      logger.Named("http"),
	})

	health := map[string]handler.HealthCheck{}
	if inf.DB != nil {
		health["db"] = inf.DB.Healthy
	}
	if inf.Redis != nil {
		health["redis"] = inf.Redis.Healthy
	}
	r := handler.NewRouter(h, handler.RouterConfig{
		AdminAPIKey:     cfg.AdminAPIKey,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Health:          health,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}
