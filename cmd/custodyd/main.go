package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"equipment-custody-backend/config"
	"equipment-custody-backend/internal/api"
	"equipment-custody-backend/internal/db"
	"equipment-custody-backend/internal/lifecycle"
	"equipment-custody-backend/internal/monitor"
	"equipment-custody-backend/internal/notification"
	"equipment-custody-backend/internal/store"
)

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("configuration loaded", zap.String("path", configPath))

	// Initialize database
	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	var (
		webpushOptions *webpush.Options
		exitNotifier   lifecycle.ExitNotifier
		delayNotifier  monitor.DelayNotifier
	)
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.Size*64, appStore, webpushOptions, logger)
		pool.Start(ctx)
		exitNotifier, delayNotifier = pool, pool
		logger.Info("push notifications enabled", zap.Int("workers", cfg.WorkerPool.Size))
	} else {
		logger.Warn("VAPID keys not configured, push notifications disabled")
	}

	opts := []lifecycle.Option{}
	if exitNotifier != nil {
		opts = append(opts, lifecycle.WithNotifier(exitNotifier))
	}
	svc := lifecycle.New(appStore, lifecycle.Catalog{
		Areas:       cfg.Catalog.Areas,
		Specialists: cfg.Catalog.Specialists,
	}, logger, opts...)

	monitorSvc := monitor.NewService(cfg.Monitor, appStore, delayNotifier, logger)
	go monitorSvc.Run(ctx)

	router, err := api.NewRouter(svc, appStore, webpushOptions, cfg.Server, logger)
	if err != nil {
		logger.Fatal("failed to build router", zap.Error(err))
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received, stopping services")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("HTTP server Shutdown", zap.Error(err))
	}

	logger.Info("server gracefully stopped")
}
