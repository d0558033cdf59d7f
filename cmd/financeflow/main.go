package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"financeflow/internal/config"
	"financeflow/internal/events"
	apphttp "financeflow/internal/http"
	"financeflow/internal/localstore"
	applog "financeflow/internal/log"
	"financeflow/internal/remote"
	"financeflow/internal/services"
	"financeflow/internal/session"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	logger.Info("Starting financeflow")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	// Local persistence is always on; everything else degrades to it.
	store, err := localstore.Open(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open local store", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state := session.NewState()

	var (
		gateway    *remote.Gateway
		remotePort services.RemoteGateway
	)
	if cfg.DatabaseURL != "" {
		gateway, err = remote.Connect(ctx, remote.Config{
			URL:             cfg.DatabaseURL,
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
		}, state)
		if err != nil {
			logger.Error("Failed to connect to remote store", "error", err)
			os.Exit(1)
		}
		defer gateway.Close()
		remotePort = gateway
		logger.Info("Remote store connected")
	} else {
		logger.Info("No DATABASE_URL - running on local storage only")
	}

	var eventsClient *events.Client
	if cfg.AMQPURL != "" {
		eventsClient, err = events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer eventsClient.Close()
		logger.Info("Event publishing enabled", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("Event publishing disabled - no AMQP_URL provided")
	}

	controller := services.NewController(store, remotePort, state, eventsClient, services.ControllerConfig{
		MaxPendingRetries:  int64(cfg.MaxPendingRetries),
		MonthsBack:         cfg.MonthsBack,
		LegacyDivisionsURL: cfg.LegacyDivisionsURL,
	})

	if cfg.UserID != "" {
		state.SignIn(cfg.UserID)
		logger.Info("Signed in", applog.FieldUserID, cfg.UserID)
	}

	if err := controller.Load(ctx); err != nil {
		logger.Error("Initial load failed", "error", err)
		os.Exit(1)
	}
	unsubscribe := controller.WatchSession(ctx)
	defer unsubscribe()

	var retryProcessor *services.RetryProcessor
	if remotePort != nil {
		retryProcessor = services.NewRetryProcessor(store, remotePort, state, controller, services.RetryProcessorConfig{
			PollInterval: cfg.RetryInterval,
			BatchSize:    cfg.RetryBatchSize,
			MaxAttempts:  cfg.RetryMaxAttempts,
		})
		if err := retryProcessor.Start(ctx); err != nil {
			logger.Error("Failed to start retry processor", "error", err)
			os.Exit(1)
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, store)
	srv.Handler = applog.Middleware(logger)(srv.Handler)
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Graceful shutdown handling
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if retryProcessor != nil {
			if err := retryProcessor.Stop(shutdownCtx); err != nil {
				logger.Error("Retry processor shutdown error", "error", err)
			}
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting legacy fallback server", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
