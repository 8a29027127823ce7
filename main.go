// teampulse single-binary mode: API plus the background jobs in one process.
// Deployments that need independent scaling use cmd/api and cmd/worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"teampulse/internal/api"
	"teampulse/internal/config"
	"teampulse/internal/db"
	"teampulse/internal/events"
	"teampulse/internal/integrations"
	"teampulse/internal/logging"
	"teampulse/internal/oauth"
	"teampulse/internal/orchestrator"
	"teampulse/internal/redis"
	"teampulse/internal/storage"
	"teampulse/internal/store"
	"teampulse/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting_service", "service", "teampulse", "http_addr", cfg.HTTPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbConn, err := db.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Error("db_connect_failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	redisClient, err := redis.New(cfg.RedisDSN)
	if err != nil {
		logger.Error("redis_connect_failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	if len(cfg.EncryptionKey) != 32 {
		logger.Error("invalid_encryption_key", "length", len(cfg.EncryptionKey))
		os.Exit(1)
	}

	credStore, err := store.New(logger, dbConn, cfg.EncryptionKey)
	if err != nil {
		logger.Error("store_init_failed", "error", err)
		os.Exit(1)
	}

	oauthManager := oauth.NewManager(logger, redisClient, cfg.OAuthApps)

	registry := integrations.NewRegistry(integrations.Deps{
		Logger:         logger,
		Redis:          redisClient,
		HTTPClient:     integrations.NewHTTPClient(),
		Store:          credStore,
		OAuth:          oauthManager,
		ChannelCeiling: cfg.FetchChannelCeiling,
		PaceInterval:   cfg.FetchPaceInterval,
	})
	orch := orchestrator.New(credStore, registry, logger)

	// background jobs run in-process here
	var publisher events.Publisher
	if cfg.AMQPURL != "" {
		publisher, err = events.New(ctx, cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Warn("amqp_init_failed", "error", err)
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}

	snapshotWriter := db.NewSnapshotWriter(dbConn, logger)
	snapshots := worker.NewSnapshotWorker(logger, credStore, orch, snapshotWriter, publisher, cfg.SnapshotInterval, cfg.SnapshotWindow)
	go snapshots.Start(ctx)

	objectStore := storage.NewSimulator(cfg.S3Bucket, cfg.S3Endpoint)
	mirrorJob := storage.NewMirrorRetryJob(logger, dbConn, objectStore)
	go mirrorJob.Start(ctx)

	srv := api.NewServer(logger, dbConn, redisClient, credStore, oauthManager, orch, cfg)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_listen_failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("service_ready", "addr", cfg.HTTPAddr, "oauth_apps", len(cfg.OAuthApps))

	// graceful shutdown
	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	} else {
		logger.Info("http_server_stopped")
	}

	if err := redisClient.Close(); err != nil {
		logger.Warn("redis_close_error", "error", err)
	} else {
		logger.Info("redis_closed")
	}

	dbConn.Close()
	logger.Info("db_closed")

	logger.Info("service_stopped")
}
