package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

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
	logger.Info("starting_worker", "service", "teampulse-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL (with retry)
	var dbConn *db.DB
	for i := 0; i < 5; i++ {
		dbConn, err = db.New(ctx, cfg.DBDSN)
		if err == nil {
			break
		}
		logger.Warn("db_connect_retry", "attempt", i+1, "error", err)
		time.Sleep(2 * time.Second)
	}
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

	// Object storage: real bucket or deterministic simulator
	var objectStore storage.ObjectStore
	if cfg.S3Endpoint != "" && cfg.S3Bucket != "" {
		var s3Keys map[string]string
		if err := json.Unmarshal([]byte(cfg.S3KeysRaw), &s3Keys); err == nil {
			s3Client, err := storage.NewS3Client(storage.S3Config{
				Endpoint:        cfg.S3Endpoint,
				AccessKeyID:     s3Keys["access_key_id"],
				SecretAccessKey: s3Keys["secret_access_key"],
				Bucket:          cfg.S3Bucket,
				PublicURL:       s3Keys["public_url"],
				Region:          cfg.S3Region,
			})
			if err == nil {
				objectStore = s3Client
				logger.Info("using_s3_storage", "endpoint", cfg.S3Endpoint)
			}
		}
	}
	if objectStore == nil {
		objectStore = storage.NewSimulator(cfg.S3Bucket, cfg.S3Endpoint)
		logger.Info("using_storage_simulator")
	}

	// Event publisher is optional; snapshots still land in the DB without it
	var publisher events.Publisher
	if cfg.AMQPURL != "" {
		publisher, err = events.New(ctx, cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Warn("amqp_init_failed", "error", err)
			publisher = nil
		} else {
			defer publisher.Close()
			logger.Info("amqp_connected", "exchange", cfg.AMQPExchange)
		}
	}

	snapshotWriter := db.NewSnapshotWriter(dbConn, logger)
	snapshots := worker.NewSnapshotWorker(logger, credStore, orch, snapshotWriter, publisher, cfg.SnapshotInterval, cfg.SnapshotWindow)
	go snapshots.Start(ctx)

	mirrorJob := storage.NewMirrorRetryJob(logger, dbConn, objectStore)
	go mirrorJob.Start(ctx)

	logger.Info("worker_started",
		"snapshot_interval", cfg.SnapshotInterval.String(),
		"snapshot_window", cfg.SnapshotWindow.String(),
	)

	// graceful shutdown
	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")
	cancel()

	if err := redisClient.Close(); err != nil {
		logger.Warn("redis_close_error", "error", err)
	} else {
		logger.Info("redis_closed")
	}

	dbConn.Close()
	logger.Info("db_closed")

	logger.Info("worker_stopped")
}
