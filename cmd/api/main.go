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
	"teampulse/internal/integrations"
	"teampulse/internal/logging"
	"teampulse/internal/oauth"
	"teampulse/internal/orchestrator"
	"teampulse/internal/redis"
	"teampulse/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting_api", "service", "teampulse-api", "http_addr", cfg.HTTPAddr)

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

	logger.Info("api_started", "addr", cfg.HTTPAddr, "oauth_apps", len(cfg.OAuthApps))

	// graceful shutdown
	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")

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

	logger.Info("api_stopped")
}
