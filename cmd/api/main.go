package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/openmusic-export/internal/api"
	"github.com/Guizzs26/openmusic-export/internal/broker"
	"github.com/Guizzs26/openmusic-export/internal/cache"
	"github.com/Guizzs26/openmusic-export/internal/config"
	"github.com/Guizzs26/openmusic-export/internal/db"
	"github.com/Guizzs26/openmusic-export/internal/models"
	"github.com/Guizzs26/openmusic-export/internal/service"
	"github.com/Guizzs26/openmusic-export/internal/storage"
	"github.com/Guizzs26/openmusic-export/pkg/infra"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	postgres, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("Fatal error connecting to Postgres", "error", err)
		os.Exit(1)
	}
	defer postgres.Close()

	redisClient, err := cache.NewRedisClient(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		// Reads fall back to Postgres while Redis is away; the client keeps retrying
		logger.Warn("Redis unavailable at startup, likes will be served from the store", "error", err)
		redisClient = cache.NewLazyRedisClient(cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	defer redisClient.Close()

	objects, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("Fatal error initializing cover storage", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}

	publisher := broker.NewManagedPublisher(cfg.RabbitMQURL, broker.Topology{DeliveryLimit: cfg.DeliveryLimit}, logger, models.ExportPlaylistTopic)
	publisherDone := make(chan struct{})
	go func() {
		defer close(publisherDone)
		publisher.Run(ctx)
	}()

	uploadDir := ""
	if cfg.Storage.Backend == config.StorageLocal {
		uploadDir = cfg.Storage.UploadDir
	}

	router := api.NewRouter(api.Dependencies{
		Exports:   service.NewExportProducer(publisher, logger),
		Ownership: postgres,
		Likes:     service.NewLikesService(postgres, cache.NewRedisCache(redisClient), cfg.LikesCacheTTL, logger),
		Covers:    service.NewCoverService(postgres, objects, logger),
		UploadDir: uploadDir,
		Checks: map[string]api.HealthCheck{
			"postgres": postgres.Ping,
			"rabbitmq": func(context.Context) error {
				if !publisher.IsHealthy() {
					return errors.New("broker link down")
				}
				return nil
			},
		},
		Logger: logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 70 * time.Second,
	}

	go func() {
		logger.Info("🚀 OpenMusic API online", "addr", server.Addr, "storage", cfg.Storage.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("🛑 Shutdown signal received, draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	<-publisherDone
	logger.Info("✅ Shutdown complete")
}
