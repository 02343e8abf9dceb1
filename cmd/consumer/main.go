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

	"github.com/Guizzs26/openmusic-export/internal/broker"
	"github.com/Guizzs26/openmusic-export/internal/config"
	"github.com/Guizzs26/openmusic-export/internal/db"
	"github.com/Guizzs26/openmusic-export/internal/mail"
	"github.com/Guizzs26/openmusic-export/internal/mapper"
	"github.com/Guizzs26/openmusic-export/internal/models"
	"github.com/Guizzs26/openmusic-export/internal/processor"
	"github.com/Guizzs26/openmusic-export/pkg/infra"
	"github.com/Guizzs26/openmusic-export/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("🔥 Export consumer initializing...",
		"queue", models.ExportPlaylistTopic,
		"delivery_limit", cfg.DeliveryLimit,
		"requeue_delay", cfg.RequeueDelay,
	)

	repo, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("CRITICAL: Postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	handler := processor.NewExportHandler(
		repo,
		mapper.NewPlaylistRenderer(),
		mail.NewSMTPSender(cfg.SMTP, logger),
		cfg.RequeueDelay,
		logger,
	)

	go startObservabilityServer(ctx, cfg.MetricsPort, logger)

	topo := broker.Topology{DeliveryLimit: cfg.DeliveryLimit}
	connBackoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)

	for {
		select {
		case <-ctx.Done():
			logger.Info("🛑 Shutdown signal received")
			return
		default:
		}

		consumer, err := broker.NewRabbitMQConsumer(cfg.RabbitMQURL, topo, logger)
		if err != nil {
			metrics.HealthStatus.Set(0)
			metrics.RabbitMQReconnections.Inc()
			logger.Error("RabbitMQ connection failed, retrying...",
				"attempt", connBackoff.Attempts()+1,
				"error", err,
			)
			if !connBackoff.Wait(ctx) {
				return
			}
			continue
		}

		connBackoff.Reset()
		metrics.HealthStatus.Set(1)
		logger.Info("✅ Connected to Broker. Listening for export jobs...")

		if err := consumer.Subscribe(ctx, models.ExportPlaylistTopic, handler.Handle); err != nil {
			metrics.HealthStatus.Set(0)
			logger.Error("⚠️ Consumer connection lost", "error", err)
		}

		consumer.Close()
	}
}

func startObservabilityServer(ctx context.Context, port string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("CONSUMER ALIVE"))
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("📊 Observability server online", "url", "http://localhost:"+port+"/metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Observability server failed", "error", err)
	}
}
