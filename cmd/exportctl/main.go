package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/openmusic-export/internal/broker"
	"github.com/Guizzs26/openmusic-export/internal/config"
	"github.com/Guizzs26/openmusic-export/internal/models"
	"github.com/Guizzs26/openmusic-export/internal/service"
	"github.com/Guizzs26/openmusic-export/pkg/infra"

	"github.com/urfave/cli/v3"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "exportctl",
		Usage: "Operate the playlist export queue",
		Commands: []*cli.Command{
			enqueueCommand(cfg, logger),
			replayCommand(cfg, logger),
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		logger.Error("exportctl failed", "error", err)
		infra.CloseLogger()
		os.Exit(1)
	}
	infra.CloseLogger()
}

func topology(cfg *config.Config) broker.Topology {
	return broker.Topology{DeliveryLimit: cfg.DeliveryLimit}
}

func enqueueCommand(cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "enqueue",
		Usage: "Publish an export job without going through the API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "playlist", Usage: "Playlist id", Required: true},
			&cli.StringFlag{Name: "email", Usage: "Recipient address", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, err := broker.NewRabbitMQClient(cfg.RabbitMQURL, topology(cfg), logger, models.ExportPlaylistTopic)
			if err != nil {
				return err
			}
			defer client.Close()

			producer := service.NewExportProducer(client, logger)
			if err := producer.EnqueueExport(ctx, cmd.String("playlist"), cmd.String("email")); err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "✓ Export of %s queued\n", cmd.String("playlist"))
			return nil
		},
	}
}

func replayCommand(cfg *config.Config, logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "replay-dead",
		Usage: "Move dead-lettered export jobs back to the export queue",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "idle", Usage: "Stop after this long without dead letters", Value: 5 * time.Second},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, err := broker.NewRabbitMQClient(cfg.RabbitMQURL, topology(cfg), logger, models.ExportPlaylistTopic)
			if err != nil {
				return err
			}
			defer client.Close()

			consumer, err := broker.NewRabbitMQConsumer(cfg.RabbitMQURL, topology(cfg), logger)
			if err != nil {
				return err
			}
			defer consumer.Close()

			svc := service.NewDeadLetterService(client, logger)

			idle := cmd.Duration("idle")
			subCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			timer := time.AfterFunc(idle, cancel)
			defer timer.Stop()

			err = consumer.SubscribeDeadLetters(subCtx, models.ExportPlaylistTopic, func(_ context.Context, d *broker.Delivery) {
				timer.Stop()
				svc.HandleDeadLetter(ctx, d)
				timer.Reset(idle)
			})
			if err != nil {
				return err
			}

			replayed, discarded := svc.Stats()
			fmt.Fprintf(os.Stdout, "✓ Replayed %d dead letters, discarded %d malformed\n", replayed, discarded)
			return nil
		},
	}
}
