package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/openmusic-export/internal/models"
	"github.com/Guizzs26/openmusic-export/pkg/metrics"
)

// Publisher defines the contract for handing a job to the broker
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// ExportProducer turns export requests into broker jobs. It returns once the
// broker has accepted the job, never after the export itself.
type ExportProducer struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewExportProducer(p Publisher, l *slog.Logger) *ExportProducer {
	return &ExportProducer{publisher: p, logger: l}
}

// EnqueueExport publishes the envelope to the export queue. The caller must
// already have verified that the requester owns the playlist.
func (s *ExportProducer) EnqueueExport(ctx context.Context, playlistID, targetEmail string) error {
	job := models.ExportJob{PlaylistID: playlistID, TargetEmail: targetEmail}
	if err := job.Validate(); err != nil {
		metrics.ExportJobsPublished.WithLabelValues("rejected").Inc()
		return err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode export job: %w", err)
	}

	if err := s.publisher.Publish(ctx, models.ExportPlaylistTopic, payload); err != nil {
		metrics.ExportJobsPublished.WithLabelValues("failed").Inc()
		s.logger.Error("Failed to publish export job", "playlist_id", playlistID, "error", err)
		return fmt.Errorf("publish export job for playlist %s: %w", playlistID, err)
	}

	metrics.ExportJobsPublished.WithLabelValues("accepted").Inc()
	s.logger.Info("Export job accepted", "playlist_id", playlistID)
	return nil
}
