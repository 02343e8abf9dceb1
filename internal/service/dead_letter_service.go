package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Guizzs26/openmusic-export/internal/broker"
	"github.com/Guizzs26/openmusic-export/internal/models"
)

// DeadLetterService moves dropped export jobs back onto the export queue,
// typically after the mail transport configuration has been fixed.
type DeadLetterService struct {
	publisher Publisher
	logger    *slog.Logger

	replayed  atomic.Int64
	discarded atomic.Int64
}

func NewDeadLetterService(p Publisher, l *slog.Logger) *DeadLetterService {
	return &DeadLetterService{publisher: p, logger: l}
}

// HandleDeadLetter republishes a valid job and acks the dead letter. Malformed
// envelopes can never succeed and are discarded. If the republish fails the
// dead letter is returned to its queue untouched.
func (s *DeadLetterService) HandleDeadLetter(ctx context.Context, d *broker.Delivery) {
	var job models.ExportJob
	err := json.Unmarshal(d.Body, &job)
	if err == nil {
		err = job.Validate()
	}
	if err != nil {
		s.logger.Warn("Dead letter: discarding malformed export job", "message_id", d.MessageID, "error", err)
		s.discarded.Add(1)
		s.settle(d.Ack(), d.MessageID)
		return
	}

	l := s.logger.With("message_id", d.MessageID, "playlist_id", job.PlaylistID)

	if err := s.publisher.Publish(ctx, models.ExportPlaylistTopic, d.Body); err != nil {
		l.Error("Dead letter: replay failed, keeping message", "error", fmt.Errorf("republish: %w", err))
		s.settle(d.Nack(true), d.MessageID)
		return
	}

	s.replayed.Add(1)
	l.Info("Dead letter: export job replayed")
	s.settle(d.Ack(), d.MessageID)
}

func (s *DeadLetterService) settle(err error, messageID string) {
	if err != nil {
		s.logger.Error("Dead letter: failed to settle delivery", "message_id", messageID, "error", err)
	}
}

// Stats returns how many dead letters were replayed and discarded so far
func (s *DeadLetterService) Stats() (replayed, discarded int64) {
	return s.replayed.Load(), s.discarded.Load()
}
