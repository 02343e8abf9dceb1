package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/openmusic-export/internal/broker"
	"github.com/Guizzs26/openmusic-export/internal/models"
	"github.com/Guizzs26/openmusic-export/pkg/metrics"
)

// State is a step of the export job lifecycle
type State string

const (
	StateReceived  State = "received"
	StateFetching  State = "fetching"
	StateRendering State = "rendering"
	StateSending   State = "sending"
	StateAcked     State = "acked"
	StateFailed    State = "failed"
	StateRequeued  State = "requeued"
)

type PlaylistReader interface {
	GetPlaylistSnapshot(ctx context.Context, playlistID string) (models.PlaylistSnapshot, error)
}

type MailSender interface {
	Send(ctx context.Context, to string, body string) (string, error)
}

type Renderer interface {
	Render(snap models.PlaylistSnapshot) (string, error)
}

// Outcome is the terminal result of processing one delivery.
// FailedAt is the step that produced Err.
type Outcome struct {
	State      State
	FailedAt   State
	Err        error
	DeliveryID string
}

// Reason is a short label for metrics and logs
func (o Outcome) Reason() string {
	switch {
	case o.Err == nil:
		return "ok"
	case errors.Is(o.Err, models.ErrValidation):
		return "validation"
	case errors.Is(o.Err, models.ErrNotFound):
		return "not_found"
	case errors.Is(o.Err, models.ErrUpstream):
		return "upstream"
	case errors.Is(o.Err, models.ErrTransient):
		return "transient"
	default:
		return "permanent"
	}
}

// ExportHandler drives an export job from the received envelope to a mailed snapshot
type ExportHandler struct {
	store        PlaylistReader
	renderer     Renderer
	mailer       MailSender
	requeueDelay time.Duration
	logger       *slog.Logger
}

func NewExportHandler(store PlaylistReader, renderer Renderer, mailer MailSender, requeueDelay time.Duration, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{
		store:        store,
		renderer:     renderer,
		mailer:       mailer,
		requeueDelay: requeueDelay,
		logger:       logger,
	}
}

// Process runs the state machine over one envelope. It never touches the broker.
func (h *ExportHandler) Process(ctx context.Context, body []byte) Outcome {
	var job models.ExportJob
	if err := json.Unmarshal(body, &job); err != nil {
		return failed(StateReceived, fmt.Errorf("%w: decode envelope: %v", models.ErrValidation, err))
	}
	if err := job.Validate(); err != nil {
		return failed(StateReceived, err)
	}

	snap, err := h.store.GetPlaylistSnapshot(ctx, job.PlaylistID)
	if err != nil {
		return settle(StateFetching, err)
	}

	rendered, err := h.renderer.Render(snap)
	if err != nil {
		return failed(StateRendering, err)
	}

	deliveryID, err := h.mailer.Send(ctx, job.TargetEmail, rendered)
	if err != nil {
		return settle(StateSending, err)
	}

	return Outcome{State: StateAcked, DeliveryID: deliveryID}
}

func failed(at State, err error) Outcome {
	return Outcome{State: StateFailed, FailedAt: at, Err: err}
}

func settle(at State, err error) Outcome {
	if models.IsRetryable(err) {
		return Outcome{State: StateRequeued, FailedAt: at, Err: err}
	}
	return failed(at, err)
}

// Handle processes d and settles it: ack on success, requeue after the
// configured delay for retryable failures, drop to the dead letter queue otherwise.
func (h *ExportHandler) Handle(ctx context.Context, d *broker.Delivery) {
	start := time.Now()

	l := h.logger.With("message_id", d.MessageID, "redelivered", d.Redelivered)
	if d.Redelivered {
		metrics.ConsumerRedeliveries.Inc()
	}

	out := h.Process(ctx, d.Body)

	var err error
	switch out.State {
	case StateAcked:
		err = d.Ack()
		l.Info("Playlist export delivered", "delivery_id", out.DeliveryID)

	case StateRequeued:
		l.Warn("Export job failed transiently, returning to broker",
			"step", out.FailedAt,
			"retry_in", h.requeueDelay,
			"error", out.Err,
		)
		h.pause(ctx)
		err = d.Nack(true)

	default:
		l.Error("Export job dropped",
			"step", out.FailedAt,
			"reason", out.Reason(),
			"error", out.Err,
		)
		err = d.Nack(false)
	}

	if err != nil {
		// The broker redelivers anything left unsettled on a broken channel
		l.Error("Failed to settle delivery", "state", out.State, "error", err)
	}

	metrics.ConsumerMessages.WithLabelValues(string(out.State), out.Reason()).Inc()
	metrics.ConsumerDuration.WithLabelValues(string(out.State)).Observe(time.Since(start).Seconds())
}

func (h *ExportHandler) pause(ctx context.Context) {
	if h.requeueDelay <= 0 {
		return
	}
	t := time.NewTimer(h.requeueDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
