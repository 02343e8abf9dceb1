package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/openmusic-export/internal/models"
	"github.com/Guizzs26/openmusic-export/pkg/metrics"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const confirmTimeout = 10 * time.Second

// Topology describes how job queues are declared. Both the publisher and the
// consumer declare with the same arguments, so they must share it.
type Topology struct {
	// DeliveryLimit caps broker redeliveries before a message is dead-lettered. Zero disables it.
	DeliveryLimit int
}

func (t Topology) queueArgs(queue string) amqp.Table {
	args := amqp.Table{
		"x-queue-type":              "quorum",
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": DeadLetterQueue(queue),
	}
	if t.DeliveryLimit > 0 {
		args["x-delivery-limit"] = int64(t.DeliveryLimit)
	}
	return args
}

// declareQueue declares the dead-letter queue and the durable job queue bound to the default exchange
func declareQueue(ch *amqp.Channel, queue string, topo Topology) error {
	if _, err := ch.QueueDeclare(DeadLetterQueue(queue), true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue %s: %v", DeadLetterQueue(queue), err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, topo.queueArgs(queue)); err != nil {
		return fmt.Errorf("failed to declare queue %s: %v", queue, err)
	}
	return nil
}

// RabbitMQClient handles the low-level publishing side of the broker link
type RabbitMQClient struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	logger     *slog.Logger
	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
	closeOnce  sync.Once
	healthy    atomic.Bool
	down       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewRabbitMQClient connects, declares the given queues and enables publisher confirms
func NewRabbitMQClient(url string, topo Topology, l *slog.Logger, queues ...string) (*RabbitMQClient, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}

	ch, err := c.Channel()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %v", err)
	}

	for _, q := range queues {
		if err := declareQueue(ch, q, topo); err != nil {
			ch.Close()
			c.Close()
			return nil, err
		}
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		c.Close()
		return nil, fmt.Errorf("failed to activate Publisher Confirms: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &RabbitMQClient{
		conn:       c,
		channel:    ch,
		logger:     l,
		connClosed: make(chan *amqp.Error, 1),
		chanClosed: make(chan *amqp.Error, 1),
		down:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}

	client.healthy.Store(true)
	metrics.HealthStatus.Set(1)

	client.conn.NotifyClose(client.connClosed)
	client.channel.NotifyClose(client.chanClosed)

	go func() {
		defer close(client.down)
		select {
		case err := <-client.connClosed:
			client.healthy.Store(false)
			metrics.HealthStatus.Set(0)
			l.Warn("RabbitMQ connection closed", "error", err)
		case err := <-client.chanClosed:
			client.healthy.Store(false)
			metrics.HealthStatus.Set(0)
			l.Warn("RabbitMQ channel closed", "error", err)
		case <-client.ctx.Done():
			client.healthy.Store(false)
		}
	}()
	l.Info("Connected to RabbitMQ, publisher confirms enabled", "queues", queues)
	return client, nil
}

// Publish sends payload to the queue named topic and blocks until the broker confirms it.
// Every failure is transient from the caller's point of view.
func (r *RabbitMQClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if !r.IsHealthy() {
		return fmt.Errorf("%w: broker connection is closed", models.ErrTransient)
	}

	start := time.Now()
	defer func() {
		metrics.PublishDuration.Observe(time.Since(start).Seconds())
	}()

	messageID := uuid.NewString()
	l := r.logger.With(
		"message_id", messageID,
		"topic", topic,
	)

	deferred, err := r.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		"",
		topic,
		false,
		false,
		amqp.Publishing{
			MessageId:    messageID,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         payload,
		},
	)
	if err != nil {
		l.Error("failed to publish message", "error", err)
		return fmt.Errorf("%w: publish call failed: %v", models.ErrTransient, err)
	}

	timer := time.NewTimer(confirmTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", models.ErrTransient, ctx.Err())
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("%w: RabbitMQ NACK received, message not persisted", models.ErrTransient)
		}
		l.Debug("Message confirmed by broker")
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: publisher confirm timeout", models.ErrTransient)
	}
}

// Done is closed once the connection or channel is lost, or the client is closed
func (r *RabbitMQClient) Done() <-chan struct{} {
	return r.down
}

// Close gracefully shuts down the RabbitMQ resources
func (r *RabbitMQClient) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("Terminating RabbitMQ client")
		r.cancel()
		if r.channel != nil {
			r.channel.Close()
		}
		if r.conn != nil {
			r.conn.Close()
		}
	})
	return nil
}

// IsHealthy returns true if the connection and channel are active
func (r *RabbitMQClient) IsHealthy() bool {
	return r.healthy.Load()
}
