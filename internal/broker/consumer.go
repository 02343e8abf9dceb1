package broker

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConsumer manages the connection and message flow from the broker
type RabbitMQConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	topo    Topology
	logger  *slog.Logger
}

// NewRabbitMQConsumer connects with prefetch 1 so each instance works one job at a time
func NewRabbitMQConsumer(url string, topo Topology, logger *slog.Logger) (*RabbitMQConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %v", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %v", err)
	}

	return &RabbitMQConsumer{
		conn:    conn,
		channel: ch,
		topo:    topo,
		logger:  logger,
	}, nil
}

// Subscribe declares the topic queue and feeds every delivery to handler until
// ctx is canceled (nil error) or the broker link drops (non-nil error).
func (c *RabbitMQConsumer) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if err := declareQueue(c.channel, topic, c.topo); err != nil {
		return err
	}
	return c.consume(ctx, topic, handler)
}

// SubscribeDeadLetters consumes the jobs dropped from topic
func (c *RabbitMQConsumer) SubscribeDeadLetters(ctx context.Context, topic string, handler Handler) error {
	if err := declareQueue(c.channel, topic, c.topo); err != nil {
		return err
	}
	return c.consume(ctx, DeadLetterQueue(topic), handler)
}

func (c *RabbitMQConsumer) consume(ctx context.Context, queue string, handler Handler) error {
	msgs, err := c.channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %v", err)
	}

	c.logger.Info("Consumer is online and waiting for messages", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			handler(ctx, NewDelivery(
				d.Body,
				d.MessageId,
				d.Redelivered,
				func() error { return d.Ack(false) },
				func(requeue bool) error { return d.Nack(false, requeue) },
			))
		}
	}
}

// Close gracefully terminates RabbitMQ resources
func (c *RabbitMQConsumer) Close() {
	c.logger.Info("Shutting down RabbitMQ consumer")
	c.channel.Close()
	c.conn.Close()
}
