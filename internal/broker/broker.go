package broker

import (
	"context"
	"errors"
	"sync"
)

var ErrAlreadySettled = errors.New("delivery already acknowledged")

// Handler is invoked once per delivered message. It must settle the delivery
// with Ack or Nack; an unsettled delivery is redelivered later.
type Handler func(ctx context.Context, d *Delivery)

// Delivery is a single broker delivery of a published payload
type Delivery struct {
	Body        []byte
	MessageID   string
	Redelivered bool

	mu      sync.Mutex
	settled bool
	ack     func() error
	nack    func(requeue bool) error
}

func NewDelivery(body []byte, messageID string, redelivered bool, ack func() error, nack func(requeue bool) error) *Delivery {
	return &Delivery{
		Body:        body,
		MessageID:   messageID,
		Redelivered: redelivered,
		ack:         ack,
		nack:        nack,
	}
}

// Ack confirms the message was fully processed
func (d *Delivery) Ack() error {
	if err := d.settle(); err != nil {
		return err
	}
	return d.ack()
}

// Nack rejects the message. With requeue the broker delivers it again later,
// otherwise it is dropped (dead-lettered when the queue has a DLX).
func (d *Delivery) Nack(requeue bool) error {
	if err := d.settle(); err != nil {
		return err
	}
	return d.nack(requeue)
}

func (d *Delivery) Settled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled
}

func (d *Delivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return ErrAlreadySettled
	}
	d.settled = true
	return nil
}

// DeadLetterQueue names the queue that receives messages dropped from topic
func DeadLetterQueue(topic string) string {
	return topic + ".dead"
}
