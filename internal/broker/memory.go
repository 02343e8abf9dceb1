package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memoryMessage struct {
	id          string
	body        []byte
	redelivered bool
}

type memoryQueue struct {
	messages []memoryMessage
	dead     [][]byte
	notify   chan struct{}
}

// MemoryBroker is an in-process broker with the same delivery contract as the
// RabbitMQ adapter: at-least-once, manual settlement, requeue on Nack(true) or
// when a handler returns without settling.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]*memoryQueue)}
}

func (b *MemoryBroker) queue(topic string) *memoryQueue {
	q, ok := b.queues[topic]
	if !ok {
		q = &memoryQueue{notify: make(chan struct{}, 1)}
		b.queues[topic] = q
	}
	return q
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body := append([]byte(nil), payload...)
	b.enqueue(topic, memoryMessage{id: uuid.NewString(), body: body})
	return nil
}

func (b *MemoryBroker) enqueue(topic string, msg memoryMessage) {
	b.mu.Lock()
	q := b.queue(topic)
	q.messages = append(q.messages, msg)
	b.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (b *MemoryBroker) pop(topic string) (memoryMessage, chan struct{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(topic)
	if len(q.messages) == 0 {
		return memoryMessage{}, q.notify, false
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return msg, q.notify, true
}

// Subscribe delivers messages to handler until ctx is canceled
func (b *MemoryBroker) Subscribe(ctx context.Context, topic string, handler Handler) error {
	for {
		msg, notify, ok := b.pop(topic)
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-notify:
				continue
			}
		}
		b.deliver(ctx, topic, msg, handler)
	}
}

// DeliverPending hands every queued message to handler, including requeued
// ones, until the queue is empty or limit deliveries were made. It returns the
// number of deliveries.
func (b *MemoryBroker) DeliverPending(ctx context.Context, topic string, handler Handler, limit int) int {
	n := 0
	for n < limit {
		msg, _, ok := b.pop(topic)
		if !ok {
			break
		}
		b.deliver(ctx, topic, msg, handler)
		n++
	}
	return n
}

func (b *MemoryBroker) deliver(ctx context.Context, topic string, msg memoryMessage, handler Handler) {
	requeue := func() {
		b.enqueue(topic, memoryMessage{id: msg.id, body: msg.body, redelivered: true})
	}

	d := NewDelivery(msg.body, msg.id, msg.redelivered,
		func() error { return nil },
		func(again bool) error {
			if again {
				requeue()
				return nil
			}
			b.mu.Lock()
			q := b.queue(topic)
			q.dead = append(q.dead, msg.body)
			b.mu.Unlock()
			return nil
		},
	)

	handler(ctx, d)

	// Consumer went away without settling: the broker would redeliver.
	if !d.Settled() {
		requeue()
	}
}

// Pending returns the number of messages waiting on topic
func (b *MemoryBroker) Pending(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue(topic).messages)
}

// DeadLetters returns the bodies dropped from topic with Nack(false)
func (b *MemoryBroker) DeadLetters(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(topic)
	out := make([][]byte, len(q.dead))
	copy(out, q.dead)
	return out
}
