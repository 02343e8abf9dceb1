package broker

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Guizzs26/openmusic-export/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const topic = "export:playlist"

func TestDeliverySettlesOnce(t *testing.T) {
	var acks, nacks int
	d := NewDelivery([]byte("{}"), "id-1", false,
		func() error { acks++; return nil },
		func(bool) error { nacks++; return nil },
	)

	require.NoError(t, d.Ack())
	assert.ErrorIs(t, d.Nack(true), ErrAlreadySettled)
	assert.ErrorIs(t, d.Ack(), ErrAlreadySettled)
	assert.Equal(t, 1, acks)
	assert.Equal(t, 0, nacks)
	assert.True(t, d.Settled())
}

func TestMemoryBrokerAckRemovesMessage(t *testing.T) {
	b := NewMemoryBroker()
	require.NoError(t, b.Publish(context.Background(), topic, []byte(`{"a":1}`)))
	assert.Equal(t, 1, b.Pending(topic))

	var got []byte
	n := b.DeliverPending(context.Background(), topic, func(_ context.Context, d *Delivery) {
		got = d.Body
		assert.NotEmpty(t, d.MessageID)
		assert.False(t, d.Redelivered)
		require.NoError(t, d.Ack())
	}, 10)

	assert.Equal(t, 1, n)
	assert.JSONEq(t, `{"a":1}`, string(got))
	assert.Equal(t, 0, b.Pending(topic))
	assert.Empty(t, b.DeadLetters(topic))
}

func TestMemoryBrokerRequeueRedelivers(t *testing.T) {
	b := NewMemoryBroker()
	require.NoError(t, b.Publish(context.Background(), topic, []byte("job")))

	var seen []bool
	var ids []string
	n := b.DeliverPending(context.Background(), topic, func(_ context.Context, d *Delivery) {
		seen = append(seen, d.Redelivered)
		ids = append(ids, d.MessageID)
		if len(seen) == 1 {
			require.NoError(t, d.Nack(true))
			return
		}
		require.NoError(t, d.Ack())
	}, 10)

	assert.Equal(t, 2, n)
	assert.Equal(t, []bool{false, true}, seen)
	assert.Equal(t, ids[0], ids[1])
}

func TestMemoryBrokerDropGoesToDeadLetters(t *testing.T) {
	b := NewMemoryBroker()
	require.NoError(t, b.Publish(context.Background(), topic, []byte("poison")))

	b.DeliverPending(context.Background(), topic, func(_ context.Context, d *Delivery) {
		require.NoError(t, d.Nack(false))
	}, 10)

	assert.Equal(t, 0, b.Pending(topic))
	assert.Equal(t, [][]byte{[]byte("poison")}, b.DeadLetters(topic))
}

func TestMemoryBrokerUnsettledIsRedelivered(t *testing.T) {
	b := NewMemoryBroker()
	require.NoError(t, b.Publish(context.Background(), topic, []byte("job")))

	b.DeliverPending(context.Background(), topic, func(context.Context, *Delivery) {}, 1)

	assert.Equal(t, 1, b.Pending(topic))
}

func TestMemoryBrokerSubscribe(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- b.Subscribe(ctx, topic, func(_ context.Context, d *Delivery) {
			handled.Add(1)
			_ = d.Ack()
		})
	}()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(ctx, topic, []byte("job")))
	}

	assert.Eventually(t, func() bool { return handled.Load() == 3 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}

func TestQueueArgs(t *testing.T) {
	args := Topology{DeliveryLimit: 5}.queueArgs(topic)
	assert.Equal(t, "quorum", args["x-queue-type"])
	assert.Equal(t, "export:playlist.dead", args["x-dead-letter-routing-key"])
	assert.Equal(t, int64(5), args["x-delivery-limit"])

	_, ok := Topology{}.queueArgs(topic)["x-delivery-limit"]
	assert.False(t, ok)
}

func TestManagedPublisherFailsFastWhenDisconnected(t *testing.T) {
	m := NewManagedPublisher("amqp://unused", Topology{}, slog.New(slog.NewTextHandler(io.Discard, nil)), topic)

	err := m.Publish(context.Background(), topic, []byte("{}"))
	assert.ErrorIs(t, err, models.ErrTransient)
	assert.False(t, m.IsHealthy())
}
