package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/openmusic-export/internal/models"
	"github.com/Guizzs26/openmusic-export/pkg/infra"
	"github.com/Guizzs26/openmusic-export/pkg/metrics"
)

// ManagedPublisher keeps a healthy RabbitMQClient available to request handlers.
// Publish fails fast with ErrTransient while the link is down; Run restores it.
type ManagedPublisher struct {
	url     string
	topo    Topology
	queues  []string
	logger  *slog.Logger
	current atomic.Pointer[RabbitMQClient]
}

func NewManagedPublisher(url string, topo Topology, logger *slog.Logger, queues ...string) *ManagedPublisher {
	return &ManagedPublisher{
		url:    url,
		topo:   topo,
		queues: queues,
		logger: logger,
	}
}

// Run blocks until ctx is canceled, reconnecting with backoff whenever the link drops
func (m *ManagedPublisher) Run(ctx context.Context) {
	backoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)

	for {
		client, err := NewRabbitMQClient(m.url, m.topo, m.logger, m.queues...)
		if err != nil {
			metrics.RabbitMQReconnections.Inc()
			m.logger.Error("RabbitMQ link failure, retrying", "attempt", backoff.Attempts()+1, "error", err)
			if !backoff.Wait(ctx) {
				return
			}
			continue
		}

		backoff.Reset()
		m.current.Store(client)
		m.logger.Info("RabbitMQ publisher link established")

		select {
		case <-ctx.Done():
			m.current.Store(nil)
			client.Close()
			return
		case <-client.Done():
			m.current.CompareAndSwap(client, nil)
			client.Close()
			metrics.RabbitMQReconnections.Inc()
		}
	}
}

// Publish delegates to the live client
func (m *ManagedPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	client := m.current.Load()
	if client == nil {
		return fmt.Errorf("%w: broker not connected", models.ErrTransient)
	}
	return client.Publish(ctx, topic, payload)
}

func (m *ManagedPublisher) IsHealthy() bool {
	client := m.current.Load()
	return client != nil && client.IsHealthy()
}
