package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConsumerDuration tracks the end-to-end latency of one delivery, from decode to ack/nack
	// SMTP round trips dominate, hence the wide buckets
	ConsumerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "export_consumer_processing_duration_seconds",
		Help:    "Time taken to process an export job delivery",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"state"}) // state: acked, failed, requeued

	// ConsumerMessages tracks the result of each delivery and the failure reason
	ConsumerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "export_consumer_messages_total",
		Help: "Total number of export job deliveries processed by the consumer",
	}, []string{"state", "reason"})

	// ConsumerRedeliveries counts deliveries flagged as redelivered by the broker
	ConsumerRedeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "export_consumer_redeliveries_total",
		Help: "Number of export job deliveries that were redeliveries",
	})
)
