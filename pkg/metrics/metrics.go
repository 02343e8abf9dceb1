package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExportJobsPublished counts export requests handed to the broker
	// status: accepted, rejected, failed
	ExportJobsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "export_jobs_published_total",
		Help: "Total number of export jobs published to the broker",
	}, []string{"status"})

	// PublishDuration includes the wait for the publisher confirm
	PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "broker_publish_duration_seconds",
		Help:    "Time taken to publish a message and receive the broker confirm",
		Buckets: prometheus.DefBuckets,
	})

	// RabbitMQReconnections counts how many times the publisher had to restore the link
	RabbitMQReconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_reconnections_total",
		Help: "Total number of RabbitMQ reconnection attempts",
	})

	// HealthStatus is 1 while the broker link is up, 0 otherwise
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broker_healthy",
		Help: "Current health status of the broker link (1 for healthy, 0 for unhealthy)",
	})

	// LikesCacheLookups tracks cache-aside reads of album likes
	// result: hit, miss, error
	LikesCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "likes_cache_lookups_total",
		Help: "Album likes cache lookups by result",
	}, []string{"result"})

	// LikesCacheInvalidationFailures should stay at zero; growth means reads may be stale until TTL
	LikesCacheInvalidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "likes_cache_invalidation_failures_total",
		Help: "Album likes cache keys that could not be invalidated after a mutation",
	})
)
