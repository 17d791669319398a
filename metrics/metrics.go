// Package metrics registers the service's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpdatesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transtrack_updates_accepted_total",
		Help: "Total number of bus updates applied.",
	})
	UpdatesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transtrack_updates_rejected_total",
		Help: "Total number of bus updates rejected, by reason.",
	}, []string{"reason"})

	SnapshotDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transtrack_snapshot_build_seconds",
		Help:    "Time spent building an enriched fleet snapshot.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
	EnrichFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transtrack_enrich_failures_total",
		Help: "Total number of buses that fell back to neutral defaults during enrichment.",
	})

	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transtrack_broadcasts_total",
		Help: "Total number of events broadcast to subscribers, by type.",
	}, []string{"type"})
	BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transtrack_broadcast_dropped_total",
		Help: "Total number of messages dropped because a subscriber buffer was full.",
	})
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transtrack_subscribers",
		Help: "Number of connected live subscribers.",
	})
	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transtrack_redis_publish_failures_total",
		Help: "Total number of failed Redis publishes.",
	})

	RouteLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transtrack_route_lookups_total",
		Help: "Total number of route lookups, by outcome.",
	}, []string{"outcome"})

	MQTTReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transtrack_mqtt_messages_received_total",
		Help: "Total number of MQTT telemetry messages received.",
	})
	MQTTFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transtrack_mqtt_messages_failed_total",
		Help: "Total number of MQTT telemetry messages rejected or failed to apply.",
	})

	SamplesArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transtrack_samples_archived_total",
		Help: "Total number of telemetry samples written to the archive.",
	})
	StoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transtrack_store_failures_total",
		Help: "Total number of failed persistence writes, by operation.",
	}, []string{"op"})
)

const (
	OutcomeOK       = "ok"
	OutcomeCached   = "cached"
	OutcomeError    = "error"
	OutcomeNoTarget = "no_target"
)
