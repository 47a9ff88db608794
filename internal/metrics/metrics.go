package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "panel_telemetry"

// Drop reasons for MessagesDropped.
const (
	ReasonBadTopic       = "bad_topic"
	ReasonUnknownCommand = "unknown_command"
	ReasonBadPayload     = "bad_payload"
	ReasonQueueClosed    = "queue_closed"
)

var (
	MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "messages_received_total",
		Help:      "Transport messages delivered to the ingestion adapter.",
	})
	MessagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "messages_dropped_total",
		Help:      "Transport messages dropped before reaching the queue.",
	}, []string{"reason"})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "queue_depth",
		Help:      "Reports waiting for the batcher.",
	})
	ReadingsResolved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "readings_resolved_total",
		Help:      "Sensor samples resolved to a panel and buffered.",
	})
	ReadingsUnresolved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "readings_unresolved_total",
		Help:      "Sensor samples skipped because no panel matched.",
	})
	MQTTConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mqtt",
		Name:      "connected",
		Help:      "1 while the broker connection is up.",
	})
	MQTTReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mqtt",
		Name:      "reconnect_attempts_total",
		Help:      "Broker connection attempts made by the reconnect loop.",
	})
	PanelCacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "panel_cache",
		Name:      "entries",
		Help:      "Panels currently held by the resolution cache.",
	})
	FlushBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "persist",
		Name:      "flush_batch_size",
		Help:      "Readings selected per flush.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})
	FlushFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "persist",
		Name:      "flush_failures_total",
		Help:      "Bulk writes that failed for reasons other than duplicate keys.",
	})
	DuplicatesAbsorbed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "persist",
		Name:      "duplicate_conflicts_total",
		Help:      "Bulk writes whose only failure was a duplicate key.",
	})
	StaleEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "persist",
		Name:      "stale_evicted_total",
		Help:      "Buffered readings dropped for exceeding the staleness horizon.",
	})
	BroadcastDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "delivered_total",
		Help:      "Events handed to connection sinks.",
	}, []string{"event"})
	BroadcastFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "failed_total",
		Help:      "Events a connection sink refused.",
	}, []string{"event"})
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "connections",
		Help:      "Connections holding at least one subscription.",
	})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		MessagesReceived, MessagesDropped, QueueDepth, ReadingsResolved, ReadingsUnresolved,
		MQTTConnected, MQTTReconnects, PanelCacheSize,
		FlushBatchSize, FlushFailures, DuplicatesAbsorbed, StaleEvicted,
		BroadcastDelivered, BroadcastFailed, ActiveConnections,
	}
}

// Register adds every pipeline collector to reg. Collectors that are
// already registered are ignored so repeated wiring in tests is harmless.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
