package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики sailor. Регистрируются в default registry при импорте пакета.
var (
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sailor_messages_received_total",
		Help: "Total messages delivered from the listen queue",
	})

	MessagesAcked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sailor_messages_acked_total",
		Help: "Total messages acknowledged",
	})

	MessagesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sailor_messages_rejected_total",
		Help: "Total messages rejected without requeue",
	})

	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sailor_messages_published_total",
		Help: "Total messages published, by kind",
	}, []string{"kind"})

	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sailor_publish_failures_total",
		Help: "Total publish attempts rejected by the broker, by kind",
	}, []string{"kind"})

	Rebounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sailor_rebounds_total",
		Help: "Total messages sent for delayed redelivery",
	})

	ReboundsExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sailor_rebounds_exhausted_total",
		Help: "Total rebounds converted to errors after reaching the limit",
	})

	MessagesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sailor_messages_in_flight",
		Help: "Messages currently being processed",
	})

	ProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sailor_process_duration_seconds",
		Help:    "Time from message arrival to ack or reject",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"outcome"})
)
