// Package metrics registers the Prometheus collectors the API and
// worker processes expose on their metrics port.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MessagesEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_messages_enqueued_total",
			Help: "Total messages accepted by the enqueuer, by channel.",
		},
		[]string{"channel"},
	)

	AdmissionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_admission_rejections_total",
			Help: "Total enqueue rejections, by reason.",
		},
		[]string{"reason"},
	)

	MessagesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_messages_delivered_total",
			Help: "Total messages successfully delivered, by channel.",
		},
		[]string{"channel"},
	)

	MessagesFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_messages_failed_total",
			Help: "Total messages that reached terminal failed status, by channel.",
		},
		[]string{"channel"},
	)

	MessagesDead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_messages_dead_total",
			Help: "Total messages dead-lettered after exhausting max_attempts, by channel.",
		},
		[]string{"channel"},
	)

	MessagesRetried = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_messages_retried_total",
			Help: "Total retryable failures that left a message queued for another attempt, by channel.",
		},
		[]string{"channel"},
	)

	MessagesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_messages_skipped_total",
			Help: "Total claim-time skips, by reason.",
		},
		[]string{"reason"},
	)

	ClaimBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_claim_batch_size",
			Help:    "Number of messages claimed per dispatcher poll.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	ClaimDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_claim_duration_seconds",
			Help:    "Wall-clock duration of one dispatcher poll transaction.",
			Buckets: prometheus.DefBuckets,
		},
	)

	JanitorRowsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_janitor_rows_deleted_total",
			Help: "Total rows deleted by the janitor's retention sweep, by table.",
		},
		[]string{"table"},
	)
)

// Init registers every collector with the default Prometheus registry.
// Called once at process startup, before the metrics server begins
// serving /metrics.
func Init() {
	prometheus.MustRegister(
		MessagesEnqueued,
		AdmissionRejections,
		MessagesDelivered,
		MessagesFailed,
		MessagesDead,
		MessagesRetried,
		MessagesSkipped,
		ClaimBatchSize,
		ClaimDuration,
		JanitorRowsDeleted,
	)
}
