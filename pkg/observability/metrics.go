package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Message routing metrics
	messagesRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_messages_routed_total",
			Help: "Total number of messages accepted into mailboxes",
		},
		[]string{"protocol", "type"},
	)

	messagesRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_messages_rejected_total",
			Help: "Total number of messages rejected before enqueue",
		},
		[]string{"protocol", "reason"},
	)

	mailboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "concord_mailbox_depth",
			Help: "Messages currently queued across all mailboxes",
		},
	)

	// Collaboration metrics
	collaborationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_collaborations_total",
			Help: "Total number of collaboration runs by terminal state",
		},
		[]string{"state"},
	)

	collaborationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "concord_collaboration_duration_seconds",
			Help:    "Collaboration run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol"},
	)

	roundsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "concord_rounds_total",
			Help: "Total number of executed collaboration rounds",
		},
	)

	// Participant metrics
	participantsRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "concord_participants_registered",
			Help: "Number of registered participants",
		},
	)

	taskExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "concord_task_execution_duration_seconds",
			Help:    "Participant task execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"participant"},
	)

	executorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_executor_failures_total",
			Help: "Total number of participant task execution failures",
		},
		[]string{"participant"},
	)

	// Shared memory metrics
	sharedMemoryOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "concord_shared_memory_ops_total",
			Help: "Total number of shared memory operations",
		},
		[]string{"op"},
	)

	initOnce sync.Once
)

// InitMetrics registers the Prometheus metrics.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			messagesRoutedTotal,
			messagesRejectedTotal,
			mailboxDepth,
			collaborationsTotal,
			collaborationDuration,
			roundsTotal,
			participantsRegistered,
			taskExecutionDuration,
			executorFailuresTotal,
			sharedMemoryOpsTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordMessageRouted records an accepted message.
func RecordMessageRouted(protocol, msgType string) {
	messagesRoutedTotal.WithLabelValues(protocol, msgType).Inc()
}

// RecordMessageRejected records a message rejected before enqueue.
func RecordMessageRejected(protocol, reason string) {
	messagesRejectedTotal.WithLabelValues(protocol, reason).Inc()
}

// SetMailboxDepth sets the queued-message gauge.
func SetMailboxDepth(depth int) {
	mailboxDepth.Set(float64(depth))
}

// RecordCollaboration records a finished collaboration run.
func RecordCollaboration(state, protocol string, duration time.Duration) {
	collaborationsTotal.WithLabelValues(state).Inc()
	collaborationDuration.WithLabelValues(protocol).Observe(duration.Seconds())
}

// RecordRound records one executed round.
func RecordRound() {
	roundsTotal.Inc()
}

// SetParticipantsRegistered sets the registered-participant gauge.
func SetParticipantsRegistered(count int) {
	participantsRegistered.Set(float64(count))
}

// RecordTaskExecution records a participant task execution.
func RecordTaskExecution(participant string, duration time.Duration, failed bool) {
	taskExecutionDuration.WithLabelValues(participant).Observe(duration.Seconds())
	if failed {
		executorFailuresTotal.WithLabelValues(participant).Inc()
	}
}

// RecordSharedMemoryOp records a shared memory operation.
func RecordSharedMemoryOp(op string) {
	sharedMemoryOpsTotal.WithLabelValues(op).Inc()
}
