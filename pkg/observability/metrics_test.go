package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordSharedMemoryOp(t *testing.T) {
	before := testutil.ToFloat64(sharedMemoryOpsTotal.WithLabelValues("write"))
	RecordSharedMemoryOp("write")
	RecordSharedMemoryOp("write")
	assert.Equal(t, before+2, testutil.ToFloat64(sharedMemoryOpsTotal.WithLabelValues("write")))
}

func TestRecordMessageCounters(t *testing.T) {
	routed := testutil.ToFloat64(messagesRoutedTotal.WithLabelValues("none", "task"))
	RecordMessageRouted("none", "task")
	assert.Equal(t, routed+1, testutil.ToFloat64(messagesRoutedTotal.WithLabelValues("none", "task")))

	rejected := testutil.ToFloat64(messagesRejectedTotal.WithLabelValues("auction", "protocol_violation"))
	RecordMessageRejected("auction", "protocol_violation")
	assert.Equal(t, rejected+1, testutil.ToFloat64(messagesRejectedTotal.WithLabelValues("auction", "protocol_violation")))
}

func TestRecordTaskExecutionFailureCounter(t *testing.T) {
	before := testutil.ToFloat64(executorFailuresTotal.WithLabelValues("p1"))
	RecordTaskExecution("p1", time.Millisecond, false)
	assert.Equal(t, before, testutil.ToFloat64(executorFailuresTotal.WithLabelValues("p1")), "successful executions do not count as failures")
	RecordTaskExecution("p1", time.Millisecond, true)
	assert.Equal(t, before+1, testutil.ToFloat64(executorFailuresTotal.WithLabelValues("p1")))
}
