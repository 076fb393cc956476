package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordLockAcquire("acquired")
	m.RecordLockAcquire("acquired")
	m.RecordLockAcquire("conflict")
	m.RecordConflict("first_come_first_serve")
	m.RecordNotification("email", "failed")
	m.RecordReaped(3)
	m.RecordRequest("/assignments", "POST", 200, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.lockAcquire.WithLabelValues("acquired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockAcquire.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("first_come_first_serve")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("email", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.reaped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/assignments", "POST", "200")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordLockAcquire("acquired")
		m.RecordAssignment("lock", "success")
		m.RecordError("/x", "GET", "NOT_FOUND")
		m.RecordReaped(1)
	})
	assert.Nil(t, m.Registry())
}
