package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ticket_assignment"

// Metrics exposes Prometheus counters for the assignment service.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	lockAcquire     *prometheus.CounterVec
	storeRetries    *prometheus.CounterVec
	assignments     *prometheus.CounterVec
	conflicts       *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	reaped          prometheus.Counter
}

// NewMetrics registers collectors on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"route", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "Domain errors returned to callers by code.",
		}, []string{"route", "method", "code"}),
		lockAcquire: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "acquisitions_total",
			Help:      "Lock acquisition attempts by outcome.",
		}, []string{"outcome"}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "store_retries_total",
			Help:      "Lock store operations retried after a transient failure.",
		}, []string{"op"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "assignments_total",
			Help:      "Assignment intents by path and outcome.",
		}, []string{"path", "outcome"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "conflicts_total",
			Help:      "Detected assignment conflicts by resolution strategy.",
		}, []string{"strategy"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "results_total",
			Help:      "Notification delivery results by channel and status.",
		}, []string{"channel", "status"}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "reaped_total",
			Help:      "Expired lock rows removed by the reaper.",
		}),
	}
	reg.MustRegister(m.requests, m.requestDuration, m.errors, m.lockAcquire, m.storeRetries,
		m.assignments, m.conflicts, m.notifications, m.reaped)
	return m
}

// Registry returns the gatherer to expose on /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest counts an HTTP request.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError counts a domain error returned to a caller.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(route, method, code).Inc()
}

// RecordLockAcquire counts an acquisition by outcome (acquired, refreshed, conflict, error).
func (m *Metrics) RecordLockAcquire(outcome string) {
	if m == nil {
		return
	}
	m.lockAcquire.WithLabelValues(outcome).Inc()
}

// RecordStoreRetry counts a retried lock store call.
func (m *Metrics) RecordStoreRetry(op string) {
	if m == nil {
		return
	}
	m.storeRetries.WithLabelValues(op).Inc()
}

// RecordAssignment counts a coordinator outcome.
func (m *Metrics) RecordAssignment(path, outcome string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(path, outcome).Inc()
}

// RecordConflict counts a detected conflict.
func (m *Metrics) RecordConflict(strategy string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(strategy).Inc()
}

// RecordNotification counts a notification result.
func (m *Metrics) RecordNotification(channel, status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, status).Inc()
}

// RecordReaped counts reaped lock rows.
func (m *Metrics) RecordReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reaped.Add(float64(n))
}
