// Package metrics exposes agentdesk's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentdesk"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry           *prometheus.Registry
	sessionsStarted    *prometheus.CounterVec
	turns              *prometheus.CounterVec
	messages           *prometheus.CounterVec
	rpcLatency         *prometheus.HistogramVec
	activeSessions     prometheus.Gauge
	pendingPermissions prometheus.Gauge
	permissionWait     prometheus.Histogram
	droppedSubscribers prometheus.Counter
	backendErrors      prometheus.Counter
}

// New registers every collector, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Backend runs started, by backend and kind (start or continue).",
		}, []string{"backend", "kind"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turns that ended with a result, by outcome.",
		}, []string{"outcome"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Normalized messages emitted, by type.",
		}, []string{"type"}),
		rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acp_rpc_duration_seconds",
			Help:      "Latency of outbound ACP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"method", "status"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions with a live backend handle.",
		}),
		pendingPermissions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_permissions",
			Help:      "Permission requests waiting for an answer.",
		}),
		permissionWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "permission_wait_seconds",
			Help:      "Time from permission request to answer.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		droppedSubscribers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_subscribers_total",
			Help:      "Broadcast subscribers disconnected for falling behind.",
		}),
		backendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Errors reported by backend runners.",
		}),
	}
	m.registry.MustRegister(
		m.sessionsStarted, m.turns, m.messages, m.rpcLatency,
		m.activeSessions, m.pendingPermissions, m.permissionWait,
		m.droppedSubscribers, m.backendErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SessionStarted counts a backend run. kind is "start" or "continue".
func (m *Metrics) SessionStarted(backend, kind string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(backend, kind).Inc()
	m.activeSessions.Inc()
}

// SessionReleased decrements the active gauge when a handle is dropped.
func (m *Metrics) SessionReleased() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// TurnFinished counts a result by its subtype.
func (m *Metrics) TurnFinished(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

// MessageEmitted counts a normalized message.
func (m *Metrics) MessageEmitted(msgType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(msgType).Inc()
}

// PermissionOpened tracks a new pending permission.
func (m *Metrics) PermissionOpened() {
	if m == nil {
		return
	}
	m.pendingPermissions.Inc()
}

// PermissionClosed records how long a permission waited.
func (m *Metrics) PermissionClosed(waited time.Duration) {
	if m == nil {
		return
	}
	m.pendingPermissions.Dec()
	m.permissionWait.Observe(waited.Seconds())
}

// SubscriberDropped counts a slow subscriber being disconnected.
func (m *Metrics) SubscriberDropped() {
	if m == nil {
		return
	}
	m.droppedSubscribers.Inc()
}

// BackendError counts an error surfaced by a runner.
func (m *Metrics) BackendError() {
	if m == nil {
		return
	}
	m.backendErrors.Inc()
}

// ObserveRPC has the shape of jsonrpc.CallObserver.
func (m *Metrics) ObserveRPC(method string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.rpcLatency.WithLabelValues(method, status).Observe(elapsed.Seconds())
}
