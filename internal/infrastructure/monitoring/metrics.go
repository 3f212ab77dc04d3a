package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every method is safe on a nil
// receiver so components can run without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Command metrics
	CommandsTotal      *prometheus.CounterVec
	CommandDuration    *prometheus.HistogramVec
	CommandTimeouts    prometheus.Counter
	ValidationRejected *prometheus.CounterVec
	ProcessesRunning   prometheus.Gauge

	// Virtual filesystem metrics
	VFSOperationDuration *prometheus.HistogramVec
	VFSErrors            *prometheus.CounterVec
	WorkspaceSyncedFiles prometheus.Counter

	// Session metrics
	SessionsActive   prometheus.Gauge
	SessionsExpired  prometheus.Counter
	SessionsRestored prometheus.Counter

	// WebSocket metrics
	WSConnections   *prometheus.GaugeVec
	WSMessages      *prometheus.CounterVec
	PendingMessages prometheus.Gauge

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time
}

// NewMetrics creates a metrics collector on its own registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

// NewMetricsWithRegistry creates a metrics collector on the given registry.
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webterm_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webterm_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webterm_commands_total",
				Help: "Total number of executed commands by verb and outcome",
			},
			[]string{"verb", "status"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webterm_command_duration_seconds",
				Help:    "Command execution time in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 30, 60},
			},
			[]string{"verb"},
		),
		CommandTimeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webterm_command_timeouts_total",
				Help: "Total number of subprocesses killed on timeout",
			},
		),
		ValidationRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webterm_validation_rejections_total",
				Help: "Total number of command lines rejected before execution",
			},
			[]string{"reason"},
		),
		ProcessesRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webterm_processes_running",
				Help: "Number of live subprocesses",
			},
		),

		VFSOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webterm_vfs_operation_duration_seconds",
				Help:    "Virtual filesystem operation latency in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, 1},
			},
			[]string{"op"},
		),
		VFSErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webterm_vfs_errors_total",
				Help: "Total number of failed virtual filesystem operations",
			},
			[]string{"op"},
		),
		WorkspaceSyncedFiles: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webterm_workspace_synced_files_total",
				Help: "Files copied back from temporary workspaces into the store",
			},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webterm_sessions_active",
				Help: "Number of sessions held in memory",
			},
		),
		SessionsExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webterm_sessions_expired_total",
				Help: "Total number of sessions removed by the idle sweeper",
			},
		),
		SessionsRestored: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webterm_sessions_restored_total",
				Help: "Total number of sessions restored from a snapshot",
			},
		),

		WSConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "webterm_ws_connections",
				Help: "Number of active WebSocket connections",
			},
			[]string{"kind"},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webterm_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
		PendingMessages: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webterm_pending_messages",
				Help: "Messages queued for disconnected connections",
			},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "webterm_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus exposition handler for this collector.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCommand records a finished command
func (m *Metrics) RecordCommand(verb, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(verb, status).Inc()
	m.CommandDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

// RecordTimeout records a subprocess killed on timeout
func (m *Metrics) RecordTimeout() {
	if m == nil {
		return
	}
	m.CommandTimeouts.Inc()
}

// RecordRejection records a command line rejected by validation
func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.ValidationRejected.WithLabelValues(reason).Inc()
}

// ProcessStarted increments the live subprocess gauge
func (m *Metrics) ProcessStarted() {
	if m == nil {
		return
	}
	m.ProcessesRunning.Inc()
}

// ProcessExited decrements the live subprocess gauge
func (m *Metrics) ProcessExited() {
	if m == nil {
		return
	}
	m.ProcessesRunning.Dec()
}

// RecordVFSOperation records the latency and outcome of a store call
func (m *Metrics) RecordVFSOperation(op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.VFSOperationDuration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		m.VFSErrors.WithLabelValues(op).Inc()
	}
}

// AddSyncedFiles records files copied back from a temporary workspace
func (m *Metrics) AddSyncedFiles(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.WorkspaceSyncedFiles.Add(float64(n))
}

// SetSessionsActive sets the number of in-memory sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
}

// IncSessionsExpired increments the idle-expiry counter
func (m *Metrics) IncSessionsExpired() {
	if m == nil {
		return
	}
	m.SessionsExpired.Inc()
}

// IncSessionsRestored increments the snapshot restore counter
func (m *Metrics) IncSessionsRestored() {
	if m == nil {
		return
	}
	m.SessionsRestored.Inc()
}

// IncWSConnections increments WebSocket connections of a kind
func (m *Metrics) IncWSConnections(kind string) {
	if m == nil {
		return
	}
	m.WSConnections.WithLabelValues(kind).Inc()
}

// DecWSConnections decrements WebSocket connections of a kind
func (m *Metrics) DecWSConnections(kind string) {
	if m == nil {
		return
	}
	m.WSConnections.WithLabelValues(kind).Dec()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// AddPending adjusts the pending message gauge by delta
func (m *Metrics) AddPending(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.PendingMessages.Add(float64(delta))
}
