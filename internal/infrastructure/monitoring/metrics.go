package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Instance metrics
	InstancesActive prometheus.Gauge
	InstancesOpened prometheus.Counter
	InstancesClosed *prometheus.CounterVec
	AdmissionDenied *prometheus.CounterVec

	// Injection metrics
	SpoofTotal       *prometheus.CounterVec
	AutoPlayClicks   prometheus.Counter
	AutoPlayEpisodes *prometheus.CounterVec
	GamepadUpdates   prometheus.Counter

	// Control server metrics
	ControlCalls    *prometheus.CounterVec
	ControlDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Snapshot for the JSON status API
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON status API
type Snapshot struct {
	TotalRequests   int64 `json:"total_requests"`
	TotalErrors     int64 `json:"total_errors"`
	ActiveInstances int64 `json:"active_instances"`
	OpenedInstances int64 `json:"opened_instances"`
	AutoPlayClicks  int64 `json:"autoplay_clicks"`
	WSConnections   int64 `json:"ws_connections"`
}

// NewMetrics creates a metrics collector on its own registry, so tests and
// multiple servers in one process never collide on registration.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lobby_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lobby_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		InstancesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lobby_instances_active",
				Help: "Number of hosted page instances currently open",
			},
		),
		InstancesOpened: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lobby_instances_opened_total",
				Help: "Total number of hosted page instances created",
			},
		),
		InstancesClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lobby_instances_closed_total",
				Help: "Total number of hosted page instances destroyed",
			},
			[]string{"reason"},
		),
		AdmissionDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lobby_admission_denied_total",
				Help: "Open requests rejected before any instance was created",
			},
			[]string{"reason"},
		),

		SpoofTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lobby_spoof_total",
				Help: "Viewport spoof attempts by resulting strategy",
			},
			[]string{"strategy"},
		),
		AutoPlayClicks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lobby_autoplay_clicks_total",
				Help: "Synthesized play clicks",
			},
		),
		AutoPlayEpisodes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lobby_autoplay_episodes_total",
				Help: "Finished auto-play episodes by outcome",
			},
			[]string{"outcome"},
		),
		GamepadUpdates: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lobby_gamepad_updates_total",
				Help: "Virtual gamepad mutations pushed into hosted pages",
			},
		),

		ControlCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lobby_control_calls_total",
				Help: "Calls to the control server",
			},
			[]string{"op", "result"},
		),
		ControlDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lobby_control_duration_seconds",
				Help:    "Control server call duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"op"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lobby_ws_connections",
				Help: "Number of active event stream connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lobby_ws_messages_total",
				Help: "Total number of event stream messages",
			},
			[]string{"direction", "type"},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// SetInstancesActive sets the number of open instances
func (m *Metrics) SetInstancesActive(count int) {
	m.InstancesActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveInstances = int64(count)
	m.mu.Unlock()
}

// IncInstancesOpened increments the created-instances counter
func (m *Metrics) IncInstancesOpened() {
	m.InstancesOpened.Inc()
	m.mu.Lock()
	m.snapshot.OpenedInstances++
	m.mu.Unlock()
}

// IncInstancesClosed counts a destroyed instance
func (m *Metrics) IncInstancesClosed(reason string) {
	m.InstancesClosed.WithLabelValues(reason).Inc()
}

// IncAdmissionDenied counts a rejected open request
func (m *Metrics) IncAdmissionDenied(reason string) {
	m.AdmissionDenied.WithLabelValues(reason).Inc()
}

// RecordSpoof counts a spoof attempt by the strategy that stuck
func (m *Metrics) RecordSpoof(strategy string) {
	m.SpoofTotal.WithLabelValues(strategy).Inc()
}

// IncAutoPlayClicks counts one synthesized click sequence
func (m *Metrics) IncAutoPlayClicks() {
	m.AutoPlayClicks.Inc()
	m.mu.Lock()
	m.snapshot.AutoPlayClicks++
	m.mu.Unlock()
}

// RecordAutoPlayEpisode counts a finished episode
func (m *Metrics) RecordAutoPlayEpisode(outcome string) {
	m.AutoPlayEpisodes.WithLabelValues(outcome).Inc()
}

// IncGamepadUpdates counts a pushed gamepad mutation
func (m *Metrics) IncGamepadUpdates() {
	m.GamepadUpdates.Inc()
}

// RecordControlCall records a control server call
func (m *Metrics) RecordControlCall(op, result string, duration time.Duration) {
	m.ControlCalls.WithLabelValues(op, result).Inc()
	m.ControlDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.WSConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.WSConnections--
	m.mu.Unlock()
}

// Snapshot returns a copy of the tracked values
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
