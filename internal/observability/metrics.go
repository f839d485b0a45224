package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// Built on Prometheus, the metrics track:
//   - Mission lifecycle (started, succeeded, failed, stopped)
//   - LLM request performance by role, provider and model
//   - Tool execution patterns and latencies
//   - Notification bus health (connections, dropped events)
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.MissionStarted()
//	defer metrics.RecordToolExecution("write_file", "success", time.Since(start).Seconds())
type Metrics struct {
	// MissionCounter tracks mission terminal outcomes.
	// Labels: outcome (success|failure|stopped)
	MissionCounter *prometheus.CounterVec

	// ActiveMissions is a gauge of currently executing missions.
	ActiveMissions prometheus.Gauge

	// TaskAttempts counts task execution attempts by outcome.
	// Labels: outcome (success|failure)
	TaskAttempts *prometheus.CounterVec

	// ReplanCounter counts replanner invocations.
	ReplanCounter prometheus.Counter

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: role, provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM calls by role and status.
	// Labels: role, provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|failure)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ActiveConnections is a gauge of connected WebSocket clients.
	ActiveConnections prometheus.Gauge

	// EventsDropped counts events dropped due to slow clients.
	EventsDropped prometheus.Counter

	// ErrorCounter tracks errors by component and type.
	// Labels: component (conductor|planner|gateway|tools|bus), error_type
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call once at startup; the collectors surface on /metrics.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the collectors with an explicit registerer.
// Tests use this with a fresh registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MissionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aura_missions_total",
				Help: "Total number of missions by terminal outcome",
			},
			[]string{"outcome"},
		),

		ActiveMissions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "aura_active_missions",
				Help: "Number of missions currently executing",
			},
		),

		TaskAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aura_task_attempts_total",
				Help: "Total task execution attempts by outcome",
			},
			[]string{"outcome"},
		),

		ReplanCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aura_replans_total",
				Help: "Total number of replanner invocations",
			},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aura_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"role", "provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aura_llm_requests_total",
				Help: "Total number of LLM requests by role, provider, model and status",
			},
			[]string{"role", "provider", "model", "status"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aura_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aura_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "aura_ws_connections",
				Help: "Current number of connected WebSocket clients",
			},
		),

		EventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aura_events_dropped_total",
				Help: "Events dropped because a client sink could not keep up",
			},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aura_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aura_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// MissionStarted marks a mission as executing.
func (m *Metrics) MissionStarted() {
	m.ActiveMissions.Inc()
}

// MissionFinished records a terminal outcome and releases the active slot.
func (m *Metrics) MissionFinished(outcome string) {
	m.ActiveMissions.Dec()
	m.MissionCounter.WithLabelValues(outcome).Inc()
}

// RecordLLMRequest records metrics for one LLM call.
func (m *Metrics) RecordLLMRequest(role, provider, model, status string, durationSeconds float64) {
	m.LLMRequestCounter.WithLabelValues(role, provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(role, provider, model).Observe(durationSeconds)
}

// RecordToolExecution records metrics for one tool invocation.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// ClientConnected increments the WebSocket connection gauge.
func (m *Metrics) ClientConnected() {
	m.ActiveConnections.Inc()
}

// ClientDisconnected decrements the WebSocket connection gauge.
func (m *Metrics) ClientDisconnected() {
	m.ActiveConnections.Dec()
}

// EventDropped counts one event dropped for a slow client.
func (m *Metrics) EventDropped() {
	m.EventsDropped.Inc()
}
