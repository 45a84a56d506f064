// Package observability wires Prometheus metrics and OpenTelemetry tracing
// into the orchestration core behind a Manager/Metrics/Tracer split, so
// every subsystem records through one shared registry instead of each
// owning ad hoc counters.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus series for the turn runner, tool dispatcher,
// billing tollbooth, and background workers.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal        *prometheus.CounterVec
	TurnDuration      *prometheus.HistogramVec
	TurnErrors        *prometheus.CounterVec

	ToolCallsTotal    *prometheus.CounterVec
	ToolCallDuration  *prometheus.HistogramVec
	ToolCallErrors    *prometheus.CounterVec

	LLMCallsTotal     *prometheus.CounterVec
	LLMTokensInput    *prometheus.CounterVec
	LLMTokensOutput   *prometheus.CounterVec

	WalletDeductions  *prometheus.CounterVec
	WalletOverageUsed  *prometheus.CounterVec
	RateLimitRejects  *prometheus.CounterVec

	WorkerJobsTotal   *prometheus.CounterVec
	WorkerJobDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance registered to its own Prometheus
// registry, isolated from the global default registry so tests can spin up
// multiple instances without collector-already-registered panics.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "chatcore"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.TurnsTotal = m.registerCounter(namespace, "turn", "calls_total",
		"Total chat turns run", "tenant_id", "status")
	m.TurnDuration = m.registerHistogram(namespace, "turn", "duration_seconds",
		"Chat turn duration in seconds", prometheus.DefBuckets, "tenant_id")
	m.TurnErrors = m.registerCounter(namespace, "turn", "errors_total",
		"Chat turns that ended in an error", "tenant_id", "kind")

	m.ToolCallsTotal = m.registerCounter(namespace, "tool", "calls_total",
		"Governed tool calls dispatched", "tenant_id", "tool_name")
	m.ToolCallDuration = m.registerHistogram(namespace, "tool", "duration_seconds",
		"Tool call duration in seconds", prometheus.DefBuckets, "tool_name")
	m.ToolCallErrors = m.registerCounter(namespace, "tool", "errors_total",
		"Tool calls that failed", "tool_name", "reason")

	m.LLMCallsTotal = m.registerCounter(namespace, "llm", "calls_total",
		"LLM provider calls", "provider", "model")
	m.LLMTokensInput = m.registerCounter(namespace, "llm", "tokens_input_total",
		"Input tokens consumed", "provider", "model")
	m.LLMTokensOutput = m.registerCounter(namespace, "llm", "tokens_output_total",
		"Output tokens produced", "provider", "model")

	m.WalletDeductions = m.registerCounter(namespace, "wallet", "deductions_total",
		"Wallet credit deductions", "tenant_id", "tier")
	m.WalletOverageUsed = m.registerCounter(namespace, "wallet", "overage_credits_total",
		"Metered overage credits consumed", "tenant_id")
	m.RateLimitRejects = m.registerCounter(namespace, "ratelimit", "rejects_total",
		"Requests rejected by the rate limiter", "tenant_id", "tool_name")

	m.WorkerJobsTotal = m.registerCounter(namespace, "worker", "jobs_total",
		"Background jobs executed", "job_type", "status")
	m.WorkerJobDuration = m.registerHistogram(namespace, "worker", "job_duration_seconds",
		"Background job duration in seconds", prometheus.DefBuckets, "job_type")

	return m
}

func (m *Metrics) registerCounter(ns, subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
	m.registry.MustRegister(c)
	return c
}

func (m *Metrics) registerHistogram(ns, subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
	m.registry.MustRegister(h)
	return h
}

// Handler exposes the metrics registry over HTTP for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTurn records a completed chat turn.
func (m *Metrics) ObserveTurn(tenantID, status string, duration time.Duration) {
	m.TurnsTotal.WithLabelValues(tenantID, status).Inc()
	m.TurnDuration.WithLabelValues(tenantID).Observe(duration.Seconds())
}

// ObserveToolCall records a single governed tool dispatch.
func (m *Metrics) ObserveToolCall(tenantID, toolName string, duration time.Duration, err error) {
	m.ToolCallsTotal.WithLabelValues(tenantID, toolName).Inc()
	m.ToolCallDuration.WithLabelValues(toolName).Observe(duration.Seconds())
	if err != nil {
		m.ToolCallErrors.WithLabelValues(toolName, err.Error()).Inc()
	}
}

// ObserveJob records a completed background job.
func (m *Metrics) ObserveJob(jobType, status string, duration time.Duration) {
	m.WorkerJobsTotal.WithLabelValues(jobType, status).Inc()
	m.WorkerJobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// ObserveLLMCall records token usage for a single LLM request.
func (m *Metrics) ObserveLLMCall(provider, model string, inputTokens, outputTokens int) {
	m.LLMCallsTotal.WithLabelValues(provider, model).Inc()
	m.LLMTokensInput.WithLabelValues(provider, model).Add(float64(inputTokens))
	m.LLMTokensOutput.WithLabelValues(provider, model).Add(float64(outputTokens))
}
