// Package metrics exposes the reasoning loop, tool dispatcher, and LLM
// client as Prometheus counters/histograms behind a `/metrics` endpoint,
// grounded on the teacher's ai/metrics.PrometheusExporter (same
// Namespace/Subsystem/Name convention, same registry-then-handler shape),
// scoped down to the counters this module's components actually emit.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter is the concrete Prometheus-backed metrics sink. Consumers
// depend on their own narrow interface (e.g. reasoning.Recorder) rather
// than this type, so they stay free of a direct prometheus import.
type Exporter struct {
	registry *prometheus.Registry

	turnDuration  *prometheus.HistogramVec
	turnSteps     *prometheus.HistogramVec
	turnToolCalls *prometheus.HistogramVec
	turnsTotal    *prometheus.CounterVec

	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec

	llmLatency *prometheus.HistogramVec
	llmTokens  *prometheus.CounterVec
}

func New() *Exporter {
	registry := prometheus.NewRegistry()
	buckets := []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

	e := &Exporter{
		registry: registry,
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentcore", Subsystem: "reasoning", Name: "turn_duration_seconds",
			Help: "Wall-clock duration of one reasoning-loop turn.", Buckets: buckets,
		}, []string{"agent_id", "kind"}),
		turnSteps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentcore", Subsystem: "reasoning", Name: "turn_steps",
			Help: "ASSEMBLE/CALL_LLM steps taken per turn.", Buckets: prometheus.LinearBuckets(1, 2, 12),
		}, []string{"agent_id"}),
		turnToolCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentcore", Subsystem: "reasoning", Name: "turn_tool_calls",
			Help: "Tool calls dispatched per turn.", Buckets: prometheus.LinearBuckets(0, 2, 16),
		}, []string{"agent_id"}),
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore", Subsystem: "reasoning", Name: "turns_total",
			Help: "Completed turns, by terminal kind (empty means success).",
		}, []string{"agent_id", "kind"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore", Subsystem: "tool", Name: "calls_total",
			Help: "Tool dispatches, by tool name and outcome.",
		}, []string{"tool_name", "status"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentcore", Subsystem: "tool", Name: "latency_seconds",
			Help: "Tool dispatch latency.", Buckets: buckets,
		}, []string{"tool_name"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentcore", Subsystem: "llm", Name: "call_latency_seconds",
			Help: "LLM provider call latency.", Buckets: buckets,
		}, []string{"model"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore", Subsystem: "llm", Name: "tokens_total",
			Help: "LLM tokens consumed, by model and token type.",
		}, []string{"model", "token_type"}),
	}

	registry.MustRegister(
		e.turnDuration, e.turnSteps, e.turnToolCalls, e.turnsTotal,
		e.toolCalls, e.toolLatency,
		e.llmLatency, e.llmTokens,
	)
	return e
}

func (e *Exporter) RecordTurn(agentID string, steps, toolCalls int, duration time.Duration, kind string) {
	e.turnDuration.WithLabelValues(agentID, kind).Observe(duration.Seconds())
	e.turnSteps.WithLabelValues(agentID).Observe(float64(steps))
	e.turnToolCalls.WithLabelValues(agentID).Observe(float64(toolCalls))
	e.turnsTotal.WithLabelValues(agentID, kind).Inc()
}

func (e *Exporter) RecordToolCall(name string, duration time.Duration, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	e.toolCalls.WithLabelValues(name, status).Inc()
	e.toolLatency.WithLabelValues(name).Observe(duration.Seconds())
}

func (e *Exporter) RecordLLMCall(model string, duration time.Duration, promptTokens, completionTokens int) {
	e.llmLatency.WithLabelValues(model).Observe(duration.Seconds())
	e.llmTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	e.llmTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

// Handler serves the Prometheus text exposition format for `/metrics`.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry so other packages (e.g. cost's
// Tracker via WithRegisterer) can register onto the same one.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }
