package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records crew activity. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordRun(ctx context.Context, duration time.Duration, tokens int, err error)
	RecordTask(ctx context.Context, role string, duration time.Duration, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error)
	RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration)
}

// PrometheusMetrics records through OpenTelemetry instruments exported by
// the OTel Prometheus exporter into a private registry.
type PrometheusMetrics struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	runDuration metric.Float64Histogram
	runsTotal   metric.Int64Counter
	runErrors   metric.Int64Counter
	runTokens   metric.Int64Counter

	taskDuration metric.Float64Histogram
	taskErrors   metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	toolCalls  metric.Int64Counter
	toolErrors metric.Int64Counter

	httpDuration metric.Float64Histogram
}

// NewPrometheusMetrics creates the instruments. It returns a NoopMetrics
// when metrics are disabled.
func NewPrometheusMetrics(cfg MetricsConfig) (Metrics, error) {
	if !cfg.Enabled {
		return NoopMetrics{}, nil
	}
	cfg.SetDefaults()

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(DefaultServiceName)

	m := &PrometheusMetrics{provider: provider, registry: registry}

	histograms := []struct {
		target *metric.Float64Histogram
		name   string
		desc   string
	}{
		{&m.runDuration, "crew_run_duration", "Crew run duration"},
		{&m.taskDuration, "crew_task_duration", "Task execution duration"},
		{&m.llmDuration, "llm_request_duration", "LLM request duration"},
		{&m.httpDuration, "http_request_duration", "HTTP request duration"},
	}
	for _, h := range histograms {
		if *h.target, err = meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s")); err != nil {
			return nil, fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
	}

	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.runsTotal, "crew_runs", "Total crew runs"},
		{&m.runErrors, "crew_run_errors", "Total failed crew runs"},
		{&m.runTokens, "crew_tokens", "Total tokens used by crew runs"},
		{&m.taskErrors, "crew_task_errors", "Total failed tasks"},
		{&m.llmInputTokens, "llm_tokens_input", "Total input tokens sent to the LLM"},
		{&m.llmOutputTokens, "llm_tokens_output", "Total output tokens from the LLM"},
		{&m.llmErrors, "llm_errors", "Total LLM errors"},
		{&m.toolCalls, "tool_calls", "Total tool calls"},
		{&m.toolErrors, "tool_errors", "Total tool errors"},
	}
	for _, c := range counters {
		if *c.target, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	return m, nil
}

func (m *PrometheusMetrics) RecordRun(ctx context.Context, duration time.Duration, tokens int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	m.runDuration.Record(ctx, duration.Seconds(), attrs)
	m.runsTotal.Add(ctx, 1, attrs)
	if tokens > 0 {
		m.runTokens.Add(ctx, int64(tokens))
	}
	if err != nil {
		m.runErrors.Add(ctx, 1)
	}
}

func (m *PrometheusMetrics) RecordTask(ctx context.Context, role string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("agent", role))
	m.taskDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.taskErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordToolCall(ctx context.Context, tool string, _ time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolCalls.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	))
}

// Handler serves the registry in the Prometheus text format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown stops the meter provider.
func (m *PrometheusMetrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

func (NoopMetrics) RecordRun(context.Context, time.Duration, int, error) {}
func (NoopMetrics) RecordTask(context.Context, string, time.Duration, error) {}
func (NoopMetrics) RecordLLMCall(context.Context, string, time.Duration, int, int, error) {}
func (NoopMetrics) RecordToolCall(context.Context, string, time.Duration, error) {}
func (NoopMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration) {}

var (
	_ Metrics = (*PrometheusMetrics)(nil)
	_ Metrics = NoopMetrics{}
)
