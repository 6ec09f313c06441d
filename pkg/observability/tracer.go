// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps the OpenTelemetry tracer with crew-specific helpers.
// A nil *Tracer is valid and produces no-op spans.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	exporter sdktrace.SpanExporter
	sync     bool
}

// TracerOption configures the Tracer.
type TracerOption func(*Tracer)

// WithSpanExporter replaces the configured exporter. Spans are exported
// synchronously, which suits tests and the stdout exporter.
func WithSpanExporter(exporter sdktrace.SpanExporter) TracerOption {
	return func(t *Tracer) {
		t.exporter = exporter
		t.sync = true
	}
}

// NewTracer creates a Tracer from configuration. It returns nil when
// tracing is disabled.
func NewTracer(ctx context.Context, cfg TracingConfig, opts ...TracerOption) (*Tracer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()

	t := &Tracer{}
	for _, opt := range opts {
		opt(t)
	}

	if t.exporter == nil {
		exporter, err := createExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create exporter: %w", err)
		}
		t.exporter = exporter
		t.sync = cfg.Exporter == "stdout"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	if t.sync {
		providerOpts = append(providerOpts, sdktrace.WithSyncer(t.exporter))
	} else {
		providerOpts = append(providerOpts, sdktrace.WithBatcher(t.exporter))
	}

	t.provider = sdktrace.NewTracerProvider(providerOpts...)
	t.tracer = t.provider.Tracer(cfg.ServiceName)

	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

func createExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithTimeout(cfg.Timeout),
		}
		if cfg.IsInsecure() {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(ctx, opts...)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}
}

// Start begins a new span with the given name.
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return t.tracer.Start(ctx, spanName, opts...)
}

// StartKickoff begins the root span of a crew run.
func (t *Tracer) StartKickoff(ctx context.Context, tasks int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanCrewKickoff,
		trace.WithAttributes(attribute.Int(AttrCrewTasks, tasks)),
	)
}

// StartTask begins a span for one task of the sequential process.
func (t *Tracer) StartTask(ctx context.Context, index int, role string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanTaskExecution,
		trace.WithAttributes(
			attribute.Int(AttrTaskIndex, index),
			attribute.String(AttrAgentRole, role),
		),
	)
}

// StartLLMCall begins a span for an LLM API call.
func (t *Tracer) StartLLMCall(ctx context.Context, model string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanLLMCall,
		trace.WithAttributes(attribute.String(AttrLLMModel, model)),
	)
}

// StartToolExecution begins a span for a tool call.
func (t *Tracer) StartToolExecution(ctx context.Context, tool string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanToolExecution,
		trace.WithAttributes(attribute.String(AttrToolName, tool)),
	)
}

// AddLLMUsage records token usage on an LLM span.
func AddLLMUsage(span trace.Span, inputTokens, outputTokens int, finishReason string) {
	span.SetAttributes(
		attribute.Int(AttrLLMTokensIn, inputTokens),
		attribute.Int(AttrLLMTokensOut, outputTokens),
	)
	if finishReason != "" {
		span.SetAttributes(attribute.String(AttrLLMFinish, finishReason))
	}
}

// RecordError marks span as failed when err is non-nil.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(AttrErrorType, fmt.Sprintf("%T", err)))
}

// Shutdown flushes and stops the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
