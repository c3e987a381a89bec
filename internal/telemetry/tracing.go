// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package telemetry wires OpenTelemetry tracing for the scheduler.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used by the engine.
const TracerName = "loom/engine"

// TracerProvider manages the OpenTelemetry tracer provider
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// Config holds OpenTelemetry configuration
type Config struct {
	ServiceName    string
	ServiceVersion string
	// CollectorURL is an OTLP HTTP endpoint without scheme, e.g. "localhost:4318"
	CollectorURL string
	Environment  string
	SamplingRate float64
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "loom",
		ServiceVersion: "0.1.0",
		CollectorURL:   "localhost:4318",
		Environment:    "development",
		SamplingRate:   1.0,
	}
}

// NewTracerProvider creates a tracer provider exporting over OTLP HTTP and
// installs it as the global provider.
func NewTracerProvider(ctx context.Context, config *Config) (*TracerProvider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attribute.String("environment", config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(config.CollectorURL),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SamplingRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: tp,
	}, nil
}

// Shutdown flushes remaining spans and stops the provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return tp.provider.Shutdown(shutdownCtx)
}

// StartSpan starts a span on the engine tracer.
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// AddEvent adds an event to the current span
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Attribute keys shared by engine spans.
const (
	AttrRunID       = attribute.Key("loom.run.id")
	AttrRunName     = attribute.Key("loom.run.name")
	AttrTaskID      = attribute.Key("loom.task.id")
	AttrAttemptID   = attribute.Key("loom.attempt.id")
	AttrFingerprint = attribute.Key("loom.attempt.fingerprint")
	AttrChannel     = attribute.Key("loom.channel")
	AttrDataPath    = attribute.Key("loom.data.path")
	AttrFailureKind = attribute.Key("loom.failure.kind")
	AttrStatus      = attribute.Key("loom.status")
	AttrCount       = attribute.Key("loom.count")
)

// RunAttrs creates attributes for a run
func RunAttrs(runID, name string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrRunID.String(runID)}
	if name != "" {
		attrs = append(attrs, AttrRunName.String(name))
	}
	return attrs
}

// AttemptAttrs creates attributes for a task attempt
func AttemptAttrs(attemptID, fingerprint string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAttemptID.String(attemptID),
		AttrFingerprint.String(fingerprint),
	}
}
