package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"conductor/internal/infra/config"
)

const scopeName = "conductor/engine"

// Span attribute keys for decision spans. One span per Decide call;
// the event attributes are set at start, the instruction kind when the
// decision is known.
const (
	attrEventKind       = "decision.event_kind"
	attrSessionID       = "decision.session_id"
	attrInstructionKind = "decision.instruction_kind"
)

// Setup installs the global tracer provider and returns its shutdown
// function. Disabled or noop configurations install a noop provider,
// so decision spans cost nothing when tracing is off.
func Setup(ctx context.Context, cfg config.TracerConfig) (func(context.Context) error, error) {
	done := func(context.Context) error { return nil }

	if !cfg.Enabled || cfg.Exporter == "noop" || cfg.Exporter == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return done, nil
	}
	if cfg.Exporter != "stdout" {
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "conductor"),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartDecision opens the span covering one Decide call.
func StartDecision(ctx context.Context, eventKind, sessionID string) (context.Context, trace.Span) {
	return otel.Tracer(scopeName).Start(ctx, "engine.decide", trace.WithAttributes(
		attribute.String(attrEventKind, eventKind),
		attribute.String(attrSessionID, sessionID),
	))
}

// DecisionOutcome records the kind of instruction the engine emitted.
func DecisionOutcome(span trace.Span, instructionKind string) {
	span.SetAttributes(attribute.String(attrInstructionKind, instructionKind))
}
