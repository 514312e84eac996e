package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the OpenTelemetry tracer for the ruleflow-engine decision
// pipeline, grounded on the teacher's package-level Tracer pattern
// (internal/observability/tracing.go).
var Tracer = otel.Tracer("ruleflow.engine")

// StartDecideSpan starts the span covering one Engine.Decide call
// (spec.md §4.12 step order: route -> execute -> normalize -> trace ->
// persist). Call RecordDecideResult to close it out.
func StartDecideSpan(ctx context.Context, requestID string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "engine.decide",
		trace.WithAttributes(
			attribute.String("ruleflow.request_id", requestID),
		),
	)
}

// RecordDecideResult annotates a decide span with its outcome and updates
// the matching Prometheus/OTel metrics in one place so every call site
// stays consistent.
func RecordDecideResult(ctx context.Context, span trace.Span, pipelineID string, matched bool, signal string, scoreRaw, scoreCanonical int, duration time.Duration) {
	status := "ok"
	if !matched {
		status = "no_pipeline"
	}

	span.SetAttributes(
		attribute.String("ruleflow.pipeline_id", pipelineID),
		attribute.Bool("ruleflow.matched", matched),
		attribute.String("ruleflow.signal", signal),
		attribute.Int("ruleflow.score_raw", scoreRaw),
		attribute.Int("ruleflow.score_canonical", scoreCanonical),
	)
	span.SetStatus(codes.Ok, "")

	DecideDuration.WithLabelValues(pipelineID, signal).Observe(duration.Seconds())
	DecideTotal.WithLabelValues(pipelineID, signal, status).Inc()
	ScoreCanonical.Observe(float64(scoreCanonical))
	RecordDecide(ctx, pipelineID, signal, status, duration.Seconds())
}

// RecordDecideError annotates a decide span with a terminal runtime error
// (spec.md §7: runtime errors terminate that request and are reported
// verbatim, they never contaminate other in-flight requests).
func RecordDecideError(ctx context.Context, span trace.Span, pipelineID string, err error, duration time.Duration) {
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	DecideTotal.WithLabelValues(pipelineID, "", "error").Inc()
	RecordDecide(ctx, pipelineID, "", "error", duration.Seconds())
}

// StartCompileSpan traces compiling a single DSL artifact to IR.
func StartCompileSpan(ctx context.Context, sourceType, sourceID string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "compiler.compile",
		trace.WithAttributes(
			attribute.String("ruleflow.source_type", sourceType),
			attribute.String("ruleflow.source_id", sourceID),
		),
	)
}

// RecordCompileResult closes out a compile span and updates metrics.
func RecordCompileResult(ctx context.Context, span trace.Span, sourceType string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	CompileDuration.WithLabelValues(sourceType).Observe(duration.Seconds())
	CompileTotal.WithLabelValues(sourceType, status).Inc()
	RecordCompile(ctx, sourceType, status, duration.Seconds())
}

// StartReloadSpan traces a full catalog reload (spec.md §4.12 reload()).
func StartReloadSpan(ctx context.Context) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "engine.reload")
}

// RecordReloadResult closes out a reload span and updates metrics.
func RecordReloadResult(ctx context.Context, span trace.Span, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	ReloadDuration.Observe(duration.Seconds())
	ReloadTotal.WithLabelValues(status).Inc()
	RecordReload(ctx, status, duration.Seconds())
}
