package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OpenTelemetry metrics for the RuleFlow decision engine.
// Platform-agnostic: works with Prometheus, SigNoz, Kibana, Grafana, etc.

var (
	meter = otel.Meter("ruleflow.engine")

	// Metrics are initialized once, from init below or the first InitMetrics
	metricsOnce sync.Once

	decideDuration   metric.Float64Histogram
	decideTotal      metric.Int64Counter
	ruleTriggerTotal metric.Int64Counter
	routerMatchTotal metric.Int64Counter
	routerNoMatch    metric.Int64Counter

	compileDuration metric.Float64Histogram
	compileTotal    metric.Int64Counter
	reloadDuration  metric.Float64Histogram
	reloadTotal     metric.Int64Counter
	artifactsActive metric.Int64UpDownCounter

	featureCacheHits      metric.Int64Counter
	featureCacheMisses    metric.Int64Counter
	featureComputeLatency metric.Float64Histogram

	listLookupTotal metric.Int64Counter
)

// init creates the instruments at package load so the Record* helpers never
// run against nil instruments, whether or not the process calls InitMetrics.
func init() { _ = InitMetrics() }

// InitMetrics initializes all OpenTelemetry metrics. It already runs from
// init; later calls are no-ops.
func InitMetrics() error {
	var err error
	metricsOnce.Do(func() {
		decideDuration, err = meter.Float64Histogram(
			"ruleflow.decide_duration",
			metric.WithDescription("Time taken by a single Engine.Decide call"),
			metric.WithUnit("s"),
		)
		if err != nil {
			return
		}

		decideTotal, err = meter.Int64Counter(
			"ruleflow.decide_total",
			metric.WithDescription("Total number of decide() calls"),
		)
		if err != nil {
			return
		}

		ruleTriggerTotal, err = meter.Int64Counter(
			"ruleflow.rule_triggered_total",
			metric.WithDescription("Total number of rule guard matches"),
		)
		if err != nil {
			return
		}

		routerMatchTotal, err = meter.Int64Counter(
			"ruleflow.router_match_total",
			metric.WithDescription("Total number of registry entries matched"),
		)
		if err != nil {
			return
		}

		routerNoMatch, err = meter.Int64Counter(
			"ruleflow.router_no_match_total",
			metric.WithDescription("Total number of events with no matching registry entry"),
		)
		if err != nil {
			return
		}

		compileDuration, err = meter.Float64Histogram(
			"ruleflow.compile_duration",
			metric.WithDescription("Time taken to compile a single DSL artifact to IR"),
			metric.WithUnit("s"),
		)
		if err != nil {
			return
		}

		compileTotal, err = meter.Int64Counter(
			"ruleflow.compile_total",
			metric.WithDescription("Total number of compile attempts"),
		)
		if err != nil {
			return
		}

		reloadDuration, err = meter.Float64Histogram(
			"ruleflow.reload_duration",
			metric.WithDescription("Time taken by a full catalog reload"),
			metric.WithUnit("s"),
		)
		if err != nil {
			return
		}

		reloadTotal, err = meter.Int64Counter(
			"ruleflow.reload_total",
			metric.WithDescription("Total number of reload attempts"),
		)
		if err != nil {
			return
		}

		artifactsActive, err = meter.Int64UpDownCounter(
			"ruleflow.artifacts_active",
			metric.WithDescription("Number of compiled artifacts currently live in the catalog"),
		)
		if err != nil {
			return
		}

		featureCacheHits, err = meter.Int64Counter(
			"ruleflow.feature_cache_hits_total",
			metric.WithDescription("Feature cache hits by tier"),
		)
		if err != nil {
			return
		}

		featureCacheMisses, err = meter.Int64Counter(
			"ruleflow.feature_cache_misses_total",
			metric.WithDescription("Feature cache misses by tier"),
		)
		if err != nil {
			return
		}

		featureComputeLatency, err = meter.Float64Histogram(
			"ruleflow.feature_compute_duration",
			metric.WithDescription("Time taken to resolve a feature on a cache miss"),
			metric.WithUnit("s"),
		)
		if err != nil {
			return
		}

		listLookupTotal, err = meter.Int64Counter(
			"ruleflow.list_lookup_total",
			metric.WithDescription("Total number of list membership lookups"),
		)
	})
	return err
}

// RecordDecide records one Engine.Decide call's duration and outcome.
func RecordDecide(ctx context.Context, pipelineID, signal, status string, durationSeconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("pipeline_id", pipelineID),
		attribute.String("signal", signal),
		attribute.String("status", status), // ok|error|no_pipeline
	)
	decideDuration.Record(ctx, durationSeconds, attrs)
	decideTotal.Add(ctx, 1, attrs)
}

// RecordRuleTriggered increments the rule-trigger counter for ruleID.
func RecordRuleTriggered(ctx context.Context, ruleID string) {
	ruleTriggerTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("rule_id", ruleID)))
}

// RecordRouterMatch records which pipeline the router selected, or
// increments the no-match counter when pipelineID is empty.
func RecordRouterMatch(ctx context.Context, pipelineID string) {
	if pipelineID == "" {
		routerNoMatch.Add(ctx, 1)
		return
	}
	routerMatchTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("pipeline_id", pipelineID)))
}

// RecordCompile records one artifact compilation attempt.
func RecordCompile(ctx context.Context, sourceType, status string, durationSeconds float64) {
	compileDuration.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("source_type", sourceType),
	))
	compileTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source_type", sourceType),
		attribute.String("status", status),
	))
}

// RecordReload records a full catalog reload attempt.
func RecordReload(ctx context.Context, status string, durationSeconds float64) {
	reloadDuration.Record(ctx, durationSeconds)
	reloadTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// UpdateArtifactsActive adjusts the live-artifact gauge for kind (rule,
// ruleset, pipeline) by delta.
func UpdateArtifactsActive(ctx context.Context, kind string, delta int64) {
	artifactsActive.Add(ctx, delta, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordFeatureCacheHit and RecordFeatureCacheMiss record an L1/L2 feature
// cache outcome.
func RecordFeatureCacheHit(ctx context.Context, feature, tier string) {
	featureCacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("feature", feature),
		attribute.String("tier", tier),
	))
}

func RecordFeatureCacheMiss(ctx context.Context, feature, tier string) {
	featureCacheMisses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("feature", feature),
		attribute.String("tier", tier),
	))
}

// RecordFeatureCompute records the latency of a datasource dispatch on a
// cache miss.
func RecordFeatureCompute(ctx context.Context, feature, method string, durationSeconds float64) {
	featureComputeLatency.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("feature", feature),
		attribute.String("method", method),
	))
}

// RecordListLookup records one list membership check's outcome.
func RecordListLookup(ctx context.Context, listID, outcome string) {
	listLookupTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("list_id", listID),
		attribute.String("outcome", outcome), // hit|miss|unconfigured
	))
}
