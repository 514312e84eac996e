package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the RuleFlow decision engine, grounded on the
// teacher's promauto registration idiom (internal/observability/metrics.go),
// re-themed from span/compliance counters to the engine façade's
// load -> compile -> decide -> route -> score pipeline (spec.md §2 row 16,
// "Observability primitives").

var (
	// Decide() performance metrics
	DecideDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ruleflow_decide_duration_seconds",
			Help:    "Time taken by a single Engine.Decide call",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 18), // 100us to ~13s
		},
		[]string{"pipeline_id", "signal"},
	)

	DecideTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleflow_decide_total",
			Help: "Total number of decide() calls",
		},
		[]string{"pipeline_id", "signal", "status"}, // status: ok|error|no_pipeline
	)

	RuleTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleflow_rule_triggered_total",
			Help: "Total number of times a rule's guard evaluated true and fired",
		},
		[]string{"rule_id"},
	)

	ScoreCanonical = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ruleflow_score_canonical",
			Help:    "Distribution of normalized canonical scores (0..1000)",
			Buckets: prometheus.LinearBuckets(0, 100, 11),
		},
	)

	// Router metrics (spec.md §4.10)
	RouterMatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleflow_router_match_total",
			Help: "Total number of registry entries matched by the router",
		},
		[]string{"pipeline_id"},
	)

	RouterNoMatchTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ruleflow_router_no_match_total",
			Help: "Total number of events for which no registry entry matched",
		},
	)

	// Compiler / catalog build metrics (spec.md §4.5, §4.12)
	CompileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ruleflow_compile_duration_seconds",
			Help:    "Time taken to compile a single DSL artifact to IR",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 20),
		},
		[]string{"source_type"}, // rule|ruleset|pipeline
	)

	CompileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleflow_compile_total",
			Help: "Total number of compile attempts",
		},
		[]string{"source_type", "status"}, // status: success|error
	)

	ReloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ruleflow_reload_duration_seconds",
			Help:    "Time taken by a full catalog reload (load+resolve+compile+swap)",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
	)

	ReloadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleflow_reload_total",
			Help: "Total number of reload attempts",
		},
		[]string{"status"}, // success|error
	)

	ArtifactsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ruleflow_artifacts_active",
			Help: "Number of compiled artifacts currently live in the catalog",
		},
		[]string{"kind"}, // rule|ruleset|pipeline
	)

	// Feature engine metrics (spec.md §4.7)
	FeatureCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleflow_feature_cache_hits_total",
			Help: "Feature cache hits by tier",
		},
		[]string{"feature", "tier"}, // tier: l1|l2
	)

	FeatureCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleflow_feature_cache_misses_total",
			Help: "Feature cache misses by tier",
		},
		[]string{"feature", "tier"},
	)

	FeatureComputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ruleflow_feature_compute_duration_seconds",
			Help:    "Time taken to resolve a feature against its datasource on a cache miss",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 18),
		},
		[]string{"feature", "method"},
	)

	// List service metrics (spec.md §4.8)
	ListLookupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleflow_list_lookup_total",
			Help: "Total number of list membership lookups",
		},
		[]string{"list_id", "outcome"}, // outcome: hit|miss|unconfigured
	)

	// VM resource metrics (spec.md §4.6 "Upper bounds")
	VMResourceExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleflow_vm_resource_exhausted_total",
			Help: "Total number of executions aborted by a VM resource bound",
		},
		[]string{"bound"}, // instructions|stack_depth|timeout
	)

	// Runtime/process metrics, unchanged in shape from the teacher.
	MemoryUsageBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ruleflow_memory_usage_bytes",
			Help: "Memory usage of ruleflow-engine components",
		},
		[]string{"component"}, // repository_cache|feature_l1|compiled_catalog
	)

	GoroutinesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ruleflow_goroutines_active",
			Help: "Number of active goroutines in ruleflow-engine",
		},
	)

	GCPauseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ruleflow_gc_pause_duration_seconds",
			Help:    "Duration of garbage collection pauses",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 20),
		},
	)
)
