// Package features implements spec.md §4.7: named, configured computations
// over request context dimensions, resolved lazily and cached across an L1
// in-process tier and an optional L2 (badger) tier. Grounded on the
// teacher's cache-and-stats idiom (internal/observability/metrics.go's
// LazyEvaluationFieldsLoaded/LazyEvaluationCacheHits pair), generalized from
// span-field lazy loading into feature-value memoization.
package features

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/ir"
	"github.com/ruleflow/engine/internal/observability"
	"github.com/ruleflow/engine/internal/reqcontext"
	"github.com/ruleflow/engine/internal/rferrors"
	"github.com/ruleflow/engine/internal/vm"
	"github.com/ruleflow/engine/pkg/value"
)

// Method is the aggregation semantic a Definition computes, per spec.md
// §4.7's enumerated method list.
type Method string

const (
	MethodCount               Method = "count"
	MethodCountDistinct       Method = "count_distinct"
	MethodSum                 Method = "sum"
	MethodAvg                 Method = "avg"
	MethodMax                 Method = "max"
	MethodMin                 Method = "min"
	MethodVelocity            Method = "velocity"
	MethodFirstSeen           Method = "first_seen"
	MethodLastSeen            Method = "last_seen"
	MethodTimeSince           Method = "time_since"
	MethodCrossDimensionCount Method = "cross_dimension_count"
	MethodExpression          Method = "expression"
)

// CacheBackend selects where a Definition's computed value is memoized
// beyond the always-on L1 tier.
type CacheBackend string

const (
	CacheLocal    CacheBackend = "local"
	CacheExternal CacheBackend = "external"
)

// Filter is one WHERE-clause term an OLAP/SQL datasource appends. Value is a
// literal or a "{ns.path}" template resolved against the request context at
// query time, the same template syntax DimensionTemplate uses.
type Filter struct {
	Field string
	Op    string // one of =, !=, <, <=, >, >=
	Value string
}

// Definition is a feature's registered configuration: method, datasource,
// entity, dimension and (for expression features) the arithmetic formula.
// Definitions are loaded once at engine build time, not per request.
type Definition struct {
	Name       string
	Method     Method
	Datasource string // key into the Engine's datasource registry
	Entity     string

	// DimensionTemplate resolves (e.g. "{event.user_id}") to the value the
	// dimension column is filtered on; DimensionField names that column.
	DimensionTemplate string
	DimensionField    string

	// AggregationField is the numeric column for sum/avg/max/min.
	AggregationField string
	// CrossDimensionField is the column counted distinctly for
	// cross_dimension_count (e.g. distinct merchant_id per card).
	CrossDimensionField string
	// TimeField is the timestamp column windows and first/last_seen key
	// off; defaults to "created_at".
	TimeField string

	Filters []Filter
	Window  string // "N {minutes|hours|days|weeks|months}"

	Expr string // MethodExpression only

	CacheTTL     time.Duration
	CacheBackend CacheBackend
}

func (d Definition) timeField() string {
	if d.TimeField != "" {
		return d.TimeField
	}
	return "created_at"
}

// Datasource answers a single Definition against a resolved dimension
// value. KV and SQL backends both implement this; KV backends ignore most
// Definition fields and answer a plain GetFeature, SQL backends synthesize
// an aggregation query from Method/Entity/Filters/Window.
type Datasource interface {
	Fetch(ctx context.Context, rc *reqcontext.Context, def Definition, window, dimensionValue string) (value.Value, error)
}

// Stats is the optional diagnostic accessor from spec.md §4.7: hits/misses
// per cache tier plus a total compute count.
type Stats struct {
	L1Hits   int64
	L1Misses int64
	L2Hits   int64
	L2Misses int64
	Computed int64
}

type l1Entry struct {
	value     value.Value
	expiresAt time.Time
}

// L2Cache is the optional second cache tier; internal/features/l2badger.go
// provides a github.com/dgraph-io/badger/v4-backed implementation.
type L2Cache interface {
	Get(key string) (value.Value, bool)
	Set(key string, v value.Value, ttl time.Duration) error
}

// Engine is the feature resolver vm.FeatureCaller and reqcontext.FeatureResolver
// both delegate to. Safe for concurrent use: the definition/datasource maps
// are immutable after New, and the L1 cache is guarded by its own lock.
type Engine struct {
	defs        map[string]Definition
	datasources map[string]Datasource
	l2          L2Cache
	defaultTTL  time.Duration

	mu  sync.RWMutex
	l1  map[string]l1Entry

	hits, misses, l2hits, l2misses, computed atomic.Int64
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithL2 installs a second cache tier consulted on an L1 miss, per the
// execution contract's step 3.
func WithL2(c L2Cache) Option { return func(e *Engine) { e.l2 = c } }

// WithDefaultTTL sets the L1/L2 lifetime used when a Definition omits
// CacheTTL.
func WithDefaultTTL(d time.Duration) Option {
	return func(e *Engine) { e.defaultTTL = d }
}

// New builds an Engine from its registered feature definitions and the
// datasources they reference by name.
func New(defs []Definition, datasources map[string]Datasource, opts ...Option) *Engine {
	e := &Engine{
		defs:        make(map[string]Definition, len(defs)),
		datasources: datasources,
		defaultTTL:  5 * time.Minute,
		l1:          make(map[string]l1Entry),
	}
	for _, d := range defs {
		e.defs[d.Name] = d
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Call implements vm.FeatureCaller: resolves the instruction's named
// feature, optionally overriding its configured window, then drills into
// FieldPath if the step asked for a sub-field of the computed value.
func (e *Engine) Call(ctx context.Context, spec ir.FeatureCallSpec, rc *reqcontext.Context) (value.Value, error) {
	v, err := e.resolve(ctx, rc, spec.Name, spec.Window, spec.Filter)
	if err != nil {
		return value.Null, err
	}
	if len(spec.FieldPath) > 0 {
		return value.Get(v, spec.FieldPath), nil
	}
	return v, nil
}

// Resolve implements reqcontext.FeatureResolver for the lazy "features.<name>"
// proxy: plain field access never overrides window or adds an ad hoc filter.
func (e *Engine) Resolve(ctx context.Context, rc *reqcontext.Context, name string) (value.Value, error) {
	return e.resolve(ctx, rc, name, "", nil)
}

// Stats returns a snapshot of cache-tier hit/miss counts and the total
// number of features actually computed (as opposed to served from cache).
func (e *Engine) Stats() Stats {
	return Stats{
		L1Hits:   e.hits.Load(),
		L1Misses: e.misses.Load(),
		L2Hits:   e.l2hits.Load(),
		L2Misses: e.l2misses.Load(),
		Computed: e.computed.Load(),
	}
}

func (e *Engine) resolve(ctx context.Context, rc *reqcontext.Context, name, windowOverride string, filterOverride ast.Expression) (value.Value, error) {
	def, ok := e.defs[name]
	if !ok {
		return value.Null, rferrors.UnknownReference("feature", name)
	}

	// An ad hoc CallFeature filter gates the computation itself rather than
	// reshaping the SQL WHERE clause: a false gate short-circuits to Null
	// without ever touching a cache tier or a datasource.
	if filterOverride != nil {
		gate, err := vm.EvalExpression(filterOverride, rc)
		if err != nil {
			return value.Null, err
		}
		if !gate.Truthy() {
			return value.Null, nil
		}
	}

	window := def.Window
	if windowOverride != "" {
		window = windowOverride
	}

	key := e.cacheKey(name, window, rc)

	if v, ok := e.l1Get(key); ok {
		e.hits.Add(1)
		observability.FeatureCacheHits.WithLabelValues(name, "l1").Inc()
		observability.RecordFeatureCacheHit(ctx, name, "l1")
		return v, nil
	}
	e.misses.Add(1)
	observability.FeatureCacheMisses.WithLabelValues(name, "l1").Inc()
	observability.RecordFeatureCacheMiss(ctx, name, "l1")

	if e.l2 != nil {
		if v, ok := e.l2.Get(key); ok {
			e.l2hits.Add(1)
			observability.FeatureCacheHits.WithLabelValues(name, "l2").Inc()
			observability.RecordFeatureCacheHit(ctx, name, "l2")
			e.l1Set(key, v, e.ttlFor(def))
			return v, nil
		}
		e.l2misses.Add(1)
		observability.FeatureCacheMisses.WithLabelValues(name, "l2").Inc()
		observability.RecordFeatureCacheMiss(ctx, name, "l2")
	}

	computeStarted := time.Now()
	v, err := e.compute(ctx, rc, def, window)
	if err != nil {
		return value.Null, err
	}
	observability.FeatureComputeDuration.WithLabelValues(name, string(def.Method)).Observe(time.Since(computeStarted).Seconds())
	observability.RecordFeatureCompute(ctx, name, string(def.Method), time.Since(computeStarted).Seconds())
	e.computed.Add(1)

	ttl := e.ttlFor(def)
	e.l1Set(key, v, ttl)
	if e.l2 != nil && def.CacheBackend == CacheExternal {
		_ = e.l2.Set(key, v, ttl)
	}
	return v, nil
}

func (e *Engine) ttlFor(def Definition) time.Duration {
	if def.CacheTTL > 0 {
		return def.CacheTTL
	}
	return e.defaultTTL
}

// cacheKey builds the feature name plus the salient context dimensions
// (user_id, device_id, ip_address, merchant_id when present), per spec.md
// §4.7 step 1. Dimensions absent from the event/user namespaces are simply
// omitted rather than padded. Every present dimension enters the key whether
// or not the feature reads it, so two requests differing only in, say,
// device_id get separate entries even for a feature keyed on user_id.
func (e *Engine) cacheKey(name, window string, rc *reqcontext.Context) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('|')
	b.WriteString(window)
	for _, dim := range []string{"user_id", "device_id", "ip_address", "merchant_id"} {
		if v := firstNonNull(rc.Lookup([]string{"event", dim}), rc.Lookup([]string{"user", dim})); !v.IsNull() {
			b.WriteByte('|')
			b.WriteString(dim)
			b.WriteByte('=')
			b.WriteString(value.ToDisplayString(v))
		}
	}
	return b.String()
}

func firstNonNull(vs ...value.Value) value.Value {
	for _, v := range vs {
		if !v.IsNull() {
			return v
		}
	}
	return value.Null
}

func (e *Engine) l1Get(key string) (value.Value, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.l1[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return value.Null, false
	}
	return entry.value, true
}

func (e *Engine) l1Set(key string, v value.Value, ttl time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.l1[key] = l1Entry{value: v, expiresAt: time.Now().Add(ttl)}
}

func (e *Engine) compute(ctx context.Context, rc *reqcontext.Context, def Definition, window string) (value.Value, error) {
	if def.Method == MethodExpression {
		return e.computeExpression(ctx, rc, def)
	}

	ds, ok := e.datasources[def.Datasource]
	if !ok {
		return value.Null, rferrors.UnknownReference("datasource", def.Datasource)
	}

	dimValue := resolveTemplate(def.DimensionTemplate, rc)
	v, err := ds.Fetch(ctx, rc, def, window, dimValue)
	if err != nil {
		return value.Null, err
	}
	return v, nil
}

// resolveTemplate resolves a single "{ns.path}" placeholder against rc; a
// template with no braces is treated as a literal. Only one placeholder per
// template is supported, matching the dimension/filter-value shapes §4.7
// describes.
func resolveTemplate(tpl string, rc *reqcontext.Context) string {
	if !strings.HasPrefix(tpl, "{") || !strings.HasSuffix(tpl, "}") {
		return tpl
	}
	path := strings.Split(tpl[1:len(tpl)-1], ".")
	return value.ToDisplayString(rc.Lookup(path))
}

// ParseWindow parses the "N {minutes|hours|days|weeks|months}" window
// syntax into a time.Duration. Months are approximated as 30 days, since
// the VM/feature engine has no calendar-aware duration type.
func ParseWindow(window string) (time.Duration, error) {
	window = strings.TrimSpace(window)
	if window == "" {
		return 0, nil
	}
	fields := strings.Fields(window)
	if len(fields) != 2 {
		return 0, rferrors.InvalidValue("window", window)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, rferrors.InvalidValue("window", window)
	}
	unit := strings.TrimSuffix(strings.ToLower(fields[1]), "s")
	var per time.Duration
	switch unit {
	case "minute":
		per = time.Minute
	case "hour":
		per = time.Hour
	case "day":
		per = 24 * time.Hour
	case "week":
		per = 7 * 24 * time.Hour
	case "month":
		per = 30 * 24 * time.Hour
	default:
		return 0, rferrors.InvalidValue("window", window)
	}
	return time.Duration(n) * per, nil
}

// sortedNames returns def names in a stable order, used by topological
// sort tie-breaking so repeated compiles of the same expression feature set
// produce the same dependency order.
func sortedNames(names map[string]bool) []string {
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
