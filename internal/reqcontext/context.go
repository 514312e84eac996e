// Package reqcontext builds the per-request namespace tree the VM's
// LoadField instructions read from: event, user, features, api,
// service, llm, vars, sys, env and list. Construction mirrors the reference
// runtime's context builder (corint-runtime/src/context/*), folded into one
// Go type instead of one module per namespace.
package reqcontext

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ruleflow/engine/pkg/value"
)

// FeatureResolver lazily resolves a feature reference against the current
// context. Implemented by internal/features.Engine; kept as an interface
// here to avoid a dependency cycle.
type FeatureResolver interface {
	Resolve(ctx context.Context, rc *Context, featureName string) (value.Value, error)
}

// ListResolver answers whole-list reads for the "list" namespace (used by
// field access outside the dedicated ListLookup instruction).
type ListResolver interface {
	GetAll(listID string) ([]value.Value, bool)
}

// Context holds the ten namespaces a decide() request evaluates against.
// All namespace lookups are Null-tolerant: Get never fails.
type Context struct {
	Event   value.Value
	User    value.Value
	API     value.Value
	Service value.Value
	LLM     value.Value
	Vars    value.Value
	Sys     value.Value
	Env     value.Value

	EventType string

	ctx      context.Context
	features FeatureResolver
	lists    ListResolver

	// featureCacheLocal memoizes feature resolutions within a single
	// request so repeated references to the same feature in one decide()
	// call compute at most once, independent of the engine's cross-request
	// L1/L2 caches.
	featureCacheLocal map[string]value.Value
}

// Option configures optional namespaces and collaborators at construction.
type Option func(*Context)

func WithUser(v value.Value) Option        { return func(c *Context) { c.User = v } }
func WithAPI(v value.Value) Option         { return func(c *Context) { c.API = v } }
func WithService(v value.Value) Option     { return func(c *Context) { c.Service = v } }
func WithLLM(v value.Value) Option         { return func(c *Context) { c.LLM = v } }
func WithVars(v value.Value) Option        { return func(c *Context) { c.Vars = v } }
func WithFeatures(r FeatureResolver) Option { return func(c *Context) { c.features = r } }
func WithLists(r ListResolver) Option       { return func(c *Context) { c.lists = r } }

// WithGoContext attaches the decide() call's cancellation/deadline context
// so the lazy "features" proxy can honor it without threading a second
// parameter through every Lookup call.
func WithGoContext(ctx context.Context) Option { return func(c *Context) { c.ctx = ctx } }

func WithEnvironment(name string) Option {
	return func(c *Context) {
		obj, _ := c.Env.AsObject()
		obj["environment"] = value.String(name)
		c.Env = value.Object(obj)
	}
}

// New constructs a request Context around an event payload, populating sys
// and env automatically and defaulting every optional namespace to an empty
// object so lookups are total without nil checks.
func New(event value.Value, opts ...Option) *Context {
	eventType := ""
	if obj, ok := event.AsObject(); ok {
		if t, ok := obj["type"].AsString(); ok {
			eventType = t
		}
	}

	c := &Context{
		Event:             event,
		User:              value.Object(nil),
		API:               value.Object(nil),
		Service:           value.Object(nil),
		LLM:               value.Object(nil),
		Vars:              value.Object(nil),
		Sys:               buildSysVars(),
		Env:               buildEnvVars(),
		EventType:         eventType,
		ctx:               context.Background(),
		featureCacheLocal: map[string]value.Value{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup resolves a dotted path against the namespace named by path[0].
// Unknown namespaces, missing fields, and traversal through non-objects
// all yield Null (never an error) per the field-lookup totality invariant.
func (c *Context) Lookup(path []string) value.Value {
	if len(path) == 0 {
		return value.Null
	}
	rest := path[1:]
	switch path[0] {
	case "event":
		return value.Get(c.Event, rest)
	case "user":
		return value.Get(c.User, rest)
	case "api":
		return value.Get(c.API, rest)
	case "service":
		return value.Get(c.Service, rest)
	case "llm":
		return value.Get(c.LLM, rest)
	case "vars":
		return value.Get(c.Vars, rest)
	case "sys":
		return value.Get(c.Sys, rest)
	case "env":
		return value.Get(c.Env, rest)
	case "list":
		return c.lookupList(rest)
	case "features":
		return c.lookupFeature(rest)
	default:
		return value.Null
	}
}

func (c *Context) lookupList(rest []string) value.Value {
	if c.lists == nil || len(rest) == 0 {
		return value.Null
	}
	items, ok := c.lists.GetAll(rest[0])
	if !ok {
		return value.Null
	}
	return value.Get(value.Array(items), rest[1:])
}

// lookupFeature resolves "features.<name>" lazily: a name already
// materialized this request (by a prior CallFeature instruction or an
// Extract pipeline step) is served from the local cache; otherwise, if a
// FeatureResolver is configured, it is computed and memoized on demand.
// Resolver errors degrade to Null rather than propagating, since field
// access has no channel to report them other than the Null-tolerant
// lookup contract itself.
func (c *Context) lookupFeature(rest []string) value.Value {
	if len(rest) == 0 {
		return value.Null
	}
	name := rest[0]
	if v, ok := c.featureCacheLocal[name]; ok {
		return value.Get(v, rest[1:])
	}
	if c.features == nil {
		return value.Null
	}
	v, err := c.features.Resolve(c.ctx, c, name)
	if err != nil {
		return value.Null
	}
	c.featureCacheLocal[name] = v
	return value.Get(v, rest[1:])
}

// SetFeature memoizes a feature value for the remainder of this request
// (populated by Extract pipeline steps and by CallFeature instructions).
func (c *Context) SetFeature(name string, v value.Value) {
	c.featureCacheLocal[name] = v
}

// SetVar writes a variable into the "vars" namespace (populated by Reason
// and Service pipeline steps storing their output).
func (c *Context) SetVar(name string, v value.Value) {
	obj, _ := c.Vars.AsObject()
	next := make(map[string]value.Value, len(obj)+1)
	for k, vv := range obj {
		next[k] = vv
	}
	next[name] = v
	c.Vars = value.Object(next)
}

func buildSysVars() value.Value {
	now := time.Now().UTC()
	hour := now.Hour()

	var timeOfDay string
	switch {
	case hour < 6:
		timeOfDay = "night"
	case hour < 12:
		timeOfDay = "morning"
	case hour < 18:
		timeOfDay = "afternoon"
	case hour < 22:
		timeOfDay = "evening"
	default:
		timeOfDay = "night"
	}

	weekday := now.Weekday()
	isWeekend := weekday == time.Saturday || weekday == time.Sunday
	dayOfWeekNum := int(weekday)
	if dayOfWeekNum == 0 {
		dayOfWeekNum = 7 // ISO: Monday=1..Sunday=7
	}

	quarter := (int(now.Month())-1)/3 + 1

	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	return value.Object(map[string]value.Value{
		"request_id":        value.String(uuid.NewString()),
		"timestamp":         value.String(now.Format(time.RFC3339)),
		"timestamp_ms":      value.Number(float64(now.UnixMilli())),
		"timestamp_sec":     value.Number(float64(now.Unix())),
		"date":              value.String(now.Format("2006-01-02")),
		"year":              value.Number(float64(now.Year())),
		"month":             value.Number(float64(now.Month())),
		"day":               value.Number(float64(now.Day())),
		"month_name":        value.String(strings.ToLower(now.Month().String())),
		"quarter":           value.Number(float64(quarter)),
		"time":              value.String(now.Format("15:04:05")),
		"hour":              value.Number(float64(now.Hour())),
		"minute":            value.Number(float64(now.Minute())),
		"second":            value.Number(float64(now.Second())),
		"time_of_day":       value.String(timeOfDay),
		"is_business_hours": value.Bool(hour >= 9 && hour < 17),
		"day_of_week":       value.String(strings.ToLower(weekday.String())),
		"day_of_week_num":   value.Number(float64(dayOfWeekNum)),
		"is_weekend":        value.Bool(isWeekend),
		"is_weekday":        value.Bool(!isWeekend),
		"day_of_year":       value.Number(float64(now.YearDay())),
		"environment":       value.String(environment),
		"engine_version":    value.String(EngineVersion),
	})
}

// EngineVersion is surfaced as sys.engine_version, mirroring the reference
// runtime's CARGO_PKG_VERSION constant.
const EngineVersion = "0.1.0"

// buildEnvVars strips the RULEFLOW_ prefix off process environment
// variables (lowercased) and collects FEATURE_* flags under
// env.feature_flags, applying sensible defaults for both.
func buildEnvVars() value.Value {
	env := map[string]value.Value{}
	flags := map[string]value.Value{}

	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(k, "RULEFLOW_"):
			key := strings.ToLower(strings.TrimPrefix(k, "RULEFLOW_"))
			env[key] = parseEnvValue(v)
		case strings.HasPrefix(k, "FEATURE_"):
			flag := strings.ToLower(strings.TrimPrefix(k, "FEATURE_"))
			flags[flag] = value.Bool(parseBoolValue(v))
		}
	}

	if _, ok := env["max_score"]; !ok {
		env["max_score"] = value.Number(100)
	}
	if _, ok := env["default_action"]; !ok {
		env["default_action"] = value.String("approve")
	}
	if _, ok := flags["enable_llm"]; !ok {
		flags["enable_llm"] = value.Bool(false)
	}
	if _, ok := flags["enable_cache"]; !ok {
		flags["enable_cache"] = value.Bool(true)
	}

	env["feature_flags"] = value.Object(flags)
	return value.Object(env)
}

// parseEnvValue tries number, then bool, then JSON, then falls back to the
// raw string, in that order, per the context builder's env-var contract.
func parseEnvValue(raw string) value.Value {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return value.Number(n)
	}
	switch strings.ToLower(raw) {
	case "true", "yes", "on":
		return value.Bool(true)
	case "false", "no", "off":
		return value.Bool(false)
	}
	if looksLikeJSON(raw) {
		var v value.Value
		if err := v.UnmarshalJSON([]byte(raw)); err == nil {
			return v
		}
	}
	return value.String(raw)
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) > 0 && (s[0] == '{' || s[0] == '[' || s[0] == '"')
}

func parseBoolValue(raw string) bool {
	switch strings.ToLower(raw) {
	case "true", "yes", "1", "on":
		return true
	default:
		return false
	}
}
