// Package router implements spec.md §4.10: given a PipelineRegistry and an
// event, it evaluates each entry's when-block top-down against a context
// built from the event plus the automatic sys and env namespaces, returning the id of the
// first entry whose guard matches. No match is a defined "no pipeline"
// outcome, not an error.
//
// Grounded on the teacher's small-matcher pattern (the RuleEngine registry
// walk in internal/rules/engine.go, generalized from span matching to
// pipeline routing) and reuses internal/dsl/exprlang's compiled
// ast.Expression tree through internal/vm's own operator semantics so guard
// evaluation can never diverge from rule/ruleset guard evaluation.
package router

import (
	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/observability"
	"github.com/ruleflow/engine/internal/reqcontext"
	"github.com/ruleflow/engine/internal/vm"
	"github.com/ruleflow/engine/pkg/value"
)

// Router holds a compiled pipeline registry and answers routing queries.
type Router struct {
	registry *ast.PipelineRegistry
}

// New builds a Router over reg. With a nil registry Route matches no event
// (matched=false, no error), which is the defined "no registry configured"
// behavior.
func New(reg *ast.PipelineRegistry) *Router {
	return &Router{registry: reg}
}

// Route evaluates the registry's entries in declared order against event
// and returns the first matching pipeline id. The second return is false
// when no entry matched (or no registry is configured) — the spec's
// "no pipeline matched" outcome, which callers must treat as defined
// behavior and not an error.
func (r *Router) Route(event value.Value) (pipelineID string, matched bool, err error) {
	if r.registry == nil {
		return "", false, nil
	}
	rc := reqcontext.New(event)
	for _, entry := range r.registry.Entries {
		ok, err := evaluateWhen(entry.When, rc)
		if err != nil {
			return "", false, err
		}
		if ok {
			observability.RouterMatchTotal.WithLabelValues(entry.PipelineID).Inc()
			return entry.PipelineID, true, nil
		}
	}
	observability.RouterNoMatchTotal.Inc()
	return "", false, nil
}

// evaluateWhen reports whether a when-block matches, per spec.md §4.10: an
// absent when-block always matches; an event_type filter must equal the
// context's event type; a missing Conditions tree is vacuously true.
func evaluateWhen(wb *ast.WhenBlock, rc *reqcontext.Context) (bool, error) {
	if wb == nil {
		return true, nil
	}
	if wb.EventType != nil && rc.EventType != *wb.EventType {
		return false, nil
	}
	if wb.Conditions == nil {
		return true, nil
	}
	v, err := vm.EvalExpression(wb.Conditions, rc)
	if err != nil {
		return false, err
	}
	b, _ := v.AsBool()
	return b, nil
}
