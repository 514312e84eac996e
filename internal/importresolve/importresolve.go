// Package importresolve walks an RdlDocument's import block and a ruleset's
// extends chain, producing the transitive closure of rules/rulesets the
// compiler needs, per spec.md §4.4.
//
// Grounded on original_source's ImportResolver (corint-compiler's
// import_resolver, exercised by corint-compiler/tests/test_extends.rs) for
// semantics: dedup-first-wins, extends-chain cycle detection, and the
// specific rules/conclusion/metadata/name/description merge rules a child
// ruleset applies over its parent.
package importresolve

import (
	"context"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/rferrors"
)

// RuleLoader and RulesetLoader are the minimal repository surface the
// resolver needs — the same method set internal/repository.Repository
// exposes, kept as separate narrow interfaces so the resolver doesn't
// depend on the whole Repository contract.
type RuleLoader interface {
	LoadRule(ctx context.Context, idOrPath string) (*ast.RdlDocument[*ast.Rule], error)
}

type RulesetLoader interface {
	LoadRuleset(ctx context.Context, idOrPath string) (*ast.RdlDocument[*ast.Ruleset], error)
}

// Resolved is the transitive closure of imported artifacts: every rule and
// ruleset document reachable from the starting document's imports. It does
// not carry a merged extends result; ResolveExtends produces that.
type Resolved struct {
	Rules    []*ast.RdlDocument[*ast.Rule]
	Rulesets []*ast.RdlDocument[*ast.Ruleset]
}

// Resolver resolves imports and extends chains against a pair of loaders.
type Resolver struct {
	rules    RuleLoader
	rulesets RulesetLoader
}

// New builds a Resolver over the given loaders.
func New(rules RuleLoader, rulesets RulesetLoader) *Resolver {
	return &Resolver{rules: rules, rulesets: rulesets}
}

// ResolveImports walks imports.Rules and imports.Rulesets (and recursively,
// every ruleset's own imports and extends chain), deduplicating by id with
// first occurrence winning.
func (r *Resolver) ResolveImports(ctx context.Context, imports *ast.Imports) (*Resolved, error) {
	res := &Resolved{}
	seenRules := map[string]bool{}
	seenRulesets := map[string]bool{}
	if imports == nil {
		return res, nil
	}
	for _, ruleID := range imports.Rules {
		if err := r.collectRule(ctx, ruleID, res, seenRules); err != nil {
			return nil, err
		}
	}
	for _, rulesetID := range imports.Rulesets {
		if err := r.collectRuleset(ctx, rulesetID, res, seenRules, seenRulesets); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *Resolver) collectRule(ctx context.Context, id string, res *Resolved, seen map[string]bool) error {
	if seen[id] {
		return nil
	}
	doc, err := r.rules.LoadRule(ctx, id)
	if err != nil {
		return rferrors.ImportNotFound(id)
	}
	seen[id] = true
	res.Rules = append(res.Rules, doc)
	return nil
}

func (r *Resolver) collectRuleset(ctx context.Context, id string, res *Resolved, seenRules, seenRulesets map[string]bool) error {
	if seenRulesets[id] {
		return nil
	}
	doc, err := r.rulesets.LoadRuleset(ctx, id)
	if err != nil {
		return rferrors.ImportNotFound(id)
	}
	seenRulesets[id] = true
	res.Rulesets = append(res.Rulesets, doc)
	for _, ruleID := range doc.Definition.Rules {
		if err := r.collectRule(ctx, ruleID, res, seenRules); err != nil {
			return err
		}
	}
	if doc.Imports != nil {
		for _, ruleID := range doc.Imports.Rules {
			if err := r.collectRule(ctx, ruleID, res, seenRules); err != nil {
				return err
			}
		}
		for _, rulesetID := range doc.Imports.Rulesets {
			if err := r.collectRuleset(ctx, rulesetID, res, seenRules, seenRulesets); err != nil {
				return err
			}
		}
	}
	if doc.Definition.Extends != "" {
		return r.collectRuleset(ctx, doc.Definition.Extends, res, seenRules, seenRulesets)
	}
	return nil
}

// ResolveExtends builds the fully merged ruleset a child produces after
// walking its extends chain, applying spec.md §4.4's inheritance merge
// semantics at every step.
func (r *Resolver) ResolveExtends(ctx context.Context, doc *ast.RdlDocument[*ast.Ruleset]) (*ast.Ruleset, error) {
	chain, err := r.loadExtendsChain(ctx, doc.Definition, []string{doc.Definition.ID})
	if err != nil {
		return nil, err
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	// chain[0] is the child, chain[len-1] is the most distant ancestor.
	// Fold from the most distant ancestor down to the child so each merge
	// step treats the accumulated result as "parent" and the next one
	// (closer to the child) as "child".
	merged := chain[len(chain)-1]
	for i := len(chain) - 2; i >= 0; i-- {
		merged = mergeRuleset(merged, chain[i])
	}
	return merged, nil
}

// loadExtendsChain returns [doc.Definition, parent, grandparent, ...],
// detecting cycles via the ancestry-id visited set.
func (r *Resolver) loadExtendsChain(ctx context.Context, rs *ast.Ruleset, visited []string) ([]*ast.Ruleset, error) {
	if rs.Extends == "" {
		return []*ast.Ruleset{rs}, nil
	}
	for _, v := range visited {
		if v == rs.Extends {
			return nil, rferrors.CircularExtends(append(visited, rs.Extends))
		}
	}
	parentDoc, err := r.rulesets.LoadRuleset(ctx, rs.Extends)
	if err != nil {
		return nil, rferrors.ImportNotFound(rs.Extends)
	}
	rest, err := r.loadExtendsChain(ctx, parentDoc.Definition, append(visited, rs.Extends))
	if err != nil {
		return nil, err
	}
	return append([]*ast.Ruleset{rs}, rest...), nil
}

// mergeRuleset applies a child's overrides onto a (possibly already merged)
// parent, per spec.md §4.4:
//   - rules: union, parent order first, duplicates collapse keeping the first
//   - conclusion: child overrides entirely when non-empty, else inherited
//   - metadata: shallow merge, child keys win
//   - name/description: child overrides if present
func mergeRuleset(parent, child *ast.Ruleset) *ast.Ruleset {
	out := &ast.Ruleset{
		ID:         child.ID,
		Name:       parent.Name,
		Extends:    child.Extends,
		Conclusion: parent.Conclusion,
		Metadata:   mergeMetadata(parent.Metadata, child.Metadata),
	}
	if child.Name != "" {
		out.Name = child.Name
	}
	out.Description = parent.Description
	if child.Description != "" {
		out.Description = child.Description
	}
	out.Rules = unionRules(parent.Rules, child.Rules)
	if len(child.Conclusion) > 0 {
		out.Conclusion = child.Conclusion
	}
	return out
}

func unionRules(parentRules, childRules []string) []string {
	seen := make(map[string]bool, len(parentRules)+len(childRules))
	out := make([]string, 0, len(parentRules)+len(childRules))
	for _, id := range parentRules {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range childRules {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func mergeMetadata(parent, child map[string]string) map[string]string {
	if len(parent) == 0 && len(child) == 0 {
		return nil
	}
	out := make(map[string]string, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}
