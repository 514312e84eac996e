package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/dsl"
	"github.com/ruleflow/engine/internal/rferrors"
)

// MemoryRepository is a test-only backend with content injected
// programmatically, per spec.md §4.3's "Memory" backend.
type MemoryRepository struct {
	mu sync.RWMutex

	rules     map[string]*ast.RdlDocument[*ast.Rule]
	rulesets  map[string]*ast.RdlDocument[*ast.Ruleset]
	pipelines map[string]*ast.RdlDocument[*ast.Pipeline]
	registry  *ast.PipelineRegistry

	versions map[string]int
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rules:     make(map[string]*ast.RdlDocument[*ast.Rule]),
		rulesets:  make(map[string]*ast.RdlDocument[*ast.Ruleset]),
		pipelines: make(map[string]*ast.RdlDocument[*ast.Pipeline]),
		versions:  make(map[string]int),
	}
}

func (r *MemoryRepository) LoadRule(_ context.Context, idOrPath string) (*ast.RdlDocument[*ast.Rule], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.rules[idOrPath]
	if !ok {
		return nil, rferrors.NotFound(idOrPath)
	}
	return doc, nil
}

func (r *MemoryRepository) LoadRuleset(_ context.Context, idOrPath string) (*ast.RdlDocument[*ast.Ruleset], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.rulesets[idOrPath]
	if !ok {
		return nil, rferrors.NotFound(idOrPath)
	}
	return doc, nil
}

func (r *MemoryRepository) LoadPipeline(_ context.Context, idOrPath string) (*ast.RdlDocument[*ast.Pipeline], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.pipelines[idOrPath]
	if !ok {
		return nil, rferrors.NotFound(idOrPath)
	}
	return doc, nil
}

func (r *MemoryRepository) LoadRegistry(_ context.Context) (*ast.PipelineRegistry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.registry == nil {
		return nil, rferrors.NotFound("registry")
	}
	return r.registry, nil
}

func (r *MemoryRepository) ListRules(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeysRule(r.rules), nil
}

func (r *MemoryRepository) ListRulesets(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeysRuleset(r.rulesets), nil
}

func (r *MemoryRepository) ListPipelines(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeysPipeline(r.pipelines), nil
}

func (r *MemoryRepository) Exists(_ context.Context, path string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.rules[path]; ok {
		return true, nil
	}
	if _, ok := r.rulesets[path]; ok {
		return true, nil
	}
	if _, ok := r.pipelines[path]; ok {
		return true, nil
	}
	return false, nil
}

// PutRule injects a rule directly, bypassing versioning — for test setup.
func (r *MemoryRepository) PutRule(id string, doc *ast.RdlDocument[*ast.Rule]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[id] = doc
}

// PutRuleset injects a ruleset directly, bypassing versioning — for test setup.
func (r *MemoryRepository) PutRuleset(id string, doc *ast.RdlDocument[*ast.Ruleset]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rulesets[id] = doc
}

// PutPipeline injects a pipeline directly, bypassing versioning — for test setup.
func (r *MemoryRepository) PutPipeline(id string, doc *ast.RdlDocument[*ast.Pipeline]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[id] = doc
}

// PutRegistry injects the registry directly, bypassing versioning.
func (r *MemoryRepository) PutRegistry(reg *ast.PipelineRegistry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registry = reg
}

func (r *MemoryRepository) SaveRule(_ context.Context, id string, source []byte) (int, error) {
	doc, err := dsl.ParseRule(source)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.bumpVersion("rule:" + id)
	r.rules[id] = doc
	return v, nil
}

func (r *MemoryRepository) SaveRuleset(_ context.Context, id string, source []byte) (int, error) {
	doc, err := dsl.ParseRuleset(source)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.bumpVersion("ruleset:" + id)
	r.rulesets[id] = doc
	return v, nil
}

func (r *MemoryRepository) SavePipeline(_ context.Context, id string, source []byte) (int, error) {
	doc, err := dsl.ParsePipeline(source)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.bumpVersion("pipeline:" + id)
	r.pipelines[id] = doc
	return v, nil
}

func (r *MemoryRepository) SaveRegistry(_ context.Context, source []byte) (int, error) {
	reg, err := dsl.ParseRegistry(source)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.bumpVersion("registry")
	r.registry = reg
	return v, nil
}

func (r *MemoryRepository) Delete(_ context.Context, kind ArtifactKind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch kind {
	case KindRule:
		if _, ok := r.rules[id]; !ok {
			return rferrors.NotFound(id)
		}
		delete(r.rules, id)
	case KindRuleset:
		if _, ok := r.rulesets[id]; !ok {
			return rferrors.NotFound(id)
		}
		delete(r.rulesets, id)
	case KindPipeline:
		if _, ok := r.pipelines[id]; !ok {
			return rferrors.NotFound(id)
		}
		delete(r.pipelines, id)
	case KindRegistry:
		r.registry = nil
	}
	return nil
}

// bumpVersion must be called with r.mu held.
func (r *MemoryRepository) bumpVersion(key string) int {
	r.versions[key]++
	return r.versions[key]
}

func sortedKeysRule(m map[string]*ast.RdlDocument[*ast.Rule]) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeysRuleset(m map[string]*ast.RdlDocument[*ast.Ruleset]) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeysPipeline(m map[string]*ast.RdlDocument[*ast.Pipeline]) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
