// Package repository implements the abstract read/write/cache interfaces
// spec.md §4.3 describes over the four artifact kinds (rule, ruleset,
// pipeline, registry), backed by filesystem, relational, HTTP and in-memory
// implementations.
//
// Grounded on the teacher's storage idiom (internal/storage/rule_store_disk.go,
// internal/storage/filesystem.go: injectable FileSystem, RWMutex-guarded
// in-memory map mirrored to a backing store, atomic temp-file-then-rename
// persistence) and internal/services/rule_store.go for the pure in-memory
// shape, generalized from a single rule type to the four RDL artifact kinds.
package repository

import (
	"context"

	"github.com/ruleflow/engine/internal/ast"
)

// Repository is the abstract read interface spec.md §4.3 describes: four
// load operations plus listing and existence checks. idOrPath may be either
// a canonical repository path or a bare artifact id; backends that support
// id lookup resolve it by walking their canonical subtree.
type Repository interface {
	LoadRule(ctx context.Context, idOrPath string) (*ast.RdlDocument[*ast.Rule], error)
	LoadRuleset(ctx context.Context, idOrPath string) (*ast.RdlDocument[*ast.Ruleset], error)
	LoadPipeline(ctx context.Context, idOrPath string) (*ast.RdlDocument[*ast.Pipeline], error)
	LoadRegistry(ctx context.Context) (*ast.PipelineRegistry, error)

	ListRules(ctx context.Context) ([]string, error)
	ListRulesets(ctx context.Context) ([]string, error)
	ListPipelines(ctx context.Context) ([]string, error)

	Exists(ctx context.Context, path string) (bool, error)
}

// ArtifactKind discriminates the four documents a Writable backend persists.
type ArtifactKind string

const (
	KindRule     ArtifactKind = "rule"
	KindRuleset  ArtifactKind = "ruleset"
	KindPipeline ArtifactKind = "pipeline"
	KindRegistry ArtifactKind = "registry"
)

// Writable is the save/delete sub-interface. Save operations take the
// artifact's original YAML source rather than a re-serialized AST — callers
// (an HTTP PUT body, a CLI file read) already hold the source bytes, and
// internal/ast carries no YAML marshaler to round-trip a parsed document
// back into text. Every successful Save validates the source by parsing it
// and bumps the artifact's version monotonically; backends that keep
// history (Relational) retain every prior version, others overwrite.
type Writable interface {
	SaveRule(ctx context.Context, id string, source []byte) (version int, err error)
	SaveRuleset(ctx context.Context, id string, source []byte) (version int, err error)
	SavePipeline(ctx context.Context, id string, source []byte) (version int, err error)
	SaveRegistry(ctx context.Context, source []byte) (version int, err error)

	Delete(ctx context.Context, kind ArtifactKind, id string) error
}

// CacheStats is the hit/miss/size snapshot a Cacheable backend reports.
type CacheStats struct {
	Hits        int64
	Misses      int64
	Size        int
	MemoryBytes int64
}

// HitRate is a derived view: hits / (hits+misses), 0 when nothing was
// ever requested.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cacheable is implemented by repositories that front their backend with a
// bounded TTL cache, per spec.md §4.3's caching paragraph.
type Cacheable interface {
	CacheStats() CacheStats
	ClearCache()
	ClearCacheEntry(path string)
}
