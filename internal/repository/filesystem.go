package repository

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/dsl"
	"github.com/ruleflow/engine/internal/rferrors"
)

// FileSystem abstracts OS filesystem calls so tests can inject an in-memory
// implementation without disk I/O. Mirrors the teacher's
// internal/storage.FileSystem shape.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	Rename(oldpath, newpath string) error
	MkdirAll(path string, perm os.FileMode) error
	Remove(path string) error
	Stat(path string) (os.FileInfo, error)
	Glob(pattern string) ([]string, error)
}

// RealFileSystem implements FileSystem using actual OS calls.
type RealFileSystem struct{}

func (RealFileSystem) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }
func (RealFileSystem) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}
func (RealFileSystem) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }
func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
func (RealFileSystem) Remove(path string) error             { return os.Remove(path) }
func (RealFileSystem) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }
func (RealFileSystem) Glob(pattern string) ([]string, error) { return filepath.Glob(pattern) }

const (
	rulesSubtree     = "library/rules"
	rulesetsSubtree  = "library/rulesets"
	pipelinesSubtree = "pipelines"
	registryFile     = "registry.yaml"
)

// FilesystemRepository resolves rule/ruleset/pipeline/registry documents
// rooted at a directory, per spec.md §4.3's "File system" backend. Paths are
// resolved relative to the root; bare ids are resolved by walking the
// artifact's canonical subtree and matching against each document's own
// `id:` field, surfacing IdNotFound with a hint on ambiguity.
//
// Grounded on the teacher's DiskRuleStore (internal/storage/rule_store_disk.go):
// injectable FileSystem, atomic temp-file-then-rename writes.
type FilesystemRepository struct {
	root string
	fs   FileSystem
}

// NewFilesystemRepository roots a repository at dir using the real OS filesystem.
func NewFilesystemRepository(dir string) *FilesystemRepository {
	return NewFilesystemRepositoryWithFS(dir, RealFileSystem{})
}

// NewFilesystemRepositoryWithFS roots a repository at dir with an injected
// FileSystem, for testing without disk I/O.
func NewFilesystemRepositoryWithFS(dir string, fs FileSystem) *FilesystemRepository {
	return &FilesystemRepository{root: dir, fs: fs}
}

func (r *FilesystemRepository) resolve(idOrPath, subtree string) (string, error) {
	if looksLikePath(idOrPath) {
		return filepath.Join(r.root, idOrPath), nil
	}
	matches, err := r.fs.Glob(filepath.Join(r.root, subtree, "**", "*.y*ml"))
	if err != nil {
		return "", rferrors.IOError(err)
	}
	// filepath.Glob (and most injected test doubles) don't expand "**";
	// fall back to a manual walk of the subtree for the recursive case.
	if len(matches) == 0 {
		matches, err = r.walkYAML(filepath.Join(r.root, subtree))
		if err != nil {
			return "", err
		}
	}
	var hits []string
	for _, m := range matches {
		data, err := r.fs.ReadFile(m)
		if err != nil {
			continue
		}
		id, ok := sniffID(data)
		if ok && id == idOrPath {
			hits = append(hits, m)
		}
	}
	switch len(hits) {
	case 0:
		e := rferrors.IDNotFound(idOrPath)
		e.Context["hint"] = "searched " + subtree
		return "", e
	case 1:
		return hits[0], nil
	default:
		e := rferrors.IDNotFound(idOrPath)
		e.Context["hint"] = "ambiguous id, matched: " + strings.Join(hits, ", ")
		return "", e
	}
}

func (r *FilesystemRepository) walkYAML(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, rferrors.IOError(err)
	}
	return out, nil
}

func looksLikePath(s string) bool {
	return strings.ContainsAny(s, "/\\") || strings.HasSuffix(s, ".yaml") || strings.HasSuffix(s, ".yml")
}

// sniffID decodes just enough of a document to read its id field without
// running it through the full dsl parser, for the id-resolution walk.
func sniffID(data []byte) (string, bool) {
	var n yaml.Node
	if err := yaml.Unmarshal(data, &n); err != nil {
		return "", false
	}
	root := unwrapNode(&n)
	if root == nil || root.Kind != yaml.MappingNode {
		return "", false
	}
	for _, key := range []string{"rule", "ruleset", "pipeline"} {
		for i := 0; i+1 < len(root.Content); i += 2 {
			if root.Content[i].Value != key {
				continue
			}
			inner := root.Content[i+1]
			for j := 0; j+1 < len(inner.Content); j += 2 {
				if inner.Content[j].Value == "id" {
					return inner.Content[j+1].Value, true
				}
			}
		}
	}
	return "", false
}

func unwrapNode(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		return n.Content[0]
	}
	return n
}

func (r *FilesystemRepository) LoadRule(_ context.Context, idOrPath string) (*ast.RdlDocument[*ast.Rule], error) {
	path, err := r.resolve(idOrPath, rulesSubtree)
	if err != nil {
		return nil, err
	}
	data, err := r.fs.ReadFile(path)
	if err != nil {
		return nil, rferrors.NotFound(path)
	}
	return dsl.ParseRule(data)
}

func (r *FilesystemRepository) LoadRuleset(_ context.Context, idOrPath string) (*ast.RdlDocument[*ast.Ruleset], error) {
	path, err := r.resolve(idOrPath, rulesetsSubtree)
	if err != nil {
		return nil, err
	}
	data, err := r.fs.ReadFile(path)
	if err != nil {
		return nil, rferrors.NotFound(path)
	}
	return dsl.ParseRuleset(data)
}

func (r *FilesystemRepository) LoadPipeline(_ context.Context, idOrPath string) (*ast.RdlDocument[*ast.Pipeline], error) {
	path, err := r.resolve(idOrPath, pipelinesSubtree)
	if err != nil {
		return nil, err
	}
	data, err := r.fs.ReadFile(path)
	if err != nil {
		return nil, rferrors.NotFound(path)
	}
	return dsl.ParsePipeline(data)
}

func (r *FilesystemRepository) LoadRegistry(_ context.Context) (*ast.PipelineRegistry, error) {
	path := filepath.Join(r.root, registryFile)
	data, err := r.fs.ReadFile(path)
	if err != nil {
		return nil, rferrors.NotFound(path)
	}
	return dsl.ParseRegistry(data)
}

func (r *FilesystemRepository) ListRules(_ context.Context) ([]string, error) {
	return r.listSubtree(rulesSubtree)
}

func (r *FilesystemRepository) ListRulesets(_ context.Context) ([]string, error) {
	return r.listSubtree(rulesetsSubtree)
}

func (r *FilesystemRepository) ListPipelines(_ context.Context) ([]string, error) {
	return r.listSubtree(pipelinesSubtree)
}

func (r *FilesystemRepository) listSubtree(subtree string) ([]string, error) {
	matches, err := r.walkYAML(filepath.Join(r.root, subtree))
	if err != nil {
		return nil, err
	}
	rel := make([]string, 0, len(matches))
	for _, m := range matches {
		p, err := filepath.Rel(r.root, m)
		if err != nil {
			p = m
		}
		rel = append(rel, p)
	}
	sort.Strings(rel)
	return rel, nil
}

func (r *FilesystemRepository) Exists(_ context.Context, path string) (bool, error) {
	_, err := r.fs.Stat(filepath.Join(r.root, path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, rferrors.IOError(err)
	}
	return true, nil
}
