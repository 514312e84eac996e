package importresolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/rferrors"
	"github.com/ruleflow/engine/internal/repository"
)

func mustSaveRule(t *testing.T, repo *repository.MemoryRepository, id, source string) {
	t.Helper()
	_, err := repo.SaveRule(context.Background(), id, []byte(source))
	require.NoError(t, err)
}

func mustSaveRuleset(t *testing.T, repo *repository.MemoryRepository, id, source string) {
	t.Helper()
	_, err := repo.SaveRuleset(context.Background(), id, []byte(source))
	require.NoError(t, err)
}

func TestResolveImportsDedupFirstWins(t *testing.T) {
	repo := repository.NewMemoryRepository()
	mustSaveRule(t, repo, "r1", "rule:\n  id: r1\n  score: 1\n")
	mustSaveRuleset(t, repo, "rs1", `
ruleset:
  id: rs1
  rules: [r1]
`)

	resolver := New(repo, repo)
	res, err := resolver.ResolveImports(context.Background(), &ast.Imports{
		Rules:    []string{"r1", "r1"},
		Rulesets: []string{"rs1"},
	})
	require.NoError(t, err)
	assert.Len(t, res.Rules, 1, "duplicate rule import should collapse to one")
	assert.Len(t, res.Rulesets, 1)
}

func TestResolveExtendsMergesRulesAndOverridesConclusion(t *testing.T) {
	repo := repository.NewMemoryRepository()
	mustSaveRuleset(t, repo, "base", `
ruleset:
  id: base
  name: Base
  rules: [r1, r2]
  conclusion:
    - default: true
      signal: approve
  metadata:
    owner: platform
`)
	mustSaveRuleset(t, repo, "child", `
ruleset:
  id: child
  extends: base
  rules: [r2, r3]
  conclusion:
    - default: true
      signal: decline
  metadata:
    tier: premium
`)

	resolver := New(repo, repo)
	childDoc, err := repo.LoadRuleset(context.Background(), "child")
	require.NoError(t, err)

	merged, err := resolver.ResolveExtends(context.Background(), childDoc)
	require.NoError(t, err)

	assert.Equal(t, []string{"r1", "r2", "r3"}, merged.Rules, "parent order first, duplicates collapse keeping the first")
	assert.Equal(t, ast.SignalDecline, merged.Conclusion[0].Signal, "non-empty child conclusion overrides parent entirely")
	assert.Equal(t, "platform", merged.Metadata["owner"], "parent metadata keys survive")
	assert.Equal(t, "premium", merged.Metadata["tier"], "child metadata keys are added")
	assert.Equal(t, "Base", merged.Name, "child has no name override, parent's is inherited")
}

func TestResolveExtendsInheritsConclusionWhenChildEmpty(t *testing.T) {
	repo := repository.NewMemoryRepository()
	mustSaveRuleset(t, repo, "base", `
ruleset:
  id: base
  rules: [r1]
  conclusion:
    - default: true
      signal: review
`)
	mustSaveRuleset(t, repo, "child", `
ruleset:
  id: child
  extends: base
  rules: [r2]
`)

	resolver := New(repo, repo)
	childDoc, err := repo.LoadRuleset(context.Background(), "child")
	require.NoError(t, err)
	merged, err := resolver.ResolveExtends(context.Background(), childDoc)
	require.NoError(t, err)
	assert.Equal(t, ast.SignalReview, merged.Conclusion[0].Signal)
}

func TestResolveExtendsDetectsCycle(t *testing.T) {
	repo := repository.NewMemoryRepository()
	mustSaveRuleset(t, repo, "a", `
ruleset:
  id: a
  extends: b
`)
	mustSaveRuleset(t, repo, "b", `
ruleset:
  id: b
  extends: a
`)

	resolver := New(repo, repo)
	aDoc, err := repo.LoadRuleset(context.Background(), "a")
	require.NoError(t, err)

	_, err = resolver.ResolveExtends(context.Background(), aDoc)
	require.Error(t, err)
	assert.True(t, rferrors.IsKind(err, rferrors.KindCircularExtends))
}

func TestResolveImportsMissingRuleReturnsImportNotFound(t *testing.T) {
	repo := repository.NewMemoryRepository()
	resolver := New(repo, repo)
	_, err := resolver.ResolveImports(context.Background(), &ast.Imports{Rules: []string{"missing"}})
	require.Error(t, err)
	assert.True(t, rferrors.IsKind(err, rferrors.KindImportNotFound))
}
