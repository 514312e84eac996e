package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruleflow/engine/internal/repository"
)

const sampleRuleYAML = `
rule:
  id: high_amount
  when:
    conditions: ["event.amount > 1000"]
  score: 25
`

const samplePipelineYAML = `
pipeline:
  id: default
  rulesets: []
`

func TestValidateRepositoryCountsEveryArtifact(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()

	_, err := repo.SaveRule(ctx, "high_amount", []byte(sampleRuleYAML))
	require.NoError(t, err)
	_, err = repo.SavePipeline(ctx, "default", []byte(samplePipelineYAML))
	require.NoError(t, err)

	n, err := validateRepository(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one rule plus one pipeline, no ruleset or registry saved")
}

func TestValidateRepositoryToleratesMissingRegistry(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()

	n, err := validateRepository(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestValidateRepositoryReportsUnresolvableExtends(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()

	_, err := repo.SaveRuleset(ctx, "child", []byte(`
ruleset:
  id: child
  extends: nonexistent_parent
  rules: []
`))
	require.NoError(t, err)

	_, err = validateRepository(ctx, repo)
	require.Error(t, err)
}
