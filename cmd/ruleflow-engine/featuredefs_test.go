package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruleflow/engine/internal/features"
)

func TestLoadFeatureDefinitionsEmptyPath(t *testing.T) {
	defs, err := loadFeatureDefinitions("")
	require.NoError(t, err)
	assert.Nil(t, defs)
}

func TestLoadFeatureDefinitionsParsesYAML(t *testing.T) {
	doc := `
- name: velocity_1h
  method: velocity
  datasource: txns
  entity: card
  dimension_template: "{event.card_id}"
  dimension_field: card_id
  time_field: created_at
  window: "1 hours"
  cache_ttl_seconds: 30
  cache_backend: local
  filters:
    - field: status
      op: "="
      value: approved
- name: distinct_merchants_1d
  method: cross_dimension_count
  datasource: txns
  entity: card
  dimension_template: "{event.card_id}"
  dimension_field: card_id
  cross_dimension_field: merchant_id
  window: "1 days"
  cache_ttl_seconds: 300
  cache_backend: external
`
	dir := t.TempDir()
	path := filepath.Join(dir, "features.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	defs, err := loadFeatureDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	v := defs[0]
	assert.Equal(t, "velocity_1h", v.Name)
	assert.Equal(t, features.MethodVelocity, v.Method)
	assert.Equal(t, "txns", v.Datasource)
	assert.Equal(t, "1 hours", v.Window)
	assert.Equal(t, 30*time.Second, v.CacheTTL)
	assert.Equal(t, features.CacheLocal, v.CacheBackend)
	require.Len(t, v.Filters, 1)
	assert.Equal(t, features.Filter{Field: "status", Op: "=", Value: "approved"}, v.Filters[0])

	cd := defs[1]
	assert.Equal(t, features.MethodCrossDimensionCount, cd.Method)
	assert.Equal(t, "merchant_id", cd.CrossDimensionField)
	assert.Equal(t, features.CacheExternal, cd.CacheBackend)
}

func TestLoadFeatureDefinitionsRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "features.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [a, list"), 0o644))

	_, err := loadFeatureDefinitions(path)
	assert.Error(t, err)
}

func TestLoadFeatureDefinitionsMissingFile(t *testing.T) {
	_, err := loadFeatureDefinitions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
