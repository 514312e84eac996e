package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruleflow/engine/internal/rferrors"
)

const sampleRule = `
rule:
  id: high_amount
  when:
    conditions: ["event.amount > 1000"]
  score: 25
`

func TestMemoryRepositorySaveLoadDelete(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	v, err := repo.SaveRule(ctx, "high_amount", []byte(sampleRule))
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v2, err := repo.SaveRule(ctx, "high_amount", []byte(sampleRule))
	require.NoError(t, err)
	assert.Equal(t, 2, v2, "version should be monotonically increasing")

	doc, err := repo.LoadRule(ctx, "high_amount")
	require.NoError(t, err)
	assert.Equal(t, "high_amount", doc.Definition.ID)

	ok, err := repo.Exists(ctx, "high_amount")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.Delete(ctx, KindRule, "high_amount"))
	_, err = repo.LoadRule(ctx, "high_amount")
	assert.True(t, rferrors.IsKind(err, rferrors.KindNotFound))
}

func TestMemoryRepositorySaveRejectsInvalidSource(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.SaveRule(context.Background(), "bad", []byte("rule:\n  name: missing id and score\n"))
	assert.Error(t, err)
}

func TestFilesystemRepositoryLoadByPathAndID(t *testing.T) {
	dir := t.TempDir()
	rulePath := "library/rules/high_amount.yaml"
	require.NoError(t, os.MkdirAll(dir+"/library/rules", 0o755))
	require.NoError(t, os.WriteFile(dir+"/"+rulePath, []byte(sampleRule), 0o644))

	repo := NewFilesystemRepository(dir)
	ctx := context.Background()

	byPath, err := repo.LoadRule(ctx, rulePath)
	require.NoError(t, err)
	assert.Equal(t, "high_amount", byPath.Definition.ID)

	byID, err := repo.LoadRule(ctx, "high_amount")
	require.NoError(t, err)
	assert.Equal(t, "high_amount", byID.Definition.ID)

	names, err := repo.ListRules(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, rulePath)
}

func TestFilesystemRepositoryAmbiguousID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir+"/library/rules/a", 0o755))
	require.NoError(t, os.MkdirAll(dir+"/library/rules/b", 0o755))
	require.NoError(t, os.WriteFile(dir+"/library/rules/a/r.yaml", []byte(sampleRule), 0o644))
	require.NoError(t, os.WriteFile(dir+"/library/rules/b/r.yaml", []byte(sampleRule), 0o644))

	repo := NewFilesystemRepository(dir)
	_, err := repo.LoadRule(context.Background(), "high_amount")
	assert.True(t, rferrors.IsKind(err, rferrors.KindIDNotFound))
}

func TestFilesystemRepositoryNotFound(t *testing.T) {
	dir := t.TempDir()
	repo := NewFilesystemRepository(dir)
	_, err := repo.LoadRule(context.Background(), "nope")
	assert.True(t, rferrors.IsKind(err, rferrors.KindIDNotFound))
}

func TestCachingRepositoryHitsAndInvalidation(t *testing.T) {
	backend := NewMemoryRepository()
	ctx := context.Background()
	_, err := backend.SaveRule(ctx, "high_amount", []byte(sampleRule))
	require.NoError(t, err)

	cached := NewCachingRepository(backend, time.Minute, 0, 0)

	_, err = cached.LoadRule(ctx, "high_amount")
	require.NoError(t, err)
	_, err = cached.LoadRule(ctx, "high_amount")
	require.NoError(t, err)

	stats := cached.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate(), 0.001)

	_, err = cached.SaveRule(ctx, "high_amount", []byte(sampleRule))
	require.NoError(t, err)

	_, err = cached.LoadRule(ctx, "high_amount")
	require.NoError(t, err)
	stats = cached.CacheStats()
	assert.Equal(t, int64(2), stats.Misses, "save should invalidate the cached entry")
}

func TestCachingRepositoryExpiry(t *testing.T) {
	backend := NewMemoryRepository()
	ctx := context.Background()
	_, err := backend.SaveRule(ctx, "high_amount", []byte(sampleRule))
	require.NoError(t, err)

	cached := NewCachingRepository(backend, time.Millisecond, 0, 0)
	_, err = cached.LoadRule(ctx, "high_amount")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = cached.LoadRule(ctx, "high_amount")
	require.NoError(t, err)

	stats := cached.CacheStats()
	assert.Equal(t, int64(2), stats.Misses, "expired entry should count as a miss on re-read")
}

func TestCachingRepositoryBoundedEntryCount(t *testing.T) {
	backend := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, writeRules(backend, ctx, "a", "b", "c"))

	cached := NewCachingRepository(backend, time.Minute, 2, 0)
	for _, id := range []string{"a", "b", "c"} {
		_, err := cached.LoadRule(ctx, id)
		require.NoError(t, err)
	}
	stats := cached.CacheStats()
	assert.LessOrEqual(t, stats.Size, 2)
}

func writeRules(repo *MemoryRepository, ctx context.Context, ids ...string) error {
	for _, id := range ids {
		src := "rule:\n  id: " + id + "\n  score: 1\n"
		if _, err := repo.SaveRule(ctx, id, []byte(src)); err != nil {
			return err
		}
	}
	return nil
}
