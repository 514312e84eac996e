package repository

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/rferrors"
)

var errNotWritable = rferrors.UnsupportedFeature("wrapped repository backend is not writable")

// CachingRepository wraps any Repository with a TTL-bounded, LRU-evicted
// cache keyed by artifact kind plus the idOrPath argument exactly as passed
// (an id and a path naming the same document are cached separately), per
// spec.md §4.3's caching paragraph: default 5 minute
// TTL, bounded by entry count and total bytes, lazy expiry checked on read.
type CachingRepository struct {
	Repository

	ttl      time.Duration
	maxItems int
	maxBytes int64

	mu      sync.Mutex
	entries map[string]*list.Element // key -> node in order
	order   *list.List               // front = most recently used
	bytes   int64

	hits   int64
	misses int64
}

type cacheEntry struct {
	key       string
	value     any
	size      int64
	expiresAt time.Time
}

const defaultCacheTTL = 5 * time.Minute

// NewCachingRepository wraps backend with a cache. maxItems <= 0 or
// maxBytes <= 0 disables that bound.
func NewCachingRepository(backend Repository, ttl time.Duration, maxItems int, maxBytes int64) *CachingRepository {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachingRepository{
		Repository: backend,
		ttl:        ttl,
		maxItems:   maxItems,
		maxBytes:   maxBytes,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

// get returns a cached value for key if present and unexpired, evicting it
// lazily (and counting a miss) if it has expired.
func (c *CachingRepository) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	ent := el.Value.(*cacheEntry)
	if time.Now().After(ent.expiresAt) {
		c.removeLocked(el)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return ent.value, true
}

func (c *CachingRepository) put(key string, value any, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	ent := &cacheEntry{key: key, value: value, size: size, expiresAt: time.Now().Add(c.ttl)}
	el := c.order.PushFront(ent)
	c.entries[key] = el
	c.bytes += size
	c.evictLocked()
}

// evictLocked drops least-recently-used entries until both bounds are
// satisfied. Must be called with c.mu held.
func (c *CachingRepository) evictLocked() {
	for {
		overItems := c.maxItems > 0 && len(c.entries) > c.maxItems
		overBytes := c.maxBytes > 0 && c.bytes > c.maxBytes
		if !overItems && !overBytes {
			return
		}
		back := c.order.Back()
		if back == nil {
			return
		}
		c.removeLocked(back)
	}
}

// removeLocked must be called with c.mu held.
func (c *CachingRepository) removeLocked(el *list.Element) {
	ent := el.Value.(*cacheEntry)
	delete(c.entries, ent.key)
	c.order.Remove(el)
	c.bytes -= ent.size
}

func approxSize(v any) int64 {
	// A rough size estimate is sufficient for the byte bound; this isn't a
	// memory accounting subsystem.
	return 256
}

func (c *CachingRepository) LoadRule(ctx context.Context, idOrPath string) (*ast.RdlDocument[*ast.Rule], error) {
	key := "rule:" + idOrPath
	if v, ok := c.get(key); ok {
		return v.(*ast.RdlDocument[*ast.Rule]), nil
	}
	doc, err := c.Repository.LoadRule(ctx, idOrPath)
	if err != nil {
		return nil, err
	}
	c.put(key, doc, approxSize(doc))
	return doc, nil
}

func (c *CachingRepository) LoadRuleset(ctx context.Context, idOrPath string) (*ast.RdlDocument[*ast.Ruleset], error) {
	key := "ruleset:" + idOrPath
	if v, ok := c.get(key); ok {
		return v.(*ast.RdlDocument[*ast.Ruleset]), nil
	}
	doc, err := c.Repository.LoadRuleset(ctx, idOrPath)
	if err != nil {
		return nil, err
	}
	c.put(key, doc, approxSize(doc))
	return doc, nil
}

func (c *CachingRepository) LoadPipeline(ctx context.Context, idOrPath string) (*ast.RdlDocument[*ast.Pipeline], error) {
	key := "pipeline:" + idOrPath
	if v, ok := c.get(key); ok {
		return v.(*ast.RdlDocument[*ast.Pipeline]), nil
	}
	doc, err := c.Repository.LoadPipeline(ctx, idOrPath)
	if err != nil {
		return nil, err
	}
	c.put(key, doc, approxSize(doc))
	return doc, nil
}

func (c *CachingRepository) LoadRegistry(ctx context.Context) (*ast.PipelineRegistry, error) {
	const key = "registry"
	if v, ok := c.get(key); ok {
		return v.(*ast.PipelineRegistry), nil
	}
	reg, err := c.Repository.LoadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	c.put(key, reg, approxSize(reg))
	return reg, nil
}

func (c *CachingRepository) CacheStats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:        c.hits,
		Misses:      c.misses,
		Size:        len(c.entries),
		MemoryBytes: c.bytes,
	}
}

func (c *CachingRepository) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
	c.bytes = 0
}

// SaveRule delegates to the wrapped backend if it is Writable, invalidating
// any cached copy of id so the next load observes the new version.
func (c *CachingRepository) SaveRule(ctx context.Context, id string, source []byte) (int, error) {
	w, ok := c.Repository.(Writable)
	if !ok {
		return 0, errNotWritable
	}
	v, err := w.SaveRule(ctx, id, source)
	if err == nil {
		c.ClearCacheEntry(id)
	}
	return v, err
}

func (c *CachingRepository) SaveRuleset(ctx context.Context, id string, source []byte) (int, error) {
	w, ok := c.Repository.(Writable)
	if !ok {
		return 0, errNotWritable
	}
	v, err := w.SaveRuleset(ctx, id, source)
	if err == nil {
		c.ClearCacheEntry(id)
	}
	return v, err
}

func (c *CachingRepository) SavePipeline(ctx context.Context, id string, source []byte) (int, error) {
	w, ok := c.Repository.(Writable)
	if !ok {
		return 0, errNotWritable
	}
	v, err := w.SavePipeline(ctx, id, source)
	if err == nil {
		c.ClearCacheEntry(id)
	}
	return v, err
}

func (c *CachingRepository) SaveRegistry(ctx context.Context, source []byte) (int, error) {
	w, ok := c.Repository.(Writable)
	if !ok {
		return 0, errNotWritable
	}
	v, err := w.SaveRegistry(ctx, source)
	if err == nil {
		c.mu.Lock()
		if el, ok := c.entries["registry"]; ok {
			c.removeLocked(el)
		}
		c.mu.Unlock()
	}
	return v, err
}

// Delete delegates to the wrapped backend if it is Writable, invalidating
// any cached copy of id.
func (c *CachingRepository) Delete(ctx context.Context, kind ArtifactKind, id string) error {
	w, ok := c.Repository.(Writable)
	if !ok {
		return errNotWritable
	}
	if err := w.Delete(ctx, kind, id); err != nil {
		return err
	}
	c.ClearCacheEntry(id)
	return nil
}

func (c *CachingRepository) ClearCacheEntry(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, prefix := range []string{"rule:", "ruleset:", "pipeline:"} {
		if el, ok := c.entries[prefix+path]; ok {
			c.removeLocked(el)
		}
	}
}
