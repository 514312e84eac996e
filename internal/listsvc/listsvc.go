// Package listsvc implements spec.md §4.8: named sets of Values keyed by
// list_id, used for blocklist/allowlist membership tests from both the
// dedicated ListLookup instruction and ad hoc "x in list.<id>" expressions.
//
// Grounded on the teacher's storage idiom (internal/storage/filesystem.go's
// injectable FileSystem, internal/storage/rule_store_disk.go's hot-reload
// shape) generalized from whole-document persistence to flat value sets,
// plus modernc.org/sqlite for the relational backend (adopted from the wider
// pack per DESIGN.md).
package listsvc

import (
	"context"
	"sync"

	"github.com/ruleflow/engine/internal/observability"
	"github.com/ruleflow/engine/pkg/value"
)

// Service is the abstract list-backend interface spec.md §4.8 describes.
// Contains/GetAll double as the implementations of vm.ListChecker and
// reqcontext.ListResolver, so any Service can be wired directly into the VM
// and the context builder without an adapter.
type Service interface {
	// Contains reports whether v is a member of listID, and whether listID
	// is configured at all. An unconfigured list is not an error: callers
	// apply the "false + warn" policy from spec.md §4.8/§4.6.
	Contains(ctx context.Context, listID string, v value.Value) (hit bool, configured bool)
	GetAll(listID string) ([]value.Value, bool)
	Add(ctx context.Context, listID string, v value.Value) error
	Remove(ctx context.Context, listID string, v value.Value) error
}

// Contains adapts Service to vm.ListChecker's signature (ctx first, no error
// return — list backends never fail a membership test; a backend I/O error
// degrades to "not configured" rather than propagating, per spec.md §4.8's
// "Missing list -> contains returns false (warn once)").
//
// VMAdapter wraps a Service as the vm.ListChecker the VM package expects, so an internal/engine wiring site can pass a Service
// straight into vm.WithLists.
type VMAdapter struct{ Service Service }

func (a VMAdapter) Contains(ctx context.Context, listID string, v value.Value) (bool, bool) {
	hit, configured := a.Service.Contains(ctx, listID, v)
	outcome := "miss"
	switch {
	case !configured:
		outcome = "unconfigured"
	case hit:
		outcome = "hit"
	}
	observability.ListLookupTotal.WithLabelValues(listID, outcome).Inc()
	observability.RecordListLookup(ctx, listID, outcome)
	return hit, configured
}

// ContextAdapter wraps a Service as reqcontext.ListResolver.
type ContextAdapter struct{ Service Service }

func (a ContextAdapter) GetAll(listID string) ([]value.Value, bool) {
	return a.Service.GetAll(listID)
}

// MemoryService is the in-memory backend: named sets held in a guarded map,
// suitable for tests and for programmatically-injected lists.
type MemoryService struct {
	mu   sync.RWMutex
	sets map[string][]value.Value
}

// NewMemoryService builds an empty in-memory list service.
func NewMemoryService() *MemoryService {
	return &MemoryService{sets: map[string][]value.Value{}}
}

// Seed installs a list wholesale, overwriting any prior contents — used by
// tests and by callers loading a static configuration at startup.
func (m *MemoryService) Seed(listID string, items []value.Value) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[listID] = append([]value.Value{}, items...)
}

func (m *MemoryService) Contains(_ context.Context, listID string, v value.Value) (bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items, ok := m.sets[listID]
	if !ok {
		return false, false
	}
	return value.Contains(value.Array(items), v), true
}

func (m *MemoryService) GetAll(listID string) ([]value.Value, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items, ok := m.sets[listID]
	if !ok {
		return nil, false
	}
	return append([]value.Value{}, items...), true
}

func (m *MemoryService) Add(_ context.Context, listID string, v value.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sets[listID] {
		if value.Equal(existing, v) {
			return nil
		}
	}
	m.sets[listID] = append(m.sets[listID], v)
	return nil
}

func (m *MemoryService) Remove(_ context.Context, listID string, v value.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.sets[listID]
	out := items[:0]
	for _, existing := range items {
		if !value.Equal(existing, v) {
			out = append(out, existing)
		}
	}
	m.sets[listID] = out
	return nil
}
