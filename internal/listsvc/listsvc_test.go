package listsvc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ruleflow/engine/internal/listsvc"
	"github.com/ruleflow/engine/pkg/value"
)

// Scenario 4 from spec.md §8: email_blocklist membership.
func TestMemoryServiceListHit(t *testing.T) {
	ctx := context.Background()
	svc := listsvc.NewMemoryService()
	svc.Seed("email_blocklist", []value.Value{value.String("fraud@a.com")})

	hit, configured := svc.Contains(ctx, "email_blocklist", value.String("fraud@a.com"))
	require.True(t, configured)
	require.True(t, hit)

	hit, configured = svc.Contains(ctx, "email_blocklist", value.String("ok@a.com"))
	require.True(t, configured)
	require.False(t, hit)

	_, configured = svc.Contains(ctx, "unconfigured_list", value.String("anything"))
	require.False(t, configured)
}

func TestMemoryServiceAddRemove(t *testing.T) {
	ctx := context.Background()
	svc := listsvc.NewMemoryService()
	require.NoError(t, svc.Add(ctx, "l1", value.String("a")))
	require.NoError(t, svc.Add(ctx, "l1", value.String("a"))) // idempotent
	items, ok := svc.GetAll("l1")
	require.True(t, ok)
	require.Len(t, items, 1)

	require.NoError(t, svc.Remove(ctx, "l1", value.String("a")))
	hit, configured := svc.Contains(ctx, "l1", value.String("a"))
	require.True(t, configured)
	require.False(t, hit)
}

func TestVMAdapter(t *testing.T) {
	svc := listsvc.NewMemoryService()
	svc.Seed("l1", []value.Value{value.Number(1)})
	adapter := listsvc.VMAdapter{Service: svc}
	hit, configured := adapter.Contains(context.Background(), "l1", value.Number(1))
	require.True(t, configured)
	require.True(t, hit)
}
