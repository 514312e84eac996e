package router_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/dsl/exprlang"
	"github.com/ruleflow/engine/internal/router"
	"github.com/ruleflow/engine/pkg/value"
)

func mustExpr(t *testing.T, s string) ast.Expression {
	t.Helper()
	e, err := exprlang.Parse(s)
	require.NoError(t, err)
	return e
}

// Fallback scenario from spec.md §8 scenario 5: supabase_tx, tx_default, no match.
func TestRouterFallback(t *testing.T) {
	supabaseType := "transaction"
	defaultType := "transaction"
	reg := &ast.PipelineRegistry{
		Entries: []ast.RegistryEntry{
			{
				PipelineID: "supabase_tx",
				When: &ast.WhenBlock{
					EventType:  &supabaseType,
					Conditions: mustExpr(t, `event.source == "supabase"`),
				},
			},
			{
				PipelineID: "tx_default",
				When:       &ast.WhenBlock{EventType: &defaultType},
			},
		},
	}
	r := router.New(reg)

	id, matched, err := r.Route(value.Object(map[string]value.Value{
		"type":   value.String("transaction"),
		"source": value.String("supabase"),
	}))
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, "supabase_tx", id)

	id, matched, err = r.Route(value.Object(map[string]value.Value{
		"type": value.String("transaction"),
	}))
	require.NoError(t, err)
	require.True(t, matched)
	require.Equal(t, "tx_default", id)

	_, matched, err = r.Route(value.Object(map[string]value.Value{
		"type": value.String("login"),
	}))
	require.NoError(t, err)
	require.False(t, matched)
}

func TestRouterDeterminism(t *testing.T) {
	txType := "transaction"
	reg := &ast.PipelineRegistry{
		Entries: []ast.RegistryEntry{
			{PipelineID: "p1", When: &ast.WhenBlock{EventType: &txType}},
		},
	}
	r := router.New(reg)
	event := value.Object(map[string]value.Value{"type": value.String("transaction")})

	first, _, err := r.Route(event)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		id, _, err := r.Route(event)
		require.NoError(t, err)
		require.Equal(t, first, id)
	}
}

func TestRouterNoRegistry(t *testing.T) {
	r := router.New(nil)
	_, matched, err := r.Route(value.Object(nil))
	require.NoError(t, err)
	require.False(t, matched)
}
