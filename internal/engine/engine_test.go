package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/repository"
	"github.com/ruleflow/engine/pkg/value"
)

func newBuiltEngine(t *testing.T, setup func(repo *repository.MemoryRepository)) *Engine {
	t.Helper()
	repo := repository.NewMemoryRepository()
	setup(repo)
	eng := New(repo)
	require.NoError(t, eng.Build(context.Background()))
	return eng
}

func mustSaveRule(t *testing.T, repo *repository.MemoryRepository, id string, src string) {
	t.Helper()
	_, err := repo.SaveRule(context.Background(), id, []byte(src))
	require.NoError(t, err)
}

func mustSaveRuleset(t *testing.T, repo *repository.MemoryRepository, id string, src string) {
	t.Helper()
	_, err := repo.SaveRuleset(context.Background(), id, []byte(src))
	require.NoError(t, err)
}

func mustSavePipeline(t *testing.T, repo *repository.MemoryRepository, id string, src string) {
	t.Helper()
	_, err := repo.SavePipeline(context.Background(), id, []byte(src))
	require.NoError(t, err)
}

func mustSaveRegistry(t *testing.T, repo *repository.MemoryRepository, src string) {
	t.Helper()
	_, err := repo.SaveRegistry(context.Background(), []byte(src))
	require.NoError(t, err)
}

// A ruleset whose rules mix event-type-scoped and event-type-agnostic guards
// must still run every rule and reach its conclusion when the triggering
// event's type only matches some of them: an event-type mismatch on one
// rule's guard is local to that rule, never an early-return out of the
// whole program.
func buildMixedEventTypeRuleset(t *testing.T, repo *repository.MemoryRepository) {
	mustSaveRule(t, repo, "r1_any_type", `
rule:
  id: r1_any_type
  when:
    conditions: ["event.amount > 50"]
  score: 10
`)
	mustSaveRule(t, repo, "r2_login_only", `
rule:
  id: r2_login_only
  when:
    event.type: login
  score: 1000
`)
	mustSaveRule(t, repo, "r3_any_type", `
rule:
  id: r3_any_type
  score: 5
`)
	mustSaveRuleset(t, repo, "mixed_risk", `
ruleset:
  id: mixed_risk
  name: Mixed event-type risk
  rules:
    - r1_any_type
    - r2_login_only
    - r3_any_type
  conclusion:
    - when: "total_score >= 10"
      signal: decline
      reason: "score threshold exceeded"
    - default: true
      signal: approve
`)
	mustSavePipeline(t, repo, "mixed_risk_pipeline", `
pipeline:
  id: mixed_risk_pipeline
  steps:
    - include:
        ruleset: mixed_risk
`)
	mustSaveRegistry(t, repo, `
version: "0.1"
registry:
  - pipeline: mixed_risk_pipeline
    when:
      event_type: transaction
`)
}

func TestDecide_MixedEventTypeRulesetStillRunsAllRules(t *testing.T) {
	eng := newBuiltEngine(t, buildMixedEventTypeRuleset)

	resp, err := eng.Decide(context.Background(), DecideRequest{
		Event: value.Object(map[string]value.Value{
			"type":   value.String("transaction"),
			"amount": value.Number(100),
		}),
	})
	require.NoError(t, err)
	require.True(t, resp.Matched)

	// r2 is scoped to "login" events and must not fire for a "transaction"
	// event, but r1 and r3 carry no event_type and must still fire — and,
	// crucially, the shared conclusion segment that follows r2 in the
	// compiled program must still execute.
	require.ElementsMatch(t, []string{"r1_any_type", "r3_any_type"}, resp.TriggeredRules)
	require.Equal(t, 15, resp.ScoreRaw)
	require.True(t, resp.HasSignal)
	require.Equal(t, ast.SignalDecline, resp.Signal)
}

func TestDecide_UnroutedEventTypeIsUnmatched(t *testing.T) {
	eng := newBuiltEngine(t, buildMixedEventTypeRuleset)

	resp, err := eng.Decide(context.Background(), DecideRequest{
		Event: value.Object(map[string]value.Value{
			"type":   value.String("login"),
			"amount": value.Number(0),
		}),
	})
	require.NoError(t, err)
	// Routing is keyed on "transaction" in the registry, so a "login" event
	// never reaches the pipeline at all — this exercises the registry's own
	// event-type match, distinct from the rule-level guard above.
	require.False(t, resp.Matched)
}

func TestDecide_NoMatchingPipelineReturnsUnmatchedNotError(t *testing.T) {
	eng := newBuiltEngine(t, func(repo *repository.MemoryRepository) {})

	resp, err := eng.Decide(context.Background(), DecideRequest{
		Event: value.Object(map[string]value.Value{"type": value.String("anything")}),
	})
	require.NoError(t, err)
	require.False(t, resp.Matched)
	require.False(t, resp.HasSignal)
}

func TestDecide_RejectsBeforeBuild(t *testing.T) {
	eng := New(repository.NewMemoryRepository())
	_, err := eng.Decide(context.Background(), DecideRequest{
		Event: value.Object(map[string]value.Value{"type": value.String("transaction")}),
	})
	require.Error(t, err)
}

func TestReload_RebuildsCatalogAndKeepsServing(t *testing.T) {
	eng := newBuiltEngine(t, buildMixedEventTypeRuleset)
	require.Equal(t, CatalogActive, eng.State())

	require.NoError(t, eng.Reload(context.Background()))
	require.Equal(t, CatalogActive, eng.State())

	resp, err := eng.Decide(context.Background(), DecideRequest{
		Event: value.Object(map[string]value.Value{
			"type":   value.String("transaction"),
			"amount": value.Number(100),
		}),
	})
	require.NoError(t, err)
	require.True(t, resp.Matched)
}
