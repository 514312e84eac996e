package vm

import (
	"context"
	"testing"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/ir"
	"github.com/ruleflow/engine/internal/reqcontext"
	"github.com/ruleflow/engine/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func programFrom(instrs ...ir.Instruction) *ir.Program {
	return ir.NewProgram(instrs, ir.MetadataForRule("test"))
}

func TestVM_HighAmountDecline(t *testing.T) {
	// spec.md §8 scenario 1
	prog := programFrom(
		ir.LoadField([]string{"event", "amount"}),
		ir.LoadConst(value.Number(10000)),
		ir.Compare(ast.OpGt),
		ir.JumpIfFalse(2),
		ir.MarkRuleTriggered("high_amount"),
		ir.AddScore(100),
		ir.Return(),
	)
	rc := reqcontext.New(value.Object(map[string]value.Value{
		"type":   value.String("transaction"),
		"amount": value.Number(15000),
	}))

	v := New()
	result, err := v.Execute(context.Background(), prog, rc)
	require.NoError(t, err)
	assert.Equal(t, 100, result.Score)
	assert.Equal(t, []string{"high_amount"}, result.TriggeredRules)
}

func TestVM_MissingFieldSafety(t *testing.T) {
	// spec.md §8 scenario 2: amount missing → Null > 10000 = Null, falsy.
	prog := programFrom(
		ir.LoadField([]string{"event", "amount"}),
		ir.LoadConst(value.Number(10000)),
		ir.Compare(ast.OpGt),
		ir.JumpIfFalse(2),
		ir.MarkRuleTriggered("high_amount"),
		ir.AddScore(100),
		ir.Return(),
	)
	rc := reqcontext.New(value.Object(map[string]value.Value{
		"type": value.String("transaction"),
	}))

	v := New()
	result, err := v.Execute(context.Background(), prog, rc)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Score)
	assert.Empty(t, result.TriggeredRules)
}

// An event-type guard is an ordinary ANDed boolean condition (per codegen's
// guardExpression), so a mismatch just skips this segment's score — it must
// never abort the program and drop instructions appended after it.
func TestVM_EventTypeGuardFalseFallsThroughToLaterInstructions(t *testing.T) {
	prog := programFrom(
		ir.LoadField([]string{"event", "type"}),
		ir.LoadConst(value.String("transaction")),
		ir.Compare(ast.OpEq),
		ir.JumpIfFalse(2),
		ir.MarkRuleTriggered("transaction_only"),
		ir.AddScore(100),
		ir.MarkRuleTriggered("always"),
		ir.AddScore(5),
		ir.Return(),
	)
	rc := reqcontext.New(value.Object(map[string]value.Value{"type": value.String("login")}))

	v := New()
	result, err := v.Execute(context.Background(), prog, rc)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Score)
	assert.Equal(t, []string{"always"}, result.TriggeredRules)
}

func TestVM_DivisionByZero(t *testing.T) {
	prog := programFrom(
		ir.LoadConst(value.Number(10)),
		ir.LoadConst(value.Number(0)),
		ir.BinaryOp(ast.OpDiv),
		ir.Return(),
	)
	v := New()
	_, err := v.Execute(context.Background(), prog, reqcontext.New(value.Object(nil)))
	require.Error(t, err)
}

func TestVM_ListLookupUnconfigured(t *testing.T) {
	prog := programFrom(
		ir.LoadConst(value.String("fraud@a.com")),
		ir.ListLookup("email_blocklist", false),
		ir.JumpIfFalse(2),
		ir.MarkRuleTriggered("blocklist_hit"),
		ir.AddScore(200),
		ir.Return(),
	)
	v := New()
	result, err := v.Execute(context.Background(), prog, reqcontext.New(value.Object(nil)))
	require.NoError(t, err)
	assert.Empty(t, result.TriggeredRules)
	assert.Equal(t, 0, result.Score)
}

type fakeListChecker map[string]map[string]bool

func (f fakeListChecker) Contains(_ context.Context, listID string, v value.Value) (bool, bool) {
	entries, configured := f[listID]
	if !configured {
		return false, false
	}
	s, _ := v.AsString()
	return entries[s], true
}

func TestVM_ListLookupHit(t *testing.T) {
	prog := programFrom(
		ir.LoadField([]string{"event", "user_email"}),
		ir.ListLookup("email_blocklist", false),
		ir.JumpIfFalse(2),
		ir.MarkRuleTriggered("blocklist_hit"),
		ir.AddScore(200),
		ir.Return(),
	)
	lists := fakeListChecker{"email_blocklist": {"fraud@a.com": true}}
	v := New(WithLists(lists))

	rc := reqcontext.New(value.Object(map[string]value.Value{"user_email": value.String("fraud@a.com")}))
	result, err := v.Execute(context.Background(), prog, rc)
	require.NoError(t, err)
	assert.Equal(t, []string{"blocklist_hit"}, result.TriggeredRules)
	assert.Equal(t, 200, result.Score)

	rc2 := reqcontext.New(value.Object(map[string]value.Value{"user_email": value.String("ok@a.com")}))
	result2, err := v.Execute(context.Background(), prog, rc2)
	require.NoError(t, err)
	assert.Empty(t, result2.TriggeredRules)
}

func TestVM_SetSignalAndActions(t *testing.T) {
	prog := programFrom(
		ir.LoadConst(value.Bool(true)),
		ir.JumpIfFalse(3),
		ir.SetSignal(ast.SignalDecline),
		ir.PushAction("NOTIFY_USER"),
		ir.Return(),
	)
	v := New()
	result, err := v.Execute(context.Background(), prog, reqcontext.New(value.Object(nil)))
	require.NoError(t, err)
	assert.True(t, result.HasSignal)
	assert.Equal(t, ast.SignalDecline, result.Signal)
	assert.Equal(t, []string{"NOTIFY_USER"}, result.Actions)
}

func TestVM_EmptyProgramReturnsZero(t *testing.T) {
	prog := programFrom(ir.Return())
	v := New()
	result, err := v.Execute(context.Background(), prog, reqcontext.New(value.Object(nil)))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Score)
	assert.False(t, result.HasSignal)
}

func TestVM_StoreVarWritesToVarsNamespace(t *testing.T) {
	prog := programFrom(
		ir.LoadConst(value.Number(42)),
		ir.StoreVar("risk_score"),
		ir.Return(),
	)
	rc := reqcontext.New(value.Object(nil))
	v := New()
	_, err := v.Execute(context.Background(), prog, rc)
	require.NoError(t, err)

	got := rc.Lookup([]string{"vars", "risk_score"})
	n, ok := got.AsNumber()
	require.True(t, ok)
	assert.Equal(t, float64(42), n)
}

func TestVM_ResourceExhausted_StackDepth(t *testing.T) {
	instrs := make([]ir.Instruction, 0, 20)
	for i := 0; i < 10; i++ {
		instrs = append(instrs, ir.LoadConst(value.Number(float64(i))))
	}
	instrs = append(instrs, ir.Return())
	prog := programFrom(instrs...)

	v := New(WithLimits(Limits{MaxInstructions: 1000, MaxStackDepth: 3, Timeout: 0}))
	_, err := v.Execute(context.Background(), prog, reqcontext.New(value.Object(nil)))
	require.Error(t, err)
}
