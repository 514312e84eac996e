package compiler

import (
	"testing"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/ir"
	"github.com/ruleflow/engine/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gt(path []string, n float64) ast.Expression {
	return &ast.Binary{Left: &ast.FieldAccess{Path: path}, Op: ast.OpGt, Right: &ast.Literal{Value: value.Number(n)}}
}

func TestCompileRule_HighAmount(t *testing.T) {
	rule := &ast.Rule{
		ID:    "high_amount",
		Name:  "High amount",
		Score: 100,
		When: &ast.WhenBlock{
			EventType:  strPtr("transaction"),
			Conditions: gt([]string{"event", "amount"}, 10000),
		},
	}

	prog, err := New().CompileRule(rule)
	require.NoError(t, err)
	require.NoError(t, prog.ValidateJumps())
	assert.Equal(t, ir.SourceRule, prog.Metadata.SourceType)
	assert.Equal(t, "high_amount", prog.Metadata.SourceID)

	last := prog.Instructions[len(prog.Instructions)-1]
	assert.Equal(t, ir.OpReturn, last.Op)

	var sawTrigger, sawScore bool
	for _, instr := range prog.Instructions {
		switch instr.Op {
		case ir.OpMarkRuleTriggered:
			sawTrigger = true
			assert.Equal(t, "high_amount", instr.RuleID)
		case ir.OpAddScore:
			sawScore = true
			assert.Equal(t, 100, instr.ScoreDelta)
		}
	}
	assert.True(t, sawTrigger)
	assert.True(t, sawScore)
}

func TestCompileRule_NoWhenBlockAlwaysTriggers(t *testing.T) {
	rule := &ast.Rule{ID: "always", Score: 5}
	prog, err := New().CompileRule(rule)
	require.NoError(t, err)
	require.NoError(t, prog.ValidateJumps())

	var sawTrigger bool
	for _, instr := range prog.Instructions {
		if instr.Op == ir.OpMarkRuleTriggered {
			sawTrigger = true
		}
	}
	assert.True(t, sawTrigger, "a guardless rule should always mark triggered")
}

func TestCompileRule_EmptyIDRejected(t *testing.T) {
	_, err := New().CompileRule(&ast.Rule{Score: 1})
	require.Error(t, err)
}

func TestCompileRuleset_ConclusionChain(t *testing.T) {
	uni := NewUniverse()
	uni.Rules["high_amount"] = &ast.Rule{
		ID: "high_amount", Score: 100,
		When: &ast.WhenBlock{Conditions: gt([]string{"event", "amount"}, 10000)},
	}

	rs := &ast.Ruleset{
		ID:    "payment_risk",
		Name:  "Payment risk",
		Rules: []string{"high_amount"},
		Conclusion: []ast.DecisionRule{
			{
				Condition: gt([]string{"event", "amount"}, 10000),
				Signal:    ast.SignalDecline,
				Actions:   []string{"NOTIFY_RISK_TEAM"},
			},
			{Default: true, Signal: ast.SignalApprove},
		},
	}

	prog, err := New().CompileRuleset(rs, uni)
	require.NoError(t, err)
	require.NoError(t, prog.ValidateJumps())

	var signals []ast.Signal
	var actions []string
	for _, instr := range prog.Instructions {
		switch instr.Op {
		case ir.OpSetSignal:
			signals = append(signals, instr.Signal)
		case ir.OpPushAction:
			actions = append(actions, instr.Action)
		}
	}
	assert.Contains(t, signals, ast.SignalDecline)
	assert.Contains(t, signals, ast.SignalApprove)
	assert.Equal(t, []string{"NOTIFY_RISK_TEAM"}, actions)
}

func TestCompileRuleset_MissingDefaultRejected(t *testing.T) {
	uni := NewUniverse()
	rs := &ast.Ruleset{
		ID:         "no_default",
		Conclusion: []ast.DecisionRule{{Condition: gt([]string{"event", "amount"}, 1), Signal: ast.SignalApprove}},
	}
	_, err := New().CompileRuleset(rs, uni)
	require.Error(t, err)
}

func TestCompileRuleset_UnknownRuleReferenceRejected(t *testing.T) {
	uni := NewUniverse()
	rs := &ast.Ruleset{
		ID:         "dangling",
		Rules:      []string{"nonexistent"},
		Conclusion: []ast.DecisionRule{{Default: true, Signal: ast.SignalApprove}},
	}
	_, err := New().CompileRuleset(rs, uni)
	require.Error(t, err)
}

func strPtr(s string) *string { return &s }
