package compiler

import (
	"testing"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/ir"
	"github.com/ruleflow/engine/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitExpression_Literal(t *testing.T) {
	instrs, err := EmitExpression(&ast.Literal{Value: value.Number(42)})
	require.NoError(t, err)
	require.Len(t, instrs, 1)
	assert.Equal(t, ir.OpLoadConst, instrs[0].Op)
}

func TestEmitExpression_LogicalGroupEmptyAllIsTrue(t *testing.T) {
	instrs, err := EmitExpression(&ast.LogicalGroup{Op: ast.GroupAll})
	require.NoError(t, err)
	require.Len(t, instrs, 1)
	assert.Equal(t, ir.OpLoadConst, instrs[0].Op)
	b, _ := instrs[0].Const.AsBool()
	assert.True(t, b)
}

func TestEmitExpression_LogicalGroupEmptyAnyIsFalse(t *testing.T) {
	instrs, err := EmitExpression(&ast.LogicalGroup{Op: ast.GroupAny})
	require.NoError(t, err)
	b, _ := instrs[0].Const.AsBool()
	assert.False(t, b)
}

func TestEmitExpression_LogicalGroupFoldsWithAnd(t *testing.T) {
	g := &ast.LogicalGroup{
		Op: ast.GroupAll,
		Conditions: []ast.Expression{
			&ast.Literal{Value: value.Bool(true)},
			&ast.Literal{Value: value.Bool(true)},
			&ast.Literal{Value: value.Bool(true)},
		},
	}
	instrs, err := EmitExpression(g)
	require.NoError(t, err)
	var andCount int
	for _, i := range instrs {
		if i.Op == ir.OpBinaryOp && i.BinOp == ast.OpAnd {
			andCount++
		}
	}
	assert.Equal(t, 2, andCount)
}

func TestEmitExpression_MembershipUsesListLookup(t *testing.T) {
	bin := &ast.Binary{
		Left:  &ast.FieldAccess{Path: []string{"event", "user_email"}},
		Op:    ast.OpIn,
		Right: &ast.ListReference{ListID: "email_blocklist"},
	}
	instrs, err := EmitExpression(bin)
	require.NoError(t, err)
	last := instrs[len(instrs)-1]
	require.Equal(t, ir.OpListLookup, last.Op)
	assert.Equal(t, "email_blocklist", last.List.ListID)
	assert.False(t, last.List.Negate)
}

func TestEmitExpression_NotInNegatesListLookup(t *testing.T) {
	bin := &ast.Binary{
		Left:  &ast.FieldAccess{Path: []string{"event", "user_email"}},
		Op:    ast.OpNotIn,
		Right: &ast.ListReference{ListID: "email_blocklist"},
	}
	instrs, err := EmitExpression(bin)
	require.NoError(t, err)
	last := instrs[len(instrs)-1]
	assert.True(t, last.List.Negate)
}

func TestEmitExpression_BareListReferenceIsCompileError(t *testing.T) {
	_, err := EmitExpression(&ast.ListReference{ListID: "x"})
	require.Error(t, err)
}

func TestEmitExpression_Ternary(t *testing.T) {
	tern := &ast.Ternary{
		Cond: &ast.Literal{Value: value.Bool(true)},
		Then: &ast.Literal{Value: value.Number(1)},
		Else: &ast.Literal{Value: value.Number(2)},
	}
	instrs, err := EmitExpression(tern)
	require.NoError(t, err)
	prog := ir.NewProgram(append(instrs, ir.Return()), ir.MetadataForRule("t"))
	require.NoError(t, prog.ValidateJumps())
}

func TestEmitExpression_ComparisonUsesCompareNotBinaryOp(t *testing.T) {
	instrs, err := EmitExpression(gt([]string{"event", "amount"}, 1))
	require.NoError(t, err)
	last := instrs[len(instrs)-1]
	assert.Equal(t, ir.OpCompare, last.Op)
}
