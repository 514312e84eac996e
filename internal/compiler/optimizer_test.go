package compiler

import (
	"testing"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/ir"
	"github.com/ruleflow/engine/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldConstants_BinaryOp(t *testing.T) {
	instrs := []ir.Instruction{
		ir.LoadConst(value.Number(2)),
		ir.LoadConst(value.Number(3)),
		ir.BinaryOp(ast.OpAdd),
		ir.Return(),
	}
	folded := FoldConstants(instrs)
	require.Len(t, folded, 2)
	assert.Equal(t, ir.OpLoadConst, folded[0].Op)
	n, _ := folded[0].Const.AsNumber()
	assert.Equal(t, float64(5), n)
	assert.Equal(t, ir.OpReturn, folded[1].Op)
}

func TestFoldConstants_CompareOp(t *testing.T) {
	instrs := []ir.Instruction{
		ir.LoadConst(value.Number(10)),
		ir.LoadConst(value.Number(5)),
		ir.Compare(ast.OpGt),
		ir.Return(),
	}
	folded := FoldConstants(instrs)
	require.Len(t, folded, 2)
	b, _ := folded[0].Const.AsBool()
	assert.True(t, b)
}

func TestFoldConstants_UnaryOp(t *testing.T) {
	instrs := []ir.Instruction{
		ir.LoadConst(value.Bool(true)),
		ir.UnaryOp(ast.UnaryNot),
		ir.Return(),
	}
	folded := FoldConstants(instrs)
	require.Len(t, folded, 2)
	b, _ := folded[0].Const.AsBool()
	assert.False(t, b)
}

func TestFoldConstants_SkipsDivisionByZero(t *testing.T) {
	instrs := []ir.Instruction{
		ir.LoadConst(value.Number(10)),
		ir.LoadConst(value.Number(0)),
		ir.BinaryOp(ast.OpDiv),
		ir.Return(),
	}
	folded := FoldConstants(instrs)
	require.Len(t, folded, 4, "division by zero must survive folding for the VM to raise it at runtime")
}

func TestFoldConstants_PreservesJumpTargetsAfterShrink(t *testing.T) {
	// LoadField; LoadConst(2); LoadConst(3); BinaryOp(Add) [folds to 1 instr];
	// Compare(Gt); JumpIfFalse(1) -> skip MarkRuleTriggered; MarkRuleTriggered; Return
	instrs := []ir.Instruction{
		ir.LoadField([]string{"event", "amount"}),
		ir.LoadConst(value.Number(2)),
		ir.LoadConst(value.Number(3)),
		ir.BinaryOp(ast.OpAdd),
		ir.Compare(ast.OpGt),
		ir.JumpIfFalse(1),
		ir.MarkRuleTriggered("r"),
		ir.Return(),
	}
	prog := ir.NewProgram(instrs, ir.MetadataForRule("t"))
	require.NoError(t, prog.ValidateJumps())

	folded := FoldConstants(instrs)
	prog2 := ir.NewProgram(folded, ir.MetadataForRule("t"))
	require.NoError(t, prog2.ValidateJumps())

	var foundJump bool
	for i, instr := range folded {
		if instr.Op == ir.OpJumpIfFalse {
			foundJump = true
			target := i + 1 + instr.Offset
			assert.Equal(t, ir.OpReturn, folded[target].Op, "jump must still land on Return, skipping MarkRuleTriggered")
		}
	}
	assert.True(t, foundJump)
}

func TestEliminateDeadCode_RemovesUnreachableAfterReturn(t *testing.T) {
	instrs := []ir.Instruction{
		ir.LoadConst(value.Bool(true)),
		ir.Return(),
		ir.LoadConst(value.Number(999)), // dead
		ir.AddScore(1),                  // dead
		ir.Return(),
	}
	cleaned := EliminateDeadCode(instrs)
	assert.Len(t, cleaned, 2)
}

func TestEliminateDeadCode_PreservesCodeReachableByJump(t *testing.T) {
	instrs := []ir.Instruction{
		ir.LoadConst(value.Bool(false)),
		ir.JumpIfFalse(1),
		ir.Return(), // skipped when false
		ir.AddScore(1),
		ir.Return(),
	}
	prog := ir.NewProgram(instrs, ir.MetadataForRule("t"))
	require.NoError(t, prog.ValidateJumps())

	cleaned := EliminateDeadCode(instrs)
	prog2 := ir.NewProgram(cleaned, ir.MetadataForRule("t"))
	require.NoError(t, prog2.ValidateJumps())
	assert.Len(t, cleaned, len(instrs), "every instruction here is reachable via the jump target")
}
