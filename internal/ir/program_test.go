package ir

import (
	"testing"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgram_CreationAndAccess(t *testing.T) {
	instructions := []Instruction{
		LoadConst(value.Number(42)),
		Return(),
	}
	metadata := MetadataForRule("test_rule").
		WithName("Test Rule").
		WithDescription("A test rule")

	p := NewProgram(instructions, metadata)

	assert.Equal(t, 2, p.InstructionCount())
	assert.False(t, p.IsEmpty())
	assert.Equal(t, "test_rule", p.Metadata.SourceID)
	assert.Equal(t, SourceRule, p.Metadata.SourceType)
}

func TestProgram_PushInstruction(t *testing.T) {
	p := NewProgram(nil, MetadataForRule("test"))
	assert.True(t, p.IsEmpty())

	p.PushInstruction(LoadConst(value.Number(1)))
	p.PushInstruction(Return())

	assert.Equal(t, 2, p.InstructionCount())
}

func TestProgram_GetInstruction(t *testing.T) {
	p := NewProgram([]Instruction{
		LoadConst(value.Number(42)),
		Return(),
	}, MetadataForRule("test"))

	instr, ok := p.GetInstruction(0)
	require.True(t, ok)
	assert.Equal(t, OpLoadConst, instr.Op)

	_, ok = p.GetInstruction(2)
	assert.False(t, ok)
}

func TestMetadataWithCustom(t *testing.T) {
	m := MetadataForRule("my_rule").
		WithName("My Rule").
		WithCustom("author", "Alice")

	assert.Equal(t, "my_rule", m.SourceID)
	assert.Equal(t, "Alice", m.Custom["author"])
	assert.NotEmpty(t, m.CompilerVersion)
}

func TestValidateJumps_OutOfBounds(t *testing.T) {
	p := NewProgram([]Instruction{
		LoadConst(value.Bool(true)),
		JumpIfFalse(10),
		Return(),
	}, MetadataForRule("bad"))

	err := p.ValidateJumps()
	require.Error(t, err)
	var boundsErr *JumpOutOfBoundsError
	assert.ErrorAs(t, err, &boundsErr)
}

func TestValidateJumps_Valid(t *testing.T) {
	p := NewProgram([]Instruction{
		LoadField([]string{"user", "age"}),
		LoadConst(value.Number(18)),
		Compare(ast.OpGt),
		JumpIfFalse(1),
		MarkRuleTriggered("age_check"),
		Return(),
	}, MetadataForRule("age_check"))

	assert.NoError(t, p.ValidateJumps())
}
