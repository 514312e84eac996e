package ir

import "strconv"

// CompilerVersion is stamped into every ProgramMetadata; it identifies the
// compiler revision that produced a cached Program, the way the reference
// compiler stamps its own crate version.
const CompilerVersion = "ruleflow-compiler-0.1"

// SourceType identifies what kind of document a Program was compiled from.
type SourceType string

const (
	SourceRule     SourceType = "rule"
	SourceRuleset  SourceType = "ruleset"
	SourcePipeline SourceType = "pipeline"
)

// ProgramMetadata describes the provenance of a compiled Program.
type ProgramMetadata struct {
	SourceID        string
	SourceType      SourceType
	Name            string
	Description     string
	Custom          map[string]string
	CompilerVersion string
}

func newMetadata(sourceID string, sourceType SourceType) ProgramMetadata {
	return ProgramMetadata{
		SourceID:        sourceID,
		SourceType:      sourceType,
		Custom:          map[string]string{},
		CompilerVersion: CompilerVersion,
	}
}

func MetadataForRule(ruleID string) ProgramMetadata     { return newMetadata(ruleID, SourceRule) }
func MetadataForRuleset(rulesetID string) ProgramMetadata { return newMetadata(rulesetID, SourceRuleset) }
func MetadataForPipeline(pipelineID string) ProgramMetadata {
	return newMetadata(pipelineID, SourcePipeline)
}

func (m ProgramMetadata) WithName(name string) ProgramMetadata {
	m.Name = name
	return m
}

func (m ProgramMetadata) WithDescription(desc string) ProgramMetadata {
	m.Description = desc
	return m
}

func (m ProgramMetadata) WithCustom(key, value string) ProgramMetadata {
	next := make(map[string]string, len(m.Custom)+1)
	for k, v := range m.Custom {
		next[k] = v
	}
	next[key] = value
	m.Custom = next
	return m
}

// Program is a sequence of instructions with provenance metadata, ready
// for execution or for caching keyed by SourceID+version.
type Program struct {
	Instructions []Instruction
	Metadata     ProgramMetadata
}

func NewProgram(instructions []Instruction, metadata ProgramMetadata) *Program {
	return &Program{Instructions: instructions, Metadata: metadata}
}

func (p *Program) InstructionCount() int { return len(p.Instructions) }
func (p *Program) IsEmpty() bool         { return len(p.Instructions) == 0 }

func (p *Program) PushInstruction(i Instruction) {
	p.Instructions = append(p.Instructions, i)
}

func (p *Program) GetInstruction(index int) (Instruction, bool) {
	if index < 0 || index >= len(p.Instructions) {
		return Instruction{}, false
	}
	return p.Instructions[index], true
}

// ValidateJumps checks that every Jump/JumpIfFalse target lands within
// [0, len(Instructions)) — invariant 2 of the testable properties.
func (p *Program) ValidateJumps() error {
	for i, instr := range p.Instructions {
		if instr.Op != OpJump && instr.Op != OpJumpIfFalse {
			continue
		}
		target := i + 1 + instr.Offset
		if target < 0 || target >= len(p.Instructions) {
			return &JumpOutOfBoundsError{Index: i, Target: target, Len: len(p.Instructions)}
		}
	}
	return nil
}

// JumpOutOfBoundsError reports a jump instruction whose computed target
// falls outside the instruction vector.
type JumpOutOfBoundsError struct {
	Index  int
	Target int
	Len    int
}

func (e *JumpOutOfBoundsError) Error() string {
	return "ir: jump at instruction " + strconv.Itoa(e.Index) + " targets " + strconv.Itoa(e.Target) +
		" outside [0," + strconv.Itoa(e.Len) + ")"
}
