package compiler

import (
	"github.com/ruleflow/engine/internal/ir"
	"github.com/ruleflow/engine/internal/vm"
)

// FoldConstants repeatedly collapses LoadConst,LoadConst,{BinaryOp,Compare}
// and LoadConst,UnaryOp triples/pairs into a single LoadConst holding the
// computed result, reusing the VM's own operator semantics (vm.ApplyBinary/
// ApplyCompare/ApplyUnary) so folding can never diverge from execution.
// A site that would fail at runtime (division by zero, type mismatch) is
// left unfolded; the VM raises the same error when the program actually
// runs. Grounded on the reference compiler's optimizer.rs constant pass.
func FoldConstants(instrs []ir.Instruction) []ir.Instruction {
	for {
		start, length, folded, ok := findFoldSite(instrs)
		if !ok {
			return instrs
		}
		instrs = splice(instrs, start, length, []ir.Instruction{folded})
	}
}

func findFoldSite(instrs []ir.Instruction) (start, length int, folded ir.Instruction, ok bool) {
	for i := 0; i < len(instrs); i++ {
		if instrs[i].Op != ir.OpLoadConst {
			continue
		}
		if i+2 < len(instrs) && instrs[i+1].Op == ir.OpLoadConst {
			switch instrs[i+2].Op {
			case ir.OpBinaryOp:
				v, err := vm.ApplyBinary(instrs[i].Const, instrs[i+2].BinOp, instrs[i+1].Const)
				if err == nil {
					return i, 3, ir.LoadConst(v), true
				}
			case ir.OpCompare:
				v, err := vm.ApplyCompare(instrs[i].Const, instrs[i+2].BinOp, instrs[i+1].Const)
				if err == nil {
					return i, 3, ir.LoadConst(v), true
				}
			}
		}
		if i+1 < len(instrs) && instrs[i+1].Op == ir.OpUnaryOp {
			v, err := vm.ApplyUnary(instrs[i+1].UnOp, instrs[i].Const)
			if err == nil {
				return i, 2, ir.LoadConst(v), true
			}
		}
	}
	return 0, 0, ir.Instruction{}, false
}

// EliminateDeadCode removes instruction runs that directly follow an
// unconditional Return or Jump and precede the next instruction that some
// other Jump/JumpIfFalse actually targets (or the end of the program).
// Such runs can never execute, since the only way to reach them would be
// falling through a Return/Jump, which never falls through.
func EliminateDeadCode(instrs []ir.Instruction) []ir.Instruction {
	for {
		targets := jumpTargets(instrs)
		start, length := findDeadRange(instrs, targets)
		if length == 0 {
			return instrs
		}
		instrs = splice(instrs, start, length, nil)
	}
}

func jumpTargets(instrs []ir.Instruction) map[int]bool {
	targets := make(map[int]bool)
	for i, instr := range instrs {
		if instr.Op == ir.OpJump || instr.Op == ir.OpJumpIfFalse {
			targets[i+1+instr.Offset] = true
		}
	}
	return targets
}

func findDeadRange(instrs []ir.Instruction, targets map[int]bool) (start, length int) {
	for i, instr := range instrs {
		if instr.Op != ir.OpReturn && instr.Op != ir.OpJump {
			continue
		}
		j := i + 1
		for j < len(instrs) && !targets[j] {
			j++
		}
		if j > i+1 {
			return i + 1, j - (i + 1)
		}
	}
	return 0, 0
}

// splice replaces instrs[start:start+removeLen] with replacement, rewriting
// every surviving Jump/JumpIfFalse offset so its absolute target is
// preserved across the edit. Targets that land inside the removed range
// (which a well-formed program never actually jumps into, since the range
// is either folded-away constants or genuinely unreachable code) collapse
// onto the replacement's start position.
func splice(instrs []ir.Instruction, start, removeLen int, replacement []ir.Instruction) []ir.Instruction {
	oldLen := len(instrs)
	mapping := make([]int, oldLen+1)
	for j := 0; j <= oldLen; j++ {
		switch {
		case j <= start:
			mapping[j] = j
		case j >= start+removeLen:
			mapping[j] = j - removeLen + len(replacement)
		default:
			mapping[j] = start + len(replacement)
		}
	}

	origIdx := make([]int, 0, oldLen-removeLen+len(replacement))
	for i := 0; i < start; i++ {
		origIdx = append(origIdx, i)
	}
	for range replacement {
		origIdx = append(origIdx, -1)
	}
	for i := start + removeLen; i < oldLen; i++ {
		origIdx = append(origIdx, i)
	}

	newInstrs := make([]ir.Instruction, 0, len(origIdx))
	newInstrs = append(newInstrs, instrs[:start]...)
	newInstrs = append(newInstrs, replacement...)
	newInstrs = append(newInstrs, instrs[start+removeLen:]...)

	for j := range newInstrs {
		if newInstrs[j].Op != ir.OpJump && newInstrs[j].Op != ir.OpJumpIfFalse {
			continue
		}
		if origIdx[j] == -1 {
			continue
		}
		oldTarget := origIdx[j] + 1 + newInstrs[j].Offset
		newInstrs[j].Offset = mapping[oldTarget] - (j + 1)
	}
	return newInstrs
}
