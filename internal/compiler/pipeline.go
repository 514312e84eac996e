package compiler

import (
	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/ir"
	"github.com/ruleflow/engine/internal/rferrors"
)

// CompilePipeline compiles a pipeline's when-block gate followed by its
// step sequence, per spec.md §4.5 "Pipeline codegen": steps run in order,
// Include inlines a referenced ruleset's program, Branch/Router compile to
// guarded jumps over embedded sub-segments, and Parallel emits its branches
// inline since true concurrency is an execution concern, not a compilation
// one (spec.md §5).
func (c *Compiler) CompilePipeline(p *ast.Pipeline, uni *Universe) (*ir.Program, error) {
	var instrs []ir.Instruction

	body, err := compileSteps(p.Steps, uni)
	if err != nil {
		return nil, err
	}

	if p.When != nil && (p.When.EventType != nil || p.When.Conditions != nil) {
		guardInstrs, err := EmitExpression(guardExpression(p.When))
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, guardInstrs...)
		instrs = append(instrs, ir.JumpIfFalse(len(body)))
	}
	instrs = append(instrs, body...)
	instrs = append(instrs, ir.Return())

	prog := ir.NewProgram(instrs, ir.MetadataForPipeline(p.ID).WithName(p.ID))
	return c.finish(prog)
}

func compileSteps(steps []ast.Step, uni *Universe) ([]ir.Instruction, error) {
	var instrs []ir.Instruction
	for _, step := range steps {
		stepInstrs, err := compileStep(step, uni)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, stepInstrs...)
	}
	return instrs, nil
}

func compileStep(step ast.Step, uni *Universe) ([]ir.Instruction, error) {
	switch s := step.(type) {
	case *ast.ExtractStep:
		return []ir.Instruction{
			ir.CallFeature(ir.FeatureCallSpec{Name: s.FeatureName, Type: s.Type, FieldPath: s.FieldPath}),
			ir.StoreVar(s.FeatureName),
		}, nil

	case *ast.ReasonStep:
		return []ir.Instruction{
			ir.CallLLM(ir.LLMCallSpec{Provider: s.Provider, Model: s.Model, Prompt: s.Prompt}),
			ir.StoreVar(s.VarName),
		}, nil

	case *ast.ServiceStep:
		return []ir.Instruction{
			ir.CallService(ir.ServiceCallSpec{Service: s.Service, Operation: s.Operation, Params: s.Params}),
			ir.StoreVar(s.VarName),
		}, nil

	case *ast.IncludeStep:
		if uni == nil {
			return nil, rferrors.UnknownReference("ruleset", s.RulesetID)
		}
		included, ok := uni.RulesetPrograms[s.RulesetID]
		if !ok {
			return nil, rferrors.UnknownReference("ruleset", s.RulesetID)
		}
		// Inline every instruction but the trailing Return, renumbering
		// jumps by the splice-free approach of just appending — offsets are
		// instruction-relative, so a verbatim prefix copy stays valid as
		// long as we drop only the final Return (a 1-past-end target, which
		// nothing before it can jump past without already being invalid).
		inlined := included.Instructions
		if n := len(inlined); n > 0 && inlined[n-1].Op == ir.OpReturn {
			inlined = inlined[:n-1]
		}
		return append([]ir.Instruction{}, inlined...), nil

	case *ast.BranchStep:
		return compileBranch(s, uni)

	case *ast.ParallelStep:
		return compileParallel(s, uni)

	case *ast.RouterStep:
		return compileRouter(s, uni)

	default:
		return nil, rferrors.UnsupportedFeature("unknown pipeline step type")
	}
}

func compileBranch(s *ast.BranchStep, uni *Universe) ([]ir.Instruction, error) {
	cond, err := EmitExpression(s.Condition)
	if err != nil {
		return nil, err
	}
	thenBody, err := compileSteps(s.Then, uni)
	if err != nil {
		return nil, err
	}
	elseBody, err := compileSteps(s.Else, uni)
	if err != nil {
		return nil, err
	}

	var instrs []ir.Instruction
	instrs = append(instrs, cond...)
	instrs = append(instrs, ir.JumpIfFalse(len(thenBody)+1))
	instrs = append(instrs, thenBody...)
	instrs = append(instrs, ir.Jump(len(elseBody)))
	instrs = append(instrs, elseBody...)
	return instrs, nil
}

// compileParallel emits every branch's steps inline in declaration order.
// The VM has no goroutine fan-out for IR execution (spec.md §5 treats
// concurrent dispatch as an execution-layer concern the engine façade may
// add around independent CallService/CallLLM instructions, not something
// the stack machine itself schedules); Merge selection among branch
// outcomes is likewise left to the caller inspecting the stored vars, so
// compiling a Parallel step to a sequential splice of its branches is
// semantically conservative: every branch still runs, in order.
func compileParallel(s *ast.ParallelStep, uni *Universe) ([]ir.Instruction, error) {
	var instrs []ir.Instruction
	for _, branch := range s.Branches {
		branchInstrs, err := compileSteps(branch, uni)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, branchInstrs...)
	}
	return instrs, nil
}

// compileRouter emits an ordered chain of guarded jumps: each route's guard
// is tested in turn, and a true guard runs that route's steps then jumps
// past every remaining route (including Default) to the step after the
// table. The Default steps run when no guard matched.
func compileRouter(s *ast.RouterStep, uni *Universe) ([]ir.Instruction, error) {
	type compiledRoute struct {
		guard []ir.Instruction
		body  []ir.Instruction
	}
	routes := make([]compiledRoute, 0, len(s.Routes))
	for _, route := range s.Routes {
		guard, err := EmitExpression(route.When)
		if err != nil {
			return nil, err
		}
		body, err := compileSteps(route.Then, uni)
		if err != nil {
			return nil, err
		}
		routes = append(routes, compiledRoute{guard: guard, body: body})
	}
	defaultBody, err := compileSteps(s.Default, uni)
	if err != nil {
		return nil, err
	}

	// tails[i] is the number of instructions remaining in the table
	// after route i's body (every later route's guard+body, plus Default).
	tailLen := len(defaultBody)
	tails := make([]int, len(routes))
	for i := len(routes) - 1; i >= 0; i-- {
		tails[i] = tailLen
		tailLen += len(routes[i].guard) + 1 + len(routes[i].body) + 1 // +1 JumpIfFalse, +1 trailing Jump
	}

	var instrs []ir.Instruction
	for i, r := range routes {
		instrs = append(instrs, r.guard...)
		instrs = append(instrs, ir.JumpIfFalse(len(r.body)+1))
		instrs = append(instrs, r.body...)
		instrs = append(instrs, ir.Jump(tails[i]))
	}
	instrs = append(instrs, defaultBody...)
	return instrs, nil
}
