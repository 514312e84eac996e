// Package compiler turns ast documents into ir.Program values: a semantic
// analyzer validates references, a recursive codegen walk emits the
// stack-machine instruction sequence, and two optimization passes (constant
// folding, dead code elimination) tighten the result. Grounded on the
// reference compiler's crate split (corint-compiler/src/{compiler,
// codegen,semantic,optimizer}.rs), folded into one Go package since Go has
// no crate boundary to mirror.
package compiler

import (
	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/ir"
	"github.com/ruleflow/engine/internal/rferrors"
	"github.com/ruleflow/engine/pkg/value"
)

// Options mirrors the reference compiler's CompilerOptions.
type Options struct {
	EnableSemanticAnalysis   bool
	EnableConstantFolding    bool
	EnableDeadCodeElimination bool
}

// DefaultOptions turns every pass on, matching the reference compiler's Default impl.
var DefaultOptions = Options{
	EnableSemanticAnalysis:    true,
	EnableConstantFolding:     true,
	EnableDeadCodeElimination: true,
}

// Compiler compiles rule/ruleset/pipeline AST nodes to IR. A Compiler value
// is stateless aside from Options and ListIDs/RuleIDs lookup sets supplied
// per call, so one Compiler is safe to reuse and share across goroutines.
type Compiler struct {
	opts Options
}

// New builds a Compiler with DefaultOptions.
func New() *Compiler { return &Compiler{opts: DefaultOptions} }

// NewWithOptions builds a Compiler with custom pass toggles.
func NewWithOptions(opts Options) *Compiler { return &Compiler{opts: opts} }

// Universe is the set of cross-references a compilation unit is checked
// against: rule/list ids known to exist, and ruleset ids for Include steps.
type Universe struct {
	RuleIDs    map[string]bool
	ListIDs    map[string]bool
	RulesetIDs map[string]bool
	// Rules supplies the parsed (AST) rules that ruleset codegen compiles.
	Rules map[string]*ast.Rule
	// RulesetPrograms supplies compiled ruleset programs for Include inlining.
	RulesetPrograms map[string]*ir.Program
}

func NewUniverse() *Universe {
	return &Universe{
		RuleIDs:         map[string]bool{},
		ListIDs:         map[string]bool{},
		RulesetIDs:      map[string]bool{},
		Rules:           map[string]*ast.Rule{},
		RulesetPrograms: map[string]*ir.Program{},
	}
}

// CompileRule compiles a single rule into its own Program: a guard ending in
// JumpIfFalse, MarkRuleTriggered, AddScore(score), Return.
func (c *Compiler) CompileRule(rule *ast.Rule) (*ir.Program, error) {
	if c.opts.EnableSemanticAnalysis {
		if err := analyzeRule(rule, nil); err != nil {
			return nil, err
		}
	}
	instrs, err := compileRuleBody(rule)
	if err != nil {
		return nil, err
	}
	instrs = append(instrs, ir.Return())
	prog := ir.NewProgram(instrs, ir.MetadataForRule(rule.ID).WithName(rule.Name).WithDescription(rule.Description))
	return c.finish(prog)
}

// eventTypeEquals builds the "event.type == expected" comparison that
// guards a rule or pipeline scoped to one event type.
func eventTypeEquals(expected string) ast.Expression {
	return &ast.Binary{
		Left:  &ast.FieldAccess{Path: []string{"event", "type"}},
		Op:    ast.OpEq,
		Right: &ast.Literal{Value: value.String(expected)},
	}
}

// guardExpression folds a when-block's event_type (if any) into the guard
// as an ordinary ANDed condition rather than a separate instruction, so a
// mismatch is just a false guard for this rule/pipeline instead of a signal
// that aborts every later rule and the shared conclusion segment. Grounded
// on the reference compiler's condition_compiler.rs, which compiles
// event.type == "X" as a plain boolean operand of the rule's condition.
func guardExpression(when *ast.WhenBlock) ast.Expression {
	var guard ast.Expression
	if when != nil && when.EventType != nil {
		guard = eventTypeEquals(*when.EventType)
	}
	if when != nil && when.Conditions != nil {
		if guard == nil {
			guard = when.Conditions
		} else {
			guard = &ast.Binary{Left: guard, Op: ast.OpAnd, Right: when.Conditions}
		}
	}
	if guard == nil {
		guard = &ast.Literal{Value: value.Bool(true)}
	}
	return guard
}

// compileRuleBody emits just the guard+trigger+score sequence (no trailing
// Return), so ruleset codegen can concatenate several rule bodies before
// its own conclusion segment.
func compileRuleBody(rule *ast.Rule) ([]ir.Instruction, error) {
	var instrs []ir.Instruction

	guardInstrs, err := EmitExpression(guardExpression(rule.When))
	if err != nil {
		return nil, err
	}
	instrs = append(instrs, guardInstrs...)

	body := []ir.Instruction{
		ir.MarkRuleTriggered(rule.ID),
		ir.AddScore(rule.Score),
	}
	instrs = append(instrs, ir.JumpIfFalse(len(body)))
	instrs = append(instrs, body...)
	return instrs, nil
}

// CompileRuleset compiles a ruleset's constituent rules (in declared order)
// followed by its conclusion, per spec.md §4.5 "Ruleset codegen". The
// Universe supplies the resolved rule bodies (post import-resolution and
// inheritance merge — see internal/importresolve).
func (c *Compiler) CompileRuleset(rs *ast.Ruleset, uni *Universe) (*ir.Program, error) {
	if c.opts.EnableSemanticAnalysis {
		if err := analyzeRuleset(rs, uni); err != nil {
			return nil, err
		}
	}

	var instrs []ir.Instruction
	for _, ruleID := range rs.Rules {
		rule, ok := uni.Rules[ruleID]
		if !ok {
			return nil, rferrors.UnknownReference("rule", ruleID)
		}
		body, err := compileRuleBody(rule)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, body...)
	}

	concl, err := compileConclusion(rs.Conclusion)
	if err != nil {
		return nil, err
	}
	instrs = append(instrs, concl...)
	instrs = append(instrs, ir.Return())

	prog := ir.NewProgram(instrs, ir.MetadataForRuleset(rs.ID).WithName(rs.Name))
	return c.finish(prog)
}

// compileConclusion emits the ruleset's decision-rule chain: for each
// DecisionRule, evaluate its guard (true for the default entry), then
// JumpIfFalse past SetSignal + PushAction*, falling through to the next
// decision rule on a false guard and to Return after the matching one.
func compileConclusion(rules []ast.DecisionRule) ([]ir.Instruction, error) {
	var instrs []ir.Instruction
	for _, dr := range rules {
		guard := ast.Expression(&ast.Literal{Value: value.Bool(true)})
		if !dr.Default && dr.Condition != nil {
			guard = dr.Condition
		}
		guardInstrs, err := EmitExpression(guard)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, guardInstrs...)

		var body []ir.Instruction
		body = append(body, ir.SetSignal(dr.Signal))
		for _, action := range dr.Actions {
			body = append(body, ir.PushAction(action))
		}
		body = append(body, ir.Return())

		instrs = append(instrs, ir.JumpIfFalse(len(body)))
		instrs = append(instrs, body...)
	}
	return instrs, nil
}

func (c *Compiler) finish(prog *ir.Program) (*ir.Program, error) {
	if c.opts.EnableConstantFolding {
		prog.Instructions = FoldConstants(prog.Instructions)
	}
	if c.opts.EnableDeadCodeElimination {
		prog.Instructions = EliminateDeadCode(prog.Instructions)
	}
	if err := prog.ValidateJumps(); err != nil {
		return nil, err
	}
	return prog, nil
}
