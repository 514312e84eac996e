// Package vm implements the stack-machine executor described in spec.md
// §4.6: it interprets a compiled ir.Program against a reqcontext.Context,
// producing an ExecutionResult. Dispatch is grounded on the teacher's
// Evaluator.eval type-switch shape (internal/rules/evaluator.go),
// generalized from a boolean span-matcher into a full stack machine per
// the reference runtime's execution engine (corint-runtime/src/engine).
package vm

import (
	"context"
	"regexp"
	"time"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/ir"
	"github.com/ruleflow/engine/internal/observability"
	"github.com/ruleflow/engine/internal/reqcontext"
	"github.com/ruleflow/engine/internal/rferrors"
	"github.com/ruleflow/engine/pkg/value"
)

// Limits bounds a single Execute call per spec.md §4.6 "Upper bounds".
type Limits struct {
	MaxInstructions int
	MaxStackDepth   int
	Timeout         time.Duration
}

// DefaultLimits are conservative enough to never bind ordinary programs
// while still catching runaway or maliciously deep IR.
var DefaultLimits = Limits{
	MaxInstructions: 1_000_000,
	MaxStackDepth:   1024,
	Timeout:         5 * time.Second,
}

// FeatureCaller resolves a CallFeature instruction's spec against the
// current context. Implemented by internal/features.Engine.
type FeatureCaller interface {
	Call(ctx context.Context, spec ir.FeatureCallSpec, rc *reqcontext.Context) (value.Value, error)
}

// LLMCaller resolves a CallLLM instruction. Implemented by internal/llmclient.
type LLMCaller interface {
	Call(ctx context.Context, spec ir.LLMCallSpec, rc *reqcontext.Context) (value.Value, error)
}

// ServiceCaller resolves a CallService instruction. Implemented by internal/svcclient.
type ServiceCaller interface {
	Call(ctx context.Context, spec ir.ServiceCallSpec, rc *reqcontext.Context) (value.Value, error)
}

// ListChecker answers ListLookup instructions. Implemented by internal/listsvc.
// configured reports whether the list exists at all, so the VM can apply
// the "unconfigured list → false + warn" policy from spec.md §4.8.
type ListChecker interface {
	Contains(ctx context.Context, listID string, v value.Value) (hit bool, configured bool)
}

// Warner receives non-fatal runtime warnings (unconfigured list lookups,
// feature-miss fallbacks) the way the teacher's observability.Warn does.
type Warner func(format string, args ...interface{})

// TraceStep is one recorded suspension point or decision event emitted
// during Execute when a Tracer is configured, per spec.md §4.14's
// "structured execution trace for debugging". Only instructions with
// externally-visible meaning are recorded (not every arithmetic pop/push)
// so a trace stays readable for a human debugging a misbehaving rule.
type TraceStep struct {
	Kind   string // "call_feature", "call_llm", "call_service", "list_lookup", "rule_triggered", "signal_set"
	Detail string
	Value  value.Value
	PC     int
}

// Tracer receives TraceSteps as Execute produces them, in program order.
// Implemented by resultstore.Recorder, which internal/engine attaches per
// traced request.
type Tracer interface {
	Record(TraceStep)
}

// VM is a stateless stack-machine executor; all per-request state lives in
// the reqcontext.Context and the operand stack local to one Execute call, so
// a single VM value is safe for concurrent use across requests (spec.md §5).
type VM struct {
	features FeatureCaller
	llm      LLMCaller
	service  ServiceCaller
	lists    ListChecker
	warn     Warner
	limits   Limits
	tracer   Tracer
}

// Option configures optional collaborators and resource limits.
type Option func(*VM)

func WithFeatures(f FeatureCaller) Option { return func(v *VM) { v.features = f } }
func WithLLM(l LLMCaller) Option          { return func(v *VM) { v.llm = l } }
func WithService(s ServiceCaller) Option  { return func(v *VM) { v.service = s } }
func WithLists(l ListChecker) Option      { return func(v *VM) { v.lists = l } }
func WithWarner(w Warner) Option          { return func(v *VM) { v.warn = w } }
func WithLimits(l Limits) Option          { return func(v *VM) { v.limits = l } }
func WithTracer(t Tracer) Option          { return func(v *VM) { v.tracer = t } }

func (vm *VM) trace(pc int, kind, detail string, v value.Value) {
	if vm.tracer == nil {
		return
	}
	vm.tracer.Record(TraceStep{Kind: kind, Detail: detail, Value: v, PC: pc})
}

// New builds a VM. Collaborators left unset (nil) make CallFeature,
// CallLLM and CallService push Null and ListLookup push false (with a
// warning) rather than panicking, so programs that never touch them run
// with zero wiring — handy for compiler unit tests.
func New(opts ...Option) *VM {
	v := &VM{limits: DefaultLimits, warn: func(string, ...interface{}) {}}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ExecutionResult is the VM's output: the accumulated score, the signal (if
// any conclusion's guard matched), every rule id that fired (insertion
// order, duplicates preserved), user-defined action labels and named
// variables set along the way.
type ExecutionResult struct {
	Score          int
	Signal         ast.Signal
	HasSignal      bool
	TriggeredRules []string
	Actions        []string
	Variables      map[string]value.Value
}

// Execute interprets prog against rc to completion (a Return instruction)
// or until a resource bound or the context is done.
func (vm *VM) Execute(ctx context.Context, prog *ir.Program, rc *reqcontext.Context) (*ExecutionResult, error) {
	deadline := time.Now().Add(vm.limits.Timeout)
	if vm.limits.Timeout <= 0 {
		deadline = time.Time{}
	}

	result := &ExecutionResult{Variables: map[string]value.Value{}}
	stack := make([]value.Value, 0, 16)
	pc := 0
	steps := 0

	push := func(v value.Value) error {
		stack = append(stack, v)
		if len(stack) > vm.limits.MaxStackDepth {
			observability.VMResourceExhaustedTotal.WithLabelValues("stack_depth").Inc()
			return rferrors.ResourceExhausted("operand stack depth exceeded")
		}
		return nil
	}
	pop := func() (value.Value, error) {
		if len(stack) == 0 {
			return value.Null, rferrors.InvalidOperation("pop from empty operand stack")
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return top, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, rferrors.Cancelled()
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			observability.VMResourceExhaustedTotal.WithLabelValues("timeout").Inc()
			return nil, rferrors.Timeout()
		}
		steps++
		if steps > vm.limits.MaxInstructions {
			observability.VMResourceExhaustedTotal.WithLabelValues("instructions").Inc()
			return nil, rferrors.ResourceExhausted("instruction count exceeded")
		}

		instr, ok := prog.GetInstruction(pc)
		if !ok {
			return nil, rferrors.InvalidOperation("program counter ran past end of instructions without Return")
		}

		switch instr.Op {
		case ir.OpLoadConst:
			if err := push(instr.Const); err != nil {
				return nil, err
			}
			pc++

		case ir.OpLoadField:
			v := rc.Lookup(instr.Path)
			// total_score reads the score accumulated so far in this run.
			if len(instr.Path) == 2 && instr.Path[0] == "result" && instr.Path[1] == "total_score" {
				v = value.Number(float64(result.Score))
			}
			if err := push(v); err != nil {
				return nil, err
			}
			pc++

		case ir.OpBinaryOp:
			r, err := pop()
			if err != nil {
				return nil, err
			}
			l, err := pop()
			if err != nil {
				return nil, err
			}
			v, err := ApplyBinary(l, instr.BinOp, r)
			if err != nil {
				return nil, err
			}
			if err := push(v); err != nil {
				return nil, err
			}
			pc++

		case ir.OpUnaryOp:
			x, err := pop()
			if err != nil {
				return nil, err
			}
			v, err := ApplyUnary(instr.UnOp, x)
			if err != nil {
				return nil, err
			}
			if err := push(v); err != nil {
				return nil, err
			}
			pc++

		case ir.OpCompare:
			r, err := pop()
			if err != nil {
				return nil, err
			}
			l, err := pop()
			if err != nil {
				return nil, err
			}
			v, err := ApplyCompare(l, instr.BinOp, r)
			if err != nil {
				return nil, err
			}
			if err := push(v); err != nil {
				return nil, err
			}
			pc++

		case ir.OpJumpIfFalse:
			cond, err := pop()
			if err != nil {
				return nil, err
			}
			if isFalsy(cond) {
				pc = pc + 1 + instr.Offset
			} else {
				pc++
			}

		case ir.OpJump:
			pc = pc + 1 + instr.Offset

		case ir.OpCallFeature:
			v, err := vm.callFeature(ctx, instr, rc)
			if err != nil {
				return nil, err
			}
			vm.trace(pc, "call_feature", instr.Feature.Name, v)
			if err := push(v); err != nil {
				return nil, err
			}
			pc++

		case ir.OpCallLLM:
			v, err := vm.callLLM(ctx, instr, rc)
			if err != nil {
				return nil, err
			}
			vm.trace(pc, "call_llm", instr.LLM.Provider+"/"+instr.LLM.Model, v)
			if err := push(v); err != nil {
				return nil, err
			}
			pc++

		case ir.OpCallService:
			v, err := vm.callService(ctx, instr, rc)
			if err != nil {
				return nil, err
			}
			vm.trace(pc, "call_service", instr.Service.Service+"/"+instr.Service.Operation, v)
			if err := push(v); err != nil {
				return nil, err
			}
			pc++

		case ir.OpListLookup:
			v, err := pop()
			if err != nil {
				return nil, err
			}
			hit := vm.listLookup(ctx, instr.List.ListID, v, instr.List.Negate)
			vm.trace(pc, "list_lookup", instr.List.ListID, value.Bool(hit))
			if err := push(value.Bool(hit)); err != nil {
				return nil, err
			}
			pc++

		case ir.OpSetScore:
			result.Score = instr.ScoreDelta
			pc++

		case ir.OpAddScore:
			result.Score += instr.ScoreDelta
			pc++

		case ir.OpSetSignal:
			result.Signal = instr.Signal
			result.HasSignal = true
			vm.trace(pc, "signal_set", string(instr.Signal), value.Null)
			pc++

		case ir.OpMarkRuleTriggered:
			result.TriggeredRules = append(result.TriggeredRules, instr.RuleID)
			vm.trace(pc, "rule_triggered", instr.RuleID, value.Null)
			pc++

		case ir.OpPushAction:
			result.Actions = append(result.Actions, instr.Action)
			pc++

		case ir.OpStoreVar:
			v, err := pop()
			if err != nil {
				return nil, err
			}
			rc.SetVar(instr.VarName, v)
			result.Variables[instr.VarName] = v
			pc++

		case ir.OpReturn:
			return result, nil

		default:
			return nil, rferrors.InvalidOperation("unknown opcode")
		}
	}
}

func (vm *VM) callFeature(ctx context.Context, instr ir.Instruction, rc *reqcontext.Context) (value.Value, error) {
	if vm.features == nil {
		return value.Null, nil
	}
	return vm.features.Call(ctx, *instr.Feature, rc)
}

func (vm *VM) callLLM(ctx context.Context, instr ir.Instruction, rc *reqcontext.Context) (value.Value, error) {
	if vm.llm == nil {
		return value.Null, nil
	}
	return vm.llm.Call(ctx, *instr.LLM, rc)
}

func (vm *VM) callService(ctx context.Context, instr ir.Instruction, rc *reqcontext.Context) (value.Value, error) {
	if vm.service == nil {
		return value.Null, nil
	}
	return vm.service.Call(ctx, *instr.Service, rc)
}

func (vm *VM) listLookup(ctx context.Context, listID string, v value.Value, negate bool) bool {
	if vm.lists == nil {
		vm.warn("list %q not configured, treating as empty", listID)
		return false
	}
	hit, configured := vm.lists.Contains(ctx, listID, v)
	if !configured {
		vm.warn("list %q not configured, treating as empty", listID)
		return false
	}
	if negate {
		return !hit
	}
	return hit
}

// isFalsy implements the Null-as-falsy JumpIfFalse policy: Bool(false) and
// Null are both falsy; everything else (including zero-valued Numbers,
// which are Truthy-false in Value.Truthy but not a guard target here) falls
// through per the spec's explicit "Bool(false) or Null" wording.
func isFalsy(v value.Value) bool {
	if v.IsNull() {
		return true
	}
	if b, ok := v.AsBool(); ok {
		return !b
	}
	return false
}

func ApplyBinary(l value.Value, op ast.Operator, r value.Value) (value.Value, error) {
	if l.IsNull() || r.IsNull() {
		return value.Null, nil
	}
	switch op {
	case ast.OpAdd, ast.OpSub, ast.OpMul, ast.OpDiv, ast.OpMod:
		return applyArithmetic(l, op, r)
	case ast.OpAnd:
		lb, lok := l.AsBool()
		rb, rok := r.AsBool()
		if !lok || !rok {
			return value.Null, rferrors.InvalidOperation("logical operator on non-boolean operand")
		}
		return value.Bool(lb && rb), nil
	case ast.OpOr:
		lb, lok := l.AsBool()
		rb, rok := r.AsBool()
		if !lok || !rok {
			return value.Null, rferrors.InvalidOperation("logical operator on non-boolean operand")
		}
		return value.Bool(lb || rb), nil
	case ast.OpContains:
		return value.Bool(value.Contains(l, r)), nil
	case ast.OpStartsWith:
		ls, lok := l.AsString()
		rs, rok := r.AsString()
		if !lok || !rok {
			return value.Null, rferrors.InvalidOperation("starts_with on non-string operand")
		}
		return value.Bool(len(ls) >= len(rs) && ls[:len(rs)] == rs), nil
	case ast.OpEndsWith:
		ls, lok := l.AsString()
		rs, rok := r.AsString()
		if !lok || !rok {
			return value.Null, rferrors.InvalidOperation("ends_with on non-string operand")
		}
		return value.Bool(len(ls) >= len(rs) && ls[len(ls)-len(rs):] == rs), nil
	case ast.OpRegex:
		ls, lok := l.AsString()
		rs, rok := r.AsString()
		if !lok || !rok {
			return value.Null, rferrors.InvalidOperation("matches on non-string operand")
		}
		re, err := regexp.Compile(rs)
		if err != nil {
			return value.Null, rferrors.InvalidValue("pattern", err.Error())
		}
		return value.Bool(re.MatchString(ls)), nil
	case ast.OpIn:
		return value.Bool(value.Contains(r, l)), nil
	case ast.OpNotIn:
		return value.Bool(!value.Contains(r, l)), nil
	default:
		return value.Null, rferrors.InvalidOperation("unsupported binary operator: " + string(op))
	}
}

func applyArithmetic(l value.Value, op ast.Operator, r value.Value) (value.Value, error) {
	ln, lok := l.AsNumber()
	rn, rok := r.AsNumber()
	if !lok || !rok {
		return value.Null, rferrors.InvalidOperation("arithmetic on non-number operand")
	}
	switch op {
	case ast.OpAdd:
		return value.Number(ln + rn), nil
	case ast.OpSub:
		return value.Number(ln - rn), nil
	case ast.OpMul:
		return value.Number(ln * rn), nil
	case ast.OpDiv:
		if rn == 0 {
			return value.Null, rferrors.DivisionByZero()
		}
		return value.Number(ln / rn), nil
	case ast.OpMod:
		if rn == 0 {
			return value.Null, rferrors.DivisionByZero()
		}
		return value.Number(float64(int64(ln) % int64(rn))), nil
	default:
		return value.Null, rferrors.InvalidOperation("unsupported arithmetic operator: " + string(op))
	}
}

func ApplyCompare(l value.Value, op ast.Operator, r value.Value) (value.Value, error) {
	if l.IsNull() || r.IsNull() {
		return value.Null, nil
	}
	switch op {
	case ast.OpEq:
		return value.Bool(value.Equal(l, r)), nil
	case ast.OpNe:
		return value.Bool(!value.Equal(l, r)), nil
	case ast.OpGt, ast.OpGe, ast.OpLt, ast.OpLe:
		cmp, ok := value.Compare(l, r)
		if !ok {
			return value.Null, rferrors.InvalidOperation("incomparable operand types")
		}
		switch op {
		case ast.OpGt:
			return value.Bool(cmp > 0), nil
		case ast.OpGe:
			return value.Bool(cmp >= 0), nil
		case ast.OpLt:
			return value.Bool(cmp < 0), nil
		default:
			return value.Bool(cmp <= 0), nil
		}
	default:
		return value.Null, rferrors.InvalidOperation("unsupported comparison operator: " + string(op))
	}
}

func ApplyUnary(op ast.UnaryOperator, x value.Value) (value.Value, error) {
	switch op {
	case ast.UnaryNot:
		if x.IsNull() {
			return value.Null, nil
		}
		b, ok := x.AsBool()
		if !ok {
			return value.Null, rferrors.InvalidOperation("! on non-boolean operand")
		}
		return value.Bool(!b), nil
	case ast.UnaryNegate:
		n, ok := x.AsNumber()
		if !ok {
			return value.Null, rferrors.InvalidOperation("unary - on non-number operand")
		}
		return value.Number(-n), nil
	default:
		return value.Null, rferrors.InvalidOperation("unsupported unary operator: " + string(op))
	}
}
