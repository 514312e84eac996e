// Package ir defines the stack-machine instruction set and the compiled
// Program container the VM executes. Mirrors the shape of the reference
// compiler's IR (instructions + metadata), adapted to Go as a tagged
// union via an Opcode discriminant plus per-opcode payload fields rather
// than Rust's enum-with-struct-variants.
package ir

import (
	"fmt"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/pkg/value"
)

// Opcode identifies which instruction a Instruction value carries.
type Opcode int

const (
	OpLoadConst Opcode = iota
	OpLoadField
	OpBinaryOp
	OpUnaryOp
	OpCompare
	OpJumpIfFalse
	OpJump
	OpCallFeature
	OpCallLLM
	OpCallService
	OpListLookup
	OpSetScore
	OpAddScore
	OpSetSignal
	OpMarkRuleTriggered
	OpPushAction
	OpStoreVar
	OpReturn
)

func (o Opcode) String() string {
	switch o {
	case OpLoadConst:
		return "LoadConst"
	case OpLoadField:
		return "LoadField"
	case OpBinaryOp:
		return "BinaryOp"
	case OpUnaryOp:
		return "UnaryOp"
	case OpCompare:
		return "Compare"
	case OpJumpIfFalse:
		return "JumpIfFalse"
	case OpJump:
		return "Jump"
	case OpCallFeature:
		return "CallFeature"
	case OpCallLLM:
		return "CallLLM"
	case OpCallService:
		return "CallService"
	case OpListLookup:
		return "ListLookup"
	case OpSetScore:
		return "SetScore"
	case OpAddScore:
		return "AddScore"
	case OpSetSignal:
		return "SetSignal"
	case OpMarkRuleTriggered:
		return "MarkRuleTriggered"
	case OpPushAction:
		return "PushAction"
	case OpStoreVar:
		return "StoreVar"
	case OpReturn:
		return "Return"
	default:
		return "Unknown"
	}
}

// FeatureCallSpec is the payload of a CallFeature instruction. Name is the
// registered feature identifier the feature engine looks up to find its
// method/datasource/entity/dimension configuration; Type carries the
// extract step's feature_type hint (cross-checked against the registered
// method); FieldPath optionally drills into the resolved value.
type FeatureCallSpec struct {
	Name      string
	Type      string
	FieldPath []string
	Filter    ast.Expression
	Window    string
}

// LLMCallSpec is the payload of a CallLLM instruction.
type LLMCallSpec struct {
	Provider string
	Model    string
	Prompt   string
}

// ServiceCallSpec is the payload of a CallService instruction.
type ServiceCallSpec struct {
	Service   string
	Operation string
	Params    map[string]ast.Expression
}

// ListLookupSpec is the payload of a ListLookup instruction.
type ListLookupSpec struct {
	ListID string
	Negate bool
}

// Instruction is a single IR instruction. Only the fields relevant to Op
// are meaningful; this mirrors the reference enum's struct-variants as a
// flat struct, which keeps the VM's dispatch a simple switch on Op.
type Instruction struct {
	Op Opcode

	Const value.Value    // LoadConst
	Path  []string        // LoadField
	BinOp ast.Operator    // BinaryOp, Compare
	UnOp  ast.UnaryOperator // UnaryOp
	Offset int            // JumpIfFalse, Jump (relative to the following instruction)

	Feature *FeatureCallSpec // CallFeature
	LLM     *LLMCallSpec     // CallLLM
	Service *ServiceCallSpec // CallService
	List    *ListLookupSpec  // ListLookup

	ScoreDelta int        // SetScore, AddScore
	Signal     ast.Signal // SetSignal
	RuleID     string     // MarkRuleTriggered
	Action     string     // PushAction
	VarName    string     // StoreVar
}

func (i Instruction) String() string {
	switch i.Op {
	case OpLoadConst:
		return fmt.Sprintf("LoadConst(%s)", i.Const.String())
	case OpLoadField:
		return fmt.Sprintf("LoadField(%v)", i.Path)
	case OpBinaryOp:
		return fmt.Sprintf("BinaryOp(%s)", i.BinOp)
	case OpUnaryOp:
		return fmt.Sprintf("UnaryOp(%s)", i.UnOp)
	case OpCompare:
		return fmt.Sprintf("Compare(%s)", i.BinOp)
	case OpJumpIfFalse:
		return fmt.Sprintf("JumpIfFalse(%+d)", i.Offset)
	case OpJump:
		return fmt.Sprintf("Jump(%+d)", i.Offset)
	case OpCallFeature:
		return fmt.Sprintf("CallFeature(%v)", i.Feature)
	case OpCallLLM:
		return fmt.Sprintf("CallLLM(%v)", i.LLM)
	case OpCallService:
		return fmt.Sprintf("CallService(%v)", i.Service)
	case OpListLookup:
		return fmt.Sprintf("ListLookup(%v)", i.List)
	case OpSetScore:
		return fmt.Sprintf("SetScore(%d)", i.ScoreDelta)
	case OpAddScore:
		return fmt.Sprintf("AddScore(%d)", i.ScoreDelta)
	case OpSetSignal:
		return fmt.Sprintf("SetSignal(%s)", i.Signal)
	case OpMarkRuleTriggered:
		return fmt.Sprintf("MarkRuleTriggered(%s)", i.RuleID)
	case OpPushAction:
		return fmt.Sprintf("PushAction(%s)", i.Action)
	case OpStoreVar:
		return fmt.Sprintf("StoreVar(%s)", i.VarName)
	case OpReturn:
		return "Return"
	default:
		return "?"
	}
}

// Constructors, one per opcode, so codegen reads declaratively.

func LoadConst(v value.Value) Instruction { return Instruction{Op: OpLoadConst, Const: v} }
func LoadField(path []string) Instruction { return Instruction{Op: OpLoadField, Path: path} }
func BinaryOp(op ast.Operator) Instruction { return Instruction{Op: OpBinaryOp, BinOp: op} }
func UnaryOp(op ast.UnaryOperator) Instruction { return Instruction{Op: OpUnaryOp, UnOp: op} }
func Compare(op ast.Operator) Instruction { return Instruction{Op: OpCompare, BinOp: op} }
func JumpIfFalse(offset int) Instruction { return Instruction{Op: OpJumpIfFalse, Offset: offset} }
func Jump(offset int) Instruction { return Instruction{Op: OpJump, Offset: offset} }
func CallFeature(spec FeatureCallSpec) Instruction { return Instruction{Op: OpCallFeature, Feature: &spec} }
func CallLLM(spec LLMCallSpec) Instruction { return Instruction{Op: OpCallLLM, LLM: &spec} }
func CallService(spec ServiceCallSpec) Instruction { return Instruction{Op: OpCallService, Service: &spec} }
func ListLookup(listID string, negate bool) Instruction {
	return Instruction{Op: OpListLookup, List: &ListLookupSpec{ListID: listID, Negate: negate}}
}
func SetScore(n int) Instruction { return Instruction{Op: OpSetScore, ScoreDelta: n} }
func AddScore(n int) Instruction { return Instruction{Op: OpAddScore, ScoreDelta: n} }
func SetSignal(s ast.Signal) Instruction { return Instruction{Op: OpSetSignal, Signal: s} }
func MarkRuleTriggered(ruleID string) Instruction {
	return Instruction{Op: OpMarkRuleTriggered, RuleID: ruleID}
}
func PushAction(action string) Instruction { return Instruction{Op: OpPushAction, Action: action} }
func StoreVar(name string) Instruction     { return Instruction{Op: OpStoreVar, VarName: name} }
func Return() Instruction                  { return Instruction{Op: OpReturn} }
