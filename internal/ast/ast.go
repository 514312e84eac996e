// Package ast defines the closed set of syntax-tree types produced by the
// parser and consumed by the compiler: expressions, rules, rulesets,
// pipelines, the pipeline registry and the generic RDL document envelope.
//
// Like the teacher's rule AST, dispatch is by type-switch on an interface
// marker method rather than by inheritance; expressions own their children
// by value so there is no shared-ownership or cycle concern.
package ast

import (
	"fmt"
	"strings"

	"github.com/ruleflow/engine/pkg/value"
)

// Operator is the fixed set of comparison, arithmetic, logical, string and
// membership operators an expression can carry.
type Operator string

const (
	OpEq Operator = "=="
	OpNe Operator = "!="
	OpGt Operator = ">"
	OpGe Operator = ">="
	OpLt Operator = "<"
	OpLe Operator = "<="

	OpAdd Operator = "+"
	OpSub Operator = "-"
	OpMul Operator = "*"
	OpDiv Operator = "/"
	OpMod Operator = "%"

	OpAnd Operator = "&&"
	OpOr  Operator = "||"

	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpRegex      Operator = "matches"

	OpIn    Operator = "in"
	OpNotIn Operator = "not in"
)

func (o Operator) IsComparison() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe:
		return true
	}
	return false
}

func (o Operator) IsArithmetic() bool {
	switch o {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		return true
	}
	return false
}

func (o Operator) IsLogical() bool {
	return o == OpAnd || o == OpOr
}

// UnaryOperator is the fixed set of unary operators.
type UnaryOperator string

const (
	UnaryNot    UnaryOperator = "!"
	UnaryNegate UnaryOperator = "-"
)

// GroupOp is the quantifier for a LogicalGroup.
type GroupOp string

const (
	GroupAll GroupOp = "all"
	GroupAny GroupOp = "any"
	GroupNot GroupOp = "not"
)

// Expression is the base interface implemented by every expression node.
type Expression interface {
	fmt.Stringer
	exprNode()
}

// Literal holds a constant Value.
type Literal struct {
	Value value.Value
}

func (*Literal) exprNode() {}
func (l *Literal) String() string { return l.Value.String() }

// FieldAccess reads a dotted path out of the request context.
type FieldAccess struct {
	Path []string
}

func (*FieldAccess) exprNode() {}
func (f *FieldAccess) String() string { return strings.Join(f.Path, ".") }

// Binary is a two-operand expression.
type Binary struct {
	Left  Expression
	Op    Operator
	Right Expression
}

func (*Binary) exprNode() {}
func (b *Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left.String(), b.Op, b.Right.String())
}

// Unary is a single-operand expression.
type Unary struct {
	Op      UnaryOperator
	Operand Expression
}

func (*Unary) exprNode() {}
func (u *Unary) String() string { return fmt.Sprintf("%s%s", u.Op, u.Operand.String()) }

// FunctionCall invokes a named builtin (count(...), sum(...), etc.).
type FunctionCall struct {
	Name string
	Args []Expression
}

func (*FunctionCall) exprNode() {}
func (c *FunctionCall) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.Name, strings.Join(parts, ", "))
}

// Ternary is cond ? then : else.
type Ternary struct {
	Cond Expression
	Then Expression
	Else Expression
}

func (*Ternary) exprNode() {}
func (t *Ternary) String() string {
	return fmt.Sprintf("(%s ? %s : %s)", t.Cond.String(), t.Then.String(), t.Else.String())
}

// LogicalGroup is an All/Any/Not quantifier over a list of conditions.
// Empty All is true; empty Any is false (vacuous-quantifier semantics).
type LogicalGroup struct {
	Op         GroupOp
	Conditions []Expression
}

func (*LogicalGroup) exprNode() {}
func (g *LogicalGroup) String() string {
	parts := make([]string, len(g.Conditions))
	for i, c := range g.Conditions {
		parts[i] = c.String()
	}
	return fmt.Sprintf("%s(%s)", g.Op, strings.Join(parts, ", "))
}

// ListReference is a reference to a named list, e.g. list.email_blocklist.
type ListReference struct {
	ListID string
}

func (*ListReference) exprNode() {}
func (l *ListReference) String() string { return "list." + l.ListID }

// ResultAccess reads a field out of a (possibly another ruleset's) result,
// e.g. total_score or payment_base.score.
type ResultAccess struct {
	RulesetID *string
	Field     string
}

func (*ResultAccess) exprNode() {}
func (r *ResultAccess) String() string {
	if r.RulesetID != nil {
		return *r.RulesetID + "." + r.Field
	}
	return r.Field
}

// Signal is the final decision result a ruleset conclusion can emit.
type Signal string

const (
	SignalApprove Signal = "approve"
	SignalDecline Signal = "decline"
	SignalReview  Signal = "review"
	SignalHold    Signal = "hold"
	SignalPass    Signal = "pass"
)

// NormalizeSignal maps legacy aliases (deny, challenge) onto the canonical set.
func NormalizeSignal(s string) (Signal, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve":
		return SignalApprove, true
	case "decline", "deny":
		return SignalDecline, true
	case "review":
		return SignalReview, true
	case "hold", "challenge":
		return SignalHold, true
	case "pass":
		return SignalPass, true
	default:
		return "", false
	}
}

// WhenBlock is the condition gate shared by rules, pipelines and registry
// entries: an optional event-type filter plus a condition expression
// (already folded from either the legacy `conditions:` list or a
// `condition_group:`, both by the parser).
type WhenBlock struct {
	EventType  *string
	Conditions Expression
}

// Rule is a single scoring rule.
type Rule struct {
	ID          string
	Name        string
	Description string
	When        *WhenBlock
	Score       int
}

// DecisionRule is one entry of a ruleset's conclusion.
type DecisionRule struct {
	Condition Expression // nil when Default is true
	Default   bool
	Signal    Signal
	Actions   []string
	Reason    string
}

// Ruleset bundles rules plus a conclusion that maps accumulated state to a signal.
type Ruleset struct {
	ID          string
	Name        string
	Description string
	Extends     string
	Rules       []string
	Conclusion  []DecisionRule
	Metadata    map[string]string
}

// Step is the base interface for pipeline step variants.
type Step interface {
	stepNode()
}

// ExtractStep pre-materializes a feature before the rest of the pipeline runs.
type ExtractStep struct {
	FeatureName string
	Type        string
	FieldPath   []string
}

func (*ExtractStep) stepNode() {}

// ReasonStep invokes an LLM and stores its output under VarName.
type ReasonStep struct {
	Provider string
	Model    string
	Prompt   string
	VarName  string
}

func (*ReasonStep) stepNode() {}

// ServiceStep invokes an external RPC-like service.
type ServiceStep struct {
	Service   string
	Operation string
	Params    map[string]Expression
	VarName   string
}

func (*ServiceStep) stepNode() {}

// IncludeStep embeds a referenced ruleset's compiled IR inline.
type IncludeStep struct {
	RulesetID string
}

func (*IncludeStep) stepNode() {}

// BranchStep compiles a condition and one of two sub-pipelines.
type BranchStep struct {
	Condition Expression
	Then      []Step
	Else      []Step
}

func (*BranchStep) stepNode() {}

// ParallelStep fans out to sub-pipelines with an unordered merge strategy.
type ParallelStep struct {
	Branches [][]Step
	Merge    string // "first", "all", "any"
}

func (*ParallelStep) stepNode() {}

// RouterStep is an ordered match→next routing table with a default.
type RouterStep struct {
	Routes  []RouterRoute
	Default []Step
}

func (*RouterStep) stepNode() {}

// RouterRoute is one guarded branch of a RouterStep.
type RouterRoute struct {
	When Expression
	Then []Step
}

// Pipeline is an ordered sequence of steps that together decide on an event.
type Pipeline struct {
	ID   string
	When *WhenBlock
	Steps []Step
}

// RegistryEntry maps a when-block to a pipeline id.
type RegistryEntry struct {
	PipelineID string
	When       *WhenBlock
}

// PipelineRegistry is the top-level routing table. Evaluation is top-down;
// first matching entry wins; no match is a defined "no pipeline" outcome.
type PipelineRegistry struct {
	Version string
	Entries []RegistryEntry
}

// Imports declares the four import categories a multi-document RDL file can carry.
type Imports struct {
	Rules     []string
	Rulesets  []string
	Pipelines []string
	Templates []string
}

// RdlDocument is the generic envelope {version, imports, definition}.
type RdlDocument[T any] struct {
	Version    string
	Imports    *Imports
	Definition T
}
