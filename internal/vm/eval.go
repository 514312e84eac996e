package vm

import (
	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/reqcontext"
	"github.com/ruleflow/engine/internal/rferrors"
	"github.com/ruleflow/engine/pkg/value"
)

// EvalExpression tree-walks an AST expression directly against rc, reusing
// the exact same ApplyBinary/ApplyCompare/ApplyUnary operator semantics the
// compiled stack machine uses, so a guard evaluated this way can never
// diverge from the same guard run through the compiler+VM path. Used by
// internal/router (registry when-blocks are evaluated ahead of any
// compilation, against a context built from the event plus the automatic
// sys and env namespaces) instead of spinning up
// a throwaway Program for what is usually a handful of comparisons.
//
// List membership is supported through the context's "list" namespace
// (reqcontext.Context.Lookup resolves list.<id> to the whole set); the
// unconfigured-list "false, not an error" policy from spec.md §4.8 applies
// here exactly as it does for the dedicated ListLookup instruction.
func EvalExpression(expr ast.Expression, rc *reqcontext.Context) (value.Value, error) {
	switch e := expr.(type) {
	case *ast.Literal:
		return e.Value, nil

	case *ast.FieldAccess:
		return rc.Lookup(e.Path), nil

	case *ast.Binary:
		if (e.Op == ast.OpIn || e.Op == ast.OpNotIn) {
			if ref, ok := e.Right.(*ast.ListReference); ok {
				left, err := EvalExpression(e.Left, rc)
				if err != nil {
					return value.Null, err
				}
				items := rc.Lookup([]string{"list", ref.ListID})
				if items.IsNull() {
					return value.Bool(false), nil
				}
				hit := !items.IsNull() && value.Contains(items, left)
				if e.Op == ast.OpNotIn {
					hit = !hit
				}
				return value.Bool(hit), nil
			}
		}
		left, err := EvalExpression(e.Left, rc)
		if err != nil {
			return value.Null, err
		}
		right, err := EvalExpression(e.Right, rc)
		if err != nil {
			return value.Null, err
		}
		if e.Op.IsComparison() {
			return ApplyCompare(left, e.Op, right)
		}
		return ApplyBinary(left, e.Op, right)

	case *ast.Unary:
		operand, err := EvalExpression(e.Operand, rc)
		if err != nil {
			return value.Null, err
		}
		return ApplyUnary(e.Op, operand)

	case *ast.Ternary:
		cond, err := EvalExpression(e.Cond, rc)
		if err != nil {
			return value.Null, err
		}
		if isFalsy(cond) {
			return EvalExpression(e.Else, rc)
		}
		return EvalExpression(e.Then, rc)

	case *ast.LogicalGroup:
		return evalLogicalGroup(e, rc)

	case *ast.ListReference:
		return rc.Lookup([]string{"list", e.ListID}), nil

	case *ast.ResultAccess:
		path := []string{"result"}
		if e.RulesetID != nil {
			path = append(path, *e.RulesetID)
		}
		path = append(path, e.Field)
		return rc.Lookup(path), nil

	case *ast.FunctionCall:
		return value.Null, rferrors.UnsupportedFeature("function call outside compiled expression: " + e.Name)

	default:
		return value.Null, rferrors.UnsupportedFeature("unknown expression node")
	}
}

func evalLogicalGroup(g *ast.LogicalGroup, rc *reqcontext.Context) (value.Value, error) {
	switch g.Op {
	case ast.GroupNot:
		if len(g.Conditions) != 1 {
			return value.Null, rferrors.InvalidValue("condition_group.not", "not requires exactly one condition")
		}
		v, err := EvalExpression(g.Conditions[0], rc)
		if err != nil {
			return value.Null, err
		}
		return ApplyUnary(ast.UnaryNot, v)

	case ast.GroupAll:
		if len(g.Conditions) == 0 {
			return value.Bool(true), nil
		}
		acc, err := EvalExpression(g.Conditions[0], rc)
		if err != nil {
			return value.Null, err
		}
		for _, cond := range g.Conditions[1:] {
			v, err := EvalExpression(cond, rc)
			if err != nil {
				return value.Null, err
			}
			acc, err = ApplyBinary(acc, ast.OpAnd, v)
			if err != nil {
				return value.Null, err
			}
		}
		return acc, nil

	case ast.GroupAny:
		if len(g.Conditions) == 0 {
			return value.Bool(false), nil
		}
		acc, err := EvalExpression(g.Conditions[0], rc)
		if err != nil {
			return value.Null, err
		}
		for _, cond := range g.Conditions[1:] {
			v, err := EvalExpression(cond, rc)
			if err != nil {
				return value.Null, err
			}
			acc, err = ApplyBinary(acc, ast.OpOr, v)
			if err != nil {
				return value.Null, err
			}
		}
		return acc, nil

	default:
		return value.Null, rferrors.UnsupportedFeature("unknown condition group op: " + string(g.Op))
	}
}
