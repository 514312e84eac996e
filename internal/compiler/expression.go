package compiler

import (
	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/ir"
	"github.com/ruleflow/engine/internal/rferrors"
	"github.com/ruleflow/engine/pkg/value"
)

// EmitExpression recursively emits an AST expression into a sequence of IR
// instructions whose net stack effect is +1, per the codegen table in
// spec.md §4.5. Grounded on the reference compiler's expression.rs walk.
func EmitExpression(expr ast.Expression) ([]ir.Instruction, error) {
	switch e := expr.(type) {
	case *ast.Literal:
		return []ir.Instruction{ir.LoadConst(e.Value)}, nil

	case *ast.FieldAccess:
		return []ir.Instruction{ir.LoadField(e.Path)}, nil

	case *ast.Binary:
		if (e.Op == ast.OpIn || e.Op == ast.OpNotIn) {
			if ref, ok := e.Right.(*ast.ListReference); ok {
				return EmitMembership(e.Left, e.Op, ref.ListID)
			}
		}
		left, err := EmitExpression(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := EmitExpression(e.Right)
		if err != nil {
			return nil, err
		}
		instrs := append(append([]ir.Instruction{}, left...), right...)
		if e.Op.IsComparison() {
			instrs = append(instrs, ir.Compare(e.Op))
		} else {
			instrs = append(instrs, ir.BinaryOp(e.Op))
		}
		return instrs, nil

	case *ast.Unary:
		operand, err := EmitExpression(e.Operand)
		if err != nil {
			return nil, err
		}
		return append(operand, ir.UnaryOp(e.Op)), nil

	case *ast.Ternary:
		cond, err := EmitExpression(e.Cond)
		if err != nil {
			return nil, err
		}
		then, err := EmitExpression(e.Then)
		if err != nil {
			return nil, err
		}
		els, err := EmitExpression(e.Else)
		if err != nil {
			return nil, err
		}
		var instrs []ir.Instruction
		instrs = append(instrs, cond...)
		instrs = append(instrs, ir.JumpIfFalse(len(then)+1))
		instrs = append(instrs, then...)
		instrs = append(instrs, ir.Jump(len(els)))
		instrs = append(instrs, els...)
		return instrs, nil

	case *ast.LogicalGroup:
		return emitLogicalGroup(e)

	case *ast.ListReference:
		// A bare list reference only has meaning inside a membership
		// comparison (emitted by its Binary parent via EmitMembership);
		// encountered standalone it's a compile error per spec.md §4.5.
		return nil, rferrors.UnsupportedFeature("list reference used outside a membership expression: list." + e.ListID)

	case *ast.FunctionCall:
		return nil, rferrors.UnsupportedFeature("function call in expression codegen: " + e.Name)

	case *ast.ResultAccess:
		// Reads a prior ruleset's result namespace; represented as a field
		// access into "result.<ruleset>.<field>" or "result.<field>".
		path := []string{"result"}
		if e.RulesetID != nil {
			path = append(path, *e.RulesetID)
		}
		path = append(path, e.Field)
		return []ir.Instruction{ir.LoadField(path)}, nil

	default:
		return nil, rferrors.UnsupportedFeature("unknown expression node")
	}
}

// emitLogicalGroup folds All/Any over their conditions with BinaryOp(And)/
// BinaryOp(Or), short-circuiting the empty cases to the vacuous-quantifier
// constants per spec.md §3 and §8.
func emitLogicalGroup(g *ast.LogicalGroup) ([]ir.Instruction, error) {
	switch g.Op {
	case ast.GroupNot:
		if len(g.Conditions) != 1 {
			return nil, rferrors.InvalidValue("condition_group.not", "not requires exactly one condition")
		}
		inner, err := EmitExpression(g.Conditions[0])
		if err != nil {
			return nil, err
		}
		return append(inner, ir.UnaryOp(ast.UnaryNot)), nil

	case ast.GroupAll:
		if len(g.Conditions) == 0 {
			return []ir.Instruction{ir.LoadConst(value.Bool(true))}, nil
		}
		return foldConditions(g.Conditions, ast.OpAnd)

	case ast.GroupAny:
		if len(g.Conditions) == 0 {
			return []ir.Instruction{ir.LoadConst(value.Bool(false))}, nil
		}
		return foldConditions(g.Conditions, ast.OpOr)

	default:
		return nil, rferrors.UnsupportedFeature("unknown condition group op: " + string(g.Op))
	}
}

func foldConditions(conds []ast.Expression, op ast.Operator) ([]ir.Instruction, error) {
	first, err := EmitExpression(conds[0])
	if err != nil {
		return nil, err
	}
	instrs := first
	for _, cond := range conds[1:] {
		next, err := EmitExpression(cond)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, next...)
		instrs = append(instrs, ir.BinaryOp(op))
	}
	return instrs, nil
}

// EmitMembership emits a membership comparison (x in list.<id> / x not in
// list.<id>) as a ListLookup instruction instead of the generic BinaryOp
// path, since ListReference has no standalone value representation. The
// expression parser leaves such comparisons as in/not-in Binary nodes whose
// Right operand is a ListReference; EmitExpression's Binary case routes
// those here.
func EmitMembership(left ast.Expression, op ast.Operator, listID string) ([]ir.Instruction, error) {
	leftInstrs, err := EmitExpression(left)
	if err != nil {
		return nil, err
	}
	negate := op == ast.OpNotIn
	return append(leftInstrs, ir.ListLookup(listID, negate)), nil
}
