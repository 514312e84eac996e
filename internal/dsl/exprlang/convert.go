package exprlang

import (
	"fmt"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/rferrors"
	"github.com/ruleflow/engine/pkg/value"
)

// namespaces is the fixed set of context-builder roots (spec.md §4.9); a
// dotted path whose first segment is none of these is a ResultAccess
// instead of a FieldAccess — it reads a prior rule/ruleset's accumulated
// state (total_score, payment_base.score), not the request context.
var namespaces = map[string]bool{
	"event": true, "user": true, "features": true, "api": true,
	"service": true, "llm": true, "vars": true, "sys": true, "env": true,
}

// Parse compiles a single expression string (as found in a `when` /
// `conditions` / `condition_group` YAML string) into an ast.Expression.
func Parse(src string) (ast.Expression, error) {
	tree, err := grammarParser.ParseString("", src)
	if err != nil {
		return nil, rferrors.InvalidValue("expression", fmt.Sprintf("%q: %v", src, err))
	}
	return convertTernary(tree)
}

func convertTernary(t *Ternary) (ast.Expression, error) {
	cond, err := convertOr(t.Cond)
	if err != nil {
		return nil, err
	}
	if t.Tail == nil {
		return cond, nil
	}
	then, err := convertTernary(t.Tail.Then)
	if err != nil {
		return nil, err
	}
	els, err := convertTernary(t.Tail.Else)
	if err != nil {
		return nil, err
	}
	return &ast.Ternary{Cond: cond, Then: then, Else: els}, nil
}

func convertOr(o *OrExpr) (ast.Expression, error) {
	return foldBinary(o.Terms, ast.OpOr, convertAnd)
}

func convertAnd(a *AndExpr) (ast.Expression, error) {
	return foldBinary(a.Terms, ast.OpAnd, convertNot)
}

func foldBinary[T any](terms []T, op ast.Operator, conv func(T) (ast.Expression, error)) (ast.Expression, error) {
	if len(terms) == 0 {
		return nil, rferrors.InvalidValue("expression", "empty operand list")
	}
	result, err := conv(terms[0])
	if err != nil {
		return nil, err
	}
	for _, t := range terms[1:] {
		next, err := conv(t)
		if err != nil {
			return nil, err
		}
		result = &ast.Binary{Left: result, Op: op, Right: next}
	}
	return result, nil
}

func convertNot(n *NotExpr) (ast.Expression, error) {
	cmp, err := convertComparison(n.Cmp)
	if err != nil {
		return nil, err
	}
	if n.Negate {
		return &ast.Unary{Op: ast.UnaryNot, Operand: cmp}, nil
	}
	return cmp, nil
}

func convertComparison(c *Comparison) (ast.Expression, error) {
	left, err := convertAdditive(c.Left)
	if err != nil {
		return nil, err
	}
	if c.Tail == nil {
		return left, nil
	}
	if c.Tail.Binary != nil {
		right, err := convertAdditive(c.Tail.Binary.Right)
		if err != nil {
			return nil, err
		}
		op, err := binaryCompOp(c.Tail.Binary.Op)
		if err != nil {
			return nil, err
		}
		return &ast.Binary{Left: left, Op: op, Right: right}, nil
	}
	mt := c.Tail.Member
	op := ast.OpIn
	if mt.Negate {
		op = ast.OpNotIn
	}
	right, err := convertAdditive(mt.Right)
	if err != nil {
		return nil, err
	}
	return &ast.Binary{Left: left, Op: op, Right: right}, nil
}

func binaryCompOp(tok string) (ast.Operator, error) {
	switch tok {
	case "==":
		return ast.OpEq, nil
	case "!=":
		return ast.OpNe, nil
	case "<":
		return ast.OpLt, nil
	case "<=":
		return ast.OpLe, nil
	case ">":
		return ast.OpGt, nil
	case ">=":
		return ast.OpGe, nil
	case "contains":
		return ast.OpContains, nil
	case "starts_with":
		return ast.OpStartsWith, nil
	case "ends_with":
		return ast.OpEndsWith, nil
	case "matches":
		return ast.OpRegex, nil
	default:
		return "", rferrors.UnsupportedFeature("comparison operator: " + tok)
	}
}

func convertAdditive(a *Additive) (ast.Expression, error) {
	left, err := convertMultiplicative(a.Left)
	if err != nil {
		return nil, err
	}
	for _, add := range a.Ops {
		right, err := convertMultiplicative(add.Right)
		if err != nil {
			return nil, err
		}
		op := ast.OpAdd
		if add.Op == "-" {
			op = ast.OpSub
		}
		left = &ast.Binary{Left: left, Op: op, Right: right}
	}
	return left, nil
}

func convertMultiplicative(m *Multiplicative) (ast.Expression, error) {
	left, err := convertUnary(m.Left)
	if err != nil {
		return nil, err
	}
	for _, mul := range m.Ops {
		right, err := convertUnary(mul.Right)
		if err != nil {
			return nil, err
		}
		var op ast.Operator
		switch mul.Op {
		case "*":
			op = ast.OpMul
		case "/":
			op = ast.OpDiv
		default:
			op = ast.OpMod
		}
		left = &ast.Binary{Left: left, Op: op, Right: right}
	}
	return left, nil
}

func convertUnary(u *Unary) (ast.Expression, error) {
	val, err := convertPrimary(u.Value)
	if err != nil {
		return nil, err
	}
	if u.Negate {
		return &ast.Unary{Op: ast.UnaryNegate, Operand: val}, nil
	}
	return val, nil
}

func convertPrimary(p *Primary) (ast.Expression, error) {
	switch {
	case p.Literal != nil:
		return convertLiteral(p.Literal)
	case p.Call != nil:
		return convertCall(p.Call)
	case p.List != nil:
		return convertListLiteral(p.List)
	case p.FieldRef != nil:
		return convertFieldRef(p.FieldRef), nil
	case p.Paren != nil:
		return convertTernary(p.Paren)
	default:
		return nil, rferrors.InvalidValue("expression", "empty primary production")
	}
}

func convertLiteral(l *Literal) (ast.Expression, error) {
	switch {
	case l.Str != nil:
		return &ast.Literal{Value: value.String(*l.Str)}, nil
	case l.Float != nil:
		return &ast.Literal{Value: value.Number(*l.Float)}, nil
	case l.Int != nil:
		return &ast.Literal{Value: value.Number(float64(*l.Int))}, nil
	case l.Bool != nil:
		return &ast.Literal{Value: value.Bool(*l.Bool == "true")}, nil
	case l.Null:
		return &ast.Literal{Value: value.Null}, nil
	default:
		return nil, rferrors.InvalidValue("expression", "empty literal production")
	}
}

func convertCall(c *Call) (ast.Expression, error) {
	args := make([]ast.Expression, 0, len(c.Args))
	for _, a := range c.Args {
		expr, err := convertTernary(a)
		if err != nil {
			return nil, err
		}
		args = append(args, expr)
	}
	return &ast.FunctionCall{Name: c.Name, Args: args}, nil
}

func convertListLiteral(l *ListLiteral) (ast.Expression, error) {
	items := make([]value.Value, 0, len(l.Items))
	for _, lit := range l.Items {
		expr, err := convertLiteral(lit)
		if err != nil {
			return nil, err
		}
		items = append(items, expr.(*ast.Literal).Value)
	}
	return &ast.Literal{Value: value.Array(items)}, nil
}

// convertFieldRef disambiguates a dotted identifier path into a
// ListReference (list.<id>), a FieldAccess (rooted at a known namespace) or
// a ResultAccess (anything else — a prior rule/ruleset's accumulated
// result).
func convertFieldRef(f *FieldRef) ast.Expression {
	if len(f.Path) >= 2 && f.Path[0] == "list" {
		return &ast.ListReference{ListID: joinRest(f.Path[1:])}
	}
	if namespaces[f.Path[0]] {
		return &ast.FieldAccess{Path: f.Path}
	}
	if len(f.Path) == 1 {
		return &ast.ResultAccess{Field: f.Path[0]}
	}
	rulesetID := f.Path[0]
	return &ast.ResultAccess{RulesetID: &rulesetID, Field: joinRest(f.Path[1:])}
}

func joinRest(path []string) string {
	out := path[0]
	for _, p := range path[1:] {
		out += "." + p
	}
	return out
}
