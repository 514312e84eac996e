package features

import (
	"context"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/dsl/exprlang"
	"github.com/ruleflow/engine/internal/reqcontext"
	"github.com/ruleflow/engine/internal/rferrors"
	"github.com/ruleflow/engine/internal/vm"
	"github.com/ruleflow/engine/pkg/value"
)

// computeExpression evaluates a MethodExpression Definition: its Expr
// references other feature names by bare identifier, which the expression
// grammar parses as *ast.ResultAccess (the grammar only treats the fixed
// context namespaces as FieldAccess, per internal/dsl/exprlang). Dependency
// features are resolved first (topologically, so a dependency's own
// dependencies are ready before it is), then substituted into the formula.
func (e *Engine) computeExpression(ctx context.Context, rc *reqcontext.Context, def Definition) (value.Value, error) {
	expr, err := exprlang.Parse(def.Expr)
	if err != nil {
		return value.Null, err
	}

	deps := map[string]bool{}
	collectDependencies(expr, deps)

	order, err := topoSort(def.Name, deps, e.defs)
	if err != nil {
		return value.Null, err
	}

	resolved := make(map[string]value.Value, len(order))
	for _, dep := range order {
		v, err := e.resolve(ctx, rc, dep, "", nil)
		if err != nil {
			return value.Null, err
		}
		resolved[dep] = v
	}

	v, err := evalArithmetic(expr, resolved)
	if err != nil {
		if rferrors.IsKind(err, rferrors.KindDivisionByZero) {
			return value.Null, nil
		}
		return value.Null, err
	}
	return v, nil
}

// collectDependencies walks expr gathering every identifier referenced as a
// bare ResultAccess (the expression grammar's shape for an identifier that
// is not one of the fixed context namespaces) — these are the feature names
// an expression feature's formula depends on.
func collectDependencies(expr ast.Expression, out map[string]bool) {
	switch e := expr.(type) {
	case *ast.ResultAccess:
		if e.RulesetID == nil {
			out[e.Field] = true
		}
	case *ast.Binary:
		collectDependencies(e.Left, out)
		collectDependencies(e.Right, out)
	case *ast.Unary:
		collectDependencies(e.Operand, out)
	}
}

// topoSort orders a feature and its transitive expression dependencies so
// every dependency is computed before its dependent. Non-expression
// dependencies are leaves. A dependency cycle reports CircularExtends-style
// via UnsupportedFeature, since rferrors has no dedicated cycle kind for
// features.
func topoSort(root string, directDeps map[string]bool, defs map[string]Definition) ([]string, error) {
	visited := map[string]int{} // 0=unvisited 1=visiting 2=done
	var order []string

	var visit func(name string) error
	visit = func(name string) error {
		switch visited[name] {
		case 2:
			return nil
		case 1:
			return rferrors.UnsupportedFeature("circular expression feature dependency: " + name)
		}
		visited[name] = 1
		if def, ok := defs[name]; ok && def.Method == MethodExpression {
			childExpr, err := exprlang.Parse(def.Expr)
			if err == nil {
				children := map[string]bool{}
				collectDependencies(childExpr, children)
				for _, child := range sortedNames(children) {
					if err := visit(child); err != nil {
						return err
					}
				}
			}
		}
		visited[name] = 2
		order = append(order, name)
		return nil
	}

	for _, dep := range sortedNames(directDeps) {
		if err := visit(dep); err != nil {
			return nil, err
		}
	}
	_ = root
	return order, nil
}

// evalArithmetic walks a parsed expression substituting resolved feature
// values for ResultAccess leaves, reusing vm.ApplyBinary/ApplyUnary so
// arithmetic semantics (including Null propagation) never diverge from the
// compiled VM path. Only +,-,*,/ and parenthesization are meaningful here;
// any other operator is a compile-time mistake in the feature's Expr.
func evalArithmetic(expr ast.Expression, resolved map[string]value.Value) (value.Value, error) {
	switch e := expr.(type) {
	case *ast.Literal:
		return e.Value, nil
	case *ast.ResultAccess:
		if e.RulesetID != nil {
			return value.Null, rferrors.UnsupportedFeature("ruleset-qualified reference in feature expression: " + e.String())
		}
		v, ok := resolved[e.Field]
		if !ok {
			return value.Null, rferrors.UnknownReference("feature", e.Field)
		}
		return v, nil
	case *ast.Unary:
		operand, err := evalArithmetic(e.Operand, resolved)
		if err != nil {
			return value.Null, err
		}
		return vm.ApplyUnary(e.Op, operand)
	case *ast.Binary:
		left, err := evalArithmetic(e.Left, resolved)
		if err != nil {
			return value.Null, err
		}
		right, err := evalArithmetic(e.Right, resolved)
		if err != nil {
			return value.Null, err
		}
		return vm.ApplyBinary(left, e.Op, right)
	default:
		return value.Null, rferrors.UnsupportedFeature("unsupported node in feature expression")
	}
}
