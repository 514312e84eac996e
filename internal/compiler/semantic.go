package compiler

import (
	"fmt"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/rferrors"
)

// analyzeRule validates a single rule in isolation: non-empty id, and (when
// a Universe with list ids is supplied, e.g. during ruleset analysis) that
// any list references the rule's guard makes resolve. The score is not
// checked here.
// Grounded on the reference compiler's semantic_analyzer.rs rule checks.
func analyzeRule(rule *ast.Rule, uni *Universe) error {
	if rule.ID == "" {
		return rferrors.InvalidValue("rule.id", "rule id must not be empty")
	}
	if rule.When != nil && rule.When.Conditions != nil {
		if err := analyzeExpression(rule.When.Conditions, uni); err != nil {
			return fmt.Errorf("rule %q: %w", rule.ID, err)
		}
	}
	return nil
}

// analyzeRuleset validates a ruleset's own fields plus every rule it
// references and every decision rule in its conclusion.
func analyzeRuleset(rs *ast.Ruleset, uni *Universe) error {
	if rs.ID == "" {
		return rferrors.InvalidValue("ruleset.id", "ruleset id must not be empty")
	}
	if uni == nil {
		uni = NewUniverse()
	}

	for _, ruleID := range rs.Rules {
		rule, ok := uni.Rules[ruleID]
		if !ok {
			return rferrors.UnknownReference("rule", ruleID)
		}
		if err := analyzeRule(rule, uni); err != nil {
			return err
		}
	}

	if len(rs.Conclusion) == 0 {
		return rferrors.InvalidValue("ruleset.conclusion", "conclusion must have at least one decision rule")
	}
	for i, dr := range rs.Conclusion {
		isLast := i == len(rs.Conclusion)-1
		if dr.Default && !isLast {
			return rferrors.InvalidValue("ruleset.conclusion", "default decision rule must be the last entry")
		}
		if !dr.Default {
			if dr.Condition == nil {
				return rferrors.InvalidValue("ruleset.conclusion", "non-default decision rule requires a condition")
			}
			if err := analyzeExpression(dr.Condition, uni); err != nil {
				return fmt.Errorf("ruleset %q conclusion[%d]: %w", rs.ID, i, err)
			}
		}
		if _, ok := ast.NormalizeSignal(string(dr.Signal)); !ok {
			return rferrors.InvalidValue("ruleset.conclusion.signal", "unrecognized signal: "+string(dr.Signal))
		}
	}
	if !rs.Conclusion[len(rs.Conclusion)-1].Default {
		return rferrors.InvalidValue("ruleset.conclusion", "conclusion must end with a default decision rule")
	}
	return nil
}

// analyzeExpression walks an expression tree checking that every list
// reference names a list the Universe knows about. Unconfigured lists are a
// VM-time false+warn concern (spec.md §4.9), not a compile-time error, so
// ListIDs is only consulted when non-empty — an empty set means "no list
// universe was supplied," not "no lists exist." Result accesses are not
// checked against the Universe.
func analyzeExpression(expr ast.Expression, uni *Universe) error {
	switch e := expr.(type) {
	case *ast.Literal, *ast.FieldAccess:
		return nil
	case *ast.Binary:
		if err := analyzeExpression(e.Left, uni); err != nil {
			return err
		}
		return analyzeExpression(e.Right, uni)
	case *ast.Unary:
		return analyzeExpression(e.Operand, uni)
	case *ast.Ternary:
		if err := analyzeExpression(e.Cond, uni); err != nil {
			return err
		}
		if err := analyzeExpression(e.Then, uni); err != nil {
			return err
		}
		return analyzeExpression(e.Else, uni)
	case *ast.LogicalGroup:
		for _, c := range e.Conditions {
			if err := analyzeExpression(c, uni); err != nil {
				return err
			}
		}
		return nil
	case *ast.ListReference:
		if uni != nil && len(uni.ListIDs) > 0 && !uni.ListIDs[e.ListID] {
			return rferrors.UnknownReference("list", e.ListID)
		}
		return nil
	case *ast.FunctionCall:
		for _, a := range e.Args {
			if err := analyzeExpression(a, uni); err != nil {
				return err
			}
		}
		return nil
	case *ast.ResultAccess:
		return nil
	default:
		return rferrors.UnsupportedFeature("unknown expression node in semantic analysis")
	}
}
