package dsl

import (
	"gopkg.in/yaml.v3"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/dsl/exprlang"
	"github.com/ruleflow/engine/internal/rferrors"
)

// parseWhenBlock parses a `when:` mapping per spec.md §4.2: an optional
// event-type filter (spelled either "event.type" or "event_type" — the
// legacy parser's documented ambiguity, see spec.md §9 "Open questions";
// both are accepted and treated as equivalent here) plus either a legacy
// `conditions:` implicit-AND list or a `condition_group:` tree. The two
// condition forms are mutually exclusive.
func parseWhenBlock(n *yaml.Node) (*ast.WhenBlock, error) {
	if n == nil {
		return nil, nil
	}
	m, err := requireMapping(n, "when")
	if err != nil {
		return nil, err
	}

	wb := &ast.WhenBlock{}
	if et := nodeGet(m, "event.type"); et != nil {
		s, err := decodeString(et, "when.event.type")
		if err != nil {
			return nil, err
		}
		wb.EventType = &s
	} else if et := nodeGet(m, "event_type"); et != nil {
		s, err := decodeString(et, "when.event_type")
		if err != nil {
			return nil, err
		}
		wb.EventType = &s
	}

	condsNode := nodeGet(m, "conditions")
	groupNode := nodeGet(m, "condition_group")
	if condsNode != nil && groupNode != nil {
		return nil, rferrors.InvalidValue("when", "conditions and condition_group are mutually exclusive")
	}

	switch {
	case condsNode != nil:
		exprs, err := parseExpressionStringList(condsNode)
		if err != nil {
			return nil, err
		}
		wb.Conditions = &ast.LogicalGroup{Op: ast.GroupAll, Conditions: exprs}
	case groupNode != nil:
		group, err := parseConditionGroup(groupNode)
		if err != nil {
			return nil, err
		}
		wb.Conditions = group
	}
	return wb, nil
}

// parseExpressionStringList parses a YAML sequence of expression strings
// into their compiled ast.Expression trees via exprlang.
func parseExpressionStringList(n *yaml.Node) ([]ast.Expression, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, rferrors.InvalidValue("conditions", "expected a list of expression strings")
	}
	out := make([]ast.Expression, 0, len(n.Content))
	for _, item := range n.Content {
		expr, err := parseConditionItem(item)
		if err != nil {
			return nil, err
		}
		out = append(out, expr)
	}
	return out, nil
}

// parseConditionItem parses one element of a condition list: either an
// expression string or a nested condition_group mapping.
func parseConditionItem(n *yaml.Node) (ast.Expression, error) {
	if n.Kind == yaml.MappingNode {
		return parseConditionGroup(n)
	}
	var s string
	if err := n.Decode(&s); err != nil {
		return nil, rferrors.InvalidValue("conditions", "list item must be an expression string or a nested group")
	}
	return exprlang.Parse(s)
}

// parseConditionGroup parses a mapping carrying exactly one of all/any/not,
// each of which is a list of expression strings and/or nested groups (the
// grammar in spec.md §4.2's condition syntax).
func parseConditionGroup(n *yaml.Node) (ast.Expression, error) {
	if n.Kind != yaml.MappingNode {
		return nil, rferrors.InvalidValue("condition_group", "expected a mapping with one of all/any/not")
	}
	if all := nodeGet(n, "all"); all != nil {
		items, err := parseExpressionStringList(all)
		if err != nil {
			return nil, err
		}
		return &ast.LogicalGroup{Op: ast.GroupAll, Conditions: items}, nil
	}
	if any := nodeGet(n, "any"); any != nil {
		items, err := parseExpressionStringList(any)
		if err != nil {
			return nil, err
		}
		return &ast.LogicalGroup{Op: ast.GroupAny, Conditions: items}, nil
	}
	if not := nodeGet(n, "not"); not != nil {
		items, err := parseExpressionStringList(not)
		if err != nil {
			return nil, err
		}
		return &ast.LogicalGroup{Op: ast.GroupNot, Conditions: items}, nil
	}
	return nil, rferrors.InvalidValue("condition_group", "must specify one of all, any, not")
}
