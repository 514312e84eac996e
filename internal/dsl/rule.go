package dsl

import (
	"gopkg.in/yaml.v3"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/rferrors"
)

// ParseRule parses a rule document (legacy single-document `rule:` root, or
// the multi-document version+imports form wrapping the same root) per
// spec.md §6.
func ParseRule(data []byte) (*ast.RdlDocument[*ast.Rule], error) {
	version, imports, root, err := splitDocuments(data)
	if err != nil {
		return nil, err
	}
	ruleNode := nodeGet(root, "rule")
	if ruleNode == nil {
		return nil, rferrors.MissingField("rule")
	}
	rule, err := parseRuleNode(ruleNode)
	if err != nil {
		return nil, err
	}
	return &ast.RdlDocument[*ast.Rule]{Version: version, Imports: imports, Definition: rule}, nil
}

func parseRuleNode(n *yaml.Node) (*ast.Rule, error) {
	m, err := requireMapping(n, "rule")
	if err != nil {
		return nil, err
	}
	id, err := requireString(nodeGet(m, "id"), "rule.id")
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, rferrors.InvalidValue("rule.id", "rule id must not be empty")
	}
	name, err := decodeString(nodeGet(m, "name"), "rule.name")
	if err != nil {
		return nil, err
	}
	description, err := decodeString(nodeGet(m, "description"), "rule.description")
	if err != nil {
		return nil, err
	}
	when, err := parseWhenBlock(nodeGet(m, "when"))
	if err != nil {
		return nil, err
	}
	scoreNode := nodeGet(m, "score")
	if scoreNode == nil {
		return nil, rferrors.MissingField("rule.score")
	}
	var score int
	if err := scoreNode.Decode(&score); err != nil {
		return nil, rferrors.InvalidValue("rule.score", "score must be an integer")
	}

	return &ast.Rule{
		ID:          id,
		Name:        name,
		Description: description,
		When:        when,
		Score:       score,
	}, nil
}
