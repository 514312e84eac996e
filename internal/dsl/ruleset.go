package dsl

import (
	"gopkg.in/yaml.v3"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/rferrors"
)

// ParseRuleset parses a ruleset document: the same envelope shape as a
// rule, but rooted at `ruleset:` with `rules`, `extends`, `conclusion` and
// `metadata` per spec.md §6.
func ParseRuleset(data []byte) (*ast.RdlDocument[*ast.Ruleset], error) {
	version, imports, root, err := splitDocuments(data)
	if err != nil {
		return nil, err
	}
	rsNode := nodeGet(root, "ruleset")
	if rsNode == nil {
		return nil, rferrors.MissingField("ruleset")
	}
	rs, err := parseRulesetNode(rsNode)
	if err != nil {
		return nil, err
	}
	return &ast.RdlDocument[*ast.Ruleset]{Version: version, Imports: imports, Definition: rs}, nil
}

func parseRulesetNode(n *yaml.Node) (*ast.Ruleset, error) {
	m, err := requireMapping(n, "ruleset")
	if err != nil {
		return nil, err
	}
	id, err := requireString(nodeGet(m, "id"), "ruleset.id")
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, rferrors.InvalidValue("ruleset.id", "ruleset id must not be empty")
	}
	name, err := decodeString(nodeGet(m, "name"), "ruleset.name")
	if err != nil {
		return nil, err
	}
	description, err := decodeString(nodeGet(m, "description"), "ruleset.description")
	if err != nil {
		return nil, err
	}
	extends, err := decodeString(nodeGet(m, "extends"), "ruleset.extends")
	if err != nil {
		return nil, err
	}

	var rules []string
	if err := decodeStringList(nodeGet(m, "rules"), &rules); err != nil {
		return nil, err
	}

	conclusion, err := parseConclusion(nodeGet(m, "conclusion"))
	if err != nil {
		return nil, err
	}

	metadata, err := parseStringMap(nodeGet(m, "metadata"))
	if err != nil {
		return nil, err
	}

	return &ast.Ruleset{
		ID:          id,
		Name:        name,
		Description: description,
		Extends:     extends,
		Rules:       rules,
		Conclusion:  conclusion,
		Metadata:    metadata,
	}, nil
}

func parseConclusion(n *yaml.Node) ([]ast.DecisionRule, error) {
	if n == nil {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, rferrors.InvalidValue("ruleset.conclusion", "expected a list of decision rules")
	}
	out := make([]ast.DecisionRule, 0, len(n.Content))
	for _, item := range n.Content {
		dr, err := parseDecisionRule(item)
		if err != nil {
			return nil, err
		}
		out = append(out, dr)
	}
	return out, nil
}

func parseDecisionRule(n *yaml.Node) (ast.DecisionRule, error) {
	m, err := requireMapping(n, "ruleset.conclusion[]")
	if err != nil {
		return ast.DecisionRule{}, err
	}

	var dr ast.DecisionRule
	if defNode := nodeGet(m, "default"); defNode != nil {
		if err := defNode.Decode(&dr.Default); err != nil {
			return ast.DecisionRule{}, rferrors.InvalidValue("conclusion.default", "must be a boolean")
		}
	}

	if whenNode := nodeGet(m, "when"); whenNode != nil && !dr.Default {
		cond, err := parseConditionItem(whenNode)
		if err != nil {
			return ast.DecisionRule{}, err
		}
		dr.Condition = cond
	}

	signalNode := nodeGet(m, "signal")
	if signalNode == nil {
		signalNode = nodeGet(m, "action") // legacy alias
	}
	if signalNode == nil {
		return ast.DecisionRule{}, rferrors.MissingField("conclusion.signal")
	}
	signalStr, err := decodeString(signalNode, "conclusion.signal")
	if err != nil {
		return ast.DecisionRule{}, err
	}
	signal, ok := ast.NormalizeSignal(signalStr)
	if !ok {
		return ast.DecisionRule{}, rferrors.InvalidValue("conclusion.signal", "unrecognized signal: "+signalStr)
	}
	dr.Signal = signal

	if err := decodeStringList(nodeGet(m, "actions"), &dr.Actions); err != nil {
		return ast.DecisionRule{}, err
	}
	reason, err := decodeString(nodeGet(m, "reason"), "conclusion.reason")
	if err != nil {
		return ast.DecisionRule{}, err
	}
	dr.Reason = reason

	return dr, nil
}

func parseStringMap(n *yaml.Node) (map[string]string, error) {
	if n == nil {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, rferrors.InvalidValue("metadata", "expected a mapping of string to string")
	}
	out := make(map[string]string, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		var val string
		if err := n.Content[i+1].Decode(&val); err != nil {
			return nil, rferrors.InvalidValue("metadata."+key, "expected a string value")
		}
		out[key] = val
	}
	return out, nil
}
