package dsl

import (
	"gopkg.in/yaml.v3"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/dsl/exprlang"
	"github.com/ruleflow/engine/internal/rferrors"
)

// ParsePipeline parses a pipeline document: `pipeline:` root with `id`,
// `when` and `steps:` per spec.md §6. Each step is tagged either by an
// explicit `type:` or by a shorthand key (`include: {ruleset: <id>}`).
func ParsePipeline(data []byte) (*ast.RdlDocument[*ast.Pipeline], error) {
	version, imports, root, err := splitDocuments(data)
	if err != nil {
		return nil, err
	}
	pNode := nodeGet(root, "pipeline")
	if pNode == nil {
		return nil, rferrors.MissingField("pipeline")
	}
	p, err := parsePipelineNode(pNode)
	if err != nil {
		return nil, err
	}
	return &ast.RdlDocument[*ast.Pipeline]{Version: version, Imports: imports, Definition: p}, nil
}

func parsePipelineNode(n *yaml.Node) (*ast.Pipeline, error) {
	m, err := requireMapping(n, "pipeline")
	if err != nil {
		return nil, err
	}
	id, err := requireString(nodeGet(m, "id"), "pipeline.id")
	if err != nil {
		return nil, err
	}
	when, err := parseWhenBlock(nodeGet(m, "when"))
	if err != nil {
		return nil, err
	}
	steps, err := parseSteps(nodeGet(m, "steps"))
	if err != nil {
		return nil, err
	}
	return &ast.Pipeline{ID: id, When: when, Steps: steps}, nil
}

func parseSteps(n *yaml.Node) ([]ast.Step, error) {
	if n == nil {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, rferrors.InvalidValue("steps", "expected a list of steps")
	}
	out := make([]ast.Step, 0, len(n.Content))
	for _, item := range n.Content {
		step, err := parseStep(item)
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, nil
}

func parseStep(n *yaml.Node) (ast.Step, error) {
	m, err := requireMapping(n, "step")
	if err != nil {
		return nil, err
	}

	// Shorthand forms are tagged by a single distinguishing key instead of
	// an explicit `type:`.
	if inc := nodeGet(m, "include"); inc != nil {
		return parseIncludeStep(inc)
	}

	typeNode := nodeGet(m, "type")
	if typeNode == nil {
		return nil, rferrors.MissingField("step.type")
	}
	stepType, err := decodeString(typeNode, "step.type")
	if err != nil {
		return nil, err
	}

	switch stepType {
	case "extract":
		return parseExtractStep(m)
	case "reason":
		return parseReasonStep(m)
	case "service":
		return parseServiceStep(m)
	case "include":
		return parseIncludeStep(m)
	case "branch":
		return parseBranchStep(m)
	case "parallel":
		return parseParallelStep(m)
	case "router":
		return parseRouterStep(m)
	default:
		return nil, rferrors.UnsupportedFeature("pipeline step type: " + stepType)
	}
}

func parseExtractStep(m *yaml.Node) (ast.Step, error) {
	name, err := requireString(nodeGet(m, "feature"), "extract.feature")
	if err != nil {
		return nil, err
	}
	typ, err := decodeString(nodeGet(m, "feature_type"), "extract.feature_type")
	if err != nil {
		return nil, err
	}
	var fieldPath []string
	if fieldNode := nodeGet(m, "field"); fieldNode != nil {
		field, err := decodeString(fieldNode, "extract.field")
		if err != nil {
			return nil, err
		}
		fieldPath = splitDotted(field)
	}
	return &ast.ExtractStep{FeatureName: name, Type: typ, FieldPath: fieldPath}, nil
}

func parseReasonStep(m *yaml.Node) (ast.Step, error) {
	provider, err := decodeString(nodeGet(m, "provider"), "reason.provider")
	if err != nil {
		return nil, err
	}
	model, err := decodeString(nodeGet(m, "model"), "reason.model")
	if err != nil {
		return nil, err
	}
	prompt, err := requireString(nodeGet(m, "prompt"), "reason.prompt")
	if err != nil {
		return nil, err
	}
	varName, err := decodeString(nodeGet(m, "var"), "reason.var")
	if err != nil {
		return nil, err
	}
	return &ast.ReasonStep{Provider: provider, Model: model, Prompt: prompt, VarName: varName}, nil
}

func parseServiceStep(m *yaml.Node) (ast.Step, error) {
	service, err := requireString(nodeGet(m, "service"), "service.service")
	if err != nil {
		return nil, err
	}
	operation, err := requireString(nodeGet(m, "operation"), "service.operation")
	if err != nil {
		return nil, err
	}
	varName, err := decodeString(nodeGet(m, "var"), "service.var")
	if err != nil {
		return nil, err
	}
	params, err := parseParamMap(nodeGet(m, "params"))
	if err != nil {
		return nil, err
	}
	return &ast.ServiceStep{Service: service, Operation: operation, Params: params, VarName: varName}, nil
}

func parseParamMap(n *yaml.Node) (map[string]ast.Expression, error) {
	if n == nil {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, rferrors.InvalidValue("params", "expected a mapping")
	}
	out := make(map[string]ast.Expression, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		valNode := n.Content[i+1]
		var raw string
		if err := valNode.Decode(&raw); err != nil {
			return nil, rferrors.InvalidValue("params."+key, "expected an expression string")
		}
		expr, err := exprlang.Parse(raw)
		if err != nil {
			return nil, err
		}
		out[key] = expr
	}
	return out, nil
}

func parseIncludeStep(n *yaml.Node) (ast.Step, error) {
	m, err := requireMapping(n, "include")
	if err != nil {
		return nil, err
	}
	rulesetID, err := requireString(nodeGet(m, "ruleset"), "include.ruleset")
	if err != nil {
		return nil, err
	}
	return &ast.IncludeStep{RulesetID: rulesetID}, nil
}

func parseBranchStep(m *yaml.Node) (ast.Step, error) {
	condStr, err := requireString(nodeGet(m, "condition"), "branch.condition")
	if err != nil {
		return nil, err
	}
	cond, err := exprlang.Parse(condStr)
	if err != nil {
		return nil, err
	}
	then, err := parseSteps(nodeGet(m, "then"))
	if err != nil {
		return nil, err
	}
	els, err := parseSteps(nodeGet(m, "else"))
	if err != nil {
		return nil, err
	}
	return &ast.BranchStep{Condition: cond, Then: then, Else: els}, nil
}

func parseParallelStep(m *yaml.Node) (ast.Step, error) {
	branchesNode := nodeGet(m, "branches")
	if branchesNode == nil {
		return nil, rferrors.MissingField("parallel.branches")
	}
	if branchesNode.Kind != yaml.SequenceNode {
		return nil, rferrors.InvalidValue("parallel.branches", "expected a list of step lists")
	}
	branches := make([][]ast.Step, 0, len(branchesNode.Content))
	for _, b := range branchesNode.Content {
		steps, err := parseSteps(b)
		if err != nil {
			return nil, err
		}
		branches = append(branches, steps)
	}
	merge, err := decodeString(nodeGet(m, "merge"), "parallel.merge")
	if err != nil {
		return nil, err
	}
	if merge == "" {
		merge = "all"
	}
	return &ast.ParallelStep{Branches: branches, Merge: merge}, nil
}

func parseRouterStep(m *yaml.Node) (ast.Step, error) {
	routesNode := nodeGet(m, "routes")
	if routesNode == nil {
		return nil, rferrors.MissingField("router.routes")
	}
	if routesNode.Kind != yaml.SequenceNode {
		return nil, rferrors.InvalidValue("router.routes", "expected a list of routes")
	}
	routes := make([]ast.RouterRoute, 0, len(routesNode.Content))
	for _, r := range routesNode.Content {
		rm, err := requireMapping(r, "router.routes[]")
		if err != nil {
			return nil, err
		}
		whenStr, err := requireString(nodeGet(rm, "when"), "router.routes[].when")
		if err != nil {
			return nil, err
		}
		cond, err := exprlang.Parse(whenStr)
		if err != nil {
			return nil, err
		}
		then, err := parseSteps(nodeGet(rm, "then"))
		if err != nil {
			return nil, err
		}
		routes = append(routes, ast.RouterRoute{When: cond, Then: then})
	}
	def, err := parseSteps(nodeGet(m, "default"))
	if err != nil {
		return nil, err
	}
	return &ast.RouterStep{Routes: routes, Default: def}, nil
}

func splitDotted(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
