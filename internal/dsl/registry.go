package dsl

import (
	"gopkg.in/yaml.v3"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/rferrors"
)

// ParseRegistry parses a pipeline registry document: `version:` plus a
// `registry:` list of {when, pipeline} entries, evaluated top-down by
// internal/router per spec.md §4.8/§6.
func ParseRegistry(data []byte) (*ast.PipelineRegistry, error) {
	var n yaml.Node
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, rferrors.YamlError(err)
	}
	root := unwrapDocument(&n)
	m, err := requireMapping(root, "registry document")
	if err != nil {
		return nil, err
	}

	version, err := decodeString(nodeGet(m, "version"), "version")
	if err != nil {
		return nil, err
	}
	if version == "" {
		version = "0.1"
	}

	entriesNode := nodeGet(m, "registry")
	if entriesNode == nil {
		return nil, rferrors.MissingField("registry")
	}
	if entriesNode.Kind != yaml.SequenceNode {
		return nil, rferrors.InvalidValue("registry", "expected a list of entries")
	}

	entries := make([]ast.RegistryEntry, 0, len(entriesNode.Content))
	for _, item := range entriesNode.Content {
		em, err := requireMapping(item, "registry[]")
		if err != nil {
			return nil, err
		}
		pipelineID, err := requireString(nodeGet(em, "pipeline"), "registry[].pipeline")
		if err != nil {
			return nil, err
		}
		when, err := parseWhenBlock(nodeGet(em, "when"))
		if err != nil {
			return nil, err
		}
		entries = append(entries, ast.RegistryEntry{PipelineID: pipelineID, When: when})
	}

	return &ast.PipelineRegistry{Version: version, Entries: entries}, nil
}
