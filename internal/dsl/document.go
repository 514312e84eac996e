// Package dsl parses the YAML DSL described in spec.md §4.2 and §6 into the
// internal/ast tree: rules, rulesets, pipelines, the pipeline registry and
// the generic RdlDocument{version, imports, definition} envelope. Condition
// expressions embedded as strings are delegated to internal/dsl/exprlang.
//
// Grounded on the teacher's participle-based config loading idiom for the
// general shape of "small DSL parser as its own package", generalized to
// gopkg.in/yaml.v3 node-walking since the reference format is YAML
// documents, not a custom token language (see internal/dsl/exprlang for
// where the teacher's actual grammar technique survives, adapted to the
// embedded expression mini-language).
package dsl

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/rferrors"
)

// splitDocuments decodes every YAML document in data and classifies the
// result per spec.md §4.2: a single document is the legacy shape with no
// imports; two or more documents means the first carries version+imports
// and the last is the actual rule/ruleset/pipeline/registry definition (any
// documents in between are ignored).
func splitDocuments(data []byte) (version string, imports *ast.Imports, definition *yaml.Node, err error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var docs []*yaml.Node
	for {
		var n yaml.Node
		derr := dec.Decode(&n)
		if derr == io.EOF {
			break
		}
		if derr != nil {
			return "", nil, nil, rferrors.YamlError(derr)
		}
		docs = append(docs, unwrapDocument(&n))
	}
	if len(docs) == 0 {
		return "", nil, nil, rferrors.MissingField("document")
	}
	if len(docs) == 1 {
		return "0.1", nil, docs[0], nil
	}
	v, imp, perr := parseEnvelope(docs[0])
	if perr != nil {
		return "", nil, nil, perr
	}
	return v, imp, docs[len(docs)-1], nil
}

// unwrapDocument strips the yaml.DocumentNode wrapper Decode produces,
// returning the actual root mapping/sequence/scalar node.
func unwrapDocument(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		return n.Content[0]
	}
	return n
}

func parseEnvelope(n *yaml.Node) (string, *ast.Imports, error) {
	if n.Kind != yaml.MappingNode {
		return "", nil, rferrors.InvalidValue("document", "import envelope must be a mapping")
	}
	version := "0.1"
	if v := nodeGet(n, "version"); v != nil {
		if err := v.Decode(&version); err != nil {
			return "", nil, rferrors.YamlError(err)
		}
	}
	importsNode := nodeGet(n, "imports")
	if importsNode == nil {
		return version, nil, nil
	}
	imports := &ast.Imports{}
	if err := decodeStringList(nodeGet(importsNode, "rules"), &imports.Rules); err != nil {
		return "", nil, err
	}
	if err := decodeStringList(nodeGet(importsNode, "rulesets"), &imports.Rulesets); err != nil {
		return "", nil, err
	}
	if err := decodeStringList(nodeGet(importsNode, "pipelines"), &imports.Pipelines); err != nil {
		return "", nil, err
	}
	if err := decodeStringList(nodeGet(importsNode, "templates"), &imports.Templates); err != nil {
		return "", nil, err
	}
	return version, imports, nil
}

func decodeStringList(n *yaml.Node, out *[]string) error {
	if n == nil {
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		return rferrors.InvalidValue("imports", "expected a list of paths")
	}
	items := make([]string, 0, len(n.Content))
	for _, item := range n.Content {
		var s string
		if err := item.Decode(&s); err != nil {
			return rferrors.YamlError(err)
		}
		items = append(items, s)
	}
	*out = items
	return nil
}

// nodeGet returns the value node for key in a mapping node, or nil if the
// mapping is nil or the key is absent.
func nodeGet(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func requireMapping(n *yaml.Node, what string) (*yaml.Node, error) {
	if n == nil {
		return nil, rferrors.MissingField(what)
	}
	if n.Kind != yaml.MappingNode {
		return nil, rferrors.InvalidValue(what, "expected a mapping")
	}
	return n, nil
}

func decodeString(n *yaml.Node, field string) (string, error) {
	if n == nil {
		return "", nil
	}
	var s string
	if err := n.Decode(&s); err != nil {
		return "", rferrors.InvalidValue(field, fmt.Sprintf("expected a string: %v", err))
	}
	return s, nil
}

func requireString(n *yaml.Node, field string) (string, error) {
	if n == nil {
		return "", rferrors.MissingField(field)
	}
	return decodeString(n, field)
}
