// Package varspec parses variation specification documents.
//
// A specification is a YAML document with top-level count, seed, parameters
// and an optional output_naming template:
//
//	count: 10
//	seed: 42
//	output_naming: "scene-{index}"
//	parameters:
//	  speed:
//	    type: uniform
//	    low: 0
//	    high: 10
//	  profile: [cautious, normal, aggressive]
//
// A parameter bound directly to a YAML sequence is shorthand for a list
// distribution. Parsing is pure: no filesystem access beyond the supplied
// document bytes.
package varspec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"variant-engine/internal/shared/model"
)

type document struct {
	Count        *int      `yaml:"count"`
	Seed         *int64    `yaml:"seed"`
	OutputNaming string    `yaml:"output_naming"`
	Parameters   yaml.Node `yaml:"parameters"`
}

// Parse parses a specification document into a VariationSpec.
//
// Fails with model.ErrSpecParse when count, seed or parameters are absent or
// malformed, model.ErrUnknownDistributionKind for unrecognized type tags, and
// model.ErrDuplicateParameter on parameter name collision.
func Parse(data []byte) (*model.VariationSpec, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSpecParse, err)
	}

	if doc.Count == nil {
		return nil, fmt.Errorf("%w: missing required field %q", model.ErrSpecParse, "count")
	}
	if *doc.Count <= 0 {
		return nil, fmt.Errorf("%w: count must be > 0, got %d", model.ErrSpecParse, *doc.Count)
	}
	if doc.Seed == nil {
		return nil, fmt.Errorf("%w: missing required field %q", model.ErrSpecParse, "seed")
	}

	params, err := parseParameters(&doc.Parameters)
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: at least one parameter is required", model.ErrSpecParse)
	}

	return &model.VariationSpec{
		Parameters:   params,
		Count:        *doc.Count,
		Seed:         *doc.Seed,
		OutputNaming: doc.OutputNaming,
		Raw:          string(data),
	}, nil
}

// ParseFile reads path and delegates to Parse.
func ParseFile(path string) (*model.VariationSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", model.ErrSpecParse, path, err)
	}
	return Parse(data)
}

// parseParameters walks the parameters mapping node directly so duplicate
// keys are detected instead of silently overwritten.
func parseParameters(node *yaml.Node) (map[string]*model.Distribution, error) {
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil, fmt.Errorf("%w: missing required field %q", model.ErrSpecParse, "parameters")
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: parameters must be a mapping", model.ErrSpecParse)
	}

	params := make(map[string]*model.Distribution, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		name := keyNode.Value
		if name == "" {
			return nil, fmt.Errorf("%w: empty parameter name at line %d", model.ErrSpecParse, keyNode.Line)
		}
		if _, exists := params[name]; exists {
			return nil, fmt.Errorf("%w: %q", model.ErrDuplicateParameter, name)
		}

		dist, err := parseDistribution(name, valNode)
		if err != nil {
			return nil, err
		}
		params[name] = dist
	}
	return params, nil
}

func parseDistribution(name string, node *yaml.Node) (*model.Distribution, error) {
	// Sequence shorthand: an explicit list of values.
	if node.Kind == yaml.SequenceNode {
		var values []any
		if err := node.Decode(&values); err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %v", model.ErrSpecParse, name, err)
		}
		dist, err := model.NewList(values)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		return dist, nil
	}

	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: parameter %q must be a mapping or a sequence", model.ErrSpecParse, name)
	}

	var tag struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&tag); err != nil {
		return nil, fmt.Errorf("%w: parameter %q: %v", model.ErrSpecParse, name, err)
	}
	if tag.Type == "" {
		return nil, fmt.Errorf("%w: parameter %q missing distribution type", model.ErrSpecParse, name)
	}

	decode, err := lookupDecoder(tag.Type)
	if err != nil {
		return nil, fmt.Errorf("parameter %q: %w", name, err)
	}
	dist, err := decode(node)
	if err != nil {
		return nil, fmt.Errorf("parameter %q: %w", name, err)
	}
	return dist, nil
}
