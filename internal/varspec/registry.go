// Package varspec parses variation specification documents.
package varspec

import (
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"variant-engine/internal/shared/model"
)

// DecodeFunc decodes one parameter node into a Distribution.
type DecodeFunc func(node *yaml.Node) (*model.Distribution, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]DecodeFunc{}
)

// Register binds a distribution kind name to its decoder. New kinds register
// at process start; registering an existing name replaces the decoder.
func Register(kind string, fn DecodeFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = fn
}

// lookupDecoder returns the decoder for kind, or an ErrUnknownDistributionKind
// naming the registered kinds.
func lookupDecoder(kind string) (DecodeFunc, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[kind]
	if !ok {
		known := make([]string, 0, len(registry))
		for k := range registry {
			known = append(known, k)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("%w: %q (registered: %v)", model.ErrUnknownDistributionKind, kind, known)
	}
	return fn, nil
}

func init() {
	Register(string(model.DistList), decodeList)
	Register(string(model.DistUniform), decodeUniform)
	Register(string(model.DistGaussian), decodeGaussian)
}

func decodeList(node *yaml.Node) (*model.Distribution, error) {
	var doc struct {
		Values []any `yaml:"values"`
	}
	if err := node.Decode(&doc); err != nil {
		return nil, err
	}
	return model.NewList(doc.Values)
}

func decodeUniform(node *yaml.Node) (*model.Distribution, error) {
	var doc struct {
		Low  float64 `yaml:"low"`
		High float64 `yaml:"high"`
	}
	if err := node.Decode(&doc); err != nil {
		return nil, err
	}
	return model.NewUniform(doc.Low, doc.High)
}

func decodeGaussian(node *yaml.Node) (*model.Distribution, error) {
	var doc struct {
		Mean   float64 `yaml:"mean"`
		StdDev float64 `yaml:"stddev"`
	}
	if err := node.Decode(&doc); err != nil {
		return nil, err
	}
	return model.NewGaussian(doc.Mean, doc.StdDev)
}
