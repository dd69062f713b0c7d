// Package generate expands a variation specification into concrete variants.
//
// Expansion is deterministic: the same (spec, seed) always yields a
// bit-identical variant sequence, across runs and process restarts. List
// parameters expand exhaustively by variant index (wrapping modulo the list
// length); uniform and gaussian parameters are sampled from a per-variant
// RNG seeded by perVariantSeed. Parameters are always drawn in lexicographic
// name order, so the in-memory iteration order of the parameter map is
// irrelevant.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"variant-engine/internal/cache"
	"variant-engine/internal/shared/model"
	"variant-engine/pkg/logging"
)

// LogicalNameVariants is the cache logical name for serialized variant lists.
const LogicalNameVariants = "variants"

// Generator expands variation specifications, consulting the cache before
// doing any sampling.
type Generator struct {
	cache      *cache.Cache // nil disables caching
	inputFiles []string
	log        *logging.Logger
}

// New creates a Generator. cache may be nil, in which case every call
// regenerates from scratch. inputFiles are additional files (e.g. scenario
// templates referenced by the spec) that participate in the cache key.
func New(c *cache.Cache, log *logging.Logger, inputFiles ...string) *Generator {
	if log == nil {
		log = logging.Default("generate")
	}
	return &Generator{cache: c, inputFiles: inputFiles, log: log}
}

// Generate expands spec into spec.Count variants.
//
// On a cache hit for an identical (spec content, input files) the cached
// list is returned verbatim and sampling is skipped entirely. Cache failures
// of any kind are logged and absorbed; they never abort generation.
//
// Generate never returns a partial sequence: the result is either the full
// ordered variant list or an error.
func (g *Generator) Generate(ctx context.Context, spec *model.VariationSpec) ([]model.Variant, error) {
	if spec.Count <= 0 {
		return nil, fmt.Errorf("%w: count must be > 0, got %d", model.ErrGeneration, spec.Count)
	}
	names := spec.ParameterNames()
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: specification has no parameters", model.ErrGeneration)
	}
	for _, name := range names {
		if err := spec.Parameters[name].Validate(); err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
	}

	key, haveKey := g.cacheKey(spec)
	if haveKey {
		if variants, ok := g.cachedVariants(key); ok {
			g.log.Info("variant list served from cache",
				"count", len(variants), "key", key.Digest)
			return variants, nil
		}
	}

	variants := make([]model.Variant, 0, spec.Count)
	for index := 0; index < spec.Count; index++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrGeneration, err)
		}

		rng := rand.New(rand.NewSource(perVariantSeed(spec.Seed, index)))
		assignment := make(map[string]any, len(names))
		for _, name := range names {
			dist := spec.Parameters[name]
			if dist.Kind == model.DistList {
				assignment[name] = dist.ValueAt(index)
			} else {
				assignment[name] = dist.Sample(rng)
			}
		}

		variants = append(variants, model.Variant{
			Index:      index,
			ID:         spec.VariantID(index),
			Assignment: assignment,
		})
	}

	if haveKey {
		g.storeVariants(key, variants)
	}
	return variants, nil
}

// cacheKey computes the cache key for spec, or reports that caching is
// unavailable for this call.
func (g *Generator) cacheKey(spec *model.VariationSpec) (cache.Key, bool) {
	if g.cache == nil {
		return cache.Key{}, false
	}
	key, err := cache.ComputeKey(g.inputFiles, spec.CacheStrings())
	if err != nil {
		g.log.Warn("cache key computation failed, generating uncached", "error", err.Error())
		return cache.Key{}, false
	}
	return key, true
}

func (g *Generator) cachedVariants(key cache.Key) ([]model.Variant, bool) {
	entry, ok := g.cache.Lookup(key, LogicalNameVariants)
	if !ok {
		return nil, false
	}
	var variants []model.Variant
	if err := json.Unmarshal(entry.Payload, &variants); err != nil {
		g.log.Warn("cached variant list undecodable, regenerating", "error", err.Error())
		return nil, false
	}
	return variants, true
}

func (g *Generator) storeVariants(key cache.Key, variants []model.Variant) {
	payload, err := json.Marshal(variants)
	if err != nil {
		g.log.Warn("variant list serialization failed, skipping cache store", "error", err.Error())
		return
	}
	if err := g.cache.Store(key, LogicalNameVariants, payload); err != nil {
		g.log.Warn("cache store failed", "error", err.Error())
	}
}
