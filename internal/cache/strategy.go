package cache

import (
	"strconv"
	"strings"

	"github.com/Benny93/relcount-go/internal/descriptor"
	"github.com/Benny93/relcount-go/internal/graph"
)

// PropertyExtractor returns the properties of rel that are cached, as seen
// from pointOfView.
type PropertyExtractor func(rel *graph.GraphRelationship, pointOfView string) map[string]string

// WeighingFunc returns how much rel contributes to the count of pointOfView.
// It must be positive.
type WeighingFunc func(rel *graph.GraphRelationship, pointOfView string) int

// InclusionPolicy decides whether rel is counted at all.
type InclusionPolicy func(rel *graph.GraphRelationship) bool

// ExtractAll caches every relationship property.
func ExtractAll() PropertyExtractor {
	return func(rel *graph.GraphRelationship, _ string) map[string]string {
		return descriptor.Stringify(rel.Properties)
	}
}

// ExtractNone caches no properties; counts are kept per type and direction.
func ExtractNone() PropertyExtractor {
	return func(*graph.GraphRelationship, string) map[string]string {
		return map[string]string{}
	}
}

// ExtractKeys caches only the listed properties.
func ExtractKeys(keys ...string) PropertyExtractor {
	return func(rel *graph.GraphRelationship, _ string) map[string]string {
		out := make(map[string]string, len(keys))
		for k, v := range descriptor.Stringify(rel.Properties) {
			for _, want := range keys {
				if k == want {
					out[k] = v
				}
			}
		}
		return out
	}
}

// OnePerRelationship weighs every relationship as 1.
func OnePerRelationship() WeighingFunc {
	return func(*graph.GraphRelationship, string) int {
		return 1
	}
}

// WeighByProperty reads the weight from a numeric relationship property,
// falling back to fallback when it is missing, unparsable or not positive.
func WeighByProperty(key string, fallback int) WeighingFunc {
	return func(rel *graph.GraphRelationship, _ string) int {
		v, ok := rel.Properties[key]
		if !ok {
			return fallback
		}
		var w int
		switch n := v.(type) {
		case string:
			parsed, err := strconv.Atoi(strings.TrimSpace(n))
			if err != nil {
				return fallback
			}
			w = parsed
		default:
			parsed, err := toInt(v)
			if err != nil {
				return fallback
			}
			w = parsed
		}
		if w <= 0 {
			return fallback
		}
		return w
	}
}

// IncludeAll counts every relationship.
func IncludeAll() InclusionPolicy {
	return func(*graph.GraphRelationship) bool {
		return true
	}
}

// IncludeTypes counts only relationships of the listed types.
func IncludeTypes(types ...graph.RelType) InclusionPolicy {
	allowed := make(map[graph.RelType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return func(rel *graph.GraphRelationship) bool {
		return allowed[rel.Type]
	}
}
