package compact

import (
	"sort"

	"github.com/Benny93/relcount-go/internal/cache"
	"github.com/Benny93/relcount-go/internal/descriptor"
)

// Strategy picks the next generalization to merge cached counts into. It
// returns false when no generalization covers at least two cached entries.
type Strategy interface {
	Generalize(degrees cache.Degrees) (descriptor.Descriptor, bool)
}

// LeastGeneral tries every generalization of every cached descriptor, most
// specific first, and picks the first one covering at least two entries.
type LeastGeneral struct{}

// Generalize implements Strategy.
func (LeastGeneral) Generalize(degrees cache.Degrees) (descriptor.Descriptor, bool) {
	cached := degrees.Descriptors()
	for _, candidate := range descriptor.GenerateAllMoreGeneralOf(cached) {
		if countCovered(candidate, cached) >= 2 {
			return candidate, true
		}
	}
	return descriptor.Descriptor{}, false
}

// FrequentlyChanging generalizes away the property keys whose values vary
// the most within a family first, keeping stable keys around longer.
type FrequentlyChanging struct{}

type keyFrequency struct {
	family    string
	key       string
	frequency float64
}

type familyStats struct {
	degree    int
	values    map[string]map[string]bool
	wildcards map[string]int
}

// Generalize implements Strategy.
func (FrequentlyChanging) Generalize(degrees cache.Degrees) (descriptor.Descriptor, bool) {
	cached := degrees.Descriptors()
	used := make(map[string][][]string)

	for _, f := range keyFrequencies(degrees) {
		sets := [][]string{{f.key}}
		for _, prev := range used[f.family] {
			sets = append(sets, append(append([]string{}, prev...), f.key))
		}
		used[f.family] = append(used[f.family], sets...)

		for _, keys := range sets {
			if best, ok := bestGeneralization(cached, f.family, keys); ok {
				return best, true
			}
		}
	}

	// Keyless literals are only merged by dropping the literal marker.
	for _, candidate := range cached {
		if !candidate.IsLiteral() {
			continue
		}
		if countCovered(candidate.AsGeneral(), cached) >= 2 {
			return candidate.AsGeneral(), true
		}
	}
	return descriptor.Descriptor{}, false
}

// keyFrequencies ranks every (family, key) pair by how many distinct values
// the key takes relative to the family's total count.
func keyFrequencies(degrees cache.Degrees) []keyFrequency {
	stats := make(map[string]*familyStats)
	for _, deg := range degrees {
		family := deg.Descriptor.Family()
		s, ok := stats[family]
		if !ok {
			s = &familyStats{values: make(map[string]map[string]bool), wildcards: make(map[string]int)}
			stats[family] = s
		}
		s.degree += deg.Count
		for _, key := range deg.Descriptor.Properties.Keys() {
			if s.values[key] == nil {
				s.values[key] = make(map[string]bool)
			}
		}
	}

	for _, deg := range degrees {
		s := stats[deg.Descriptor.Family()]
		props := deg.Descriptor.Properties
		for key := range s.values {
			if v, ok := props.Value(key); ok {
				s.values[key][v] = true
				continue
			}
			if props.IsLiteral() {
				s.values[key][descriptor.UndefinedValue] = true
			} else {
				s.wildcards[key] += deg.Count
			}
		}
	}

	var out []keyFrequency
	for family, s := range stats {
		for key, values := range s.values {
			out = append(out, keyFrequency{
				family:    family,
				key:       key,
				frequency: float64(len(values)+s.wildcards[key]) / float64(s.degree+1),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].frequency != out[j].frequency {
			return out[i].frequency > out[j].frequency
		}
		if out[i].family != out[j].family {
			return out[i].family < out[j].family
		}
		return out[i].key < out[j].key
	})
	return out
}

// bestGeneralization drops keys from every cached descriptor of family and
// returns the result covering the most entries, if it covers more than one.
func bestGeneralization(cached []descriptor.Descriptor, family string, keys []string) (descriptor.Descriptor, bool) {
	var best descriptor.Descriptor
	maxMatches := 1
	for _, candidate := range cached {
		if candidate.Family() != family {
			continue
		}
		g := candidate.AsGeneral()
		for _, key := range keys {
			g = g.Without(key)
		}
		if matches := countCovered(g, cached); matches > maxMatches {
			maxMatches = matches
			best = g
		}
	}
	return best, maxMatches > 1
}

func countCovered(g descriptor.Descriptor, cached []descriptor.Descriptor) int {
	n := 0
	for _, d := range cached {
		if g.IsMoreGeneralThan(d) {
			n++
		}
	}
	return n
}
