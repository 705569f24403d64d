// Package descriptor models edge descriptors: a relationship type, a
// direction and a set of property constraints.
//
// Descriptors are partially ordered by generality. A descriptor with fewer
// constraints is more general than one whose constraints are a superset of
// its own, and two descriptors constraining the same key to different values
// are incomparable. On top of the partial order, Compare provides a total
// order used for storage and iteration (most specific first).
//
// A PropertySet is interpreted in one of two modes. In General mode a key
// that is absent from the set matches any value. In Literal mode an absent
// key is bound to UndefinedValue, so a literal set describes exactly one
// shape of property map. UndefinedValue is reserved: a key given that value
// is dropped, so it reads as absent in either mode.
package descriptor

import (
	"fmt"
	"sort"
)

const (
	// UndefinedValue is the value a literal property set binds to every
	// key it does not explicitly carry.
	UndefinedValue = "_UNDEF_"

	// LiteralMarker is the implicit key carried by every literal property
	// set. It distinguishes a literal set from a general set with the same
	// entries and appears in the serialized form.
	LiteralMarker = "_LITERAL_"

	literalMarkerValue = "true"
)

// Mode selects how absent keys of a PropertySet are interpreted.
type Mode int

const (
	// General treats absent keys as wildcards.
	General Mode = iota
	// Literal treats absent keys as bound to UndefinedValue.
	Literal
)

// String returns the name of the mode.
func (m Mode) String() string {
	if m == Literal {
		return "literal"
	}
	return "general"
}

// PropertySet is an immutable mapping from property key to property value.
// The zero value is an empty general set.
type PropertySet struct {
	mode  Mode
	props map[string]string
}

// GeneralProperties returns a general-mode property set holding a copy of props.
func GeneralProperties(props map[string]string) PropertySet {
	return newPropertySet(General, props)
}

// LiteralProperties returns a literal-mode property set holding a copy of props.
func LiteralProperties(props map[string]string) PropertySet {
	return newPropertySet(Literal, props)
}

func newPropertySet(mode Mode, props map[string]string) PropertySet {
	out := make(map[string]string, len(props))
	for k, v := range props {
		if v != UndefinedValue {
			out[k] = v
		}
	}
	return PropertySet{mode: mode, props: out}
}

// Stringify converts arbitrary property values to their string form.
func Stringify(props map[string]any) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// Mode returns the interpretation mode of the set.
func (p PropertySet) Mode() Mode {
	return p.mode
}

// IsLiteral reports whether the set is in literal mode.
func (p PropertySet) IsLiteral() bool {
	return p.mode == Literal
}

// Len returns the number of explicit entries.
func (p PropertySet) Len() int {
	return len(p.props)
}

// Keys returns the explicit keys in ascending order.
func (p PropertySet) Keys() []string {
	keys := make([]string, 0, len(p.props))
	for k := range p.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Value returns the explicit value for key, ignoring the mode.
func (p PropertySet) Value(key string) (string, bool) {
	v, ok := p.props[key]
	return v, ok
}

// Map returns a copy of the explicit entries.
func (p PropertySet) Map() map[string]string {
	return copyProps(p.props)
}

// ContainsKey reports whether the set binds key to a value. A literal set
// binds every key.
func (p PropertySet) ContainsKey(key string) bool {
	if p.mode == Literal {
		return true
	}
	_, ok := p.props[key]
	return ok
}

// Get returns the value bound to key under the set's mode.
func (p PropertySet) Get(key string) (string, bool) {
	if v, ok := p.props[key]; ok {
		return v, true
	}
	if p.mode != Literal {
		return "", false
	}
	if key == LiteralMarker {
		return literalMarkerValue, true
	}
	return UndefinedValue, true
}

// With returns a copy of the set with key bound to value. Binding
// UndefinedValue removes the key.
func (p PropertySet) With(key, value string) PropertySet {
	props := copyProps(p.props)
	props[key] = value
	return newPropertySet(p.mode, props)
}

// Without returns a copy of the set with key removed.
func (p PropertySet) Without(key string) PropertySet {
	props := copyProps(p.props)
	delete(props, key)
	return PropertySet{mode: p.mode, props: props}
}

// AsGeneral returns the general-mode equivalent of the set.
func (p PropertySet) AsGeneral() PropertySet {
	return GeneralProperties(p.props)
}

// Equal reports whether both sets have the same mode and entries.
func (p PropertySet) Equal(other PropertySet) bool {
	if p.mode != other.mode || len(p.props) != len(other.props) {
		return false
	}
	for k, v := range p.props {
		if ov, ok := other.props[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// IsMoreGeneralThan reports whether every constraint of p is satisfied by
// other, and no key bound by other is bound by p to a different value.
// Equal sets are more general than each other.
func (p PropertySet) IsMoreGeneralThan(other PropertySet) bool {
	for _, key := range p.boundKeys() {
		ov, ok := other.Get(key)
		if !ok {
			return false
		}
		if v, _ := p.Get(key); v != ov {
			return false
		}
	}
	for _, key := range other.boundKeys() {
		if !p.ContainsKey(key) {
			continue
		}
		v, _ := p.Get(key)
		if ov, _ := other.Get(key); v != ov {
			return false
		}
	}
	return true
}

// IsMoreSpecificThan is the mirror of IsMoreGeneralThan.
func (p PropertySet) IsMoreSpecificThan(other PropertySet) bool {
	return other.IsMoreGeneralThan(p)
}

// IsStrictlyMoreGeneralThan excludes equality from IsMoreGeneralThan.
func (p PropertySet) IsStrictlyMoreGeneralThan(other PropertySet) bool {
	return p.IsMoreGeneralThan(other) && !p.IsMoreSpecificThan(other)
}

// IsStrictlyMoreSpecificThan excludes equality from IsMoreSpecificThan.
func (p PropertySet) IsStrictlyMoreSpecificThan(other PropertySet) bool {
	return p.IsMoreSpecificThan(other) && !p.IsMoreGeneralThan(other)
}

// IsMutuallyExclusive reports whether no relationship can satisfy both
// sets, i.e. some key is bound by both to different values.
func (p PropertySet) IsMutuallyExclusive(other PropertySet) bool {
	for _, key := range append(p.boundKeys(), other.boundKeys()...) {
		v, ok := p.Get(key)
		if !ok {
			continue
		}
		if ov, ok := other.Get(key); ok && v != ov {
			return true
		}
	}
	return false
}

// rank orders sets by how much they constrain. A strictly more specific
// set always has a higher rank.
func (p PropertySet) rank() int {
	r := 2 * len(p.props)
	if p.mode == Literal {
		r++
	}
	return r
}

func (p PropertySet) boundKeys() []string {
	keys := p.Keys()
	if p.mode == Literal {
		keys = append(keys, LiteralMarker)
	}
	return keys
}

func copyProps(props map[string]string) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
