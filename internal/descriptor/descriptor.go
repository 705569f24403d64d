package descriptor

import (
	"sort"
	"strings"

	"github.com/Benny93/relcount-go/internal/graph"
)

// Descriptor identifies a class of relationships from one node's point of
// view: their type, their direction and the properties they carry.
//
// Descriptors are values; all methods return new descriptors.
type Descriptor struct {
	Type       graph.RelType
	Direction  graph.Direction
	Properties PropertySet
}

// New returns a descriptor with the given property set.
func New(relType graph.RelType, dir graph.Direction, props PropertySet) Descriptor {
	if props.props == nil {
		props.props = map[string]string{}
	}
	return Descriptor{Type: relType, Direction: dir, Properties: props}
}

// NewGeneral returns a general-mode descriptor.
func NewGeneral(relType graph.RelType, dir graph.Direction, props map[string]string) Descriptor {
	return New(relType, dir, GeneralProperties(props))
}

// NewLiteral returns a literal-mode descriptor.
func NewLiteral(relType graph.RelType, dir graph.Direction, props map[string]string) Descriptor {
	return New(relType, dir, LiteralProperties(props))
}

// Relation is the outcome of comparing two descriptors by generality.
type Relation int

const (
	// Incomparable descriptors neither contain nor exclude each other.
	Incomparable Relation = iota
	// Equal descriptors describe the same relationships.
	Equal
	// MoreGeneral means the receiver strictly contains the argument.
	MoreGeneral
	// MoreSpecific means the argument strictly contains the receiver.
	MoreSpecific
)

// String returns the name of the relation.
func (r Relation) String() string {
	switch r {
	case Equal:
		return "equal"
	case MoreGeneral:
		return "more-general"
	case MoreSpecific:
		return "more-specific"
	default:
		return "incomparable"
	}
}

// SameFamily reports whether both descriptors have the same type and
// direction. Only descriptors of the same family are comparable.
func (d Descriptor) SameFamily(other Descriptor) bool {
	return d.Type == other.Type && d.Direction == other.Direction
}

// Family returns the type and direction as a single key.
func (d Descriptor) Family() string {
	return string(d.Type) + DefaultSeparator + d.Direction.String()
}

// IsMoreGeneralThan reports whether every relationship described by other is
// also described by d.
func (d Descriptor) IsMoreGeneralThan(other Descriptor) bool {
	return d.SameFamily(other) && d.Properties.IsMoreGeneralThan(other.Properties)
}

// IsMoreSpecificThan reports whether every relationship described by d is
// also described by other.
func (d Descriptor) IsMoreSpecificThan(other Descriptor) bool {
	return d.SameFamily(other) && d.Properties.IsMoreSpecificThan(other.Properties)
}

// IsStrictlyMoreGeneralThan is IsMoreGeneralThan excluding equality.
func (d Descriptor) IsStrictlyMoreGeneralThan(other Descriptor) bool {
	return d.SameFamily(other) && d.Properties.IsStrictlyMoreGeneralThan(other.Properties)
}

// IsStrictlyMoreSpecificThan is IsMoreSpecificThan excluding equality.
func (d Descriptor) IsStrictlyMoreSpecificThan(other Descriptor) bool {
	return d.SameFamily(other) && d.Properties.IsStrictlyMoreSpecificThan(other.Properties)
}

// IsMutuallyExclusive reports whether no relationship is described by both
// d and other. Descriptors of different families are always exclusive.
func (d Descriptor) IsMutuallyExclusive(other Descriptor) bool {
	return !d.SameFamily(other) || d.Properties.IsMutuallyExclusive(other.Properties)
}

// Equal reports whether both descriptors are identical.
func (d Descriptor) Equal(other Descriptor) bool {
	return d.SameFamily(other) && d.Properties.Equal(other.Properties)
}

// RelationTo classifies other relative to d.
func (d Descriptor) RelationTo(other Descriptor) Relation {
	if !d.SameFamily(other) {
		return Incomparable
	}
	general := d.Properties.IsMoreGeneralThan(other.Properties)
	specific := d.Properties.IsMoreSpecificThan(other.Properties)
	switch {
	case general && specific:
		return Equal
	case general:
		return MoreGeneral
	case specific:
		return MoreSpecific
	default:
		return Incomparable
	}
}

// Compare is a total order consistent with generality: it returns 0 for
// equal descriptors, 1 when a is strictly more general than b and -1 when
// a is strictly more specific. Other pairs are ordered by how many
// constraints they carry (more first) and then by their serialized form.
// Sorting ascending yields most specific first.
func Compare(a, b Descriptor) int {
	switch a.RelationTo(b) {
	case Equal:
		return 0
	case MoreGeneral:
		return 1
	case MoreSpecific:
		return -1
	}
	if ra, rb := a.Properties.rank(), b.Properties.rank(); ra != rb {
		if ra > rb {
			return -1
		}
		return 1
	}
	return strings.Compare(a.String(), b.String())
}

// Sort orders descriptors most specific first.
func Sort(ds []Descriptor) {
	sort.SliceStable(ds, func(i, j int) bool { return Compare(ds[i], ds[j]) < 0 })
}

// With returns a copy of d with key bound to value.
func (d Descriptor) With(key, value string) Descriptor {
	return New(d.Type, d.Direction, d.Properties.With(key, value))
}

// Without returns a copy of d with key unconstrained.
func (d Descriptor) Without(key string) Descriptor {
	return New(d.Type, d.Direction, d.Properties.Without(key))
}

// AsGeneral returns the general-mode equivalent of d.
func (d Descriptor) AsGeneral() Descriptor {
	return New(d.Type, d.Direction, d.Properties.AsGeneral())
}

// IsLiteral reports whether d is in literal mode.
func (d Descriptor) IsLiteral() bool {
	return d.Properties.IsLiteral()
}

// String returns the unprefixed serialized form using the default separator.
func (d Descriptor) String() string {
	return DefaultCodec("").body(d)
}
