package descriptor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Benny93/relcount-go/internal/graph"
)

const (
	// DefaultSeparator separates the tokens of a serialized descriptor.
	DefaultSeparator = "#"

	// DefaultModuleID is used to build the key prefix when no module ID is configured.
	DefaultModuleID = "RC"
)

// ErrMalformed is returned when a string cannot be parsed as a descriptor.
var ErrMalformed = errors.New("malformed descriptor")

// DefaultPrefix returns the key prefix for a module ID.
func DefaultPrefix(moduleID string) string {
	if moduleID == "" {
		moduleID = DefaultModuleID
	}
	return "_GA_" + moduleID + "_"
}

// Codec converts descriptors to and from the strings stored on nodes.
//
// The format is prefix, type, direction, an optional literal marker and then
// the properties as alternating key and value tokens in ascending key order,
// all joined by the separator. Changing the prefix or the separator makes
// previously stored counts unreadable.
type Codec struct {
	Prefix    string
	Separator string
}

// NewCodec returns a codec. Empty arguments fall back to the defaults.
func NewCodec(prefix, separator string) Codec {
	if prefix == "" {
		prefix = DefaultPrefix("")
	}
	if separator == "" {
		separator = DefaultSeparator
	}
	return Codec{Prefix: prefix, Separator: separator}
}

// DefaultCodec returns a codec for the module ID with the default separator.
func DefaultCodec(moduleID string) Codec {
	return NewCodec(DefaultPrefix(moduleID), DefaultSeparator)
}

// HasPrefix reports whether key belongs to this codec.
func (c Codec) HasPrefix(key string) bool {
	return strings.HasPrefix(key, c.Prefix)
}

// Format returns the prefixed string form of d.
func (c Codec) Format(d Descriptor) string {
	return c.Prefix + c.body(d)
}

func (c Codec) body(d Descriptor) string {
	var b strings.Builder
	b.WriteString(string(d.Type))
	b.WriteString(c.Separator)
	b.WriteString(d.Direction.String())
	if d.IsLiteral() {
		b.WriteString(c.Separator)
		b.WriteString(LiteralMarker)
	}
	for _, key := range d.Properties.Keys() {
		value, _ := d.Properties.Value(key)
		b.WriteString(c.Separator)
		b.WriteString(key)
		b.WriteString(c.Separator)
		b.WriteString(value)
	}
	return b.String()
}

// Validate reports whether d survives Format and Parse unchanged. The type
// and keys must be non-empty, no token may contain the separator, and no key
// may equal the literal marker.
func (c Codec) Validate(d Descriptor) error {
	if d.Type == "" {
		return fmt.Errorf("%w: empty relationship type", ErrMalformed)
	}
	if strings.Contains(string(d.Type), c.Separator) {
		return fmt.Errorf("%w: type %q contains separator %q", ErrMalformed, d.Type, c.Separator)
	}
	for _, key := range d.Properties.Keys() {
		value, _ := d.Properties.Value(key)
		switch {
		case key == "":
			return fmt.Errorf("%w: empty property key", ErrMalformed)
		case key == LiteralMarker:
			return fmt.Errorf("%w: property key %q is reserved", ErrMalformed, key)
		case strings.Contains(key, c.Separator):
			return fmt.Errorf("%w: property key %q contains separator %q", ErrMalformed, key, c.Separator)
		case strings.Contains(value, c.Separator):
			return fmt.Errorf("%w: property %s value %q contains separator %q", ErrMalformed, key, value, c.Separator)
		}
	}
	return nil
}

// Parse is the inverse of Format. A trailing separator is tolerated and a
// key without a value gets the empty string.
func (c Codec) Parse(s string) (Descriptor, error) {
	if !c.HasPrefix(s) {
		return Descriptor{}, fmt.Errorf("%w: %q lacks prefix %q", ErrMalformed, s, c.Prefix)
	}

	tokens := strings.Split(strings.TrimPrefix(s, c.Prefix), c.Separator)
	if len(tokens) > 0 && tokens[len(tokens)-1] == "" {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) < 2 || tokens[0] == "" {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	dir, err := graph.ParseDirection(tokens[1])
	if err != nil || dir == graph.Both {
		return Descriptor{}, fmt.Errorf("%w: %q has invalid direction %q", ErrMalformed, s, tokens[1])
	}

	rest := tokens[2:]
	mode := General
	if len(rest) > 0 && rest[0] == LiteralMarker {
		mode = Literal
		rest = rest[1:]
	}

	props := make(map[string]string, (len(rest)+1)/2)
	for i := 0; i < len(rest); i += 2 {
		value := ""
		if i+1 < len(rest) {
			value = rest[i+1]
		}
		props[rest[i]] = value
	}

	return New(graph.RelType(tokens[0]), dir, newPropertySet(mode, props)), nil
}
