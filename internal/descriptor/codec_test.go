package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/relcount-go/internal/graph"
)

func TestCodec_Format(t *testing.T) {
	t.Parallel()

	c := DefaultCodec("RC")

	tests := []struct {
		name     string
		d        Descriptor
		expected string
	}{
		{"NoProperties", friend(nil), "_GA_RC_FRIEND#OUTGOING"},
		{"SortedKeys", friend(map[string]string{"b": "2", "a": "1"}), "_GA_RC_FRIEND#OUTGOING#a#1#b#2"},
		{"Literal", literalFriend(map[string]string{"a": "1"}), "_GA_RC_FRIEND#OUTGOING#_LITERAL_#a#1"},
		{"LiteralEmpty", literalFriend(nil), "_GA_RC_FRIEND#OUTGOING#_LITERAL_"},
		{"Incoming", NewGeneral("KNOWS", graph.Incoming, nil), "_GA_RC_KNOWS#INCOMING"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, c.Format(tt.d))
		})
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	codecs := []Codec{DefaultCodec("RC"), NewCodec("_X_", "|")}
	descriptors := []Descriptor{
		friend(nil),
		literalFriend(nil),
		friend(map[string]string{"k1": "v1", "k2": "v2"}),
		literalFriend(map[string]string{"k1": "v1", "k2": "v2"}),
		NewGeneral("WORKS_AT", graph.Incoming, map[string]string{"since": "2020"}),
	}

	for _, c := range codecs {
		for _, d := range descriptors {
			s := c.Format(d)
			parsed, err := c.Parse(s)
			require.NoError(t, err, s)
			assert.True(t, parsed.Equal(d), "%s parsed as %s", s, parsed)
			assert.NoError(t, c.Validate(d), s)
		}
	}
}

func TestCodec_Parse(t *testing.T) {
	t.Parallel()

	c := DefaultCodec("RC")

	t.Run("TrailingSeparator", func(t *testing.T) {
		t.Parallel()
		d, err := c.Parse("_GA_RC_FRIEND#OUTGOING#k1#v1#")
		require.NoError(t, err)
		assert.True(t, d.Equal(friend(map[string]string{"k1": "v1"})))
	})

	t.Run("DanglingKey", func(t *testing.T) {
		t.Parallel()
		d, err := c.Parse("_GA_RC_FRIEND#OUTGOING#k1")
		require.NoError(t, err)
		v, ok := d.Properties.Value("k1")
		assert.True(t, ok)
		assert.Equal(t, "", v)
	})

	t.Run("Malformed", func(t *testing.T) {
		t.Parallel()
		for _, s := range []string{
			"FRIEND#OUTGOING",
			"_GA_RC_",
			"_GA_RC_FRIEND",
			"_GA_RC_#OUTGOING",
			"_GA_RC_FRIEND#SIDEWAYS",
			"_GA_RC_FRIEND#BOTH",
		} {
			_, err := c.Parse(s)
			assert.ErrorIs(t, err, ErrMalformed, s)
		}
	})
}

func TestCodec_Validate(t *testing.T) {
	t.Parallel()

	c := DefaultCodec("RC")

	t.Run("Accepts", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, c.Validate(friend(map[string]string{"note": "a|b", "empty": ""})))
		assert.NoError(t, NewCodec("_X_", "|").Validate(friend(map[string]string{"note": "a#b"})))
	})

	t.Run("Rejects", func(t *testing.T) {
		t.Parallel()

		tests := map[string]Descriptor{
			"EmptyType":         NewGeneral("", graph.Outgoing, nil),
			"SeparatorInType":   NewGeneral("FRI#END", graph.Outgoing, nil),
			"EmptyKey":          friend(map[string]string{"": "x"}),
			"SeparatorInKey":    friend(map[string]string{"a#b": "x"}),
			"SeparatorInValue":  literalFriend(map[string]string{"note": "a#b"}),
			"LiteralMarkerKey":  friend(map[string]string{LiteralMarker: "x"}),
			"TrailingSeparator": friend(map[string]string{"note": "x#"}),
		}
		for name, d := range tests {
			assert.ErrorIs(t, c.Validate(d), ErrMalformed, name)
		}
	})

	t.Run("RejectedValueWouldNotRoundTrip", func(t *testing.T) {
		t.Parallel()

		d := literalFriend(map[string]string{"note": "a#b"})
		parsed, err := c.Parse(c.Format(d))
		require.NoError(t, err)
		assert.False(t, parsed.Equal(d))
		assert.Error(t, c.Validate(d))
	})
}

func TestCodec_Defaults(t *testing.T) {
	t.Parallel()

	c := NewCodec("", "")
	assert.Equal(t, "_GA_RC_", c.Prefix)
	assert.Equal(t, DefaultSeparator, c.Separator)
	assert.True(t, c.HasPrefix("_GA_RC_FRIEND#OUTGOING"))
	assert.False(t, c.HasPrefix("name"))
}
