package descriptor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/relcount-go/internal/graph"
)

func friend(props map[string]string) Descriptor {
	return NewGeneral("FRIEND", graph.Outgoing, props)
}

func literalFriend(props map[string]string) Descriptor {
	return NewLiteral("FRIEND", graph.Outgoing, props)
}

func TestPropertySet_Get(t *testing.T) {
	t.Parallel()

	t.Run("General", func(t *testing.T) {
		t.Parallel()
		p := GeneralProperties(map[string]string{"k1": "v1"})

		v, ok := p.Get("k1")
		assert.True(t, ok)
		assert.Equal(t, "v1", v)

		_, ok = p.Get("k2")
		assert.False(t, ok)
		assert.False(t, p.ContainsKey("k2"))
	})

	t.Run("Literal", func(t *testing.T) {
		t.Parallel()
		p := LiteralProperties(map[string]string{"k1": "v1"})

		v, ok := p.Get("k2")
		assert.True(t, ok)
		assert.Equal(t, UndefinedValue, v)
		assert.True(t, p.ContainsKey("anything"))
		assert.True(t, p.ContainsKey(LiteralMarker))
	})
}

func TestPropertySet_Immutable(t *testing.T) {
	t.Parallel()

	src := map[string]string{"k1": "v1"}
	p := GeneralProperties(src)
	src["k1"] = "changed"

	with := p.With("k2", "v2")
	without := p.Without("k1")

	v, _ := p.Value("k1")
	assert.Equal(t, "v1", v)
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 2, with.Len())
	assert.Equal(t, 0, without.Len())
	assert.Equal(t, []string{"k1", "k2"}, with.Keys())
}

func TestPropertySet_UndefinedValueIsAbsent(t *testing.T) {
	t.Parallel()

	t.Run("Literal", func(t *testing.T) {
		t.Parallel()
		withUndef := literalFriend(map[string]string{"a": UndefinedValue})

		assert.True(t, withUndef.Equal(literalFriend(nil)))
		assert.Zero(t, Compare(withUndef, literalFriend(nil)))
		assert.Zero(t, withUndef.Properties.Len())
	})

	t.Run("General", func(t *testing.T) {
		t.Parallel()
		withUndef := friend(map[string]string{"a": UndefinedValue, "b": "1"})

		assert.True(t, withUndef.Equal(friend(map[string]string{"b": "1"})))
		assert.True(t, withUndef.IsStrictlyMoreGeneralThan(literalFriend(map[string]string{"b": "1"})))
		assert.Less(t, withUndef.Properties.rank(), literalFriend(map[string]string{"b": "1"}).Properties.rank())
	})

	t.Run("With", func(t *testing.T) {
		t.Parallel()
		d := friend(map[string]string{"a": "1"}).With("a", UndefinedValue)

		assert.True(t, d.Equal(friend(nil)))
	})

	t.Run("Parse", func(t *testing.T) {
		t.Parallel()
		c := DefaultCodec("RC")

		d, err := c.Parse("_GA_RC_FRIEND#OUTGOING#_LITERAL_#a#" + UndefinedValue)
		require.NoError(t, err)
		assert.True(t, d.Equal(literalFriend(nil)))
		assert.Equal(t, "_GA_RC_FRIEND#OUTGOING#_LITERAL_", c.Format(d))
	})
}

func TestDescriptor_PartialOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		a, b     Descriptor
		relation Relation
	}{
		{"EqualGeneral", friend(map[string]string{"k1": "v1"}), friend(map[string]string{"k1": "v1"}), Equal},
		{"EqualLiteral", literalFriend(map[string]string{"k1": "v1"}), literalFriend(map[string]string{"k1": "v1"}), Equal},
		{"EmptyMoreGeneral", friend(nil), friend(map[string]string{"k1": "v1"}), MoreGeneral},
		{"SubsetMoreGeneral", friend(map[string]string{"k1": "v1"}), friend(map[string]string{"k1": "v1", "k2": "v2"}), MoreGeneral},
		{"SupersetMoreSpecific", friend(map[string]string{"k1": "v1", "k2": "v2"}), friend(map[string]string{"k2": "v2"}), MoreSpecific},
		{"ConflictingValues", friend(map[string]string{"k1": "v1"}), friend(map[string]string{"k1": "v2"}), Incomparable},
		{"DisjointKeys", friend(map[string]string{"k1": "v1"}), friend(map[string]string{"k2": "v2"}), Incomparable},
		{"GeneralOverLiteral", friend(map[string]string{"k1": "v1"}), literalFriend(map[string]string{"k1": "v1"}), MoreGeneral},
		{"EmptyGeneralOverEmptyLiteral", friend(nil), literalFriend(nil), MoreGeneral},
		{"LiteralUnderGeneral", literalFriend(map[string]string{"k1": "v1", "k2": "v2"}), friend(map[string]string{"k1": "v1"}), MoreSpecific},
		{"LiteralsWithExtraKey", literalFriend(map[string]string{"k1": "v1"}), literalFriend(map[string]string{"k1": "v1", "k2": "v2"}), Incomparable},
		{"GeneralKeyAbsentFromLiteral", friend(map[string]string{"k2": "v2"}), literalFriend(map[string]string{"k1": "v1"}), Incomparable},
		{"DifferentType", friend(nil), NewGeneral("KNOWS", graph.Outgoing, nil), Incomparable},
		{"DifferentDirection", friend(nil), NewGeneral("FRIEND", graph.Incoming, nil), Incomparable},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.relation, tt.a.RelationTo(tt.b))

			switch tt.relation {
			case Equal:
				assert.True(t, tt.a.IsMoreGeneralThan(tt.b))
				assert.True(t, tt.a.IsMoreSpecificThan(tt.b))
				assert.False(t, tt.a.IsStrictlyMoreGeneralThan(tt.b))
				assert.False(t, tt.a.IsStrictlyMoreSpecificThan(tt.b))
				assert.True(t, tt.a.Equal(tt.b))
			case MoreGeneral:
				assert.True(t, tt.a.IsStrictlyMoreGeneralThan(tt.b))
				assert.True(t, tt.b.IsStrictlyMoreSpecificThan(tt.a))
				assert.Equal(t, 1, Compare(tt.a, tt.b))
			case MoreSpecific:
				assert.True(t, tt.a.IsStrictlyMoreSpecificThan(tt.b))
				assert.Equal(t, -1, Compare(tt.a, tt.b))
			case Incomparable:
				assert.False(t, tt.a.IsMoreGeneralThan(tt.b))
				assert.False(t, tt.a.IsMoreSpecificThan(tt.b))
				assert.NotZero(t, Compare(tt.a, tt.b))
			}
		})
	}
}

func TestDescriptor_OrderConsistency(t *testing.T) {
	t.Parallel()

	var all []Descriptor
	for _, mode := range []Mode{General, Literal} {
		for _, props := range []map[string]string{
			nil,
			{"k1": "v1"},
			{"k1": "v2"},
			{"k2": "v2"},
			{"k1": "v1", "k2": "v2"},
			{"k1": "v2", "k2": "v2"},
			{"k1": UndefinedValue},
			{"k1": UndefinedValue, "k2": "v2"},
		} {
			ps := GeneralProperties(props)
			if mode == Literal {
				ps = LiteralProperties(props)
			}
			all = append(all, New("FRIEND", graph.Outgoing, ps))
		}
	}

	for _, a := range all {
		for _, b := range all {
			both := a.IsMoreGeneralThan(b) && a.IsMoreSpecificThan(b)
			assert.Equal(t, a.Equal(b), both, "%s vs %s", a, b)
			assert.Equal(t, -Compare(b, a), Compare(a, b), "antisymmetry %s vs %s", a, b)
			assert.Equal(t, a.Equal(b), Compare(a, b) == 0, "compare zero only for equal %s vs %s", a, b)
			if a.IsStrictlyMoreSpecificThan(b) {
				assert.Greater(t, a.Properties.rank(), b.Properties.rank(), "rank %s vs %s", a, b)
			}

			for _, c := range all {
				if Compare(a, b) < 0 && Compare(b, c) < 0 {
					assert.Negative(t, Compare(a, c), "transitivity %s < %s < %s", a, b, c)
				}
			}
		}
	}
}

func TestSort_MostSpecificFirst(t *testing.T) {
	t.Parallel()

	ds := []Descriptor{
		friend(nil),
		friend(map[string]string{"k1": "v1"}),
		literalFriend(map[string]string{"k1": "v1"}),
		friend(map[string]string{"k1": "v1", "k2": "v2"}),
	}
	Sort(ds)

	assert.Equal(t, "FRIEND#OUTGOING#k1#v1#k2#v2", ds[0].String())
	assert.Equal(t, "FRIEND#OUTGOING#_LITERAL_#k1#v1", ds[1].String())
	assert.Equal(t, "FRIEND#OUTGOING#k1#v1", ds[2].String())
	assert.Equal(t, "FRIEND#OUTGOING", ds[3].String())
}

func TestDescriptor_GenerateOneMoreGeneral(t *testing.T) {
	t.Parallel()

	t.Run("General", func(t *testing.T) {
		t.Parallel()
		d := friend(map[string]string{"k1": "v1", "k2": "v2", "k3": "v3"})

		result := d.GenerateOneMoreGeneral()

		require.Len(t, result, 4)
		assert.True(t, result[0].Equal(d))
		for _, g := range result[1:] {
			assert.True(t, g.IsStrictlyMoreGeneralThan(d))
			assert.Equal(t, 2, g.Properties.Len())
		}
	})

	t.Run("Literal", func(t *testing.T) {
		t.Parallel()
		d := literalFriend(map[string]string{"k1": "v1", "k2": "v2"})

		result := d.GenerateOneMoreGeneral()

		require.Len(t, result, 1)
		assert.True(t, result[0].Equal(friend(map[string]string{"k1": "v1", "k2": "v2"})))
	})
}

func TestDescriptor_GenerateAllMoreGeneral(t *testing.T) {
	t.Parallel()

	for n := 0; n <= 5; n++ {
		n := n
		t.Run(fmt.Sprintf("%dProperties", n), func(t *testing.T) {
			t.Parallel()
			props := make(map[string]string, n)
			for i := 0; i < n; i++ {
				props[fmt.Sprintf("k%d", i)] = fmt.Sprintf("v%d", i)
			}
			d := friend(props)

			result := d.GenerateAllMoreGeneral()

			require.Len(t, result, 1<<n)
			assert.True(t, result[0].Equal(d))
			assert.True(t, result[len(result)-1].Equal(friend(nil)))
			seen := map[string]bool{}
			for _, g := range result {
				assert.True(t, g.IsMoreGeneralThan(d))
				assert.False(t, seen[g.String()], "duplicate %s", g)
				seen[g.String()] = true
			}
		})
	}

	t.Run("Literal", func(t *testing.T) {
		t.Parallel()
		d := literalFriend(map[string]string{"k1": "v1", "k2": "v2"})

		result := d.GenerateAllMoreGeneral()

		require.Len(t, result, 5)
		assert.True(t, result[0].Equal(d))
		for _, g := range result[1:] {
			assert.False(t, g.IsLiteral())
			assert.True(t, g.IsStrictlyMoreGeneralThan(d))
		}
	})
}

func TestGenerateAllMoreGeneralOf(t *testing.T) {
	t.Parallel()

	result := GenerateAllMoreGeneralOf([]Descriptor{
		friend(map[string]string{"k1": "v1"}),
		friend(map[string]string{"k1": "v2"}),
	})

	require.Len(t, result, 3)
	assert.True(t, result[2].Equal(friend(nil)))
}

func TestDescriptor_IsMutuallyExclusive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b Descriptor
		want bool
	}{
		{"Identical", friend(map[string]string{"k": "v"}), friend(map[string]string{"k": "v"}), false},
		{"DifferentValue", friend(map[string]string{"k": "v1"}), friend(map[string]string{"k": "v2"}), true},
		{"DisjointKeys", friend(map[string]string{"a": "1"}), friend(map[string]string{"b": "2"}), false},
		{"GeneralCoversAll", friend(nil), friend(map[string]string{"k": "v"}), false},
		{"LiteralWithoutKey", literalFriend(nil), friend(map[string]string{"k": "v"}), true},
		{"LiteralMatching", literalFriend(map[string]string{"k": "v"}), friend(map[string]string{"k": "v"}), false},
		{"TwoLiterals", literalFriend(map[string]string{"k": "v"}), literalFriend(map[string]string{"k": "v", "x": "y"}), true},
		{"OtherDirection", friend(nil), NewGeneral("FRIEND", graph.Incoming, nil), true},
		{"OtherType", friend(nil), NewGeneral("KNOWS", graph.Outgoing, nil), true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.a.IsMutuallyExclusive(tt.b))
			assert.Equal(t, tt.want, tt.b.IsMutuallyExclusive(tt.a), "symmetric")
		})
	}
}
