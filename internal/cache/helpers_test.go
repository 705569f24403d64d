package cache

import (
	"context"
	"sort"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/relcount-go/internal/descriptor"
	"github.com/Benny93/relcount-go/internal/graph"
	"github.com/Benny93/relcount-go/internal/storage"
)

// mapProps is a property bag keyed by node, used where a full backend
// would only add noise.
type mapProps map[string]map[string]any

func (m mapProps) PropertyKeys(nodeID string) ([]string, error) {
	keys := make([]string, 0, len(m[nodeID]))
	for k := range m[nodeID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m mapProps) Property(nodeID, key string) (any, bool, error) {
	v, ok := m[nodeID][key]
	return v, ok, nil
}

func (m mapProps) SetProperty(nodeID, key string, value any) error {
	if m[nodeID] == nil {
		m[nodeID] = make(map[string]any)
	}
	m[nodeID][key] = value
	return nil
}

func (m mapProps) RemoveProperty(nodeID, key string) error {
	delete(m[nodeID], key)
	return nil
}

type recordingCompactor struct {
	nodes []string
}

func (r *recordingCompactor) Compact(_ context.Context, _ storage.PropertyStore, nodeID string) error {
	r.nodes = append(r.nodes, nodeID)
	return nil
}

func nullLogger() (logrus.FieldLogger, *test.Hook) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	return l, hook
}

func friend(props map[string]string) descriptor.Descriptor {
	return descriptor.NewGeneral("FRIEND", graph.Outgoing, props)
}

func literalFriend(props map[string]string) descriptor.Descriptor {
	return descriptor.NewLiteral("FRIEND", graph.Outgoing, props)
}

func requireCount(t *testing.T, degrees Degrees, d descriptor.Descriptor, want int) {
	t.Helper()
	got, ok := degrees.Get(d)
	require.True(t, ok, "no count cached for %s", d)
	require.Equal(t, want, got, "count of %s", d)
}
