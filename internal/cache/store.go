package cache

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Benny93/relcount-go/internal/descriptor"
	"github.com/Benny93/relcount-go/internal/storage"
)

// Store persists a node's cached counts in its property bag. It does no
// reasoning about generality and must be called inside a transaction.
type Store interface {
	// Read returns every cached count of the node, most specific first.
	Read(props storage.PropertyStore, nodeID string) (Degrees, error)

	// Write persists the changes tracked by node.
	Write(props storage.PropertyStore, node *DegreeNode) error

	// Clear removes every cached count of the node.
	Clear(props storage.PropertyStore, nodeID string) error

	// Codec returns the codec that defines the stored key format.
	Codec() descriptor.Codec
}

// Load reads a node's counts into a working copy.
func Load(store Store, props storage.PropertyStore, nodeID string) (*DegreeNode, error) {
	degrees, err := store.Read(props, nodeID)
	if err != nil {
		return nil, err
	}
	return NewDegreeNode(nodeID, degrees), nil
}

// PropertyStore keeps one node property per cached count. The key is the
// prefixed descriptor string and the value is the count.
type PropertyStore struct {
	codec  descriptor.Codec
	logger logrus.FieldLogger
}

// NewPropertyStore creates a store writing one property per count.
func NewPropertyStore(codec descriptor.Codec, logger logrus.FieldLogger) *PropertyStore {
	return &PropertyStore{codec: codec, logger: logger}
}

// Codec implements Store.
func (s *PropertyStore) Codec() descriptor.Codec {
	return s.codec
}

// Read implements Store. Keys that carry the prefix but do not parse are
// skipped with a warning.
func (s *PropertyStore) Read(props storage.PropertyStore, nodeID string) (Degrees, error) {
	keys, err := props.PropertyKeys(nodeID)
	if err != nil {
		return nil, fmt.Errorf("reading cached counts: %w", err)
	}

	var degrees Degrees
	for _, key := range keys {
		if !s.codec.HasPrefix(key) {
			continue
		}
		desc, err := s.codec.Parse(key)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"action": "read",
				"node":   nodeID,
				"key":    key,
			}).WithError(err).Warn("skipping unreadable cached count")
			continue
		}
		raw, ok, err := props.Property(nodeID, key)
		if err != nil {
			return nil, fmt.Errorf("reading cached count %s: %w", key, err)
		}
		if !ok {
			continue
		}
		count, err := toInt(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding cached count %s: %w", key, err)
		}
		degrees = append(degrees, Degree{Descriptor: desc, Count: count})
	}
	return degrees.sorted(), nil
}

// Write implements Store.
func (s *PropertyStore) Write(props storage.PropertyStore, node *DegreeNode) error {
	for _, deg := range node.Updated() {
		if err := props.SetProperty(node.ID(), s.codec.Format(deg.Descriptor), deg.Count); err != nil {
			return fmt.Errorf("writing cached count: %w", err)
		}
	}
	for _, desc := range node.Removed() {
		if err := props.RemoveProperty(node.ID(), s.codec.Format(desc)); err != nil {
			return fmt.Errorf("removing cached count: %w", err)
		}
	}
	return nil
}

// Clear implements Store.
func (s *PropertyStore) Clear(props storage.PropertyStore, nodeID string) error {
	return clearPrefixed(props, nodeID, s.codec)
}

// BlobStore keeps all cached counts of a node in a single msgpack-encoded
// property whose key is the bare prefix.
type BlobStore struct {
	codec descriptor.Codec
}

// NewBlobStore creates a store writing one property per node.
func NewBlobStore(codec descriptor.Codec) *BlobStore {
	return &BlobStore{codec: codec}
}

// Codec implements Store.
func (s *BlobStore) Codec() descriptor.Codec {
	return s.codec
}

// Read implements Store.
func (s *BlobStore) Read(props storage.PropertyStore, nodeID string) (Degrees, error) {
	raw, ok, err := props.Property(nodeID, s.codec.Prefix)
	if err != nil {
		return nil, fmt.Errorf("reading cached counts: %w", err)
	}
	if !ok {
		return nil, nil
	}

	data, ok := raw.([]byte)
	if !ok {
		return nil, fmt.Errorf("cached counts of %s: unexpected value type %T", nodeID, raw)
	}

	var encoded map[string]int
	if err := msgpack.Unmarshal(data, &encoded); err != nil {
		return nil, fmt.Errorf("decoding cached counts of %s: %w", nodeID, err)
	}

	degrees := make(Degrees, 0, len(encoded))
	for key, count := range encoded {
		desc, err := s.codec.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("decoding cached counts of %s: %w", nodeID, err)
		}
		degrees = append(degrees, Degree{Descriptor: desc, Count: count})
	}
	return degrees.sorted(), nil
}

// Write implements Store. The whole map is rewritten on every change.
func (s *BlobStore) Write(props storage.PropertyStore, node *DegreeNode) error {
	if !node.Dirty() {
		return nil
	}

	degrees := node.Degrees()
	if len(degrees) == 0 {
		return props.RemoveProperty(node.ID(), s.codec.Prefix)
	}

	encoded := make(map[string]int, len(degrees))
	for _, deg := range degrees {
		encoded[s.codec.Format(deg.Descriptor)] = deg.Count
	}
	data, err := msgpack.Marshal(encoded)
	if err != nil {
		return fmt.Errorf("encoding cached counts of %s: %w", node.ID(), err)
	}
	if err := props.SetProperty(node.ID(), s.codec.Prefix, data); err != nil {
		return fmt.Errorf("writing cached counts: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *BlobStore) Clear(props storage.PropertyStore, nodeID string) error {
	return clearPrefixed(props, nodeID, s.codec)
}

func clearPrefixed(props storage.PropertyStore, nodeID string, codec descriptor.Codec) error {
	keys, err := props.PropertyKeys(nodeID)
	if err != nil {
		return fmt.Errorf("clearing cached counts: %w", err)
	}
	for _, key := range keys {
		if !codec.HasPrefix(key) {
			continue
		}
		if err := props.RemoveProperty(nodeID, key); err != nil {
			return fmt.Errorf("clearing cached count %s: %w", key, err)
		}
	}
	return nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unexpected count type %T", v)
	}
}
