package cache

import (
	"github.com/Benny93/relcount-go/internal/descriptor"
)

// Degree is one cached count.
type Degree struct {
	Descriptor descriptor.Descriptor
	Count      int
}

// Degrees is a node's cached counts, most specific descriptor first.
type Degrees []Degree

// Len returns the number of distinct cached descriptors.
func (d Degrees) Len() int {
	return len(d)
}

// Get returns the count cached for exactly desc.
func (d Degrees) Get(desc descriptor.Descriptor) (int, bool) {
	for _, deg := range d {
		if deg.Descriptor.Equal(desc) {
			return deg.Count, true
		}
	}
	return 0, false
}

// Total returns the sum of all counts in the family of desc.
func (d Degrees) Total(desc descriptor.Descriptor) int {
	total := 0
	for _, deg := range d {
		if deg.Descriptor.SameFamily(desc) {
			total += deg.Count
		}
	}
	return total
}

// Descriptors returns the cached descriptors in order.
func (d Degrees) Descriptors() []descriptor.Descriptor {
	out := make([]descriptor.Descriptor, len(d))
	for i, deg := range d {
		out[i] = deg.Descriptor
	}
	return out
}

func (d Degrees) sorted() Degrees {
	ds := d.Descriptors()
	descriptor.Sort(ds)
	out := make(Degrees, len(ds))
	for i, desc := range ds {
		count, _ := d.Get(desc)
		out[i] = Degree{Descriptor: desc, Count: count}
	}
	return out
}

// DegreeNode is a working copy of one node's cached counts. Changes are
// tracked and written back by Store.Write.
type DegreeNode struct {
	id      string
	degrees Degrees
	updated map[string]descriptor.Descriptor
	removed map[string]descriptor.Descriptor
}

// NewDegreeNode wraps counts read from a store.
func NewDegreeNode(nodeID string, degrees Degrees) *DegreeNode {
	return &DegreeNode{
		id:      nodeID,
		degrees: degrees.sorted(),
		updated: make(map[string]descriptor.Descriptor),
		removed: make(map[string]descriptor.Descriptor),
	}
}

// ID returns the node ID.
func (n *DegreeNode) ID() string {
	return n.id
}

// Degrees returns a copy of the current counts, most specific first.
func (n *DegreeNode) Degrees() Degrees {
	out := make(Degrees, len(n.degrees))
	copy(out, n.degrees)
	return out
}

// Dirty reports whether the node has unwritten changes.
func (n *DegreeNode) Dirty() bool {
	return len(n.updated) > 0 || len(n.removed) > 0
}

// Updated returns the entries that were created or changed.
func (n *DegreeNode) Updated() Degrees {
	var out Degrees
	for _, deg := range n.degrees {
		if _, ok := n.updated[deg.Descriptor.String()]; ok {
			out = append(out, deg)
		}
	}
	return out
}

// Removed returns the descriptors whose entries were deleted.
func (n *DegreeNode) Removed() []descriptor.Descriptor {
	out := make([]descriptor.Descriptor, 0, len(n.removed))
	for _, d := range n.removed {
		out = append(out, d)
	}
	descriptor.Sort(out)
	return out
}

// Increment adds delta to the first cached entry, most specific first, that
// is at least as general as desc. Without such an entry a new one is created
// for desc and created is true.
func (n *DegreeNode) Increment(desc descriptor.Descriptor, delta int) (created bool) {
	if i := n.firstMatch(desc); i >= 0 {
		n.put(n.degrees[i].Descriptor, n.degrees[i].Count+delta)
		return false
	}
	n.put(desc, delta)
	return true
}

// Decrement subtracts delta from the entry Increment would have chosen. An
// entry reaching zero or less is deleted. matched is false when no entry
// covers desc; inSync is false when nothing matched or the entry would
// have gone negative.
func (n *DegreeNode) Decrement(desc descriptor.Descriptor, delta int) (matched, inSync bool) {
	i := n.firstMatch(desc)
	if i < 0 {
		return false, false
	}
	target := n.degrees[i].Descriptor
	value := n.degrees[i].Count - delta
	if value <= 0 {
		n.Delete(target)
	} else {
		n.put(target, value)
	}
	return true, value >= 0
}

// Set stores value for exactly desc, replacing any existing count.
func (n *DegreeNode) Set(desc descriptor.Descriptor, value int) {
	n.put(desc, value)
}

// Delete removes the entry for exactly desc and reports whether it existed.
func (n *DegreeNode) Delete(desc descriptor.Descriptor) bool {
	for i, deg := range n.degrees {
		if deg.Descriptor.Equal(desc) {
			n.degrees = append(n.degrees[:i], n.degrees[i+1:]...)
			key := desc.String()
			delete(n.updated, key)
			n.removed[key] = desc
			return true
		}
	}
	return false
}

// Clear removes every entry.
func (n *DegreeNode) Clear() {
	for _, deg := range n.Degrees() {
		n.Delete(deg.Descriptor)
	}
}

func (n *DegreeNode) firstMatch(desc descriptor.Descriptor) int {
	for i, deg := range n.degrees {
		if deg.Descriptor.IsMoreGeneralThan(desc) {
			return i
		}
	}
	return -1
}

func (n *DegreeNode) put(desc descriptor.Descriptor, value int) {
	key := desc.String()
	delete(n.removed, key)
	n.updated[key] = desc

	for i, deg := range n.degrees {
		if deg.Descriptor.Equal(desc) {
			n.degrees[i].Count = value
			return
		}
	}
	n.degrees = append(n.degrees, Degree{Descriptor: desc, Count: value}).sorted()
}
