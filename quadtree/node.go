package quadtree

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	// SplitRatio is the fraction of a region's longer axis covered by each
	// half of a split. It is greater than 0.5 so that sibling quadrants
	// overlap and a shape lying on a boundary is never missed by both.
	SplitRatio = 0.55

	initialRecordCapacity = 2
)

// Record is an opaque piece of data attached to a node.
type Record struct {
	ID      uint64
	Shape   Region
	Payload []byte
}

// Node is a quadtree node. A node is a leaf when it has no children,
// otherwise it has exactly 4 children whose bounds are produced by a
// deterministic split of its own bounds.
type Node struct {
	bounds Region

	// level is the remaining depth until the maximum depth of the tree.
	level int

	// parent does not own the node: a node is owned by the children list of
	// its parent.
	parent   *Node
	children []*Node

	records []Record
	count   int

	entry CacheEntry
}

func newNode(bounds Region, level int, parent *Node, now time.Time) *Node {
	n := &Node{
		bounds: bounds,
		level:  level,
		parent: parent,
	}
	n.entry = CacheEntry{
		node:       n,
		created:    now,
		lastAccess: now,
	}
	return n
}

// Bounds returns the region covered by the node.
func (n *Node) Bounds() Region {
	return n.bounds
}

// Level returns the remaining depth below the node.
func (n *Node) Level() int {
	return n.level
}

// Parent returns the parent node, or nil for the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// Children returns the node children. The returned slice must not be
// modified.
func (n *Node) Children() []*Node {
	return n.children
}

// Child returns the i-th child.
func (n *Node) Child(i int) *Node {
	return n.children[i]
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.children) == 0
}

// Entry returns the cache metadata of the node.
func (n *Node) Entry() *CacheEntry {
	return &n.entry
}

// IsValid reports whether the whole node area is known to be cached.
func (n *Node) IsValid() bool {
	return n.entry.valid
}

// Records returns the records attached to the node. The returned slice must
// not be modified.
func (n *Node) Records() []Record {
	return n.records[:n.count]
}

// RecordCount returns the number of records attached to the node.
func (n *Node) RecordCount() int {
	return n.count
}

// Split creates the 4 children of a leaf node. Panics if the node already
// has children or is at the maximum depth.
func (n *Node) Split(ratio float64) {
	n.split(ratio, time.Now())
}

func (n *Node) split(ratio float64, now time.Time) {
	if !n.IsLeaf() {
		textPanic("split called on a non-leaf node")
	}
	if n.level <= 0 {
		fmtPanic("split called on node %s at maximum depth", n.bounds)
	}

	quads := quadrants(n.bounds, ratio)
	n.children = make([]*Node, 0, len(quads))
	for _, q := range quads {
		c := newNode(q, n.level-1, n, now)
		c.entry.valid = n.entry.valid
		n.children = append(n.children, c)
	}
	n.entry.dropAggregate()
}

// InsertData attaches a record to the node. The record array doubles its
// capacity when full. Records are kept in no particular order.
func (n *Node) InsertData(id uint64, shape Region, payload []byte) {
	n.insertRecord(Record{ID: id, Shape: shape, Payload: payload})
}

func (n *Node) insertRecord(r Record) {
	if n.count == len(n.records) {
		capacity := len(n.records) * 2
		if capacity == 0 {
			capacity = initialRecordCapacity
		}
		records := make([]Record, capacity)
		copy(records, n.records[:n.count])
		n.records = records
	}
	n.records[n.count] = r
	n.count++
}

// Attach attaches all the given records to the node. A record replaces the
// one already attached with the same id.
func (n *Node) Attach(records ...Record) {
	for _, r := range records {
		if i := n.recordIndex(r.ID); i >= 0 {
			n.records[i] = r
			continue
		}
		n.insertRecord(r)
	}
}

func (n *Node) recordIndex(id uint64) int {
	for i := 0; i < n.count; i++ {
		if n.records[i].ID == id {
			return i
		}
	}
	return -1
}

// DeleteData removes the record at the given index by swapping it with the
// last record.
func (n *Node) DeleteData(index int) error {
	if index < 0 || index >= n.count {
		return errors.New("record index out of range").
			WithType(ErrTypeIndexRange).
			WithTag("index", index).
			WithTag("count", n.count)
	}

	last := n.count - 1
	n.records[index] = n.records[last]
	n.records[last] = Record{}
	n.count--
	return nil
}

func (n *Node) clearRecords() {
	n.records = nil
	n.count = 0
}

// collapse drops the node children and records, turning it back into an
// invalid leaf. Bounds and level are kept.
func (n *Node) collapse() {
	for _, c := range n.children {
		c.parent = nil
	}
	n.children = nil
	n.entry.Invalidate()
	n.entry.dropAggregate()
}

func (n *Node) isInvalidLeaf() bool {
	return n.IsLeaf() && !n.entry.valid
}
