// Package quadtree implements a spatial index whose nodes carry cache
// metadata. It tracks which areas of a 2D space have been fetched from an
// upstream data source and answers which parts of a query area are missing.
package quadtree

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	// DefaultMaxDepth is the maximum depth used when none is given.
	DefaultMaxDepth = 8
)

// Option configures a quadtree.
type Option func(*QuadTree)

// WithMaxDepth sets the maximum depth of the tree.
func WithMaxDepth(depth int) Option {
	return func(t *QuadTree) {
		t.maxDepth = depth
	}
}

// WithClock sets the function used to timestamp node creation and accesses.
func WithClock(now func() time.Time) Option {
	return func(t *QuadTree) {
		t.now = now
	}
}

// QuadTree is a region quadtree with overlapping quadrants. It is not safe
// for concurrent use.
type QuadTree struct {
	root     *Node
	maxDepth int
	now      func() time.Time
	growths  int
}

// New creates a quadtree covering the given bounds. Bounds whose aspect ratio
// would prevent the root from growing are squared off. Panics when bounds
// have no area.
func New(bounds Region, options ...Option) *QuadTree {
	if !bounds.wellFormed() || bounds.Width() <= 0 || bounds.Height() <= 0 {
		fmtPanic("root bounds %s must have a positive area", bounds)
	}

	t := &QuadTree{
		maxDepth: DefaultMaxDepth,
		now:      time.Now,
	}
	for _, o := range options {
		o(t)
	}
	if t.maxDepth < 0 {
		fmtPanic("negative max depth %d", t.maxDepth)
	}

	t.root = newNode(normalizeRootBounds(bounds), t.maxDepth, nil, t.now())
	return t
}

// Root returns the root node.
func (t *QuadTree) Root() *Node {
	return t.root
}

// Bounds returns the area covered by the root.
func (t *QuadTree) Bounds() Region {
	return t.root.bounds
}

// MaxDepth returns the depth the tree was created with.
func (t *QuadTree) MaxDepth() int {
	return t.maxDepth
}

// Now returns the current time according to the tree clock.
func (t *QuadTree) Now() time.Time {
	return t.now()
}

// Growths returns how many times the root has been replaced by a larger one.
func (t *QuadTree) Growths() int {
	return t.growths
}

// NodeCount returns the number of nodes in the tree.
func (t *QuadTree) NodeCount() int {
	count := 0
	stack := []*Node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++
		stack = append(stack, n.children...)
	}
	return count
}

// RecordCount returns the number of records attached to the tree nodes. A
// record attached to several nodes is counted once per node.
func (t *QuadTree) RecordCount() int {
	count := 0
	stack := []*Node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count += n.count
		stack = append(stack, n.children...)
	}
	return count
}

// Depth returns the number of levels below the root.
func (t *QuadTree) Depth() int {
	depth := 0
	type item struct {
		node  *Node
		depth int
	}
	stack := []item{{node: t.root}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if it.depth > depth {
			depth = it.depth
		}
		for _, c := range it.node.children {
			stack = append(stack, item{node: c, depth: it.depth + 1})
		}
	}
	return depth
}

// InsertData inserts a record. The root grows until it encloses the shape.
// The record is attached to every deepest node that fully contains the
// shape, splitting leaves on the way while the maximum depth allows it. A
// record with the same id already attached to one of these nodes is
// replaced.
// Panics when the shape is empty or malformed.
func (t *QuadTree) InsertData(id uint64, shape Region, payload []byte) {
	if !shape.wellFormed() {
		fmtPanic("cannot insert record %d with shape %s", id, shape)
	}

	t.grow(shape)
	t.insert(t.root, Record{ID: id, Shape: shape, Payload: payload})
}

func (t *QuadTree) insert(n *Node, r Record) {
	if n.IsLeaf() {
		if n.level <= 0 || !quadrantContains(n.bounds, r.Shape) {
			n.Attach(r)
			return
		}
		n.split(SplitRatio, t.now())
	}

	inserted := false
	for _, c := range n.children {
		if c.bounds.Contains(r.Shape) {
			t.insert(c, r)
			inserted = true
		}
	}
	if !inserted {
		n.Attach(r)
	}
}

func quadrantContains(bounds, shape Region) bool {
	for _, q := range quadrants(bounds, SplitRatio) {
		if q.Contains(shape) {
			return true
		}
	}
	return false
}

// NearestNeighborQuery is not supported and always returns an error.
func (t *QuadTree) NearestNeighborQuery(x, y float64, k int, v Visitor) error {
	return errors.New("nearest neighbor query is not supported").
		WithType(ErrTypeNotImplemented).
		WithTag("k", k)
}
