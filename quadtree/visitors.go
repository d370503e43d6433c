package quadtree

import "time"

// ValidatingVisitor marks the area of a target region as cached. Use it with
// ContainmentQuery, then call UpdateTree.
type ValidatingVisitor struct {
	// Exact disables the validation of the smallest node containing the
	// target when UpdateTree is called. Only nodes fully inside the target
	// are then marked valid.
	Exact bool

	target   Region
	lastNode *Node
}

// NewValidatingVisitor creates a visitor validating target.
func NewValidatingVisitor(target Region) *ValidatingVisitor {
	return &ValidatingVisitor{target: target}
}

func (v *ValidatingVisitor) VisitNode(n *Node) {
	if v.target.Contains(n.bounds) {
		n.entry.SetValid()
	}
	v.lastNode = smallestContaining(v.lastNode, n, v.target)
}

func (v *ValidatingVisitor) VisitData(n *Node, r Record) {
}

// LastNode returns the smallest visited node containing the target.
func (v *ValidatingVisitor) LastNode() *Node {
	return v.lastNode
}

// UpdateTree marks the smallest node containing the target as valid, unless
// the visitor is exact.
func (v *ValidatingVisitor) UpdateTree() {
	if v.lastNode == nil || v.Exact {
		return
	}
	v.lastNode.entry.SetValid()
}

// InvalidatingVisitor drops the cached state of a target region. Use it
// with ContainmentQuery, then call UpdateTree.
//
// Nodes inside the target lose their validity and records. Nodes only
// partially covered by the target lose their validity but keep their
// records, and a valid one first hands its validity down to its children so
// that the areas outside the target stay cached.
type InvalidatingVisitor struct {
	// KeepStructure disables the collapse of subtrees in UpdateTree.
	KeepStructure bool

	target  Region
	visited []*Node
}

// NewInvalidatingVisitor creates a visitor invalidating target.
func NewInvalidatingVisitor(target Region) *InvalidatingVisitor {
	return &InvalidatingVisitor{target: target}
}

func (v *InvalidatingVisitor) VisitNode(n *Node) {
	v.visited = append(v.visited, n)

	if v.target.Contains(n.bounds) {
		n.entry.Invalidate()
		return
	}

	if n.entry.valid {
		for _, c := range n.children {
			c.entry.valid = true
		}
	}
	n.entry.valid = false
}

func (v *InvalidatingVisitor) VisitData(n *Node, r Record) {
}

// LastNode returns the last visited node.
func (v *InvalidatingVisitor) LastNode() *Node {
	if len(v.visited) == 0 {
		return nil
	}
	return v.visited[len(v.visited)-1]
}

// UpdateTree collapses, from the deepest visited nodes up, every visited
// node whose children are all invalid leaves. Valid nodes and their
// ancestors are never collapsed. It returns the number of removed nodes.
func (v *InvalidatingVisitor) UpdateTree() int {
	if v.KeepStructure {
		return 0
	}

	removed := 0
	for i := len(v.visited) - 1; i >= 0; i-- {
		n := v.visited[i]
		if n.IsLeaf() || !childrenInvalidLeaves(n) {
			continue
		}
		removed += subtreeSize(n) - 1
		n.collapse()
	}
	return removed
}

func childrenInvalidLeaves(n *Node) bool {
	for _, c := range n.children {
		if !c.isInvalidLeaf() {
			return false
		}
	}
	return true
}

func smallestContaining(current, n *Node, target Region) *Node {
	if !n.bounds.Contains(target) {
		return current
	}
	if current == nil || n.bounds.Area() < current.bounds.Area() {
		return n
	}
	return current
}

func subtreeSize(n *Node) int {
	size := 0
	stack := []*Node{n}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		size++
		stack = append(stack, c.children...)
	}
	return size
}

// CollectingVisitor gathers the records reported by a query. Records
// attached to several nodes are reported once.
type CollectingVisitor struct {
	Records []Record
	Nodes   int

	seen map[uint64]struct{}
}

func (v *CollectingVisitor) VisitNode(n *Node) {
	v.Nodes++
}

func (v *CollectingVisitor) VisitData(n *Node, r Record) {
	if v.seen == nil {
		v.seen = make(map[uint64]struct{})
	}
	if _, ok := v.seen[r.ID]; ok {
		return
	}
	v.seen[r.ID] = struct{}{}
	v.Records = append(v.Records, r)
}

// CoverageVisitor records hits on the valid nodes intersecting a target and
// reports whether one of them covers the whole target.
type CoverageVisitor struct {
	target  Region
	now     time.Time
	covered bool
	hits    int
}

// NewCoverageVisitor creates a coverage visitor stamping hits with now.
func NewCoverageVisitor(target Region, now time.Time) *CoverageVisitor {
	return &CoverageVisitor{
		target: target,
		now:    now,
	}
}

func (v *CoverageVisitor) VisitNode(n *Node) {
	if !n.entry.valid {
		return
	}
	n.entry.Hit(v.now)
	v.hits++
	if n.bounds.Contains(v.target) {
		v.covered = true
	}
}

func (v *CoverageVisitor) VisitData(n *Node, r Record) {
}

// Covered reports whether a valid node contains the whole target.
func (v *CoverageVisitor) Covered() bool {
	return v.covered
}

// Hits returns the number of valid nodes hit.
func (v *CoverageVisitor) Hits() int {
	return v.hits
}
