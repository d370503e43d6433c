package quadtree

// Strategy drives a custom walk over the tree. NextNode receives the node
// the walk is on and returns the node to move to. Returning false as
// hasNext ends the walk.
type Strategy interface {
	NextNode(current *Node) (next *Node, hasNext bool)
}

// QueryStrategy runs a strategy starting from the root.
func (t *QuadTree) QueryStrategy(s Strategy) {
	current := t.root
	for {
		next, hasNext := s.NextNode(current)
		if !hasNext {
			return
		}
		if next == nil {
			textPanic("strategy returned a nil node")
		}
		current = next
	}
}

// OldestSubtree returns the node whose subtree is the best eviction
// candidate, or nil when the root is a leaf. The walk follows the child with
// the oldest access time until it meets a valid node, or a node whose
// children are all invalid leaves.
func (t *QuadTree) OldestSubtree() *Node {
	s := evictionStrategy{}
	t.QueryStrategy(&s)
	return s.found
}

type evictionStrategy struct {
	found *Node
}

func (s *evictionStrategy) NextNode(current *Node) (*Node, bool) {
	if current.IsLeaf() {
		if current.parent != nil {
			s.found = current
		}
		return nil, false
	}
	if current.entry.valid && current.parent != nil {
		s.found = current
		return nil, false
	}

	var oldest *Node
	for _, c := range current.children {
		if c.isInvalidLeaf() {
			continue
		}
		if oldest == nil || c.entry.OldestChildAccess().Before(oldest.entry.OldestChildAccess()) {
			oldest = c
		}
	}

	if oldest == nil {
		s.found = current
		return nil, false
	}
	return oldest, true
}
