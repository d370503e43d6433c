package quadtree

const (
	// growEpsilon shrinks the growth ratio below SplitRatio so that the
	// corner quadrant of a new root strictly contains the old root.
	growEpsilon = 1e-6

	// bandMargin keeps root aspect ratios away from the values where the
	// split axis of a half would flip.
	bandMargin = 0.01

	maxGrowthSteps = 64
)

// normalizeRootBounds squares off bounds whose aspect ratio would make the
// second split of a grown root happen along the wrong axis.
func normalizeRootBounds(r Region) Region {
	w, h := r.Width(), r.Height()
	if inGrowthBand(w, h) {
		return r
	}

	if w > h {
		r.MaxY = r.MinY + w
	} else {
		r.MaxX = r.MinX + h
	}
	return r
}

func inGrowthBand(w, h float64) bool {
	ratio := SplitRatio + bandMargin
	if w >= h {
		return h > ratio*w
	}
	return w > ratio*h
}

// grow replaces the root with larger ones until it encloses shape.
func (t *QuadTree) grow(shape Region) {
	for steps := 0; !t.root.bounds.Contains(shape); steps++ {
		if steps == maxGrowthSteps {
			fmtPanic("shape %s still outside root %s after %d growths", shape, t.root.bounds, steps)
		}
		t.createNewRoot(shape)
	}
}

// createNewRoot builds a root one level above the current one, covering the
// current root and extending towards shape. The current root keeps its
// identity and becomes a corner child of the new root.
func (t *QuadTree) createNewRoot(shape Region) {
	old := t.root
	bounds := grownBounds(old.bounds, shape)

	root := newNode(bounds, old.level+1, nil, t.now())
	t.root = root
	t.QueryStrategy(&spliceStrategy{
		tree: t,
		old:  old,
	})

	if old.parent == nil {
		fmtPanic("root %s could not be spliced into %s", old.bounds, bounds)
	}
	t.growths++
}

func grownBounds(old, shape Region) Region {
	combined := old.Combine(shape)
	g := SplitRatio - growEpsilon
	w := old.Width() / g
	h := old.Height() / g

	var r Region
	if combined.MinX == old.MinX {
		r.MinX, r.MaxX = old.MinX, old.MinX+w
	} else {
		r.MinX, r.MaxX = old.MaxX-w, old.MaxX
	}
	if combined.MinY == old.MinY {
		r.MinY, r.MaxY = old.MinY, old.MinY+h
	} else {
		r.MinY, r.MaxY = old.MaxY-h, old.MaxY
	}
	return r
}

type spliceState int

const (
	spliceDescending spliceState = iota
	spliceSplicing
	spliceRelabeling
)

// spliceStrategy walks down a fresh root, splitting as needed, to the
// quadrant matching the old root and substitutes the old root for it.
type spliceStrategy struct {
	tree   *QuadTree
	old    *Node
	target *Node
	state  spliceState
}

func (s *spliceStrategy) NextNode(current *Node) (*Node, bool) {
	switch s.state {
	case spliceDescending:
		if current.IsLeaf() {
			current.split(SplitRatio, s.tree.now())
		}

		var next *Node
		for _, c := range current.children {
			if c.bounds.Contains(s.old.bounds) {
				next = c
				break
			}
		}
		if next == nil {
			fmtPanic("no quadrant of %s contains %s", current.bounds, s.old.bounds)
		}

		if next.level == s.old.level {
			s.target = next
			s.state = spliceSplicing
			return current, true
		}
		return next, true

	case spliceSplicing:
		for i, c := range current.children {
			if c == s.target {
				current.children[i] = s.old
				s.old.parent = current
				s.target.parent = nil
				break
			}
		}
		s.state = spliceRelabeling
		return current, true

	default:
		for _, c := range current.children {
			if c.level != current.level-1 {
				fmtPanic("node %s at level %d has a child at level %d", current.bounds, current.level, c.level)
			}
		}
		current.entry.dropAggregate()
		return nil, false
	}
}
