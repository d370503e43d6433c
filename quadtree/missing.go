package quadtree

import "math"

const mergeTolerance = 1e-9

// MissingRegionStrategy computes the parts of a target region that are not
// covered by valid nodes. Run it with QueryStrategy, then read Missing.
type MissingRegionStrategy struct {
	target  Region
	started bool
	stack   []*Node
	outside []Region
	misses  []Region
	valid   []Region
	result  []Region
}

// NewMissingRegionStrategy creates a strategy computing the missing parts of
// target.
func NewMissingRegionStrategy(target Region) *MissingRegionStrategy {
	return &MissingRegionStrategy{target: target}
}

func (s *MissingRegionStrategy) NextNode(current *Node) (*Node, bool) {
	if !s.started {
		s.started = true
		s.outside = s.target.Subtract(current.bounds)
	}

	s.inspect(current)
	if len(s.stack) == 0 {
		s.finish()
		return nil, false
	}

	next := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return next, true
}

func (s *MissingRegionStrategy) inspect(n *Node) {
	if !n.bounds.Intersects(s.target) {
		return
	}

	clip := n.bounds.Intersection(s.target)
	if n.entry.valid {
		s.valid = append(s.valid, clip)
		return
	}
	if n.IsLeaf() {
		s.misses = append(s.misses, clip)
		return
	}

	for i := len(n.children) - 1; i >= 0; i-- {
		if c := n.children[i]; c.bounds.Intersects(s.target) {
			s.stack = append(s.stack, c)
		}
	}
}

func (s *MissingRegionStrategy) finish() {
	if s.target.Area() == 0 {
		s.result = s.missingDegenerate()
		return
	}

	misses := make([]Region, 0, len(s.misses)+len(s.outside))
	for _, m := range s.misses {
		if m.Area() > 0 {
			misses = append(misses, m)
		}
	}
	misses = append(misses, s.outside...)

	for _, v := range s.valid {
		misses = subtractAll(misses, v)
	}
	s.result = mergeRegions(disjoint(misses))
}

// disjoint removes from each region the parts already covered by the
// regions before it.
func disjoint(regions []Region) []Region {
	out := make([]Region, 0, len(regions))
	for _, r := range regions {
		parts := []Region{r}
		for _, o := range out {
			parts = subtractAll(parts, o)
		}
		out = append(out, parts...)
	}
	return out
}

// missingDegenerate handles points and segments, which have no area: they
// are missing unless a single valid node covers them.
func (s *MissingRegionStrategy) missingDegenerate() []Region {
	for _, v := range s.valid {
		if v.Contains(s.target) {
			return nil
		}
	}
	return []Region{s.target}
}

// Missing returns the missing parts of the target. They do not overlap and
// their union is the target minus the union of the valid nodes intersecting
// it.
func (s *MissingRegionStrategy) Missing() []Region {
	return s.result
}

// ValidAreas returns the parts of the target covered by valid nodes.
func (s *MissingRegionStrategy) ValidAreas() []Region {
	return s.valid
}

func subtractAll(regions []Region, o Region) []Region {
	out := make([]Region, 0, len(regions))
	for _, r := range regions {
		out = append(out, r.Subtract(o)...)
	}
	return out
}

// mergeRegions merges touching regions whose combination covers no more
// area than their union.
func mergeRegions(regions []Region) []Region {
	out := append([]Region(nil), regions...)

	for merged := true; merged; {
		merged = false

		for i := 0; i < len(out) && !merged; i++ {
			for j := i + 1; j < len(out); j++ {
				if c, ok := mergeExact(out[i], out[j]); ok {
					out[i] = c
					out = append(out[:j], out[j+1:]...)
					merged = true
					break
				}
			}
		}
	}
	return out
}

func mergeExact(a, b Region) (Region, bool) {
	if !a.Intersects(b) {
		return Region{}, false
	}
	if a.Contains(b) {
		return a, true
	}
	if b.Contains(a) {
		return b, true
	}

	c := a.Combine(b)
	union := a.Area() + b.Area() - a.Intersection(b).Area()
	if math.Abs(c.Area()-union) > mergeTolerance*c.Area() {
		return Region{}, false
	}
	return c, true
}
