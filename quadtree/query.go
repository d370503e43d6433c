package quadtree

// Visitor receives the nodes and records met by a range query.
type Visitor interface {
	// VisitNode is called once per node intersecting the query shape, before
	// its records are reported.
	VisitNode(n *Node)

	// VisitData is called for each record of a visited node that matches the
	// query predicate.
	VisitData(n *Node, r Record)
}

type queryType int

const (
	containmentQuery queryType = iota
	intersectionQuery
)

// ContainmentQuery visits the nodes intersecting shape and reports the
// records whose shape is contained in it.
func (t *QuadTree) ContainmentQuery(shape Region, v Visitor) {
	t.rangeQuery(shape, v, containmentQuery)
}

// IntersectionQuery visits the nodes intersecting shape and reports the
// records whose shape intersects it.
func (t *QuadTree) IntersectionQuery(shape Region, v Visitor) {
	t.rangeQuery(shape, v, intersectionQuery)
}

func (t *QuadTree) rangeQuery(shape Region, v Visitor, typ queryType) {
	if !t.root.bounds.Intersects(shape) {
		return
	}

	visited := make(map[*Node]struct{})
	stack := []*Node{t.root}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		if _, ok := visited[n]; !ok {
			visited[n] = struct{}{}
			visitNode(n, shape, v, typ)
		}

		var next *Node
		for _, c := range n.children {
			if _, ok := visited[c]; ok {
				continue
			}
			if !c.bounds.Intersects(shape) {
				visited[c] = struct{}{}
				continue
			}
			next = c
			break
		}

		if next == nil {
			stack = stack[:len(stack)-1]
			continue
		}
		stack = append(stack, next)
	}
}

func visitNode(n *Node, shape Region, v Visitor, typ queryType) {
	v.VisitNode(n)

	for _, r := range n.Records() {
		switch typ {
		case containmentQuery:
			if shape.Contains(r.Shape) {
				v.VisitData(n, r)
			}

		case intersectionQuery:
			if shape.Intersects(r.Shape) {
				v.VisitData(n, r)
			}
		}
	}
}
