package quadtree

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Region is an axis-aligned bounding box. A well-formed region always has
// MinX <= MaxX and MinY <= MaxY, except EmptyRegion.
type Region struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// EmptyRegion is the sentinel region that contains nothing. Combining a
// region with EmptyRegion returns the region unchanged.
var EmptyRegion = Region{
	MinX: math.Inf(1),
	MinY: math.Inf(1),
	MaxX: math.Inf(-1),
	MaxY: math.Inf(-1),
}

// NewRegion returns the region delimited by the given low and high corners.
// Panics if a low coordinate is greater than its high counterpart.
func NewRegion(minX, minY, maxX, maxY float64) Region {
	r := Region{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
	if !r.wellFormed() {
		fmtPanic("inconsistent region bounds %s", r)
	}
	return r
}

// RegionFromBound converts an orb bound to a region.
func RegionFromBound(b orb.Bound) Region {
	return NewRegion(b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y())
}

// Bound converts the region to an orb bound.
func (r Region) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{r.MinX, r.MinY},
		Max: orb.Point{r.MaxX, r.MaxY},
	}
}

func (r Region) wellFormed() bool {
	return r.MinX <= r.MaxX && r.MinY <= r.MaxY
}

// IsEmpty reports whether the region is the empty sentinel, or any other
// region with inverted bounds.
func (r Region) IsEmpty() bool {
	return !r.wellFormed()
}

func (r Region) Width() float64 {
	return r.MaxX - r.MinX
}

func (r Region) Height() float64 {
	return r.MaxY - r.MinY
}

// Area returns the region area. The empty region has a zero area.
func (r Region) Area() float64 {
	if r.IsEmpty() {
		return 0
	}
	return r.Width() * r.Height()
}

// Contains reports whether o lies within or is equal to r on both axes.
func (r Region) Contains(o Region) bool {
	if r.IsEmpty() || o.IsEmpty() {
		return false
	}
	return r.MinX <= o.MinX && r.MinY <= o.MinY &&
		o.MaxX <= r.MaxX && o.MaxY <= r.MaxY
}

// Intersects reports whether r and o overlap. Touching regions intersect.
func (r Region) Intersects(o Region) bool {
	if r.IsEmpty() || o.IsEmpty() {
		return false
	}
	return r.MinX <= o.MaxX && o.MinX <= r.MaxX &&
		r.MinY <= o.MaxY && o.MinY <= r.MaxY
}

// Combine returns the smallest region that contains both r and o.
func (r Region) Combine(o Region) Region {
	return Region{
		MinX: math.Min(r.MinX, o.MinX),
		MinY: math.Min(r.MinY, o.MinY),
		MaxX: math.Max(r.MaxX, o.MaxX),
		MaxY: math.Max(r.MaxY, o.MaxY),
	}
}

// Intersection returns the region shared by r and o, or EmptyRegion when
// they do not intersect.
func (r Region) Intersection(o Region) Region {
	if !r.Intersects(o) {
		return EmptyRegion
	}
	return Region{
		MinX: math.Max(r.MinX, o.MinX),
		MinY: math.Max(r.MinY, o.MinY),
		MaxX: math.Min(r.MaxX, o.MaxX),
		MaxY: math.Min(r.MaxY, o.MaxY),
	}
}

// Subtract returns the parts of r that are not covered by o, as up to four
// disjoint regions: full-height left and right bands, then the bottom and
// top remainders between them. Parts with a zero area are omitted.
func (r Region) Subtract(o Region) []Region {
	if r.IsEmpty() {
		return nil
	}
	in := r.Intersection(o)
	if in.Area() == 0 {
		return []Region{r}
	}

	parts := make([]Region, 0, 4)
	add := func(p Region) {
		if p.Area() > 0 {
			parts = append(parts, p)
		}
	}
	add(Region{MinX: r.MinX, MinY: r.MinY, MaxX: in.MinX, MaxY: r.MaxY})
	add(Region{MinX: in.MaxX, MinY: r.MinY, MaxX: r.MaxX, MaxY: r.MaxY})
	add(Region{MinX: in.MinX, MinY: r.MinY, MaxX: in.MaxX, MaxY: in.MinY})
	add(Region{MinX: in.MinX, MinY: in.MaxY, MaxX: in.MaxX, MaxY: r.MaxY})
	return parts
}

// Equal reports whether r and o have the same bounds.
func (r Region) Equal(o Region) bool {
	return r.MinX == o.MinX && r.MinY == o.MinY &&
		r.MaxX == o.MaxX && r.MaxY == o.MaxY
}

func (r Region) String() string {
	return fmt.Sprintf("[%g,%g,%g,%g]", r.MinX, r.MinY, r.MaxX, r.MaxY)
}

// splitRegion divides r once along its longer axis. The two halves each
// span ratio of the axis, so they overlap when ratio is greater than 0.5.
func splitRegion(r Region, ratio float64) (Region, Region) {
	if r.Width() >= r.Height() {
		d := r.Width() * ratio
		return Region{MinX: r.MinX, MinY: r.MinY, MaxX: r.MinX + d, MaxY: r.MaxY},
			Region{MinX: r.MaxX - d, MinY: r.MinY, MaxX: r.MaxX, MaxY: r.MaxY}
	}

	d := r.Height() * ratio
	return Region{MinX: r.MinX, MinY: r.MinY, MaxX: r.MaxX, MaxY: r.MinY + d},
		Region{MinX: r.MinX, MinY: r.MaxY - d, MaxX: r.MaxX, MaxY: r.MaxY}
}

// quadrants returns the four child regions of r: each half produced by a
// first split is split again along its own longer axis.
func quadrants(r Region, ratio float64) [4]Region {
	a, b := splitRegion(r, ratio)
	a1, a2 := splitRegion(a, ratio)
	b1, b2 := splitRegion(b, ratio)
	return [4]Region{a1, a2, b1, b2}
}
