package quadtree

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func TestNewRegion(t *testing.T) {
	t.Run("creates a region", func(t *testing.T) {
		r := NewRegion(1, 2, 3, 4)
		require.Equal(t, Region{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4}, r)
		require.Equal(t, float64(4), r.Area())
	})

	t.Run("inverted bounds panic", func(t *testing.T) {
		require.Panics(t, func() {
			NewRegion(3, 0, 1, 1)
		})
	})

	t.Run("converts from and to an orb bound", func(t *testing.T) {
		b := orb.Bound{Min: orb.Point{-1, -2}, Max: orb.Point{3, 4}}
		r := RegionFromBound(b)
		require.Equal(t, NewRegion(-1, -2, 3, 4), r)
		require.Equal(t, b, r.Bound())
	})
}

func TestRegionPredicates(t *testing.T) {
	r := NewRegion(0, 0, 10, 10)

	t.Run("contains itself and inner regions", func(t *testing.T) {
		require.True(t, r.Contains(r))
		require.True(t, r.Contains(NewRegion(2, 2, 3, 3)))
		require.False(t, r.Contains(NewRegion(5, 5, 11, 6)))
	})

	t.Run("touching regions intersect", func(t *testing.T) {
		require.True(t, r.Intersects(NewRegion(10, 0, 20, 10)))
		require.True(t, r.Intersects(NewRegion(10, 10, 20, 20)))
		require.False(t, r.Intersects(NewRegion(10.5, 0, 20, 10)))
	})

	t.Run("empty region contains and intersects nothing", func(t *testing.T) {
		require.True(t, EmptyRegion.IsEmpty())
		require.False(t, r.Contains(EmptyRegion))
		require.False(t, EmptyRegion.Intersects(r))
		require.Zero(t, EmptyRegion.Area())
	})
}

func TestRegionCombine(t *testing.T) {
	t.Run("combines two regions", func(t *testing.T) {
		c := NewRegion(0, 0, 1, 1).Combine(NewRegion(5, -2, 6, 0))
		require.Equal(t, NewRegion(0, -2, 6, 1), c)
	})

	t.Run("empty region is the identity", func(t *testing.T) {
		r := NewRegion(1, 2, 3, 4)
		require.Equal(t, r, EmptyRegion.Combine(r))
		require.Equal(t, r, r.Combine(EmptyRegion))
	})
}

func TestRegionIntersection(t *testing.T) {
	r := NewRegion(0, 0, 10, 10)
	require.Equal(t, NewRegion(5, 5, 10, 10), r.Intersection(NewRegion(5, 5, 20, 20)))
	require.True(t, r.Intersection(NewRegion(20, 20, 30, 30)).IsEmpty())
}

func TestRegionSubtract(t *testing.T) {
	r := NewRegion(0, 0, 10, 10)

	t.Run("hole in the middle", func(t *testing.T) {
		parts := r.Subtract(NewRegion(4, 4, 6, 6))
		require.Len(t, parts, 4)
		require.InDelta(t, 96, totalArea(parts), 1e-9)
		for _, p := range parts {
			require.Zero(t, p.Intersection(NewRegion(4, 4, 6, 6)).Area())
		}
	})

	t.Run("covering region leaves nothing", func(t *testing.T) {
		require.Empty(t, r.Subtract(NewRegion(-1, -1, 11, 11)))
	})

	t.Run("disjoint region leaves the region unchanged", func(t *testing.T) {
		require.Equal(t, []Region{r}, r.Subtract(NewRegion(20, 20, 30, 30)))
	})

	t.Run("touching region leaves the region unchanged", func(t *testing.T) {
		require.Equal(t, []Region{r}, r.Subtract(NewRegion(10, 0, 20, 10)))
	})

	t.Run("overlapping corner", func(t *testing.T) {
		parts := r.Subtract(NewRegion(5, 5, 20, 20))
		require.Len(t, parts, 2)
		require.InDelta(t, 75, totalArea(parts), 1e-9)
	})
}

func TestQuadrants(t *testing.T) {
	t.Run("square region", func(t *testing.T) {
		q := quadrants(NewRegion(0, 0, 100, 100), SplitRatio)
		require.Equal(t, NewRegion(0, 0, 55, 55), round(q[0]))
		require.Equal(t, NewRegion(0, 45, 55, 100), round(q[1]))
		require.Equal(t, NewRegion(45, 0, 100, 55), round(q[2]))
		require.Equal(t, NewRegion(45, 45, 100, 100), round(q[3]))
	})

	t.Run("tall region splits along y first", func(t *testing.T) {
		a, b := splitRegion(NewRegion(0, 0, 10, 100), SplitRatio)
		require.Equal(t, NewRegion(0, 0, 10, 55), round(a))
		require.Equal(t, NewRegion(0, 45, 10, 100), round(b))
	})

	t.Run("quadrants cover the region", func(t *testing.T) {
		r := NewRegion(-3, 7, 41, 29)
		q := quadrants(r, SplitRatio)
		require.InDelta(t, r.Area(), unionArea(q[:]), 1e-6)
		for _, c := range q {
			require.True(t, r.Contains(c))
		}
	})
}

func totalArea(regions []Region) float64 {
	var area float64
	for _, r := range regions {
		area += r.Area()
	}
	return area
}

// unionArea returns the area covered by possibly overlapping regions.
func unionArea(regions []Region) float64 {
	var disjoint []Region
	for _, r := range regions {
		parts := []Region{r}
		for _, d := range disjoint {
			parts = subtractAll(parts, d)
		}
		disjoint = append(disjoint, parts...)
	}
	return totalArea(disjoint)
}

func round(r Region) Region {
	const p = 1e6
	f := func(v float64) float64 {
		return float64(int64(v*p+0.5*sign(v))) / p
	}
	return Region{MinX: f(r.MinX), MinY: f(r.MinY), MaxX: f(r.MaxX), MaxY: f(r.MaxY)}
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
