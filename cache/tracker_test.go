package cache

import (
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/tilecache/featureflag"
	"github.com/aukilabs/tilecache/quadtree"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/require"
)

func newTestTracker(options ...TrackerOption) *Tracker {
	options = append([]TrackerOption{WithTreeOptions(quadtree.WithMaxDepth(3))}, options...)
	return NewTracker(bound(0, 0, 100, 100), options...)
}

func TestTrackerMatch(t *testing.T) {
	t.Run("fresh tracker misses the whole filter", func(t *testing.T) {
		tracker := newTestTracker()
		f := Filter{
			BBoxes:     []orb.Bound{bound(10, 20, 30, 40)},
			Properties: map[string]any{"kind": "shop"},
		}

		res, err := tracker.Match(f)
		require.NoError(t, err)
		require.Equal(t, f, res)
	})

	t.Run("registered filter is excluded", func(t *testing.T) {
		tracker := newTestTracker()
		f := BBox(bound(0, 0, 10, 10))

		_, err := tracker.Register(f)
		require.NoError(t, err)

		res, err := tracker.Match(f)
		require.NoError(t, err)
		require.True(t, res.Exclude)
	})

	t.Run("partially registered filter returns the residual", func(t *testing.T) {
		tracker := newTestTracker()
		validated, err := tracker.Register(BBox(bound(0, 0, 10, 10)))
		require.NoError(t, err)
		require.Len(t, validated, 1)

		res, err := tracker.Match(Filter{
			BBoxes:     []orb.Bound{bound(0, 0, 50, 50)},
			Properties: map[string]any{"kind": "shop"},
		})
		require.NoError(t, err)
		require.False(t, res.Exclude)
		require.NotEmpty(t, res.BBoxes)
		require.Equal(t, map[string]any{"kind": "shop"}, res.Properties)
		for _, b := range res.BBoxes {
			require.True(t, bound(0, 0, 50, 50).Contains(b.Min))
			require.True(t, bound(0, 0, 50, 50).Contains(b.Max))
			require.False(t, bound(0, 0, 10, 10).Contains(b.Center()))
		}

		query := quadtree.RegionFromBound(bound(0, 0, 50, 50))
		valid := quadtree.RegionFromBound(validated[0]).Intersection(query)
		require.InDelta(t, unionArea(res.BBoxes), totalArea(res.BBoxes), 1e-6)
		require.InDelta(t, query.Area()-valid.Area(), unionArea(res.BBoxes), 1e-6)
	})

	t.Run("filter without bounding box passes through", func(t *testing.T) {
		tracker := newTestTracker()
		f := Filter{Properties: map[string]any{"kind": "shop"}}

		res, err := tracker.Match(f)
		require.NoError(t, err)
		require.Equal(t, f, res)

		res, err = tracker.Match(Exclude)
		require.NoError(t, err)
		require.Equal(t, Exclude, res)
	})

	t.Run("invalid filter", func(t *testing.T) {
		tracker := newTestTracker()
		_, err := tracker.Match(BBox(bound(10, 0, 0, 10)))
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalidFilter, errors.Type(err))
	})

	t.Run("exact validation", func(t *testing.T) {
		flags := featureflag.New([]string{featureflag.FlagDisableAncestorValidation.String()})
		tracker := newTestTracker(WithFeatureFlags(flags))
		f := BBox(bound(0, 0, 10, 10))

		validated, err := tracker.Register(f)
		require.NoError(t, err)
		require.Equal(t, f.BBoxes, validated)

		res, err := tracker.Match(f)
		require.NoError(t, err)
		require.Equal(t, f, res)
	})
}

func TestTrackerRegister(t *testing.T) {
	t.Run("returns the validated areas", func(t *testing.T) {
		tracker := newTestTracker()

		validated, err := tracker.Register(BBox(bound(0, 0, 10, 10)))
		require.NoError(t, err)
		require.Len(t, validated, 1)
		require.True(t, validated[0].Contains(orb.Point{0, 0}))
		require.True(t, validated[0].Contains(orb.Point{10, 10}))
	})

	t.Run("filter without bounding box", func(t *testing.T) {
		tracker := newTestTracker()

		_, err := tracker.Register(Filter{Properties: map[string]any{"kind": "shop"}})
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalidFilter, errors.Type(err))
	})

	t.Run("grows the tree for far regions", func(t *testing.T) {
		tracker := newTestTracker()

		_, err := tracker.Register(BBox(bound(150, 150, 160, 160)))
		require.NoError(t, err)

		stats := tracker.Stats()
		require.Equal(t, 1, stats.RootGrowths)
		require.GreaterOrEqual(t, stats.Bounds[2], float64(160))
	})
}

func TestTrackerUnregister(t *testing.T) {
	t.Run("unregistered filter is missing again", func(t *testing.T) {
		tracker := newTestTracker()
		f := BBox(bound(0, 0, 10, 10))

		_, err := tracker.Register(f)
		require.NoError(t, err)
		require.Equal(t, 1, tracker.Stats().Registered)

		err = tracker.Unregister(f)
		require.NoError(t, err)

		res, err := tracker.Match(f)
		require.NoError(t, err)
		require.Equal(t, f, res)
		require.Equal(t, 1, tracker.NodeCount())
		require.Zero(t, tracker.Stats().Registered)
	})

	t.Run("straddling area keeps unrelated registered areas", func(t *testing.T) {
		tracker := newTestTracker()
		_, err := tracker.Register(Filter{BBoxes: []orb.Bound{
			bound(0, 0, 10, 10),
			bound(90, 90, 100, 100),
		}})
		require.NoError(t, err)

		err = tracker.Unregister(BBox(bound(40, 40, 60, 60)))
		require.NoError(t, err)

		res, err := tracker.Match(BBox(bound(90, 90, 100, 100)))
		require.NoError(t, err)
		require.True(t, res.Exclude)

		res, err = tracker.Match(BBox(bound(0, 0, 10, 10)))
		require.NoError(t, err)
		require.True(t, res.Exclude)

		res, err = tracker.Match(BBox(bound(40, 40, 60, 60)))
		require.NoError(t, err)
		require.False(t, res.Exclude)
		require.InDelta(t, 400, unionArea(res.BBoxes), 1e-6)
	})

	t.Run("keeps the structure when collapse is disabled", func(t *testing.T) {
		flags := featureflag.New([]string{featureflag.FlagDisableSubtreeCollapse.String()})
		tracker := newTestTracker(WithFeatureFlags(flags))
		f := BBox(bound(0, 0, 10, 10))

		_, err := tracker.Register(f)
		require.NoError(t, err)
		nodes := tracker.NodeCount()

		err = tracker.Unregister(f)
		require.NoError(t, err)
		require.Equal(t, nodes, tracker.NodeCount())
	})
}

func TestTrackerFeatures(t *testing.T) {
	tracker := newTestTracker()

	shop := geojson.NewFeature(orb.Point{5, 5})
	shop.ID = "shop"
	shop.Properties["kind"] = "shop"

	park := geojson.NewFeature(orb.Point{20, 20})
	park.ID = "park"
	park.Properties["kind"] = "park"

	err := tracker.Attach([]*geojson.Feature{shop, park, shop})
	require.NoError(t, err)
	require.Equal(t, 2, tracker.Stats().Features)
	require.Equal(t, 2, tracker.Stats().Records)

	t.Run("returns intersecting features once", func(t *testing.T) {
		features, err := tracker.Features(BBox(bound(0, 0, 30, 30)))
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"shop", "park"}, featureIDs(features))
	})

	t.Run("applies property predicates", func(t *testing.T) {
		features, err := tracker.Features(Filter{
			BBoxes:     []orb.Bound{bound(0, 0, 30, 30)},
			Properties: map[string]any{"kind": "park"},
		})
		require.NoError(t, err)
		require.Equal(t, []string{"park"}, featureIDs(features))
	})

	t.Run("filter without bounding box selects everything", func(t *testing.T) {
		features, err := tracker.Features(Filter{})
		require.NoError(t, err)
		require.Len(t, features, 2)
	})

	t.Run("exclude selects nothing", func(t *testing.T) {
		features, err := tracker.Features(Exclude)
		require.NoError(t, err)
		require.Empty(t, features)
	})
}

func TestTrackerEvictOldest(t *testing.T) {
	t.Run("nothing to evict", func(t *testing.T) {
		tracker := newTestTracker()
		_, ok := tracker.EvictOldest()
		require.False(t, ok)
	})

	t.Run("evicts a registered region", func(t *testing.T) {
		tracker := newTestTracker()
		f := BBox(bound(0, 0, 10, 10))
		_, err := tracker.Register(f)
		require.NoError(t, err)

		evicted, ok := tracker.EvictOldest()
		require.True(t, ok)
		require.True(t, evicted.Contains(orb.Point{10, 10}))
		require.Equal(t, 1, tracker.NodeCount())

		res, err := tracker.Match(f)
		require.NoError(t, err)
		require.Equal(t, f, res)
	})
}

func featureIDs(features []*geojson.Feature) []string {
	ids := make([]string, 0, len(features))
	for _, f := range features {
		ids = append(ids, f.ID.(string))
	}
	return ids
}

func totalArea(boxes []orb.Bound) float64 {
	var area float64
	for _, b := range boxes {
		area += quadtree.RegionFromBound(b).Area()
	}
	return area
}

// unionArea returns the area covered by possibly overlapping boxes.
func unionArea(boxes []orb.Bound) float64 {
	var disjoint []quadtree.Region
	for _, b := range boxes {
		parts := []quadtree.Region{quadtree.RegionFromBound(b)}
		for _, d := range disjoint {
			var next []quadtree.Region
			for _, p := range parts {
				next = append(next, p.Subtract(d)...)
			}
			parts = next
		}
		disjoint = append(disjoint, parts...)
	}

	var area float64
	for _, r := range disjoint {
		area += r.Area()
	}
	return area
}
