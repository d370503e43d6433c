package cache

import (
	"math"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func bound(minX, minY, maxX, maxY float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{minX, minY},
		Max: orb.Point{maxX, maxY},
	}
}

func TestFilterValidate(t *testing.T) {
	t.Run("valid filter", func(t *testing.T) {
		require.NoError(t, BBox(bound(0, 0, 1, 1)).Validate())
		require.NoError(t, Filter{}.Validate())
	})

	t.Run("inverted bounding box", func(t *testing.T) {
		err := BBox(bound(2, 0, 1, 1)).Validate()
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalidFilter, errors.Type(err))
	})

	t.Run("not finite bounding box", func(t *testing.T) {
		err := BBox(bound(0, 0, math.NaN(), 1)).Validate()
		require.Error(t, err)
		require.Equal(t, ErrTypeInvalidFilter, errors.Type(err))
	})
}

func TestOr(t *testing.T) {
	t.Run("combines bounding boxes", func(t *testing.T) {
		f := Or(BBox(bound(0, 0, 1, 1)), Exclude, BBox(bound(2, 2, 3, 3)))
		require.False(t, f.Exclude)
		require.Equal(t, []orb.Bound{bound(0, 0, 1, 1), bound(2, 2, 3, 3)}, f.BBoxes)
	})

	t.Run("only excludes", func(t *testing.T) {
		require.Equal(t, Exclude, Or(Exclude, Exclude))
		require.Equal(t, Exclude, Or())
	})
}

func TestFilterMatches(t *testing.T) {
	feature := geojson.NewFeature(orb.Point{5, 5})
	feature.Properties["kind"] = "shop"
	feature.Properties["level"] = float64(2)

	t.Run("spatial and property predicates", func(t *testing.T) {
		f := Filter{
			BBoxes:     []orb.Bound{bound(0, 0, 10, 10)},
			Properties: map[string]any{"kind": "shop", "level": 2},
		}
		require.True(t, f.Matches(feature))
	})

	t.Run("outside bounding boxes", func(t *testing.T) {
		require.False(t, BBox(bound(6, 6, 10, 10)).Matches(feature))
	})

	t.Run("different property", func(t *testing.T) {
		f := Filter{Properties: map[string]any{"kind": "park"}}
		require.False(t, f.Matches(feature))

		f = Filter{Properties: map[string]any{"missing": "value"}}
		require.False(t, f.Matches(feature))
	})

	t.Run("exclude matches nothing", func(t *testing.T) {
		require.False(t, Exclude.Matches(feature))
	})
}

func TestFilterJSON(t *testing.T) {
	t.Run("decodes bounding boxes as arrays", func(t *testing.T) {
		var f Filter
		err := json.Unmarshal([]byte(`{"bboxes":[[0,1,2,3]],"properties":{"kind":"shop"}}`), &f)
		require.NoError(t, err)
		require.Equal(t, []orb.Bound{bound(0, 1, 2, 3)}, f.BBoxes)
		require.Equal(t, map[string]any{"kind": "shop"}, f.Properties)
	})

	t.Run("encodes exclude", func(t *testing.T) {
		b, err := json.Marshal(Exclude)
		require.NoError(t, err)
		require.JSONEq(t, `{"exclude":true}`, string(b))
	})

	t.Run("malformed filter", func(t *testing.T) {
		var f Filter
		err := json.Unmarshal([]byte(`{"bboxes":"nope"}`), &f)
		require.Error(t, err)
	})
}
