package cache

import (
	"math"
	"reflect"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/segmentio/encoding/json"
)

// Filter selects features. Its spatial part is a disjunction of bounding
// boxes. Properties are equality predicates on feature properties that the
// tracker passes through untouched.
type Filter struct {
	BBoxes     []orb.Bound
	Properties map[string]any

	// Exclude is set on filters that select nothing.
	Exclude bool
}

// Exclude is the filter that selects nothing.
var Exclude = Filter{Exclude: true}

// BBox returns a filter selecting the features intersecting b.
func BBox(b orb.Bound) Filter {
	return Filter{BBoxes: []orb.Bound{b}}
}

// Or returns the disjunction of the spatial parts of the given filters.
// Exclude filters are skipped. Properties are taken from the first filter
// that has some.
func Or(filters ...Filter) Filter {
	var or Filter
	for _, f := range filters {
		if f.Exclude {
			continue
		}
		or.BBoxes = append(or.BBoxes, f.BBoxes...)
		if or.Properties == nil {
			or.Properties = f.Properties
		}
	}

	if len(or.BBoxes) == 0 && or.Properties == nil {
		return Exclude
	}
	return or
}

// IsSpatial reports whether the filter has bounding boxes.
func (f Filter) IsSpatial() bool {
	return len(f.BBoxes) != 0
}

// Validate returns an error when a bounding box is inverted or not finite.
func (f Filter) Validate() error {
	for i, b := range f.BBoxes {
		if !finite(b.Min) || !finite(b.Max) ||
			b.Min.X() > b.Max.X() || b.Min.Y() > b.Max.Y() {
			return errors.New("invalid bounding box").
				WithType(ErrTypeInvalidFilter).
				WithTag("index", i).
				WithTag("bbox", bboxJSON(b))
		}
	}
	return nil
}

// Matches reports whether the feature satisfies the filter.
func (f Filter) Matches(feature *geojson.Feature) bool {
	if f.Exclude {
		return false
	}

	if f.IsSpatial() {
		bound := feature.Geometry.Bound()
		intersects := false
		for _, b := range f.BBoxes {
			if b.Intersects(bound) {
				intersects = true
				break
			}
		}
		if !intersects {
			return false
		}
	}

	for k, v := range f.Properties {
		p, ok := feature.Properties[k]
		if !ok || !propertyEqual(p, v) {
			return false
		}
	}
	return true
}

func propertyEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func finite(p orb.Point) bool {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

type filterJSON struct {
	BBoxes     [][4]float64   `json:"bboxes,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Exclude    bool           `json:"exclude,omitempty"`
}

func bboxJSON(b orb.Bound) [4]float64 {
	return [4]float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()}
}

// MarshalJSON encodes bounding boxes as [minx, miny, maxx, maxy] arrays.
func (f Filter) MarshalJSON() ([]byte, error) {
	v := filterJSON{
		Properties: f.Properties,
		Exclude:    f.Exclude,
	}
	for _, b := range f.BBoxes {
		v.BBoxes = append(v.BBoxes, bboxJSON(b))
	}
	return json.Marshal(v)
}

func (f *Filter) UnmarshalJSON(data []byte) error {
	var v filterJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.New("decoding filter failed").
			WithType(ErrTypeInvalidFilter).
			Wrap(err)
	}

	*f = Filter{
		Properties: v.Properties,
		Exclude:    v.Exclude,
	}
	for _, b := range v.BBoxes {
		f.BBoxes = append(f.BBoxes, orb.Bound{
			Min: orb.Point{b[0], b[1]},
			Max: orb.Point{b[2], b[3]},
		})
	}
	return nil
}
