// Package store provides data stores serving GeoJSON features.
package store

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	// ErrTypeEmptyStore is the type of errors returned when the extent of a
	// store without features is requested.
	ErrTypeEmptyStore = "store_empty"

	// ErrTypeInvalidFeature is the type of errors returned when a feature
	// cannot be indexed.
	ErrTypeInvalidFeature = "store_invalid_feature"

	minChildren = 25
	maxChildren = 50

	// degenerateTolerance pads the zero-length sides of point and segment
	// bounds.
	degenerateTolerance = 1e-9
)

// Memory is an in-memory feature store indexed by an R-tree. It is safe for
// concurrent use.
type Memory struct {
	mutex  sync.RWMutex
	rtree  *rtreego.Rtree
	extent orb.Bound
	count  int
}

type entry struct {
	feature *geojson.Feature
	rect    rtreego.Rect
}

func (e *entry) Bounds() rtreego.Rect {
	return e.rect
}

// NewMemory creates a store holding the given features.
func NewMemory(features ...*geojson.Feature) (*Memory, error) {
	m := &Memory{
		rtree: rtreego.NewTree(2, minChildren, maxChildren),
	}
	if err := m.Add(features...); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadGeoJSON creates a store from a GeoJSON feature collection.
func LoadGeoJSON(r io.Reader) (*Memory, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.New("reading geojson failed").Wrap(err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, errors.New("decoding geojson feature collection failed").
			WithType(ErrTypeInvalidFeature).
			Wrap(err)
	}
	return NewMemory(fc.Features...)
}

// LoadGeoJSONFile creates a store from a GeoJSON feature collection file.
func LoadGeoJSONFile(filename string) (*Memory, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.New("opening geojson file failed").
			WithTag("file_name", filename).
			Wrap(err)
	}
	defer f.Close()

	return LoadGeoJSON(f)
}

// Add indexes features. Features without a geometry are rejected.
func (m *Memory) Add(features ...*geojson.Feature) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for i, f := range features {
		if f == nil || f.Geometry == nil {
			return errors.New("feature has no geometry").
				WithType(ErrTypeInvalidFeature).
				WithTag("index", i)
		}

		b := f.Geometry.Bound()
		rect, err := rectFromBound(b)
		if err != nil {
			return errors.New("indexing feature failed").
				WithType(ErrTypeInvalidFeature).
				WithTag("index", i).
				WithTag("feature_id", f.ID).
				Wrap(err)
		}

		m.rtree.Insert(&entry{feature: f, rect: rect})
		if m.count == 0 {
			m.extent = b
		} else {
			m.extent = m.extent.Union(b)
		}
		m.count++
	}
	return nil
}

// Len returns the number of features in the store.
func (m *Memory) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.count
}

// Extent returns the bound of all the store features.
func (m *Memory) Extent(ctx context.Context) (orb.Bound, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.count == 0 {
		return orb.Bound{}, errors.New("store has no features").
			WithType(ErrTypeEmptyStore)
	}
	return m.extent, nil
}

// Query returns the features whose geometry bound intersects b.
func (m *Memory) Query(ctx context.Context, b orb.Bound) ([]*geojson.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rect, err := rectFromBound(b)
	if err != nil {
		return nil, errors.New("invalid query bound").Wrap(err)
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	results := m.rtree.SearchIntersect(rect)
	features := make([]*geojson.Feature, 0, len(results))
	for _, r := range results {
		f := r.(*entry).feature
		if b.Intersects(f.Geometry.Bound()) {
			features = append(features, f)
		}
	}
	return features, nil
}

func rectFromBound(b orb.Bound) (rtreego.Rect, error) {
	min := rtreego.Point{b.Min.X(), b.Min.Y()}
	max := rtreego.Point{b.Max.X(), b.Max.Y()}
	for i := range min {
		if max[i]-min[i] < degenerateTolerance {
			min[i] -= degenerateTolerance
			max[i] += degenerateTolerance
		}
	}
	return rtreego.NewRectFromPoints(min, max)
}
