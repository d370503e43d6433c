package cache

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DataStore is the upstream source of features.
type DataStore interface {
	// Extent returns the area covered by the store features.
	Extent(ctx context.Context) (orb.Bound, error)

	// Query returns the features whose geometry bound intersects b.
	Query(ctx context.Context, b orb.Bound) ([]*geojson.Feature, error)
}
