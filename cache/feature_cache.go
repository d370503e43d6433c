package cache

import (
	"context"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FeatureCache is a read-through cache in front of a data store. Only the
// areas missing from the tracker are fetched from the store.
type FeatureCache struct {
	Tracker *Tracker
	Store   DataStore

	// Fills are serialized so that a region is never seen as cached before
	// its features are attached.
	fillMutex sync.Mutex
}

// Features returns the features selected by the filter, fetching the
// missing areas from the store first. Filters without bounding boxes select
// from the whole store extent.
func (c *FeatureCache) Features(ctx context.Context, f Filter) ([]*geojson.Feature, error) {
	if f.Exclude {
		return nil, nil
	}

	c.fillMutex.Lock()
	defer c.fillMutex.Unlock()

	if !f.IsSpatial() {
		var extent orb.Bound
		err := instrumentStoreQuery(func() (err error) {
			extent, err = c.Store.Extent(ctx)
			return err
		})
		if err != nil {
			return nil, errors.New("getting data store extent failed").
				WithType(ErrTypeStore).
				Wrap(err)
		}

		f = Filter{
			BBoxes:     []orb.Bound{extent},
			Properties: f.Properties,
		}
	}

	residual, err := c.Tracker.Match(f)
	if err != nil {
		return nil, err
	}

	if !residual.Exclude {
		for _, b := range residual.BBoxes {
			if err := c.fill(ctx, b); err != nil {
				return nil, err
			}
		}
	}

	return c.Tracker.Features(f)
}

func (c *FeatureCache) fill(ctx context.Context, b orb.Bound) error {
	validated, err := c.Tracker.Register(BBox(b))
	if err != nil {
		return err
	}

	for _, area := range validated {
		var features []*geojson.Feature
		err := instrumentStoreQuery(func() (err error) {
			features, err = c.Store.Query(ctx, area)
			return err
		})
		if err == nil {
			err = c.Tracker.Attach(features)
		}

		if err != nil {
			if uerr := c.Tracker.Unregister(Filter{BBoxes: validated}); uerr != nil {
				logs.Warn(errors.New("rolling back registration failed").Wrap(uerr))
			}

			return errors.New("querying data store failed").
				WithType(ErrTypeStore).
				WithTag("bbox", bboxJSON(area)).
				Wrap(err)
		}

		logs.WithTag("bbox", bboxJSON(area)).
			WithTag("features", len(features)).
			Debug("region fetched")
	}
	return nil
}
