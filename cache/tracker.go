package cache

import (
	"fmt"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/tilecache/featureflag"
	"github.com/aukilabs/tilecache/models"
	"github.com/aukilabs/tilecache/quadtree"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// TrackerOption configures a tracker.
type TrackerOption func(*Tracker)

// WithFeatureFlags sets the flags changing the tracker cache policies.
func WithFeatureFlags(flags featureflag.FeatureFlag) TrackerOption {
	return func(t *Tracker) {
		t.exactValidation = flags.IsSet(featureflag.FlagDisableAncestorValidation)
		t.keepStructure = flags.IsSet(featureflag.FlagDisableSubtreeCollapse)
	}
}

// WithTreeOptions sets the options of the underlying quadtree.
func WithTreeOptions(options ...quadtree.Option) TrackerOption {
	return func(t *Tracker) {
		t.treeOptions = append(t.treeOptions, options...)
	}
}

// Tracker keeps track of the areas whose features are cached. It is safe
// for concurrent use.
type Tracker struct {
	mutex           sync.Mutex
	tree            *quadtree.QuadTree
	treeOptions     []quadtree.Option
	exactValidation bool
	keepStructure   bool

	ids      models.SequentialIDGenerator
	markers  map[quadtree.Region]uint64
	features map[string]uint64

	growths         int
	reportedGrowths int
}

// NewTracker creates a tracker whose tree initially covers bounds.
func NewTracker(bounds orb.Bound, options ...TrackerOption) *Tracker {
	t := &Tracker{
		markers:  make(map[quadtree.Region]uint64),
		features: make(map[string]uint64),
	}
	for _, o := range options {
		o(t)
	}

	t.tree = quadtree.New(quadtree.RegionFromBound(bounds), t.treeOptions...)
	instrumentTree(t.tree.NodeCount(), 0)
	return t
}

// Match returns the filter selecting the features that are not cached yet.
// It returns Exclude when everything the filter selects is cached. Filters
// without bounding boxes are returned unchanged.
func (t *Tracker) Match(f Filter) (Filter, error) {
	if err := f.Validate(); err != nil {
		return Filter{}, err
	}
	if f.Exclude || !f.IsSpatial() {
		instrumentMatch(matchResultPassThrough, 0)
		return f, nil
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	var missing []orb.Bound
	for _, b := range f.BBoxes {
		for _, r := range t.missing(quadtree.RegionFromBound(b)) {
			missing = append(missing, r.Bound())
		}
	}

	switch {
	case len(missing) == 0:
		instrumentMatch(matchResultHit, 0)
		return Exclude, nil

	case sameBounds(missing, f.BBoxes):
		instrumentMatch(matchResultMiss, len(missing))

	default:
		instrumentMatch(matchResultPartial, len(missing))
	}

	return Filter{
		BBoxes:     missing,
		Properties: f.Properties,
	}, nil
}

func (t *Tracker) missing(target quadtree.Region) []quadtree.Region {
	coverage := quadtree.NewCoverageVisitor(target, t.tree.Now())
	t.tree.ContainmentQuery(target, coverage)
	if coverage.Covered() {
		return nil
	}

	s := quadtree.NewMissingRegionStrategy(target)
	t.tree.QueryStrategy(s)
	return s.Missing()
}

// Register marks the areas of the filter bounding boxes as cached. It
// returns the areas that were marked, which may be larger than the
// bounding boxes when ancestor validation is enabled.
func (t *Tracker) Register(f Filter) ([]orb.Bound, error) {
	if err := t.validateSpatial(f); err != nil {
		return nil, err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	validated := make([]orb.Bound, 0, len(f.BBoxes))
	for _, b := range f.BBoxes {
		region := quadtree.RegionFromBound(b)

		id, ok := t.markers[region]
		if !ok {
			id = t.ids.New()
			t.markers[region] = id
		}
		t.insert(id, region, nil)

		v := quadtree.NewValidatingVisitor(region)
		v.Exact = t.exactValidation
		t.tree.ContainmentQuery(region, v)
		v.UpdateTree()

		area := b
		if n := v.LastNode(); n != nil && !v.Exact {
			area = n.Bounds().Bound()
		}
		validated = append(validated, area)
		registeredRegions.Inc()

		logs.WithTag("bbox", bboxJSON(b)).
			WithTag("validated", bboxJSON(area)).
			Debug("region registered")
	}

	t.instrumentTree()
	return validated, nil
}

// Unregister drops the cached state of the areas of the filter bounding
// boxes, along with the features attached to them.
func (t *Tracker) Unregister(f Filter) error {
	if err := t.validateSpatial(f); err != nil {
		return err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	for _, b := range f.BBoxes {
		removed := t.unregister(quadtree.RegionFromBound(b))
		logs.WithTag("bbox", bboxJSON(b)).
			WithTag("removed_nodes", removed).
			Debug("region unregistered")
	}

	t.instrumentTree()
	return nil
}

func (t *Tracker) unregister(region quadtree.Region) int {
	v := quadtree.NewInvalidatingVisitor(region)
	v.KeepStructure = t.keepStructure
	t.tree.ContainmentQuery(region, v)
	removed := v.UpdateTree()

	if id, ok := t.markers[region]; ok {
		delete(t.markers, region)
		t.ids.Reuse(id)
	}

	unregisteredRegions.Inc()
	collapsedNodes.Add(float64(removed))
	return removed
}

func (t *Tracker) validateSpatial(f Filter) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Exclude || !f.IsSpatial() {
		return errors.New("filter has no bounding box").
			WithType(ErrTypeInvalidFilter)
	}
	return nil
}

// Attach binds features to the tree. Features already known keep their
// record id.
func (t *Tracker) Attach(features []*geojson.Feature) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for _, f := range features {
		if f == nil || f.Geometry == nil {
			continue
		}

		payload, err := f.MarshalJSON()
		if err != nil {
			return errors.New("encoding feature failed").
				WithTag("feature_id", f.ID).
				Wrap(err)
		}

		key := featureKey(f, payload)
		id, ok := t.features[key]
		if !ok {
			id = t.ids.New()
			t.features[key] = id
		}

		t.insert(id, quadtree.RegionFromBound(f.Geometry.Bound()), payload)
	}

	t.instrumentTree()
	return nil
}

func featureKey(f *geojson.Feature, payload []byte) string {
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	return string(payload)
}

func (t *Tracker) insert(id uint64, region quadtree.Region, payload []byte) {
	growths := t.tree.Growths()
	t.tree.InsertData(id, region, payload)

	if g := t.tree.Growths() - growths; g > 0 {
		t.growths += g
		logs.WithTag("growths", g).
			WithTag("bounds", bboxJSON(t.tree.Bounds().Bound())).
			Info("tree root grown")
	}
}

// Features returns the cached features selected by the filter. Filters
// without bounding boxes select from the whole tree.
func (t *Tracker) Features(f Filter) ([]*geojson.Feature, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.Exclude {
		return nil, nil
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	regions := []quadtree.Region{t.tree.Bounds()}
	if f.IsSpatial() {
		regions = regions[:0]
		for _, b := range f.BBoxes {
			regions = append(regions, quadtree.RegionFromBound(b))
		}
	}

	var v quadtree.CollectingVisitor
	for _, r := range regions {
		t.tree.IntersectionQuery(r, &v)
	}

	features := make([]*geojson.Feature, 0, len(v.Records))
	for _, r := range v.Records {
		if r.Payload == nil {
			continue
		}

		feature, err := geojson.UnmarshalFeature(r.Payload)
		if err != nil {
			return nil, errors.New("decoding cached feature failed").
				WithTag("record_id", r.ID).
				Wrap(err)
		}
		if f.Matches(feature) {
			features = append(features, feature)
		}
	}
	return features, nil
}

// EvictOldest unregisters the least recently accessed cached area. It
// returns false when there is nothing left to evict.
func (t *Tracker) EvictOldest() (orb.Bound, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	n := t.tree.OldestSubtree()
	if n == nil {
		return orb.Bound{}, false
	}

	region := n.Bounds()
	removed := t.unregister(region)
	t.instrumentTree()

	logs.WithTag("bbox", bboxJSON(region.Bound())).
		WithTag("removed_nodes", removed).
		Debug("region evicted")
	return region.Bound(), true
}

// NodeCount returns the number of nodes in the tree.
func (t *Tracker) NodeCount() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.tree.NodeCount()
}

// Stats describes the state of a tracker.
type Stats struct {
	Bounds      [4]float64 `json:"bounds"`
	Nodes       int        `json:"nodes"`
	Depth       int        `json:"depth"`
	Records     int        `json:"records"`
	Registered  int        `json:"registered"`
	Features    int        `json:"features"`
	RootGrowths int        `json:"root_growths"`
}

// Stats returns the current state of the tracker.
func (t *Tracker) Stats() Stats {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return Stats{
		Bounds:      bboxJSON(t.tree.Bounds().Bound()),
		Nodes:       t.tree.NodeCount(),
		Depth:       t.tree.Depth(),
		Records:     t.tree.RecordCount(),
		Registered:  len(t.markers),
		Features:    len(t.features),
		RootGrowths: t.growths,
	}
}

func (t *Tracker) instrumentTree() {
	growths := t.growths
	instrumentTree(t.tree.NodeCount(), growths-t.reportedGrowths)
	t.reportedGrowths = growths
}

func sameBounds(a, b []orb.Bound) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
