package eviction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/tilecache/cache"
	"github.com/aukilabs/tilecache/quadtree"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	nodes     int
	shrink    int
	empty     bool
	evictions int
}

func (c *fakeCache) NodeCount() int {
	return c.nodes
}

func (c *fakeCache) EvictOldest() (orb.Bound, bool) {
	if c.empty {
		return orb.Bound{}, false
	}
	c.evictions++
	c.nodes -= c.shrink
	return orb.Bound{Max: orb.Point{1, 1}}, true
}

func TestWorkerEvict(t *testing.T) {
	t.Run("evicts until the limit is reached", func(t *testing.T) {
		c := &fakeCache{nodes: 20, shrink: 4}
		w := Worker{Cache: c, MaxNodes: 10}

		evicted, err := w.Evict()
		require.NoError(t, err)
		require.Equal(t, 3, evicted)
		require.Equal(t, 8, c.nodes)
	})

	t.Run("disabled without a limit", func(t *testing.T) {
		c := &fakeCache{nodes: 20, shrink: 4}
		w := Worker{Cache: c}

		evicted, err := w.Evict()
		require.NoError(t, err)
		require.Zero(t, evicted)
	})

	t.Run("stops when evictions do not shrink the tree", func(t *testing.T) {
		c := &fakeCache{nodes: 20}
		w := Worker{Cache: c, MaxNodes: 10}

		_, err := w.Evict()
		require.Error(t, err)
		require.Equal(t, ErrTypeNoProgress, errors.Type(err))
		require.Equal(t, maxStalledEvictions+1, c.evictions)
	})

	t.Run("stops when nothing is left to evict", func(t *testing.T) {
		c := &fakeCache{nodes: 20, empty: true}
		w := Worker{Cache: c, MaxNodes: 10}

		evicted, err := w.Evict()
		require.Error(t, err)
		require.Equal(t, ErrTypeNoProgress, errors.Type(err))
		require.Zero(t, evicted)
	})

	t.Run("bounds a tracker", func(t *testing.T) {
		tracker := cache.NewTracker(orb.Bound{Max: orb.Point{100, 100}},
			cache.WithTreeOptions(quadtree.WithMaxDepth(3)))
		_, err := tracker.Register(cache.BBox(orb.Bound{Max: orb.Point{10, 10}}))
		require.NoError(t, err)
		_, err = tracker.Register(cache.BBox(orb.Bound{
			Min: orb.Point{90, 90},
			Max: orb.Point{100, 100},
		}))
		require.NoError(t, err)
		require.Equal(t, 21, tracker.NodeCount())

		w := Worker{Cache: tracker, MaxNodes: 15}
		evicted, err := w.Evict()
		require.NoError(t, err)
		require.Equal(t, 1, evicted)
		require.LessOrEqual(t, tracker.NodeCount(), 15)
	})
}

func TestWorkerStart(t *testing.T) {
	c := &lockedCache{fakeCache: fakeCache{nodes: 20, shrink: 4}}
	w := Worker{
		Cache:     c,
		MaxNodes:  10,
		Interval:  time.Hour,
		NudgeChan: make(chan struct{}, 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)
	w.Nudge()
	w.Nudge()

	require.Eventually(t, func() bool {
		return c.NodeCount() <= 10
	}, time.Second, time.Millisecond*10)
}

type lockedCache struct {
	mutex sync.Mutex
	fakeCache
}

func (c *lockedCache) NodeCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.fakeCache.NodeCount()
}

func (c *lockedCache) EvictOldest() (orb.Bound, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.fakeCache.EvictOldest()
}
