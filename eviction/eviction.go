// Package eviction bounds the size of a cache tree by evicting its least
// recently accessed regions.
package eviction

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/paulmach/orb"
)

const (
	// ErrTypeNoProgress is the type of errors reported when evictions do
	// not reduce the size of the tree.
	ErrTypeNoProgress = "eviction_no_progress"

	// DefaultInterval is the interval used when none is given.
	DefaultInterval = time.Minute

	maxStalledEvictions = 64
)

// Cache is the cache whose tree is bounded.
type Cache interface {
	NodeCount() int
	EvictOldest() (orb.Bound, bool)
}

// Worker evicts regions from a cache while its tree has more nodes than
// MaxNodes. It runs on each tick of Interval and when nudged.
type Worker struct {
	Cache    Cache
	MaxNodes int
	Interval time.Duration

	// NudgeChan triggers an eviction pass without waiting for the next
	// tick. It should be buffered.
	NudgeChan chan struct{}
}

// Start runs the worker in a goroutine until ctx is done.
func (w Worker) Start(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-ticker.C:
			case <-w.NudgeChan:
			}

			if err := instrumentEvictionPass(w.Evict); err != nil {
				logs.Warn(errors.New("eviction pass failed").
					WithTag("max_nodes", w.MaxNodes).
					Wrap(err))
			}
		}
	}()
}

// Nudge requests an eviction pass. It never blocks.
func (w Worker) Nudge() {
	select {
	case w.NudgeChan <- struct{}{}:
	default:
	}
}

// Evict evicts regions until the cache tree has at most MaxNodes nodes. It
// returns the number of evicted regions.
func (w Worker) Evict() (int, error) {
	if w.MaxNodes <= 0 {
		return 0, nil
	}

	evicted := 0
	stalled := 0
	for nodes := w.Cache.NodeCount(); nodes > w.MaxNodes; {
		region, ok := w.Cache.EvictOldest()
		if !ok {
			return evicted, errors.New("nothing left to evict").
				WithType(ErrTypeNoProgress).
				WithTag("nodes", nodes)
		}
		evicted++
		instrumentEvictedRegion()

		logs.WithTag("min", region.Min).
			WithTag("max", region.Max).
			Debug("region evicted")

		count := w.Cache.NodeCount()
		if count >= nodes {
			stalled++
		} else {
			stalled = 0
		}
		if stalled > maxStalledEvictions {
			return evicted, errors.New("evictions do not shrink the tree").
				WithType(ErrTypeNoProgress).
				WithTag("nodes", count)
		}
		nodes = count
	}
	return evicted, nil
}
