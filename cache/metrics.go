package cache

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel = "error_type"
	resultLabel  = "result"

	matchResultHit         = "hit"
	matchResultPartial     = "partial"
	matchResultMiss        = "miss"
	matchResultPassThrough = "pass_through"
)

var (
	matchResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecache_match_results",
		Help: "The number of matched filters by result.",
	}, []string{
		resultLabel,
	})

	missingRegions = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tilecache_missing_regions",
		Help:    "The number of missing regions returned by a match.",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
	})

	registeredRegions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_registered_regions",
		Help: "The number of regions registered as cached.",
	})

	unregisteredRegions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_unregistered_regions",
		Help: "The number of regions unregistered.",
	})

	collapsedNodes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_collapsed_nodes",
		Help: "The number of tree nodes removed by unregistrations.",
	})

	treeNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tilecache_tree_nodes",
		Help: "The number of nodes in the tree.",
	})

	treeGrowths = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_tree_growths",
		Help: "The number of times the tree root has grown.",
	})

	storeQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_store_queries",
		Help: "The number of queries sent to the data store.",
	})

	storeQueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecache_store_query_errors",
		Help: "The errors that occurred while querying the data store.",
	}, []string{
		errTypeLabel,
	})

	storeQueryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "tilecache_store_query_latency",
		Help: "The time to query the data store.",
	})
)

func instrumentMatch(result string, missing int) {
	matchResults.With(prometheus.Labels{
		resultLabel: result,
	}).Inc()

	if result != matchResultPassThrough {
		missingRegions.Observe(float64(missing))
	}
}

func instrumentTree(nodes, growths int) {
	treeNodes.Set(float64(nodes))
	if growths > 0 {
		treeGrowths.Add(float64(growths))
	}
}

func instrumentStoreQuery(f func() error) error {
	start := time.Now()
	storeQueries.Inc()

	err := f()
	storeQueryLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		storeQueryErrors.With(prometheus.Labels{
			errTypeLabel: errors.Type(err),
		}).Inc()
	}
	return err
}
