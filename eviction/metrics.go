package eviction

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const errTypeLabel = "error_type"

var (
	evictionPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_eviction_passes",
		Help: "The number of eviction passes.",
	})

	evictionPassErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tilecache_eviction_pass_errors",
		Help: "The errors that occurred during an eviction pass.",
	}, []string{
		errTypeLabel,
	})

	evictionPassLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "tilecache_eviction_pass_latency",
		Help: "The time to run an eviction pass.",
	})

	evictedRegions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tilecache_evicted_regions",
		Help: "The number of regions evicted from the cache.",
	})
)

func instrumentEvictionPass(evict func() (int, error)) error {
	start := time.Now()
	evictionPasses.Inc()

	_, err := evict()
	evictionPassLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		evictionPassErrors.With(prometheus.Labels{
			errTypeLabel: errors.Type(err),
		}).Inc()
	}
	return err
}

func instrumentEvictedRegion() {
	evictedRegions.Inc()
}
