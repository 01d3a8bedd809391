package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TileRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vtileraster_tile_requests_total",
		Help: "Total number of tile requests by outcome",
	}, []string{"outcome"})

	MetatileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vtileraster_metatile_cache_hits_total",
		Help: "Total number of metatile cache hits",
	})

	MetatileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vtileraster_metatile_cache_misses_total",
		Help: "Total number of metatile cache misses that started a build",
	})

	MetatileCacheShared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vtileraster_metatile_cache_shared_total",
		Help: "Total number of requests that joined an in-flight metatile build",
	})

	MetatileCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vtileraster_metatile_cache_entries",
		Help: "Number of metatiles currently cached",
	})

	MetatileBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vtileraster_metatile_builds_total",
		Help: "Total number of metatile builds by result",
	}, []string{"result"})

	MetatileBuildLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vtileraster_metatile_build_seconds",
		Help:    "Latency of metatile builds (fetch, render, slice) in seconds",
		Buckets: prometheus.DefBuckets,
	})

	UpstreamRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vtileraster_upstream_requests_total",
		Help: "Total number of upstream vector tile requests",
	})

	UpstreamLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vtileraster_upstream_latency_seconds",
		Help:    "Latency of upstream vector tile fetches in seconds",
		Buckets: prometheus.DefBuckets,
	})

	VectorCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vtileraster_vector_cache_hits_total",
		Help: "Total number of second-level vector cache hits",
	})

	VectorCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vtileraster_vector_cache_misses_total",
		Help: "Total number of second-level vector cache misses",
	})
)
