package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks lookups served from the cache.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchcache_hits_total",
			Help: "Total number of cache lookups served from the store",
		},
	)

	// CacheMisses tracks lookups with no stored entry.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchcache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheExpired tracks lookups that found an entry older than the
	// retention window.
	CacheExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchcache_expired_total",
			Help: "Total number of lookups that hit an expired entry",
		},
	)

	// CacheStores tracks committed writes.
	CacheStores = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchcache_stores_total",
			Help: "Total number of responses written to the cache",
		},
	)

	// CacheStoredBytes tracks body bytes written.
	CacheStoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchcache_stored_bytes_total",
			Help: "Total response body bytes written to the cache",
		},
	)

	// CachePurged tracks entries removed by expiration sweeps.
	CachePurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchcache_purged_entries_total",
			Help: "Total number of entries removed by purge sweeps",
		},
	)

	// CacheUnusable tracks stored entries that could not be served.
	CacheUnusable = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchcache_unusable_entries_total",
			Help: "Total number of stored entries treated as misses",
		},
		[]string{"reason"}, // "corrupt", "malformed"
	)

	// CacheErrors tracks storage-layer operation failures.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchcache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "lookup", "store", "purge"
	)
)
