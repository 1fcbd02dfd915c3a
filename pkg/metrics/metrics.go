// Package metrics provides the centralized Prometheus metrics registry for
// the fetch cache. All metrics are defined in their respective packages
// (storage, transport) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available
// metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the fetch cache.
// All metrics are automatically registered via promauto in their respective
// packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns an http.Handler exposing the registered metrics, for
// mounting on a pipeline's diagnostics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Cache Metrics (pkg/storage):
//   - fetchcache_hits_total (Counter): Lookups served from the cache
//   - fetchcache_misses_total (Counter): Lookups with no stored entry
//   - fetchcache_expired_total (Counter): Lookups that found an entry past its retention window
//   - fetchcache_stores_total (Counter): Responses committed to the cache
//   - fetchcache_stored_bytes_total (Counter): Body bytes committed to the cache
//   - fetchcache_purged_entries_total (Counter): Entries removed by maintenance sweeps
//   - fetchcache_unusable_entries_total{reason} (Counter): Entries skipped as corrupt or malformed
//   - fetchcache_errors_total{operation} (Counter): Backing store errors by operation
//
// Transport Metrics (pkg/transport):
//   - fetchcache_transport_requests_total{source} (Counter): Round trips by response source (cache or origin)
//   - fetchcache_transport_fetch_duration_seconds (Histogram): Origin fetch duration
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(fetchcache_hits_total[5m])) /
//   (sum(rate(fetchcache_hits_total[5m])) + sum(rate(fetchcache_misses_total[5m])))
//
//   # Backing Store Error Rate
//   rate(fetchcache_errors_total[5m])
//
//   # Share of Traffic Served Without a Fetch
//   sum(rate(fetchcache_transport_requests_total{source="cache"}[5m])) /
//   sum(rate(fetchcache_transport_requests_total[5m]))
//
//   # P95 Origin Fetch Latency
//   histogram_quantile(0.95, rate(fetchcache_transport_fetch_duration_seconds_bucket[5m]))
