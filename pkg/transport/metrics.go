package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts round trips by where the response came from.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchcache_transport_requests_total",
		Help: "Round trips by response source (cache or origin)",
	}, []string{"source"})

	// FetchDuration observes the latency of origin fetches, cache hits
	// excluded.
	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fetchcache_transport_fetch_duration_seconds",
		Help:    "Origin fetch duration in seconds",
		Buckets: prometheus.DefBuckets,
	})
)
