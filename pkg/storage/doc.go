// Package storage is the cache storage controller: it ties request
// fingerprinting, the entry codec and a chunked blob store into the
// lookup/store/purge lifecycle a fetch pipeline consumes.
//
// # Basic Usage
//
//	store, err := mongo.New(ctx, mongo.FromEnv())
//	if err != nil {
//		return err
//	}
//
//	cache := storage.New(store, storage.Config{MaxAge: time.Hour})
//	if err := cache.Open(ctx); err != nil {
//		return err
//	}
//	defer cache.Close(ctx)
//
//	entry, err := cache.Retrieve(ctx, desc)
//	switch {
//	case err == nil:
//		// synthesize the response from entry, skip the network fetch
//	case errors.Is(err, storage.ErrMiss), errors.Is(err, storage.ErrExpired):
//		// perform the real fetch, then:
//		err = cache.Store(ctx, desc, resp.StatusCode, headers, body)
//	default:
//		// backing store unavailable
//	}
//
// # Maintenance
//
// A periodic hook outside the fetch loop reclaims stale entries:
//
//	purged, err := cache.PurgeExpired(ctx, time.Hour)
//
// # Semantics
//
// One entry is stored per fingerprint; a new Store for the same fingerprint
// supersedes the old entry and reclaims its chunks. Lookup deletes expired
// entries eagerly. Corrupt or malformed entries are logged and treated as
// misses, never served. Connectivity failures always surface as errors so
// the caller can decide retry policy.
//
// # Metrics
//
// The package exports Prometheus metrics:
//
//   - fetchcache_hits_total, fetchcache_misses_total, fetchcache_expired_total
//   - fetchcache_stores_total, fetchcache_stored_bytes_total
//   - fetchcache_purged_entries_total
//   - fetchcache_unusable_entries_total{reason}
//   - fetchcache_errors_total{operation}
package storage
