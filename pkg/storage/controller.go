package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/crawlkit/fetchcache/pkg/blobstore"
	"github.com/crawlkit/fetchcache/pkg/fingerprint"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrMiss indicates no usable entry is stored for the request.
	ErrMiss = errors.New("storage: cache miss")

	// ErrExpired indicates a stored entry exists but is older than the
	// retention window. The stale entry has already been deleted.
	ErrExpired = errors.New("storage: cache entry expired")
)

// Storage is the narrow surface fetch pipelines depend on. They must never
// depend on a concrete backing-store type.
type Storage interface {
	// Open verifies the backing store is reachable.
	Open(ctx context.Context) error

	// Retrieve returns the cached entry for the request using the
	// configured retention window. Returns ErrMiss or ErrExpired when the
	// framework should perform the real fetch.
	Retrieve(ctx context.Context, d fingerprint.Descriptor) (*Entry, error)

	// Store commits a fetched response, superseding any prior entry for the
	// same request.
	Store(ctx context.Context, d fingerprint.Descriptor, statusCode int, headers []Header, body []byte) error

	// Close releases the backing store connection.
	Close(ctx context.Context) error
}

// Config holds the cache storage configuration.
type Config struct {
	// MaxAge is the retention window used by Retrieve. Zero means entries
	// never expire.
	MaxAge time.Duration

	// Namespace prefixes every key so multiple pipelines can share one
	// backing store without fingerprint collisions.
	Namespace string

	// FingerprintHeaders are the request headers included in fingerprints.
	// Default is none: for most crawls only method, URL and body determine
	// the response.
	FingerprintHeaders []string
}

// FromEnv builds a Config from CACHE_MAX_AGE (Go duration), CACHE_NAMESPACE
// and CACHE_FINGERPRINT_HEADERS (comma-separated header names).
func FromEnv() Config {
	cfg := Config{}
	if v := os.Getenv("CACHE_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MaxAge = d
		}
	}
	cfg.Namespace = os.Getenv("CACHE_NAMESPACE")
	if v := os.Getenv("CACHE_FINGERPRINT_HEADERS"); v != "" {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.FingerprintHeaders = append(cfg.FingerprintHeaders, name)
			}
		}
	}
	return cfg
}

// Controller orchestrates fingerprinting, the entry codec and the blob
// store. It holds no mutable state beyond the store handle, so one instance
// may be shared by any number of goroutines.
type Controller struct {
	store     blobstore.Store
	hasher    fingerprint.Hasher
	maxAge    time.Duration
	namespace string
	logger    zerolog.Logger
}

var _ Storage = (*Controller)(nil)

// New creates a cache storage controller on the given blob store.
func New(store blobstore.Store, cfg Config) *Controller {
	if store == nil {
		panic("blob store cannot be nil")
	}
	return &Controller{
		store:     store,
		hasher:    fingerprint.NewHasher(cfg.FingerprintHeaders...),
		maxAge:    cfg.MaxAge,
		namespace: cfg.Namespace,
		logger:    log.With().Str("component", "cache-storage").Logger(),
	}
}

// Key returns the storage key for a request: its fingerprint, prefixed with
// the namespace when one is configured.
func (c *Controller) Key(d fingerprint.Descriptor) string {
	fp := c.hasher.Fingerprint(d)
	if c.namespace == "" {
		return fp
	}
	return c.namespace + "/" + fp
}

// Open implements Storage. It pings the backing store when the store
// supports it.
func (c *Controller) Open(ctx context.Context) error {
	if p, ok := c.store.(blobstore.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close implements Storage.
func (c *Controller) Close(ctx context.Context) error {
	return c.store.Close(ctx)
}

// Retrieve implements Storage using the configured retention window.
func (c *Controller) Retrieve(ctx context.Context, d fingerprint.Descriptor) (*Entry, error) {
	return c.Lookup(ctx, d, c.maxAge)
}

// Lookup returns the cached entry for the request if one is stored and no
// older than maxAge (maxAge <= 0 means no age limit).
//
// Unusable entries (corrupt chunk sequence, malformed metadata) are logged
// and reported as ErrMiss: a questionable cached response is never served.
// An entry older than maxAge is eagerly deleted and reported as ErrExpired;
// the next Store for the key would supersede it anyway, and deleting keeps
// repeated lookups from re-reading a stale body. Storage connectivity
// failures propagate as errors.
func (c *Controller) Lookup(ctx context.Context, d fingerprint.Descriptor, maxAge time.Duration) (*Entry, error) {
	key := c.Key(d)

	meta, body, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, blobstore.ErrNotFound):
		CacheMisses.Inc()
		return nil, ErrMiss
	case errors.Is(err, blobstore.ErrCorruptEntry):
		CacheUnusable.WithLabelValues("corrupt").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry treated as miss")
		CacheMisses.Inc()
		return nil, ErrMiss
	default:
		CacheErrors.WithLabelValues("lookup").Inc()
		return nil, fmt.Errorf("lookup %s: %w", key, err)
	}

	entry, err := DecodeMeta(meta)
	if err != nil {
		CacheUnusable.WithLabelValues("malformed").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("Malformed cache entry treated as miss")
		CacheMisses.Inc()
		return nil, ErrMiss
	}

	if entry.Expired(maxAge) {
		CacheExpired.Inc()
		if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			CacheErrors.WithLabelValues("lookup").Inc()
			c.logger.Warn().Err(err).Str("key", key).Msg("Failed to delete expired entry")
		}
		c.logger.Debug().
			Str("key", key).
			Dur("age", entry.Age()).
			Dur("max_age", maxAge).
			Msg("Cache entry expired")
		return nil, ErrExpired
	}

	entry.Key = key
	entry.Body = body
	CacheHits.Inc()
	return entry, nil
}

// Store implements Storage. It computes the request's key, encodes the
// response envelope and commits it, superseding any prior entry. Storing
// the same response twice is idempotent.
func (c *Controller) Store(ctx context.Context, d fingerprint.Descriptor, statusCode int, headers []Header, body []byte) error {
	key := c.Key(d)

	entry := &Entry{
		StatusCode: statusCode,
		Headers:    headers,
		StoredAt:   time.Now().UTC(),
		Request: RequestMeta{
			Method: strings.ToUpper(d.Method),
			URL:    d.URL,
		},
	}

	meta, err := EncodeMeta(entry)
	if err != nil {
		CacheErrors.WithLabelValues("store").Inc()
		return err
	}
	if err := c.store.Put(ctx, key, meta, body); err != nil {
		CacheErrors.WithLabelValues("store").Inc()
		return fmt.Errorf("store %s: %w", key, err)
	}

	CacheStores.Inc()
	CacheStoredBytes.Add(float64(len(body)))
	c.logger.Debug().
		Str("key", key).
		Int("status", statusCode).
		Int("body_bytes", len(body)).
		Msg("Stored response")
	return nil
}

// PurgeExpired scans all entries and deletes those older than maxAge,
// returning the number removed. Entries whose metadata cannot be decoded
// are removed as well, since they can never be served.
//
// The sweep is safe to run alongside Lookup and Store: the key listing is a
// snapshot, so each entry's timestamp is re-read immediately before its
// delete, and a fresh write racing the sweep survives.
func (c *Controller) PurgeExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	keys, err := c.store.Keys(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("purge").Inc()
		return 0, fmt.Errorf("purge: %w", err)
	}

	purged := 0
	for _, key := range keys {
		remove, err := c.shouldPurge(ctx, key, maxAge)
		if err != nil {
			CacheErrors.WithLabelValues("purge").Inc()
			return purged, fmt.Errorf("purge %s: %w", key, err)
		}
		if !remove {
			continue
		}

		err = c.store.Delete(ctx, key)
		switch {
		case err == nil:
			purged++
		case errors.Is(err, blobstore.ErrNotFound):
			// Deleted concurrently; nothing left to do.
		default:
			CacheErrors.WithLabelValues("purge").Inc()
			return purged, fmt.Errorf("purge %s: %w", key, err)
		}
	}

	CachePurged.Add(float64(purged))
	c.logger.Info().
		Int("purged", purged).
		Int("scanned", len(keys)).
		Dur("max_age", maxAge).
		Msg("Purged expired cache entries")
	return purged, nil
}

// shouldPurge re-reads an entry's metadata and decides whether the sweep
// may delete it. The fresh read is what protects entries rewritten after
// the key listing was taken.
func (c *Controller) shouldPurge(ctx context.Context, key string, maxAge time.Duration) (bool, error) {
	meta, err := c.store.Meta(ctx, key)
	if errors.Is(err, blobstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	entry, err := DecodeMeta(meta)
	if err != nil {
		CacheUnusable.WithLabelValues("malformed").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("Purging malformed cache entry")
		return true, nil
	}
	return entry.Expired(maxAge), nil
}
