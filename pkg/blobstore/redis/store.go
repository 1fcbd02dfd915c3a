// Package redis implements the blob store on Redis.
//
// Each entry holds its metadata in a hash at "<prefix>:meta:<key>" with the
// fields meta (the metadata document), blob (the current generation id) and
// n (the chunk count). Body chunks live in plain string keys at
// "<prefix>:blob:<blob>:<seq>". Chunks are committed before the metadata
// hash is swapped, so metadata visibility implies full chunk availability.
// The swap is a Lua script that returns the superseded generation, whose
// chunks are deleted afterwards.
package redis

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/crawlkit/fetchcache/pkg/blobstore"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Config holds the Redis store configuration.
type Config struct {
	// Prefix namespaces all cache keys in the Redis keyspace.
	Prefix string

	// ChunkSize bounds individual chunk payloads. Zero selects
	// blobstore.DefaultChunkSize.
	ChunkSize int
}

// DefaultConfig returns the standard key prefix and chunk bound.
func DefaultConfig() Config {
	return Config{
		Prefix:    "fetchcache",
		ChunkSize: blobstore.DefaultChunkSize,
	}
}

// FromEnv builds a Config from CACHE_PREFIX and CACHE_CHUNK_SIZE.
func FromEnv() Config {
	cfg := DefaultConfig()
	if prefix := os.Getenv("CACHE_PREFIX"); prefix != "" {
		cfg.Prefix = prefix
	}
	if size := os.Getenv("CACHE_CHUNK_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil && n > 0 {
			cfg.ChunkSize = n
		}
	}
	return cfg
}

// Store implements blobstore.Store on Redis.
type Store struct {
	client    *redis.Client
	prefix    string
	chunkSize int
}

// New creates a Redis-backed store using an existing client.
func New(client *redis.Client, cfg Config) *Store {
	if client == nil {
		panic("redis client cannot be nil")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "fetchcache"
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = blobstore.DefaultChunkSize
	}
	return &Store{client: client, prefix: prefix, chunkSize: chunkSize}
}

func (s *Store) metaKey(key string) string {
	return s.prefix + ":meta:" + key
}

func (s *Store) chunkKey(blob string, n int) string {
	return fmt.Sprintf("%s:blob:%s:%d", s.prefix, blob, n)
}

// putScript swaps the metadata hash to the new generation and returns the
// superseded one in a single step. Reading the old generation atomically
// with the swap is what keeps racing Puts for the same key from both
// claiming the same predecessor: each writer learns exactly which blob it
// replaced, so every losing generation has one owner that reclaims it.
var putScript = redis.NewScript(`
local old_blob = redis.call('HGET', KEYS[1], 'blob')
local old_n = redis.call('HGET', KEYS[1], 'n')
redis.call('HSET', KEYS[1], 'meta', ARGV[1], 'blob', ARGV[2], 'n', ARGV[3])
return {old_blob, old_n}
`)

// Put implements blobstore.Store.
func (s *Store) Put(ctx context.Context, key string, meta, body []byte) error {
	blob := uuid.NewString()
	pieces := blobstore.SplitChunks(body, s.chunkSize)
	if len(pieces) > 0 {
		pipe := s.client.Pipeline()
		for i, piece := range pieces {
			pipe.Set(ctx, s.chunkKey(blob, i), piece, 0)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			s.dropChunks(ctx, blob, len(pieces))
			return &blobstore.StorageError{Op: "put chunks", Err: err}
		}
	}

	res, err := putScript.Run(ctx, s.client, []string{s.metaKey(key)},
		meta, blob, len(pieces)).Result()
	if err != nil {
		s.dropChunks(ctx, blob, len(pieces))
		return &blobstore.StorageError{Op: "put metadata", Err: err}
	}

	if oldBlob, oldN := supersededGeneration(res); oldBlob != "" && oldBlob != blob {
		s.dropChunks(ctx, oldBlob, oldN)
	}
	return nil
}

// supersededGeneration decodes the prior blob id and chunk count returned by
// putScript. A first write has no predecessor and comes back empty.
func supersededGeneration(res interface{}) (string, int) {
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return "", 0
	}
	blob, _ := values[0].(string)
	n := 0
	if raw, ok := values[1].(string); ok {
		n, _ = strconv.Atoi(raw)
	}
	return blob, n
}

// dropChunks deletes the chunk keys of one blob generation, best-effort.
func (s *Store) dropChunks(ctx context.Context, blob string, n int) {
	if n <= 0 {
		return
	}
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = s.chunkKey(blob, i)
	}
	_ = s.client.Del(ctx, keys...).Err()
}

// Get implements blobstore.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, []byte, error) {
	fields, err := s.client.HGetAll(ctx, s.metaKey(key)).Result()
	if err != nil {
		return nil, nil, &blobstore.StorageError{Op: "get metadata", Err: err}
	}
	if len(fields) == 0 {
		return nil, nil, blobstore.ErrNotFound
	}

	meta := []byte(fields["meta"])
	n, err := strconv.Atoi(fields["n"])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bad chunk count %q", blobstore.ErrCorruptEntry, fields["n"])
	}
	if n == 0 {
		return meta, nil, nil
	}

	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = s.chunkKey(fields["blob"], i)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, &blobstore.StorageError{Op: "get chunks", Err: err}
	}

	var body []byte
	for i, value := range values {
		chunk, ok := value.(string)
		if !ok {
			return nil, nil, fmt.Errorf("%w: chunk %d missing", blobstore.ErrCorruptEntry, i)
		}
		body = append(body, chunk...)
	}
	return meta, body, nil
}

// Meta implements blobstore.Store.
func (s *Store) Meta(ctx context.Context, key string) ([]byte, error) {
	meta, err := s.client.HGet(ctx, s.metaKey(key), "meta").Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, blobstore.ErrNotFound
		}
		return nil, &blobstore.StorageError{Op: "get metadata", Err: err}
	}
	return meta, nil
}

// Delete implements blobstore.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	metaKey := s.metaKey(key)

	fields, err := s.client.HGetAll(ctx, metaKey).Result()
	if err != nil {
		return &blobstore.StorageError{Op: "delete", Err: err}
	}
	if len(fields) == 0 {
		return blobstore.ErrNotFound
	}

	if err := s.client.Del(ctx, metaKey).Err(); err != nil {
		return &blobstore.StorageError{Op: "delete metadata", Err: err}
	}
	n, _ := strconv.Atoi(fields["n"])
	s.dropChunks(ctx, fields["blob"], n)
	return nil
}

// Exists implements blobstore.Store.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	count, err := s.client.Exists(ctx, s.metaKey(key)).Result()
	if err != nil {
		return false, &blobstore.StorageError{Op: "exists", Err: err}
	}
	return count > 0, nil
}

// Keys implements blobstore.Store.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	pattern := s.prefix + ":meta:*"
	strip := len(s.prefix + ":meta:")

	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[strip:])
	}
	if err := iter.Err(); err != nil {
		return nil, &blobstore.StorageError{Op: "list keys", Err: err}
	}
	return keys, nil
}

// ChunkCount returns the number of chunk keys currently stored under the
// prefix. Diagnostic accessor used by tests to verify chunk reclaim.
func (s *Store) ChunkCount(ctx context.Context) (int, error) {
	count := 0
	iter := s.client.Scan(ctx, 0, s.prefix+":blob:*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, &blobstore.StorageError{Op: "chunk count", Err: err}
	}
	return count, nil
}

// Ping verifies connectivity to the backing database.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return &blobstore.StorageError{Op: "ping", Err: err}
	}
	return nil
}

// Close implements blobstore.Store.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Close()
}
