// Package blobstore defines the chunked blob storage abstraction the cache
// is built on, plus an in-process implementation for tests and small
// pipelines.
//
// A Store keeps, per opaque key, one small metadata document and one body
// payload. Bodies may exceed the practical document size of the backing
// database, so implementations split them into bounded ordered chunks and
// reassemble on read. Implementations must commit chunks before metadata so
// that metadata visibility implies full chunk availability, and must reclaim
// superseded chunks (no orphans).
package blobstore

import (
	"context"
	"errors"
	"fmt"
)

// DefaultChunkSize bounds individual chunk payloads when no explicit size
// is configured.
const DefaultChunkSize = 1 << 20 // 1 MiB

var (
	// ErrNotFound indicates the key has no stored entry. This is the normal
	// miss signal, not a failure.
	ErrNotFound = errors.New("blobstore: not found")

	// ErrCorruptEntry indicates chunk reassembly hit a missing or
	// out-of-order chunk. A truncated payload is never returned silently.
	ErrCorruptEntry = errors.New("blobstore: corrupt entry")
)

// StorageError wraps a connection or backing-store failure. Callers decide
// retry policy; the store never retries internally.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("blobstore: storage unavailable during %s: %v", e.Op, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Store is the chunked blob storage contract. Every call may hit the
// network; no in-process caching is implied.
type Store interface {
	// Put stores metadata and body under key. An existing entry is
	// atomically superseded: readers never observe a mix of old and new
	// chunks, and the old chunks are deleted once superseded.
	Put(ctx context.Context, key string, meta, body []byte) error

	// Get returns the metadata document and the reassembled body.
	// Returns ErrNotFound if the key has no entry and ErrCorruptEntry if
	// the chunk sequence is incomplete or inconsistent.
	Get(ctx context.Context, key string) (meta, body []byte, err error)

	// Meta returns only the metadata document, without fetching chunks.
	Meta(ctx context.Context, key string) ([]byte, error)

	// Delete removes the metadata document and all associated chunks.
	// Returns ErrNotFound if the key has no entry.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an entry is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Keys lists all stored entry keys. The listing is a point-in-time
	// snapshot; callers iterating it must tolerate concurrent writes.
	Keys(ctx context.Context) ([]string, error)

	// Close releases the backing connection.
	Close(ctx context.Context) error
}

// Pinger is implemented by stores that can verify connectivity to their
// backing database.
type Pinger interface {
	Ping(ctx context.Context) error
}
