package blobstore

import (
	"bytes"
	"context"
	"sync"
)

// Memory is an in-process Store. It chunks bodies exactly like the
// persistent implementations so that chunk-level behavior (supersede,
// reclaim, reassembly) can be exercised without a running database.
type Memory struct {
	chunkSize int

	mu     sync.RWMutex
	metas  map[string][]byte
	chunks map[string][][]byte
}

// NewMemory creates an in-process store. A chunkSize <= 0 selects
// DefaultChunkSize.
func NewMemory(chunkSize int) *Memory {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Memory{
		chunkSize: chunkSize,
		metas:     make(map[string][]byte),
		chunks:    make(map[string][][]byte),
	}
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, key string, meta, body []byte) error {
	split := SplitChunks(body, m.chunkSize)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metas[key] = append([]byte(nil), meta...)
	m.chunks[key] = split
	return nil
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meta, ok := m.metas[key]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return append([]byte(nil), meta...), bytes.Join(m.chunks[key], nil), nil
}

// Meta implements Store.
func (m *Memory) Meta(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meta, ok := m.metas[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), meta...), nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.metas[key]; !ok {
		return ErrNotFound
	}
	delete(m.metas, key)
	delete(m.chunks, key)
	return nil
}

// Exists implements Store.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.metas[key]
	return ok, nil
}

// Keys implements Store.
func (m *Memory) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.metas))
	for key := range m.metas {
		keys = append(keys, key)
	}
	return keys, nil
}

// Close implements Store.
func (m *Memory) Close(ctx context.Context) error {
	return nil
}

// EntryCount returns the number of stored entries. Diagnostic accessor used
// by tests to verify supersede and purge behavior.
func (m *Memory) EntryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.metas)
}

// ChunkCount returns the number of chunks stored under key, or the total
// across all keys when key is empty. Diagnostic accessor used by tests to
// verify that superseded chunks are reclaimed.
func (m *Memory) ChunkCount(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if key != "" {
		return len(m.chunks[key])
	}
	total := 0
	for _, c := range m.chunks {
		total += len(c)
	}
	return total
}

// SplitChunks slices body into bounded chunks, copying so later mutation of
// body cannot corrupt stored data. An empty body yields zero chunks.
func SplitChunks(body []byte, chunkSize int) [][]byte {
	if len(body) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(body)+chunkSize-1)/chunkSize)
	for start := 0; start < len(body); start += chunkSize {
		end := start + chunkSize
		if end > len(body) {
			end = len(body)
		}
		chunks = append(chunks, append([]byte(nil), body[start:end]...))
	}
	return chunks
}
