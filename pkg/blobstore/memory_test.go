package blobstore

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestMemory_PutGet(t *testing.T) {
	store := NewMemory(0)
	ctx := context.Background()

	meta := []byte(`{"status_code":200}`)
	body := []byte("<html></html>")

	if err := store.Put(ctx, "key1", meta, body); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	gotMeta, gotBody, err := store.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(gotMeta, meta) {
		t.Errorf("meta = %q, want %q", gotMeta, meta)
	}
	if !bytes.Equal(gotBody, body) {
		t.Errorf("body = %q, want %q", gotBody, body)
	}
}

func TestMemory_GetNotFound(t *testing.T) {
	store := NewMemory(0)

	if _, _, err := store.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
	if _, err := store.Meta(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Meta error = %v, want ErrNotFound", err)
	}
}

func TestMemory_ChunkedBody(t *testing.T) {
	const chunkSize = 1 << 20
	store := NewMemory(chunkSize)
	ctx := context.Background()

	// 5 MB body forces multi-chunk storage at a 1 MB bound.
	body := make([]byte, 5*chunkSize)
	for i := range body {
		body[i] = byte(i % 251)
	}

	if err := store.Put(ctx, "big", []byte("{}"), body); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if got := store.ChunkCount("big"); got != 5 {
		t.Errorf("ChunkCount = %d, want 5", got)
	}

	_, gotBody, err := store.Get(ctx, "big")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(gotBody, body) {
		t.Error("reassembled body differs from original")
	}
}

func TestMemory_PutSupersedes(t *testing.T) {
	store := NewMemory(4)
	ctx := context.Background()

	if err := store.Put(ctx, "key", []byte("m1"), []byte("first body")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, "key", []byte("m2"), []byte("2nd")); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	meta, body, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(meta) != "m2" || string(body) != "2nd" {
		t.Errorf("got (%q, %q), want (m2, 2nd)", meta, body)
	}

	// No chunks from the first write may remain.
	if got := store.ChunkCount(""); got != 1 {
		t.Errorf("total chunks = %d, want 1", got)
	}
	if got := store.EntryCount(); got != 1 {
		t.Errorf("entries = %d, want 1", got)
	}
}

func TestMemory_Delete(t *testing.T) {
	store := NewMemory(0)
	ctx := context.Background()

	if err := store.Put(ctx, "key", []byte("m"), []byte("b")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "key"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
	if got := store.ChunkCount(""); got != 0 {
		t.Errorf("chunks after delete = %d, want 0", got)
	}
}

func TestMemory_ExistsAndKeys(t *testing.T) {
	store := NewMemory(0)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "key")
	if err != nil || ok {
		t.Errorf("Exists(absent) = (%v, %v), want (false, nil)", ok, err)
	}

	for _, key := range []string{"a", "b"} {
		if err := store.Put(ctx, key, []byte("m"), nil); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	ok, err = store.Exists(ctx, "a")
	if err != nil || !ok {
		t.Errorf("Exists(a) = (%v, %v), want (true, nil)", ok, err)
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Keys returned %d keys, want 2", len(keys))
	}
}

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		chunkSize int
		want      []string
	}{
		{name: "empty body yields no chunks", body: "", chunkSize: 4, want: nil},
		{name: "exact multiple", body: "abcdefgh", chunkSize: 4, want: []string{"abcd", "efgh"}},
		{name: "remainder chunk", body: "abcdefghi", chunkSize: 4, want: []string{"abcd", "efgh", "i"}},
		{name: "single chunk", body: "ab", chunkSize: 4, want: []string{"ab"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitChunks([]byte(tt.body), tt.chunkSize)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d chunks, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if string(got[i]) != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
