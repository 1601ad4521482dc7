package history

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/telnet-web-access/backend/internal/model"
)

var testEndpoint = model.Endpoint{Host: "bbs.example.com", Port: 23}

func newTestFileStore(t *testing.T, maxBytes int64) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), testEndpoint, maxBytes)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestNewFileStore_InvalidArguments(t *testing.T) {
	if _, err := NewFileStore("", testEndpoint, 0); !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty dir, got %v", err)
	}
	if _, err := NewFileStore(t.TempDir(), model.Endpoint{}, 0); !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for zero endpoint, got %v", err)
	}
	if _, err := NewFileStore(t.TempDir(), testEndpoint, -1); !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for negative bound, got %v", err)
	}
}

func TestFileStore_PathUsesCanonicalName(t *testing.T) {
	store := newTestFileStore(t, 0)
	if filepath.Base(store.Path()) != "bbs.example.com_23.dat" {
		t.Errorf("unexpected file name %s", filepath.Base(store.Path()))
	}
}

func TestFileStore_TailMissing(t *testing.T) {
	store := newTestFileStore(t, 0)

	data, err := store.Tail(context.Background(), 8192)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data == nil || len(data) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", data)
	}
}

func TestFileStore_AppendTail(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t, 0)

	if err := store.Append(ctx, []byte("hello ")); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := store.Append(ctx, []byte("world")); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	data, err := store.Tail(ctx, 100)
	if err != nil {
		t.Fatalf("tail failed: %v", err)
	}
	if !bytes.Equal(data, []byte("hello world")) {
		t.Errorf("expected 'hello world', got %q", data)
	}

	data, err = store.Tail(ctx, 5)
	if err != nil {
		t.Fatalf("tail failed: %v", err)
	}
	if !bytes.Equal(data, []byte("world")) {
		t.Errorf("expected 'world', got %q", data)
	}

	data, err = store.Tail(ctx, 0)
	if err != nil {
		t.Fatalf("tail failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty tail for 0 bytes, got %q", data)
	}
}

func TestFileStore_RawBytesNoFraming(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t, 0)

	chunks := [][]byte{{0xff, 0xfb, 0x01}, {0x00}, []byte("\r\n")}
	for _, c := range chunks {
		if err := store.Append(ctx, c); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	onDisk, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !bytes.Equal(onDisk, []byte{0xff, 0xfb, 0x01, 0x00, '\r', '\n'}) {
		t.Errorf("unexpected file contents %v", onDisk)
	}
}

func TestFileStore_NegativeTail(t *testing.T) {
	store := newTestFileStore(t, 0)
	if _, err := store.Tail(context.Background(), -1); !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestFileStore_AppendUnwritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	store, err := NewFileStore(dir, testEndpoint, 0)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	err = store.Append(context.Background(), []byte("x"))
	if !errors.Is(err, model.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}

func TestFileStore_Compaction(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t, 10)

	store.Append(ctx, []byte("0123456789"))
	store.Append(ctx, []byte("abcdefghij"))

	info, _ := os.Stat(store.Path())
	if info.Size() != 20 {
		t.Fatalf("expected no compaction at exactly twice the bound, size=%d", info.Size())
	}

	store.Append(ctx, []byte("XYZ"))

	info, _ = os.Stat(store.Path())
	if info.Size() != 10 {
		t.Errorf("expected file compacted to 10 bytes, got %d", info.Size())
	}

	data, err := store.Tail(ctx, 100)
	if err != nil {
		t.Fatalf("tail failed: %v", err)
	}
	if !bytes.Equal(data, []byte("defghijXYZ")) {
		t.Errorf("expected 'defghijXYZ', got %q", data)
	}
}

func TestFileStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Append(ctx, []byte("abcd"))
		}()
	}
	wg.Wait()

	data, err := store.Tail(ctx, 1000)
	if err != nil {
		t.Fatalf("tail failed: %v", err)
	}
	if !bytes.Equal(data, bytes.Repeat([]byte("abcd"), 20)) {
		t.Errorf("appends interleaved or lost: %q", data)
	}
}

func TestFileResolver_SameStorePerEndpoint(t *testing.T) {
	resolver, err := NewFileResolver(filepath.Join(t.TempDir(), "history"), 0)
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}

	a, _ := resolver.Resolve(testEndpoint)
	b, _ := resolver.Resolve(testEndpoint)
	c, _ := resolver.Resolve(model.Endpoint{Host: "other", Port: 23})

	if a != b {
		t.Error("expected the same store for the same endpoint")
	}
	if a == c {
		t.Error("expected distinct stores for distinct endpoints")
	}
}

func TestFileResolver_ReleaseDropsStore(t *testing.T) {
	resolver, err := NewFileResolver(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}

	a, _ := resolver.Resolve(testEndpoint)
	resolver.Resolve(testEndpoint)
	a.Append(context.Background(), []byte("kept"))

	resolver.Release(testEndpoint)
	if resolver.Len() != 1 {
		t.Fatalf("expected store held by remaining writer, got %d", resolver.Len())
	}
	resolver.Release(testEndpoint)
	if resolver.Len() != 0 {
		t.Fatalf("expected no cached stores, got %d", resolver.Len())
	}

	store, ok := resolver.Lookup(testEndpoint)
	if !ok {
		t.Fatal("expected lookup to find the file on disk")
	}
	data, err := store.Tail(context.Background(), 100)
	if err != nil || string(data) != "kept" {
		t.Errorf("expected 'kept', got %q, %v", data, err)
	}
}

func TestFileResolver_LookupMissingCreatesNothing(t *testing.T) {
	dir := t.TempDir()
	resolver, err := NewFileResolver(dir, 0)
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}

	if _, ok := resolver.Lookup(testEndpoint); ok {
		t.Error("expected no store for an endpoint without history")
	}
	if resolver.Len() != 0 {
		t.Errorf("expected no cached stores, got %d", resolver.Len())
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected no files, got %d", len(entries))
	}
}
