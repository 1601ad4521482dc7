package history

import (
	"bytes"
	"context"
	"testing"

	"github.com/telnet-web-access/backend/internal/model"
)

func TestNewMemoryStore(t *testing.T) {
	if NewMemoryStore(100).capacity != 100 {
		t.Errorf("expected capacity 100")
	}
	if NewMemoryStore(0).capacity != DefaultMemoryCapacity {
		t.Errorf("expected default capacity for zero input")
	}
	if NewMemoryStore(-5).capacity != DefaultMemoryCapacity {
		t.Errorf("expected default capacity for negative input")
	}
}

func TestMemoryStore_AppendOverflow(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(10)

	m.Append(ctx, []byte("0123456789"))
	m.Append(ctx, []byte("abc"))

	data, _ := m.Tail(ctx, 100)
	if !bytes.Equal(data, []byte("3456789abc")) {
		t.Errorf("expected '3456789abc', got '%s'", data)
	}
	if m.Len() != 10 {
		t.Errorf("expected length 10, got %d", m.Len())
	}
}

func TestMemoryStore_AppendLargerThanCapacity(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(5)

	m.Append(ctx, []byte("0123456789"))

	data, _ := m.Tail(ctx, 5)
	if !bytes.Equal(data, []byte("56789")) {
		t.Errorf("expected '56789', got '%s'", data)
	}
}

func TestMemoryStore_TailReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(10)
	m.Append(ctx, []byte("test"))

	data, _ := m.Tail(ctx, 10)
	data[0] = 'X'

	again, _ := m.Tail(ctx, 10)
	if !bytes.Equal(again, []byte("test")) {
		t.Errorf("Tail should return a copy, got '%s'", again)
	}
}

func TestMemoryStore_TailEmpty(t *testing.T) {
	data, err := NewMemoryStore(10).Tail(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data == nil || len(data) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", data)
	}
}

func TestMemoryStore_GrowsOnDemand(t *testing.T) {
	m := NewMemoryStore(1 << 20)
	if cap(m.data) != 0 {
		t.Errorf("expected no buffer before the first append, got cap %d", cap(m.data))
	}

	m.Append(context.Background(), []byte("abc"))
	if cap(m.data) >= 1<<20 {
		t.Errorf("expected buffer sized to the data, got cap %d", cap(m.data))
	}
}

func TestMemoryResolver_LookupMissingCreatesNothing(t *testing.T) {
	r := NewMemoryResolver(0)
	ep := model.Endpoint{Host: "bbs.example.com", Port: 23}

	if _, ok := r.Lookup(ep); ok {
		t.Error("expected no store for an unknown endpoint")
	}
	if r.Len() != 0 {
		t.Errorf("expected no stores, got %d", r.Len())
	}
}

func TestMemoryResolver_Release(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryResolver(0)
	empty := model.Endpoint{Host: "unreachable.example.com", Port: 23}
	used := model.Endpoint{Host: "bbs.example.com", Port: 23}

	r.Resolve(empty)
	r.Release(empty)
	if _, ok := r.Lookup(empty); ok {
		t.Error("expected empty store to be dropped on release")
	}

	a, _ := r.Resolve(used)
	b, _ := r.Resolve(used)
	if a != b {
		t.Fatal("expected one store per endpoint")
	}
	a.Append(ctx, []byte("welcome"))
	r.Release(used)
	r.Release(used)

	store, ok := r.Lookup(used)
	if !ok {
		t.Fatal("expected store with history to survive release")
	}
	data, _ := store.Tail(ctx, 100)
	if string(data) != "welcome" {
		t.Errorf("expected 'welcome', got %q", data)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 store, got %d", r.Len())
	}
}
