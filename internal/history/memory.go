package history

import (
	"context"
	"sync"

	"github.com/telnet-web-access/backend/internal/model"
)

// DefaultMemoryCapacity is the default number of bytes a MemoryStore keeps.
const DefaultMemoryCapacity = 64 * 1024

// MemoryStore keeps the most recent capacity bytes in process memory. It
// is used when no durable storage is configured and in tests. The buffer
// grows with the data and only reaches capacity once that much is written.
type MemoryStore struct {
	data     []byte
	capacity int
	mu       sync.RWMutex
}

// NewMemoryStore creates a MemoryStore. A capacity <= 0 uses DefaultMemoryCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity}
}

// Append adds data, discarding the oldest bytes once capacity is exceeded.
func (m *MemoryStore) Append(_ context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(data) >= m.capacity {
		m.data = append(m.data[:0], data[len(data)-m.capacity:]...)
		return nil
	}

	if overflow := len(m.data) + len(data) - m.capacity; overflow > 0 {
		n := copy(m.data, m.data[overflow:])
		m.data = m.data[:n]
	}
	m.data = append(m.data, data...)
	return nil
}

// Tail returns a copy of up to maxBytes of the newest data.
func (m *MemoryStore) Tail(_ context.Context, maxBytes int) ([]byte, error) {
	if err := checkTail(maxBytes); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	start := len(m.data) - maxBytes
	if start < 0 {
		start = 0
	}
	out := make([]byte, len(m.data)-start)
	copy(out, m.data[start:])
	return out, nil
}

// Len returns the number of bytes held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// MemoryResolver hands out one MemoryStore per endpoint. A store is kept
// while it is held or has data; an empty store is dropped on its last
// Release.
type MemoryResolver struct {
	capacity int

	mu     sync.Mutex
	stores map[model.Endpoint]*memoryRef
}

type memoryRef struct {
	store *MemoryStore
	refs  int
}

// NewMemoryResolver creates a resolver whose stores hold capacity bytes each.
func NewMemoryResolver(capacity int) *MemoryResolver {
	return &MemoryResolver{
		capacity: capacity,
		stores:   make(map[model.Endpoint]*memoryRef),
	}
}

// Resolve returns the MemoryStore for ep, creating it on first use.
func (r *MemoryResolver) Resolve(ep model.Endpoint) (Store, error) {
	if err := checkEndpoint(ep); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.stores[ep]
	if !ok {
		ref = &memoryRef{store: NewMemoryStore(r.capacity)}
		r.stores[ep] = ref
	}
	ref.refs++
	return ref.store, nil
}

// Release gives back a store acquired with Resolve.
func (r *MemoryResolver) Release(ep model.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.stores[ep]
	if !ok {
		return
	}
	if ref.refs > 0 {
		ref.refs--
	}
	if ref.refs == 0 && ref.store.Len() == 0 {
		delete(r.stores, ep)
	}
}

// Lookup returns the store for ep if one exists.
func (r *MemoryResolver) Lookup(ep model.Endpoint) (Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.stores[ep]
	if !ok {
		return nil, false
	}
	return ref.store, true
}

// Len returns the number of endpoints with a store.
func (r *MemoryResolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}
