package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/telnet-web-access/backend/internal/model"
)

// FileStore keeps the log as a flat file of raw bytes with no framing.
// Every call goes to disk; nothing is cached in memory.
type FileStore struct {
	endpoint model.Endpoint
	path     string
	// maxBytes bounds the file: once it grows past twice this size it is
	// compacted down to its last maxBytes. Zero disables compaction.
	maxBytes int64

	mu sync.Mutex
}

// NewFileStore creates a FileStore for ep inside dir.
func NewFileStore(dir string, ep model.Endpoint, maxBytes int64) (*FileStore, error) {
	if dir == "" {
		return nil, model.InvalidArgument("history directory is required")
	}
	if err := checkEndpoint(ep); err != nil {
		return nil, err
	}
	if maxBytes < 0 {
		return nil, model.InvalidArgument("maxBytes must be greater than or equal to 0, got %d", maxBytes)
	}
	return &FileStore{
		endpoint: ep,
		path:     filepath.Join(dir, ep.String()+".dat"),
		maxBytes: maxBytes,
	}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Append writes data to the end of the file and syncs it before returning.
func (s *FileStore) Append(_ context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return s.storageErr("append", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return s.storageErr("append", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return s.storageErr("append", err)
	}

	info, err := f.Stat()
	closeErr := f.Close()
	if err != nil {
		return s.storageErr("append", err)
	}
	if closeErr != nil {
		return s.storageErr("append", closeErr)
	}

	if s.maxBytes > 0 && info.Size() > 2*s.maxBytes {
		if err := s.compactLocked(); err != nil {
			return s.storageErr("compact", err)
		}
	}
	return nil
}

// Tail returns up to maxBytes of the most recently written data.
func (s *FileStore) Tail(_ context.Context, maxBytes int) ([]byte, error) {
	if err := checkTail(maxBytes); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, s.storageErr("tail", err)
	}
	defer f.Close()

	data, err := readTail(f, int64(maxBytes))
	if err != nil {
		return nil, s.storageErr("tail", err)
	}
	return data, nil
}

// compactLocked rewrites the file keeping only its last maxBytes. The
// replacement is renamed into place so readers never see a partial file.
func (s *FileStore) compactLocked() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	keep, err := readTail(f, s.maxBytes)
	f.Close()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(keep); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

func (s *FileStore) storageErr(op string, err error) error {
	return model.NewOpError("history "+op, s.endpoint, model.ErrStorage, err)
}

func readTail(f *os.File, n int64) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	offset := info.Size() - n
	if offset < 0 {
		offset = 0
	}

	data := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(data, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read at %d: %w", offset, err)
	}
	return data, nil
}

// FileResolver hands out one FileStore per endpoint under a directory.
// Stores are cached only while held; the files themselves persist.
type FileResolver struct {
	dir      string
	maxBytes int64

	mu     sync.Mutex
	stores map[model.Endpoint]*fileRef
}

type fileRef struct {
	store *FileStore
	refs  int
}

// NewFileResolver creates the directory if needed and returns a resolver.
func NewFileResolver(dir string, maxBytes int64) (*FileResolver, error) {
	if dir == "" {
		return nil, model.InvalidArgument("history directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	return &FileResolver{
		dir:      dir,
		maxBytes: maxBytes,
		stores:   make(map[model.Endpoint]*fileRef),
	}, nil
}

// Resolve returns the FileStore for ep. Writers of the same endpoint share
// one store so their appends and compactions are serialized.
func (r *FileResolver) Resolve(ep model.Endpoint) (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ref, ok := r.stores[ep]; ok {
		ref.refs++
		return ref.store, nil
	}

	s, err := NewFileStore(r.dir, ep, r.maxBytes)
	if err != nil {
		return nil, err
	}
	r.stores[ep] = &fileRef{store: s, refs: 1}
	return s, nil
}

// Release gives back a store acquired with Resolve.
func (r *FileResolver) Release(ep model.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.stores[ep]
	if !ok {
		return
	}
	ref.refs--
	if ref.refs <= 0 {
		delete(r.stores, ep)
	}
}

// Lookup returns a store for ep if its file exists or a writer holds it.
func (r *FileResolver) Lookup(ep model.Endpoint) (Store, bool) {
	r.mu.Lock()
	ref, ok := r.stores[ep]
	r.mu.Unlock()
	if ok {
		return ref.store, true
	}

	s, err := NewFileStore(r.dir, ep, r.maxBytes)
	if err != nil {
		return nil, false
	}
	if _, err := os.Stat(s.path); err != nil {
		return nil, false
	}
	return s, true
}

// Len returns the number of stores currently held.
func (r *FileResolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}
