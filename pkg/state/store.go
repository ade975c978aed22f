package state

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/driftdata/drift/pkg/errors"
	gojson "github.com/goccy/go-json"
)

// Store persists SyncState per stream across sync invocations.
//
// Load never fails on absent state; a stream that has never checkpointed
// loads an empty state. Checkpoint durably persists the given state and
// must only be called after the corresponding records were accepted by the
// sink, never before.
type Store interface {
	Load(ctx context.Context, stream string) (SyncState, error)
	Checkpoint(ctx context.Context, stream string, state SyncState) error
	Close(ctx context.Context) error
}

// MemoryStore keeps state in process memory. It is the default for tests
// and for sources where resumability across processes is not needed.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string]SyncState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[string]SyncState)}
}

// Load returns the last checkpointed state for stream, or an empty state.
func (m *MemoryStore) Load(_ context.Context, stream string) (SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.streams[stream]; ok {
		return st.Clone(), nil
	}
	return make(SyncState), nil
}

// Checkpoint stores a copy of state under stream.
func (m *MemoryStore) Checkpoint(_ context.Context, stream string, state SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[stream] = state.Clone()
	return nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close(context.Context) error {
	return nil
}

// FileStore persists state as a single JSON document on disk, one entry
// per stream. Writes go through a temp file and rename so a crash
// mid-checkpoint leaves the previous state intact.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by the JSON file at path. The file
// is created on first checkpoint.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the state for stream from the file. A missing file or
// missing stream entry yields an empty state.
func (f *FileStore) Load(_ context.Context, stream string) (SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.read()
	if err != nil {
		return nil, err
	}
	if st, ok := all[stream]; ok {
		return st, nil
	}
	return make(SyncState), nil
}

// Checkpoint rewrites the file with the new state for stream merged in.
func (f *FileStore) Checkpoint(_ context.Context, stream string, state SyncState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.read()
	if err != nil {
		return err
	}
	all[stream] = state.Clone()

	data, err := gojson.MarshalIndent(all, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to encode state")
	}

	tmp := f.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to create state directory")
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to write state file")
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to replace state file")
	}
	return nil
}

// Close is a no-op for the file store.
func (f *FileStore) Close(context.Context) error {
	return nil
}

func (f *FileStore) read() (map[string]SyncState, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return make(map[string]SyncState), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to read state file")
	}

	all := make(map[string]SyncState)
	if len(data) == 0 {
		return all, nil
	}
	if err := gojson.Unmarshal(data, &all); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "failed to decode state file")
	}
	return all, nil
}
