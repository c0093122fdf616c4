package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store errors.
var (
	// ErrNotFound indicates no value is stored under the key.
	ErrNotFound = errors.New("key not found")

	// ErrCorrupt indicates the stored value cannot be parsed.
	ErrCorrupt = errors.New("stored value corrupt")
)

// StateVersion is the current version of the store file format.
const StateVersion = 1

// KVStore is the durable key/value capability required by persisted
// counters. Implementations must make single-value writes atomic.
type KVStore interface {
	// Read returns the value stored under key, ErrNotFound if there is none,
	// or ErrCorrupt if the stored value cannot be parsed.
	Read(key string) (uint32, error)

	// Write durably stores value under key.
	Write(key string, value uint32) error
}

// MemoryStore is an in-memory KVStore. It survives "reboots" in tests by
// being handed to a freshly constructed counter.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]uint32
	corrupt map[string]bool
	writes  int
	failErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]uint32),
		corrupt: make(map[string]bool),
	}
}

// Read implements KVStore.
func (s *MemoryStore) Read(key string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.corrupt[key] {
		return 0, fmt.Errorf("%s: %w", key, ErrCorrupt)
	}
	v, ok := s.values[key]
	if !ok {
		return 0, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return v, nil
}

// Write implements KVStore.
func (s *MemoryStore) Write(key string, value uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failErr != nil {
		return s.failErr
	}
	s.values[key] = value
	delete(s.corrupt, key)
	s.writes++
	return nil
}

// Writes returns the number of successful writes.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Corrupt marks key as holding an unparseable value.
func (s *MemoryStore) Corrupt(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt[key] = true
}

// FailWrites makes subsequent writes return err. Pass nil to recover.
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// storeFile is the on-disk layout of a FileStore.
type storeFile struct {
	// Version is the store file format version.
	Version int `json:"version"`

	// SavedAt is when the file was last written.
	SavedAt time.Time `json:"saved_at"`

	// Values holds raw values so a single bad entry is detected per key.
	Values map[string]json.RawMessage `json:"values"`
}

// FileStore is a KVStore backed by a JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file store at path. The file is created on the
// first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Read implements KVStore.
func (s *FileStore) Read(key string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return 0, err
	}
	raw, ok := f.Values[key]
	if !ok {
		return 0, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	var v uint32
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%s: %w: %v", key, ErrCorrupt, err)
	}
	return v, nil
}

// Write implements KVStore. The whole file is rewritten through a temporary
// file and renamed into place.
func (s *FileStore) Write(key string, value uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		// A corrupt file is replaced rather than blocking every counter.
		if !errors.Is(err, ErrCorrupt) {
			return err
		}
		f = &storeFile{Values: make(map[string]json.RawMessage)}
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.Values[key] = raw
	f.Version = StateVersion
	f.SavedAt = time.Now()

	return s.save(f)
}

// Clear removes the store file.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileStore) load() (*storeFile, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &storeFile{Values: make(map[string]json.RawMessage)}, nil
	}
	if err != nil {
		return nil, err
	}

	f := &storeFile{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", s.path, ErrCorrupt, err)
	}
	if f.Values == nil {
		f.Values = make(map[string]json.RawMessage)
	}
	return f, nil
}

func (s *FileStore) save(f *storeFile) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

// Compile-time interface satisfaction checks.
var (
	_ KVStore = (*MemoryStore)(nil)
	_ KVStore = (*FileStore)(nil)
)
