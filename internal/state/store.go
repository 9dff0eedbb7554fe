package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jonathan/compligator/internal/types"
)

// DefaultFileName is the state file written under a content root.
const DefaultFileName = ".compligator-state.json"

// NormalizedFileName is the ledger written under a normalized output root.
const NormalizedFileName = ".compligator-normalized.json"

// Store holds framework -> file id -> FileRecord. It is safe for concurrent use;
// mutations are serialized and only reach disk on Flush.
type Store struct {
	mu      sync.RWMutex
	path    string
	records map[string]map[string]types.FileRecord
	dirty   bool

	// beforeRename runs between the temp write and the rename. Tests use it
	// to simulate a crash at the worst possible moment.
	beforeRename func() error
}

// New returns an empty store that will persist to path.
func New(path string) *Store {
	return &Store{
		path:    path,
		records: make(map[string]map[string]types.FileRecord),
	}
}

// Load reads the state file DefaultFileName under root.
func Load(root string) (*Store, error) {
	return LoadFile(filepath.Join(root, DefaultFileName))
}

// LoadFile reads the state file at path. A missing file yields an empty store.
// An unparseable file yields an empty store and a *CorruptStateError.
func LoadFile(path string) (*Store, error) {
	s := New(path)

	//nolint:gosec // G304: path is the managed state file
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return s, &CorruptStateError{Path: path, Cause: err}
	}

	var records map[string]map[string]types.FileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return s, &CorruptStateError{Path: path, Cause: err}
	}
	for fw, files := range records {
		if files == nil {
			continue
		}
		s.records[fw] = files
	}

	return s, nil
}

// Path returns the file the store persists to.
func (s *Store) Path() string {
	return s.path
}

// Get returns the record for (framework, id).
func (s *Store) Get(framework, id string) (types.FileRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[framework][id]
	return rec, ok
}

// Put stores a record in memory and marks the store dirty.
func (s *Store) Put(framework, id string, rec types.FileRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, ok := s.records[framework]
	if !ok {
		files = make(map[string]types.FileRecord)
		s.records[framework] = files
	}
	files[id] = rec
	s.dirty = true
}

// Delete removes the record for (framework, id) if present.
func (s *Store) Delete(framework, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, ok := s.records[framework]
	if !ok {
		return
	}
	if _, ok := files[id]; !ok {
		return
	}
	delete(files, id)
	if len(files) == 0 {
		delete(s.records, framework)
	}
	s.dirty = true
}

// Framework returns a snapshot copy of one framework's records.
func (s *Store) Framework(framework string) map[string]types.FileRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]types.FileRecord, len(s.records[framework]))
	for id, rec := range s.records[framework] {
		out[id] = rec
	}
	return out
}

// Frameworks returns the sorted framework keys that have records.
func (s *Store) Frameworks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Dirty reports whether there are unflushed mutations.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Flush atomically persists the store: the JSON is written to a temp file in the
// same directory and renamed over the state file.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return &PersistError{Path: s.path, Message: "failed to encode state", Cause: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return &PersistError{Path: s.path, Message: "failed to create state directory", Cause: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return &PersistError{Path: s.path, Message: "failed to create temp file", Cause: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &PersistError{Path: s.path, Message: "failed to write temp file", Cause: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &PersistError{Path: s.path, Message: "failed to sync temp file", Cause: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &PersistError{Path: s.path, Message: "failed to close temp file", Cause: err}
	}

	if s.beforeRename != nil {
		if err := s.beforeRename(); err != nil {
			return &PersistError{Path: s.path, Message: "interrupted before commit", Cause: err}
		}
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return &PersistError{Path: s.path, Message: "failed to commit state", Cause: err}
	}

	s.dirty = false
	return nil
}

// String is used in debug logging.
func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, files := range s.records {
		n += len(files)
	}
	return fmt.Sprintf("state(%s: %d frameworks, %d files)", s.path, len(s.records), n)
}
