package guildpost

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// BlobStore is the namespaced key→string storage every peer shares.
// Group state and the per-group event logs live here; it is the only
// channel connecting peers. Writes are last-writer-wins with no
// compare-and-swap, so concurrent read-modify-write cycles from two
// peers can silently drop one side's change. That is an accepted
// property of the design, not something callers should retry around.
type BlobStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Unset(key string) error
}

// MemoryStore is an in-memory BlobStore. Tests share a single instance
// between several peers to stand in for the shared storage medium.
type MemoryStore struct {
	data map[string]string
	mu   sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *MemoryStore) Unset(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Keys returns a snapshot of all stored keys (handy for inspection).
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// FileStore is a BlobStore backed by a single JSON file. The whole map
// is loaded on open and rewritten on every Set/Unset. Fine for the data
// volumes involved here (a handful of groups, logs capped at 100
// entries); not a general-purpose database.
type FileStore struct {
	path string
	data map[string]string
	mu   sync.Mutex
}

// OpenFileStore loads (or creates) a file-backed store at path.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, data: make(map[string]string)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		// A corrupt file shouldn't brick the client; start fresh and
		// keep the old bytes around for forensics.
		logrus.Warnf("store: %s is corrupt (%v), starting fresh", path, err)
		backup := path + ".corrupt"
		if werr := os.WriteFile(backup, raw, 0600); werr == nil {
			logrus.Warnf("store: saved corrupt contents to %s", backup)
		}
		s.data = make(map[string]string)
	}
	return s, nil
}

func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return s.flushLocked()
}

func (s *FileStore) Unset(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return s.flushLocked()
}

func (s *FileStore) flushLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	// Write-then-rename so a crash mid-write never truncates the store.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Store key layout. Everything guildpost persists goes through these
// helpers so the namespace stays greppable.
func groupKey(groupID string) string     { return "group." + groupID }
func eventsKey(groupID string) string    { return "sync." + groupID + ".events" }
func auditKey(identity string) string    { return "audit." + identity }
func activeGroupKey(identity string) string { return "active." + identity }
