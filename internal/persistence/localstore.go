package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"PerpIndex/internal/store"
)

// LocalStore persists the client mirror's in-memory state to a JSON file
// so a restart resumes from the last snapshot instead of a cold backfill.
// Fixed-point values ride their decimal-string JSON codec; no numeric
// coercion happens on disk.
type LocalStore struct {
	path string
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{path: filepath.Join(dir, "mirror_state.json")}
}

// Save writes the snapshot atomically: temp file in the same directory,
// fsync, then rename over the previous snapshot.
func (l *LocalStore) Save(snap *store.MemorySnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "mirror_state_*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}

	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads the last snapshot. A missing file is a cold start, not an
// error; the caller gets a nil snapshot.
func (l *LocalStore) Load() (*store.MemorySnapshot, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap store.MemorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Clear removes the snapshot. Called on stream reset so a crash between
// the reset and the next save cannot resurrect pre-reset state.
func (l *LocalStore) Clear() error {
	err := os.Remove(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Path returns the snapshot file location.
func (l *LocalStore) Path() string { return l.path }
