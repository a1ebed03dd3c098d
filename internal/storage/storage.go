// Package storage provides JSON file persistence for the small durable
// tables the service keeps (user records, session tokens).
//
// Writes go to a temp file followed by an atomic rename, so a crash mid-save
// never leaves a truncated table on disk. All methods are goroutine-safe.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is a mutex-guarded JSON document on disk.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a store backed by the given path. The parent directory is
// created if missing.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage dir: %w", err)
		}
	}
	return &File{path: path}, nil
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Exists reports whether the backing file is present on disk.
func (f *File) Exists() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := os.Stat(f.path)
	return err == nil
}

// Load unmarshals the file into v. A missing file is returned as the
// underlying os error so callers can treat first-run as empty.
func (f *File) Load(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", f.path, err)
	}
	return nil
}

// Save marshals v and atomically replaces the file contents.
func (f *File) Save(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", f.path, err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replacing %s: %w", f.path, err)
	}
	return nil
}
