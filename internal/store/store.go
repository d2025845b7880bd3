// Package store provides the key-value preference store that persists
// install records. Values are plain strings; absence is distinct from the
// empty string.
package store

import (
	"context"
	"fmt"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Store is a string key-value preference store. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key.
	Set(ctx context.Context, key, value string) error
	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Close releases resources held by the store.
	Close() error
}

// Open creates a store of the named backend rooted in dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(filepath.Join(dir, "preferences.json"))
	case BackendSQLite:
		return NewSQLiteStore(filepath.Join(dir, "preferences.db"))
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}
