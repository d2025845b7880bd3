package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// fileSchemaVersion is written alongside the values for future evolution.
const fileSchemaVersion = 1

// FileStore persists preferences as a single JSON document.
// Every mutation rewrites the file with write-then-rename.
type FileStore struct {
	path   string
	mu     sync.Mutex
	values map[string]string
}

type fileDocument struct {
	Version int               `json:"version"`
	Values  map[string]string `json:"values"`
}

// NewFileStore opens (or lazily creates) the JSON preference file at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse preferences %s: %w", path, err)
	}
	if doc.Values != nil {
		s.values = doc.Values
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.values[key]
	s.values[key] = value
	if err := s.save(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]string)
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			removed[k] = v
			delete(s.values, k)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	if err := s.save(); err != nil {
		for k, v := range removed {
			s.values[k] = v
		}
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// save writes the document atomically. Caller holds s.mu.
func (s *FileStore) save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create preferences directory: %w", err)
	}

	data, err := json.MarshalIndent(fileDocument{Version: fileSchemaVersion, Values: s.values}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write temporary preferences file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename preferences file: %w", err)
	}

	// Sync directory for durability
	df, err := os.Open(dir)
	if err == nil {
		if syncErr := df.Sync(); syncErr != nil {
			df.Close()
			return fmt.Errorf("sync directory: %w", syncErr)
		}
		df.Close()
	}

	return nil
}
