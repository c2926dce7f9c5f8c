package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileIndexStore keeps the index as a single JSON document on disk.
type FileIndexStore struct {
	path string
}

// NewFileIndexStore stores the index at path (typically <storage_dir>/index.json).
func NewFileIndexStore(path string) *FileIndexStore {
	return &FileIndexStore{path: path}
}

// Path returns the index file location.
func (s *FileIndexStore) Path() string {
	return s.path
}

// GetIndex reads the document. A missing file is an empty index.
func (s *FileIndexStore) GetIndex(ctx context.Context) (Index, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Index{}, nil
	}
	if err != nil {
		return nil, &Error{Op: "get_index", Err: err}
	}

	idx := Index{}
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, &Error{Op: "get_index", Err: fmt.Errorf("parsing %s: %w", s.path, err)}
	}
	return idx, nil
}

// SaveIndex rewrites the whole document. The write goes to a temp file
// that is renamed into place, so readers never observe a partial index.
func (s *FileIndexStore) SaveIndex(ctx context.Context, idx Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return &Error{Op: "save_index", Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return &Error{Op: "save_index", Err: fmt.Errorf("creating directory: %w", err)}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		os.Remove(tmpPath)
		return &Error{Op: "save_index", Err: fmt.Errorf("writing file: %w", err)}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return &Error{Op: "save_index", Err: fmt.Errorf("renaming file: %w", err)}
	}
	return nil
}
