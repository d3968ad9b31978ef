package labels

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/moby/sys/atomicwriter"
)

// Store persists the full catalog as a whole.
type Store interface {
	Load() ([]Definition, error)
	Save(defs []Definition) error
}

// FileStore keeps the catalog in a single JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the catalog file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the catalog. A missing or blank file yields an empty catalog.
func (s *FileStore) Load() ([]Definition, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Definition{}, nil
		}
		return nil, fmt.Errorf("failed to read label catalog: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []Definition{}, nil
	}

	if err := validateCatalogJSON(data); err != nil {
		return nil, fmt.Errorf("label catalog %s: %w", s.path, err)
	}

	var defs []Definition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse label catalog %s: %w", s.path, err)
	}
	if defs == nil {
		defs = []Definition{}
	}
	return defs, nil
}

// Save replaces the catalog atomically: readers see either the old file or
// the new one, never a partial write.
func (s *FileStore) Save(defs []Definition) error {
	if defs == nil {
		defs = []Definition{}
	}
	data, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPersistence, err)
	}
	if err := atomicwriter.WriteFile(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
