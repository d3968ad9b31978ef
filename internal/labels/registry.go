package labels

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Snapshot is an immutable view of the catalog at a given version.
// Definitions appear in insertion order.
type Snapshot struct {
	Version     uint64
	Definitions []Definition
}

// Len returns the number of definitions in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Definitions)
}

// Get returns the definition for label, if present.
func (s Snapshot) Get(label string) (Definition, bool) {
	for _, d := range s.Definitions {
		if d.Label == label {
			return d, true
		}
	}
	return Definition{}, false
}

// Registry owns the in-memory catalog and its single mutation path.
// Every successful Insert is persisted before it returns.
type Registry struct {
	mu      sync.RWMutex
	store   Store
	logger  *slog.Logger
	defs    []Definition
	index   map[string]int
	version uint64
}

// Open loads the catalog from store and returns a registry over it.
// Duplicate labels in the persisted file keep their first occurrence, and
// entries that fail Validate are skipped.
func Open(store Store, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defs, err := store.Load()
	if err != nil {
		return nil, err
	}

	r := &Registry{
		store:  store,
		logger: logger,
		defs:   make([]Definition, 0, len(defs)),
		index:  make(map[string]int, len(defs)),
	}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			logger.Warn("ignoring invalid label in catalog", "label", d.Label, "error", err)
			continue
		}
		if _, exists := r.index[d.Label]; exists {
			logger.Warn("ignoring duplicate label in catalog", "label", d.Label)
			continue
		}
		r.index[d.Label] = len(r.defs)
		r.defs = append(r.defs, d)
	}

	logger.Debug("label catalog loaded", "labels", len(r.defs))
	return r, nil
}

// Snapshot returns a copy of the current catalog.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, len(r.defs))
	for i, d := range r.defs {
		defs[i] = d.Clone()
	}
	return Snapshot{Version: r.version, Definitions: defs}
}

// Get returns a copy of the definition for label.
func (r *Registry) Get(label string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[label]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i].Clone(), true
}

// Len returns the number of registered labels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Insert appends def and persists the whole catalog.
// It fails with ErrDuplicateLabel if the label exists. When the save fails
// the in-memory catalog is left as it was and the error wraps ErrPersistence.
func (r *Registry) Insert(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	def = def.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[def.Label]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateLabel, def.Label)
	}

	next := make([]Definition, len(r.defs), len(r.defs)+1)
	copy(next, r.defs)
	next = append(next, def)

	if err := r.store.Save(next); err != nil {
		r.logger.Error("failed to persist label catalog", "label", def.Label, "error", err)
		if !errors.Is(err, ErrPersistence) {
			err = fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return err
	}

	r.defs = next
	r.index[def.Label] = len(next) - 1
	r.version++
	r.logger.Info("label registered", "label", def.Label, "keywords", def.Keywords, "version", r.version)
	return nil
}
