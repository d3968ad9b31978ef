// Package results persists extraction outcomes as an append-only JSON array.
package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moby/sys/atomicwriter"
)

// ErrPersistence wraps failures to read or durably write the result file.
var ErrPersistence = errors.New("result store persistence failed")

// Status says how a document left the pipeline.
type Status string

const (
	// StatusExtracted means a label was resolved and its rules were run.
	StatusExtracted Status = "extracted"
	// StatusSkipped means no label could be resolved; no fields were extracted.
	StatusSkipped Status = "skipped"
)

// Record is one persisted outcome.
type Record struct {
	ID          string         `json:"id,omitempty"`
	DocumentID  string         `json:"document_id,omitempty"`
	Label       string         `json:"label"`
	Status      Status         `json:"status,omitempty"`
	Fields      map[string]any `json:"fields"`
	FieldErrors []string       `json:"field_errors,omitempty"`
	Error       string         `json:"error,omitempty"`
	ProcessedAt time.Time      `json:"processed_at,omitzero"`
}

// Store appends records to a single JSON file. All writes go through one
// mutex so concurrent appends are applied one at a time.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewStore creates a store backed by the file at path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the result file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns every persisted record in append order. A missing, empty or
// whitespace-only file yields no records.
func (s *Store) Load() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrPersistence, s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []Record{}, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrPersistence, s.path, err)
	}

	records := make([]Record, 0, len(raw))
	for i, item := range raw {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d in %s: %v", ErrPersistence, i, s.path, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// decodeRecord accepts both full records and the bare field maps written by
// earlier versions of the tool.
func decodeRecord(item json.RawMessage) (Record, error) {
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(item, &shape); err != nil {
		return Record{}, err
	}
	_, hasFields := shape["fields"]
	_, hasLabel := shape["label"]
	if hasFields && hasLabel {
		var rec Record
		if err := json.Unmarshal(item, &rec); err != nil {
			return Record{}, err
		}
		return rec, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(item, &fields); err != nil {
		return Record{}, err
	}
	return Record{Fields: fields, Status: StatusExtracted}, nil
}

// Append adds rec to the end of the file. The existing file is only
// replaced once the new contents are fully written, so a failed append
// leaves prior records intact.
func (s *Store) Append(rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return rec, err
	}
	records = append(records, rec)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return rec, fmt.Errorf("%w: marshal: %v", ErrPersistence, err)
	}
	if err := atomicwriter.WriteFile(s.path, append(data, '\n'), 0o644); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.logger.Debug("result appended", "document_id", rec.DocumentID, "label", rec.Label, "total", len(records))
	return rec, nil
}
