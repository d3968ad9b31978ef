package results

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestStore_Load(t *testing.T) {
	tests := []struct {
		name    string
		content *string
		want    int
		wantErr bool
	}{
		{name: "missing file", content: nil, want: 0},
		{name: "empty file", content: ptr(""), want: 0},
		{name: "whitespace", content: ptr(" \n\t "), want: 0},
		{name: "empty array", content: ptr("[]"), want: 0},
		{name: "legacy field maps", content: ptr(`[{"valor": 450}, {"nome": "x"}]`), want: 2},
		{name: "corrupt", content: ptr(`[{"valor":`), wantErr: true},
		{name: "not an array", content: ptr(`{"valor": 1}`), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "results.json")
			if tt.content != nil {
				if err := os.WriteFile(path, []byte(*tt.content), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			got, err := NewStore(path, nil).Load()
			if tt.wantErr {
				if !errors.Is(err, ErrPersistence) {
					t.Fatalf("expected ErrPersistence, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d records, want %d", len(got), tt.want)
			}
		})
	}
}

func TestStore_AppendPreservesPriorRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	legacy := `[{"valor": 100}]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(path, nil)
	first, err := s.Append(Record{DocumentID: "a.pdf", Label: "fatura", Status: StatusExtracted, Fields: map[string]any{"valor": 450.0}})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if first.ID == "" || first.ProcessedAt.IsZero() {
		t.Error("expected ID and timestamp to be filled")
	}

	// A second store on the same file simulates a later run.
	later := NewStore(path, nil)
	if _, err := later.Append(Record{DocumentID: "b.pdf", Status: StatusSkipped, Error: "synthesis failed"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := later.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	if got[0].Fields["valor"] != 100.0 {
		t.Errorf("legacy record changed: %+v", got[0])
	}
	if got[1].DocumentID != "a.pdf" || got[1].Fields["valor"] != 450.0 {
		t.Errorf("unexpected second record: %+v", got[1])
	}
	if got[2].Status != StatusSkipped || got[2].Label != "" || len(got[2].Fields) != 0 {
		t.Errorf("unexpected skipped record: %+v", got[2])
	}
}

func TestStore_ConcurrentAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	s := NewStore(path, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Append(Record{DocumentID: fmt.Sprintf("doc-%d", i), Label: "x"}); err != nil {
				t.Errorf("Append() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 20 {
		t.Fatalf("expected 20 records, got %d", len(got))
	}
	seen := make(map[string]bool)
	for _, r := range got {
		seen[r.DocumentID] = true
	}
	if len(seen) != 20 {
		t.Errorf("expected 20 distinct documents, got %d", len(seen))
	}
}

func TestStore_AppendFailureKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	s := NewStore(path, nil)
	if _, err := s.Append(Record{DocumentID: "a", Label: "x"}); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(path)

	// A value JSON cannot encode fails before the file is touched.
	_, err := s.Append(Record{DocumentID: "b", Label: "x", Fields: map[string]any{"bad": make(chan int)}})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("failed append modified the result file")
	}
}

func TestStore_AppendToUnwritableLocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "results.json")
	_, err := NewStore(path, nil).Append(Record{DocumentID: "a"})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func ptr(s string) *string { return &s }
