package llmcall

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// QueryFilter specifies filters for listing LLM calls.
type QueryFilter struct {
	RunID      string
	DocumentID string
	Provider   string
	Model      string
	After      *time.Time
	Success    *bool
	Limit      int
}

func (f QueryFilter) match(c *Call) bool {
	switch {
	case f.RunID != "" && c.RunID != f.RunID:
		return false
	case f.DocumentID != "" && c.DocumentID != f.DocumentID:
		return false
	case f.Provider != "" && c.Provider != f.Provider:
		return false
	case f.Model != "" && c.Model != f.Model:
		return false
	case f.After != nil && !c.Timestamp.After(*f.After):
		return false
	case f.Success != nil && c.Success != *f.Success:
		return false
	}
	return true
}

// List reads recorded calls from path, newest last. With a Limit only the
// most recent matches are returned. A missing file yields no calls;
// unreadable lines are skipped.
func List(path string, filter QueryFilter) ([]Call, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open call log: %w", err)
	}
	defer f.Close()

	var calls []Call
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var c Call
		if err := json.Unmarshal(line, &c); err != nil {
			continue
		}
		if filter.match(&c) {
			calls = append(calls, c)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read call log: %w", err)
	}

	if filter.Limit > 0 && len(calls) > filter.Limit {
		calls = calls[len(calls)-filter.Limit:]
	}
	return calls, nil
}
