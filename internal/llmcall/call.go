// Package llmcall provides LLM call recording and querying for traceability.
// Every inference call is recorded with its prompt key, response, and metrics.
package llmcall

import (
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/doclabel/internal/providers"
)

// Call represents a recorded LLM API call.
type Call struct {
	// Unique identifier
	ID string `json:"id"`

	// Timing
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int       `json:"latency_ms"`

	// Context references
	RunID      string `json:"run_id,omitempty"`
	DocumentID string `json:"document_id,omitempty"`

	// Prompt traceability
	PromptKey string `json:"prompt_key"`
	PromptCID string `json:"prompt_cid,omitempty"` // Content hash of the exact prompt text used

	// Model info
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature,omitempty"`

	// Token usage
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Response
	Response string `json:"response"`
	Attempts int    `json:"attempts,omitempty"`

	// Status
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RecordOptions provides context for recording an LLM call.
type RecordOptions struct {
	RunID      string
	DocumentID string

	// Prompt identification (required for traceability)
	PromptKey string
	PromptCID string

	// Request parameters (pointer to distinguish "not set" from "set to 0")
	Temperature *float64

	// Attempts made within the call budget.
	Attempts int

	// Err is the final error of the call, if any. It overrides the
	// error recorded on the result.
	Err error
}

// FromChatResult creates a Call from a ChatResult. A nil result (the
// provider never answered) still yields a record when opts.Err is set.
func FromChatResult(result *providers.ChatResult, opts RecordOptions) *Call {
	if result == nil && opts.Err == nil {
		return nil
	}

	call := &Call{
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		RunID:       opts.RunID,
		DocumentID:  opts.DocumentID,
		PromptKey:   opts.PromptKey,
		PromptCID:   opts.PromptCID,
		Temperature: opts.Temperature,
		Attempts:    opts.Attempts,
	}

	if result != nil {
		call.LatencyMs = int(result.ExecutionTime.Milliseconds())
		call.Provider = result.Provider
		call.Model = result.ModelUsed
		call.InputTokens = result.PromptTokens
		call.OutputTokens = result.CompletionTokens
		call.Response = result.Content
		call.Success = result.Success
		if !result.Success {
			call.Error = result.ErrorMessage
		}
		if call.Attempts == 0 {
			call.Attempts = result.Attempts
		}
	}

	if opts.Err != nil {
		call.Success = false
		call.Error = opts.Err.Error()
	}

	return call
}
