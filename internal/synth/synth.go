// Package synth asks a language model to define a new document label.
//
// A synthesized definition is only a proposal: this package never touches the
// label registry. Output that is not a well-formed definition is reported as
// ErrSynthesisFailed together with the raw model response.
package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/jackzampolin/doclabel/internal/classify"
	"github.com/jackzampolin/doclabel/internal/labels"
	"github.com/jackzampolin/doclabel/internal/llmcall"
	"github.com/jackzampolin/doclabel/internal/providers"
)

// ErrSynthesisFailed marks any synthesis attempt that produced no usable definition.
var ErrSynthesisFailed = errors.New("label synthesis failed")

// Error carries the cause of a failed synthesis and the raw model output, if any.
type Error struct {
	DocumentID string
	Raw        string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("synthesis for %s: %v", e.DocumentID, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrSynthesisFailed, e.Err}
}

// RuleChecker compiles a rule without running it.
type RuleChecker interface {
	Check(rule string) error
}

// Config configures a Synthesizer.
type Config struct {
	Model        string
	Temperature  float64
	Timeout      time.Duration // Total budget for one synthesis, retries included
	MaxRetries   int
	RetryDelay   time.Duration
	MaxTextChars int
	MaxKeywords  int
}

// Request is one document awaiting a new label.
type Request struct {
	RunID       string
	DocumentID  string
	Text        string
	KnownLabels []string
}

// Synthesizer turns unmatched document text into a label definition.
type Synthesizer struct {
	client   providers.LLMClient
	recorder *llmcall.Recorder
	checker  RuleChecker
	cfg      Config
	logger   *slog.Logger
}

// New creates a Synthesizer. recorder and checker may be nil.
func New(client providers.LLMClient, cfg Config, recorder *llmcall.Recorder, checker RuleChecker, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxKeywords <= 0 || cfg.MaxKeywords > labels.MaxKeywords {
		cfg.MaxKeywords = labels.MaxKeywords
	}
	return &Synthesizer{
		client:   client,
		recorder: recorder,
		checker:  checker,
		cfg:      cfg,
		logger:   logger,
	}
}

// Synthesize requests a new definition for req.Text. Every failure,
// including running out of time, is returned as an *Error wrapping
// ErrSynthesisFailed.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (labels.Definition, error) {
	logger := s.logger.With("document_id", req.DocumentID)
	start := time.Now()

	system := SystemPrompt(s.cfg.MaxKeywords, req.KnownLabels)
	chat := &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: UserPrompt(req.Text, s.cfg.MaxTextChars)},
		},
		Model:          s.cfg.Model,
		Temperature:    s.cfg.Temperature,
		ResponseFormat: &providers.ResponseFormat{Type: "json_object", JSONSchema: labels.DefinitionSchema()},
		RequestID:      uuid.New().String(),
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	attempts := 0
	result, err := retry.DoWithData(
		func() (*providers.ChatResult, error) {
			attempts++
			return s.client.Chat(callCtx, chat)
		},
		retry.Context(callCtx),
		retry.Attempts(uint(s.cfg.MaxRetries)+1),
		retry.Delay(s.cfg.RetryDelay),
		retry.DelayType(retryDelay),
		retry.RetryIf(providers.IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("retrying synthesis call", "attempt", n+1, "error", err)
		}),
	)

	s.recorder.Record(result, llmcall.RecordOptions{
		RunID:       req.RunID,
		DocumentID:  req.DocumentID,
		PromptKey:   SystemPromptKey,
		PromptCID:   hashText(system),
		Temperature: temperaturePtr(s.cfg.Temperature),
		Attempts:    attempts,
		Err:         err,
	})

	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			err = fmt.Errorf("no response within %s: %w", s.cfg.Timeout, err)
		}
		logger.Warn("synthesis call failed", "attempts", attempts, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		return labels.Definition{}, &Error{DocumentID: req.DocumentID, Err: err}
	}

	def, err := s.parse(result.Content)
	if err != nil {
		logger.Warn("could not interpret synthesis response", "error", err, "response", truncate(result.Content, 500))
		return labels.Definition{}, &Error{DocumentID: req.DocumentID, Raw: result.Content, Err: err}
	}

	s.checkRules(logger, def)
	logger.Info("label synthesized",
		"label", def.Label,
		"keywords", def.Keywords,
		"fields", len(def.ExtractRules),
		"elapsed_ms", time.Since(start).Milliseconds())
	return def, nil
}

// Parse turns raw model output into a normalized definition.
func Parse(content string, maxKeywords int) (labels.Definition, error) {
	raw, err := providers.ParseStructuredJSON(content)
	if err != nil {
		return labels.Definition{}, err
	}
	if err := labels.ValidateDefinitionJSON(raw); err != nil {
		return labels.Definition{}, err
	}

	var def labels.Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return labels.Definition{}, fmt.Errorf("decode definition: %w", err)
	}

	def = normalize(def, maxKeywords)
	if err := def.Validate(); err != nil {
		return labels.Definition{}, err
	}
	return def, nil
}

func (s *Synthesizer) parse(content string) (labels.Definition, error) {
	return Parse(content, s.cfg.MaxKeywords)
}

func normalize(def labels.Definition, maxKeywords int) labels.Definition {
	def.Label = labels.NormalizeLabel(def.Label)

	seen := make(map[string]bool, len(def.Keywords))
	keywords := make([]string, 0, len(def.Keywords))
	for _, kw := range def.Keywords {
		kw = strings.TrimSpace(kw)
		key := strings.TrimSpace(classify.Normalize(kw))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keywords = append(keywords, kw)
		if len(keywords) == maxKeywords {
			break
		}
	}
	def.Keywords = keywords

	if def.ExtractionSchema == nil {
		def.ExtractionSchema = map[string]string{}
	}
	rules := make(map[string]string, len(def.ExtractRules))
	for field, rule := range def.ExtractRules {
		field = strings.TrimSpace(field)
		rule = strings.TrimSpace(rule)
		if field == "" || rule == "" {
			continue
		}
		rules[field] = rule
	}
	def.ExtractRules = rules
	return def
}

// checkRules logs rules that will not compile. They are kept: at
// extraction time they yield null for their field like any failing rule.
func (s *Synthesizer) checkRules(logger *slog.Logger, def labels.Definition) {
	if s.checker == nil {
		return
	}
	for field, rule := range def.ExtractRules {
		if err := s.checker.Check(rule); err != nil {
			logger.Warn("synthesized rule does not compile", "label", def.Label, "field", field, "error", err)
		}
	}
}

func retryDelay(n uint, err error, config *retry.Config) time.Duration {
	if rle, ok := providers.IsRateLimitError(err); ok && rle.RetryAfter > 0 {
		return rle.RetryAfter
	}
	return retry.BackOffDelay(n, err, config)
}

func temperaturePtr(t float64) *float64 {
	if t == 0 {
		return nil
	}
	return &t
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...[truncated]"
}
