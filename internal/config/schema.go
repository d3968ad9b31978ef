package config

import "time"

// Config is the root configuration structure.
type Config struct {
	LLM       LLMCfg       `mapstructure:"llm" yaml:"llm"`
	Synthesis SynthesisCfg `mapstructure:"synthesis" yaml:"synthesis"`
	Rules     RulesCfg     `mapstructure:"rules" yaml:"rules"`
	Results   ResultsCfg   `mapstructure:"results" yaml:"results"`
	Ingest    IngestCfg    `mapstructure:"ingest" yaml:"ingest"`
}

// LLMCfg configures the generative inference service used for label synthesis.
type LLMCfg struct {
	Provider       string  `mapstructure:"provider" yaml:"provider"`               // "openai" or "openrouter"
	Model          string  `mapstructure:"model" yaml:"model"`                     // Model name
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"`                 // API key (supports ${ENV_VAR} syntax)
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url"`               // Optional OpenAI-compatible endpoint
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"` // Fixed budget for one synthesis
	MaxRetries     int     `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelayMS   int     `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
	RateLimit      float64 `mapstructure:"rate_limit" yaml:"rate_limit"`   // Requests per second
	Temperature    float64 `mapstructure:"temperature" yaml:"temperature"` // 0 = provider default
}

// SynthesisCfg tunes the prompt sent for unknown documents.
type SynthesisCfg struct {
	MaxTextChars int `mapstructure:"max_text_chars" yaml:"max_text_chars"` // 0 = send full text
	MaxKeywords  int `mapstructure:"max_keywords" yaml:"max_keywords"`
}

// RulesCfg bounds extraction rule evaluation.
type RulesCfg struct {
	CostLimit     uint64 `mapstructure:"cost_limit" yaml:"cost_limit"`
	EvalTimeoutMS int    `mapstructure:"eval_timeout_ms" yaml:"eval_timeout_ms"`
}

// ResultsCfg controls what gets written to the result collection.
type ResultsCfg struct {
	RecordSkipped bool `mapstructure:"record_skipped" yaml:"record_skipped"`
}

// IngestCfg controls document discovery and text acquisition.
type IngestCfg struct {
	Extensions    []string `mapstructure:"extensions" yaml:"extensions"`
	Workers       int      `mapstructure:"workers" yaml:"workers"`
	PDFToTextPath string   `mapstructure:"pdftotext_path" yaml:"pdftotext_path"`
	DebounceMS    int      `mapstructure:"debounce_ms" yaml:"debounce_ms"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMCfg{
			Provider:       "openai",
			Model:          "gpt-5-mini",
			APIKey:         "${OPENAI_API_KEY}",
			TimeoutSeconds: 120,
			MaxRetries:     3,
			RetryDelayMS:   1000,
			RateLimit:      2.0,
		},
		Synthesis: SynthesisCfg{
			MaxTextChars: 12000,
			MaxKeywords:  3,
		},
		Rules: RulesCfg{
			CostLimit:     1_000_000,
			EvalTimeoutMS: 2000,
		},
		Results: ResultsCfg{
			RecordSkipped: true,
		},
		Ingest: IngestCfg{
			Extensions:    []string{".pdf"},
			Workers:       4,
			PDFToTextPath: "pdftotext",
			DebounceMS:    500,
		},
	}
}

// Timeout returns the synthesis budget.
func (c LLMCfg) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryDelay returns the base delay between inference retries.
func (c LLMCfg) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// EvalTimeout returns the per-field evaluation budget.
func (c RulesCfg) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutMS) * time.Millisecond
}

// Debounce returns the watcher coalescing window.
func (c IngestCfg) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// ResolveAPIKey returns the LLM API key with ${ENV_VAR} references expanded.
func (c *Config) ResolveAPIKey() string {
	return ResolveEnvVars(c.LLM.APIKey)
}
