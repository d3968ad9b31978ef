package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry holds the configured LLM clients by name.
// It supports config-driven instantiation, hot-reload, and thread-safe access.
type Registry struct {
	mu         sync.RWMutex
	llmClients map[string]LLMClient
	logger     *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		llmClients: make(map[string]LLMClient),
		logger:     slog.Default(),
	}
}

// GetLLM returns the LLM client registered under name.
func (r *Registry) GetLLM(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.llmClients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, name)
	}
	return client, nil
}

// HasLLM reports whether a client is registered under name.
func (r *Registry) HasLLM(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.llmClients[name]
	return ok
}

// Bound returns an LLMClient that resolves name on every call, so requests
// follow the registry across reloads.
func (r *Registry) Bound(name string) LLMClient {
	return &boundClient{registry: r, name: name}
}

type boundClient struct {
	registry *Registry
	name     string
}

func (b *boundClient) Name() string {
	return b.name
}

func (b *boundClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	client, err := b.registry.GetLLM(b.name)
	if err != nil {
		return nil, err
	}
	return client.Chat(ctx, req)
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	LLMProviders map[string]LLMProviderConfig
}

// LLMProviderConfig describes one LLM client with its API key resolved.
type LLMProviderConfig struct {
	Type        string // "openai", "openrouter"
	Model       string
	APIKey      string
	BaseURL     string
	RateLimit   float64 // Requests per second
	Temperature float64
	Timeout     time.Duration
}

// NewRegistryFromConfig creates a registry with providers based on configuration.
// Providers without an API key are skipped.
func NewRegistryFromConfig(cfg RegistryConfig, logger *slog.Logger) *Registry {
	r := NewRegistry()
	if logger != nil {
		r.logger = logger
	}
	r.Reload(cfg)
	return r
}

// Reload updates the registry based on new configuration.
// Providers that are no longer configured are unregistered and providers
// with changed settings are rebuilt.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)
	for name, provCfg := range cfg.LLMProviders {
		if provCfg.APIKey == "" {
			r.logger.Warn("skipping LLM provider without API key", "name", name)
			continue
		}
		want[name] = true

		existing, hasExisting := r.llmClients[name]
		if hasExisting && !needsLLMUpdate(existing, provCfg) {
			continue
		}
		client, err := createLLMClient(provCfg)
		if err != nil {
			r.logger.Error("failed to create LLM client", "name", name, "error", err)
			continue
		}
		r.llmClients[name] = client
		if hasExisting {
			r.logger.Info("updated LLM client", "name", name, "type", provCfg.Type, "model", provCfg.Model)
		} else {
			r.logger.Info("registered LLM client", "name", name, "type", provCfg.Type, "model", provCfg.Model)
		}
	}

	for name := range r.llmClients {
		if !want[name] {
			delete(r.llmClients, name)
			r.logger.Info("unregistered LLM client", "name", name)
		}
	}
}

// createLLMClient creates an LLM client based on provider type.
func createLLMClient(cfg LLMProviderConfig) (LLMClient, error) {
	oc := OpenAIConfig{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		RateLimit:   cfg.RateLimit,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
	}
	switch cfg.Type {
	case OpenAIName, "":
		return NewOpenAIClient(oc), nil
	case OpenRouterName:
		return NewOpenRouterClient(oc), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider type: %s", cfg.Type)
	}
}

// needsLLMUpdate checks if an LLM client needs to be recreated.
func needsLLMUpdate(client LLMClient, cfg LLMProviderConfig) bool {
	c, ok := client.(*OpenAIClient)
	if !ok {
		return true
	}
	wantName := cfg.Type
	if wantName == "" {
		wantName = OpenAIName
	}
	wantModel := cfg.Model
	if wantModel == "" {
		wantModel = openAIDefaultModel
	}
	return c.name != wantName ||
		c.cfg.APIKey != cfg.APIKey ||
		c.cfg.Model != wantModel ||
		(cfg.BaseURL != "" && c.cfg.BaseURL != cfg.BaseURL) ||
		c.cfg.RateLimit != cfg.RateLimit ||
		c.cfg.Temperature != cfg.Temperature
}
