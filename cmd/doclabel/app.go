package main

import (
	"fmt"

	"github.com/jackzampolin/doclabel/internal/config"
	"github.com/jackzampolin/doclabel/internal/home"
	"github.com/jackzampolin/doclabel/internal/ingest"
	"github.com/jackzampolin/doclabel/internal/labels"
	"github.com/jackzampolin/doclabel/internal/llmcall"
	"github.com/jackzampolin/doclabel/internal/pipeline"
	"github.com/jackzampolin/doclabel/internal/providers"
	"github.com/jackzampolin/doclabel/internal/results"
	"github.com/jackzampolin/doclabel/internal/rules"
	"github.com/jackzampolin/doclabel/internal/synth"
)

// app holds the components a processing command needs.
type app struct {
	home      *home.Dir
	cfg       *config.Manager
	providers *providers.Registry
	labels    *labels.Registry
	results   *results.Store
	extractor *ingest.Extractor
	orch      *pipeline.Orchestrator
}

func newApp() (*app, error) {
	h, err := getHome()
	if err != nil {
		return nil, err
	}
	mgr, err := loadConfig(h)
	if err != nil {
		return nil, err
	}
	cfg := mgr.Get()

	provName := cfg.LLM.Provider
	if provName == "" {
		provName = providers.OpenAIName
	}
	reg := providers.NewRegistryFromConfig(providerConfig(cfg), logger)
	if !reg.HasLLM(provName) {
		logger.Warn("no LLM provider configured; unknown documents will be skipped",
			"provider", provName, "hint", "set llm.api_key or OPENAI_API_KEY")
	}

	catalog, err := labels.Open(labels.NewFileStore(h.LabelsPath()), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open label catalog: %w", err)
	}

	engine, err := rules.NewEngine(rules.Options{
		CostLimit:   cfg.Rules.CostLimit,
		EvalTimeout: cfg.Rules.EvalTimeout(),
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	synthesizer := synth.New(reg.Bound(provName), synth.Config{
		Model:        cfg.LLM.Model,
		Temperature:  cfg.LLM.Temperature,
		Timeout:      cfg.LLM.Timeout(),
		MaxRetries:   cfg.LLM.MaxRetries,
		RetryDelay:   cfg.LLM.RetryDelay(),
		MaxTextChars: cfg.Synthesis.MaxTextChars,
		MaxKeywords:  cfg.Synthesis.MaxKeywords,
	}, llmcall.NewRecorder(h.CallsPath(), logger), engine, logger)

	store := results.NewStore(h.ResultsPath(), logger)

	return &app{
		home:      h,
		cfg:       mgr,
		providers: reg,
		labels:    catalog,
		results:   store,
		extractor: ingest.NewExtractor(ingest.Config{
			Extensions:    cfg.Ingest.Extensions,
			Workers:       cfg.Ingest.Workers,
			PDFToTextPath: cfg.Ingest.PDFToTextPath,
			Logger:        logger,
		}),
		orch: pipeline.New(catalog, synthesizer, engine, store, pipeline.Options{
			RecordSkipped: cfg.Results.RecordSkipped,
			Logger:        logger,
		}),
	}, nil
}

// watchConfig reloads provider credentials and endpoints when the config
// file changes. Other settings apply on the next start.
func (a *app) watchConfig() {
	a.cfg.OnChange(func(cfg *config.Config) {
		logger.Info("config changed, reloading LLM provider")
		a.providers.Reload(providerConfig(cfg))
	})
	a.cfg.WatchConfig()
}

func providerConfig(cfg *config.Config) providers.RegistryConfig {
	name := cfg.LLM.Provider
	if name == "" {
		name = providers.OpenAIName
	}
	return providers.RegistryConfig{
		LLMProviders: map[string]providers.LLMProviderConfig{
			name: {
				Type:        name,
				Model:       cfg.LLM.Model,
				APIKey:      cfg.ResolveAPIKey(),
				BaseURL:     cfg.LLM.BaseURL,
				RateLimit:   cfg.LLM.RateLimit,
				Temperature: cfg.LLM.Temperature,
				Timeout:     cfg.LLM.Timeout(),
			},
		},
	}
}
