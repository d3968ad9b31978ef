package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LLM.APIKey != "${OPENAI_API_KEY}" {
		t.Error("expected openai API key placeholder")
	}
	if cfg.LLM.Timeout() != 120*time.Second {
		t.Errorf("expected 120s synthesis budget, got %s", cfg.LLM.Timeout())
	}
	if cfg.Synthesis.MaxKeywords != 3 {
		t.Errorf("expected max 3 keywords, got %d", cfg.Synthesis.MaxKeywords)
	}
	if !cfg.Results.RecordSkipped {
		t.Error("expected skipped documents to be recorded by default")
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestConfig_ResolveAPIKey(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-123")

	cfg := &Config{LLM: LLMCfg{APIKey: "${TEST_OPENAI_KEY}"}}
	if got := cfg.ResolveAPIKey(); got != "sk-123" {
		t.Errorf("expected sk-123, got %s", got)
	}

	cfg.LLM.APIKey = "direct-key"
	if got := cfg.ResolveAPIKey(); got != "direct-key" {
		t.Errorf("expected direct-key, got %s", got)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configFile
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		configFile := writeConfig(t, `
llm:
  model: "gpt-4o-mini"
  timeout_seconds: 30
ingest:
  extensions: [".pdf", ".txt"]
`)

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.LLM.Model != "gpt-4o-mini" {
			t.Errorf("expected gpt-4o-mini, got %s", cfg.LLM.Model)
		}
		if cfg.LLM.Timeout() != 30*time.Second {
			t.Errorf("expected 30s, got %s", cfg.LLM.Timeout())
		}
		if len(cfg.Ingest.Extensions) != 2 {
			t.Errorf("expected 2 extensions, got %v", cfg.Ingest.Extensions)
		}
	})

	t.Run("unset keys fall back to defaults", func(t *testing.T) {
		configFile := writeConfig(t, "llm:\n  model: custom\n")

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		cfg := mgr.Get()
		if cfg.LLM.MaxRetries != 3 {
			t.Errorf("expected default max_retries 3, got %d", cfg.LLM.MaxRetries)
		}
		if cfg.Rules.CostLimit != 1_000_000 {
			t.Errorf("expected default cost limit, got %d", cfg.Rules.CostLimit)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("DOCLABEL_LLM_MODEL", "from-env")
		configFile := writeConfig(t, "llm:\n  model: from-file\n")

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if got := mgr.Get().LLM.Model; got != "from-env" {
			t.Errorf("expected from-env, got %s", got)
		}
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		configFile := writeConfig(t, "llm: [unterminated\n")
		if _, err := NewManager(configFile); err == nil {
			t.Fatal("expected error for malformed config")
		}
	})
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "llm:\n  model: m\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "llm:\n  model: m\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				cfg := mgr.Get()
				_ = cfg.LLM.Model
			}
			done <- struct{}{}
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, "llm:\n  model: \"initial\"\n")

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	if got := mgr.Get().LLM.Model; got != "initial" {
		t.Errorf("initial value mismatch: expected initial, got %s", got)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Value

	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(cfg.LLM.Model)
	})

	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("llm:\n  model: \"updated\"\n"), 0644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if callbackCount.Load() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Error("callback was not invoked after config file change")
	}
	if got := mgr.Get().LLM.Model; got != "updated" {
		t.Errorf("config not updated: expected updated, got %s", got)
	}
	if v := lastValue.Load(); v != "updated" {
		t.Errorf("callback received wrong value: expected updated, got %v", v)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# doclabel configuration") {
		t.Error("expected header comment")
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("written default config does not load: %v", err)
	}
	if got := mgr.Get().LLM.Model; got != DefaultConfig().LLM.Model {
		t.Errorf("expected default model round-trip, got %s", got)
	}
}
