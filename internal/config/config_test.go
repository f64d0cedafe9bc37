package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configFile
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.LLMProviders["openrouter"].APIKey != "${OPENROUTER_API_KEY}" {
		t.Error("expected openrouter API key placeholder")
	}
	if cfg.Extraction.SelfConsistencyRuns != 3 {
		t.Errorf("SelfConsistencyRuns = %d, want 3", cfg.Extraction.SelfConsistencyRuns)
	}
	if cfg.Extraction.CallTimeout() != 60*time.Second {
		t.Errorf("CallTimeout() = %v, want 60s", cfg.Extraction.CallTimeout())
	}
	if cfg.Extraction.RetryDelay() != 500*time.Millisecond {
		t.Errorf("RetryDelay() = %v, want 500ms", cfg.Extraction.RetryDelay())
	}
	if cfg.Confidence.LowThreshold != 0.7 {
		t.Errorf("LowThreshold = %v, want 0.7", cfg.Confidence.LowThreshold)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad consensus", func(c *Config) { c.Extraction.Consensus = "majority" }, "extraction.consensus"},
		{"zero runs", func(c *Config) { c.Extraction.SelfConsistencyRuns = 0 }, "self_consistency_runs"},
		{"threshold above one", func(c *Config) { c.Confidence.LowThreshold = 1.5 }, "low_threshold"},
		{"negative retries", func(c *Config) { c.Extraction.MaxRetries = -1 }, "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		if result := ResolveEnvVars("${TEST_API_KEY}"); result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		if result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}"); result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		if result := ResolveEnvVars("literal-value"); result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestConfig_ToProviderRegistryConfig(t *testing.T) {
	t.Setenv("TEST_OPENROUTER_KEY", "or-key-123")

	cfg := DefaultConfig()
	or := cfg.LLMProviders["openrouter"]
	or.APIKey = "${TEST_OPENROUTER_KEY}"
	cfg.LLMProviders["openrouter"] = or

	regCfg := cfg.ToProviderRegistryConfig()
	got := regCfg.LLMProviders["openrouter"]
	if got.APIKey != "or-key-123" {
		t.Errorf("APIKey = %q, want or-key-123", got.APIKey)
	}
	if got.Model != "google/gemini-flash-1.5" {
		t.Errorf("Model = %q", got.Model)
	}
	if _, ok := regCfg.OCRProviders["mistral"]; !ok {
		t.Error("expected mistral OCR provider")
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		configFile := writeConfig(t, `
extraction:
  temperature: 0.5
  consensus: field_vote
llm_providers:
  local:
    type: openai
    model: llama3
    base_url: http://localhost:11434/v1
    api_key: none
    enabled: true
`)

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("NewManager() error = %v", err)
		}

		cfg := mgr.Get()
		if cfg.Extraction.Temperature != 0.5 {
			t.Errorf("Temperature = %v, want 0.5", cfg.Extraction.Temperature)
		}
		if cfg.Extraction.Consensus != ConsensusFieldVote {
			t.Errorf("Consensus = %q, want field_vote", cfg.Extraction.Consensus)
		}
		// Keys absent from the file keep their defaults.
		if cfg.Extraction.MaxTokens != 2048 {
			t.Errorf("MaxTokens = %d, want default 2048", cfg.Extraction.MaxTokens)
		}
		if llm, ok := cfg.GetLLMProvider("local"); !ok || llm.BaseURL != "http://localhost:11434/v1" {
			t.Errorf("local provider = %+v, %v", llm, ok)
		}
		if mgr.ConfigFile() != configFile {
			t.Errorf("ConfigFile() = %q, want %q", mgr.ConfigFile(), configFile)
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("DOCEXTRACT_EXTRACTION_SELF_CONSISTENCY_RUNS", "5")
		configFile := writeConfig(t, "schema_dir: /tmp/schemas\n")

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("NewManager() error = %v", err)
		}
		if got := mgr.Get().Extraction.SelfConsistencyRuns; got != 5 {
			t.Errorf("SelfConsistencyRuns = %d, want 5", got)
		}
		if got := mgr.Get().SchemaDir; got != "/tmp/schemas" {
			t.Errorf("SchemaDir = %q", got)
		}
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		configFile := writeConfig(t, "confidence:\n  low_threshold: 3\n")
		if _, err := NewManager(configFile); err == nil {
			t.Error("expected error for out-of-range threshold")
		}
	})

	t.Run("missing explicit file", func(t *testing.T) {
		if _, err := NewManager(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error for missing config file")
		}
	})
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "schema_dir: ''\n"))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
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
	mgr, err := NewManager(writeConfig(t, "schema_dir: ''\n"))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				_ = mgr.Get().Extraction.Temperature
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, "extraction:\n  workers: 2\n")

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if got := mgr.Get().Extraction.Workers; got != 2 {
		t.Fatalf("initial workers = %d, want 2", got)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Int64
	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(int64(cfg.Extraction.Workers))
	})

	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("extraction:\n  workers: 7\n"), 0o644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && callbackCount.Load() == 0 {
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Fatal("callback was not invoked after config file change")
	}
	if got := mgr.Get().Extraction.Workers; got != 7 {
		t.Errorf("config not updated: workers = %d, want 7", got)
	}
	if v := lastValue.Load(); v != 7 {
		t.Errorf("callback received workers = %d, want 7", v)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() on written default error = %v", err)
	}
	cfg := mgr.Get()
	if cfg.Defaults.LLMProvider != "openrouter" {
		t.Errorf("LLMProvider = %q, want openrouter", cfg.Defaults.LLMProvider)
	}
	if cfg.Extraction.ConfidenceMaxTokens != 512 {
		t.Errorf("ConfidenceMaxTokens = %d, want 512", cfg.Extraction.ConfidenceMaxTokens)
	}
}

func TestConfig_Redacted(t *testing.T) {
	cfg := DefaultConfig()
	llm := cfg.LLMProviders["openai"]
	llm.APIKey = "sk-literal"
	cfg.LLMProviders["openai"] = llm

	r := cfg.Redacted()
	if got := r.LLMProviders["openai"].APIKey; got != "********" {
		t.Errorf("literal key = %q, want masked", got)
	}
	if got := r.LLMProviders["openrouter"].APIKey; got != "${OPENROUTER_API_KEY}" {
		t.Errorf("env reference = %q, want kept", got)
	}
	if got := r.OCRProviders["mistral"].APIKey; got != "${MISTRAL_API_KEY}" {
		t.Errorf("ocr env reference = %q, want kept", got)
	}
	if cfg.LLMProviders["openai"].APIKey != "sk-literal" {
		t.Error("Redacted() modified the original")
	}
}
