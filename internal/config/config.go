package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/docextract/internal/providers"
)

// EnvPrefix is prepended to environment overrides, e.g. DOCEXTRACT_EXTRACTION_TEMPERATURE.
const EnvPrefix = "DOCEXTRACT"

var envRefPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
// An empty cfgFile searches ./config.yaml and $HOME/.docextract/config.yaml.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	loadDotEnv(cfgFile)

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// loadDotEnv reads .env from the working directory and next to the config file.
// Existing environment variables are never overwritten.
func loadDotEnv(cfgFile string) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist
	if cfgFile != "" {
		_ = godotenv.Load(filepath.Join(filepath.Dir(cfgFile), ".env"))
	}
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	d := DefaultConfig()

	v.SetDefault("ocr_providers", d.OCRProviders)
	v.SetDefault("llm_providers", d.LLMProviders)

	// Scalar sections get leaf defaults so partial files and env overrides merge per key.
	v.SetDefault("defaults.ocr_provider", d.Defaults.OCRProvider)
	v.SetDefault("defaults.llm_provider", d.Defaults.LLMProvider)
	v.SetDefault("extraction.temperature", d.Extraction.Temperature)
	v.SetDefault("extraction.max_tokens", d.Extraction.MaxTokens)
	v.SetDefault("extraction.self_consistency", d.Extraction.SelfConsistency)
	v.SetDefault("extraction.self_consistency_runs", d.Extraction.SelfConsistencyRuns)
	v.SetDefault("extraction.consensus", d.Extraction.Consensus)
	v.SetDefault("extraction.workers", d.Extraction.Workers)
	v.SetDefault("extraction.call_timeout_seconds", d.Extraction.CallTimeoutSeconds)
	v.SetDefault("extraction.max_retries", d.Extraction.MaxRetries)
	v.SetDefault("extraction.retry_delay_ms", d.Extraction.RetryDelayMS)
	v.SetDefault("extraction.max_fix_attempts", d.Extraction.MaxFixAttempts)
	v.SetDefault("extraction.classify_max_tokens", d.Extraction.ClassifyMaxTokens)
	v.SetDefault("extraction.confidence_max_tokens", d.Extraction.ConfidenceMaxTokens)
	v.SetDefault("confidence.low_threshold", d.Confidence.LowThreshold)
	v.SetDefault("pricing.input_per_1k", d.Pricing.InputPer1K)
	v.SetDefault("pricing.output_per_1k", d.Pricing.OutputPer1K)
	v.SetDefault("storage.enabled", d.Storage.Enabled)
	v.SetDefault("storage.database", d.Storage.Database)
	v.SetDefault("schema_dir", d.SchemaDir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.docextract")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the path of the loaded config file, or "" when running on defaults.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
// Invalid edits are ignored and the previous config stays active.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envRefPattern.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		OCRProviders: make(map[string]providers.OCRProviderConfig),
		LLMProviders: make(map[string]providers.LLMProviderConfig),
	}

	for name, ocr := range c.OCRProviders {
		cfg.OCRProviders[name] = providers.OCRProviderConfig{
			Type:      ocr.Type,
			Model:     ocr.Model,
			APIKey:    ResolveEnvVars(ocr.APIKey),
			RateLimit: ocr.RateLimit,
			Enabled:   ocr.Enabled,
		}
	}

	for name, llm := range c.LLMProviders {
		cfg.LLMProviders[name] = providers.LLMProviderConfig{
			Type:      llm.Type,
			Model:     llm.Model,
			BaseURL:   llm.BaseURL,
			APIKey:    ResolveEnvVars(llm.APIKey),
			RateLimit: llm.RateLimit,
			Enabled:   llm.Enabled,
		}
	}

	return cfg
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# docextract configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell or a .env file: MISTRAL_API_KEY, OPENROUTER_API_KEY, OPENAI_API_KEY

`)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, append(header, data...), 0o644)
}

// Redacted returns a copy of c with literal API keys masked. ${ENV_VAR}
// references are kept since they carry no secret.
func (c *Config) Redacted() *Config {
	out := *c
	out.OCRProviders = make(map[string]OCRProviderCfg, len(c.OCRProviders))
	for name, p := range c.OCRProviders {
		p.APIKey = redactKey(p.APIKey)
		out.OCRProviders[name] = p
	}
	out.LLMProviders = make(map[string]LLMProviderCfg, len(c.LLMProviders))
	for name, p := range c.LLMProviders {
		p.APIKey = redactKey(p.APIKey)
		out.LLMProviders[name] = p
	}
	return &out
}

func redactKey(key string) string {
	if key == "" || envRefPattern.MatchString(key) && envRefPattern.ReplaceAllString(key, "") == "" {
		return key
	}
	return "********"
}
