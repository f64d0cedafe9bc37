package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/docextract/internal/providers"
)

// Consensus policies for self-consistency extraction.
const (
	ConsensusFirstSuccess = "first_success"
	ConsensusFieldVote    = "field_vote"
)

// Config holds docextract configuration.
// Stored at: {home}/config.yaml
type Config struct {
	OCRProviders map[string]OCRProviderCfg `mapstructure:"ocr_providers" yaml:"ocr_providers" json:"ocr_providers"`
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers" json:"llm_providers"`
	Defaults     DefaultsCfg               `mapstructure:"defaults" yaml:"defaults" json:"defaults"`
	Extraction   ExtractionCfg             `mapstructure:"extraction" yaml:"extraction" json:"extraction"`
	Confidence   ConfidenceCfg             `mapstructure:"confidence" yaml:"confidence" json:"confidence"`
	Pricing      PricingCfg                `mapstructure:"pricing" yaml:"pricing" json:"pricing"`
	Storage      StorageCfg                `mapstructure:"storage" yaml:"storage" json:"storage"`

	// SchemaDir holds extra *.json schemas; the file stem names the document type.
	SchemaDir string `mapstructure:"schema_dir" yaml:"schema_dir" json:"schema_dir"`
}

// OCRProviderCfg configures an OCR provider.
type OCRProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type" json:"type"`                   // "mistral-ocr"
	Model     string  `mapstructure:"model" yaml:"model" json:"model"`                // Provider default if empty
	APIKey    string  `mapstructure:"api_key" yaml:"api_key" json:"api_key"`          // API key (supports ${ENV_VAR} syntax)
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"` // Requests per second
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// LLMProviderCfg configures an LLM provider.
type LLMProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type" json:"type"`                   // "openrouter", "openai"
	Model     string  `mapstructure:"model" yaml:"model" json:"model"`                // Model name
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url" json:"base_url"`       // Optional endpoint override
	APIKey    string  `mapstructure:"api_key" yaml:"api_key" json:"api_key"`          // API key (supports ${ENV_VAR} syntax)
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"` // Requests per second
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// DefaultsCfg specifies default provider selections.
type DefaultsCfg struct {
	OCRProvider string `mapstructure:"ocr_provider" yaml:"ocr_provider" json:"ocr_provider"`
	LLMProvider string `mapstructure:"llm_provider" yaml:"llm_provider" json:"llm_provider"`
}

// ExtractionCfg tunes the model-backed stages.
type ExtractionCfg struct {
	Temperature         float64 `mapstructure:"temperature" yaml:"temperature" json:"temperature"`
	MaxTokens           int     `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens"`
	SelfConsistency     bool    `mapstructure:"self_consistency" yaml:"self_consistency" json:"self_consistency"`
	SelfConsistencyRuns int     `mapstructure:"self_consistency_runs" yaml:"self_consistency_runs" json:"self_consistency_runs"`
	Consensus           string  `mapstructure:"consensus" yaml:"consensus" json:"consensus"` // first_success | field_vote
	Workers             int     `mapstructure:"workers" yaml:"workers" json:"workers"`
	CallTimeoutSeconds  int     `mapstructure:"call_timeout_seconds" yaml:"call_timeout_seconds" json:"call_timeout_seconds"`
	MaxRetries          int     `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	RetryDelayMS        int     `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms" json:"retry_delay_ms"`
	MaxFixAttempts      int     `mapstructure:"max_fix_attempts" yaml:"max_fix_attempts" json:"max_fix_attempts"`
	ClassifyMaxTokens   int     `mapstructure:"classify_max_tokens" yaml:"classify_max_tokens" json:"classify_max_tokens"`
	ConfidenceMaxTokens int     `mapstructure:"confidence_max_tokens" yaml:"confidence_max_tokens" json:"confidence_max_tokens"`
}

// CallTimeout is the per-model-call deadline.
func (e ExtractionCfg) CallTimeout() time.Duration {
	return time.Duration(e.CallTimeoutSeconds) * time.Second
}

// RetryDelay is the base delay between model call retries.
func (e ExtractionCfg) RetryDelay() time.Duration {
	return time.Duration(e.RetryDelayMS) * time.Millisecond
}

// ConfidenceCfg configures confidence scoring.
type ConfidenceCfg struct {
	LowThreshold float64 `mapstructure:"low_threshold" yaml:"low_threshold" json:"low_threshold"`
}

// PricingCfg is used to estimate cost when a provider does not report it.
type PricingCfg struct {
	InputPer1K  float64 `mapstructure:"input_per_1k" yaml:"input_per_1k" json:"input_per_1k"`
	OutputPer1K float64 `mapstructure:"output_per_1k" yaml:"output_per_1k" json:"output_per_1k"`
}

// StorageCfg configures the results database.
type StorageCfg struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Database string `mapstructure:"database" yaml:"database" json:"database"` // Empty means {home}/results.db
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OCRProviders: map[string]OCRProviderCfg{
			"mistral": {
				Type:      providers.TypeMistralOCR,
				APIKey:    "${MISTRAL_API_KEY}",
				RateLimit: 6.0,
				Enabled:   true,
			},
		},
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {
				Type:      providers.TypeOpenRouter,
				Model:     "google/gemini-flash-1.5",
				APIKey:    "${OPENROUTER_API_KEY}",
				RateLimit: 150,
				Enabled:   true,
			},
			"openai": {
				Type:      providers.TypeOpenAI,
				Model:     "gpt-4o-mini",
				APIKey:    "${OPENAI_API_KEY}",
				RateLimit: 8,
				Enabled:   false,
			},
		},
		Defaults: DefaultsCfg{
			OCRProvider: "mistral",
			LLMProvider: "openrouter",
		},
		Extraction: ExtractionCfg{
			Temperature:         0.2,
			MaxTokens:           2048,
			SelfConsistency:     true,
			SelfConsistencyRuns: 3,
			Consensus:           ConsensusFirstSuccess,
			Workers:             3,
			CallTimeoutSeconds:  60,
			MaxRetries:          2,
			RetryDelayMS:        500,
			MaxFixAttempts:      0,
			ClassifyMaxTokens:   10,
			ConfidenceMaxTokens: 512,
		},
		Confidence: ConfidenceCfg{LowThreshold: 0.7},
		Pricing: PricingCfg{
			InputPer1K:  0.00015,
			OutputPer1K: 0.0006,
		},
		Storage: StorageCfg{Enabled: true},
	}
}

// Validate reports every setting that is out of range.
func (c *Config) Validate() error {
	var errs []error
	e := c.Extraction
	if e.Temperature < 0 || e.Temperature > 2 {
		errs = append(errs, fmt.Errorf("extraction.temperature %v out of range [0,2]", e.Temperature))
	}
	if e.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("extraction.max_tokens must be positive"))
	}
	if e.SelfConsistencyRuns < 1 {
		errs = append(errs, fmt.Errorf("extraction.self_consistency_runs must be at least 1"))
	}
	if e.Workers < 1 {
		errs = append(errs, fmt.Errorf("extraction.workers must be at least 1"))
	}
	if e.MaxRetries < 0 || e.MaxFixAttempts < 0 {
		errs = append(errs, fmt.Errorf("extraction retry and fix counts must not be negative"))
	}
	switch e.Consensus {
	case ConsensusFirstSuccess, ConsensusFieldVote:
	default:
		errs = append(errs, fmt.Errorf("extraction.consensus %q must be %s or %s", e.Consensus, ConsensusFirstSuccess, ConsensusFieldVote))
	}
	if t := c.Confidence.LowThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("confidence.low_threshold %v out of range [0,1]", t))
	}
	return errors.Join(errs...)
}

// GetOCRProvider returns an OCR provider config by name.
func (c *Config) GetOCRProvider(name string) (OCRProviderCfg, bool) {
	cfg, ok := c.OCRProviders[name]
	return cfg, ok
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}
