package providers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Provider types accepted in configuration.
const (
	TypeOpenRouter = "openrouter"
	TypeOpenAI     = "openai"
	TypeMistralOCR = "mistral-ocr"
)

// ErrProviderNotFound is returned when no provider is registered under a name.
var ErrProviderNotFound = errors.New("provider not found")

// RegistryConfig lists the providers to build, keyed by configured name.
type RegistryConfig struct {
	OCRProviders map[string]OCRProviderConfig
	LLMProviders map[string]LLMProviderConfig
}

// OCRProviderConfig is one OCR backend with its API key already resolved.
type OCRProviderConfig struct {
	Type      string // "mistral-ocr"
	Model     string // provider default if empty
	APIKey    string
	RateLimit float64 // requests per second
	Enabled   bool
}

func (c OCRProviderConfig) usable() bool { return c.Enabled && c.APIKey != "" }

func (c OCRProviderConfig) fingerprint() string {
	return fingerprint(c.Type, c.Model, "", c.APIKey, c.RateLimit)
}

// LLMProviderConfig is one chat backend with its API key already resolved.
type LLMProviderConfig struct {
	Type      string // "openrouter", "openai"
	Model     string
	BaseURL   string // optional endpoint override
	APIKey    string
	RateLimit float64 // requests per second
	Enabled   bool
}

func (c LLMProviderConfig) usable() bool { return c.Enabled && c.APIKey != "" }

func (c LLMProviderConfig) fingerprint() string {
	return fingerprint(c.Type, c.Model, c.BaseURL, c.APIKey, c.RateLimit)
}

// fingerprint identifies a provider configuration without keeping the key in memory twice.
func fingerprint(typ, model, baseURL, apiKey string, rps float64) string {
	sum := sha256.Sum256([]byte(apiKey))
	return fmt.Sprintf("%s|%s|%s|%s|%g", typ, model, baseURL, hex.EncodeToString(sum[:8]), rps)
}

type entry[T any] struct {
	client      T
	fingerprint string
}

// Registry holds the named LLM clients and OCR providers a run can use.
// It is safe for concurrent use and can be reloaded when the config file changes.
type Registry struct {
	mu     sync.RWMutex
	llm    map[string]entry[LLMClient]
	ocr    map[string]entry[OCRProvider]
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		llm:    make(map[string]entry[LLMClient]),
		ocr:    make(map[string]entry[OCRProvider]),
		logger: slog.Default(),
	}
}

// NewRegistryFromConfig builds every enabled provider that has an API key.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.Reload(cfg)
	return r
}

// SetLogger sets the logger used for registration events.
func (r *Registry) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// RegisterLLM adds or replaces an LLM client. Clients registered this way
// are dropped by the next Reload unless the config names them.
func (r *Registry) RegisterLLM(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = entry[LLMClient]{client: client}
	r.logger.Debug("registered LLM client", "name", name)
}

// RegisterOCR adds or replaces an OCR provider.
func (r *Registry) RegisterOCR(name string, provider OCRProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ocr[name] = entry[OCRProvider]{client: provider}
	r.logger.Debug("registered OCR provider", "name", name)
}

// GetLLM returns the LLM client registered under name.
func (r *Registry) GetLLM(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.llm[name]
	if !ok {
		return nil, fmt.Errorf("LLM %q: %w", name, ErrProviderNotFound)
	}
	return e.client, nil
}

// GetOCR returns the OCR provider registered under name.
func (r *Registry) GetOCR(name string) (OCRProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.ocr[name]
	if !ok {
		return nil, fmt.Errorf("OCR %q: %w", name, ErrProviderNotFound)
	}
	return e.client, nil
}

// ListLLM returns the registered LLM client names, sorted.
func (r *Registry) ListLLM() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.llm)
}

// ListOCR returns the registered OCR provider names, sorted.
func (r *Registry) ListOCR() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.ocr)
}

// Reload reconciles the registry with cfg. Providers whose settings are
// unchanged keep their client (and its rate limiter state); changed ones are
// rebuilt; ones no longer enabled are removed.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reconcile(r.llm, cfg.LLMProviders, newLLMClient, r.logger.With("kind", "llm"))
	reconcile(r.ocr, cfg.OCRProviders, newOCRProvider, r.logger.With("kind", "ocr"))
}

type providerConfig interface {
	usable() bool
	fingerprint() string
}

func reconcile[T any, C providerConfig](have map[string]entry[T], want map[string]C, build func(C) (T, error), logger *slog.Logger) {
	keep := make(map[string]bool, len(want))
	for name, c := range want {
		if !c.usable() {
			continue
		}
		fp := c.fingerprint()
		if cur, ok := have[name]; ok && cur.fingerprint == fp {
			keep[name] = true
			continue
		}
		client, err := build(c)
		if err != nil {
			logger.Warn("skipping provider", "name", name, "error", err)
			continue
		}
		_, replaced := have[name]
		have[name] = entry[T]{client: client, fingerprint: fp}
		keep[name] = true
		if replaced {
			logger.Info("updated provider", "name", name)
		} else {
			logger.Info("registered provider", "name", name)
		}
	}
	for name := range have {
		if !keep[name] {
			delete(have, name)
			logger.Info("unregistered provider", "name", name)
		}
	}
}

func newLLMClient(c LLMProviderConfig) (LLMClient, error) {
	switch c.Type {
	case TypeOpenRouter:
		return NewOpenRouterClient(OpenRouterConfig{
			APIKey:       c.APIKey,
			BaseURL:      c.BaseURL,
			DefaultModel: c.Model,
			RPS:          c.RateLimit,
		}), nil
	case TypeOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:       c.APIKey,
			BaseURL:      c.BaseURL,
			DefaultModel: c.Model,
			RPS:          c.RateLimit,
		}), nil
	}
	return nil, fmt.Errorf("unknown LLM provider type %q", c.Type)
}

func newOCRProvider(c OCRProviderConfig) (OCRProvider, error) {
	if c.Type == TypeMistralOCR {
		return NewMistralOCRClient(MistralOCRConfig{
			APIKey:    c.APIKey,
			Model:     c.Model,
			RateLimit: c.RateLimit,
		}), nil
	}
	return nil, fmt.Errorf("unknown OCR provider type %q", c.Type)
}

func sortedKeys[T any](m map[string]entry[T]) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
