package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	OpenRouterName    = "openrouter"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	OpenRouterModel   = "google/gemini-flash-1.5"
)

// ErrNoChoices is returned when a completion comes back without choices.
var ErrNoChoices = errors.New("no choices in response")

// OpenRouterConfig holds configuration for the OpenRouter client.
type OpenRouterConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	RPS          float64 // advisory; callers build the limiter (default: 150)
}

// OpenRouterClient implements LLMClient against the OpenRouter chat
// completions API. Each Chat is a single HTTP request; retry policy belongs
// to the caller (see modelsvc).
type OpenRouterClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	rps          float64
	client       *http.Client
}

// NewOpenRouterClient creates a new OpenRouter client.
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = OpenRouterModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 150
	}
	return &OpenRouterClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		rps:          cfg.RPS,
		client:       &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the client identifier.
func (c *OpenRouterClient) Name() string {
	return OpenRouterName
}

// RequestsPerSecond returns the configured request rate.
func (c *OpenRouterClient) RequestsPerSecond() float64 {
	return c.rps
}

// Chat sends one chat completion request.
func (c *OpenRouterClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	result := &ChatResult{
		RequestID: req.RequestID,
		Provider:  OpenRouterName,
		Attempts:  1,
	}
	if result.RequestID == "" {
		result.RequestID = uuid.New().String()
	}
	fail := func(kind string, err error) (*ChatResult, error) {
		result.ErrorType = kind
		result.ErrorMessage = err.Error()
		result.TotalTime = time.Since(start)
		return result, err
	}

	body := c.buildRequest(req)
	resp, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return fail("http_error", err)
	}
	if resp.Error != nil {
		return fail("api_error", resp.Error.asStatusError())
	}
	if len(resp.Choices) == 0 {
		return fail("empty_response", fmt.Errorf("model %s: %w", resp.Model, ErrNoChoices))
	}

	content, err := messageText(resp.Choices[0].Message.Content)
	if err != nil {
		return fail("content_marshal_error", err)
	}

	result.Success = true
	result.Content = content
	result.ModelUsed = resp.Model
	result.PromptTokens = resp.Usage.PromptTokens
	result.CompletionTokens = resp.Usage.CompletionTokens
	result.TotalTokens = resp.Usage.TotalTokens
	result.CostUSD = resp.Usage.Cost
	if result.CostUSD == 0 {
		result.CostUSD = resp.Usage.NativeTotalCost
	}
	result.ExecutionTime = time.Since(start)
	result.TotalTime = result.ExecutionTime
	return result, nil
}

func (c *OpenRouterClient) buildRequest(req *ChatRequest) *openRouterRequest {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	out := &openRouterRequest{
		Model:          model,
		Messages:       make([]openRouterMessage, 0, len(req.Messages)),
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: req.ResponseFormat,
		Usage:          &openRouterUsageRequest{Include: true},
	}
	for _, m := range req.Messages {
		msg := openRouterMessage{Role: m.Role, Content: m.Content}
		if len(m.Images) > 0 {
			parts := []any{map[string]any{"type": "text", "text": m.Content}}
			for _, img := range m.Images {
				parts = append(parts, map[string]any{
					"type": "image_url",
					"image_url": map[string]any{
						"url": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
					},
				})
			}
			msg.Content = parts
		}
		out.Messages = append(out.Messages, msg)
	}
	return out
}

// post sends body and decodes the completion. Non-2xx answers become
// RateLimitError (429) or StatusError.
func (c *OpenRouterClient) post(ctx context.Context, path string, body *openRouterRequest) (*openRouterResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/jackzampolin/docextract")
	req.Header.Set("X-Title", "docextract")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{
			Message:    "OpenRouter rate limited: " + string(raw),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			StatusCode: resp.StatusCode,
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &StatusError{Provider: "OpenRouter", StatusCode: resp.StatusCode, Message: string(raw)}
	}

	var out openRouterResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &out, nil
}

// messageText flattens a completion message: a plain string, or content
// parts re-encoded as JSON.
func messageText(content any) (string, error) {
	switch v := content.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal content: %w", err)
		}
		return string(b), nil
	}
}

var _ LLMClient = (*OpenRouterClient)(nil)
