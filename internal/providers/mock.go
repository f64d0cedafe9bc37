package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is an LLMClient for testing.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int // Fail after N requests (0 = never)
	ResponseText string

	// Responses are returned in request order; the last one repeats once exhausted.
	Responses []string

	// ResponseFunc, when set, takes precedence over ResponseText and Responses.
	// n is the 1-based request number.
	ResponseFunc func(req *ChatRequest, n int64) (string, error)

	// State
	requestCount atomic.Int64
	mu           sync.Mutex
	requests     []ChatRequest
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		Latency:      time.Millisecond,
		ResponseText: "mock response",
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Chat sends a mock chat request.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	c.mu.Lock()
	c.requests = append(c.requests, *req)
	c.mu.Unlock()

	result := &ChatResult{
		RequestID: fmt.Sprintf("mock-%d", count),
		Provider:  MockClientName,
		ModelUsed: req.Model,
		Attempts:  1,
	}
	if result.ModelUsed == "" {
		result.ModelUsed = "mock-model"
	}

	// Check if we should fail
	if c.ShouldFail {
		result.ErrorType = "mock_failure"
		result.ErrorMessage = "mock client configured to fail"
		result.TotalTime = time.Since(start)
		return result, fmt.Errorf("mock client configured to fail")
	}
	if c.FailAfter > 0 && int(count) > c.FailAfter {
		result.ErrorType = "mock_failure"
		result.ErrorMessage = fmt.Sprintf("mock client failed after %d requests", c.FailAfter)
		result.TotalTime = time.Since(start)
		return result, fmt.Errorf("mock client failed after %d requests", c.FailAfter)
	}

	// Simulate latency
	select {
	case <-time.After(c.Latency):
	case <-ctx.Done():
		result.ErrorType = "context_cancelled"
		result.ErrorMessage = ctx.Err().Error()
		result.TotalTime = time.Since(start)
		return result, ctx.Err()
	}

	content, err := c.respond(req, count)
	if err != nil {
		result.ErrorType = "mock_failure"
		result.ErrorMessage = err.Error()
		result.TotalTime = time.Since(start)
		return result, err
	}

	result.Success = true
	result.Content = content
	result.ExecutionTime = time.Since(start)
	result.TotalTime = result.ExecutionTime

	// Simulate token counting
	promptTokens := 0
	for _, m := range req.Messages {
		promptTokens += len(m.Content) / 4 // Rough estimate
	}
	completionTokens := len(content) / 4

	result.PromptTokens = promptTokens
	result.CompletionTokens = completionTokens
	result.TotalTokens = promptTokens + completionTokens
	result.CostUSD = 0.001 // Mock cost

	return result, nil
}

func (c *MockClient) respond(req *ChatRequest, count int64) (string, error) {
	if c.ResponseFunc != nil {
		return c.ResponseFunc(req, count)
	}
	if len(c.Responses) > 0 {
		idx := int(count) - 1
		if idx >= len(c.Responses) {
			idx = len(c.Responses) - 1
		}
		return c.Responses[idx], nil
	}
	return c.ResponseText, nil
}

// RequestCount returns the number of requests made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Requests returns a copy of every request received so far.
func (c *MockClient) Requests() []ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChatRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// Reset resets the request counter and history.
func (c *MockClient) Reset() {
	c.requestCount.Store(0)
	c.mu.Lock()
	c.requests = nil
	c.mu.Unlock()
}

// Verify interface
var _ LLMClient = (*MockClient)(nil)

// MockOCRProvider is an OCR provider for testing.
type MockOCRProvider struct {
	ProviderName string
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int
	ResponseText string
	Confidence   float64
	Pages        int // Pages reported by ProcessDocument (default 1)
	RPS          float64
	Retries      int
	RetryDelay   time.Duration

	requestCount atomic.Int64
}

// NewMockOCRProvider creates a new mock OCR provider.
func NewMockOCRProvider() *MockOCRProvider {
	return &MockOCRProvider{
		ProviderName: "mock-ocr",
		Latency:      time.Millisecond,
		ResponseText: "mock OCR text",
		Confidence:   0.9,
		Pages:        1,
		RPS:          10.0,
		Retries:      3,
		RetryDelay:   time.Second,
	}
}

// Name returns the provider identifier.
func (p *MockOCRProvider) Name() string {
	return p.ProviderName
}

// RequestsPerSecond returns the rate limit.
func (p *MockOCRProvider) RequestsPerSecond() float64 {
	return p.RPS
}

// MaxRetries returns the max retry count.
func (p *MockOCRProvider) MaxRetries() int {
	return p.Retries
}

// RetryDelayBase returns the base retry delay.
func (p *MockOCRProvider) RetryDelayBase() time.Duration {
	return p.RetryDelay
}

func (p *MockOCRProvider) begin(ctx context.Context) (*OCRResult, error) {
	start := time.Now()
	count := p.requestCount.Add(1)
	result := &OCRResult{}

	if p.ShouldFail {
		result.ErrorMessage = "mock OCR provider configured to fail"
		result.ExecutionTime = time.Since(start)
		return result, fmt.Errorf("mock OCR provider configured to fail")
	}
	if p.FailAfter > 0 && int(count) > p.FailAfter {
		result.ErrorMessage = fmt.Sprintf("mock OCR provider failed after %d requests", p.FailAfter)
		result.ExecutionTime = time.Since(start)
		return result, fmt.Errorf("mock OCR provider failed after %d requests", p.FailAfter)
	}

	select {
	case <-time.After(p.Latency):
	case <-ctx.Done():
		result.ErrorMessage = ctx.Err().Error()
		result.ExecutionTime = time.Since(start)
		return result, ctx.Err()
	}

	result.Success = true
	result.Confidence = p.Confidence
	result.CostUSD = 0.001
	result.ExecutionTime = time.Since(start)
	return result, nil
}

// ProcessImage extracts text from an image.
func (p *MockOCRProvider) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	result, err := p.begin(ctx)
	if err != nil {
		return result, err
	}
	result.Text = p.ResponseText
	result.Pages = []string{p.ResponseText}
	result.PageCount = 1
	result.Metadata = map[string]any{
		"page_num":    pageNum,
		"provider":    p.ProviderName,
		"image_bytes": len(image),
	}
	return result, nil
}

// ProcessDocument returns ResponseText once per configured page.
func (p *MockOCRProvider) ProcessDocument(ctx context.Context, doc []byte, mimeType string) (*OCRResult, error) {
	result, err := p.begin(ctx)
	if err != nil {
		return result, err
	}
	pages := p.Pages
	if pages <= 0 {
		pages = 1
	}
	for i := 0; i < pages; i++ {
		result.Pages = append(result.Pages, p.ResponseText)
	}
	result.PageCount = pages
	result.Text = joinPages(result.Pages)
	result.Metadata = map[string]any{
		"provider":  p.ProviderName,
		"mime_type": mimeType,
		"doc_bytes": len(doc),
	}
	return result, nil
}

// RequestCount returns the number of requests made.
func (p *MockOCRProvider) RequestCount() int64 {
	return p.requestCount.Load()
}

// Reset resets the request counter.
func (p *MockOCRProvider) Reset() {
	p.requestCount.Store(0)
}

// Verify interface
var _ DocumentOCR = (*MockOCRProvider)(nil)
