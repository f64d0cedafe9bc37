package providers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMockClient(t *testing.T) {
	t.Run("chat", func(t *testing.T) {
		client := NewMockClient()
		client.ResponseText = "Hello from mock"

		result, err := client.Chat(context.Background(), &ChatRequest{
			Model:    "test-model",
			Messages: []Message{{Role: "user", Content: "Hello"}},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if !result.Success {
			t.Error("expected Success = true")
		}
		if result.Content != "Hello from mock" {
			t.Errorf("Content = %q, want %q", result.Content, "Hello from mock")
		}
		if result.ModelUsed != "test-model" {
			t.Errorf("ModelUsed = %q, want test-model", result.ModelUsed)
		}
		if client.RequestCount() != 1 {
			t.Errorf("RequestCount() = %d, want 1", client.RequestCount())
		}
	})

	t.Run("scripted responses", func(t *testing.T) {
		client := NewMockClient()
		client.Responses = []string{"first", "second"}

		var got []string
		for i := 0; i < 3; i++ {
			result, err := client.Chat(context.Background(), &ChatRequest{})
			if err != nil {
				t.Fatalf("Chat() error = %v", err)
			}
			got = append(got, result.Content)
		}
		want := "first,second,second"
		if strings.Join(got, ",") != want {
			t.Errorf("responses = %v, want %s", got, want)
		}
	})

	t.Run("response func", func(t *testing.T) {
		client := NewMockClient()
		client.ResponseFunc = func(req *ChatRequest, n int64) (string, error) {
			if n == 2 {
				return "", errors.New("boom")
			}
			return req.Messages[0].Content, nil
		}

		result, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "echo"}},
		})
		if err != nil || result.Content != "echo" {
			t.Fatalf("Chat() = %q, %v; want echo", result.Content, err)
		}
		if _, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "echo"}},
		}); err == nil {
			t.Error("expected error from ResponseFunc")
		}
	})

	t.Run("records requests", func(t *testing.T) {
		client := NewMockClient()
		client.Chat(context.Background(), &ChatRequest{Temperature: 0.2, MaxTokens: 10})

		reqs := client.Requests()
		if len(reqs) != 1 {
			t.Fatalf("Requests() len = %d, want 1", len(reqs))
		}
		if reqs[0].Temperature != 0.2 || reqs[0].MaxTokens != 10 {
			t.Errorf("unexpected request: %+v", reqs[0])
		}

		client.Reset()
		if client.RequestCount() != 0 || len(client.Requests()) != 0 {
			t.Error("Reset() should clear state")
		}
	})

	t.Run("failure", func(t *testing.T) {
		client := NewMockClient()
		client.ShouldFail = true

		result, err := client.Chat(context.Background(), &ChatRequest{})
		if err == nil {
			t.Error("expected error")
		}
		if result.Success {
			t.Error("expected Success = false")
		}
	})

	t.Run("fail after N", func(t *testing.T) {
		client := NewMockClient()
		client.FailAfter = 2

		for i := 0; i < 2; i++ {
			if _, err := client.Chat(context.Background(), &ChatRequest{}); err != nil {
				t.Fatalf("request %d should succeed: %v", i+1, err)
			}
		}
		if _, err := client.Chat(context.Background(), &ChatRequest{}); err == nil {
			t.Error("request 3 should fail")
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		client := NewMockClient()
		client.Latency = time.Second

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := client.Chat(ctx, &ChatRequest{}); err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestMockOCRProvider(t *testing.T) {
	t.Run("process image", func(t *testing.T) {
		p := NewMockOCRProvider()
		p.ResponseText = "Invoice #42"

		result, err := p.ProcessImage(context.Background(), []byte("img"), 1)
		if err != nil {
			t.Fatalf("ProcessImage() error = %v", err)
		}
		if result.Text != "Invoice #42" {
			t.Errorf("Text = %q", result.Text)
		}
		if result.Confidence != 0.9 {
			t.Errorf("Confidence = %v, want 0.9", result.Confidence)
		}
	})

	t.Run("process document", func(t *testing.T) {
		p := NewMockOCRProvider()
		p.ResponseText = "page"
		p.Pages = 3

		result, err := p.ProcessDocument(context.Background(), []byte("%PDF"), "application/pdf")
		if err != nil {
			t.Fatalf("ProcessDocument() error = %v", err)
		}
		if result.PageCount != 3 {
			t.Errorf("PageCount = %d, want 3", result.PageCount)
		}
		if result.Text != "page\n\npage\n\npage" {
			t.Errorf("Text = %q", result.Text)
		}
	})

	t.Run("failure", func(t *testing.T) {
		p := NewMockOCRProvider()
		p.ShouldFail = true
		if _, err := p.ProcessDocument(context.Background(), nil, ""); err == nil {
			t.Error("expected error")
		}
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows initial burst", func(t *testing.T) {
		limiter := NewRateLimiter(10)

		start := time.Now()
		for i := 0; i < 5; i++ {
			if err := limiter.Wait(context.Background()); err != nil {
				t.Fatalf("request %d failed: %v", i, err)
			}
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("took too long: %v", elapsed)
		}
	})

	t.Run("try consume", func(t *testing.T) {
		limiter := NewRateLimiter(1)

		if !limiter.TryConsume() {
			t.Error("first TryConsume should succeed")
		}
		if limiter.TryConsume() {
			t.Error("second TryConsume should fail with an empty bucket")
		}
	})

	t.Run("status", func(t *testing.T) {
		limiter := NewRateLimiter(6)

		status := limiter.Status()
		if status.TokensLimit != 6 {
			t.Errorf("TokensLimit = %d, want 6", status.TokensLimit)
		}
		if status.TokensAvailable <= 0 {
			t.Error("expected positive tokens available")
		}
	})

	t.Run("record 429 drains bucket", func(t *testing.T) {
		limiter := NewRateLimiter(1)

		limiter.Record429(0)

		status := limiter.Status()
		if status.Last429Time.IsZero() {
			t.Error("Last429Time should be set")
		}
		if limiter.TryConsume() {
			t.Error("bucket should be drained after 429")
		}
	})

	t.Run("record 429 honors retry after", func(t *testing.T) {
		limiter := NewRateLimiter(1000)

		limiter.Record429(time.Hour)

		if limiter.TryConsume() {
			t.Error("limiter should be paused")
		}
		if status := limiter.Status(); status.TimeUntilToken < 59*time.Minute {
			t.Errorf("TimeUntilToken = %v, want about an hour", status.TimeUntilToken)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := limiter.Wait(ctx); err != context.DeadlineExceeded {
			t.Errorf("Wait() = %v, want deadline exceeded", err)
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		limiter := NewRateLimiter(0.1)
		limiter.Wait(context.Background())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := limiter.Wait(ctx); err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("concurrent requests", func(t *testing.T) {
		limiter := NewRateLimiter(100)

		var wg sync.WaitGroup
		var failures atomic.Int32
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := limiter.Wait(context.Background()); err != nil {
					failures.Add(1)
				}
			}()
		}
		wg.Wait()

		if failures.Load() > 0 {
			t.Errorf("had %d errors", failures.Load())
		}
		if status := limiter.Status(); status.TotalConsumed != 10 {
			t.Errorf("TotalConsumed = %d, want 10", status.TotalConsumed)
		}
	})
}

func TestTestConfig(t *testing.T) {
	t.Run("ToRegistryConfig", func(t *testing.T) {
		cfg := TestConfig{OpenRouterAPIKey: "or", MistralAPIKey: "mi"}
		regCfg := cfg.ToRegistryConfig()

		if _, ok := regCfg.LLMProviders["openrouter"]; !ok {
			t.Error("expected openrouter provider")
		}
		if _, ok := regCfg.LLMProviders["openai"]; ok {
			t.Error("openai should be absent without a key")
		}
		if _, ok := regCfg.OCRProviders["mistral"]; !ok {
			t.Error("expected mistral provider")
		}
	})
}
