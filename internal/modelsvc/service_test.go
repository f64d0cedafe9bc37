package modelsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/jackzampolin/docextract/internal/llmcall"
	"github.com/jackzampolin/docextract/internal/metrics"
	"github.com/jackzampolin/docextract/internal/providers"
)

type captureSink struct {
	mu   sync.Mutex
	rows []map[string]any
}

func (s *captureSink) Send(table string, row map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
}

func testConfig() Config {
	return Config{
		Model:       "test-model",
		Temperature: 0.2,
		MaxTokens:   256,
		CallTimeout: time.Second,
		MaxRetries:  2,
		RetryDelay:  time.Millisecond,
		RateLimit:   1000,
	}
}

func TestCall_Success(t *testing.T) {
	client := providers.NewMockClient()
	client.ResponseText = "invoice"

	rec := metrics.NewRecorder(metrics.Pricing{}, nil, nil)
	rec.Init("run-1")
	sink := &captureSink{}

	svc := New(client, testConfig(), WithMetrics(rec), WithCallRecorder(llmcall.NewRecorder(sink)))

	resp, err := svc.Call(context.Background(), Request{Key: "classify", Prompt: "what is this?", MaxTokens: 10, Stage: "classify"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if resp.Text != "invoice" {
		t.Errorf("Text = %q, want invoice", resp.Text)
	}
	if resp.Model != "test-model" {
		t.Errorf("Model = %q, want test-model", resp.Model)
	}
	if resp.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", resp.Attempts)
	}

	reqs := client.Requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if reqs[0].MaxTokens != 10 {
		t.Errorf("MaxTokens = %d, want request override 10", reqs[0].MaxTokens)
	}
	if reqs[0].Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", reqs[0].Temperature)
	}
	if reqs[0].RequestID == "" {
		t.Error("RequestID should be set")
	}

	ms := rec.Metrics()
	if len(ms) != 1 || ms[0].Stage != "classify" || !ms[0].Success {
		t.Errorf("metrics = %+v", ms)
	}
	if len(sink.rows) != 1 || sink.rows[0]["run_id"] != "run-1" || sink.rows[0]["prompt_key"] != "classify" {
		t.Errorf("call rows = %v", sink.rows)
	}
}

func TestCall_TemperatureOverride(t *testing.T) {
	client := providers.NewMockClient()
	svc := New(client, testConfig())

	zero := 0.0
	if _, err := svc.Call(context.Background(), Request{Key: "k", Prompt: "p", Temperature: &zero}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got := client.Requests()[0].Temperature; got != 0 {
		t.Errorf("Temperature = %v, want 0", got)
	}
}

func TestCall_RetriesTransientErrors(t *testing.T) {
	client := providers.NewMockClient()
	client.ResponseFunc = func(req *providers.ChatRequest, n int64) (string, error) {
		if n == 1 {
			return "", &providers.StatusError{Provider: "mock", StatusCode: 503, Message: "overloaded"}
		}
		return `{"ok":true}`, nil
	}

	rec := metrics.NewRecorder(metrics.Pricing{}, nil, nil)
	rec.Init("run")
	svc := New(client, testConfig(), WithMetrics(rec))

	resp, err := svc.Call(context.Background(), Request{Key: "extract", Prompt: "p", Stage: "extract"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if resp.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", resp.Attempts)
	}

	s := rec.Summary()
	if s.TotalAPICalls != 2 || s.TotalErrors != 1 {
		t.Errorf("summary = %+v, want 2 calls and 1 error", s)
	}
}

func TestCall_RateLimitPausesLimiter(t *testing.T) {
	client := providers.NewMockClient()
	client.ResponseFunc = func(req *providers.ChatRequest, n int64) (string, error) {
		if n == 1 {
			return "", &providers.RateLimitError{Message: "rate limited", RetryAfter: 20 * time.Millisecond, StatusCode: 429}
		}
		return "ok", nil
	}

	svc := New(client, testConfig())
	start := time.Now()
	resp, err := svc.Call(context.Background(), Request{Key: "k", Prompt: "p"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("Text = %q", resp.Text)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("elapsed %v, want at least the retry-after pause", elapsed)
	}
	if svc.Limiter().Status().Last429Time.IsZero() {
		t.Error("limiter should have recorded the 429")
	}
}

func TestCall_NonRetriableError(t *testing.T) {
	client := providers.NewMockClient()
	client.ShouldFail = true

	svc := New(client, testConfig())
	_, err := svc.Call(context.Background(), Request{Key: "k", Prompt: "p"})
	if err == nil {
		t.Fatal("expected error")
	}
	if client.RequestCount() != 1 {
		t.Errorf("RequestCount = %d, want 1 (no retries)", client.RequestCount())
	}
	if !strings.Contains(err.Error(), "model call k failed") {
		t.Errorf("error = %v", err)
	}
}

func TestCall_ExhaustsRetries(t *testing.T) {
	client := providers.NewMockClient()
	client.ResponseFunc = func(req *providers.ChatRequest, n int64) (string, error) {
		return "", fmt.Errorf("read tcp: %w", syscall.ECONNRESET)
	}

	cfg := testConfig()
	cfg.MaxRetries = 1
	svc := New(client, cfg)

	if _, err := svc.Call(context.Background(), Request{Key: "k", Prompt: "p"}); err == nil {
		t.Fatal("expected error")
	}
	if client.RequestCount() != 2 {
		t.Errorf("RequestCount = %d, want 2", client.RequestCount())
	}
}

func TestCall_JSONMode(t *testing.T) {
	client := providers.NewMockClient()
	client.ResponseText = `{"a":1}`
	svc := New(client, testConfig())

	if _, err := svc.Call(context.Background(), Request{Key: "extract", Prompt: "p", JSON: true}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if _, err := svc.Call(context.Background(), Request{Key: "classify", Prompt: "p"}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	reqs := client.Requests()
	if reqs[0].ResponseFormat == nil || reqs[0].ResponseFormat.Type != "json_object" {
		t.Errorf("JSON request ResponseFormat = %+v, want json_object", reqs[0].ResponseFormat)
	}
	if reqs[1].ResponseFormat != nil {
		t.Errorf("plain request ResponseFormat = %+v, want nil", reqs[1].ResponseFormat)
	}
}

func TestCall_EmptyResponse(t *testing.T) {
	client := providers.NewMockClient()
	client.ResponseText = "   "

	svc := New(client, testConfig())
	_, err := svc.Call(context.Background(), Request{Key: "k", Prompt: "p"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("error = %v, want ErrEmptyResponse", err)
	}
	if client.RequestCount() != 1 {
		t.Errorf("RequestCount = %d, want 1", client.RequestCount())
	}
}

func TestCall_Timeout(t *testing.T) {
	client := providers.NewMockClient()
	client.Latency = time.Second

	cfg := testConfig()
	cfg.CallTimeout = 10 * time.Millisecond
	cfg.MaxRetries = 0
	svc := New(client, cfg)

	_, err := svc.Call(context.Background(), Request{Key: "k", Prompt: "p"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestCall_ContextCancelled(t *testing.T) {
	client := providers.NewMockClient()
	svc := New(client, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Call(ctx, Request{Key: "k", Prompt: "p"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
