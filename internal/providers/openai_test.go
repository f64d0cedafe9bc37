package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestOpenAIClient_Chat(t *testing.T) {
	t.Run("successful chat", func(t *testing.T) {
		var received map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("unexpected authorization: %s", auth)
			}
			json.NewDecoder(r.Body).Decode(&received)

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 1700000000,
				"model":   "gpt-4o-mini-2024-07-18",
				"choices": []map[string]any{{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": `{"bill_number": "12345"}`},
				}},
				"usage": map[string]any{
					"prompt_tokens":     120,
					"completion_tokens": 12,
					"total_tokens":      132,
				},
			})
		}))
		defer server.Close()

		client := NewOpenAIClient(OpenAIConfig{
			APIKey:  "test-key",
			BaseURL: server.URL,
			Timeout: 5 * time.Second,
		})

		result, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{
				{Role: "system", Content: "Extract fields."},
				{Role: "user", Content: "BILL 12345"},
			},
			Temperature:    0.2,
			MaxTokens:      2048,
			ResponseFormat: JSONObject,
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if result.Content != `{"bill_number": "12345"}` {
			t.Errorf("Content = %q", result.Content)
		}
		if result.TotalTokens != 132 || result.PromptTokens != 120 {
			t.Errorf("tokens = %d/%d, want 120/132", result.PromptTokens, result.TotalTokens)
		}
		if result.ModelUsed != "gpt-4o-mini-2024-07-18" {
			t.Errorf("ModelUsed = %q", result.ModelUsed)
		}
		if received["model"] != OpenAIModel {
			t.Errorf("request model = %v, want %s", received["model"], OpenAIModel)
		}
		if received["max_completion_tokens"] != float64(2048) {
			t.Errorf("max_completion_tokens = %v, want 2048", received["max_completion_tokens"])
		}
		if rf, _ := received["response_format"].(map[string]any); rf["type"] != "json_object" {
			t.Errorf("response_format = %v, want json_object", received["response_format"])
		}
		msgs, _ := received["messages"].([]any)
		if len(msgs) != 2 {
			t.Errorf("messages = %v, want 2 entries", received["messages"])
		}
	})

	t.Run("API error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": {"message": "bad request", "type": "invalid_request_error"}}`))
		}))
		defer server.Close()

		client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})

		result, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "test"}},
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if result.Success {
			t.Error("expected Success = false")
		}
		var se *StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
			t.Errorf("error = %v, want StatusError 400", err)
		}
		if IsRetryable(err) {
			t.Error("400 should not be retryable")
		}
	})

	t.Run("server error is retryable and not retried by the SDK", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error": {"message": "overloaded"}}`))
		}))
		defer server.Close()

		client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
		_, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "test"}},
		})
		if !IsRetryable(err) {
			t.Errorf("error = %v, want retryable", err)
		}
		if calls.Load() != 1 {
			t.Errorf("server called %d times, want 1", calls.Load())
		}
	})
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("3"); got != 3*time.Second {
		t.Errorf("parseRetryAfter(3) = %v, want 3s", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("parseRetryAfter(\"\") = %v, want 0", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Errorf("parseRetryAfter(soon) = %v, want 0", got)
	}
}

// TestOpenAIIntegration runs a real chat call against the OpenAI API.
// Requires OPENAI_API_KEY environment variable to be set.
func TestOpenAIIntegration(t *testing.T) {
	cfg := LoadTestConfig()
	if !cfg.HasOpenAI() {
		t.Skip("OPENAI_API_KEY not set - skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := cfg.NewOpenAIClient().Chat(ctx, &ChatRequest{
		Messages:  []Message{{Role: "user", Content: "Say 'hello' and nothing else."}},
		MaxTokens: 10,
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	t.Logf("Response: %q (%s)", result.Content, result.ModelUsed)
}
