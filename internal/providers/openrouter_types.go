package providers

import (
	"fmt"
	"net/http"
	"strconv"
)

// Wire types for the OpenRouter chat completions API.

type openRouterRequest struct {
	Model          string                  `json:"model"`
	Messages       []openRouterMessage     `json:"messages"`
	Temperature    float64                 `json:"temperature"`
	MaxTokens      int                     `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat         `json:"response_format,omitempty"`
	Usage          *openRouterUsageRequest `json:"usage,omitempty"`
}

type openRouterUsageRequest struct {
	Include bool `json:"include"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []any of content parts
}

type openRouterResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int     `json:"prompt_tokens"`
		CompletionTokens int     `json:"completion_tokens"`
		TotalTokens      int     `json:"total_tokens"`
		Cost             float64 `json:"cost,omitempty"`
		NativeTotalCost  float64 `json:"native_total_cost,omitempty"`
	} `json:"usage"`
	Error *openRouterError `json:"error,omitempty"`
}

// openRouterError is an error reported inside a 200 response.
type openRouterError struct {
	Message string `json:"message"`
	Code    any    `json:"code,omitempty"` // string or int
}

// asStatusError maps the body-level code onto an HTTP status so retry
// classification treats it like a transport error.
func (e *openRouterError) asStatusError() error {
	code := http.StatusBadGateway
	switch v := e.Code.(type) {
	case float64:
		code = int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			code = n
		} else if v == "rate_limit_exceeded" {
			return &RateLimitError{Message: "OpenRouter rate limited: " + e.Message, StatusCode: http.StatusTooManyRequests}
		} else if v != "overloaded" {
			code = http.StatusBadRequest
		}
	}
	return &StatusError{Provider: "OpenRouter", StatusCode: code, Message: fmt.Sprintf("%v: %s", e.Code, e.Message)}
}
