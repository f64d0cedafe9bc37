// Package llmcall provides LLM call recording for traceability.
// Every model call is recorded with its prompt key, response, and token usage.
package llmcall

import (
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/docextract/internal/providers"
)

// Table is the storage table call records are written to.
const Table = "llm_calls"

// Call represents a recorded LLM API call.
type Call struct {
	// Unique identifier
	ID string `json:"id"`

	// Timing
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int       `json:"latency_ms"`

	// Context references
	RunID   string `json:"run_id,omitempty"`
	Stage   string `json:"stage,omitempty"`
	ItemKey string `json:"item_key,omitempty"`

	// Prompt traceability
	PromptKey string `json:"prompt_key"`
	PromptCID string `json:"prompt_cid,omitempty"` // Content hash of the exact prompt text sent

	// Model info
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature,omitempty"`

	// Token usage
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	Response string `json:"response"`

	// Status
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RecordOptions provides context for recording an LLM call.
type RecordOptions struct {
	RunID   string
	Stage   string
	ItemKey string

	// Prompt identification (required for traceability)
	PromptKey string
	PromptCID string

	// Request parameters (pointer to distinguish "not set" from "set to 0")
	Temperature *float64
}

// FromChatResult creates a Call from a ChatResult.
// Returns nil if result is nil.
func FromChatResult(result *providers.ChatResult, opts RecordOptions) *Call {
	if result == nil {
		return nil
	}

	call := &Call{
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		LatencyMs:    int(result.ExecutionTime.Milliseconds()),
		RunID:        opts.RunID,
		Stage:        opts.Stage,
		ItemKey:      opts.ItemKey,
		PromptKey:    opts.PromptKey,
		PromptCID:    opts.PromptCID,
		Provider:     result.Provider,
		Model:        result.ModelUsed,
		InputTokens:  result.PromptTokens,
		OutputTokens: result.CompletionTokens,
		Response:     result.Content,
		Success:      result.Success,
		Temperature:  opts.Temperature,
	}

	if !result.Success {
		call.Error = result.ErrorMessage
	}

	return call
}

// ToMap converts the Call to a column map for storage.
func (c *Call) ToMap() map[string]any {
	m := map[string]any{
		"id":            c.ID,
		"timestamp":     c.Timestamp.UTC().Format(time.RFC3339Nano),
		"latency_ms":    c.LatencyMs,
		"prompt_key":    c.PromptKey,
		"provider":      c.Provider,
		"model":         c.Model,
		"input_tokens":  c.InputTokens,
		"output_tokens": c.OutputTokens,
		"response":      c.Response,
		"success":       c.Success,
	}

	if c.RunID != "" {
		m["run_id"] = c.RunID
	}
	if c.Stage != "" {
		m["stage"] = c.Stage
	}
	if c.ItemKey != "" {
		m["item_key"] = c.ItemKey
	}
	if c.PromptCID != "" {
		m["prompt_cid"] = c.PromptCID
	}
	if c.Temperature != nil {
		m["temperature"] = *c.Temperature
	}
	if c.Error != "" {
		m["error"] = c.Error
	}

	return m
}
