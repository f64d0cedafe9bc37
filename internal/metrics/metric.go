// Package metrics provides cost, token and latency tracking for model and OCR calls.
package metrics

import "time"

// Metric represents a single recorded model or OCR call.
type Metric struct {
	// Attribution (for filtering/aggregation)
	RunID   string `json:"run_id,omitempty"`
	Stage   string `json:"stage,omitempty"`    // e.g., "classify", "extract", "confidence"
	ItemKey string `json:"item_key,omitempty"` // e.g., "attempt_2", "fix_1"

	// Provider info
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Cost and tokens
	CostUSD          float64 `json:"cost_usd,omitempty"`
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`

	// Timing
	ExecutionSeconds float64 `json:"execution_seconds,omitempty"`
	TotalSeconds     float64 `json:"total_seconds,omitempty"`

	// Status
	Success   bool   `json:"success"`
	ErrorType string `json:"error_type,omitempty"`

	// Metadata
	CreatedAt time.Time `json:"created_at"`
}

// Filter selects metrics by attribution. Empty fields match anything.
type Filter struct {
	Stage    string
	Provider string
	Model    string
	Success  *bool // nil = any, true = success only, false = errors only
}

// Match reports whether m satisfies the filter.
func (f Filter) Match(m Metric) bool {
	if f.Stage != "" && m.Stage != f.Stage {
		return false
	}
	if f.Provider != "" && m.Provider != f.Provider {
		return false
	}
	if f.Model != "" && m.Model != f.Model {
		return false
	}
	if f.Success != nil && m.Success != *f.Success {
		return false
	}
	return true
}

// Select returns the metrics matching f, in their original order.
func Select(ms []Metric, f Filter) []Metric {
	var out []Metric
	for _, m := range ms {
		if f.Match(m) {
			out = append(out, m)
		}
	}
	return out
}
