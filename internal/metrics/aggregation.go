package metrics

import (
	"sort"
	"time"
)

// Summary provides the aggregate view of a run.
type Summary struct {
	TotalAPICalls  int                       `json:"total_api_calls"`
	TotalTokens    int                       `json:"total_tokens"`
	EstimatedCost  float64                   `json:"estimated_cost"`
	AverageLatency float64                   `json:"average_latency"`
	TotalErrors    int                       `json:"total_errors"`
	ErrorRate      float64                   `json:"error_rate"`
	Operations     map[string]OperationStats `json:"operations,omitempty"`
}

// OperationStats summarizes the timed runs of one pipeline operation.
type OperationStats struct {
	Count        int     `json:"count"`
	TotalSeconds float64 `json:"total_seconds"`
	AvgSeconds   float64 `json:"avg_seconds"`
}

// Summarize aggregates a slice of metrics.
func Summarize(ms []Metric) *Summary {
	s := &Summary{TotalAPICalls: len(ms)}
	var latency float64
	for _, m := range ms {
		s.TotalTokens += m.TotalTokens
		s.EstimatedCost += m.CostUSD
		latency += m.TotalSeconds
		if !m.Success {
			s.TotalErrors++
		}
	}
	if s.TotalAPICalls > 0 {
		s.AverageLatency = latency / float64(s.TotalAPICalls)
		s.ErrorRate = float64(s.TotalErrors) / float64(s.TotalAPICalls)
	}
	return s
}

func summarizeDurations(durations map[string][]time.Duration) map[string]OperationStats {
	if len(durations) == 0 {
		return nil
	}
	out := make(map[string]OperationStats, len(durations))
	for op, ds := range durations {
		var total time.Duration
		for _, d := range ds {
			total += d
		}
		st := OperationStats{Count: len(ds), TotalSeconds: total.Seconds()}
		if st.Count > 0 {
			st.AvgSeconds = st.TotalSeconds / float64(st.Count)
		}
		out[op] = st
	}
	return out
}

// DetailedStats provides comprehensive statistics including percentiles and token breakdowns.
type DetailedStats struct {
	// Basic counts
	Count        int `json:"count"`
	SuccessCount int `json:"success_count"`
	ErrorCount   int `json:"error_count"`

	// Cost
	TotalCostUSD float64 `json:"total_cost_usd"`
	AvgCostUSD   float64 `json:"avg_cost_usd"`

	// Latency percentiles (seconds)
	LatencyP50 float64 `json:"latency_p50"`
	LatencyP95 float64 `json:"latency_p95"`
	LatencyP99 float64 `json:"latency_p99"`
	LatencyAvg float64 `json:"latency_avg"`
	LatencyMin float64 `json:"latency_min"`
	LatencyMax float64 `json:"latency_max"`

	// Token stats
	TotalPromptTokens     int `json:"total_prompt_tokens"`
	TotalCompletionTokens int `json:"total_completion_tokens"`
	TotalTokens           int `json:"total_tokens"`

	AvgPromptTokens     float64 `json:"avg_prompt_tokens"`
	AvgCompletionTokens float64 `json:"avg_completion_tokens"`
	AvgTotalTokens      float64 `json:"avg_total_tokens"`
}

// Detailed computes latency percentiles and token breakdowns.
func Detailed(ms []Metric) *DetailedStats {
	stats := &DetailedStats{Count: len(ms)}
	if len(ms) == 0 {
		return stats
	}

	var latencies []float64
	for _, m := range ms {
		stats.TotalCostUSD += m.CostUSD
		if m.Success {
			stats.SuccessCount++
		} else {
			stats.ErrorCount++
		}
		stats.TotalPromptTokens += m.PromptTokens
		stats.TotalCompletionTokens += m.CompletionTokens
		stats.TotalTokens += m.TotalTokens
		if m.TotalSeconds > 0 {
			latencies = append(latencies, m.TotalSeconds)
		}
	}

	count := float64(stats.Count)
	stats.AvgCostUSD = stats.TotalCostUSD / count
	stats.AvgPromptTokens = float64(stats.TotalPromptTokens) / count
	stats.AvgCompletionTokens = float64(stats.TotalCompletionTokens) / count
	stats.AvgTotalTokens = float64(stats.TotalTokens) / count

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		stats.LatencyMin = latencies[0]
		stats.LatencyMax = latencies[len(latencies)-1]
		var sum float64
		for _, l := range latencies {
			sum += l
		}
		stats.LatencyAvg = sum / float64(len(latencies))
		stats.LatencyP50 = percentile(latencies, 50)
		stats.LatencyP95 = percentile(latencies, 95)
		stats.LatencyP99 = percentile(latencies, 99)
	}

	return stats
}

// percentile calculates the p-th percentile from a sorted slice of values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	n := float64(len(sorted))
	idx := (p / 100.0) * (n - 1)

	// Interpolate between floor and ceil indices
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// StageDetailedStats returns detailed stats grouped by stage.
func StageDetailedStats(ms []Metric) map[string]*DetailedStats {
	byStage := make(map[string][]Metric)
	for _, m := range ms {
		if m.Stage != "" {
			byStage[m.Stage] = append(byStage[m.Stage], m)
		}
	}
	result := make(map[string]*DetailedStats, len(byStage))
	for stage, stageMetrics := range byStage {
		result[stage] = Detailed(stageMetrics)
	}
	return result
}

// CostByModel returns total cost grouped by model.
func CostByModel(ms []Metric) map[string]float64 {
	out := make(map[string]float64)
	for _, m := range ms {
		if m.Model != "" {
			out[m.Model] += m.CostUSD
		}
	}
	return out
}

// CostByProvider returns total cost grouped by provider.
func CostByProvider(ms []Metric) map[string]float64 {
	out := make(map[string]float64)
	for _, m := range ms {
		if m.Provider != "" {
			out[m.Provider] += m.CostUSD
		}
	}
	return out
}
