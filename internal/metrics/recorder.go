package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/docextract/internal/providers"
)

// Sink persists the metrics of a finished run.
type Sink interface {
	SaveMetrics(ctx context.Context, runID string, ms []Metric) error
}

// Pricing estimates call cost when the provider does not report one.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Cost returns the estimated USD cost for the given token counts.
func (p Pricing) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*p.InputPer1K + float64(completionTokens)/1000*p.OutputPer1K
}

// Recorder is the per-run metrics context. Init starts a run and Flush ends it.
// It is safe for concurrent use by the stages of one run.
type Recorder struct {
	mu        sync.Mutex
	runID     string
	started   time.Time
	metrics   []Metric
	durations map[string][]time.Duration

	pricing Pricing
	sink    Sink
	logger  *slog.Logger
}

// NewRecorder creates a recorder. sink may be nil.
func NewRecorder(pricing Pricing, sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		pricing:   pricing,
		sink:      sink,
		logger:    logger,
		durations: make(map[string][]time.Duration),
	}
}

// Init resets the recorder for a new run.
func (r *Recorder) Init(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = runID
	r.started = time.Now()
	r.metrics = nil
	r.durations = make(map[string][]time.Duration)
}

// RunID returns the identifier passed to Init.
func (r *Recorder) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// RecordOpts provides context for a metric recording.
type RecordOpts struct {
	Stage   string
	ItemKey string
}

// Record appends a metric to the run.
func (r *Recorder) Record(m Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.RunID = r.runID
	r.metrics = append(r.metrics, m)
}

// RecordLLMCall records metrics from an LLM chat result.
func (r *Recorder) RecordLLMCall(opts RecordOpts, result *providers.ChatResult) error {
	if result == nil {
		return fmt.Errorf("nil chat result")
	}

	cost := result.CostUSD
	if cost == 0 {
		cost = r.pricing.Cost(result.PromptTokens, result.CompletionTokens)
	}

	r.Record(Metric{
		Stage:            opts.Stage,
		ItemKey:          opts.ItemKey,
		Provider:         result.Provider,
		Model:            result.ModelUsed,
		CostUSD:          cost,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		TotalTokens:      result.TotalTokens,
		ExecutionSeconds: result.ExecutionTime.Seconds(),
		TotalSeconds:     result.TotalTime.Seconds(),
		Success:          result.Success,
		ErrorType:        result.ErrorType,
	})
	return nil
}

// RecordOCRCall records metrics from an OCR result.
func (r *Recorder) RecordOCRCall(opts RecordOpts, provider string, result *providers.OCRResult) error {
	if result == nil {
		return fmt.Errorf("nil OCR result")
	}

	m := Metric{
		Stage:            opts.Stage,
		ItemKey:          opts.ItemKey,
		Provider:         provider,
		CostUSD:          result.CostUSD,
		ExecutionSeconds: result.ExecutionTime.Seconds(),
		TotalSeconds:     result.ExecutionTime.Seconds(),
		Success:          result.Success,
	}
	if result.ErrorMessage != "" {
		m.ErrorType = "ocr_error"
	}
	r.Record(m)
	return nil
}

// RecordError records a failed operation that produced no provider result.
func (r *Recorder) RecordError(opts RecordOpts, provider, model, errorType string, duration time.Duration) {
	r.Record(Metric{
		Stage:        opts.Stage,
		ItemKey:      opts.ItemKey,
		Provider:     provider,
		Model:        model,
		TotalSeconds: duration.Seconds(),
		ErrorType:    errorType,
	})
}

// RecordDuration records the wall time of one pipeline operation.
func (r *Recorder) RecordDuration(operation string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[operation] = append(r.durations[operation], d)
}

// Time starts timing an operation; call the returned func to record it.
//
//	defer rec.Time("classify")()
func (r *Recorder) Time(operation string) func() {
	start := time.Now()
	return func() { r.RecordDuration(operation, time.Since(start)) }
}

// Metrics returns a copy of the metrics recorded so far.
func (r *Recorder) Metrics() []Metric {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Metric, len(r.metrics))
	copy(out, r.metrics)
	return out
}

// Summary aggregates the run so far.
func (r *Recorder) Summary() *Summary {
	r.mu.Lock()
	ms := make([]Metric, len(r.metrics))
	copy(ms, r.metrics)
	durations := make(map[string][]time.Duration, len(r.durations))
	for k, v := range r.durations {
		durations[k] = append([]time.Duration(nil), v...)
	}
	r.mu.Unlock()

	s := Summarize(ms)
	s.Operations = summarizeDurations(durations)
	return s
}

// Flush logs the run summary and hands the metrics to the sink, if any.
func (r *Recorder) Flush(ctx context.Context) (*Summary, error) {
	s := r.Summary()
	runID := r.RunID()

	r.logger.Info("run metrics",
		"run_id", runID,
		"api_calls", s.TotalAPICalls,
		"tokens", s.TotalTokens,
		"estimated_cost", fmt.Sprintf("%.6f", s.EstimatedCost),
		"avg_latency_s", fmt.Sprintf("%.3f", s.AverageLatency),
		"errors", s.TotalErrors,
	)

	if r.sink == nil {
		return s, nil
	}
	if err := r.sink.SaveMetrics(ctx, runID, r.Metrics()); err != nil {
		return s, fmt.Errorf("failed to save metrics: %w", err)
	}
	return s, nil
}
