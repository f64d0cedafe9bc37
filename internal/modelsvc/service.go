// Package modelsvc is the prompt-in, text-out model service used by the
// classifier and extractor. It wraps a providers.LLMClient with rate limiting,
// per-call timeouts, bounded retries, metrics and call tracing.
package modelsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/jackzampolin/docextract/internal/llmcall"
	"github.com/jackzampolin/docextract/internal/metrics"
	"github.com/jackzampolin/docextract/internal/providers"
)

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("empty response from model")

// Caller is the model-service contract consumed by the pipeline stages.
type Caller interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// Request is a single prompt sent to the model.
type Request struct {
	// Key identifies the prompt for tracing (e.g. "classify", "extract.attempt_2").
	Key string
	// CID is the content hash of the prompt template.
	CID    string
	Prompt string

	// Zero values use the service defaults.
	MaxTokens   int
	Temperature *float64

	// JSON asks the provider for a JSON object response where supported.
	JSON bool

	// Stage attributes metrics and call records.
	Stage string
}

// Response is the model's answer.
type Response struct {
	Text         string
	Latency      time.Duration
	InputTokens  int
	OutputTokens int
	Model        string
	Provider     string
	CostUSD      float64
	Attempts     int
}

// Config holds call defaults and resilience settings.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	CallTimeout time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	// RateLimit is in requests per second.
	RateLimit float64
}

// Service calls a model on behalf of the pipeline. It is safe for concurrent use.
type Service struct {
	client  providers.LLMClient
	cfg     Config
	limiter *providers.RateLimiter
	metrics *metrics.Recorder
	calls   *llmcall.Recorder
	runID   func() string
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records every attempt into rec.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
			s.runID = rec.RunID
		}
	}
}

// WithCallRecorder traces every attempt through rec.
func WithCallRecorder(rec *llmcall.Recorder) Option {
	return func(s *Service) { s.calls = rec }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRateLimiter shares a limiter between services that hit the same provider.
func WithRateLimiter(l *providers.RateLimiter) Option {
	return func(s *Service) {
		if l != nil {
			s.limiter = l
		}
	}
}

// New creates a Service around client.
func New(client providers.LLMClient, cfg Config, opts ...Option) *Service {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	s := &Service{
		client:  client,
		cfg:     cfg,
		limiter: providers.NewRateLimiter(cfg.RateLimit),
		runID:   func() string { return "" },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the underlying provider name.
func (s *Service) Name() string {
	return s.client.Name()
}

// Limiter returns the rate limiter guarding the provider.
func (s *Service) Limiter() *providers.RateLimiter {
	return s.limiter
}

// Call sends req to the model. Transient failures (rate limits, timeouts,
// 5xx responses, dropped connections) are retried up to MaxRetries times.
func (s *Service) Call(ctx context.Context, req Request) (*Response, error) {
	temperature := s.cfg.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := s.cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	start := time.Now()
	attempt := 0

	result, err := retry.DoWithData(
		func() (*providers.ChatResult, error) {
			attempt++
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, retry.Unrecoverable(fmt.Errorf("rate limit wait cancelled: %w", err))
			}

			callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
			defer cancel()

			chatReq := &providers.ChatRequest{
				Messages:    []providers.Message{{Role: "user", Content: req.Prompt}},
				Model:       s.cfg.Model,
				Temperature: temperature,
				MaxTokens:   maxTokens,
				RequestID:   uuid.New().String(),
			}
			if req.JSON {
				chatReq.ResponseFormat = providers.JSONObject
			}
			res, err := s.client.Chat(callCtx, chatReq)
			s.record(req, attempt, temperature, res, err)

			if err != nil {
				if ctx.Err() != nil || !s.isRetriableError(err) {
					return nil, retry.Unrecoverable(err)
				}
				return nil, err
			}
			if res == nil || strings.TrimSpace(res.Content) == "" {
				return nil, retry.Unrecoverable(ErrEmptyResponse)
			}
			return res, nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(s.cfg.MaxRetries+1)),
		retry.Delay(s.cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("model call failed, retrying",
				"prompt_key", req.Key,
				"attempt", n+1,
				"error", err)
		}),
	)
	if err != nil {
		s.logger.Debug("model call failed",
			"prompt_key", req.Key,
			"attempts", attempt,
			"error", err)
		return nil, fmt.Errorf("model call %s failed: %w", req.Key, err)
	}

	latency := time.Since(start)
	s.logger.Debug("model call complete",
		"prompt_key", req.Key,
		"model", result.ModelUsed,
		"latency_ms", latency.Milliseconds(),
		"attempts", attempt)

	return &Response{
		Text:         result.Content,
		Latency:      latency,
		InputTokens:  result.PromptTokens,
		OutputTokens: result.CompletionTokens,
		Model:        result.ModelUsed,
		Provider:     result.Provider,
		CostUSD:      result.CostUSD,
		Attempts:     attempt,
	}, nil
}

// record feeds one attempt to the metrics and call recorders.
func (s *Service) record(req Request, attempt int, temperature float64, res *providers.ChatResult, err error) {
	if res == nil {
		res = &providers.ChatResult{Provider: s.client.Name(), ModelUsed: s.cfg.Model}
	}
	if err != nil {
		res.Success = false
		if res.ErrorMessage == "" {
			res.ErrorMessage = err.Error()
		}
		if res.ErrorType == "" {
			res.ErrorType = errorType(err)
		}
	}

	itemKey := req.Key
	if attempt > 1 {
		itemKey = fmt.Sprintf("%s#%d", req.Key, attempt)
	}
	if s.metrics != nil {
		_ = s.metrics.RecordLLMCall(metrics.RecordOpts{Stage: req.Stage, ItemKey: itemKey}, res)
	}
	s.calls.Record(res, llmcall.RecordOptions{
		RunID:       s.runID(),
		Stage:       req.Stage,
		ItemKey:     itemKey,
		PromptKey:   req.Key,
		PromptCID:   req.CID,
		Temperature: &temperature,
	})
}

// isRetriableError classifies provider errors. Rate limits also pause the limiter.
func (s *Service) isRetriableError(err error) bool {
	if rle, ok := providers.IsRateLimitError(err); ok {
		s.limiter.Record429(rle.RetryAfter)
		s.logger.Debug("rate limit hit, backing off", "retry_after", rle.RetryAfter)
		return true
	}
	return providers.IsRetryable(err)
}

func errorType(err error) string {
	switch {
	case providers.IsRateLimited(err):
		return "rate_limit"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "context_cancelled"
	case providers.IsRetryable(err):
		return "transient"
	default:
		return "api_error"
	}
}
