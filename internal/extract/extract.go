// Package extract turns OCR text into a structured record by prompting the
// model service with the document's schema. It also asks the model for
// per-field confidence and for corrections of validation errors.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/docextract/internal/confidence"
	"github.com/jackzampolin/docextract/internal/modelsvc"
	"github.com/jackzampolin/docextract/internal/prompts"
	"github.com/jackzampolin/docextract/internal/providers"
	"github.com/jackzampolin/docextract/internal/record"
	"github.com/jackzampolin/docextract/internal/types"
)

// Stage names used for metrics and call records.
const (
	StageExtract    = "extract"
	StageConfidence = "score"
	StageCorrect    = "correct"
)

const (
	// DefaultConfidenceMaxTokens caps the confidence assessment answer.
	DefaultConfidenceMaxTokens = 512
	// DefaultConfidence replaces missing or invalid model scores.
	DefaultConfidence = 0.5
	// DefaultWorkers bounds concurrent self-consistency attempts.
	DefaultWorkers = 3
)

// ErrNotObject is returned when the model's JSON is valid but not an object.
var ErrNotObject = errors.New("model output is not a JSON object")

// Result is the outcome of a single extraction.
type Result struct {
	Record   record.Record `json:"data"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Salvaged bool          `json:"salvaged,omitempty"`
	Model    string        `json:"model,omitempty"`
}

// Extractor prompts the model service for structured records.
type Extractor struct {
	model               modelsvc.Caller
	prompts             *prompts.Builder
	workers             int
	consensus           Consensus
	confidenceMaxTokens int
	logger              *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithPrompts sets the prompt builder.
func WithPrompts(b *prompts.Builder) Option {
	return func(e *Extractor) { e.prompts = b }
}

// WithWorkers bounds concurrent self-consistency attempts.
func WithWorkers(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithConsensus selects how self-consistency attempts are merged.
func WithConsensus(c Consensus) Option {
	return func(e *Extractor) {
		if c != "" {
			e.consensus = c
		}
	}
}

// WithConfidenceMaxTokens caps the confidence assessment answer.
func WithConfidenceMaxTokens(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.confidenceMaxTokens = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Extractor. Without WithPrompts it uses the embedded templates.
func New(model modelsvc.Caller, opts ...Option) (*Extractor, error) {
	if model == nil {
		return nil, fmt.Errorf("extractor requires a model service")
	}
	e := &Extractor{
		model:               model,
		workers:             DefaultWorkers,
		consensus:           FirstSuccess,
		confidenceMaxTokens: DefaultConfidenceMaxTokens,
		logger:              slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if !e.consensus.IsValid() {
		return nil, fmt.Errorf("unknown consensus policy %q", e.consensus)
	}
	if e.prompts == nil {
		b, err := prompts.NewBuilder(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to load prompts: %w", err)
		}
		e.prompts = b
	}
	return e, nil
}

// ExtractStructured runs a single extraction.
func (e *Extractor) ExtractStructured(ctx context.Context, text string, docType types.DocumentType, schema json.RawMessage) Result {
	return e.attempt(ctx, text, docType, schema, -1)
}

// attempt runs one extraction; variation < 0 uses the single-shot prompt.
func (e *Extractor) attempt(ctx context.Context, text string, docType types.DocumentType, schema json.RawMessage, variation int) Result {
	p, err := e.prompts.Extraction(text, docType, schema, variation)
	if err != nil {
		return Result{Error: err.Error()}
	}

	resp, err := e.model.Call(ctx, modelsvc.Request{
		Key:    p.Key,
		CID:    p.CID,
		Prompt: p.Text,
		Stage:  StageExtract,
		JSON:   true,
	})
	if err != nil {
		e.logger.Warn("extraction call failed", "doc_type", docType, "key", p.Key, "error", err)
		return Result{Error: err.Error()}
	}

	rec, salvaged, err := parseRecord(resp.Text)
	if err != nil {
		e.logger.Warn("invalid extraction response", "doc_type", docType, "key", p.Key, "error", err)
		return Result{Error: fmt.Sprintf("Invalid JSON response: %v", err), Model: resp.Model}
	}
	if salvaged {
		e.logger.Debug("JSON extracted from mixed response", "key", p.Key)
	}

	rec.EnsureDocumentType(docType.String())
	return Result{Record: rec, Success: true, Salvaged: salvaged, Model: resp.Model}
}

// parseRecord decodes model output into a record, salvaging JSON embedded in prose.
func parseRecord(text string) (record.Record, bool, error) {
	raw, salvaged, err := providers.ParseStructuredJSON(text)
	if err != nil {
		return nil, false, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, salvaged, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, salvaged, ErrNotObject
	}
	return record.Record(m), salvaged, nil
}

// AssessConfidence asks the model for per-field confidence. Scores that are
// not numbers in [0,1] become 0.5. On any failure every leaf of rec gets 0.5.
func (e *Extractor) AssessConfidence(ctx context.Context, text string, rec record.Record, docType types.DocumentType) confidence.FieldConfidence {
	p, err := e.prompts.Confidence(text, rec, docType)
	if err != nil {
		e.logger.Warn("failed to build confidence prompt", "error", err)
		return DefaultScores(rec)
	}

	resp, err := e.model.Call(ctx, modelsvc.Request{
		Key:       p.Key,
		CID:       p.CID,
		Prompt:    p.Text,
		MaxTokens: e.confidenceMaxTokens,
		Stage:     StageConfidence,
		JSON:      true,
	})
	if err != nil {
		e.logger.Warn("confidence assessment failed", "error", err)
		return DefaultScores(rec)
	}

	raw, _, err := providers.ParseStructuredJSON(resp.Text)
	if err != nil {
		e.logger.Warn("failed to parse confidence response", "error", err)
		return DefaultScores(rec)
	}
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		e.logger.Warn("confidence response is not an object", "error", err)
		return DefaultScores(rec)
	}

	scores := make(confidence.FieldConfidence, len(parsed))
	for path, v := range parsed {
		f, ok := v.(float64)
		if !ok || f < 0 || f > 1 {
			f = DefaultConfidence
		}
		scores[path] = f
	}
	return scores
}

// DefaultScores assigns 0.5 to every leaf of rec.
func DefaultScores(rec record.Record) confidence.FieldConfidence {
	scores := make(confidence.FieldConfidence)
	for _, p := range record.Leaves(rec) {
		scores[p.String()] = DefaultConfidence
	}
	return scores
}

// FixValidationErrors asks the model to correct rec. Any failure returns rec unchanged.
func (e *Extractor) FixValidationErrors(ctx context.Context, rec record.Record, errs []string) record.Record {
	if len(errs) == 0 {
		return rec
	}

	p, err := e.prompts.Correction(rec, errs)
	if err != nil {
		e.logger.Warn("failed to build correction prompt", "error", err)
		return rec
	}

	resp, err := e.model.Call(ctx, modelsvc.Request{
		Key:    p.Key,
		CID:    p.CID,
		Prompt: p.Text,
		Stage:  StageCorrect,
		JSON:   true,
	})
	if err != nil {
		e.logger.Warn("validation fix failed", "error", err)
		return rec
	}

	fixed, _, err := parseRecord(resp.Text)
	if err != nil {
		e.logger.Warn("failed to parse fixed record", "error", err)
		return rec
	}
	if dt := rec.DocumentType(); dt != "" {
		fixed.EnsureDocumentType(dt)
	}
	return fixed
}
