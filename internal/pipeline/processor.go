// Package pipeline drives a document through OCR, classification,
// extraction, confidence scoring, validation and correction.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/docextract/internal/classify"
	"github.com/jackzampolin/docextract/internal/config"
	"github.com/jackzampolin/docextract/internal/confidence"
	"github.com/jackzampolin/docextract/internal/extract"
	"github.com/jackzampolin/docextract/internal/metrics"
	"github.com/jackzampolin/docextract/internal/modelsvc"
	"github.com/jackzampolin/docextract/internal/ocr"
	"github.com/jackzampolin/docextract/internal/prompts"
	"github.com/jackzampolin/docextract/internal/schema"
	"github.com/jackzampolin/docextract/internal/store"
	"github.com/jackzampolin/docextract/internal/types"
	"github.com/jackzampolin/docextract/internal/validate"
)

var (
	// ErrNoText is returned when OCR produced no usable text.
	ErrNoText = errors.New("no text extracted from document")
	// ErrExtractionFailed is returned when no extraction attempt produced a record.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrUnsupportedInput is returned for file types the reader cannot handle.
	ErrUnsupportedInput = ocr.ErrUnsupportedInput
)

// Config tunes a Processor.
type Config struct {
	SelfConsistency     bool
	SelfConsistencyRuns int
	Consensus           string
	Workers             int
	MaxFixAttempts      int
	ConfidenceThreshold float64
	ClassifyMaxTokens   int
	ConfidenceMaxTokens int
}

// ConfigFrom maps the application config onto processor settings.
func ConfigFrom(cfg *config.Config) Config {
	e := cfg.Extraction
	return Config{
		SelfConsistency:     e.SelfConsistency,
		SelfConsistencyRuns: e.SelfConsistencyRuns,
		Consensus:           e.Consensus,
		Workers:             e.Workers,
		MaxFixAttempts:      e.MaxFixAttempts,
		ConfidenceThreshold: cfg.Confidence.LowThreshold,
		ClassifyMaxTokens:   e.ClassifyMaxTokens,
		ConfidenceMaxTokens: e.ConfidenceMaxTokens,
	}
}

// ResultSaver persists finished results.
type ResultSaver interface {
	SaveResult(ctx context.Context, r store.ResultRow) error
}

// Processor runs documents through the registered stages. A Processor may be
// shared across goroutines; each document carries its own state.
type Processor struct {
	cfg    Config
	model  modelsvc.Caller
	reader *ocr.Reader

	prompts    *prompts.Builder
	classifier *classify.Classifier
	extractor  *extract.Extractor
	scorer     *confidence.Scorer
	schemas    *schema.Registry
	validator  *validate.Validator

	metrics *metrics.Recorder
	saver   ResultSaver
	logger  *slog.Logger

	registry *Registry
	stages   []Stage
}

// Option configures a Processor.
type Option func(*Processor)

// WithReader sets the OCR reader. The default reads text files only.
func WithReader(r *ocr.Reader) Option {
	return func(p *Processor) { p.reader = r }
}

// WithSchemas sets the schema registry. The default holds the embedded schemas.
func WithSchemas(s *schema.Registry) Option {
	return func(p *Processor) { p.schemas = s }
}

// WithPrompts sets the prompt builder shared by the model-backed stages.
func WithPrompts(b *prompts.Builder) Option {
	return func(p *Processor) { p.prompts = b }
}

// WithMetrics attaches the run's metrics recorder.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(p *Processor) { p.metrics = rec }
}

// WithStore saves every finished result.
func WithStore(s ResultSaver) Option {
	return func(p *Processor) { p.saver = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Processor that calls model for classification fallback,
// extraction, confidence and corrections.
func New(model modelsvc.Caller, cfg Config, opts ...Option) (*Processor, error) {
	if model == nil {
		return nil, fmt.Errorf("processor requires a model service")
	}
	p := &Processor{
		cfg:    cfg,
		model:  model,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	var err error
	if p.prompts == nil {
		if p.prompts, err = prompts.NewBuilder(nil); err != nil {
			return nil, fmt.Errorf("failed to load prompts: %w", err)
		}
	}
	if p.schemas == nil {
		if p.schemas, err = schema.NewRegistry(p.logger); err != nil {
			return nil, fmt.Errorf("failed to load schemas: %w", err)
		}
	}
	if p.reader == nil {
		p.reader = ocr.NewReader(ocr.WithLogger(p.logger), ocr.WithMetrics(p.metrics))
	}

	classifyOpts := []classify.Option{classify.WithPrompts(p.prompts), classify.WithLogger(p.logger)}
	if cfg.ClassifyMaxTokens > 0 {
		classifyOpts = append(classifyOpts, classify.WithMaxTokens(cfg.ClassifyMaxTokens))
	}
	p.classifier = classify.New(classifyOpts...)

	extractOpts := []extract.Option{
		extract.WithPrompts(p.prompts),
		extract.WithConsensus(consensusOf(cfg.Consensus)),
		extract.WithLogger(p.logger),
	}
	if cfg.Workers > 0 {
		extractOpts = append(extractOpts, extract.WithWorkers(cfg.Workers))
	}
	if cfg.ConfidenceMaxTokens > 0 {
		extractOpts = append(extractOpts, extract.WithConfidenceMaxTokens(cfg.ConfidenceMaxTokens))
	}
	if p.extractor, err = extract.New(model, extractOpts...); err != nil {
		return nil, err
	}

	p.scorer = confidence.New(cfg.ConfidenceThreshold)
	p.validator = validate.New(validate.WithSchemas(p.schemas), validate.WithLogger(p.logger))

	p.registry = NewRegistry()
	for _, s := range []Stage{
		ocrStage{p}, classifyStage{p}, extractStage{p},
		scoreStage{p}, validateStage{p}, correctStage{p},
	} {
		if err := p.registry.Register(s); err != nil {
			return nil, err
		}
	}
	if p.stages, err = p.registry.Ordered(); err != nil {
		return nil, err
	}
	return p, nil
}

// Stages returns the stages in execution order.
func (p *Processor) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

// Scorer returns the confidence scorer, for reporting low-confidence fields.
func (p *Processor) Scorer() *confidence.Scorer {
	return p.scorer
}

// Validator returns the record validator.
func (p *Processor) Validator() *validate.Validator {
	return p.validator
}

// Classifier returns the document classifier.
func (p *Processor) Classifier() *classify.Classifier {
	return p.classifier
}

// Reader returns the OCR reader.
func (p *Processor) Reader() *ocr.Reader {
	return p.reader
}

// Model returns the model service.
func (p *Processor) Model() modelsvc.Caller {
	return p.model
}

// Process runs one file through every stage. docType, when non-empty,
// overrides classification.
func (p *Processor) Process(ctx context.Context, path string, docType types.DocumentType) (*Result, error) {
	return p.run(ctx, &Document{InputFile: path, TypeOverride: docType})
}

// ProcessText runs already-extracted text through every stage after OCR.
func (p *Processor) ProcessText(ctx context.Context, text, source string, docType types.DocumentType) (*Result, error) {
	raw := &types.RawText{
		Text:       text,
		WordCount:  len(splitWords(text)),
		Confidence: 1,
		PageCount:  1,
		Engine:     ocr.EngineText,
		Source:     source,
	}
	return p.run(ctx, &Document{InputFile: source, TypeOverride: docType, Raw: raw})
}

func (p *Processor) run(ctx context.Context, doc *Document) (*Result, error) {
	doc.ID = uuid.New().String()
	doc.Timings = make(map[string]time.Duration, len(p.stages))

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if sk, ok := stage.(Skipper); ok && sk.Skip(doc) {
			p.logger.Debug("stage skipped", "stage", stage.Name(), "file", doc.InputFile)
			continue
		}

		start := time.Now()
		err := stage.Run(ctx, doc)
		elapsed := time.Since(start)
		doc.Timings[stage.Name()] = elapsed
		if p.metrics != nil {
			p.metrics.RecordDuration(stage.Name(), elapsed)
		}
		if err != nil {
			p.logger.Error("stage failed", "stage", stage.Name(), "file", doc.InputFile, "error", err)
			return nil, fmt.Errorf("%s: %w", stage.Name(), err)
		}
	}

	runID := ""
	if p.metrics != nil {
		runID = p.metrics.RunID()
	}
	res := doc.result(runID)
	p.save(ctx, res)
	return res, nil
}

// save writes the result to the store. Failures are logged, not returned.
func (p *Processor) save(ctx context.Context, res *Result) {
	if p.saver == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		p.logger.Warn("failed to encode result", "id", res.ID, "error", err)
		return
	}
	valid := res.ValidationResult != nil && res.ValidationResult.IsValid
	row := store.ResultRow{
		ID:                res.ID,
		RunID:             res.ProcessingMetadata.RunID,
		InputFile:         res.InputFile,
		DocumentType:      string(res.DocumentType),
		OverallConfidence: res.OverallConfidence,
		IsValid:           valid,
		CreatedAt:         res.CreatedAt,
		Data:              data,
	}
	if err := p.saver.SaveResult(ctx, row); err != nil {
		p.logger.Warn("failed to store result", "id", res.ID, "error", err)
	}
}

// Failure is a document that could not be processed.
type Failure struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// Batch is the outcome of one run over several files.
type Batch struct {
	RunID    string           `json:"run_id"`
	Results  []*Result        `json:"results"`
	Failures []Failure        `json:"failures,omitempty"`
	Metrics  *metrics.Summary `json:"metrics,omitempty"`
}

// ProcessAll processes files one after another as a single run. The metrics
// recorder is initialised before the first file and flushed after the last.
func (p *Processor) ProcessAll(ctx context.Context, paths []string, docType types.DocumentType) *Batch {
	b := &Batch{RunID: uuid.New().String()}
	if p.metrics != nil {
		p.metrics.Init(b.RunID)
	}

	for _, path := range paths {
		res, err := p.Process(ctx, path, docType)
		if err != nil {
			b.Failures = append(b.Failures, Failure{File: path, Error: err.Error()})
			if ctx.Err() != nil {
				break
			}
			continue
		}
		b.Results = append(b.Results, res)
	}

	if p.metrics != nil {
		// Flush after cancellation still saves what the run spent.
		summary, err := p.metrics.Flush(context.WithoutCancel(ctx))
		if err != nil {
			p.logger.Warn("failed to flush metrics", "run_id", b.RunID, "error", err)
		}
		b.Metrics = summary
	}
	return b
}
