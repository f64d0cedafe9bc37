package pipeline

import (
	"time"

	"github.com/jackzampolin/docextract/internal/classify"
	"github.com/jackzampolin/docextract/internal/confidence"
	"github.com/jackzampolin/docextract/internal/extract"
	"github.com/jackzampolin/docextract/internal/record"
	"github.com/jackzampolin/docextract/internal/schema"
	"github.com/jackzampolin/docextract/internal/types"
	"github.com/jackzampolin/docextract/internal/validate"
)

// Extraction methods reported in processing metadata.
const (
	MethodSingle          = "single"
	MethodSelfConsistency = "self_consistency"
)

// Document is the working state of one input as it moves through the stages.
type Document struct {
	ID        string
	InputFile string

	// TypeOverride skips classification when set.
	TypeOverride types.DocumentType

	Raw            *types.RawText
	Classification classify.Classification
	Schema         *schema.Schema

	Extraction  ExtractionSummary
	Record      record.Record
	ModelScores confidence.FieldConfidence

	Scores      confidence.FieldConfidence
	Overall     float64
	Confidence  confidence.Summary
	Validation  *validate.Result
	Suggestions validate.Suggestions
	Corrections []CorrectionAttempt

	Timings map[string]time.Duration
}

// DocumentType is the resolved type of the document.
func (d *Document) DocumentType() types.DocumentType {
	return d.Classification.Type
}

// ExtractionSummary reports how the record was produced.
type ExtractionSummary struct {
	Method             string             `json:"method"`
	Consensus          extract.Consensus  `json:"consensus,omitempty"`
	Model              string             `json:"model,omitempty"`
	Salvaged           bool               `json:"salvaged,omitempty"`
	ConsistencyRate    float64            `json:"consistency_rate"`
	SuccessfulAttempts int                `json:"successful_attempts"`
	TotalAttempts      int                `json:"total_attempts"`
	FieldAgreement     map[string]float64 `json:"field_agreement,omitempty"`
	AttemptErrors      []string           `json:"attempt_errors,omitempty"`
}

// CorrectionAttempt is one round of the correction loop.
type CorrectionAttempt struct {
	Attempt      int      `json:"attempt"`
	ErrorsBefore []string `json:"errors_before"`
	ErrorsAfter  []string `json:"errors_after"`
	IsValid      bool     `json:"is_valid"`
	Changed      bool     `json:"changed"`
}

// Metadata describes how a result was produced.
type Metadata struct {
	ExtractionMethod string             `json:"extraction_method"`
	OCREngine        string             `json:"ocr_engine"`
	Model            string             `json:"model,omitempty"`
	RunID            string             `json:"run_id,omitempty"`
	StageSeconds     map[string]float64 `json:"stage_seconds,omitempty"`
}

// Result is the saved output for one document.
type Result struct {
	ID                 string                     `json:"id"`
	InputFile          string                     `json:"input_file"`
	DocumentType       types.DocumentType         `json:"document_type"`
	Classification     classify.Classification    `json:"classification"`
	OCRResult          *types.RawText             `json:"ocr_result"`
	ExtractedData      record.Record              `json:"extracted_data"`
	Extraction         ExtractionSummary          `json:"extraction"`
	ConfidenceScores   confidence.FieldConfidence `json:"confidence_scores"`
	OverallConfidence  float64                    `json:"overall_confidence"`
	ConfidenceSummary  confidence.Summary         `json:"confidence_summary"`
	ValidationResult   *validate.Result           `json:"validation_result"`
	Suggestions        validate.Suggestions       `json:"suggestions"`
	CorrectionAttempts []CorrectionAttempt        `json:"correction_attempts"`
	ProcessingMetadata Metadata                   `json:"processing_metadata"`
	CreatedAt          time.Time                  `json:"created_at"`
}

// result assembles the output for a finished document.
func (d *Document) result(runID string) *Result {
	engine := ""
	if d.Raw != nil {
		engine = d.Raw.Engine
	}
	secs := make(map[string]float64, len(d.Timings))
	for k, v := range d.Timings {
		secs[k] = v.Seconds()
	}
	corrections := d.Corrections
	if corrections == nil {
		corrections = []CorrectionAttempt{}
	}
	return &Result{
		ID:                 d.ID,
		InputFile:          d.InputFile,
		DocumentType:       d.DocumentType(),
		Classification:     d.Classification,
		OCRResult:          d.Raw,
		ExtractedData:      d.Record,
		Extraction:         d.Extraction,
		ConfidenceScores:   d.Scores,
		OverallConfidence:  d.Overall,
		ConfidenceSummary:  d.Confidence,
		ValidationResult:   d.Validation,
		Suggestions:        d.Suggestions,
		CorrectionAttempts: corrections,
		ProcessingMetadata: Metadata{
			ExtractionMethod: d.Extraction.Method,
			OCREngine:        engine,
			Model:            d.Extraction.Model,
			RunID:            runID,
			StageSeconds:     secs,
		},
		CreatedAt: time.Now().UTC(),
	}
}
