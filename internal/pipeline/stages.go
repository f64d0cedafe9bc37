package pipeline

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jackzampolin/docextract/internal/classify"
	"github.com/jackzampolin/docextract/internal/confidence"
	"github.com/jackzampolin/docextract/internal/extract"
	"github.com/jackzampolin/docextract/internal/validate"
)

// ocrStage turns the input file into text.
type ocrStage struct{ p *Processor }

func (s ocrStage) Name() string           { return StageOCR }
func (s ocrStage) Dependencies() []string { return nil }
func (s ocrStage) Description() string    { return "Read text from the input file" }

func (s ocrStage) Skip(doc *Document) bool { return doc.Raw != nil }

func (s ocrStage) Run(ctx context.Context, doc *Document) error {
	raw, err := s.p.reader.Read(ctx, doc.InputFile)
	if err != nil {
		return err
	}
	doc.Raw = raw
	return nil
}

// classifyStage decides the document type and looks up its schema.
type classifyStage struct{ p *Processor }

func (s classifyStage) Name() string           { return StageClassify }
func (s classifyStage) Dependencies() []string { return []string{StageOCR} }
func (s classifyStage) Description() string    { return "Classify the document type" }

func (s classifyStage) Run(ctx context.Context, doc *Document) error {
	if doc.Raw.IsEmpty() {
		return fmt.Errorf("%w: %s", ErrNoText, doc.InputFile)
	}

	if doc.TypeOverride != "" {
		doc.Classification = classify.Classification{
			Type:       doc.TypeOverride,
			Confidence: 1,
			Method:     classify.MethodOverride,
		}
	} else {
		doc.Classification = s.p.classifier.Classify(ctx, doc.Raw.Text, s.p.model)
	}
	s.p.logger.Info("document classified",
		"file", doc.InputFile,
		"doc_type", doc.Classification.Type,
		"confidence", doc.Classification.Confidence,
		"method", doc.Classification.Method)

	sch, err := s.p.schemas.Get(doc.Classification.Type)
	if err != nil {
		return err
	}
	doc.Schema = sch
	return nil
}

// extractStage produces the structured record.
type extractStage struct{ p *Processor }

func (s extractStage) Name() string           { return StageExtract }
func (s extractStage) Dependencies() []string { return []string{StageClassify} }
func (s extractStage) Description() string    { return "Extract a structured record" }

func (s extractStage) Run(ctx context.Context, doc *Document) error {
	docType := doc.DocumentType()
	text := doc.Raw.Text

	runs := s.p.cfg.SelfConsistencyRuns
	if !s.p.cfg.SelfConsistency || runs < 2 {
		res := s.p.extractor.ExtractStructured(ctx, text, docType, doc.Schema.Raw)
		doc.Extraction = ExtractionSummary{
			Method:   MethodSingle,
			Model:    res.Model,
			Salvaged: res.Salvaged,
		}
		if !res.Success {
			doc.Extraction.TotalAttempts = 1
			doc.Extraction.AttemptErrors = []string{res.Error}
			return fmt.Errorf("%w: %s", ErrExtractionFailed, res.Error)
		}
		doc.Extraction.ConsistencyRate = 1
		doc.Extraction.SuccessfulAttempts = 1
		doc.Extraction.TotalAttempts = 1
		doc.Record = res.Record
		return nil
	}

	res := s.p.extractor.SelfConsistencyExtract(ctx, text, docType, doc.Schema.Raw, runs)
	doc.Extraction = ExtractionSummary{
		Method:             MethodSelfConsistency,
		Consensus:          res.Consensus,
		Model:              res.Model,
		ConsistencyRate:    res.ConsistencyRate,
		SuccessfulAttempts: res.SuccessfulAttempts,
		TotalAttempts:      res.TotalAttempts,
		FieldAgreement:     res.FieldAgreement,
	}
	for _, a := range res.Attempts {
		if !a.Success {
			doc.Extraction.AttemptErrors = append(doc.Extraction.AttemptErrors, fmt.Sprintf("attempt %d: %s", a.Index, a.Error))
		}
		if a.Success && a.Salvaged {
			doc.Extraction.Salvaged = true
		}
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrExtractionFailed, res.Error)
	}
	s.p.logger.Info("self-consistency extraction",
		"file", doc.InputFile,
		"consistency_rate", res.ConsistencyRate,
		"successful", res.SuccessfulAttempts,
		"total", res.TotalAttempts)
	doc.Record = res.Record
	return nil
}

// scoreStage assigns per-field confidence.
type scoreStage struct{ p *Processor }

func (s scoreStage) Name() string           { return StageScore }
func (s scoreStage) Dependencies() []string { return []string{StageExtract} }
func (s scoreStage) Description() string    { return "Score field confidence" }

func (s scoreStage) Run(ctx context.Context, doc *Document) error {
	doc.ModelScores = s.p.extractor.AssessConfidence(ctx, doc.Raw.Text, doc.Record, doc.DocumentType())
	s.p.rescore(doc)
	return nil
}

// validateStage checks the record and derives correction hints.
type validateStage struct{ p *Processor }

func (s validateStage) Name() string           { return StageValidate }
func (s validateStage) Dependencies() []string { return []string{StageScore} }
func (s validateStage) Description() string    { return "Validate the record" }

func (s validateStage) Run(_ context.Context, doc *Document) error {
	doc.Validation = s.p.validator.Validate(doc.Record, doc.DocumentType())
	doc.Suggestions = validate.SuggestCorrections(doc.Record, doc.Validation)
	return nil
}

// correctStage asks the model to repair an invalid record, re-validating
// after every round.
type correctStage struct{ p *Processor }

func (s correctStage) Name() string           { return StageCorrect }
func (s correctStage) Dependencies() []string { return []string{StageValidate} }
func (s correctStage) Description() string    { return "Repair validation errors" }

func (s correctStage) Skip(doc *Document) bool {
	return s.p.cfg.MaxFixAttempts <= 0 || doc.Validation == nil || doc.Validation.IsValid
}

func (s correctStage) Run(ctx context.Context, doc *Document) error {
	changed := false
	for i := 1; i <= s.p.cfg.MaxFixAttempts && !doc.Validation.IsValid; i++ {
		before := doc.Validation.Errors
		fixed := s.p.extractor.FixValidationErrors(ctx, doc.Record, before)
		attempt := CorrectionAttempt{
			Attempt:      i,
			ErrorsBefore: before,
			Changed:      !reflect.DeepEqual(fixed, doc.Record),
		}
		if attempt.Changed {
			changed = true
			doc.Record = fixed
			doc.Validation = s.p.validator.Validate(doc.Record, doc.DocumentType())
		}
		attempt.ErrorsAfter = doc.Validation.Errors
		attempt.IsValid = doc.Validation.IsValid
		doc.Corrections = append(doc.Corrections, attempt)

		s.p.logger.Info("correction attempt",
			"file", doc.InputFile,
			"attempt", i,
			"changed", attempt.Changed,
			"is_valid", attempt.IsValid)
		if !attempt.Changed {
			break
		}
	}
	if changed {
		doc.Suggestions = validate.SuggestCorrections(doc.Record, doc.Validation)
		s.p.rescore(doc)
	}
	return nil
}

// rescore recomputes heuristic-fused scores for the current record.
func (p *Processor) rescore(doc *Document) {
	doc.Scores = p.scorer.ScoreRecord(doc.Record, doc.Raw.Text, doc.ModelScores)
	doc.Overall = confidence.OverallConfidence(doc.Scores, p.validator.RequiredFields(doc.DocumentType()))
	doc.Confidence = p.scorer.Summary(doc.Scores, doc.Overall)
}

var (
	_ Skipper = ocrStage{}
	_ Skipper = correctStage{}
	_ Stage   = extractStage{}
)

// consensusOf maps the configured policy name, falling back to first_success.
func consensusOf(name string) extract.Consensus {
	c := extract.Consensus(name)
	if !c.IsValid() {
		return extract.FirstSuccess
	}
	return c
}
