package pipeline

import (
	"context"
)

// Stage names, in execution order.
const (
	StageOCR      = "ocr"
	StageClassify = "classify"
	StageExtract  = "extract"
	StageScore    = "score"
	StageValidate = "validate"
	StageCorrect  = "correct"
)

// Stage is one step of document processing. Stages share state through the
// Document they are given.
type Stage interface {
	// Identity
	Name() string           // e.g., "classify", "extract"
	Dependencies() []string // Stages that must complete first

	Description() string

	// Run advances doc. A returned error stops the document.
	Run(ctx context.Context, doc *Document) error
}

// Skipper is implemented by stages that do not always apply.
type Skipper interface {
	Skip(doc *Document) bool
}
