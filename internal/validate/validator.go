// Package validate checks extracted records for required fields, field
// formats and arithmetic consistency, and suggests corrections.
package validate

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jackzampolin/docextract/internal/record"
	"github.com/jackzampolin/docextract/internal/schema"
	"github.com/jackzampolin/docextract/internal/types"
)

// DocumentValidator holds the checks for one document type.
type DocumentValidator interface {
	Type() types.DocumentType
	RequiredFields() []string
	Validate(rec record.Record, res *Result)
}

// Registry maps document types to validators.
type Registry struct {
	mu         sync.RWMutex
	validators map[types.DocumentType]DocumentValidator
}

// NewRegistry returns a registry with the invoice, bill and prescription validators.
func NewRegistry() *Registry {
	r := &Registry{validators: make(map[types.DocumentType]DocumentValidator)}
	r.Register(Invoice{})
	r.Register(Bill{})
	r.Register(Prescription{})
	return r
}

// Register adds or replaces the validator for v.Type().
func (r *Registry) Register(v DocumentValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[v.Type()] = v
}

// Get returns the validator for docType.
func (r *Registry) Get(docType types.DocumentType) (DocumentValidator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[docType]
	return v, ok
}

// Types lists registered types, sorted.
func (r *Registry) Types() []types.DocumentType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.DocumentType, 0, len(r.validators))
	for t := range r.validators {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validator runs type-specific, common and optional schema checks.
type Validator struct {
	registry *Registry
	schemas  *schema.Registry
	logger   *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithRegistry replaces the default validator registry.
func WithRegistry(r *Registry) Option {
	return func(v *Validator) { v.registry = r }
}

// WithSchemas adds JSON Schema conformance warnings.
func WithSchemas(s *schema.Registry) Option {
	return func(v *Validator) { v.schemas = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// New creates a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{
		registry: NewRegistry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Registry returns the validator registry.
func (v *Validator) Registry() *Registry {
	return v.registry
}

// Validate checks rec as docType. Unknown types get only the common checks.
func (v *Validator) Validate(rec record.Record, docType types.DocumentType) *Result {
	start := time.Now()
	res := NewResult()

	if dv, ok := v.registry.Get(docType); ok {
		dv.Validate(rec, res)
	} else {
		v.logger.Debug("no validator for document type", "doc_type", docType)
	}

	CheckField(rec, "currency", KindCurrency, res)
	v.checkSchema(rec, docType, res)

	res.finish()
	v.logger.Debug("validation complete",
		"doc_type", docType,
		"is_valid", res.IsValid,
		"errors", len(res.Errors),
		"warnings", len(res.Warnings),
		"elapsed_ms", time.Since(start).Milliseconds())
	return res
}

// RequiredFields returns the required fields for docType, or nil.
func (v *Validator) RequiredFields(docType types.DocumentType) []string {
	if dv, ok := v.registry.Get(docType); ok {
		return dv.RequiredFields()
	}
	return nil
}

func (v *Validator) checkSchema(rec record.Record, docType types.DocumentType, res *Result) {
	if v.schemas == nil {
		return
	}
	violations, err := v.schemas.Validate(docType, rec)
	if err != nil {
		v.logger.Debug("schema check skipped", "doc_type", docType, "error", err)
		return
	}
	for _, viol := range violations {
		res.AddWarning(fmt.Sprintf("Schema: %s", viol))
	}
}
