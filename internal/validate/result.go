package validate

// Result is the outcome of validating one record. Warnings never affect IsValid.
type Result struct {
	IsValid          bool                       `json:"is_valid"`
	Errors           []string                   `json:"errors"`
	Warnings         []string                   `json:"warnings"`
	FieldValidations map[string]FieldValidation `json:"field_validations"`
}

// FieldValidation records a typed check of one top-level field.
type FieldValidation struct {
	IsValid bool      `json:"is_valid"`
	Value   any       `json:"value"`
	Type    FieldKind `json:"type"`
	Message string    `json:"message,omitempty"`
}

// NewResult returns an empty, valid result.
func NewResult() *Result {
	return &Result{
		IsValid:          true,
		Errors:           []string{},
		Warnings:         []string{},
		FieldValidations: make(map[string]FieldValidation),
	}
}

// AddError records a validation error.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// AddWarning records a non-fatal finding.
func (r *Result) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (r *Result) finish() {
	r.IsValid = len(r.Errors) == 0
}

// Suggestions are correction hints derived from a Result.
type Suggestions struct {
	FieldCorrections   map[string]string `json:"field_corrections"`
	GeneralSuggestions []string          `json:"general_suggestions"`
}
