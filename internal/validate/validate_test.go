package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/docextract/internal/record"
	"github.com/jackzampolin/docextract/internal/schema"
	"github.com/jackzampolin/docextract/internal/types"
)

func validInvoice() record.Record {
	return record.Record{
		"document_type":  "invoice",
		"invoice_number": "INV-2024-001",
		"date":           "2024-01-15",
		"due_date":       "2024-02-15",
		"vendor":         map[string]any{"name": "Acme Corp"},
		"items": []any{
			map[string]any{"description": "Widget", "quantity": 10.0, "unit_price": 150.0, "total": 1500.0},
		},
		"subtotal":     1500.0,
		"tax_amount":   120.0,
		"total_amount": 1620.0,
		"currency":     "USD",
	}
}

func hasMessage(msgs []string, parts ...string) bool {
	for _, m := range msgs {
		ok := true
		for _, p := range parts {
			if !strings.Contains(m, p) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func TestValidate_ValidInvoice(t *testing.T) {
	res := New().Validate(validInvoice(), types.DocInvoice)
	if !res.IsValid || len(res.Errors) != 0 {
		t.Fatalf("IsValid = %v, errors = %v", res.IsValid, res.Errors)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
	if fv := res.FieldValidations["date"]; !fv.IsValid || fv.Type != KindDate {
		t.Errorf("date validation = %+v", fv)
	}
}

func TestValidate_MissingRequiredField(t *testing.T) {
	for _, field := range []string{"invoice_number", "date", "vendor", "total_amount"} {
		t.Run(field, func(t *testing.T) {
			rec := validInvoice()
			delete(rec, field)
			res := New().Validate(rec, types.DocInvoice)
			if res.IsValid {
				t.Fatal("expected invalid")
			}
			if !hasMessage(res.Errors, field) {
				t.Errorf("errors %v do not mention %s", res.Errors, field)
			}
		})
	}

	t.Run("empty string counts as missing", func(t *testing.T) {
		rec := validInvoice()
		rec["invoice_number"] = ""
		res := New().Validate(rec, types.DocInvoice)
		if !hasMessage(res.Errors, "Required field 'invoice_number' is missing or empty") {
			t.Errorf("errors = %v", res.Errors)
		}
	})
}

func TestValidate_ItemArithmeticWarning(t *testing.T) {
	rec := validInvoice()
	rec["items"] = []any{
		map[string]any{"description": "Widget", "quantity": 10.0, "unit_price": 150.0, "total": 1400.0},
	}
	rec["subtotal"] = 1400.0
	rec["total_amount"] = 1520.0

	res := New().Validate(rec, types.DocInvoice)
	if !res.IsValid {
		t.Fatalf("warnings must not invalidate: %v", res.Errors)
	}
	if !hasMessage(res.Warnings, "1500.00", "1400.00") {
		t.Errorf("warnings = %v, want calculated 1500.00 vs stated 1400.00", res.Warnings)
	}
}

func TestValidate_InvoiceTotals(t *testing.T) {
	rec := validInvoice()
	rec["subtotal"] = 1600.0
	rec["total_amount"] = 1700.0

	res := New().Validate(rec, types.DocInvoice)
	if !hasMessage(res.Warnings, "Calculated subtotal (1500.00)", "(1600.00)") {
		t.Errorf("missing subtotal warning: %v", res.Warnings)
	}
	if !hasMessage(res.Warnings, "Calculated total (1720.00)", "(1700.00)") {
		t.Errorf("missing total warning: %v", res.Warnings)
	}
}

func TestValidate_NonNumericArithmeticIsSkipped(t *testing.T) {
	rec := validInvoice()
	rec["items"] = []any{
		map[string]any{"description": "Widget", "quantity": "ten", "unit_price": 150.0, "total": 1400.0},
	}
	rec["subtotal"] = "n/a"

	res := New().Validate(rec, types.DocInvoice)
	for _, w := range res.Warnings {
		if strings.Contains(w, "calculated") || strings.Contains(w, "Calculated") {
			t.Errorf("unexpected arithmetic warning: %s", w)
		}
	}
	if !hasMessage(res.Errors, "Item 0, field 'quantity'") {
		t.Errorf("errors = %v, want quantity amount error", res.Errors)
	}
}

func TestValidate_DueDateBeforeDate(t *testing.T) {
	rec := validInvoice()
	rec["due_date"] = "2024-01-01"
	res := New().Validate(rec, types.DocInvoice)
	if !hasMessage(res.Errors, "Due date cannot be before invoice date") {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestValidate_Bill(t *testing.T) {
	bill := func() record.Record {
		return record.Record{
			"bill_number":      "ACC-1",
			"statement_date":   "2024-03-01",
			"service_provider": map[string]any{"name": "City Power"},
			"previous_balance": 100.0,
			"current_charges":  50.0,
			"payments":         100.0,
			"total_amount_due": 50.0,
		}
	}

	if res := New().Validate(bill(), types.DocBill); !res.IsValid || len(res.Warnings) != 0 {
		t.Errorf("valid bill: errors %v warnings %v", res.Errors, res.Warnings)
	}

	rec := bill()
	delete(rec, "payments")
	res := New().Validate(rec, types.DocBill)
	if !hasMessage(res.Warnings, "Calculated total due (150.00)", "(50.00)") {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestValidate_Prescription(t *testing.T) {
	rec := record.Record{
		"prescription_number": "RX-1",
		"date_prescribed":     "2024-03-01",
		"doctor":              map[string]any{"name": "Dr. Who"},
		"patient":             map[string]any{"name": "Amy"},
		"medications":         []any{},
	}
	res := New().Validate(rec, types.DocPrescription)
	if !hasMessage(res.Errors, "At least one medication is required") {
		t.Errorf("errors = %v", res.Errors)
	}

	rec["medications"] = []any{map[string]any{"name": "Amoxicillin", "strength": "500mg", "quantity": 30.0}}
	res = New().Validate(rec, types.DocPrescription)
	if !hasMessage(res.Errors, "Medication 0: missing required field 'directions'") {
		t.Errorf("errors = %v", res.Errors)
	}
	if len(res.Errors) != 1 {
		t.Errorf("errors = %v, want only directions", res.Errors)
	}
}

func TestValidate_UnknownTypeRunsCommonChecks(t *testing.T) {
	res := New().Validate(record.Record{"currency": "XYZ"}, types.DocumentType("receipt"))
	if res.IsValid || !hasMessage(res.Errors, "Unknown currency code: XYZ") {
		t.Errorf("result = %+v", res)
	}
}

func TestValidate_SchemaWarnings(t *testing.T) {
	schemas, err := schema.NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	rec := validInvoice()
	rec["items"] = "not a list"

	res := New(WithSchemas(schemas)).Validate(rec, types.DocInvoice)
	if !res.IsValid {
		t.Errorf("schema findings must not invalidate: %v", res.Errors)
	}
	if !hasMessage(res.Warnings, "Schema:") {
		t.Errorf("warnings = %v, want a schema warning", res.Warnings)
	}
}

func TestFieldRules(t *testing.T) {
	defer func(orig func() time.Time) { now = orig }(now)
	now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		kind    FieldKind
		value   any
		valid   bool
		message string
	}{
		{KindDate, "2024-01-15", true, ""},
		{KindDate, "03/15/2024", true, ""},
		{KindDate, "15/03/2024", true, ""},
		{KindDate, "15-03-2024", true, ""},
		{KindDate, "2024-13-45", false, "Invalid date format"},
		{KindDate, "1850-01-01", false, "seems unreasonable"},
		{KindDate, "2040-01-01", false, "seems unreasonable"},
		{KindDate, "  ", false, "cannot be empty"},
		{KindDate, 20240115.0, false, "must be a string"},
		{KindAmount, 0.0, true, ""},
		{KindAmount, -1.0, false, "cannot be negative"},
		{KindAmount, "$1,500.00", true, ""},
		{KindAmount, "-$5", false, "cannot be negative"},
		{KindAmount, "abc", false, "Invalid amount format"},
		{KindAmount, nil, false, "cannot be null"},
		{KindAmount, true, false, "must be a number"},
		{KindNumber, "INV-1", true, ""},
		{KindNumber, strings.Repeat("9", 51), false, "too long"},
		{KindNumber, 12.0, false, "must be a string"},
		{KindEmail, "a.b@example.com", true, ""},
		{KindEmail, "a@b", false, "Invalid email format"},
		{KindPhone, "(555) 123-4567", true, ""},
		{KindPhone, "+1 555 123 4567", true, ""},
		{KindPhone, "12345", false, "Invalid phone format"},
		{KindCurrency, "usd", true, ""},
		{KindCurrency, "BTC", false, "Unknown currency code"},
	}
	for _, tt := range tests {
		valid, msg := Rules[tt.kind](tt.value)
		if valid != tt.valid {
			t.Errorf("%s(%v) valid = %v, want %v (%s)", tt.kind, tt.value, valid, tt.valid, msg)
		}
		if tt.message != "" && !strings.Contains(msg, tt.message) {
			t.Errorf("%s(%v) message = %q, want %q", tt.kind, tt.value, msg, tt.message)
		}
	}
}

func TestSuggestCorrections(t *testing.T) {
	rec := validInvoice()
	rec["date"] = "3/5/2024x"
	rec["due_date"] = "someday"
	rec["total_amount"] = "-$1,620.00"
	rec["tax_amount"] = -120.0
	delete(rec, "invoice_number")
	delete(rec, "subtotal")

	res := New().Validate(rec, types.DocInvoice)
	got := SuggestCorrections(rec, res)

	wantFields := map[string]string{
		"date":         "Try format: 2024-03-05",
		"due_date":     "Use YYYY-MM-DD format (e.g., 2024-03-15)",
		"total_amount": "Use positive value: 1620",
		"tax_amount":   "Use positive value: 120",
	}
	for f, want := range wantFields {
		if got.FieldCorrections[f] != want {
			t.Errorf("FieldCorrections[%s] = %q, want %q", f, got.FieldCorrections[f], want)
		}
	}

	wantGeneral := []string{hintCompleteness, hintDateFormat, hintPositive}
	if len(got.GeneralSuggestions) != len(wantGeneral) {
		t.Fatalf("GeneralSuggestions = %v", got.GeneralSuggestions)
	}
	for i := range wantGeneral {
		if got.GeneralSuggestions[i] != wantGeneral[i] {
			t.Errorf("GeneralSuggestions[%d] = %q, want %q", i, got.GeneralSuggestions[i], wantGeneral[i])
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if got := r.Types(); len(got) != 3 {
		t.Errorf("Types() = %v", got)
	}
	if _, ok := r.Get(types.DocBill); !ok {
		t.Error("bill validator missing")
	}
	if got := New().RequiredFields(types.DocPrescription); len(got) != 5 {
		t.Errorf("RequiredFields = %v", got)
	}
}

func TestSuggestCorrections_NilResult(t *testing.T) {
	got := SuggestCorrections(nil, nil)
	if len(got.FieldCorrections) != 0 || len(got.GeneralSuggestions) != 0 {
		t.Errorf("SuggestCorrections(nil, nil) = %+v", got)
	}
}
