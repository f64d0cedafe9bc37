package schema

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/docextract/internal/types"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestNewRegistry_Embedded(t *testing.T) {
	r := newRegistry(t)

	tests := []struct {
		docType  types.DocumentType
		required []string
	}{
		{types.DocInvoice, []string{"invoice_number", "date", "vendor", "total_amount"}},
		{types.DocBill, []string{"bill_number", "statement_date", "service_provider", "total_amount_due"}},
		{types.DocPrescription, []string{"prescription_number", "date_prescribed", "doctor", "patient", "medications"}},
	}
	for _, tt := range tests {
		t.Run(tt.docType.String(), func(t *testing.T) {
			s, err := r.Get(tt.docType)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if strings.Join(s.Required, ",") != strings.Join(tt.required, ",") {
				t.Errorf("Required = %v, want %v", s.Required, tt.required)
			}
			if len(s.Raw) == 0 {
				t.Error("Raw is empty")
			}
		})
	}

	if got := len(r.Types()); got != 3 {
		t.Errorf("Types() len = %d, want 3", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Get("receipt")
	if !errors.Is(err, ErrSchemaNotFound) {
		t.Errorf("Get(receipt) error = %v, want ErrSchemaNotFound", err)
	}
}

func TestValidate(t *testing.T) {
	r := newRegistry(t)

	t.Run("conforming invoice", func(t *testing.T) {
		rec := map[string]any{
			"document_type":  "invoice",
			"invoice_number": "INV-1",
			"date":           "2024-03-15",
			"vendor":         map[string]any{"name": "ABC Corp"},
			"total_amount":   1500.0,
		}
		violations, err := r.Validate(types.DocInvoice, rec)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if len(violations) != 0 {
			t.Errorf("unexpected violations: %v", violations)
		}
	})

	t.Run("wrong type and missing field", func(t *testing.T) {
		rec := map[string]any{
			"invoice_number": "INV-1",
			"date":           "2024-03-15",
			"vendor":         map[string]any{"name": "ABC Corp"},
			"total_amount":   "a lot",
		}
		violations, err := r.Validate(types.DocInvoice, rec)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if len(violations) == 0 {
			t.Fatal("expected violations")
		}
		found := false
		for _, v := range violations {
			if strings.Contains(v.Location, "total_amount") {
				found = true
			}
		}
		if !found {
			t.Errorf("no violation at total_amount: %v", violations)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := r.Validate("receipt", map[string]any{})
		if !errors.Is(err, ErrSchemaNotFound) {
			t.Errorf("error = %v, want ErrSchemaNotFound", err)
		}
	})
}

func TestLoadDir(t *testing.T) {
	r := newRegistry(t)
	dir := t.TempDir()

	receipt := `{"type":"object","required":["merchant","total"],"properties":{"total":{"type":"number"}}}`
	if err := os.WriteFile(filepath.Join(dir, "receipt_schema.json"), []byte(receipt), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := r.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if n != 1 {
		t.Errorf("LoadDir() = %d, want 1", n)
	}

	s, err := r.Get("receipt")
	if err != nil {
		t.Fatalf("Get(receipt) error = %v", err)
	}
	if len(s.Required) != 2 {
		t.Errorf("Required = %v", s.Required)
	}
}

func TestRegister_Invalid(t *testing.T) {
	r := newRegistry(t)
	if err := r.Register("broken", []byte(`{not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if err := r.Register("broken", []byte(`{"type": 12}`)); err == nil {
		t.Error("expected error for schema that does not compile")
	}
}
