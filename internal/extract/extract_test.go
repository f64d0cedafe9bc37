package extract

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jackzampolin/docextract/internal/modelsvc"
	"github.com/jackzampolin/docextract/internal/record"
	"github.com/jackzampolin/docextract/internal/types"
)

var testSchema = json.RawMessage(`{"type":"object","properties":{"invoice_number":{"type":"string"}}}`)

// scriptedModel answers by prompt key; keys without a script fail.
type scriptedModel struct {
	mu      sync.Mutex
	answers map[string]string
	errs    map[string]error
	calls   []modelsvc.Request
}

func (m *scriptedModel) Call(ctx context.Context, req modelsvc.Request) (*modelsvc.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if err, ok := m.errs[req.Key]; ok {
		return nil, err
	}
	text, ok := m.answers[req.Key]
	if !ok {
		return nil, errors.New("no answer scripted for " + req.Key)
	}
	return &modelsvc.Response{Text: text, Model: "test-model"}, nil
}

func newExtractor(t *testing.T, m modelsvc.Caller, opts ...Option) *Extractor {
	t.Helper()
	e, err := New(m, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func TestNew_RequiresModel(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error without model")
	}
	if _, err := New(&scriptedModel{}, WithConsensus("majority")); err == nil {
		t.Fatal("expected error for unknown consensus")
	}
}

func TestExtractStructured(t *testing.T) {
	tests := []struct {
		name         string
		answer       string
		wantSuccess  bool
		wantSalvaged bool
		wantNumber   string
	}{
		{"clean json", `{"invoice_number":"INV-1"}`, true, false, "INV-1"},
		{"prose around object", `Sure, here is the JSON: {"invoice_number":"INV-2"} Let me know!`, true, true, "INV-2"},
		{"code fence", "```json\n{\"invoice_number\":\"INV-3\"}\n```", true, true, "INV-3"},
		{"array is not a record", `[{"invoice_number":"INV-4"}]`, false, false, ""},
		{"no json", "I could not read the document.", false, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &scriptedModel{answers: map[string]string{"extract": tt.answer}}
			e := newExtractor(t, m)

			res := e.ExtractStructured(context.Background(), "text", types.DocInvoice, testSchema)
			if res.Success != tt.wantSuccess {
				t.Fatalf("Success = %v, want %v (error %q)", res.Success, tt.wantSuccess, res.Error)
			}
			if !tt.wantSuccess {
				if res.Error == "" {
					t.Error("expected an error message")
				}
				return
			}
			if res.Salvaged != tt.wantSalvaged {
				t.Errorf("Salvaged = %v, want %v", res.Salvaged, tt.wantSalvaged)
			}
			if got, _ := res.Record.GetString("invoice_number"); got != tt.wantNumber {
				t.Errorf("invoice_number = %q, want %q", got, tt.wantNumber)
			}
			if res.Record.DocumentType() != "invoice" {
				t.Errorf("document_type = %q, want injected invoice", res.Record.DocumentType())
			}
		})
	}
}

func TestExtractStructured_KeepsDocumentType(t *testing.T) {
	m := &scriptedModel{answers: map[string]string{"extract": `{"document_type":"bill"}`}}
	e := newExtractor(t, m)

	res := e.ExtractStructured(context.Background(), "text", types.DocInvoice, testSchema)
	if res.Record.DocumentType() != "bill" {
		t.Errorf("document_type = %q, want bill", res.Record.DocumentType())
	}
	if len(m.calls) != 1 || !m.calls[0].JSON {
		t.Errorf("calls = %+v, want one JSON-mode call", m.calls)
	}
}

func TestExtractStructured_ModelError(t *testing.T) {
	m := &scriptedModel{errs: map[string]error{"extract": errors.New("boom")}}
	e := newExtractor(t, m)

	res := e.ExtractStructured(context.Background(), "text", types.DocInvoice, testSchema)
	if res.Success || !strings.Contains(res.Error, "boom") {
		t.Errorf("result = %+v, want failure mentioning boom", res)
	}
}

func TestSelfConsistencyExtract_AllFail(t *testing.T) {
	m := &scriptedModel{}
	e := newExtractor(t, m)

	res := e.SelfConsistencyExtract(context.Background(), "text", types.DocInvoice, testSchema, 3)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != ErrAllAttemptsFailed {
		t.Errorf("Error = %q, want %q", res.Error, ErrAllAttemptsFailed)
	}
	if len(res.Attempts) != 3 || res.TotalAttempts != 3 || res.SuccessfulAttempts != 0 {
		t.Errorf("attempt log = %d entries, %d/%d", len(res.Attempts), res.SuccessfulAttempts, res.TotalAttempts)
	}
	if res.ConsistencyRate != 0 {
		t.Errorf("ConsistencyRate = %v, want 0", res.ConsistencyRate)
	}
}

func TestSelfConsistencyExtract_FirstSuccess(t *testing.T) {
	m := &scriptedModel{answers: map[string]string{
		"extract.attempt_1": `{"invoice_number":"INV-B","total_amount":10}`,
		"extract.attempt_2": `{"invoice_number":"INV-A","total_amount":10}`,
	}}
	e := newExtractor(t, m, WithWorkers(2))

	res := e.SelfConsistencyExtract(context.Background(), "text", types.DocInvoice, testSchema, 3)
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if res.SuccessfulAttempts != 2 {
		t.Errorf("SuccessfulAttempts = %d, want 2", res.SuccessfulAttempts)
	}
	if want := 2.0 / 3.0; res.ConsistencyRate != want {
		t.Errorf("ConsistencyRate = %v, want %v", res.ConsistencyRate, want)
	}
	for i, a := range res.Attempts {
		if a.Index != i+1 {
			t.Errorf("Attempts[%d].Index = %d, want %d", i, a.Index, i+1)
		}
	}
	if res.Attempts[0].Success {
		t.Error("attempt 1 should have failed")
	}
	if got, _ := res.Record.GetString("invoice_number"); got != "INV-B" {
		t.Errorf("consensus invoice_number = %q, want first success INV-B", got)
	}
	if res.FieldAgreement["invoice_number"] != 0.5 || res.FieldAgreement["total_amount"] != 1 {
		t.Errorf("FieldAgreement = %v", res.FieldAgreement)
	}
	if res.Model != "test-model" {
		t.Errorf("Model = %q", res.Model)
	}
}

func TestSelfConsistencyExtract_FieldVote(t *testing.T) {
	m := &scriptedModel{answers: map[string]string{
		"extract.attempt_0": `{"invoice_number":"INV-X","total_amount":99,"vendor":{"name":"Acme"}}`,
		"extract.attempt_1": `{"invoice_number":"INV-1","total_amount":10,"vendor":{"name":"Acme Corp"}}`,
		"extract.attempt_2": `{"invoice_number":"INV-1","total_amount":12,"vendor":{"name":"ACME"}}`,
	}}
	e := newExtractor(t, m, WithConsensus(FieldVote))

	res := e.SelfConsistencyExtract(context.Background(), "text", types.DocInvoice, testSchema, 3)
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if got, _ := res.Record.GetString("invoice_number"); got != "INV-1" {
		t.Errorf("invoice_number = %q, want majority INV-1", got)
	}
	if got, _ := res.Record.Get(record.ParsePath("total_amount")); got != 99.0 {
		t.Errorf("total_amount = %v, want first success 99 when all disagree", got)
	}
	if got, _ := res.Record.GetString("vendor.name"); got != "Acme" {
		t.Errorf("vendor.name = %q, want Acme", got)
	}
	if got := res.FieldAgreement["invoice_number"]; got != 2.0/3.0 {
		t.Errorf("agreement = %v, want 2/3", got)
	}
	if got, _ := res.Attempts[0].Record.GetString("invoice_number"); got != "INV-X" {
		t.Errorf("attempt record mutated: %q", got)
	}
}

func TestSelfConsistencyExtract_RotatesPrompts(t *testing.T) {
	m := &scriptedModel{}
	e := newExtractor(t, m)

	e.SelfConsistencyExtract(context.Background(), "text", types.DocInvoice, testSchema, 5)

	seen := make(map[string]bool)
	intros := make(map[string]bool)
	for _, c := range m.calls {
		seen[c.Key] = true
		intros[strings.SplitN(c.Prompt, "\n", 2)[0]] = true
		if c.Stage != StageExtract {
			t.Errorf("Stage = %q, want %q", c.Stage, StageExtract)
		}
	}
	for _, k := range []string{"extract.attempt_0", "extract.attempt_4"} {
		if !seen[k] {
			t.Errorf("missing call %s in %v", k, seen)
		}
	}
	if len(intros) != 4 {
		t.Errorf("distinct prompt openings = %d, want 4", len(intros))
	}
}

func TestAssessConfidence(t *testing.T) {
	rec := record.Record{
		"invoice_number": "INV-1",
		"items":          []any{map[string]any{"description": "Widget"}},
	}

	t.Run("validates scores", func(t *testing.T) {
		m := &scriptedModel{answers: map[string]string{
			"confidence": `{"invoice_number": 0.95, "items.0.description": 1.7, "vendor.name": "high"}`,
		}}
		e := newExtractor(t, m, WithConfidenceMaxTokens(256))

		got := e.AssessConfidence(context.Background(), "text", rec, types.DocInvoice)
		want := map[string]float64{"invoice_number": 0.95, "items.0.description": 0.5, "vendor.name": 0.5}
		for k, v := range want {
			if got[k] != v {
				t.Errorf("%s = %v, want %v", k, got[k], v)
			}
		}
		if m.calls[0].MaxTokens != 256 || m.calls[0].Stage != StageConfidence {
			t.Errorf("request = %+v", m.calls[0])
		}
	})

	t.Run("falls back to uniform scores", func(t *testing.T) {
		for name, m := range map[string]*scriptedModel{
			"error":     {errs: map[string]error{"confidence": errors.New("down")}},
			"empty":     {answers: map[string]string{"confidence": ""}},
			"not json":  {answers: map[string]string{"confidence": "very confident"}},
			"not a map": {answers: map[string]string{"confidence": "[0.9]"}},
		} {
			e := newExtractor(t, m)
			got := e.AssessConfidence(context.Background(), "text", rec, types.DocInvoice)
			if len(got) != 2 || got["invoice_number"] != 0.5 || got["items.0.description"] != 0.5 {
				t.Errorf("%s: scores = %v, want 0.5 for every leaf", name, got)
			}
		}
	})
}

func TestFixValidationErrors(t *testing.T) {
	rec := record.Record{"document_type": "invoice", "date": "01/15/2024"}
	errs := []string{"Invalid date format: date"}

	t.Run("returns corrected record", func(t *testing.T) {
		m := &scriptedModel{answers: map[string]string{"correct": `{"date":"2024-01-15"}`}}
		e := newExtractor(t, m)

		got := e.FixValidationErrors(context.Background(), rec, errs)
		if d, _ := got.GetString("date"); d != "2024-01-15" {
			t.Errorf("date = %q, want 2024-01-15", d)
		}
		if got.DocumentType() != "invoice" {
			t.Errorf("document_type = %q, want invoice", got.DocumentType())
		}
		if !strings.Contains(m.calls[0].Prompt, "Invalid date format: date") {
			t.Error("prompt does not list the validation errors")
		}
	})

	t.Run("returns original on failure", func(t *testing.T) {
		for name, m := range map[string]*scriptedModel{
			"error":    {errs: map[string]error{"correct": errors.New("down")}},
			"not json": {answers: map[string]string{"correct": "sorry"}},
		} {
			e := newExtractor(t, m)
			got := e.FixValidationErrors(context.Background(), rec, errs)
			if d, _ := got.GetString("date"); d != "01/15/2024" {
				t.Errorf("%s: date = %q, want original", name, d)
			}
		}
	})

	t.Run("no errors skips the model", func(t *testing.T) {
		m := &scriptedModel{}
		e := newExtractor(t, m)
		e.FixValidationErrors(context.Background(), rec, nil)
		if len(m.calls) != 0 {
			t.Errorf("model called %d times", len(m.calls))
		}
	})
}

func TestDefaultScores(t *testing.T) {
	rec := record.Record{"a": 1.0, "b": map[string]any{"c": "x"}, "d": []any{"y", map[string]any{"e": true}}}
	got := DefaultScores(rec)
	for _, k := range []string{"a", "b.c", "d.0", "d.1.e"} {
		if got[k] != 0.5 {
			t.Errorf("%s = %v, want 0.5", k, got[k])
		}
	}
}
