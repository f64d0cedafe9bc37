package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jackzampolin/docextract/internal/confidence"
	"github.com/jackzampolin/docextract/internal/pipeline"
	"github.com/jackzampolin/docextract/internal/validate"
)

func TestWatchable(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"in/invoice.pdf", true},
		{"in/scan.PNG", true},
		{"in/notes.txt", true},
		{"in/invoice_extracted.json", false},
		{"in/invoice_extracted.backup_1700000000.json", false},
		{"in/.invoice.pdf.swp", false},
		{"in/report.docx", false},
	}
	for _, tt := range tests {
		if got := watchable(tt.path); got != tt.want {
			t.Errorf("watchable(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestParseTypeFlag(t *testing.T) {
	if got, err := parseTypeFlag(""); err != nil || got != "" {
		t.Errorf("parseTypeFlag(\"\") = %q, %v", got, err)
	}
	if got, err := parseTypeFlag(" Invoice "); err != nil || got != "invoice" {
		t.Errorf("parseTypeFlag(Invoice) = %q, %v", got, err)
	}
	if _, err := parseTypeFlag("   "); err == nil {
		t.Error("parseTypeFlag(blank) should fail")
	}
}

func TestSummarize(t *testing.T) {
	res := &pipeline.Result{
		ID:                "r1",
		InputFile:         "a.txt",
		DocumentType:      "invoice",
		OverallConfidence: 0.8,
		ConfidenceScores:  confidence.FieldConfidence{"total_amount": 0.4, "date": 0.9},
		ValidationResult:  &validate.Result{IsValid: false, Errors: []string{"Required field 'vendor' is missing or empty"}},
		Suggestions:       validate.Suggestions{GeneralSuggestions: []string{"Review the document for missing required information"}},
	}
	s := summarize(res, confidence.New(0.7), "a_extracted.json")
	if s.FieldCount != 2 || s.IsValid || len(s.Errors) != 1 {
		t.Errorf("summarize() = %+v", s)
	}
	if len(s.LowConfidenceFields) != 1 || s.LowConfidenceFields[0].Path != "total_amount" {
		t.Errorf("LowConfidenceFields = %+v", s.LowConfidenceFields)
	}
	if s.OutputFile != "a_extracted.json" {
		t.Errorf("OutputFile = %q", s.OutputFile)
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	if !strings.HasPrefix(buf.String(), "docextract ") {
		t.Errorf("version output = %q", buf.String())
	}
}
