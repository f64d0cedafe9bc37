// Package types provides shared types used across multiple packages.
// This package has no dependencies on other docextract packages to avoid import cycles.
package types

import "strings"

// DocumentType identifies the kind of document being processed.
// The set is open: any type with a registered schema is valid.
type DocumentType string

const (
	// DocInvoice is a vendor invoice with line items and totals.
	DocInvoice DocumentType = "invoice"
	// DocBill is a utility or service statement.
	DocBill DocumentType = "bill"
	// DocPrescription is a pharmacy prescription.
	DocPrescription DocumentType = "prescription"
)

// KnownDocumentTypes returns the built-in document types in classification order.
func KnownDocumentTypes() []DocumentType {
	return []DocumentType{DocInvoice, DocBill, DocPrescription}
}

// ParseDocumentType normalizes s into a DocumentType.
// Returns ok=false for blank input.
func ParseDocumentType(s string) (DocumentType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	return DocumentType(s), true
}

// IsKnown reports whether t is one of the built-in types.
func (t DocumentType) IsKnown() bool {
	switch t {
	case DocInvoice, DocBill, DocPrescription:
		return true
	default:
		return false
	}
}

// String returns the type name.
func (t DocumentType) String() string {
	return string(t)
}

// RawText is OCR output handed to the pipeline. It is not modified after creation.
type RawText struct {
	Text       string   `json:"text"`
	WordCount  int      `json:"word_count"`
	Confidence float64  `json:"confidence"`
	PageCount  int      `json:"page_count"`
	Engine     string   `json:"engine"`
	Source     string   `json:"source,omitempty"`
	Pages      []string `json:"pages,omitempty"`
}

// IsEmpty reports whether the OCR produced no usable text.
func (r *RawText) IsEmpty() bool {
	return r == nil || strings.TrimSpace(r.Text) == ""
}
