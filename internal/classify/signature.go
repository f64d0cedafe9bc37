package classify

import (
	"regexp"

	"github.com/jackzampolin/docextract/internal/types"
)

// Signature describes how a document type shows up in raw text.
// Each keyword present scores one point; each pattern that matches scores two.
type Signature struct {
	Type     types.DocumentType
	Keywords []string
	Patterns []*regexp.Regexp
}

// Score returns the keyword and pattern score of lowered text.
func (s Signature) Score(lowered string) int {
	score := 0
	for _, kw := range s.Keywords {
		if containsFold(lowered, kw) {
			score++
		}
	}
	for _, p := range s.Patterns {
		if p.MatchString(lowered) {
			score += PatternWeight
		}
	}
	return score
}

// PatternWeight is the score of one pattern match.
const PatternWeight = 2

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// DefaultSignatures returns the built-in signatures in tie-break order.
func DefaultSignatures() []Signature {
	return []Signature{
		{
			Type: types.DocInvoice,
			Keywords: []string{
				"invoice", "bill to", "ship to", "subtotal", "tax", "total due",
				"invoice number", "invoice date", "due date", "remit to",
				"item", "description", "quantity", "rate", "amount",
			},
			Patterns: patterns(
				`invoice\s*#?\s*\d+`,
				`invoice\s*number`,
				`bill\s*to:`,
				`subtotal.*\$`,
				`tax.*\$.*total.*\$`,
			),
		},
		{
			Type: types.DocBill,
			Keywords: []string{
				"statement", "account number", "billing period", "previous balance",
				"payment due", "current charges", "service period", "usage",
				"meter reading", "kilowatt", "gallons", "minutes",
			},
			Patterns: patterns(
				`account\s*#?\s*\d+`,
				`statement\s*date`,
				`billing\s*period`,
				`previous\s*balance.*\$`,
				`payment\s*due.*\$`,
			),
		},
		{
			Type: types.DocPrescription,
			Keywords: []string{
				"prescription", "rx", "medication", "prescriber", "pharmacy",
				"patient", "dosage", "instructions", "refill", "ndc",
				"generic", "brand", "tablet", "capsule", "mg", "ml",
			},
			Patterns: patterns(
				`rx\s*#?\s*\d+`,
				`prescription\s*#?\s*\d+`,
				`\d+\s*mg\s*tablet`,
				`take\s*\d+.*daily`,
				`refill.*\d+`,
			),
		},
	}
}
