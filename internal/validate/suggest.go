package validate

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jackzampolin/docextract/internal/record"
)

const (
	hintDateFormat    = "Check date formats - ensure they are in YYYY-MM-DD format"
	hintPositive      = "Ensure all monetary amounts are positive values"
	hintCompleteness  = "Review the document for missing required information"
	hintGenericDate   = "Use YYYY-MM-DD format (e.g., 2024-03-15)"
	hintGenericAmount = "Use numeric format (e.g., 123.45)"
)

var (
	slashDate    = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})`)
	nonNumericRe = regexp.MustCompile(`[^\d.\-]`)
)

// SuggestCorrections derives hints from a validation result. Field values are
// read from rec when present. General hints are deduplicated and keep
// first-seen order.
func SuggestCorrections(rec record.Record, res *Result) Suggestions {
	out := Suggestions{
		FieldCorrections:   make(map[string]string),
		GeneralSuggestions: []string{},
	}
	if res == nil {
		return out
	}

	seen := make(map[string]bool)
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out.GeneralSuggestions = append(out.GeneralSuggestions, s)
		}
	}
	for _, e := range res.Errors {
		lower := strings.ToLower(e)
		if strings.Contains(lower, "date") && strings.Contains(lower, "format") {
			add(hintDateFormat)
		}
		if strings.Contains(lower, "amount") && strings.Contains(lower, "negative") {
			add(hintPositive)
		}
		if strings.Contains(lower, "missing") || strings.Contains(lower, "required") {
			add(hintCompleteness)
		}
	}

	fields := make([]string, 0, len(res.FieldValidations))
	for f := range res.FieldValidations {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		fv := res.FieldValidations[f]
		if fv.IsValid {
			continue
		}
		value := fv.Value
		if v, ok := rec.Get(record.ParsePath(f)); ok {
			value = v
		}
		switch fv.Type {
		case KindDate:
			out.FieldCorrections[f] = suggestDate(value)
		case KindAmount:
			out.FieldCorrections[f] = suggestAmount(value)
		}
	}
	return out
}

// suggestDate rewrites M/D/YYYY values as YYYY-MM-DD.
func suggestDate(value any) string {
	s, ok := value.(string)
	if !ok {
		return hintGenericDate
	}
	m := slashDate.FindStringSubmatch(s)
	if m == nil || strings.Count(s, "/") != 2 {
		return hintGenericDate
	}
	return fmt.Sprintf("Try format: %s-%s-%s", m[3], zeroPad(m[1]), zeroPad(m[2]))
}

// suggestAmount proposes the cleaned number, or its absolute value when negative.
func suggestAmount(value any) string {
	var f float64
	switch n := value.(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(nonNumericRe.ReplaceAllString(n, ""), 64)
		if err != nil {
			return hintGenericAmount
		}
		f = parsed
	default:
		return hintGenericAmount
	}
	if f < 0 {
		return fmt.Sprintf("Use positive value: %s", formatNumber(math.Abs(f)))
	}
	return fmt.Sprintf("Use numeric format: %s", formatNumber(f))
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func zeroPad(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
