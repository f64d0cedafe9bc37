package confidence

import (
	"regexp"
	"strings"
	"time"

	"github.com/jackzampolin/docextract/internal/record"
)

var (
	datePatterns = []struct {
		re     *regexp.Regexp
		layout string
	}{
		{regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`), "2006-01-02"},
		{regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`), "01/02/2006"},
		{regexp.MustCompile(`^\d{2}-\d{2}-\d{4}$`), "01-02-2006"},
	}
	fourDigits   = regexp.MustCompile(`\d{4}`)
	shortDigits  = regexp.MustCompile(`\d{1,2}`)
	anyDigit     = regexp.MustCompile(`\d`)
	currencyRe   = regexp.MustCompile(`^\$?[\d,]+\.?\d{0,2}$`)
	currencyPost = regexp.MustCompile(`^[\d,]+\.?\d{0,2}\s*\$?$`)
	identifierRe = regexp.MustCompile(`^[A-Z0-9\-_]+$`)
	properNameRe = regexp.MustCompile(`^[A-Za-z\s.,]+$`)
	emailRe      = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phoneStrip   = regexp.MustCompile(`[\s\-().]`)
	phoneFull    = regexp.MustCompile(`^\+?1?\d{10}$`)
	phoneDigits  = regexp.MustCompile(`^\d{7,15}$`)
)

// dateScore rates how date-like a value is.
func dateScore(value any) float64 {
	s, ok := value.(string)
	if !ok {
		return 0.3
	}
	for _, p := range datePatterns {
		if p.re.MatchString(s) {
			if _, err := time.Parse(p.layout, s); err != nil {
				return 0.4
			}
			return 0.9
		}
	}
	if fourDigits.MatchString(s) && shortDigits.MatchString(s) {
		return 0.6
	}
	return 0.2
}

// amountScore rates a monetary value: sign for numbers, currency shape for strings.
func amountScore(value any) float64 {
	if f, ok := record.AsFloat(value); ok {
		if f >= 0 {
			return 0.85
		}
		return 0.6
	}
	if s, ok := value.(string); ok {
		trimmed := strings.TrimSpace(s)
		if currencyRe.MatchString(trimmed) || currencyPost.MatchString(trimmed) {
			return 0.8
		}
		if anyDigit.MatchString(s) {
			return 0.5
		}
	}
	return 0.2
}

// identifierScore rates document numbers and IDs.
func identifierScore(value any, text string) float64 {
	s, ok := value.(string)
	if !ok {
		return 0.3
	}
	if identifierRe.MatchString(s) {
		if strings.Contains(text, s) {
			return 0.9
		}
		return 0.6
	}
	return 0.4
}

// nameScore rates person and organisation names.
func nameScore(value any, text string) float64 {
	s, ok := value.(string)
	if !ok || len(s) < 2 {
		return 0.2
	}
	if strings.Contains(strings.ToLower(text), strings.ToLower(s)) {
		return 0.8
	}
	if properNameRe.MatchString(s) {
		return 0.7
	}
	return 0.4
}

func emailScore(value any) float64 {
	s, ok := value.(string)
	if !ok {
		return 0.2
	}
	if emailRe.MatchString(s) {
		return 0.95
	}
	if strings.Contains(s, "@") && strings.Contains(s, ".") {
		return 0.6
	}
	return 0.2
}

func phoneScore(value any) float64 {
	s, ok := value.(string)
	if !ok {
		return 0.2
	}
	clean := phoneStrip.ReplaceAllString(s, "")
	if phoneFull.MatchString(clean) {
		return 0.9
	}
	if phoneDigits.MatchString(clean) {
		return 0.7
	}
	return 0.3
}

// presenceScore rates how literally value appears in the source text.
func presenceScore(value, text string) float64 {
	if value == "" || text == "" {
		return 0
	}
	if strings.Contains(text, value) {
		return 0.9
	}
	lowerText := strings.ToLower(text)
	if strings.Contains(lowerText, strings.ToLower(value)) {
		return 0.85
	}
	if len(value) > 5 {
		words := strings.Fields(value)
		matched := 0
		for _, w := range words {
			if strings.Contains(lowerText, strings.ToLower(w)) {
				matched++
			}
		}
		if matched > 0 {
			return 0.3 + float64(matched)/float64(len(words))*0.4
		}
	}
	return 0.1
}

// formatScore checks the value's type against what the field name implies.
func formatScore(lowerPath string, value any) float64 {
	if value == nil {
		return 0
	}
	switch {
	case strings.Contains(lowerPath, "amount") || strings.Contains(lowerPath, "total"):
		if _, ok := record.AsFloat(value); ok {
			return 0.8
		}
		return 0.3
	case strings.Contains(lowerPath, "quantity"):
		if f, ok := record.AsFloat(value); ok && f >= 0 {
			return 0.8
		}
		return 0.4
	case strings.Contains(lowerPath, "date"):
		if s, ok := value.(string); ok && len(s) >= 8 {
			return 0.7
		}
		return 0.3
	}
	return 0.5
}
