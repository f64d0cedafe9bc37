package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackzampolin/docextract/internal/record"
)

// FieldKind names a field-type check.
type FieldKind string

const (
	KindDate     FieldKind = "date"
	KindAmount   FieldKind = "amount"
	KindNumber   FieldKind = "number"
	KindEmail    FieldKind = "email"
	KindPhone    FieldKind = "phone"
	KindCurrency FieldKind = "currency"
)

// FieldRule checks a value, returning ok and a message when it fails.
type FieldRule func(value any) (bool, string)

// Rules maps every field kind to its check.
var Rules = map[FieldKind]FieldRule{
	KindDate:     ValidateDate,
	KindAmount:   ValidateAmount,
	KindNumber:   ValidateNumber,
	KindEmail:    ValidateEmail,
	KindPhone:    ValidatePhone,
	KindCurrency: ValidateCurrency,
}

// Currencies accepted by ValidateCurrency.
var Currencies = []string{"USD", "EUR", "GBP", "JPY", "CAD", "AUD", "CHF", "CNY"}

// Accepted date layouts in priority order: YYYY-MM-DD, MM/DD/YYYY, DD/MM/YYYY,
// MM-DD-YYYY, DD-MM-YYYY. Month and day may be one or two digits.
var dateLayouts = []string{"2006-1-2", "1/2/2006", "2/1/2006", "1-2-2006", "2-1-2006"}

var (
	amountStrip = regexp.MustCompile(`[$,\s]`)
	emailRe     = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phoneStrip  = regexp.MustCompile(`[\s\-().]`)
	phoneRe     = regexp.MustCompile(`^\+?1?\d{10,15}$`)
)

// now is the clock used for the date plausibility window.
var now = time.Now

// ParseDate parses s with the first matching layout.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ValidateDate accepts strings in a known layout with a year between 1900 and ten years from now.
func ValidateDate(value any) (bool, string) {
	s, ok := value.(string)
	if !ok {
		return false, "Date must be a string"
	}
	if strings.TrimSpace(s) == "" {
		return false, "Date cannot be empty"
	}
	t, ok := ParseDate(s)
	if !ok {
		return false, fmt.Sprintf("Invalid date format: %s. Expected formats: YYYY-MM-DD, MM/DD/YYYY, etc.", s)
	}
	if y := t.Year(); y < 1900 || y > now().Year()+10 {
		return false, fmt.Sprintf("Date year %d seems unreasonable", y)
	}
	return true, ""
}

// ValidateAmount accepts non-negative numbers and numeric strings with currency formatting.
func ValidateAmount(value any) (bool, string) {
	if value == nil {
		return false, "Amount cannot be null"
	}
	if f, ok := record.AsFloat(value); ok {
		if f < 0 {
			return false, "Amount cannot be negative"
		}
		return true, ""
	}
	s, ok := value.(string)
	if !ok {
		return false, fmt.Sprintf("Amount must be a number, got %s", jsonKind(value))
	}
	f, err := strconv.ParseFloat(amountStrip.ReplaceAllString(s, ""), 64)
	if err != nil {
		return false, fmt.Sprintf("Invalid amount format: %s", s)
	}
	if f < 0 {
		return false, "Amount cannot be negative"
	}
	return true, ""
}

// ValidateNumber accepts non-empty identifier strings of at most 50 bytes.
func ValidateNumber(value any) (bool, string) {
	s, ok := value.(string)
	if !ok {
		return false, "Number must be a string"
	}
	if strings.TrimSpace(s) == "" {
		return false, "Number cannot be empty"
	}
	if len(s) > 50 {
		return false, "Number seems too long"
	}
	return true, ""
}

func ValidateEmail(value any) (bool, string) {
	s, ok := value.(string)
	if !ok {
		return false, "Email must be a string"
	}
	if emailRe.MatchString(s) {
		return true, ""
	}
	return false, fmt.Sprintf("Invalid email format: %s", s)
}

// ValidatePhone accepts 10-15 digit numbers once separators are removed.
func ValidatePhone(value any) (bool, string) {
	s, ok := value.(string)
	if !ok {
		return false, "Phone must be a string"
	}
	if phoneRe.MatchString(phoneStrip.ReplaceAllString(s, "")) {
		return true, ""
	}
	return false, fmt.Sprintf("Invalid phone format: %s", s)
}

func ValidateCurrency(value any) (bool, string) {
	s, ok := value.(string)
	if !ok {
		return false, "Currency must be a string"
	}
	upper := strings.ToUpper(s)
	for _, c := range Currencies {
		if upper == c {
			return true, ""
		}
	}
	return false, fmt.Sprintf("Unknown currency code: %s", s)
}

// CheckField runs the kind's rule on a top-level field when it is present and
// non-null, recording the outcome in res.
func CheckField(rec record.Record, field string, kind FieldKind, res *Result) {
	value, ok := rec[field]
	if !ok || value == nil {
		return
	}
	rule, ok := Rules[kind]
	if !ok {
		res.AddWarning(fmt.Sprintf("No validation rule for field type '%s'", kind))
		return
	}
	valid, msg := rule(value)
	res.FieldValidations[field] = FieldValidation{IsValid: valid, Value: value, Type: kind, Message: msg}
	if !valid {
		res.AddError(fmt.Sprintf("Field '%s': %s", field, msg))
	}
}

// CheckRequired adds an error for every field that is absent, null or an empty string.
func CheckRequired(rec record.Record, fields []string, res *Result) {
	for _, f := range fields {
		if isBlank(rec, f) {
			res.AddError(fmt.Sprintf("Required field '%s' is missing or empty", f))
		}
	}
}

func isBlank(m map[string]any, field string) bool {
	v, ok := m[field]
	if !ok || v == nil {
		return true
	}
	s, isString := v.(string)
	return isString && s == ""
}

func jsonKind(v any) string {
	switch v.(type) {
	case bool:
		return "bool"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	default:
		return fmt.Sprintf("%T", v)
	}
}
