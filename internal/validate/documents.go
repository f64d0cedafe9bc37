package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jackzampolin/docextract/internal/record"
	"github.com/jackzampolin/docextract/internal/types"
)

// Tolerance is the largest arithmetic difference accepted as rounding.
var Tolerance = decimal.New(1, -2)

// Invoice validates vendor invoices.
type Invoice struct{}

func (Invoice) Type() types.DocumentType { return types.DocInvoice }

func (Invoice) RequiredFields() []string {
	return []string{"invoice_number", "date", "vendor", "total_amount"}
}

var invoiceItemFields = []string{"description", "quantity", "unit_price", "total"}

func (v Invoice) Validate(rec record.Record, res *Result) {
	CheckRequired(rec, v.RequiredFields(), res)

	CheckField(rec, "date", KindDate, res)
	if _, ok := rec["due_date"]; ok {
		CheckField(rec, "due_date", KindDate, res)
		checkDueDate(rec, res)
	}

	for _, f := range []string{"total_amount", "subtotal", "tax_amount"} {
		CheckField(rec, f, KindAmount, res)
	}

	items, ok := rec["items"].([]any)
	if ok {
		for i, item := range items {
			checkInvoiceItem(item, i, res)
		}
		checkSubtotal(rec, items, res)
	}
	checkInvoiceTotal(rec, res)
}

// checkDueDate flags a due date before the invoice date. Only ISO dates are
// compared; other formats are reported by the date check.
func checkDueDate(rec record.Record, res *Result) {
	issued, _ := rec["date"].(string)
	due, _ := rec["due_date"].(string)
	if issued == "" || due == "" {
		return
	}
	i, err1 := parseISO(issued)
	d, err2 := parseISO(due)
	if err1 != nil || err2 != nil {
		return
	}
	if d.Before(i) {
		res.AddError("Due date cannot be before invoice date")
	}
}

func checkInvoiceItem(item any, index int, res *Result) {
	m, ok := item.(map[string]any)
	if !ok {
		res.AddError(fmt.Sprintf("Item %d: expected an object", index))
		return
	}

	for _, f := range invoiceItemFields {
		v, present := m[f]
		if !present || v == nil {
			res.AddError(fmt.Sprintf("Item %d: missing required field '%s'", index, f))
			continue
		}
		if f == "description" {
			continue
		}
		if valid, msg := ValidateAmount(v); !valid {
			res.AddError(fmt.Sprintf("Item %d, field '%s': %s", index, f, msg))
		}
	}

	qty, ok1 := toDecimal(m["quantity"])
	price, ok2 := toDecimal(m["unit_price"])
	total, ok3 := toDecimal(m["total"])
	if !ok1 || !ok2 || !ok3 {
		return
	}
	expected := qty.Mul(price)
	if mismatch(expected, total) {
		res.AddWarning(fmt.Sprintf("Item %d: calculated total (%s) doesn't match stated total (%s)",
			index, expected.StringFixed(2), total.StringFixed(2)))
	}
}

// checkSubtotal compares the sum of item totals with the stated subtotal.
func checkSubtotal(rec record.Record, items []any, res *Result) {
	if rec["subtotal"] == nil {
		return
	}
	sum := decimal.Zero
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok || m["total"] == nil {
			continue
		}
		t, ok := toDecimal(m["total"])
		if !ok {
			return
		}
		sum = sum.Add(t)
	}
	stated, ok := toDecimal(rec["subtotal"])
	if !ok {
		return
	}
	if mismatch(sum, stated) {
		res.AddWarning(fmt.Sprintf("Calculated subtotal (%s) doesn't match stated subtotal (%s)",
			sum.StringFixed(2), stated.StringFixed(2)))
	}
}

// checkInvoiceTotal compares subtotal + tax_amount with total_amount.
func checkInvoiceTotal(rec record.Record, res *Result) {
	subtotal, ok1 := toDecimal(rec["subtotal"])
	tax, ok2 := toDecimal(rec["tax_amount"])
	total, ok3 := toDecimal(rec["total_amount"])
	if !ok1 || !ok2 || !ok3 {
		return
	}
	expected := subtotal.Add(tax)
	if mismatch(expected, total) {
		res.AddWarning(fmt.Sprintf("Calculated total (%s) doesn't match stated total (%s)",
			expected.StringFixed(2), total.StringFixed(2)))
	}
}

// Bill validates utility and service statements.
type Bill struct{}

func (Bill) Type() types.DocumentType { return types.DocBill }

func (Bill) RequiredFields() []string {
	return []string{"bill_number", "statement_date", "service_provider", "total_amount_due"}
}

func (v Bill) Validate(rec record.Record, res *Result) {
	CheckRequired(rec, v.RequiredFields(), res)

	for _, f := range []string{"statement_date", "due_date"} {
		CheckField(rec, f, KindDate, res)
	}
	for _, f := range []string{"total_amount_due", "previous_balance", "current_charges", "payments", "minimum_payment"} {
		CheckField(rec, f, KindAmount, res)
	}

	checkBillBalance(rec, res)
}

// checkBillBalance verifies previous_balance + current_charges - payments = total_amount_due.
// Absent payments count as zero.
func checkBillBalance(rec record.Record, res *Result) {
	previous, ok1 := toDecimal(rec["previous_balance"])
	current, ok2 := toDecimal(rec["current_charges"])
	stated, ok3 := toDecimal(rec["total_amount_due"])
	if !ok1 || !ok2 || !ok3 {
		return
	}
	payments := decimal.Zero
	if raw, present := rec["payments"]; present {
		p, ok := toDecimal(raw)
		if !ok {
			return
		}
		payments = p
	}

	expected := previous.Add(current).Sub(payments)
	if mismatch(expected, stated) {
		res.AddWarning(fmt.Sprintf("Calculated total due (%s) doesn't match stated total (%s)",
			expected.StringFixed(2), stated.StringFixed(2)))
	}
}

// Prescription validates pharmacy prescriptions.
type Prescription struct{}

func (Prescription) Type() types.DocumentType { return types.DocPrescription }

func (Prescription) RequiredFields() []string {
	return []string{"prescription_number", "date_prescribed", "doctor", "patient", "medications"}
}

var medicationFields = []string{"name", "strength", "quantity", "directions"}

func (v Prescription) Validate(rec record.Record, res *Result) {
	CheckRequired(rec, v.RequiredFields(), res)

	for _, f := range []string{"date_prescribed", "date_filled"} {
		CheckField(rec, f, KindDate, res)
	}

	if meds, ok := rec["medications"].([]any); ok {
		if len(meds) == 0 {
			res.AddError("At least one medication is required")
		}
		for i, med := range meds {
			m, _ := med.(map[string]any)
			for _, f := range medicationFields {
				if !truthy(m[f]) {
					res.AddError(fmt.Sprintf("Medication %d: missing required field '%s'", i, f))
				}
			}
		}
	}

	for _, f := range []string{"total_cost", "insurance_covered", "patient_pay"} {
		CheckField(rec, f, KindAmount, res)
	}
}

// toDecimal converts a JSON number or numeric string. Anything else is not numeric.
func toDecimal(v any) (decimal.Decimal, bool) {
	if f, ok := record.AsFloat(v); ok {
		return decimal.NewFromFloat(f), true
	}
	s, ok := v.(string)
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func mismatch(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().GreaterThan(Tolerance)
}

// truthy treats null, false, zero, empty strings and empty containers as missing.
func truthy(v any) bool {
	switch n := v.(type) {
	case nil:
		return false
	case string:
		return n != ""
	case bool:
		return n
	case float64:
		return n != 0
	case []any:
		return len(n) > 0
	case map[string]any:
		return len(n) > 0
	default:
		return true
	}
}

func parseISO(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
