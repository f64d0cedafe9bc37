// Package export writes stored results to an xlsx workbook.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jackzampolin/docextract/internal/record"
	"github.com/jackzampolin/docextract/internal/store"
)

// SummarySheet lists one row per result.
const SummarySheet = "Results"

var summaryHeaders = []string{
	"ID",
	"Created",
	"Input File",
	"Document Type",
	"Overall Confidence",
	"Valid",
}

// WriteXLSX writes rows to w. The summary sheet lists every result; each
// document type also gets a sheet with one column per extracted field.
func WriteXLSX(w io.Writer, rows []store.ResultRow, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	writeRow(f, SummarySheet, 1, toAny(summaryHeaders))
	for i, r := range rows {
		writeRow(f, SummarySheet, i+2, []any{
			r.ID,
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.InputFile,
			r.DocumentType,
			r.OverallConfidence,
			r.IsValid,
		})
	}
	_ = f.SetColWidth(SummarySheet, "A", "A", 38)
	_ = f.SetColWidth(SummarySheet, "B", "B", 22)
	_ = f.SetColWidth(SummarySheet, "C", "C", 40)
	_ = f.SetColWidth(SummarySheet, "D", "F", 18)

	byType := make(map[string][]store.ResultRow)
	for _, r := range rows {
		byType[r.DocumentType] = append(byType[r.DocumentType], r)
	}
	docTypes := make([]string, 0, len(byType))
	for t := range byType {
		docTypes = append(docTypes, t)
	}
	sort.Strings(docTypes)

	for _, docType := range docTypes {
		if err := writeTypeSheet(f, docType, byType[docType], logger); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	logger.Info("export.xlsx.ok",
		"rows", len(rows),
		"sheets", len(docTypes)+1,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// writeTypeSheet flattens each record into leaf-path columns. Columns are the
// sorted union of leaf paths across the type's records.
func writeTypeSheet(f *excelize.File, docType string, rows []store.ResultRow, logger *slog.Logger) error {
	sheet := sheetName(docType)
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}

	recs := make([]record.Record, len(rows))
	colSet := make(map[string]bool)
	for i, r := range rows {
		rec, err := extractedData(r.Data)
		if err != nil {
			logger.Warn("skipping unreadable result", "id", r.ID, "error", err)
			continue
		}
		recs[i] = rec
		for _, p := range record.Leaves(map[string]any(rec)) {
			colSet[p.String()] = true
		}
	}
	cols := make([]string, 0, len(colSet))
	for c := range colSet {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	header := append([]any{"ID"}, toAny(cols)...)
	writeRow(f, sheet, 1, header)
	for i, rec := range recs {
		values := make([]any, 0, len(cols)+1)
		values = append(values, rows[i].ID)
		for _, c := range cols {
			v, ok := rec.Get(record.ParsePath(c))
			if !ok || v == nil {
				values = append(values, "")
				continue
			}
			values = append(values, cellValue(v))
		}
		writeRow(f, sheet, i+2, values)
	}
	return nil
}

// extractedData pulls the extracted record out of a stored result document.
func extractedData(data json.RawMessage) (record.Record, error) {
	var doc struct {
		ExtractedData record.Record `json:"extracted_data"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.ExtractedData == nil {
		return record.Record{}, nil
	}
	return doc.ExtractedData, nil
}

func cellValue(v any) any {
	switch n := v.(type) {
	case float64, bool:
		return n
	default:
		return record.FormatScalar(v)
	}
}

// sheetName keeps names within the 31 character limit and free of the
// characters excel rejects.
func sheetName(docType string) string {
	if docType == "" {
		docType = "unknown"
	}
	out := make([]rune, 0, len(docType))
	for _, r := range docType {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			r = '_'
		}
		out = append(out, r)
	}
	if len(out) > 31 {
		out = out[:31]
	}
	name := string(out)
	if name == SummarySheet {
		name += "_"
	}
	return name
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
