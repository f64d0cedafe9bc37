package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docextract/internal/api"
	"github.com/jackzampolin/docextract/internal/confidence"
	"github.com/jackzampolin/docextract/internal/metrics"
	"github.com/jackzampolin/docextract/internal/pipeline"
	"github.com/jackzampolin/docextract/internal/svcctx"
	"github.com/jackzampolin/docextract/internal/types"
)

var (
	processFlags      processorFlags
	processOutputFile string
	processNoStore    bool
)

var processCmd = &cobra.Command{
	Use:   "process <file>...",
	Short: "Extract structured records from documents",
	Long: `Run documents through OCR, classification, extraction, confidence
scoring and validation.

Each result is written to <name>_extracted.json next to its input (an
existing file is kept as <name>_extracted.backup_<unix>.json) and saved to
the results database unless storage is disabled.

Examples:
  docextract process invoice.pdf
  docextract process scan.png -t bill --no-self-consistency
  docextract process *.txt --consensus field_vote -o json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if processOutputFile != "" && len(args) > 1 {
			return fmt.Errorf("--output-file needs exactly one input, got %d", len(args))
		}
		docType, err := parseTypeFlag(processFlags.docType)
		if err != nil {
			return err
		}

		ctx, cleanup, err := loadServices(cmd, serviceOpts{noStore: processNoStore})
		if err != nil {
			return err
		}
		defer cleanup()
		svc := svcctx.ServicesFrom(ctx)

		proc, err := newProcessor(svc, &processFlags, !processNoStore)
		if err != nil {
			return err
		}

		batch := proc.ProcessAll(ctx, args, docType)

		report := processReport{RunID: batch.RunID, Failures: batch.Failures, Metrics: batch.Metrics}
		for _, res := range batch.Results {
			out := processOutputFile
			if out == "" {
				out = pipeline.OutputPath(res.InputFile)
			}
			backup, err := pipeline.WriteResult(out, res)
			if err != nil {
				svc.Logger.Error("failed to write result", "file", out, "error", err)
				out = ""
			} else if backup != "" {
				svc.Logger.Info("previous result backed up", "backup", backup)
			}
			report.Documents = append(report.Documents, summarize(res, proc.Scorer(), out))
		}
		return api.Output(report)
	},
}

func init() {
	processFlags.register(processCmd)
	processCmd.Flags().StringVar(&processOutputFile, "output-file", "", "result path (single input only)")
	processCmd.Flags().BoolVar(&processNoStore, "no-store", false, "do not save results to the database")

	rootCmd.AddCommand(processCmd)
}

// processReport is printed after a run.
type processReport struct {
	RunID     string             `json:"run_id"`
	Documents []documentSummary  `json:"documents"`
	Failures  []pipeline.Failure `json:"failures,omitempty"`
	Metrics   *metrics.Summary   `json:"metrics,omitempty"`
}

// documentSummary is the per-document digest shown on the terminal.
type documentSummary struct {
	ID                  string                  `json:"id"`
	InputFile           string                  `json:"input_file"`
	OutputFile          string                  `json:"output_file,omitempty"`
	DocumentType        types.DocumentType      `json:"document_type"`
	ClassConfidence     float64                 `json:"classification_confidence"`
	OverallConfidence   float64                 `json:"overall_confidence"`
	FieldCount          int                     `json:"field_count"`
	LowConfidenceFields []confidence.FieldScore `json:"low_confidence_fields,omitempty"`
	IsValid             bool                    `json:"is_valid"`
	Errors              []string                `json:"errors,omitempty"`
	Warnings            []string                `json:"warnings,omitempty"`
	Suggestions         []string                `json:"suggestions,omitempty"`
	ConsistencyRate     float64                 `json:"consistency_rate"`
}

func summarize(res *pipeline.Result, scorer *confidence.Scorer, out string) documentSummary {
	s := documentSummary{
		ID:                  res.ID,
		InputFile:           res.InputFile,
		OutputFile:          out,
		DocumentType:        res.DocumentType,
		ClassConfidence:     res.Classification.Confidence,
		OverallConfidence:   res.OverallConfidence,
		FieldCount:          len(res.ConfidenceScores),
		LowConfidenceFields: scorer.IdentifyLowConfidenceFields(res.ConfidenceScores),
		Suggestions:         res.Suggestions.GeneralSuggestions,
		ConsistencyRate:     res.Extraction.ConsistencyRate,
	}
	if v := res.ValidationResult; v != nil {
		s.IsValid = v.IsValid
		s.Errors = v.Errors
		s.Warnings = v.Warnings
	}
	return s
}

// parseTypeFlag accepts an empty value (classify) or any document type name.
func parseTypeFlag(s string) (types.DocumentType, error) {
	if s == "" {
		return "", nil
	}
	t, ok := types.ParseDocumentType(s)
	if !ok {
		return "", fmt.Errorf("invalid document type %q", s)
	}
	return t, nil
}
