package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docextract/internal/api"
	"github.com/jackzampolin/docextract/internal/record"
	"github.com/jackzampolin/docextract/internal/svcctx"
	"github.com/jackzampolin/docextract/internal/types"
	"github.com/jackzampolin/docextract/internal/validate"
)

var validateType string

var validateCmd = &cobra.Command{
	Use:   "validate <record.json>",
	Short: "Validate an extracted record",
	Long: `Check a JSON record against the rules for its document type and print
errors, warnings and correction suggestions.

The type comes from --type, else from the record's document_type field.
A saved result file (with an extracted_data field) is also accepted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		rec, err := record.FromJSON(data)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", args[0], err)
		}
		if inner, ok := rec["extracted_data"].(map[string]any); ok {
			rec = record.Record(inner)
		}

		docType, err := parseTypeFlag(validateType)
		if err != nil {
			return err
		}
		if docType == "" {
			docType = types.DocumentType(rec.DocumentType())
		}
		if docType == "" {
			return fmt.Errorf("no document type: pass --type or set document_type in the record")
		}

		ctx, cleanup, err := loadServices(cmd, serviceOpts{noStore: true})
		if err != nil {
			return err
		}
		defer cleanup()
		svc := svcctx.ServicesFrom(ctx)

		schemas, err := schemaRegistry(svc)
		if err != nil {
			return err
		}
		v := validate.New(validate.WithSchemas(schemas), validate.WithLogger(svc.Logger))
		res := v.Validate(rec, docType)

		return api.Output(validateReport{
			File:         args[0],
			DocumentType: docType,
			Validation:   res,
			Suggestions:  validate.SuggestCorrections(rec, res),
		})
	},
}

type validateReport struct {
	File         string               `json:"file"`
	DocumentType types.DocumentType   `json:"document_type"`
	Validation   *validate.Result     `json:"validation_result"`
	Suggestions  validate.Suggestions `json:"suggestions"`
}

func init() {
	validateCmd.Flags().StringVarP(&validateType, "type", "t", "", "document type (default: the record's document_type)")

	rootCmd.AddCommand(validateCmd)
}
