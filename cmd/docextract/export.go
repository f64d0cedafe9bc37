package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docextract/internal/export"
	"github.com/jackzampolin/docextract/internal/store"
	"github.com/jackzampolin/docextract/internal/svcctx"
)

var (
	exportOut  string
	exportType string
	exportRun  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored results to an xlsx workbook",
	Long: `Write stored results to a spreadsheet: a summary sheet plus one sheet per
document type with a column for every extracted field.

Examples:
  docextract export --out results.xlsx
  docextract export --type invoice`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := loadServices(cmd, serviceOpts{requireStore: true})
		if err != nil {
			return err
		}
		defer cleanup()
		svc := svcctx.ServicesFrom(ctx)

		rows, err := svc.Store.ListResults(ctx, store.ResultFilter{DocumentType: exportType, RunID: exportRun})
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = filepath.Join(svc.Home.ExportsDir(), fmt.Sprintf("results_%s.xlsx", time.Now().Format("20060102_150405")))
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := export.WriteXLSX(f, rows, svc.Logger); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d results to %s\n", len(rows), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default: {home}/exports/results_<time>.xlsx)")
	exportCmd.Flags().StringVarP(&exportType, "type", "t", "", "only this document type")
	exportCmd.Flags().StringVar(&exportRun, "run", "", "only this run ID")

	rootCmd.AddCommand(exportCmd)
}
