package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docextract/internal/api"
	"github.com/jackzampolin/docextract/internal/llmcall"
	"github.com/jackzampolin/docextract/internal/metrics"
	"github.com/jackzampolin/docextract/internal/store"
	"github.com/jackzampolin/docextract/internal/svcctx"
)

var (
	resultsType  string
	resultsRun   string
	resultsLimit int
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Query stored results",
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored results, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := loadServices(cmd, serviceOpts{requireStore: true})
		if err != nil {
			return err
		}
		defer cleanup()

		rows, err := svcctx.StoreFrom(ctx).ListResults(ctx, store.ResultFilter{
			DocumentType: resultsType,
			RunID:        resultsRun,
			Limit:        resultsLimit,
		})
		if err != nil {
			return err
		}
		// The listing omits the full documents.
		for i := range rows {
			rows[i].Data = nil
		}
		if rows == nil {
			rows = []store.ResultRow{}
		}
		return api.Output(rows)
	},
}

var resultsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one stored result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := loadServices(cmd, serviceOpts{requireStore: true})
		if err != nil {
			return err
		}
		defer cleanup()

		row, err := svcctx.StoreFrom(ctx).GetResult(ctx, args[0])
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(row.Data, &doc); err != nil {
			return err
		}
		return api.Output(doc)
	},
}

var resultsCallsCmd = &cobra.Command{
	Use:   "calls <run-id>",
	Short: "Show the model calls of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := loadServices(cmd, serviceOpts{requireStore: true})
		if err != nil {
			return err
		}
		defer cleanup()

		st := svcctx.StoreFrom(ctx)
		calls, err := st.ListCalls(ctx, args[0])
		if err != nil {
			return err
		}
		ms, err := st.ListMetrics(ctx, args[0])
		if err != nil {
			return err
		}
		if calls == nil {
			calls = []llmcall.Call{}
		}
		return api.Output(runReport{
			RunID:          args[0],
			Summary:        metrics.Summarize(ms),
			CostByModel:    metrics.CostByModel(ms),
			CostByProvider: metrics.CostByProvider(ms),
			Calls:          calls,
		})
	},
}

type runReport struct {
	RunID          string             `json:"run_id"`
	Summary        *metrics.Summary   `json:"summary"`
	CostByModel    map[string]float64 `json:"cost_by_model"`
	CostByProvider map[string]float64 `json:"cost_by_provider"`
	Calls          []llmcall.Call     `json:"calls"`
}

func init() {
	resultsListCmd.Flags().StringVarP(&resultsType, "type", "t", "", "filter by document type")
	resultsListCmd.Flags().StringVar(&resultsRun, "run", "", "filter by run ID")
	resultsListCmd.Flags().IntVar(&resultsLimit, "limit", 20, "maximum rows (0 for all)")

	resultsCmd.AddCommand(resultsListCmd, resultsShowCmd, resultsCallsCmd)
	rootCmd.AddCommand(resultsCmd)
}
