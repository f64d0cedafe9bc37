package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/docextract/internal/api"
	"github.com/jackzampolin/docextract/internal/classify"
	"github.com/jackzampolin/docextract/internal/modelsvc"
	"github.com/jackzampolin/docextract/internal/prompts"
	"github.com/jackzampolin/docextract/internal/svcctx"
)

var (
	classifyOCRProvider string
	classifyLLMProvider string
	classifyNoModel     bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify <file>",
	Short: "Detect the document type without extracting",
	Long: `Read a document and report its type, confidence and per-type scores.

The model is consulted only when the keyword heuristic is unsure. Use
--no-model to see the heuristic alone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := loadServices(cmd, serviceOpts{noStore: true})
		if err != nil {
			return err
		}
		defer cleanup()
		svc := svcctx.ServicesFrom(ctx)
		cfg := svc.Config.Get()

		raw, err := ocrReader(svc, classifyOCRProvider).Read(ctx, args[0])
		if err != nil {
			return err
		}

		b, err := prompts.NewBuilder(nil)
		if err != nil {
			return err
		}
		c := classify.New(
			classify.WithPrompts(b),
			classify.WithMaxTokens(cfg.Extraction.ClassifyMaxTokens),
			classify.WithLogger(svc.Logger),
		)

		var model modelsvc.Caller
		if !classifyNoModel {
			if m, err := modelService(svc, classifyLLMProvider); err == nil {
				model = m
			} else {
				svc.Logger.Warn("classifying without model fallback", "error", err)
			}
		}

		return api.Output(classifyReport{
			File:           args[0],
			WordCount:      raw.WordCount,
			PageCount:      raw.PageCount,
			OCREngine:      raw.Engine,
			Classification: c.Classify(ctx, raw.Text, model),
		})
	},
}

type classifyReport struct {
	File           string                  `json:"file"`
	WordCount      int                     `json:"word_count"`
	PageCount      int                     `json:"page_count"`
	OCREngine      string                  `json:"ocr_engine"`
	Classification classify.Classification `json:"classification"`
}

func init() {
	classifyCmd.Flags().StringVar(&classifyOCRProvider, "ocr-provider", "", "OCR provider (default from config)")
	classifyCmd.Flags().StringVar(&classifyLLMProvider, "llm-provider", "", "LLM provider (default from config)")
	classifyCmd.Flags().BoolVar(&classifyNoModel, "no-model", false, "use the keyword heuristic only")

	rootCmd.AddCommand(classifyCmd)
}
