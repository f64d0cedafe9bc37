package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docextract/internal/config"
	"github.com/jackzampolin/docextract/internal/home"
	"github.com/jackzampolin/docextract/internal/llmcall"
	"github.com/jackzampolin/docextract/internal/metrics"
	"github.com/jackzampolin/docextract/internal/modelsvc"
	"github.com/jackzampolin/docextract/internal/ocr"
	"github.com/jackzampolin/docextract/internal/pipeline"
	"github.com/jackzampolin/docextract/internal/providers"
	"github.com/jackzampolin/docextract/internal/schema"
	"github.com/jackzampolin/docextract/internal/store"
	"github.com/jackzampolin/docextract/internal/svcctx"
)

// serviceOpts narrows what a command needs from bootstrap.
type serviceOpts struct {
	// noStore skips opening the results database even when storage is enabled.
	noStore bool
	// requireStore fails when storage is disabled.
	requireStore bool
}

// loadServices builds the shared services and returns a context carrying
// them. The returned func releases them and must be called.
func loadServices(cmd *cobra.Command, opts serviceOpts) (context.Context, func(), error) {
	ctx := cmd.Context()
	logger := slog.Default()

	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, nil, err
	}

	path := cfgFile
	if path == "" && homeDir != "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		return nil, nil, err
	}
	cfg := mgr.Get()

	registry := providers.NewRegistryFromConfig(cfg.ToProviderRegistryConfig())
	registry.SetLogger(logger)

	svc := &svcctx.Services{
		Config:   mgr,
		Home:     h,
		Registry: registry,
		Logger:   logger,
	}
	cleanup := func() {}

	if cfg.Storage.Enabled && !opts.noStore {
		dbPath := cfg.Storage.Database
		if dbPath == "" {
			dbPath = h.DatabasePath()
		}
		st, err := store.Open(dbPath, logger)
		if err != nil {
			return nil, nil, err
		}
		sink := store.NewSink(store.SinkConfig{Writer: st, Logger: logger})
		sink.Start(ctx)

		svc.Store = st
		svc.Sink = sink
		cleanup = func() {
			sink.Stop()
			if err := st.Close(); err != nil {
				logger.Warn("failed to close database", "error", err)
			}
		}
	} else if opts.requireStore {
		return nil, nil, fmt.Errorf("storage is disabled in %s", configName(mgr))
	}

	var metricsSink metrics.Sink
	if svc.Store != nil {
		metricsSink = svc.Store
	}
	svc.Metrics = metrics.NewRecorder(metrics.Pricing{
		InputPer1K:  cfg.Pricing.InputPer1K,
		OutputPer1K: cfg.Pricing.OutputPer1K,
	}, metricsSink, logger)
	if svc.Sink != nil {
		svc.Calls = llmcall.NewRecorder(svc.Sink)
	}

	return svcctx.WithServices(ctx, svc), cleanup, nil
}

func configName(mgr *config.Manager) string {
	if f := mgr.ConfigFile(); f != "" {
		return f
	}
	return "the default configuration"
}

// processorFlags are the per-invocation overrides shared by process and watch.
type processorFlags struct {
	docType             string
	noSelfConsistency   bool
	ocrProvider         string
	llmProvider         string
	confidenceThreshold float64
	consensus           string
	maxFixAttempts      int
}

func (f *processorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.docType, "type", "t", "", "document type (skips classification)")
	cmd.Flags().BoolVar(&f.noSelfConsistency, "no-self-consistency", false, "run a single extraction")
	cmd.Flags().StringVar(&f.ocrProvider, "ocr-provider", "", "OCR provider (default from config)")
	cmd.Flags().StringVar(&f.llmProvider, "llm-provider", "", "LLM provider (default from config)")
	cmd.Flags().Float64Var(&f.confidenceThreshold, "confidence-threshold", 0, "low-confidence threshold (default from config)")
	cmd.Flags().StringVar(&f.consensus, "consensus", "", "self-consistency consensus: first_success or field_vote")
	cmd.Flags().IntVar(&f.maxFixAttempts, "max-fix-attempts", -1, "correction rounds for invalid records (default from config)")
}

// modelService resolves the LLM provider and wraps it with the configured
// resilience settings.
func modelService(svc *svcctx.Services, name string) (*modelsvc.Service, error) {
	cfg := svc.Config.Get()
	if name == "" {
		name = cfg.Defaults.LLMProvider
	}
	client, err := svc.Registry.GetLLM(name)
	if err != nil {
		return nil, fmt.Errorf("LLM provider %q unavailable (check enabled and api_key): %w", name, err)
	}
	pcfg, _ := cfg.GetLLMProvider(name)
	e := cfg.Extraction
	return modelsvc.New(client, modelsvc.Config{
		Model:       pcfg.Model,
		Temperature: e.Temperature,
		MaxTokens:   e.MaxTokens,
		CallTimeout: e.CallTimeout(),
		MaxRetries:  e.MaxRetries,
		RetryDelay:  e.RetryDelay(),
		RateLimit:   pcfg.RateLimit,
	},
		modelsvc.WithMetrics(svc.Metrics),
		modelsvc.WithCallRecorder(svc.Calls),
		modelsvc.WithLogger(svc.Logger),
	), nil
}

// ocrReader resolves the OCR provider. A missing provider is not an error:
// text inputs still work and images fail with a clear message.
func ocrReader(svc *svcctx.Services, name string) *ocr.Reader {
	cfg := svc.Config.Get()
	if name == "" {
		name = cfg.Defaults.OCRProvider
	}
	opts := []ocr.Option{ocr.WithMetrics(svc.Metrics), ocr.WithLogger(svc.Logger)}
	if p, err := svc.Registry.GetOCR(name); err == nil {
		opts = append(opts, ocr.WithProvider(p))
	} else {
		svc.Logger.Debug("OCR provider unavailable", "provider", name, "error", err)
	}
	return ocr.NewReader(opts...)
}

// schemaRegistry loads the embedded schemas plus any from the schema
// directory (config schema_dir, else {home}/schemas).
func schemaRegistry(svc *svcctx.Services) (*schema.Registry, error) {
	reg, err := schema.NewRegistry(svc.Logger)
	if err != nil {
		return nil, err
	}
	dir := svc.Config.Get().SchemaDir
	if dir == "" {
		dir = svc.Home.SchemasDir()
	}
	if _, err := os.Stat(dir); err == nil {
		if _, err := reg.LoadDir(filepath.Clean(dir)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// newProcessor builds a pipeline from the current configuration and flags.
func newProcessor(svc *svcctx.Services, f *processorFlags, withStore bool) (*pipeline.Processor, error) {
	cfg := svc.Config.Get()
	pcfg := pipeline.ConfigFrom(cfg)
	if f.noSelfConsistency {
		pcfg.SelfConsistency = false
	}
	if f.confidenceThreshold > 0 {
		pcfg.ConfidenceThreshold = f.confidenceThreshold
	}
	if f.consensus != "" {
		if f.consensus != config.ConsensusFirstSuccess && f.consensus != config.ConsensusFieldVote {
			return nil, fmt.Errorf("unknown consensus %q (want %s or %s)", f.consensus, config.ConsensusFirstSuccess, config.ConsensusFieldVote)
		}
		pcfg.Consensus = f.consensus
	}
	if f.maxFixAttempts >= 0 {
		pcfg.MaxFixAttempts = f.maxFixAttempts
	}

	model, err := modelService(svc, f.llmProvider)
	if err != nil {
		return nil, err
	}
	schemas, err := schemaRegistry(svc)
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithReader(ocrReader(svc, f.ocrProvider)),
		pipeline.WithSchemas(schemas),
		pipeline.WithMetrics(svc.Metrics),
		pipeline.WithLogger(svc.Logger),
	}
	if withStore && svc.Store != nil {
		opts = append(opts, pipeline.WithStore(svc.Store))
	}
	return pipeline.New(model, pcfg, opts...)
}
