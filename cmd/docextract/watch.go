package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/docextract/internal/api"
	"github.com/jackzampolin/docextract/internal/config"
	"github.com/jackzampolin/docextract/internal/ocr"
	"github.com/jackzampolin/docextract/internal/pipeline"
	"github.com/jackzampolin/docextract/internal/svcctx"
)

var (
	watchFlags    processorFlags
	watchSettle   time.Duration
	watchExisting bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Process documents as they appear in a directory",
	Long: `Watch a directory and process every supported file that is created or
written there. Results are written next to each input and stored.

Config file changes are picked up without a restart: providers are reloaded
and the next document uses the new settings.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		if watchSettle < 100*time.Millisecond {
			watchSettle = 100 * time.Millisecond
		}
		if fi, err := os.Stat(dir); err != nil {
			return err
		} else if !fi.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		docType, err := parseTypeFlag(watchFlags.docType)
		if err != nil {
			return err
		}

		ctx, cleanup, err := loadServices(cmd, serviceOpts{})
		if err != nil {
			return err
		}
		defer cleanup()
		svc := svcctx.ServicesFrom(ctx)

		var (
			mu    sync.Mutex
			proc  *pipeline.Processor
			stale = true
		)
		svc.Config.OnChange(func(c *config.Config) {
			svc.Registry.Reload(c.ToProviderRegistryConfig())
			mu.Lock()
			stale = true
			mu.Unlock()
			svc.Logger.Info("config reloaded", "llm_providers", svc.Registry.ListLLM(), "ocr_providers", svc.Registry.ListOCR())
		})
		svc.Config.WatchConfig()

		processor := func() (*pipeline.Processor, error) {
			mu.Lock()
			defer mu.Unlock()
			if stale {
				p, err := newProcessor(svc, &watchFlags, true)
				if err != nil {
					return nil, err
				}
				proc, stale = p, false
			}
			return proc, nil
		}

		handle := func(path string) {
			p, err := processor()
			if err != nil {
				svc.Logger.Error("cannot build pipeline", "error", err)
				return
			}
			batch := p.ProcessAll(ctx, []string{path}, docType)
			for _, f := range batch.Failures {
				svc.Logger.Error("document failed", "file", f.File, "error", f.Error)
			}
			for _, res := range batch.Results {
				out := pipeline.OutputPath(res.InputFile)
				if _, err := pipeline.WriteResult(out, res); err != nil {
					svc.Logger.Error("failed to write result", "file", out, "error", err)
					continue
				}
				if err := api.Output(summarize(res, p.Scorer(), out)); err != nil {
					svc.Logger.Warn("failed to print summary", "error", err)
				}
			}
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}

		if watchExisting {
			entries, err := os.ReadDir(dir)
			if err != nil {
				return err
			}
			for _, e := range entries {
				path := filepath.Join(dir, e.Name())
				if !e.IsDir() && watchable(path) {
					handle(path)
				}
			}
		}

		svc.Logger.Info("watching for documents", "dir", dir, "settle", watchSettle)

		// Files are processed once they have been quiet for watchSettle, so a
		// copy in progress is not read half-written.
		pending := make(map[string]time.Time)
		ticker := time.NewTicker(watchSettle / 2)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				if watchable(event.Name) {
					pending[event.Name] = time.Now()
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				svc.Logger.Warn("watch error", "error", err)

			case now := <-ticker.C:
				for path, last := range pending {
					if now.Sub(last) < watchSettle {
						continue
					}
					delete(pending, path)
					handle(path)
				}
			}
		}
	},
}

// watchable reports whether path is an input the pipeline accepts and not
// one of its own outputs.
func watchable(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.Contains(base, "_extracted") {
		return false
	}
	return ocr.Supported(path)
}

func init() {
	watchFlags.register(watchCmd)
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 2*time.Second, "quiet period before a changed file is processed")
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "also process files already in the directory")

	rootCmd.AddCommand(watchCmd)
}
