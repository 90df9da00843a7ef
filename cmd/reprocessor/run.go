package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reprocessor/internal/engine"
	"reprocessor/internal/techmeta"
	"reprocessor/pkg/cache"
	"reprocessor/pkg/source"
)

var (
	runFlags     campaignFlags
	runProcessor string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reprocess every dataset of the configured record source",
	Long: `Reprocess the datasets of the configured record source (HTTP or MongoDB).

Datasets are listed in lexical order and numbered from 0; --start and --end
select a slice of that order so several machines can share a campaign.
Progress is saved after every page, so rerunning the same command after an
interruption resumes where it stopped and skips finished datasets.

Processors:
  techmeta     fetch technical metadata of every item URL into the cache
  passthrough  only walk the records and count them`,
	Example: `  # Reprocess everything with 8 workers
  reprocessor run --workers 8

  # Process datasets 100..199 of the ordered list
  reprocessor run --start 100 --end 199`,
	Args: cobra.NoArgs,
	RunE: runDatasets,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runFlags.register(runCmd)
	runCmd.Flags().StringVar(&runProcessor, "processor", "techmeta", "page processor (techmeta, passthrough)")
}

func runDatasets(cmd *cobra.Command, args []string) error {
	a, err := newApp(runFlags.overrides(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	a.serveMetrics(ctx)

	store, err := a.progressStore(ctx)
	if err != nil {
		return fmt.Errorf("open progress store: %w", err)
	}
	src, err := a.recordSource(ctx)
	if err != nil {
		return fmt.Errorf("open record source: %w", err)
	}
	proc, err := a.datasetProcessor(ctx, runProcessor)
	if err != nil {
		return err
	}

	ids, err := src.ListUnits(ctx)
	if err != nil {
		return fmt.Errorf("list datasets: %w", err)
	}
	a.log.InfoWithFields("datasets listed", map[string]interface{}{
		"datasets":  len(ids),
		"processor": runProcessor,
	})

	eng, err := engine.New(engine.Config{
		Progress:  store,
		Source:    src,
		Processor: proc,
		PageSize:  a.cfg.Campaign.PageSize,
		Logger:    a.log,
		Hook:      a.metrics,
	})
	if err != nil {
		return err
	}
	return a.runCampaign(ctx, eng, orderedUnits(ids, engine.KindDataset))
}

func (a *app) datasetProcessor(ctx context.Context, name string) (engine.Processor, error) {
	switch strings.ToLower(name) {
	case "techmeta":
		return a.techmetaProcessor(ctx)
	case "passthrough":
		return engine.ProcessorFunc(passthrough), nil
	}
	return nil, fmt.Errorf("unknown processor %q", name)
}

// techmetaProcessor builds the metadata processor over the configured cache.
func (a *app) techmetaProcessor(ctx context.Context) (*techmeta.Processor, error) {
	store, err := a.cacheStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return techmeta.New(cache.New(store), techmeta.Options{
		Fetch:    a.cfg.Fetch,
		Parallel: a.cfg.Campaign.ParallelPerUnit,
		Retrier:  a.retrier(),
		Logger:   a.log,
		OnLookup: a.metrics.CacheLookup,
	}), nil
}

// passthrough accepts every item without touching it.
func passthrough(ctx context.Context, unit engine.WorkUnit, items []source.Item) (engine.Outcome, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return engine.Outcome{}, err
	}
	return engine.Outcome{
		Processed:         len(items),
		ProcessingSeconds: time.Since(start).Seconds(),
	}, nil
}
