package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"reprocessor/internal/engine"
	"reprocessor/pkg/source"
)

var (
	linksFlags campaignFlags
	linksDir   string
)

// linksCmd represents the links command
var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "Generate technical metadata for files of resource links",
	Long: `Walk a directory of resource-link files, one URL per line, and store the
technical metadata of every resource in the cache.

Files are processed in name order and numbered from 0. The line reached in
each file is saved after every page; finished files are skipped on the next
run. Use 'reprocessor reset-files' to process files again.`,
	Example: `  reprocessor links --dir ./links --workers 4
  reprocessor links --dir ./links --start 0 --end 99`,
	Args: cobra.NoArgs,
	RunE: runLinks,
}

func init() {
	rootCmd.AddCommand(linksCmd)
	linksFlags.register(linksCmd)
	linksCmd.Flags().StringVarP(&linksDir, "dir", "d", "", "directory of resource-link files (overrides links.directory)")
}

func runLinks(cmd *cobra.Command, args []string) error {
	o := linksFlags.overrides(cmd)
	o.LinksDir = &linksDir
	a, err := newApp(o)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Links.Directory == "" {
		return errors.New("links directory is required (--dir or links.directory)")
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	a.serveMetrics(ctx)

	files, err := a.progressStore(ctx)
	if err != nil {
		return fmt.Errorf("open progress store: %w", err)
	}
	proc, err := a.techmetaProcessor(ctx)
	if err != nil {
		return err
	}

	src := source.NewLineFiles(a.cfg.Links.Directory)
	names, err := src.ListUnits(ctx)
	if err != nil {
		return fmt.Errorf("list link files: %w", err)
	}
	a.log.InfoWithFields("link files listed", map[string]interface{}{
		"directory": src.Dir(),
		"files":     len(names),
	})

	eng, err := engine.New(engine.Config{
		Files:     files,
		Source:    src,
		Processor: proc,
		PageSize:  a.cfg.Campaign.PageSize,
		Logger:    a.log,
		Hook:      a.metrics,
	})
	if err != nil {
		return err
	}
	return a.runCampaign(ctx, eng, orderedUnits(names, engine.KindFile))
}
