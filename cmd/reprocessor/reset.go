package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"reprocessor/pkg/progress"
	"reprocessor/pkg/source"
)

var (
	resetRanges []string
	resetFrom   int
	resetTo     int
	resetDir    string
)

// resetFilesCmd represents the reset-files command
var resetFilesCmd = &cobra.Command{
	Use:   "reset-files",
	Short: "Mark ranges of link files for reprocessing",
	Long: `Rewind the saved progress of link files so the next 'links' run processes
them again from the first line.

Positions are 1-based and inclusive over the files of the links directory in
name order. Files that were never processed are reported as missing and stay
untouched. Resetting the same range twice is harmless.`,
	Example: `  reprocessor reset-files --from 3 --to 5
  reprocessor reset-files --range 1-131 --range 397-656 --range 1186-1291`,
	Args: cobra.NoArgs,
	RunE: runResetFiles,
}

func init() {
	rootCmd.AddCommand(resetFilesCmd)
	resetFilesCmd.Flags().StringArrayVar(&resetRanges, "range", nil, "1-based inclusive range a-b (repeatable)")
	resetFilesCmd.Flags().IntVar(&resetFrom, "from", 0, "first file position (1-based)")
	resetFilesCmd.Flags().IntVar(&resetTo, "to", 0, "last file position (inclusive)")
	resetFilesCmd.Flags().StringVarP(&resetDir, "dir", "d", "", "directory of resource-link files (overrides links.directory)")
}

// collectRanges merges --from/--to with every --range value.
func collectRanges(from, to int, specs []string) ([]progress.Range, error) {
	var ranges []progress.Range
	if from != 0 || to != 0 {
		r := progress.Range{From: from, To: to}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	for _, s := range specs {
		r, err := progress.ParseRange(s)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	if len(ranges) == 0 {
		return nil, errors.New("at least one of --range or --from/--to is required")
	}
	return ranges, nil
}

func runResetFiles(cmd *cobra.Command, args []string) error {
	ranges, err := collectRanges(resetFrom, resetTo, resetRanges)
	if err != nil {
		return err
	}

	a, err := newApp(configOverridesForDir(resetDir))
	if err != nil {
		return err
	}
	defer a.Close()
	if a.cfg.Links.Directory == "" {
		return errors.New("links directory is required (--dir or links.directory)")
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	files, err := a.progressStore(ctx)
	if err != nil {
		return fmt.Errorf("open progress store: %w", err)
	}
	names, err := source.NewLineFiles(a.cfg.Links.Directory).ListUnits(ctx)
	if err != nil {
		return fmt.Errorf("list link files: %w", err)
	}

	report, err := progress.ResetFileRanges(ctx, files, names, ranges, a.log)
	fmt.Printf("Examined %d files: %d reset, %d missing\n", report.Examined, report.Reset, report.Missing)
	return err
}
