package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"reprocessor/internal/executor"
	"reprocessor/pkg/config"
	"reprocessor/pkg/progress"
	"reprocessor/pkg/source"
)

var (
	statusFiles bool
	statusDir   string
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show saved campaign progress",
	Long: `Show the saved progress of every dataset, or of every link file with --files.

Nothing is processed; the command only reads the progress store.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusFiles, "files", false, "show link file progress instead of datasets")
	statusCmd.Flags().StringVarP(&statusDir, "dir", "d", "", "directory of resource-link files (overrides links.directory)")
}

func configOverridesForDir(dir string) config.Overrides {
	return config.Overrides{LinksDir: &dir}
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(configOverridesForDir(statusDir))
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	store, err := a.progressStore(ctx)
	if err != nil {
		return fmt.Errorf("open progress store: %w", err)
	}

	var out string
	if statusFiles {
		out, err = fileStatus(ctx, store, a.cfg.Links.Directory)
	} else {
		out, err = datasetStatus(ctx, store, time.Now())
	}
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func datasetStatus(ctx context.Context, store progress.Store, now time.Time) (string, error) {
	ids, err := store.ListUnitsOrdered(ctx)
	if err != nil {
		return "", fmt.Errorf("list progress: %w", err)
	}
	if len(ids) == 0 {
		return "No dataset progress recorded.", nil
	}

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		rec, err := store.Get(ctx, id)
		if err != nil {
			return "", err
		}
		if rec == nil {
			continue
		}
		rows = append(rows, []string{
			strconv.Itoa(rec.OrderedIndex),
			rec.UnitID,
			recordState(rec),
			humanize.Comma(rec.TotalProcessed) + " / " + humanize.Comma(rec.TotalItems),
			humanize.Comma(rec.TotalFailed),
			humanize.RelTime(rec.StartedAt, now, "ago", "from now"),
		})
	}
	return renderTable(
		[]string{"#", "Dataset", "State", "Processed", "Failed", "Started"},
		rows, alignRight(0, 3, 4),
	), nil
}

func recordState(rec *progress.Record) string {
	switch {
	case rec.Completed():
		return "completed"
	case rec.Done():
		return "exhausted"
	case rec.TotalProcessed > 0:
		return "in progress"
	}
	return "pending"
}

func fileStatus(ctx context.Context, store progress.FileStore, dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("links directory is required (--dir or links.directory)")
	}
	names, err := source.NewLineFiles(dir).ListUnits(ctx)
	if err != nil {
		return "", fmt.Errorf("list link files: %w", err)
	}

	rows := make([][]string, 0, len(names))
	for i, name := range names {
		fp, err := store.GetFile(ctx, name)
		if err != nil {
			return "", err
		}
		state, lines, failed := "pending", "-", "-"
		if fp != nil {
			lines = humanize.Comma(fp.LineReached)
			failed = humanize.Comma(fp.TotalFailed)
			state = "in progress"
			if fp.EndOfFileReached {
				state = "completed"
			}
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), name, state, lines, failed})
	}
	return renderTable([]string{"#", "File", "State", "Lines", "Failed"}, rows, alignRight(0, 3, 4)), nil
}

// renderSummary formats the outcome of a campaign.
func renderSummary(s executor.Summary) string {
	rows := [][]string{
		{"Attempted", strconv.Itoa(s.Attempted)},
		{"Completed", strconv.Itoa(s.Completed)},
		{"Skipped", strconv.Itoa(s.Skipped)},
		{"Locked", strconv.Itoa(s.Locked)},
		{"Failed", strconv.Itoa(s.Failed)},
		{"Stopped", strconv.Itoa(s.Stopped)},
		{"Items", humanize.Comma(s.Items)},
		{"Items failed", humanize.Comma(s.ItemsFailed)},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
	}
	return renderTable([]string{"Campaign", "Value"}, rows, alignRight(1))
}
