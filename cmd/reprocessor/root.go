package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
)

// errIncomplete is returned when a campaign ends with units left to do.
var errIncomplete = errors.New("campaign incomplete")

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reprocessor",
	Short: "Resumable, checkpointed reprocessing of paged record collections",
	Long: `reprocessor walks large record collections page by page and hands each page
to a processor. Progress is checkpointed after every page, so an interrupted
campaign resumes exactly where it stopped.

Units (datasets or files of resource links) run in parallel on a fixed pool
of workers and can be sharded across machines by index range.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and exits non-zero on
// failure or when a campaign did not finish every unit.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./reprocessor.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`reprocessor {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
