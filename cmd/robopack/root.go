package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "robopack",
		Short: "Robopack - convert robot demonstrations into training datasets",
		Long: `Robopack converts collections of recorded robot-manipulation demos into
chunked, compressed, randomly indexable columnar datasets for training.

Raw demos are decoded and re-parameterized in parallel, aggregated into
contiguous per-channel arrays, and written to a columnar store in one pass.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *debugLogging {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	// Add subcommands
	cmd.AddCommand(newProcessCommand())
	cmd.AddCommand(newInspectCommand())

	return cmd
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.Execute()
}
