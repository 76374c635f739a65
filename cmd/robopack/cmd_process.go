package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/robopack/robopack/internal/aggregate"
	"github.com/robopack/robopack/internal/config"
	"github.com/robopack/robopack/internal/discovery"
	"github.com/robopack/robopack/internal/store"
)

var (
	processEnvs       []string
	processFurniture  []string
	processSources    []string
	processRandomness []string
	processOutcomes   []string
	processOverwrite  bool
	processOutput     string
	processDataDir    string
	processChunkSize  int
	processWorkers    int
)

func newProcessCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Convert raw demos into a chunked training dataset",
		Long: `Convert every raw demo matching the selection filters into a single
chunked, per-channel compressed columnar store.

The conversion is all-or-nothing: one undecodable or misaligned demo aborts
the whole run, and no store appears at the output path unless every channel
was written.`,
		Args: cobra.NoArgs,
		RunE: processCommandE,
	}

	cmd.Flags().StringSliceVarP(&processEnvs, "env", "e", nil, "Filter demos by environment (can be repeated)")
	cmd.Flags().StringSliceVarP(&processFurniture, "furniture", "f", nil, "Filter demos by furniture/task (can be repeated)")
	cmd.Flags().StringSliceVarP(&processSources, "source", "s", nil, "Filter demos by source: scripted, rollout, teleop")
	cmd.Flags().StringSliceVarP(&processRandomness, "randomness", "r", nil, "Filter demos by randomness level")
	cmd.Flags().StringSliceVarP(&processOutcomes, "demo-outcome", "d", nil, "Filter demos by outcome: success, failure")
	cmd.Flags().BoolVar(&processOverwrite, "overwrite", false, "Replace an existing store at the output path")
	cmd.Flags().StringVarP(&processOutput, "output", "o", "", "Output store path (default: derived from filters under <data-dir>/processed)")
	cmd.Flags().StringVar(&processDataDir, "data-dir", "", "Dataset root holding the raw/ tree (default: from .robopack.yaml)")
	cmd.Flags().IntVar(&processChunkSize, "chunk-size", 0, "Leading-dimension chunk length (default: from .robopack.yaml)")
	cmd.Flags().IntVar(&processWorkers, "workers", 0, "Number of concurrent workers (default: one per CPU)")

	return cmd
}

func processCommandE(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	// CLI flags override project config
	dataDir := cfg.DataDir
	if processDataDir != "" {
		dataDir = processDataDir
	}
	chunkSize := cfg.ChunkSize
	if processChunkSize > 0 {
		chunkSize = processChunkSize
	}
	workers := cfg.Workers
	if processWorkers > 0 {
		workers = processWorkers
	}
	noopThreshold := config.DefaultNoopThreshold
	if cfg.NoopThreshold != nil {
		noopThreshold = *cfg.NoopThreshold
	}

	filter := discovery.Filter{
		Environments: processEnvs,
		Furniture:    processFurniture,
		Sources:      processSources,
		Randomness:   processRandomness,
		Outcomes:     processOutcomes,
	}

	demos, err := discovery.FindDemos(filepath.Join(dataDir, "raw"), filter)
	if err != nil {
		return err
	}
	if len(demos) == 0 {
		return fmt.Errorf("no demo files matched the selection filters under %s", filepath.Join(dataDir, "raw"))
	}
	fmt.Printf("Found %d demo files\n", len(demos))

	outputPath := processOutput
	if outputPath == "" {
		outputPath = discovery.ProcessedPath(dataDir, filter)
	}
	fmt.Printf("Output path: %s\n", outputPath)

	// Fail before any processing work if the target is occupied.
	if _, err := os.Stat(outputPath); err == nil && !processOverwrite {
		return fmt.Errorf("%w: %s (use --overwrite to replace it)", store.ErrExists, outputPath)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking output path: %w", err)
	}

	inputs := make([]aggregate.Input, 0, len(demos))
	for _, demo := range demos {
		inputs = append(inputs, aggregate.Input{Path: demo.Path, Source: demo.Source})
	}

	agg := aggregate.New(aggregate.Options{Workers: workers, NoopThreshold: noopThreshold})
	agg.OnProgress(func(event aggregate.ProgressEvent) {
		switch event.EventType {
		case aggregate.EventEpisodeDone:
			fmt.Printf("\rProcessing files: %d/%d", event.Completed, event.Total)
			slog.Debug("episode decoded", "source", event.Source, "length", event.Length)
		case aggregate.EventComplete:
			fmt.Println()
		}
	})

	dataset, err := agg.Run(cmd.Context(), inputs)
	if err != nil {
		return err
	}

	err = store.Write(cmd.Context(), outputPath, dataset.Channels(), store.Options{
		ChunkSize: chunkSize,
		Overwrite: processOverwrite,
		Workers:   workers,
		Attrs:     map[string]any{"noop_threshold": noopThreshold},
		Progress: func(name string) {
			slog.Debug("channel written", "channel", name)
		},
	})
	if err != nil {
		return err
	}

	fmt.Printf("Wrote %d episodes (%d timesteps) to %s\n", dataset.Episodes, dataset.Timesteps, outputPath)
	return nil
}
