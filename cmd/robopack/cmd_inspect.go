package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robopack/robopack/internal/store"
)

func newInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <store-path>",
		Short: "Print a dataset store's channels and metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectCommandE,
	}
	return cmd
}

func inspectCommandE(cmd *cobra.Command, args []string) error {
	st, err := store.Open(args[0])
	if err != nil {
		return err
	}

	params, err := st.Params()
	if err != nil {
		return err
	}

	fmt.Printf("Store: %s\n", args[0])
	fmt.Printf("  created:        %s\n", params.TimeCreated)
	fmt.Printf("  finished:       %s\n", params.TimeFinished)
	fmt.Printf("  chunk size:     %d\n", params.ChunkSize)
	fmt.Printf("  noop threshold: %g\n", params.NoopThreshold)
	fmt.Println()

	fmt.Printf("%-16s %-8s %-20s %-8s %s\n", "CHANNEL", "DTYPE", "SHAPE", "CHUNKS", "COMPRESSOR")
	for _, name := range st.Channels() {
		meta, _ := st.Meta(name)

		compressor := "none"
		if meta.Compressor != nil {
			compressor = fmt.Sprintf("%s(level=%d, shuffle=%t)", meta.Compressor.ID, meta.Compressor.Level, meta.Compressor.Shuffle)
		}
		fmt.Printf("%-16s %-8s %-20v %-8d %s\n", name, meta.Dtype, meta.Shape, meta.NumChunks, compressor)
	}
	return nil
}
