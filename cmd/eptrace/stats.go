package main

import (
	"fmt"

	"github.com/spf13/cobra"

	eventpipe "github.com/ehrlich-b/eventpipe"
)

func newStatsCmd() *cobra.Command {
	var indexPath string
	cmd := &cobra.Command{
		Use:   "stats <trace-file>",
		Short: "Build a per-provider index over a completed trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(args[0], indexPath)
		},
	}
	cmd.Flags().StringVar(&indexPath, "index", "", "index file path (defaults to <trace-file>.idx)")
	return cmd
}

func runStats(tracePath, indexPath string) error {
	if indexPath == "" {
		indexPath = tracePath + ".idx"
	}
	stats, err := eventpipe.BuildIndex(tracePath, indexPath)
	if err != nil {
		return err
	}
	for _, s := range stats {
		fmt.Printf("%-40s blocks=%-6d events=%d\n", s.Name, s.EventBlocks, s.Events)
	}
	fmt.Printf("index written to %s\n", indexPath)
	return nil
}
