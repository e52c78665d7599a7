// Command eptrace records and inspects NetTrace v4 trace files: record
// runs a small demo provider through a real session/buffer-manager
// pipeline, dump lists the blocks a trace file contains, and stats
// builds a post-hoc provider index over a completed trace.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/eventpipe/internal/logging"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:           "eptrace",
		Short:         "Record and inspect eventpipe NetTrace v4 files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentPreRun = func(*cobra.Command, []string) {
		cfg := logging.DefaultConfig()
		if verbose {
			cfg.Level = logging.LevelDebug
		}
		logging.SetDefault(logging.NewLogger(cfg))
	}

	root.AddCommand(newRecordCmd())
	root.AddCommand(newDumpCmd())
	root.AddCommand(newStatsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "eptrace:", err)
		os.Exit(1)
	}
}
