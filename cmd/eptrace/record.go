package main

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	eventpipe "github.com/ehrlich-b/eventpipe"
	"github.com/ehrlich-b/eventpipe/internal/block"
)

func newRecordCmd() *cobra.Command {
	var (
		out        string
		duration   time.Duration
		rateHz     int
		bufferMB   int64
		v3         bool
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a demo trace to a NetTrace v4 file",
		RunE: func(cmd *cobra.Command, args []string) error {
			format := block.FormatNetTraceV4
			if v3 {
				format = block.FormatNetPerfV3
			}
			return runRecord(out, duration, rateHz, bufferMB, format)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "trace.nettrace", "output trace file path")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 2*time.Second, "how long to record")
	cmd.Flags().IntVar(&rateHz, "rate", 100, "demo events emitted per second")
	cmd.Flags().Int64Var(&bufferMB, "buffer-mb", 16, "per-session circular buffer size in MB")
	cmd.Flags().BoolVar(&v3, "v3", false, "use the legacy NetPerf V3 wire format")
	return cmd
}

func runRecord(out string, duration time.Duration, rateHz int, bufferMB int64, format block.Format) error {
	ep := eventpipe.New()
	ep.Init()
	ep.FinishInit()

	provider := ep.Config().CreateProvider("Eptrace-Demo", nil, nil)
	tick := eventpipe.NewEvent(provider, 1, 0, 1, eventpipe.LevelInformational, false, nil)

	id, err := ep.Enable(eventpipe.EnableOptions{
		Type:             eventpipe.TypeFile,
		Format:           format,
		OutputPath:       out,
		CircularBufferMB: bufferMB,
		Providers:        []eventpipe.SessionProviderConfig{eventpipe.CatchAllProvider()},
	})
	if err != nil {
		return fmt.Errorf("enable session: %w", err)
	}

	thread := ep.Registry().NewAndRegister()
	defer thread.Unregister()

	interval := time.Second / time.Duration(rateHz)
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.Now().Add(duration)
	var n uint32
	var zero [16]byte
	for time.Now().Before(deadline) {
		<-ticker.C
		payload := make([]byte, 4)
		binary.LittleEndian.PutUint32(payload, n)
		ep.WriteEvent(thread, tick, payload, zero, zero, nil)
		n++
	}

	if err := ep.Disable(id); err != nil {
		return fmt.Errorf("disable session: %w", err)
	}
	fmt.Printf("wrote %d events to %s\n", n, out)
	return nil
}
