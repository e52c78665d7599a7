package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	eventpipe "github.com/ehrlich-b/eventpipe"
	"github.com/ehrlich-b/eventpipe/internal/block"
)

func newDumpCmd() *cobra.Command {
	var decode bool
	cmd := &cobra.Command{
		Use:   "dump <trace-file>",
		Short: "List the blocks in a trace file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(args[0], decode)
		},
	}
	cmd.Flags().BoolVar(&decode, "decode", false, "decode event/metadata/stack records within each block")
	return cmd
}

func runDump(path string, decode bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	th, tr, err := eventpipe.OpenTraceReader(f)
	if err != nil {
		return fmt.Errorf("open trace: %w", err)
	}
	fmt.Printf("pid=%d pointerSize=%d cpus=%d sampleRateNs=%d openedAt=%s\n",
		th.ProcessID, th.PointerSize, th.NumberOfProcessors, th.SamplingRateNs, th.OpenedAt)

	metadataNames := make(map[uint32]string)
	ordinal := 0
	for {
		raw, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read block %d: %w", ordinal, err)
		}
		fmt.Printf("block[%d] type=%s bytes=%d\n", ordinal, raw.TypeName, len(raw.Data))

		if decode {
			switch raw.TypeName {
			case "MetadataBlock", "EventBlock":
				if err := dumpRecords(raw, metadataNames); err != nil {
					return err
				}
			case "StackBlock":
				dumpStacks(raw)
			case "SPBlock":
				dumpSequencePoint(raw)
			}
		}
		ordinal++
	}
	return nil
}

func dumpRecords(raw *eventpipe.RawBlock, metadataNames map[uint32]string) error {
	hdr, body, err := block.DecodeHeader(raw.Data)
	if err != nil {
		return err
	}
	recs, err := block.DecodeEvents(body, hdr.Compressed)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if raw.TypeName == "MetadataBlock" {
			id, name, _, err := eventpipe.DecodeMetadataPayload(r.Payload)
			if err != nil {
				return err
			}
			metadataNames[id] = name
			fmt.Printf("    metadata id=%d name=%q\n", id, name)
			continue
		}
		name := metadataNames[r.MetadataID]
		if name == "" {
			name = "<unknown>"
		}
		fmt.Printf("    event provider=%q metadataID=%d seq=%d thread=%d ts=%d payloadLen=%d\n",
			name, r.MetadataID, r.SequenceNumber, r.ThreadID, r.Timestamp, len(r.Payload))
	}
	return nil
}

func dumpStacks(raw *eventpipe.RawBlock) {
	if len(raw.Data) < 8 {
		fmt.Println("    stack decode error: truncated header")
		return
	}
	initialID := binary.LittleEndian.Uint32(raw.Data[0:4])
	stacks, err := block.DecodeStacks(raw.Data[8:], initialID)
	if err != nil {
		fmt.Printf("    stack decode error: %v\n", err)
		return
	}
	for _, s := range stacks {
		fmt.Printf("    stack id=%d frames=%d\n", s.ID, len(s.IPs))
	}
}

func dumpSequencePoint(raw *eventpipe.RawBlock) {
	ts, entries, err := block.DecodeSequencePoint(raw.Data)
	if err != nil {
		fmt.Printf("    sequence point decode error: %v\n", err)
		return
	}
	fmt.Printf("    sequence point ts=%d threads=%d\n", ts, len(entries))
}
