package eventpipe

import (
	"fmt"
	"io"
	"os"

	"github.com/ehrlich-b/eventpipe/internal/block"
	"github.com/ehrlich-b/eventpipe/internal/sink/boltindex"
)

// ProviderStats summarizes one provider's presence in a trace, the
// result BuildIndex accumulates while scanning.
type ProviderStats struct {
	Name        string
	EventBlocks int
	Events      int
}

// BuildIndex scans the trace file at tracePath block by block and
// writes a bbolt-backed provider index to indexPath, returning a
// per-provider summary. Since the fast-serialization stream here is
// read from a plain io.Reader rather than a seekable file, "offset" in
// the resulting index is the block's ordinal position in the stream,
// not a byte offset — enough for boltindex's stated purpose ("events
// by provider name" without a second full parse) without requiring
// random access.
func BuildIndex(tracePath, indexPath string) ([]ProviderStats, error) {
	f, err := os.Open(tracePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	_, tr, err := OpenTraceReader(f)
	if err != nil {
		return nil, fmt.Errorf("eventpipe: open trace: %w", err)
	}

	idx, err := boltindex.Open(indexPath)
	if err != nil {
		return nil, fmt.Errorf("eventpipe: open index: %w", err)
	}
	defer idx.Close()

	metadataNames := make(map[uint32]string)
	stats := make(map[string]*ProviderStats)
	blockOrdinal := int64(0)

	for {
		raw, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("eventpipe: read block %d: %w", blockOrdinal, err)
		}

		switch raw.TypeName {
		case "MetadataBlock":
			hdr, body, err := block.DecodeHeader(raw.Data)
			if err != nil {
				return nil, err
			}
			recs, err := block.DecodeEvents(body, hdr.Compressed)
			if err != nil {
				return nil, err
			}
			for _, r := range recs {
				id, name, _, err := DecodeMetadataPayload(r.Payload)
				if err != nil {
					return nil, err
				}
				metadataNames[id] = name
			}
		case "EventBlock":
			hdr, body, err := block.DecodeHeader(raw.Data)
			if err != nil {
				return nil, err
			}
			recs, err := block.DecodeEvents(body, hdr.Compressed)
			if err != nil {
				return nil, err
			}
			seenProviders := make(map[string]bool)
			for _, r := range recs {
				name := metadataNames[r.MetadataID]
				if name == "" {
					name = "<unknown>"
				}
				s, ok := stats[name]
				if !ok {
					s = &ProviderStats{Name: name}
					stats[name] = s
				}
				s.Events++
				if !seenProviders[name] {
					seenProviders[name] = true
					s.EventBlocks++
					if err := idx.RecordOffset(name, blockOrdinal); err != nil {
						return nil, err
					}
				}
			}
		}
		blockOrdinal++
	}

	out := make([]ProviderStats, 0, len(stats))
	for _, s := range stats {
		out = append(out, *s)
	}
	return out, nil
}
