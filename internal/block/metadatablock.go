package block

import "github.com/ehrlich-b/eventpipe/internal/ringbuf"

// MetadataBlock shares EventBlock's header and per-event record layout;
// it carries metadata events (metadata_id, name, descriptor blob as the
// payload) instead of user events.
type MetadataBlock struct {
	EventBlock
}

// NewMetadataBlock creates an empty MetadataBlock for the given format.
func NewMetadataBlock(format Format) *MetadataBlock {
	return &MetadataBlock{EventBlock: *NewEventBlock(format)}
}

// WriteMetadata appends one metadata record. Metadata records are
// always sorted (there is no reordering concern for them) and carry no
// stack.
func (b *MetadataBlock) WriteMetadata(rec *ringbuf.Record) bool {
	return b.WriteEvent(rec, 0, true)
}
