// Package metrics exposes the session's authoritative atomic counters
// through a prometheus.Collector, without making the counters
// themselves sampled or approximate: Collect always reads the live
// atomics at scrape time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is a point-in-time read of one session's counters. The
// session (root package) builds this from its buffer manager's atomic
// fields; this package only knows about the resulting numbers, so it
// carries no import-cycle risk back to the root package.
type Snapshot struct {
	SessionIndex                int
	NumOversizedEventsDropped   uint64
	BytesDroppedOnOversized     uint64
	SequencePointsEmitted       uint64
	BuffersAllocated            uint64
	BuffersReclaimed            uint64
	SizeOfAllBuffers            int64
	Budget                      int64
}

// SnapshotFunc is called at scrape time to gather the current state of
// every live session.
type SnapshotFunc func() []Snapshot

// Collector implements prometheus.Collector over a SnapshotFunc.
type Collector struct {
	snapshot SnapshotFunc

	oversizedDropped  *prometheus.Desc
	bytesDropped      *prometheus.Desc
	seqPointsEmitted  *prometheus.Desc
	buffersAllocated  *prometheus.Desc
	buffersReclaimed  *prometheus.Desc
	sizeOfAllBuffers  *prometheus.Desc
	budget            *prometheus.Desc
}

// NewCollector builds a Collector that calls snapshot on every scrape.
func NewCollector(snapshot SnapshotFunc) *Collector {
	label := []string{"session"}
	return &Collector{
		snapshot:         snapshot,
		oversizedDropped: prometheus.NewDesc("eventpipe_oversized_events_dropped_total", "Events dropped for exceeding the payload size limit.", label, nil),
		bytesDropped:     prometheus.NewDesc("eventpipe_bytes_dropped_on_oversized_total", "Payload bytes of events dropped for exceeding the payload size limit.", label, nil),
		seqPointsEmitted: prometheus.NewDesc("eventpipe_sequence_points_emitted_total", "Sequence points emitted by the buffer manager.", label, nil),
		buffersAllocated: prometheus.NewDesc("eventpipe_buffers_allocated_total", "Buffers allocated by the buffer manager.", label, nil),
		buffersReclaimed: prometheus.NewDesc("eventpipe_buffers_reclaimed_total", "Buffers reclaimed by the buffer manager's reader.", label, nil),
		sizeOfAllBuffers: prometheus.NewDesc("eventpipe_size_of_all_buffers_bytes", "Current cumulative allocated buffer bytes.", label, nil),
		budget:           prometheus.NewDesc("eventpipe_buffer_budget_bytes", "Configured buffer byte budget.", label, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.oversizedDropped
	ch <- c.bytesDropped
	ch <- c.seqPointsEmitted
	ch <- c.buffersAllocated
	ch <- c.buffersReclaimed
	ch <- c.sizeOfAllBuffers
	ch <- c.budget
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.snapshot() {
		label := itoa(s.SessionIndex)
		ch <- prometheus.MustNewConstMetric(c.oversizedDropped, prometheus.CounterValue, float64(s.NumOversizedEventsDropped), label)
		ch <- prometheus.MustNewConstMetric(c.bytesDropped, prometheus.CounterValue, float64(s.BytesDroppedOnOversized), label)
		ch <- prometheus.MustNewConstMetric(c.seqPointsEmitted, prometheus.CounterValue, float64(s.SequencePointsEmitted), label)
		ch <- prometheus.MustNewConstMetric(c.buffersAllocated, prometheus.CounterValue, float64(s.BuffersAllocated), label)
		ch <- prometheus.MustNewConstMetric(c.buffersReclaimed, prometheus.CounterValue, float64(s.BuffersReclaimed), label)
		ch <- prometheus.MustNewConstMetric(c.sizeOfAllBuffers, prometheus.GaugeValue, float64(s.SizeOfAllBuffers), label)
		ch <- prometheus.MustNewConstMetric(c.budget, prometheus.GaugeValue, float64(s.Budget), label)
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

var _ prometheus.Collector = (*Collector)(nil)
