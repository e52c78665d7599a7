package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCollectsEverySnapshot(t *testing.T) {
	c := NewCollector(func() []Snapshot {
		return []Snapshot{
			{SessionIndex: 0, NumOversizedEventsDropped: 3, BuffersAllocated: 5, SizeOfAllBuffers: 1024, Budget: 2048},
			{SessionIndex: 1, BuffersReclaimed: 2, SequencePointsEmitted: 1},
		}
	})

	count := testutil.CollectAndCount(c)
	if count != 14 {
		t.Errorf("CollectAndCount = %d, want 14 (7 metrics x 2 sessions)", count)
	}
}

func TestCollectorDescribeEmitsAllDescs(t *testing.T) {
	c := NewCollector(func() []Snapshot { return nil })
	ch := make(chan *prometheus.Desc, 16)
	c.Describe(ch)
	close(ch)
	n := 0
	for range ch {
		n++
	}
	if n != 7 {
		t.Errorf("Describe emitted %d descs, want 7", n)
	}
}

func TestItoaHandlesZeroAndMultipleSessions(t *testing.T) {
	if got := itoa(0); got != "0" {
		t.Errorf("itoa(0) = %q, want \"0\"", got)
	}
	if got := itoa(12); got != "12" {
		t.Errorf("itoa(12) = %q, want \"12\"", got)
	}
	if got := itoa(-3); got != "-3" {
		t.Errorf("itoa(-3) = %q, want \"-3\"", got)
	}
}
