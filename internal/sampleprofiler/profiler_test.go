package sampleprofiler

import (
	"sync"
	"testing"
	"time"
)

type fakeEnumerator struct {
	threads []uint64
}

func (f *fakeEnumerator) Threads() []uint64 { return f.threads }

func TestProfilerStartStopEmitsSamples(t *testing.T) {
	enum := &fakeEnumerator{threads: []uint64{1, 2, 3}}

	var mu sync.Mutex
	var samples []Sample
	p := New(enum, func(s Sample) {
		mu.Lock()
		samples = append(samples, s)
		mu.Unlock()
	})
	p.Interval = time.Millisecond
	p.Now = func() int64 { return 42 }

	p.Start()
	if !p.Running() {
		t.Fatalf("Running() = false right after Start()")
	}
	time.Sleep(20 * time.Millisecond)
	p.Stop()

	if p.Running() {
		t.Fatalf("Running() = true after Stop()")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(samples) == 0 {
		t.Fatalf("expected at least one sample to be emitted")
	}
	for _, s := range samples {
		if s.Timestamp != 42 {
			t.Errorf("sample timestamp = %d, want 42", s.Timestamp)
		}
	}
}

func TestProfilerStartIsIdempotent(t *testing.T) {
	enum := &fakeEnumerator{}
	p := New(enum, func(Sample) {})
	p.Start()
	defer p.Stop()
	p.Start() // should not deadlock or spawn a second loop
	if !p.Running() {
		t.Fatalf("Running() = false after repeated Start()")
	}
}

func TestProfilerStopWithoutStartIsNoop(t *testing.T) {
	p := New(&fakeEnumerator{}, func(Sample) {})
	p.Stop()
	if p.Running() {
		t.Fatalf("Running() = true after Stop() on a never-started profiler")
	}
}
