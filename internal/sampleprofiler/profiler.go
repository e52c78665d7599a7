// Package sampleprofiler implements the background sampling thread: a
// ticker-driven goroutine that periodically asks a (host-supplied)
// thread enumerator for a snapshot of runnable threads and emits one
// synthetic event per sampled thread. Thread enumeration and stack
// capture are external collaborators per the core's non-goals; this
// package only owns the timer loop and start/stop handshake.
package sampleprofiler

import (
	"sync"
	"time"

	"github.com/ehrlich-b/eventpipe/internal/logging"
)

// DefaultInterval matches the original default sampling rate of 1 ms.
const DefaultInterval = time.Millisecond

// Sample is one sampled thread, handed to the Emit callback.
type Sample struct {
	ThreadID  uint64
	Timestamp int64
}

// Enumerator supplies the current set of runnable threads to sample.
// The real implementation is host/OS specific and lives outside the
// core; tests supply a fake.
type Enumerator interface {
	Threads() []uint64
}

// Profiler drives a ticker goroutine that samples threads at Interval
// and invokes Emit for each one.
type Profiler struct {
	Interval   time.Duration
	Enumerator Enumerator
	Emit       func(Sample)
	Now        func() int64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a profiler with DefaultInterval and Now set to
// time.Now().UnixNano().
func New(enumerator Enumerator, emit func(Sample)) *Profiler {
	return &Profiler{
		Interval:   DefaultInterval,
		Enumerator: enumerator,
		Emit:       emit,
		Now:        func() int64 { return time.Now().UnixNano() },
	}
}

// Start launches the sampling goroutine. No-op if already running.
func (p *Profiler) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.loop(p.stopCh, p.doneCh)
}

// Stop signals the sampling goroutine to exit and blocks until it does.
// No-op if not running.
func (p *Profiler) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	stopCh := p.stopCh
	doneCh := p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// Running reports whether the sampler is currently active.
func (p *Profiler) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Profiler) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Profiler) tick() {
	threads := p.Enumerator.Threads()
	now := p.Now()
	for _, tid := range threads {
		p.Emit(Sample{ThreadID: tid, Timestamp: now})
	}
	logging.Default().Debug("sample-profiler tick", "threads", len(threads))
}
