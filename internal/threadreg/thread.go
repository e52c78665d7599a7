// Package threadreg is the process-wide thread registry: every producer
// Thread added through Registry.Register or NewAndRegister is held here
// by strong reference, carrying one ThreadSessionState slot per possible
// session. Writing an event does not register a Thread; one that was
// never registered, or was removed by Registry.Unregister, is not listed.
package threadreg

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/eventpipe/internal/activity"
	"github.com/ehrlich-b/eventpipe/internal/clock"
	"github.com/ehrlich-b/eventpipe/internal/ringbuf"
)

// MaxSessions is the fixed size of the per-thread session-state array,
// matching the facade's 64-slot session table.
const MaxSessions = 64

// IdleWriteInProgress is the sentinel value of Thread.WriteInProgress
// when no write is in flight.
const IdleWriteInProgress = ^uint32(0)

// Thread is a process-wide-registered producer thread.
type Thread struct {
	id uint64 // OS thread id, immutable after first use

	activityID     atomic.Value // activity.ID
	rundownSession int32        // session index, or -1; set via atomic ops

	// mu stands in for the spin-lock in the original design: it guards
	// sessionState and every ThreadSessionState reachable from it.
	mu sync.Mutex

	sessionState [MaxSessions]*ThreadSessionState

	writeInProgress atomic.Uint32
	refCount        atomic.Int32
	unregistered    atomic.Bool
}

// ThreadSessionState is the per-(thread, session) state: the owning
// thread, the current writable buffer (if any), the buffer list shared
// with the buffer manager, and a sequence number of attempted writes.
type ThreadSessionState struct {
	Thread       *Thread
	SessionIndex int

	BufferList *ringbuf.BufferList

	writeBuffer    atomic.Pointer[ringbuf.Buffer]
	sequenceNumber atomic.Uint32
}

// WriteBuffer returns the current writable buffer for this state, or
// nil if none is assigned.
func (s *ThreadSessionState) WriteBuffer() *ringbuf.Buffer {
	return s.writeBuffer.Load()
}

// SetWriteBuffer assigns the current writable buffer.
func (s *ThreadSessionState) SetWriteBuffer(b *ringbuf.Buffer) {
	s.writeBuffer.Store(b)
}

// SequenceNumber returns the current sequence number. The producing
// thread may read this without barriers per the concurrency model;
// other callers must treat it as a lower bound.
func (s *ThreadSessionState) SequenceNumber() uint32 {
	return s.sequenceNumber.Load()
}

// IncrementSequenceNumber bumps the sequence number by one and returns
// the new value. Must only be called by the producing thread.
func (s *ThreadSessionState) IncrementSequenceNumber() uint32 {
	return s.sequenceNumber.Add(1)
}

// NewThread mints a new Thread for the calling goroutine; it is not added
// to any Registry (Registry.NewAndRegister does both).
// Producer code is expected to call this once per long-lived worker
// goroutine and reuse the handle, mirroring the "explicit handle passed
// via thread-local context" design note: Go has no portable thread-local
// storage, so the handle is threaded explicitly instead of implied by
// the calling OS thread.
func NewThread() *Thread {
	t := &Thread{
		id:             clock.ThreadID(),
		rundownSession: -1,
	}
	t.activityID.Store(activity.New())
	t.writeInProgress.Store(IdleWriteInProgress)
	t.refCount.Store(1)
	return t
}

// ID returns the thread's OS-level identifier.
func (t *Thread) ID() uint64 {
	return t.id
}

// ActivityID returns the thread's current activity id.
func (t *Thread) ActivityID() activity.ID {
	return t.activityID.Load().(activity.ID)
}

// SetActivityID updates the thread's current activity id.
func (t *Thread) SetActivityID(id activity.ID) {
	t.activityID.Store(id)
}

// RundownSession returns the session index this thread is executing
// rundown on behalf of, or -1 if none.
func (t *Thread) RundownSession() int32 {
	return atomic.LoadInt32(&t.rundownSession)
}

// SetRundownSession marks this thread as executing rundown for the
// given session index, or clears it when idx < 0.
func (t *Thread) SetRundownSession(idx int32) {
	atomic.StoreInt32(&t.rundownSession, idx)
}

// WriteInProgress returns the session index currently being written to
// by this thread, or IdleWriteInProgress when idle.
func (t *Thread) WriteInProgress() uint32 {
	return t.writeInProgress.Load()
}

// BeginWrite marks this thread as writing into session idx.
func (t *Thread) BeginWrite(idx uint32) {
	t.writeInProgress.Store(idx)
}

// EndWrite marks this thread as idle.
func (t *Thread) EndWrite() {
	t.writeInProgress.Store(IdleWriteInProgress)
}

// WaitNotWriting spins until this thread is no longer mid-write for
// sessionIndex, used by disable's write-in-progress handshake.
func (t *Thread) WaitNotWriting(sessionIndex uint32) {
	for t.writeInProgress.Load() == sessionIndex {
		runtime.Gosched()
	}
}

// GetOrCreateSessionState returns the thread's state for sessionIndex,
// creating it under the thread's lock on first use.
func (t *Thread) GetOrCreateSessionState(sessionIndex int) *ThreadSessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing := t.sessionState[sessionIndex]; existing != nil {
		return existing
	}
	tss := &ThreadSessionState{
		Thread:       t,
		SessionIndex: sessionIndex,
		BufferList:   ringbuf.NewBufferList(),
	}
	t.sessionState[sessionIndex] = tss
	return tss
}

// SessionState returns the thread's existing state for sessionIndex, or
// nil if the thread has never written to that session.
func (t *Thread) SessionState(sessionIndex int) *ThreadSessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionState[sessionIndex]
}

// ClearSessionState drops the thread's state for sessionIndex, called
// when the session tears down.
func (t *Thread) ClearSessionState(sessionIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionState[sessionIndex] = nil
}

// Lock/Unlock expose the thread's lock directly for callers (the buffer
// manager) that need to hold it across a write_event call, matching
// "caller holds the producing thread's lock" preconditions in the
// buffer write path.
func (t *Thread) Lock()   { t.mu.Lock() }
func (t *Thread) Unlock() { t.mu.Unlock() }

// Unregister flags the thread as unregistered (visible to the reader's
// lazy eviction) and releases the registry's reference.
func (t *Thread) Unregister() {
	t.unregistered.Store(true)
	t.release()
}

// IsUnregistered reports whether this thread has unregistered.
func (t *Thread) IsUnregistered() bool {
	return t.unregistered.Load()
}

func (t *Thread) retain() {
	t.refCount.Add(1)
}

func (t *Thread) release() {
	t.refCount.Add(-1)
}

// Registry is the process-wide set of registered threads.
type Registry struct {
	mu      sync.RWMutex
	threads []*Thread
}

// NewRegistry creates an empty thread registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a thread handle to the registry.
func (r *Registry) Register(t *Thread) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads = append(r.threads, t)
}

// Unregister removes a thread handle from the registry and flags it.
func (r *Registry) Unregister(t *Thread) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.threads {
		if cur == t {
			r.threads = append(r.threads[:i], r.threads[i+1:]...)
			break
		}
	}
	t.Unregister()
}

// Snapshot returns a stable copy of all currently registered threads,
// safe to range over without holding the registry lock.
func (r *Registry) Snapshot() []*Thread {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Thread, len(r.threads))
	copy(out, r.threads)
	return out
}

// NewAndRegister mints a new thread handle and registers it in one step.
func (r *Registry) NewAndRegister() *Thread {
	t := NewThread()
	r.Register(t)
	return t
}
