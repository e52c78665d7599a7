// Package buffermgr implements the buffer manager: allocation under a
// global byte budget, suspend handshakes, sequence points, and the
// ordered event cursor the streaming thread drains from.
package buffermgr

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/eventpipe/internal/clock"
	"github.com/ehrlich-b/eventpipe/internal/ringbuf"
	"github.com/ehrlich-b/eventpipe/internal/threadreg"
)

const (
	minBudget = 100 * 1024
	maxBudget = 4 * 1024 * 1024 * 1024

	minSeqPointBudget = 1 * 1024 * 1024
	maxSeqPointBudget = 1 * 1024 * 1024 * 1024

	defaultBaseAllocSize = 100 * 1024
	checkedBaseAllocSize = 30 * 1024
	maxAllocSize         = 1024 * 1024

	maxEventPayload = 64 * 1024

	heapGrowInterval = 100 * time.Millisecond

	casYieldEvery = 64
)

// SequencePoint is a global snapshot of per-thread sequence numbers
// bounding event reordering, captured when cumulative allocated bytes
// cross the sequence-point allocation budget.
type SequencePoint struct {
	Timestamp int64
	Snapshot  map[*threadreg.ThreadSessionState]uint32
}

// Metrics are the buffer manager's observable counters, referenced
// directly by testable properties S2/S4/S5.
type Metrics struct {
	NumOversizedEventsDropped   atomic.Uint64
	BytesDroppedOnOversized     atomic.Uint64
	SequencePointsEmitted       atomic.Uint64
	BuffersAllocated            atomic.Uint64
	BuffersReclaimed            atomic.Uint64
}

// Manager is owned by exactly one Session.
type Manager struct {
	budget           int64
	sizeOfAllBuffers atomic.Int64

	seqPointBudget    int64 // 0 disables sequence points
	seqPointRemaining atomic.Int64

	checkedBuild bool
	guard        ringbuf.GuardLevel
	pool         *ringbuf.Pool

	mu        sync.Mutex
	states    []*threadreg.ThreadSessionState
	seqPoints []*SequencePoint

	heap           *eventHeap
	lastHeapGrowth time.Time

	waitCh chan struct{}

	Metrics Metrics
}

// NewManager constructs a buffer manager with the given byte budget
// (clamped to [100 KiB, 4 GiB]) and sequence-point budget (0 disables
// sequence points, otherwise clamped to [1 MiB, 1 GiB]).
func NewManager(budget, seqPointBudget int64, guard ringbuf.GuardLevel) *Manager {
	if budget < minBudget {
		budget = minBudget
	}
	if budget > maxBudget {
		budget = maxBudget
	}
	if seqPointBudget != 0 {
		if seqPointBudget < minSeqPointBudget {
			seqPointBudget = minSeqPointBudget
		}
		if seqPointBudget > maxSeqPointBudget {
			seqPointBudget = maxSeqPointBudget
		}
	}
	m := &Manager{
		budget:         budget,
		seqPointBudget: seqPointBudget,
		guard:          guard,
		pool:           ringbuf.NewPool(),
		heap:           newEventHeap(),
		waitCh:         make(chan struct{}, 1),
	}
	m.seqPointRemaining.Store(seqPointBudget)
	return m
}

// SetCheckedBuild switches the base allocation size from 100 KiB to the
// smaller 30 KiB used in checked/test builds to exercise edge cases
// (buffer rotation, budget exhaustion) without allocating gigabytes of
// synthetic events.
func (m *Manager) SetCheckedBuild(v bool) {
	m.checkedBuild = v
}

// SizeOfAllBuffers returns the current cumulative allocated byte count.
func (m *Manager) SizeOfAllBuffers() int64 {
	return m.sizeOfAllBuffers.Load()
}

// Budget returns the configured byte budget.
func (m *Manager) Budget() int64 {
	return m.budget
}

func (m *Manager) baseAllocSize() int {
	if m.checkedBuild {
		return checkedBaseAllocSize
	}
	return defaultBaseAllocSize
}

// AllocateBufferForThread picks a size, claims budget via a bounded CAS
// loop, and on success creates the buffer and links it into state's
// list, possibly also allocating a sequence point.
func (m *Manager) AllocateBufferForThread(state *threadreg.ThreadSessionState, requestSize int) (*ringbuf.Buffer, bool) {
	bufferCount := state.BufferList.Count()
	size := requestSize
	if grow := m.baseAllocSize() * (bufferCount + 1); grow > size {
		size = grow
	}
	if size > maxAllocSize {
		size = maxAllocSize
	}
	size = (size + 4095) &^ 4095 // round to allocation granularity

	if !m.claimBudget(int64(size)) {
		return nil, false
	}

	buf := ringbuf.NewPooledBuffer(m.pool, size, state.Thread.ID(), state.SequenceNumber(), m.guard, int64(clock.Now()))

	m.mu.Lock()
	alreadyTracked := false
	for _, s := range m.states {
		if s == state {
			alreadyTracked = true
			break
		}
	}
	if !alreadyTracked {
		m.states = append(m.states, state)
	}
	m.maybeAllocateSequencePointLocked(int64(size))
	m.mu.Unlock()

	state.BufferList.Append(buf)
	m.Metrics.BuffersAllocated.Add(1)
	return buf, true
}

// claimBudget runs the bounded CAS loop that bumps sizeOfAllBuffers by
// delta only if the new total stays within budget, yielding periodically
// to avoid livelock under contention.
func (m *Manager) claimBudget(delta int64) bool {
	iter := 0
	for {
		cur := m.sizeOfAllBuffers.Load()
		next := cur + delta
		if next > m.budget {
			return false
		}
		if m.sizeOfAllBuffers.CompareAndSwap(cur, next) {
			return true
		}
		iter++
		if iter%casYieldEvery == 0 {
			runtime.Gosched()
		}
	}
}

func (m *Manager) releaseBudget(delta int64) {
	m.sizeOfAllBuffers.Add(-delta)
}

// maybeAllocateSequencePointLocked decrements the sequence-point budget
// by the just-allocated buffer size and, once the remaining budget is
// exhausted, snapshots a sequence point and resets the budget,
// mirroring ep-buffer-manager.c's allocate-then-subtract accounting.
// Caller holds m.mu.
func (m *Manager) maybeAllocateSequencePointLocked(allocatedSize int64) {
	if m.seqPointBudget == 0 {
		return
	}
	if m.seqPointRemaining.Add(-allocatedSize) > 0 {
		return
	}

	snapshot := make(map[*threadreg.ThreadSessionState]uint32, len(m.states))
	for _, s := range m.states {
		seq := s.SequenceNumber()
		if seq > 0 {
			seq--
		}
		snapshot[s] = seq
	}
	sp := &SequencePoint{Timestamp: int64(clock.Now()), Snapshot: snapshot}
	m.seqPoints = append(m.seqPoints, sp)
	m.seqPointRemaining.Store(m.seqPointBudget)
	m.Metrics.SequencePointsEmitted.Add(1)
}

// WriteEvent implements the buffer-manager write path. enabledMask
// checks are the caller's responsibility (the event-enabled-mask fast
// path lives in the root package); this always attempts the write.
func (m *Manager) WriteEvent(state *threadreg.ThreadSessionState, rec *ringbuf.Record) bool {
	if len(rec.Payload) > maxEventPayload {
		m.Metrics.NumOversizedEventsDropped.Add(1)
		m.Metrics.BytesDroppedOnOversized.Add(uint64(len(rec.Payload)))
		state.IncrementSequenceNumber()
		return false
	}

	state.Thread.Lock()
	allocatedNew := false
	wrote := false

	buf := state.WriteBuffer()
	if buf != nil {
		rec.SequenceNumber = state.SequenceNumber()
		wrote = buf.WriteEvent(rec)
	}

	if !wrote {
		state.Thread.Unlock()
		newBuf, ok := m.AllocateBufferForThread(state, recordSizeHint(rec))
		if !ok {
			state.IncrementSequenceNumber()
			return false
		}
		allocatedNew = true
		state.Thread.Lock()
		state.SetWriteBuffer(newBuf)
		rec.SequenceNumber = state.SequenceNumber()
		wrote = newBuf.WriteEvent(rec)
	}

	if wrote {
		state.IncrementSequenceNumber()
	}
	state.Thread.Unlock()

	if allocatedNew {
		m.notifyReader()
	}
	return wrote
}

func recordSizeHint(rec *ringbuf.Record) int {
	return 16 + 16 + 8 + 8 + 4 + 8 + 4 + 4 + 4 + len(rec.StackIDs)*8 + 4 + len(rec.Payload) + 64
}

func (m *Manager) notifyReader() {
	select {
	case m.waitCh <- struct{}{}:
	default:
	}
}

// WaitForData blocks until a writer signals new data or timeout elapses.
func (m *Manager) WaitForData(timeout time.Duration) {
	select {
	case <-m.waitCh:
	case <-time.After(timeout):
	}
}

// SuspendWriteEvent clears the write buffer pointer for sessionIndex on
// every thread in threads, to be called after the session's bit has
// already been cleared from the facade's allow-write mask.
func (m *Manager) SuspendWriteEvent(threads []*threadreg.Thread, sessionIndex int) {
	for _, t := range threads {
		state := t.SessionState(sessionIndex)
		if state == nil {
			continue
		}
		t.Lock()
		state.SetWriteBuffer(nil)
		t.Unlock()
	}
}

// PeekNextEvent grows the heap if due and returns the event currently
// at its root, WITHOUT advancing the reader cursor. Safe to call
// repeatedly; only AdvanceNextEvent consumes the peeked event. Splitting
// peek from advance (rather than one combined "get next" call) lets a
// drain loop stop at a boundary timestamp without losing the event it
// peeked past — a single merged call would auto-advance past that event
// on its next invocation regardless of whether the caller used it.
func (m *Manager) PeekNextEvent() (*ringbuf.Record, *threadreg.ThreadSessionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastHeapGrowth) >= heapGrowInterval {
		m.growHeapLocked()
		m.lastHeapGrowth = time.Now()
	}

	root := m.heap.Root()
	if root == nil {
		return nil, nil, false
	}
	rec := root.buffer.CurrentEvent()
	if rec == nil {
		return nil, nil, false
	}
	return rec, root.state, true
}

// AdvanceNextEvent consumes the event last returned by PeekNextEvent:
// advances the heap root's reader cursor, re-heapifies or evicts, and
// grows the heap if it shrank. Must only be called after a successful
// PeekNextEvent whose event the caller has fully processed.
func (m *Manager) AdvanceNextEvent() {
	m.mu.Lock()
	defer m.mu.Unlock()

	root := m.heap.Root()
	if root == nil {
		return
	}
	root.buffer.MoveNextReadEvent()
	if ts, ok := root.buffer.CurrentEventTimestamp(); ok {
		m.heap.FixRoot(ts)
		return
	}
	m.evictNodeLocked(m.heap.EvictRoot())
	m.growHeapLocked()
	m.lastHeapGrowth = time.Now()
}

func (m *Manager) evictNodeLocked(n *heapNode) {
	if n == nil {
		return
	}
	n.state.BufferList.GetAndRemoveHead()
	m.releaseBudget(int64(n.buffer.Size()))
	n.buffer.Release()
	m.Metrics.BuffersReclaimed.Add(1)
}

func (m *Manager) growHeapLocked() {
	for _, state := range m.states {
		if m.heap.IsTracked(state) {
			continue
		}
		head := state.BufferList.Head()
		if head == nil {
			continue
		}
		tail := state.BufferList.Tail()
		if head == tail && head.State() == ringbuf.StateWritable {
			// still the producer's current buffer; nothing to read yet
			continue
		}
		if head.State() == ringbuf.StateWritable {
			head.ConvertToReadOnly()
		}
		if !head.HasCurrentEvent() {
			// empty retired buffer; reclaim and move on without tracking
			state.BufferList.GetAndRemoveHead()
			m.releaseBudget(int64(head.Size()))
			head.Release()
			m.Metrics.BuffersReclaimed.Add(1)
			continue
		}
		ts, _ := head.CurrentEventTimestamp()
		m.heap.PushState(state, head, ts)
	}
}

// FlushAll forces every thread's head buffer to convert and join the
// reader's working set, even one still nominally "current" for its
// thread — used by the session's final, unconditional drain where no
// more writes can occur (suspend has already run).
func (m *Manager) FlushAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, state := range m.states {
		if m.heap.IsTracked(state) {
			continue
		}
		head := state.BufferList.Head()
		if head == nil {
			continue
		}
		if head.State() == ringbuf.StateWritable {
			head.ConvertToReadOnly()
		}
		if !head.HasCurrentEvent() {
			state.BufferList.GetAndRemoveHead()
			m.releaseBudget(int64(head.Size()))
			head.Release()
			m.Metrics.BuffersReclaimed.Add(1)
			continue
		}
		ts, _ := head.CurrentEventTimestamp()
		m.heap.PushState(state, head, ts)
	}
}

// PendingSequencePoint returns the oldest queued sequence point without
// removing it, or nil if none are queued.
func (m *Manager) PendingSequencePoint() *SequencePoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.seqPoints) == 0 {
		return nil
	}
	return m.seqPoints[0]
}

// DequeueSequencePoint removes and returns the oldest queued sequence
// point.
func (m *Manager) DequeueSequencePoint() *SequencePoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.seqPoints) == 0 {
		return nil
	}
	sp := m.seqPoints[0]
	m.seqPoints = m.seqPoints[1:]
	return sp
}

// DeleteExhaustedState removes a thread-session-state from tracking,
// used once its thread has unregistered and its buffers are drained.
func (m *Manager) DeleteExhaustedState(state *threadreg.ThreadSessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.states {
		if s == state {
			m.states = append(m.states[:i], m.states[i+1:]...)
			break
		}
	}
}

// States returns a snapshot of tracked thread-session-states.
func (m *Manager) States() []*threadreg.ThreadSessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*threadreg.ThreadSessionState, len(m.states))
	copy(out, m.states)
	return out
}
