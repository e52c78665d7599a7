package buffermgr

import (
	"container/heap"

	"github.com/ehrlich-b/eventpipe/internal/ringbuf"
	"github.com/ehrlich-b/eventpipe/internal/threadreg"
)

// heapNode is a (ThreadSessionState, head buffer) pair tracked by the
// reader's min-heap, keyed by the current read event's timestamp. It
// holds a weak-style reference: the state's owning Thread may
// unregister while the node is tracked, in which case eviction simply
// drops it instead of treating it as an error.
type heapNode struct {
	state     *threadreg.ThreadSessionState
	buffer    *ringbuf.Buffer
	timestamp int64
	index     int
}

type eventHeap struct {
	nodes   []*heapNode
	tracked map[*threadreg.ThreadSessionState]bool
}

func newEventHeap() *eventHeap {
	return &eventHeap{tracked: make(map[*threadreg.ThreadSessionState]bool)}
}

func (h *eventHeap) Len() int { return len(h.nodes) }
func (h *eventHeap) Less(i, j int) bool {
	return h.nodes[i].timestamp < h.nodes[j].timestamp
}
func (h *eventHeap) Swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.nodes[i].index = i
	h.nodes[j].index = j
}
func (h *eventHeap) Push(x any) {
	n := x.(*heapNode)
	n.index = len(h.nodes)
	h.nodes = append(h.nodes, n)
}
func (h *eventHeap) Pop() any {
	old := h.nodes
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.nodes = old[:n-1]
	return item
}

// IsTracked reports whether state already has a node in the heap.
func (h *eventHeap) IsTracked(state *threadreg.ThreadSessionState) bool {
	return h.tracked[state]
}

// PushState adds a new tracked node for state/buffer.
func (h *eventHeap) PushState(state *threadreg.ThreadSessionState, buffer *ringbuf.Buffer, timestamp int64) {
	h.tracked[state] = true
	heap.Push(h, &heapNode{state: state, buffer: buffer, timestamp: timestamp})
}

// Root returns the minimum-timestamp node, or nil if empty.
func (h *eventHeap) Root() *heapNode {
	if len(h.nodes) == 0 {
		return nil
	}
	return h.nodes[0]
}

// FixRoot re-heapifies after the root's key changed in place.
func (h *eventHeap) FixRoot(timestamp int64) {
	if len(h.nodes) == 0 {
		return
	}
	h.nodes[0].timestamp = timestamp
	heap.Fix(h, 0)
}

// EvictRoot removes the root node entirely (its buffer is drained).
func (h *eventHeap) EvictRoot() *heapNode {
	if len(h.nodes) == 0 {
		return nil
	}
	n := heap.Pop(h).(*heapNode)
	delete(h.tracked, n.state)
	return n
}
