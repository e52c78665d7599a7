package eventpipe

import (
	"sync"
	"time"

	"github.com/ehrlich-b/eventpipe/internal/block"
	"github.com/ehrlich-b/eventpipe/internal/buffermgr"
	"github.com/ehrlich-b/eventpipe/internal/clock"
	"github.com/ehrlich-b/eventpipe/internal/fastserializer"
	"github.com/ehrlich-b/eventpipe/internal/logging"
	"github.com/ehrlich-b/eventpipe/internal/ringbuf"
	"github.com/ehrlich-b/eventpipe/internal/sampleprofiler"
	"github.com/ehrlich-b/eventpipe/internal/sink"
	"github.com/ehrlich-b/eventpipe/internal/threadreg"
)

// sampleProfilerDefaultIntervalNs is the Trace object's
// sampling_rate_in_ns field, mirrored from the sample profiler's own
// default interval so the two stay in lockstep.
const sampleProfilerDefaultIntervalNs = int64(sampleprofiler.DefaultInterval)

// Type is a Session's sink kind (closed set per §3/§6).
type Type int

const (
	TypeFile Type = iota
	TypeListener
	TypeIpcStream
	TypeFileStream
	TypeSynchronous
)

// SyncCallback receives flattened event data directly for a Synchronous
// session; no file or serializer is involved.
type SyncCallback func(ev *Event, payload []byte, activityID, relatedActivityID [16]byte)

const (
	defaultSeqPointBudget = 10 * 1024 * 1024 // only meaningful for V4
	streamingDrainSleep   = 100 * time.Millisecond
)

// Session owns its providers, a buffer manager, a sink, and optionally
// a streaming goroutine.
type Session struct {
	Index          int
	Type           Type
	Format         block.Format
	Mask           uint64
	RundownKeyword int64

	mu               sync.Mutex
	rundownEnabled   bool
	streamingEnabled bool
	paused           bool
	started          bool
	fileHasErrors    bool

	startWallTime  time.Time
	startTimestamp clock.Timestamp

	providers []SessionProviderConfig

	bufferManager *buffermgr.Manager
	sinkWriter    sink.Writer
	serializer    *fastserializer.Serializer
	syncCallback  SyncCallback

	config   *Configuration
	registry *threadreg.Registry

	// metadataIDs assigns a stable per-session id to every (provider,
	// event) pair the first time it is observed, so the drain path knows
	// whether a metadata record must precede the event record.
	metaMu      sync.Mutex
	metadataIDs map[*Event]uint32
	nextMetaID  uint32

	// stackIDs interns flattened call-stack IPs into a per-session id
	// for the V4 format only; V3 inlines raw stack words per event.
	stackMu     sync.Mutex
	stackIDs    map[uint64]uint32
	nextStackID uint32

	// seenInWindow tracks, within the current drain window, which
	// threads have already emitted their "sorted" event.
	seenInWindow map[uint64]bool

	doneCh chan struct{}
}

// SessionOptions configures session.New.
type SessionOptions struct {
	Index            int
	Type             Type
	Format           block.Format
	OutputPath       string
	Writer           sink.Writer // used directly for Listener/IpcStream-style sinks in tests
	RundownKeyword   int64
	CircularBufferMB int64
	Providers        []SessionProviderConfig
	SyncCallback     SyncCallback
	Config           *Configuration
	Registry         *threadreg.Registry
}

// NewSession builds a Session per §4.9: buffered types get a
// BufferManager sized from CircularBufferMB; File/FileStream open a
// sink; Synchronous sessions skip buffering entirely.
func NewSession(opts SessionOptions) (*Session, error) {
	s := &Session{
		Index:          opts.Index,
		Type:           opts.Type,
		Format:         opts.Format,
		Mask:           1 << uint(opts.Index),
		RundownKeyword: opts.RundownKeyword,
		providers:      opts.Providers,
		config:         opts.Config,
		registry:       opts.Registry,
		metadataIDs:    make(map[*Event]uint32),
		stackIDs:       make(map[uint64]uint32),
		seenInWindow:   make(map[uint64]bool),
		doneCh:         make(chan struct{}),
	}
	s.nextMetaID = 1 // 0 is the metadata-record sentinel, see metadataID

	if opts.Type != TypeSynchronous {
		seqPointBudget := int64(defaultSeqPointBudget)
		if opts.Format == block.FormatNetPerfV3 {
			seqPointBudget = 0
		}
		s.bufferManager = buffermgr.NewManager(opts.CircularBufferMB<<20, seqPointBudget, ringbuf.GuardHeader)
	}

	switch opts.Type {
	case TypeFile, TypeFileStream:
		fs, err := sink.NewFileSink(opts.OutputPath)
		if err != nil {
			e := NewSessionError("new_session", opts.Index, ErrCodeInvalidParameters, "open output file")
			e.Inner = err
			return nil, e
		}
		s.sinkWriter = fs
	case TypeListener, TypeIpcStream:
		if opts.Writer == nil {
			return nil, NewSessionError("new_session", opts.Index, ErrCodeInvalidParameters, "ipc/listener session requires a Writer")
		}
		s.sinkWriter = opts.Writer
	case TypeSynchronous:
		s.syncCallback = opts.SyncCallback
	}

	return s, nil
}

// start_streaming writes the file header and Trace object, then spawns
// the streaming goroutine for file- or IPC-backed sessions.
func (s *Session) StartStreaming() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.startWallTime = time.Now()
	s.startTimestamp = clock.Now()

	if s.sinkWriter != nil {
		if _, err := s.sinkWriter.Write([]byte(traceFileLiteral)); err != nil {
			s.fileHasErrors = true
			return s.sinkError("start_streaming", "write file literal", err)
		}
		ser, err := fastserializer.New(s.sinkWriter)
		if err != nil {
			s.fileHasErrors = true
			return s.sinkError("start_streaming", "construct serializer", err)
		}
		s.serializer = ser

		trace := &traceObject{
			openTimestamp:      int64(s.startTimestamp),
			timestampFrequency: clock.Frequency,
			pointerSize:        8,
			processID:          clock.ProcessID(),
			numberOfProcessors: 1,
			samplingRateNs:     uint32(sampleProfilerDefaultIntervalNs),
			openedAt:           s.startWallTime,
		}
		if err := s.serializer.WriteObject(1, 0, trace); err != nil {
			s.fileHasErrors = true
			return s.sinkError("start_streaming", "write trace object", err)
		}
	}

	s.started = true
	if s.Type == TypeFileStream || s.Type == TypeIpcStream {
		s.streamingEnabled = true
		go s.streamLoop()
	}
	return nil
}

func (s *Session) streamLoop() {
	defer close(s.doneCh)
	for {
		s.mu.Lock()
		enabled := s.streamingEnabled
		s.mu.Unlock()
		if !enabled {
			return
		}

		wrote, err := s.drainToFile(int64(clock.Now()))
		if err != nil {
			logging.Error("eventpipe: session streaming drain failed, self-disabling", "session", s.Index, "err", err)
			s.mu.Lock()
			s.fileHasErrors = true
			s.streamingEnabled = false
			s.mu.Unlock()
			return
		}
		if wrote == 0 {
			s.bufferManager.WaitForData(streamingDrainSleep)
		} else {
			time.Sleep(streamingDrainSleep)
		}
	}
}

// WriteEvent dispatches to the synchronous callback or the buffer
// manager's buffered path, lazily injecting a metadata record the first
// time this session observes ev.
func (s *Session) WriteEvent(state *threadreg.ThreadSessionState, ev *Event, payload []byte, activityID, relatedActivityID [16]byte, captureThreadID uint64, stack []uint64) bool {
	if s.Type == TypeSynchronous {
		if s.syncCallback != nil {
			s.syncCallback(ev, payload, activityID, relatedActivityID)
		}
		return true
	}

	metaID, firstUse := s.metadataID(ev)
	if firstUse {
		metaRec := s.config.BuildEventMetadataRecord(ev, int64(clock.Now()), metaID, captureThreadID)
		metaRec.ThreadID = state.Thread.ID()
		s.bufferManager.WriteEvent(state, metaRec)
	}

	rec := &ringbuf.Record{
		ActivityID:        activityID,
		RelatedActivityID: relatedActivityID,
		ThreadID:          state.Thread.ID(),
		Timestamp:         int64(clock.Now()),
		MetadataID:        metaID,
		CaptureThreadID:   captureThreadID,
		ProcNum:           clock.ProcNum(),
		StackIDs:          stack,
		Payload:           payload,
	}
	return s.bufferManager.WriteEvent(state, rec)
}

// metadataID returns ev's stable per-session metadata id, assigning a
// fresh one (and reporting firstUse) the first time ev is seen. Id 0 is
// reserved as the "this is a metadata record, not a real event" sentinel
// the drain path uses to route records to the right block — metadata
// and event records share one per-thread ringbuf stream in this design,
// unlike the upstream separate MetadataBlock/EventBlock object streams.
func (s *Session) metadataID(ev *Event) (id uint32, firstUse bool) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	if id, ok := s.metadataIDs[ev]; ok {
		return id, false
	}
	id = s.nextMetaID
	s.nextMetaID++
	s.metadataIDs[ev] = id
	return id, true
}

func (s *Session) internStack(ips []uint64) uint32 {
	if s.Format != block.FormatNetTraceV4 || len(ips) == 0 {
		return 0
	}
	h := hashStack(ips)
	s.stackMu.Lock()
	defer s.stackMu.Unlock()
	if id, ok := s.stackIDs[h]; ok {
		return id
	}
	s.nextStackID++
	id := s.nextStackID
	s.stackIDs[h] = id
	return id
}

func (s *Session) resetStackInterning() {
	s.stackMu.Lock()
	s.stackIDs = make(map[uint64]uint32)
	s.nextStackID = 0
	s.stackMu.Unlock()
}

func hashStack(ips []uint64) uint64 {
	// FNV-1a over the flattened IP words; stacks are capped at 100
	// frames so this is cheap relative to the write path it guards.
	var h uint64 = 14695981039346656037
	for _, ip := range ips {
		for shift := 0; shift < 64; shift += 8 {
			h ^= (ip >> shift) & 0xff
			h *= 1099511628211
		}
	}
	return h
}

// drainToFile dispatches to the V3 or V4 flavor and returns the number
// of events written.
func (s *Session) drainToFile(stopTimestamp int64) (int, error) {
	if s.Format == block.FormatNetPerfV3 {
		return s.drainV3(stopTimestamp)
	}
	return s.drainV4(stopTimestamp)
}

// drainV3 is the naive total sort: take the globally oldest event below
// stopTimestamp, write it as sorted, repeat.
func (s *Session) drainV3(stopTimestamp int64) (int, error) {
	eb := block.NewEventBlock(s.Format)
	mb := block.NewMetadataBlock(s.Format)
	sb := block.NewStackBlock()
	n := 0

	for {
		rec, _, ok := s.bufferManager.PeekNextEvent()
		if !ok || rec.Timestamp >= stopTimestamp {
			break
		}
		s.appendRecord(eb, mb, sb, rec, true)
		s.bufferManager.AdvanceNextEvent()
		n++
	}
	if err := s.flushBlocks(eb, mb, sb); err != nil {
		return n, err
	}
	return n, nil
}

// drainV4 is sequence-point-bounded: drain below the next queued
// sequence point (or stopTimestamp if none), flush, then reconcile and
// emit the sequence-point block before continuing.
func (s *Session) drainV4(stopTimestamp int64) (int, error) {
	total := 0
	for {
		sp := s.bufferManager.PendingSequencePoint()
		boundary := stopTimestamp
		if sp != nil && sp.Timestamp < boundary {
			boundary = sp.Timestamp
		}

		eb := block.NewEventBlock(s.Format)
		mb := block.NewMetadataBlock(s.Format)
		sb := block.NewStackBlock()
		s.seenInWindow = make(map[uint64]bool)

		n := 0
		for {
			rec, _, ok := s.bufferManager.PeekNextEvent()
			if !ok || rec.Timestamp >= boundary {
				break
			}
			isSorted := !s.seenInWindow[rec.ThreadID]
			s.seenInWindow[rec.ThreadID] = true
			s.appendRecord(eb, mb, sb, rec, isSorted)
			s.bufferManager.AdvanceNextEvent()
			n++
		}
		total += n
		if err := s.flushBlocks(eb, mb, sb); err != nil {
			return total, err
		}

		if sp == nil || boundary == stopTimestamp {
			break
		}

		// Reconcile: delta-safe comparison tolerates 32-bit wraparound,
		// mirroring the original's bookkeeping rather than inventing a
		// better algorithm (open question, see DESIGN.md).
		entries := make([]block.SequencePointEntry, 0, len(sp.Snapshot))
		for state, recorded := range sp.Snapshot {
			observed := state.SequenceNumber()
			if seqNewer(observed, recorded) {
				recorded = observed
			}
			entries = append(entries, block.SequencePointEntry{ThreadOSID: state.Thread.ID(), SequenceNumber: recorded})
			if state.Thread.IsUnregistered() {
				s.bufferManager.DeleteExhaustedState(state)
			}
		}
		s.resetStackInterning()
		spBlock := block.NewSequencePointBlock(sp.Timestamp, entries)
		if s.serializer != nil {
			if err := s.serializer.WriteObject(1, 0, sequencePointObject{spBlock}); err != nil {
				return total, err
			}
		}
		s.bufferManager.DequeueSequencePoint()
	}
	return total, nil
}

// seqNewer reports whether observed is "newer" than recorded under
// 32-bit wraparound, tolerating deltas up to 2^31 per §9's open
// question — do not tighten this without measurement.
func seqNewer(observed, recorded uint32) bool {
	return int32(observed-recorded) > 0
}

func (s *Session) appendRecord(eb *block.EventBlock, mb *block.MetadataBlock, sb *block.StackBlock, rec *ringbuf.Record, isSorted bool) {
	if rec.MetadataID == 0 {
		mb.WriteMetadata(rec)
		return
	}
	stackID := s.internStack(rec.StackIDs)
	if stackID != 0 {
		sb.WriteStack(stackID, rec.StackIDs)
	}
	eb.WriteEvent(rec, stackID, isSorted)
}

func (s *Session) flushBlocks(eb *block.EventBlock, mb *block.MetadataBlock, sb *block.StackBlock) error {
	if s.serializer == nil {
		return nil
	}
	if mb.Len() > 0 {
		if err := writeBlockObject(s.serializer, 2, 0, metadataBlockObject{mb}); err != nil {
			return err
		}
	}
	if sb.Len() > 0 {
		if err := writeBlockObject(s.serializer, 2, 0, stackBlockObject{sb}); err != nil {
			return err
		}
	}
	if eb.Len() > 0 {
		if err := writeBlockObject(s.serializer, 2, 0, eventBlockObject{eb}); err != nil {
			return err
		}
	}
	return s.sinkWriter.Flush()
}

// Disable stops streaming, performs a final unconditional drain, and
// clears the provider list. Idempotent: a second call is a no-op.
func (s *Session) Disable() error {
	s.mu.Lock()
	if !s.started || s.paused {
		s.mu.Unlock()
		return nil
	}
	s.paused = true
	wasStreaming := s.streamingEnabled
	s.streamingEnabled = false
	s.mu.Unlock()

	if wasStreaming {
		<-s.doneCh
	}

	drained := 0
	var dropped uint64
	if s.bufferManager != nil {
		s.bufferManager.FlushAll()
		n, err := s.drainToFile(int64(clock.Now()) + 1)
		if err != nil {
			return err
		}
		drained = n
		dropped = s.bufferManager.Metrics.NumOversizedEventsDropped.Load()
	}

	s.mu.Lock()
	s.providers = nil
	s.mu.Unlock()

	logging.Info("session-disable", "session", s.Index, "drained", drained, "dropped", dropped)

	if s.serializer != nil {
		if err := s.serializer.WriteEnd(); err != nil {
			return s.sinkError("disable", "write end tag", err)
		}
	}
	if s.sinkWriter != nil {
		return s.sinkWriter.Close()
	}
	return nil
}

// EnableRundown adds a synthetic SessionProvider for the rundown
// keyword at Verbose level, marking this session to receive rundown
// events via the facade's rundown-thread routing.
func (s *Session) EnableRundown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rundownEnabled = true
	s.providers = append(s.providers, SessionProviderConfig{
		Name:     rundownProviderName,
		Keywords: s.RundownKeyword,
		Level:    LevelVerbose,
	})
}

const rundownProviderName = "Microsoft-Windows-DotNETRuntimeRundown"

// sinkError builds a session-scoped *Error around a sink/serializer
// failure, marking the session's soft-error state per §7's policy:
// producers keep running, but the session self-disables on its next
// drain once file_has_errors is observed.
func (s *Session) sinkError(op, msg string, inner error) *Error {
	e := NewSessionError(op, s.Index, ErrCodeSinkClosed, msg)
	e.Inner = inner
	return e
}
