package eventpipe

import (
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/eventpipe/internal/block"
	"github.com/ehrlich-b/eventpipe/internal/metrics"
	"github.com/ehrlich-b/eventpipe/internal/sampleprofiler"
	"github.com/ehrlich-b/eventpipe/internal/sink"
	"github.com/ehrlich-b/eventpipe/internal/threadreg"
)

// facadeState is the process-wide lifecycle of the EventPipe singleton.
type facadeState int32

const (
	stateNotInitialized facadeState = iota
	stateInitialized
	stateShuttingDown
)

const maxSessionSlots = threadreg.MaxSessions

// EventPipe is the process-wide facade: a 64-slot session table, the
// allow-write bitmask gating the hot write path, and the configuration
// and thread-registry singletons every session and producer shares.
type EventPipe struct {
	state atomic.Int32

	mu               sync.Mutex
	sessions         [maxSessionSlots]*Session
	numberOfSessions int
	allowWrite       atomic.Uint64

	canStartThreads bool
	deferredEnable  []int
	deferredDisable []int

	config   *Configuration
	registry *threadreg.Registry
	profiler *sampleprofiler.Profiler

	samplerProvider    *Provider
	samplerEvent       *Event
	samplerThread      *threadreg.Thread
	samplerSubscribers map[int]bool

	nextIndex int
}

// sampleProfilerProviderName is the well-known provider name a session
// subscribes to in order to receive sampler-thread events (§4.10).
const sampleProfilerProviderName = "Microsoft-DotNETCore-SampleProfiler"

// registryEnumerator is the default sampleprofiler.Enumerator: it lists
// every thread currently in the registry (whether or not it has written
// an event, the sampler's own thread included), since real OS-level
// runnable-thread enumeration is an external collaborator (§ non-goals).
type registryEnumerator struct {
	registry *threadreg.Registry
}

func subscribesToSampler(providers []SessionProviderConfig) bool {
	for _, p := range providers {
		if p.Name == "*" || p.Name == sampleProfilerProviderName {
			return true
		}
	}
	return false
}

func (e registryEnumerator) Threads() []uint64 {
	snap := e.registry.Snapshot()
	out := make([]uint64, 0, len(snap))
	for _, t := range snap {
		out = append(out, t.ID())
	}
	return out
}

// New constructs an uninitialized facade. Call Init then FinishInit
// before enabling sessions, mirroring the upstream two-phase startup
// (thread registry and configuration must exist before any session can
// reference them; the sampler only starts once host threading is live).
func New() *EventPipe {
	ep := &EventPipe{
		config:             NewConfiguration(),
		registry:           threadreg.NewRegistry(),
		samplerSubscribers: make(map[int]bool),
	}
	ep.samplerProvider = ep.config.CreateProvider(sampleProfilerProviderName, nil, nil)
	ep.samplerEvent = NewEvent(ep.samplerProvider, 0, 0, 1, LevelInformational, false, nil)
	ep.profiler = sampleprofiler.New(registryEnumerator{registry: ep.registry}, ep.emitSample)
	return ep
}

// emitSample is the sampler's Emit callback: it writes one synthetic
// event per sampled thread through the facade's normal write path,
// using a dedicated internal thread as the buffer owner so sampler
// writes never contend with the sampled thread's own buffer.
func (ep *EventPipe) emitSample(s sampleprofiler.Sample) {
	ep.mu.Lock()
	t := ep.samplerThread
	ep.mu.Unlock()
	if t == nil {
		return
	}
	var zero [16]byte
	payload := appendU32(nil, uint32(s.ThreadID))
	payload = appendU32(payload, uint32(s.ThreadID>>32))
	ep.WriteEvent(t, ep.samplerEvent, payload, zero, zero, nil)
}

// Init is idempotent: sets up the thread registry and configuration
// (already constructed in New, since Go has no ambient global-init
// ordering problem to work around) and flips state to Initialized.
func (ep *EventPipe) Init() {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if facadeState(ep.state.Load()) != stateNotInitialized {
		return
	}
	ep.samplerThread = ep.registry.NewAndRegister()
	ep.state.Store(int32(stateInitialized))
}

// FinishInit marks the facade ready to start background threads,
// drains any sessions that were enabled before this point, and starts
// the sample profiler if a session already subscribed to it.
func (ep *EventPipe) FinishInit() {
	ep.mu.Lock()
	ep.canStartThreads = true
	deferred := ep.deferredEnable
	ep.deferredEnable = nil
	if len(ep.samplerSubscribers) > 0 {
		ep.profiler.Start()
	}
	ep.mu.Unlock()

	for _, idx := range deferred {
		ep.mu.Lock()
		sess := ep.sessions[idx]
		ep.mu.Unlock()
		if sess != nil {
			_ = sess.StartStreaming()
		}
	}

	ep.mu.Lock()
	disables := ep.deferredDisable
	ep.deferredDisable = nil
	ep.mu.Unlock()
	for _, id := range disables {
		ep.Disable(SessionID(id))
	}
}

// SessionID is the opaque handle returned by Enable, stable for the
// life of the session.
type SessionID int

const invalidSessionID SessionID = -1

// EnableOptions mirrors the bootstrap's enable_2 contract (§6), minus
// the IPC-transport and environment-variable plumbing that lives
// outside the core.
type EnableOptions struct {
	Type             Type
	Format           block.Format
	OutputPath       string
	Writer           sink.Writer
	CircularBufferMB int64
	RundownKeyword   int64
	Providers        []SessionProviderConfig
	SyncCallback     SyncCallback
}

// Enable allocates a session index, constructs the Session, subscribes
// its providers through the configuration, and sets its allow-write
// bit. Returns invalidSessionID if the session table is full.
func (ep *EventPipe) Enable(opts EnableOptions) (SessionID, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if facadeState(ep.state.Load()) == stateShuttingDown {
		return invalidSessionID, NewError("enable", ErrCodeShuttingDown, "facade is shutting down")
	}

	idx := -1
	for i := 0; i < maxSessionSlots; i++ {
		slot := (ep.nextIndex + i) % maxSessionSlots
		if ep.sessions[slot] == nil {
			idx = slot
			break
		}
	}
	if idx == -1 {
		return invalidSessionID, NewSessionError("enable", -1, ErrCodeSessionFull, "all 64 session slots in use")
	}
	ep.nextIndex = (idx + 1) % maxSessionSlots

	sess, err := NewSession(SessionOptions{
		Index:            idx,
		Type:             opts.Type,
		Format:           opts.Format,
		OutputPath:       opts.OutputPath,
		Writer:           opts.Writer,
		RundownKeyword:   opts.RundownKeyword,
		CircularBufferMB: opts.CircularBufferMB,
		Providers:        opts.Providers,
		SyncCallback:     opts.SyncCallback,
		Config:           ep.config,
		Registry:         ep.registry,
	})
	if err != nil {
		return invalidSessionID, err
	}

	ep.sessions[idx] = sess
	ep.numberOfSessions++
	ep.setAllowWriteBit(idx, true)
	ep.config.Enable(idx, opts.Providers)

	if subscribesToSampler(opts.Providers) {
		ep.samplerSubscribers[idx] = true
		if ep.canStartThreads {
			ep.profiler.Start()
		}
	}

	if ep.canStartThreads {
		if err := sess.StartStreaming(); err != nil {
			return invalidSessionID, err
		}
	} else {
		ep.deferredEnable = append(ep.deferredEnable, idx)
	}

	return SessionID(idx), nil
}

// Disable runs the write-in-progress handshake and final drain for id.
// A second call on an already-removed id is a no-op (testable property
// 6's idempotence requirement).
func (ep *EventPipe) Disable(id SessionID) error {
	ep.mu.Lock()
	if !ep.canStartThreads {
		ep.deferredDisable = append(ep.deferredDisable, int(id))
		ep.mu.Unlock()
		return nil
	}

	idx := int(id)
	if idx < 0 || idx >= maxSessionSlots || ep.sessions[idx] == nil {
		ep.mu.Unlock()
		return nil
	}
	sess := ep.sessions[idx]

	// Write-in-progress handshake (§5): clear the allow-write bit first,
	// then remove from the table, THEN spin-wait writers out. Clearing
	// the bit and removing from the table both happen under ep.mu so no
	// new write can observe a half-torn-down session.
	ep.setAllowWriteBit(idx, false)
	ep.sessions[idx] = nil
	ep.numberOfSessions--
	delete(ep.samplerSubscribers, idx)
	stopSampler := len(ep.samplerSubscribers) == 0
	ep.mu.Unlock()

	if stopSampler {
		ep.profiler.Stop()
	}

	for _, t := range ep.registry.Snapshot() {
		t.WaitNotWriting(uint32(idx))
	}

	if sess.bufferManager != nil {
		sess.bufferManager.SuspendWriteEvent(ep.registry.Snapshot(), idx)
	}

	ep.config.Disable(idx)

	if err := sess.Disable(); err != nil {
		return err
	}
	ep.config.DeleteDeferredProviders()
	return nil
}

// WriteEvent is the hot path: check the event's enabled mask, route
// rundown-thread writes to their single session, else fan out to every
// session whose allow-write bit is set.
func (ep *EventPipe) WriteEvent(t *threadreg.Thread, ev *Event, payload []byte, activityID, relatedActivityID [16]byte, stack []uint64) {
	if facadeState(ep.state.Load()) != stateInitialized {
		return
	}
	if ev.EnabledMask() == 0 {
		return
	}

	if rd := t.RundownSession(); rd >= 0 {
		ep.writeToSession(t, int(rd), ev, payload, activityID, relatedActivityID, stack)
		return
	}

	mask := ep.allowWrite.Load()
	for i := 0; i < maxSessionSlots; i++ {
		bit := uint64(1) << uint(i)
		if mask&bit == 0 {
			continue
		}
		if !ev.IsEnabledFor(i) {
			continue
		}
		ep.writeToSession(t, i, ev, payload, activityID, relatedActivityID, stack)
	}
}

func (ep *EventPipe) writeToSession(t *threadreg.Thread, idx int, ev *Event, payload []byte, activityID, relatedActivityID [16]byte, stack []uint64) {
	t.BeginWrite(uint32(idx))
	defer t.EndWrite()

	ep.mu.Lock()
	sess := ep.sessions[idx]
	ep.mu.Unlock()
	if sess == nil {
		return
	}

	state := t.GetOrCreateSessionState(idx)
	sess.WriteEvent(state, ev, payload, activityID, relatedActivityID, t.ID(), stack)
}

// setAllowWriteBit sets or clears bit idx of the allow-write mask via a
// CAS loop (sync/atomic has no bitwise Or/And on Uint64 in this Go
// version). Caller holds ep.mu, so contention is only against
// WriteEvent's plain Load, never another setter.
func (ep *EventPipe) setAllowWriteBit(idx int, set bool) {
	bit := uint64(1) << uint(idx)
	for {
		cur := ep.allowWrite.Load()
		var next uint64
		if set {
			next = cur | bit
		} else {
			next = cur &^ bit
		}
		if ep.allowWrite.CompareAndSwap(cur, next) {
			return
		}
	}
}

// RunRundown marks the current thread as session id's rundown thread,
// runs cb (the host-supplied runtime-state replay), then clears the
// mark. Events written from within cb route only to this session via
// Thread.RundownSession.
func (ep *EventPipe) RunRundown(t *threadreg.Thread, id SessionID, cb func()) {
	t.SetRundownSession(int32(id))
	defer t.SetRundownSession(-1)
	cb()
}

// Registry exposes the thread registry for producers to register on.
func (ep *EventPipe) Registry() *threadreg.Registry { return ep.registry }

// Config exposes the configuration singleton (provider create/delete).
func (ep *EventPipe) Config() *Configuration { return ep.config }

// Collector builds a prometheus.Collector snapshotting every live
// session's buffer-manager metrics.
func (ep *EventPipe) Collector() *metrics.Collector {
	return metrics.NewCollector(func() []metrics.Snapshot {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		var out []metrics.Snapshot
		for i, sess := range ep.sessions {
			if sess == nil || sess.bufferManager == nil {
				continue
			}
			m := &sess.bufferManager.Metrics
			out = append(out, metrics.Snapshot{
				SessionIndex:              i,
				NumOversizedEventsDropped: m.NumOversizedEventsDropped.Load(),
				BytesDroppedOnOversized:   m.BytesDroppedOnOversized.Load(),
				SequencePointsEmitted:     m.SequencePointsEmitted.Load(),
				BuffersAllocated:          m.BuffersAllocated.Load(),
				BuffersReclaimed:          m.BuffersReclaimed.Load(),
				SizeOfAllBuffers:          sess.bufferManager.SizeOfAllBuffers(),
				Budget:                    sess.bufferManager.Budget(),
			})
		}
		return out
	})
}
