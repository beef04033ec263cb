package fbmsg

import (
	"fmt"
	"sync"

	"github.com/dreamworks-mcrt/mcrtdataio-go/fb"
	"github.com/dreamworks-mcrt/mcrtdataio-go/pixelcodec"
	"github.com/dreamworks-mcrt/mcrtdataio-go/tile"
)

// MergeMode selects one of the three frame-scheduling policies a merge
// node can run (spec §4.5).
type MergeMode int

const (
	ModeSeamlessCombine MergeMode = iota
	ModePickupLatest
	ModeSyncIDLineup
)

// FeedbackInitCallback is the hook point where the merge-action feedback
// channel gets reset. Pickup-latest mode fires it on the first message and
// whenever a newer sync id replaces the current one; sync-id line-up mode
// fires it once, when the ring is first built, and not when a window shift
// recycles a slot; seamless-combine mode never fires it.
type FeedbackInitCallback func()

// FbMsgMultiFrames dispatches inbound progressive-frame messages to one or
// more FbMsgSingleFrame slots according to the configured MergeMode,
// maintaining a display-sync-id pointer the viewer reads from (spec
// §4.5). Grounded in original_source's FbMsgMultiFrames; the line-up
// ring-buffer shift semantics are resolved precisely from
// FbMsgMultiFrames.cc's push_syncidLineup/shiftPtrTable (display starts at
// the oldest slot, not the newest, and only advances on a ready-all
// transition).
type FbMsgMultiFrames struct {
	mu sync.Mutex

	mode         MergeMode
	codec        pixelcodec.Codec
	numProducers int

	// Seamless / pickup-latest: a single slot.
	single      *FbMsgSingleFrame
	displaySync uint32
	initialized bool

	// Sync-id line-up: a K-slot ring, mPtrTable[0]==startSyncId,
	// mPtrTable[K-1]==endSyncId.
	ring        []*FbMsgSingleFrame
	ringSyncIDs []uint32
	startSync   uint32
	endSync     uint32
	k           int

	// DroppedFrames counts line-up slots recycled while still holding
	// unconsumed data (spec §4.5 shift step).
	DroppedFrames int

	lastViewport tile.Viewport
}

// NewFbMsgMultiFrames creates a dispatcher for the given mode. ringSize is
// only meaningful for ModeSyncIDLineup (the K in spec §4.5); it is ignored
// otherwise.
func NewFbMsgMultiFrames(mode MergeMode, codec pixelcodec.Codec, numProducers, ringSize int) *FbMsgMultiFrames {
	m := &FbMsgMultiFrames{mode: mode, codec: codec, numProducers: numProducers, k: ringSize}
	if mode != ModeSyncIDLineup {
		m.single = NewFbMsgSingleFrame(codec)
		m.single.Init(numProducers)
	}
	return m
}

// DisplaySyncID returns the sync id the viewer should currently be shown.
func (m *FbMsgMultiFrames) DisplaySyncID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displaySync
}

// StartSyncID and EndSyncID expose the line-up ring's current window
// bounds (only meaningful in ModeSyncIDLineup).
func (m *FbMsgMultiFrames) StartSyncID() uint32 { m.mu.Lock(); defer m.mu.Unlock(); return m.startSync }
func (m *FbMsgMultiFrames) EndSyncID() uint32   { m.mu.Lock(); defer m.mu.Unlock(); return m.endSync }

// SingleFrame returns the sole frame slot backing ModeSeamlessCombine and
// ModePickupLatest (nil in ModeSyncIDLineup, which uses the ring instead).
func (m *FbMsgMultiFrames) SingleFrame() *FbMsgSingleFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.single
}

// Slot returns the FbMsgSingleFrame currently holding syncID's data, if
// any (ModeSyncIDLineup only).
func (m *FbMsgMultiFrames) Slot(syncID uint32) (*FbMsgSingleFrame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range m.ringSyncIDs {
		if id == syncID {
			return m.ring[i], true
		}
	}
	return nil, false
}

// Push ingests one inbound ProgressiveFrame per the §4.5 dispatch
// contract.
func (m *FbMsgMultiFrames) Push(pf *ProgressiveFrame, infoSink InfoSink, onInit FeedbackInitCallback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pf.Viewport != nil {
		m.lastViewport = *pf.Viewport
	}

	if pf.IsInfoOnly() {
		if aux, ok := pf.Buffer(fb.ChannelAuxInfo); ok && infoSink != nil {
			infoSink(aux.Data)
		}
		return nil
	}

	switch m.mode {
	case ModeSeamlessCombine:
		return m.pushSeamless(pf, infoSink)
	case ModePickupLatest:
		return m.pushPickupLatest(pf, infoSink, onInit)
	case ModeSyncIDLineup:
		return m.pushLineup(pf, infoSink, onInit)
	default:
		return fmt.Errorf("fbmsg: unknown merge mode %d", m.mode)
	}
}

func (m *FbMsgMultiFrames) pushSeamless(pf *ProgressiveFrame, infoSink InfoSink) error {
	if !m.initialized {
		m.displaySync = pf.FrameID
		m.initialized = true
	} else if pf.FrameID > m.displaySync {
		m.displaySync = pf.FrameID
	}
	return m.single.Push(pf, infoSink)
}

func (m *FbMsgMultiFrames) pushPickupLatest(pf *ProgressiveFrame, infoSink InfoSink, onInit FeedbackInitCallback) error {
	switch {
	case !m.initialized:
		m.single.ResetWholeHistory(pf.FrameID)
		m.displaySync = pf.FrameID
		m.initialized = true
		if onInit != nil {
			onInit()
		}
	case pf.FrameID < m.displaySync:
		return nil // stale frame, dropped
	case pf.FrameID > m.displaySync:
		m.single.ResetWholeHistory(pf.FrameID)
		m.displaySync = pf.FrameID
		if onInit != nil {
			onInit()
		}
	}
	return m.single.Push(pf, infoSink)
}

func (m *FbMsgMultiFrames) pushLineup(pf *ProgressiveFrame, infoSink InfoSink, onInit FeedbackInitCallback) error {
	if m.k <= 0 {
		return fmt.Errorf("fbmsg: sync-id line-up requires a positive ring size")
	}

	if !m.initialized {
		m.startSync = pf.FrameID
		m.endSync = m.startSync + uint32(m.k) - 1
		m.displaySync = m.startSync // oldest slot, per FbMsgMultiFrames.cc
		m.ring = make([]*FbMsgSingleFrame, m.k)
		m.ringSyncIDs = make([]uint32, m.k)
		for i := 0; i < m.k; i++ {
			slot := NewFbMsgSingleFrame(m.codec)
			slot.Init(m.numProducers)
			slot.InitFb(m.lastViewport)
			syncID := m.startSync + uint32(i)
			slot.ResetWholeHistory(syncID)
			m.ring[i] = slot
			m.ringSyncIDs[i] = syncID
		}
		m.initialized = true
		if onInit != nil {
			onInit()
		}
	}

	if pf.FrameID < m.displaySync {
		return nil // stale frame, dropped
	}

	if pf.FrameID > m.endSync {
		shift := pf.FrameID - m.endSync
		for i := uint32(0); i < shift; i++ {
			m.shiftPtrTable()
		}
	}

	idx := -1
	for i, id := range m.ringSyncIDs {
		if id == pf.FrameID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("fbmsg: sync id %d not present in line-up window [%d,%d]", pf.FrameID, m.startSync, m.endSync)
	}

	slot := m.ring[idx]
	wasReadyAll := slot.ReadyAll()
	if err := slot.Push(pf, infoSink); err != nil {
		return err
	}
	nowReadyAll := slot.ReadyAll()
	if !wasReadyAll && nowReadyAll && pf.FrameID > m.displaySync {
		m.displaySync = pf.FrameID
	}
	return nil
}

// shiftPtrTable recycles mPtrTable[0] (the slot for startSyncId) as the
// new tail slot for endSyncId+1, per spec §4.5's shift invariant. A
// recycled slot that still held unconsumed producer data is counted as a
// dropped frame.
func (m *FbMsgMultiFrames) shiftPtrTable() {
	recycled := m.ring[0]
	if recycled.ReceivedAny() {
		m.DroppedFrames++
	}

	newSyncID := m.endSync + 1
	recycled.ResetWholeHistory(newSyncID)

	copy(m.ring, m.ring[1:])
	m.ring[m.k-1] = recycled
	copy(m.ringSyncIDs, m.ringSyncIDs[1:])
	m.ringSyncIDs[m.k-1] = newSyncID

	m.startSync++
	m.endSync = newSyncID
	if m.displaySync < m.startSync {
		m.displaySync = m.startSync
	}
}
