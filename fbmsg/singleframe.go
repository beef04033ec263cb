package fbmsg

import (
	"fmt"
	"sync"
	"time"

	"github.com/dreamworks-mcrt/mcrtdataio-go/fb"
	"github.com/dreamworks-mcrt/mcrtdataio-go/mergeaction"
	"github.com/dreamworks-mcrt/mcrtdataio-go/pixelcodec"
	"github.com/dreamworks-mcrt/mcrtdataio-go/tile"
)

// gcMinMessages and gcMinElapsed gate the one-shot per-frame slab
// compaction described in spec §4.4 step 6.
const (
	gcMinMessages = 5
	gcMinElapsed  = 500 * time.Millisecond
)

// producerSlot is the per-machine-id bookkeeping FbMsgSingleFrame owns.
type producerSlot struct {
	multi *FbMsgMultiChans
	fb    *fb.Fb

	receivedThisIter  bool
	receivedEver      bool
	msgCountThisIter  int
	firstMsgTime      time.Time
	compactedThisIter bool

	tracker *mergeaction.Tracker
}

// FbMsgSingleFrame is the merge node's per-syncId view across every
// producer: one FbMsgMultiChans + Fb per machine id, plus aggregate
// progress/status arbitration and the merge() pass that folds producer
// framebuffers into the shared output (spec §4.4). Grounded in
// original_source's FbMsgSingleFrame and bifaci/host.go's multi-plugin
// registry (here, a registry of render-node producers instead of
// plugins).
type FbMsgSingleFrame struct {
	mu sync.Mutex

	codec pixelcodec.Codec

	producers []*producerSlot

	activeMachines        int
	firstMachineID        int // -1 until the first globally-received producer
	receivedMessagesTotal int
	receivedMessagesAll   int
	infoOnlyCount         int

	AggregateProgress float64
	AggregateStatus   Status

	// TunnelMachineID, when >= 0, restricts progress updates to that single
	// producer and leaves that producer out of merge accumulation (a debug
	// bypass path).
	TunnelMachineID int

	mergeCountTotal   int
	partialTileCursor int
	currentSyncID     uint32

	// everReceivedAnything is a one-shot latch for this slot's lifetime
	// (unaffected by ResetWholeHistory): only the very first message this
	// slot ever processes forces the STARTED aggregate status, matching
	// the "flash STARTED" UI transition at session start rather than at
	// every per-syncId reset (spec §4.4 scenario S4).
	everReceivedAnything bool

	// TrackMergeActions enables per-producer MergeActionTracker recording.
	TrackMergeActions bool

	// snapshotStartTimeTotal counts getSnapshotStartTime() calls, switching
	// from "first received producer only" to "min over all received
	// producers this iteration" after the first call (mirrors the
	// original's two-phase snapshot-time resolution).
	snapshotStartTimeTotal int

	// denoiserAlbedoName/denoiserNormalName are frame-wide, first-write-wins
	// across every producer (not per-producer), cleared on ResetWholeHistory.
	denoiserAlbedoName string
	denoiserNormalName string
}

// NewFbMsgSingleFrame creates a frame tracker with no producers configured;
// call Init before use.
func NewFbMsgSingleFrame(codec pixelcodec.Codec) *FbMsgSingleFrame {
	return &FbMsgSingleFrame{codec: codec, firstMachineID: -1, TunnelMachineID: -1}
}

// Init sets the producer count, allocating one slot per machine id.
func (s *FbMsgSingleFrame) Init(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.producers = make([]*producerSlot, n)
	for i := range s.producers {
		slot := &producerSlot{multi: NewFbMsgMultiChans(s.codec)}
		if s.TrackMergeActions {
			slot.tracker = mergeaction.NewTracker(i)
		}
		s.producers[i] = slot
	}
	s.firstMachineID = -1
}

// InitFb sizes every producer's framebuffer for vp.
func (s *FbMsgSingleFrame) InitFb(vp tile.Viewport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.producers {
		p.fb = fb.New(vp)
	}
}

// ResetWholeHistory clears last-iteration and all-iteration bookkeeping and
// adopts syncId as current, per spec §4.4.
func (s *FbMsgSingleFrame) ResetWholeHistory(syncID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.producers {
		p.receivedThisIter = false
		p.receivedEver = false
		p.msgCountThisIter = 0
		p.compactedThisIter = false
	}
	s.activeMachines = 0
	s.firstMachineID = -1
	s.receivedMessagesTotal = 0
	s.receivedMessagesAll = 0
	s.infoOnlyCount = 0
	s.AggregateProgress = 0
	s.mergeCountTotal = 0
	s.partialTileCursor = 0
	s.currentSyncID = syncID
	s.snapshotStartTimeTotal = 0
	s.denoiserAlbedoName = ""
	s.denoiserNormalName = ""
}

// CurrentSyncID returns the sync id this frame slot was last reset to.
func (s *FbMsgSingleFrame) CurrentSyncID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSyncID
}

// CoarsePassDone reports whether every producer slot has moved past its
// coarse pass (i.e. none still flag CoarsePass==true). Every configured
// producer is checked, including one that has not sent a message yet; such
// a producer still counts as being in its coarse pass.
func (s *FbMsgSingleFrame) CoarsePassDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.producers {
		if p.multi.CoarsePass {
			return false
		}
	}
	return true
}

// DenoiserNames returns the frame-wide denoiser albedo/normal input names,
// first-write-wins across every producer this sync id.
func (s *FbMsgSingleFrame) DenoiserNames() (albedo, normal string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.denoiserAlbedoName, s.denoiserNormalName
}

// SnapshotStartTime resolves the snapshot start time per the original's
// two-phase rule: on its very first call this sync id, the first-received
// producer's snapshot time; on every later call, the minimum snapshot time
// across all currently-received producers.
func (s *FbMsgSingleFrame) SnapshotStartTime() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var startTime uint64
	if s.snapshotStartTimeTotal == 0 {
		if s.activeMachines > 0 && s.firstMachineID >= 0 {
			startTime = s.producers[s.firstMachineID].multi.SnapshotStartTime
		}
	} else {
		for _, p := range s.producers {
			if !p.receivedThisIter {
				continue
			}
			if startTime == 0 || p.multi.SnapshotStartTime < startTime {
				startTime = p.multi.SnapshotStartTime
			}
		}
	}
	s.snapshotStartTimeTotal++
	return startTime
}

var errMachineOutOfRange = fmt.Errorf("fbmsg: machine id out of range")

// Push ingests one inbound message for its carrying producer, per the
// nine-step contract in spec §4.4.
func (s *FbMsgSingleFrame) Push(pf *ProgressiveFrame, infoSink InfoSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pf.MachineID < 0 || pf.MachineID >= len(s.producers) {
		return errMachineOutOfRange
	}
	slot := s.producers[pf.MachineID]

	if err := slot.multi.Push(false, pf, slot.fb, true, false, infoSink); err != nil {
		return err
	}

	if pf.IsInfoOnly() {
		s.infoOnlyCount++
		return nil
	}

	if pf.Status == StatusStarted {
		if slot.receivedEver {
			s.activeMachines--
		}
		slot.receivedEver = false
		slot.msgCountThisIter = 0
		slot.receivedThisIter = false
		slot.compactedThisIter = false
	}

	if s.denoiserAlbedoName == "" && pf.DenoiserAlbedoInputName != "" {
		s.denoiserAlbedoName = pf.DenoiserAlbedoInputName
	}
	if s.denoiserNormalName == "" && pf.DenoiserNormalInputName != "" {
		s.denoiserNormalName = pf.DenoiserNormalInputName
	}

	s.receivedMessagesTotal++
	s.receivedMessagesAll++
	if slot.msgCountThisIter == 0 {
		slot.firstMsgTime = time.Now()
	}
	slot.msgCountThisIter++
	wasReceivedEver := slot.receivedEver
	slot.receivedThisIter = true
	slot.receivedEver = true
	if !wasReceivedEver {
		s.activeMachines++
		if s.firstMachineID < 0 {
			s.firstMachineID = pf.MachineID
		}
	}

	if !slot.compactedThisIter && slot.msgCountThisIter >= gcMinMessages &&
		time.Since(slot.firstMsgTime) >= gcMinElapsed {
		slot.fb.Compact()
		slot.compactedThisIter = true
	}

	s.recomputeAggregateProgressLocked()

	s.recomputeAggregateStatusLocked()
	if s.AggregateStatus == StatusStarted {
		s.AggregateProgress = 0
	}
	s.everReceivedAnything = true

	return nil
}

func (s *FbMsgSingleFrame) recomputeAggregateProgressLocked() {
	var sum float64
	for i, p := range s.producers {
		if s.TunnelMachineID >= 0 && s.TunnelMachineID != i {
			continue
		}
		if p.receivedThisIter {
			sum += p.multi.Progress
		}
	}
	s.AggregateProgress = sum
}

// recomputeAggregateStatusLocked implements the deterministic arbitration
// of spec §4.4: any ERROR→ERROR; else any CANCELLED→CANCELLED; else
// very-first-received→STARTED; else all FINISHED→FINISHED; else any
// RENDERING→RENDERING; else default RENDERING.
func (s *FbMsgSingleFrame) recomputeAggregateStatusLocked() {
	anyReceived := false
	allFinished := true
	anyRendering := false
	for _, p := range s.producers {
		if !p.receivedThisIter {
			continue
		}
		anyReceived = true
		st := p.multi.Status
		if st == StatusError {
			s.AggregateStatus = StatusError
			return
		}
	}
	for _, p := range s.producers {
		if !p.receivedThisIter {
			continue
		}
		if p.multi.Status == StatusCancelled {
			s.AggregateStatus = StatusCancelled
			return
		}
	}
	if !s.everReceivedAnything && anyReceived {
		s.AggregateStatus = StatusStarted
		return
	}
	for _, p := range s.producers {
		if !p.receivedThisIter {
			continue
		}
		if p.multi.Status != StatusFinished {
			allFinished = false
		}
		if p.multi.Status == StatusRendering {
			anyRendering = true
		}
	}
	if anyReceived && allFinished {
		s.AggregateStatus = StatusFinished
		return
	}
	if anyRendering {
		s.AggregateStatus = StatusRendering
		return
	}
	s.AggregateStatus = StatusRendering
}

// IsInitialFrameMessage reports whether pf is the first message seen for
// its carrying machine id at the current sync id (spec §4.4). outForceSend
// is set true under the same condition, matching the original's
// out-parameter shape for sender throttling.
func (s *FbMsgSingleFrame) IsInitialFrameMessage(pf *ProgressiveFrame, outForceSend *bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pf.MachineID < 0 || pf.MachineID >= len(s.producers) {
		return false
	}
	initial := s.producers[pf.MachineID].msgCountThisIter <= 1
	if outForceSend != nil {
		*outForceSend = initial
	}
	return initial
}

// errViewportMismatch indicates merge() aborted because a received
// producer's framebuffer viewport does not match outFb's.
var errViewportMismatch = fmt.Errorf("fbmsg: producer framebuffer viewport mismatch")

// Merge folds received producer framebuffers into outFb, per the five-step
// contract of spec §4.4.
func (s *FbMsgSingleFrame) Merge(partialTileCount int, outFb *fb.Fb, latencyLog *FbMsgSingleChan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.producers {
		if !p.receivedThisIter {
			continue
		}
		if s.TunnelMachineID >= 0 && s.TunnelMachineID == i {
			continue
		}
		if !p.compactedThisIter && p.msgCountThisIter >= gcMinMessages &&
			time.Since(p.firstMsgTime) >= gcMinElapsed {
			p.fb.Compact()
			p.compactedThisIter = true
		}
		if !p.fb.Viewport().Equal(outFb.Viewport()) {
			return errViewportMismatch
		}
	}

	s.mergeCountTotal++

	var err error
	switch {
	case s.mergeCountTotal == 1:
		err = s.mergeFullFromFirst(outFb)
	case partialTileCount == 0:
		err = s.mergeFullAll(outFb)
	default:
		err = s.mergePartial(partialTileCount, outFb)
	}
	return err
}

func (s *FbMsgSingleFrame) mergeFullFromFirst(outFb *fb.Fb) error {
	if s.firstMachineID < 0 {
		return nil
	}
	p := s.producers[s.firstMachineID]
	all := make([]bool, outFb.Viewport().TotalTiles())
	for i := range all {
		all[i] = true
	}
	if err := outFb.AccumulateTiles(p.fb, all); err != nil {
		return err
	}
	if p.tracker != nil {
		p.tracker.MergeFull()
	}
	return nil
}

func (s *FbMsgSingleFrame) mergeFullAll(outFb *fb.Fb) error {
	all := make([]bool, outFb.Viewport().TotalTiles())
	for i := range all {
		all[i] = true
	}
	for i, p := range s.producers {
		if !p.receivedThisIter || (s.TunnelMachineID >= 0 && s.TunnelMachineID == i) {
			continue
		}
		if err := outFb.AccumulateTiles(p.fb, all); err != nil {
			return err
		}
		if p.tracker != nil {
			p.tracker.MergeFull()
		}
	}
	return nil
}

func (s *FbMsgSingleFrame) mergePartial(partialTileCount int, outFb *fb.Fb) error {
	total := outFb.Viewport().TotalTiles()
	if total == 0 {
		return nil
	}
	if partialTileCount > total {
		partialTileCount = total
	}
	bitmap := make([]bool, total)
	for i := 0; i < partialTileCount; i++ {
		bitmap[(s.partialTileCursor+i)%total] = true
	}
	s.partialTileCursor = (s.partialTileCursor + partialTileCount) % total

	outFb.ResetTiles(bitmap)
	for i, p := range s.producers {
		if !p.receivedThisIter || (s.TunnelMachineID >= 0 && s.TunnelMachineID == i) {
			continue
		}
		if err := outFb.AccumulateTiles(p.fb, bitmap); err != nil {
			return err
		}
		if p.tracker != nil {
			p.tracker.MergePartial(bitmap)
		}
	}
	return nil
}

// EncodeMergeActionTracker emits, for each received-ever producer, its
// machine id followed by its tracker's encoded payload, terminated by
// machine id -1 (spec §4.4).
func (s *FbMsgSingleFrame) EncodeMergeActionTracker() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for i, p := range s.producers {
		if !p.receivedEver || p.tracker == nil {
			continue
		}
		out = append(out, encodeInt32(int32(i))...)
		out = append(out, p.tracker.EncodeData()...)
	}
	out = append(out, encodeInt32(-1)...)
	return out
}

// DecodeMergeActionTrackerAndDump walks an encoded stream produced by
// EncodeMergeActionTracker, skipping every machine but targetID, and
// returns that machine's replayed payload bytes (ready for
// mergeaction.NewDequeue), or nil if targetID never appears.
func DecodeMergeActionTrackerAndDump(data []byte, targetID int) ([]byte, error) {
	pos := 0
	for {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("fbmsg: truncated merge-action-tracker stream")
		}
		mid := decodeInt32(data[pos:])
		pos += 4
		if mid == -1 {
			return nil, nil
		}
		payload, rest, err := mergeaction.DecodeData(data[pos:])
		if err != nil {
			return nil, err
		}
		consumed := len(data[pos:]) - len(rest)
		pos += consumed
		if int(mid) == targetID {
			return payload, nil
		}
	}
}

func encodeInt32(v int32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func decodeInt32(b []byte) int32 {
	return int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16 | int32(b[3])<<24
}

// EncodeLatencyLog emits, on the first call, only the first machine's log;
// on subsequent calls, the logs of every producer that received a message
// this iteration; terminated by machine id -1 (spec §4.4).
func (s *FbMsgSingleFrame) EncodeLatencyLog(firstCall bool) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	emit := func(i int, p *producerSlot) {
		out = append(out, encodeInt32(int32(i))...)
		out = append(out, p.multi.EncodeLatencyLogChannel()...)
	}
	if firstCall {
		if s.firstMachineID >= 0 {
			emit(s.firstMachineID, s.producers[s.firstMachineID])
		}
	} else {
		for i, p := range s.producers {
			if p.receivedThisIter {
				emit(i, p)
			}
		}
	}
	out = append(out, encodeInt32(-1)...)
	return out
}

// Producer returns the producer slot's framebuffer and multi-channel
// accumulator for introspection/testing.
func (s *FbMsgSingleFrame) Producer(machineID int) (*fb.Fb, *FbMsgMultiChans, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if machineID < 0 || machineID >= len(s.producers) {
		return nil, nil, false
	}
	p := s.producers[machineID]
	return p.fb, p.multi, true
}

// ActiveMachines returns the current count of producers with at least one
// currently-outstanding receive (spec §4.4 step 5).
func (s *FbMsgSingleFrame) ActiveMachines() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeMachines
}

// FirstMachineID returns the id of the first globally-received producer
// this frame, or -1 if none yet.
func (s *FbMsgSingleFrame) FirstMachineID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstMachineID
}

// ReadyAll reports whether every configured producer has an outstanding
// receive this iteration — the "ready all" condition FbMsgMultiFrames'
// sync-id line-up policy watches to advance its display pointer.
func (s *FbMsgSingleFrame) ReadyAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.producers) == 0 {
		return false
	}
	for _, p := range s.producers {
		if !p.receivedThisIter {
			return false
		}
	}
	return true
}

// ReceivedAny reports whether any producer has received a message since the
// last ResetWholeHistory (used by the line-up ring to detect data loss on
// slot recycling).
func (s *FbMsgSingleFrame) ReceivedAny() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeMachines > 0
}
