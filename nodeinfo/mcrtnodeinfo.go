package nodeinfo

import (
	"sync"
	"time"

	"github.com/dreamworks-mcrt/mcrtdataio-go/infocodec"
)

// Info keys used by McrtNodeInfo's wire encoding (spec §4.1/§4.7). Kept as
// short, stable strings: they cross the wire and get diffed by humans.
const (
	keyHostName          = "host"
	keyExecMode          = "mode"
	keyNumThreads        = "thr"
	keyCPUTotal          = "cpuT"
	keyAssignedCPUTotal  = "cpuA"
	keyCPUUsage          = "cpu"
	keyMemTotal          = "memT"
	keyMemUsage          = "mem"
	keyNetRecvBps        = "netR"
	keyNetSendBps        = "netS"
	keySendBps           = "sndBps"
	keyFeedbackActive    = "fbAct"
	keyFeedbackInterval  = "fbIvl"
	keyRecvFeedbackFps   = "fbFps"
	keyRecvFeedbackBps   = "fbBps"
	keyEvalFeedbackTime  = "fbEval"
	keyFeedbackLatency   = "fbLat"
	keyProgress          = "prg"
	keyGlobalProgress    = "gPrg"
	keyRenderPrep        = "rPrep"
	keyClockOffset       = "clkOff"
	keyRoundTripTime     = "rtt"
	keySyncID            = "sync"
	keyRenderActive      = "rAct"
	keyRenderPrepCancel  = "rpCancel"
	keyGlobalBaseEpoch   = "gBase"
	keyMsgRecvTotal      = "msgN"
	keyOldestMsgTiming   = "oldMsg"
	keyNewestMsgTiming   = "newMsg"
	keyRenderPrepStart   = "rpStart"
	keyRenderPrepEnd     = "rpEnd"
	key1stSnapshotStart  = "snap0Start"
	key1stSnapshotEnd    = "snap0End"
	key1stSendTiming     = "send0"
	keyGenericComment    = "comment"
)

// processFlushStride bounds how often PROCESS substage updates are flushed
// to the wire: spec §4.7 calls these "kHz" updates, so every update would
// flood the channel. One flush every N updates amortizes that without
// starving the viewer of progress.
const processFlushStride = 32

// McrtNodeInfo is the merge node's live view of one MCRT render node: what
// it reports about itself (host, exec mode, load, render-prep progress,
// feedback-channel stats, frame timing checkpoints) plus what the merge
// node derives about it (NodeStat, clock offset) and a free-form generic
// comment queue. Grounded in original_source's McrtNodeInfo plus
// infocodec's associative table contract (spec §4.1 S6), adapting bifaci's
// per-connection state struct (host.go's ManagedPlugin) to a per-render-
// node record.
type McrtNodeInfo struct {
	MachineID int

	codec *infocodec.InfoCodec

	HostName           string
	ExecMode           ExecMode
	NumThreads         int
	CPUTotal           int
	AssignedCPUTotal   int
	CPUUsage           []float64
	MemTotal           uint64
	MemUsage           float64

	NetRecvBps float64 // whole-host recv bandwidth, byte/sec
	NetSendBps float64 // whole-host send bandwidth, byte/sec
	SendBps    float64 // this process's outgoing message bandwidth, byte/sec

	FeedbackActive      bool
	FeedbackInterval    float64 // sec
	RecvFeedbackFps     float64
	RecvFeedbackBps     float64 // byte/sec
	EvalFeedbackTime    float64 // millisec
	FeedbackLatency     float64 // millisec

	RenderProgress float64 // 0..1, valid once in MCRT stat
	GlobalProgress float64 // 0..1, fleet-relative progress reported back to this node
	renderPrep     RenderPrepStats
	prepFlushCount int

	ClockOffsetMs          float64   // mcrt clock minus merge clock, milliseconds
	RoundTripTime          float64   // millisec, measured during the same handshake as ClockOffsetMs
	LastClockOffsetApplied time.Time // when ClockOffsetMs was last recomputed

	SyncID          uint32 // current processed syncId
	RenderActive    bool   // true while this node is rendering (vs. idle/render-prep)
	RenderPrepCancel bool  // true while a render-prep cancel is in flight

	GlobalBaseFromEpoch time.Time // process-start epoch this node's timings are relative to
	MsgRecvTotal        uint32    // total progressive-frame messages received this render
	OldestMsgRecvTiming float64   // sec from process start
	NewestMsgRecvTiming float64   // sec from process start
	RenderPrepStartTiming  float64
	RenderPrepEndTiming    float64
	FirstSnapshotStartTiming float64
	FirstSnapshotEndTiming   float64
	FirstSendTiming          float64

	mcrtActive bool // true once the node has sent at least one MCRT-phase message

	commentMu sync.Mutex
	comments  []string
}

// NewMcrtNodeInfo creates a record bound to its own per-node InfoCodec;
// GlobalNodeInfo files it under an associative table entry keyed by the
// decimal machine id (spec §4.1 table contract).
func NewMcrtNodeInfo(machineID int) *McrtNodeInfo {
	return &McrtNodeInfo{
		MachineID: machineID,
		codec:     infocodec.New("mcrtNodeInfo", false),
	}
}

// Codec exposes the underlying InfoCodec for GlobalNodeInfo to fold into
// its table-of-nodes encoding.
func (n *McrtNodeInfo) Codec() *infocodec.InfoCodec { return n.codec }

// SetHostName records the node's hostname.
func (n *McrtNodeInfo) SetHostName(host string) {
	infocodec.Set(n.codec, keyHostName, host, &n.HostName)
}

// SetExecMode records the node's rendering execution mode.
func (n *McrtNodeInfo) SetExecMode(mode ExecMode) {
	var raw string
	infocodec.Set(n.codec, keyExecMode, mode.String(), &raw)
	n.ExecMode = mode
}

// SetNumThreads records the node's configured thread count.
func (n *McrtNodeInfo) SetNumThreads(threads int) {
	infocodec.Set(n.codec, keyNumThreads, threads, &n.NumThreads)
}

// SetCPUTotal records the node's total CPU core count.
func (n *McrtNodeInfo) SetCPUTotal(total int) {
	infocodec.Set(n.codec, keyCPUTotal, total, &n.CPUTotal)
}

// SetAssignedCPUTotal records the CPU core count assigned to this render.
func (n *McrtNodeInfo) SetAssignedCPUTotal(total int) {
	infocodec.Set(n.codec, keyAssignedCPUTotal, total, &n.AssignedCPUTotal)
}

// SetCPUUsage records per-core utilization fractions.
func (n *McrtNodeInfo) SetCPUUsage(usage []float64) {
	infocodec.SetVec(n.codec, keyCPUUsage, usage, &n.CPUUsage)
}

// SetMemTotal records the node's total memory, in bytes.
func (n *McrtNodeInfo) SetMemTotal(total uint64) {
	infocodec.Set(n.codec, keyMemTotal, total, &n.MemTotal)
}

// SetMemUsage records overall memory utilization as a 0..1 fraction.
func (n *McrtNodeInfo) SetMemUsage(frac float64) {
	infocodec.Set(n.codec, keyMemUsage, frac, &n.MemUsage)
}

// SetNetRecvBps records the whole-host inbound network bandwidth.
func (n *McrtNodeInfo) SetNetRecvBps(bps float64) {
	infocodec.Set(n.codec, keyNetRecvBps, bps, &n.NetRecvBps)
}

// SetNetSendBps records the whole-host outbound network bandwidth.
func (n *McrtNodeInfo) SetNetSendBps(bps float64) {
	infocodec.Set(n.codec, keyNetSendBps, bps, &n.NetSendBps)
}

// SetSendBps records this process's own outgoing message bandwidth.
func (n *McrtNodeInfo) SetSendBps(bps float64) {
	infocodec.Set(n.codec, keySendBps, bps, &n.SendBps)
}

// SetFeedbackActive records whether the feedback channel is currently on.
func (n *McrtNodeInfo) SetFeedbackActive(active bool) {
	infocodec.Set(n.codec, keyFeedbackActive, active, &n.FeedbackActive)
}

// SetFeedbackInterval records the feedback send interval, in seconds.
func (n *McrtNodeInfo) SetFeedbackInterval(sec float64) {
	infocodec.Set(n.codec, keyFeedbackInterval, sec, &n.FeedbackInterval)
}

// SetRecvFeedbackFps records the incoming feedback message rate.
func (n *McrtNodeInfo) SetRecvFeedbackFps(fps float64) {
	infocodec.Set(n.codec, keyRecvFeedbackFps, fps, &n.RecvFeedbackFps)
}

// SetRecvFeedbackBps records the incoming feedback bandwidth.
func (n *McrtNodeInfo) SetRecvFeedbackBps(bps float64) {
	infocodec.Set(n.codec, keyRecvFeedbackBps, bps, &n.RecvFeedbackBps)
}

// SetEvalFeedbackTime records the feedback evaluation cost, in millisec.
func (n *McrtNodeInfo) SetEvalFeedbackTime(ms float64) {
	infocodec.Set(n.codec, keyEvalFeedbackTime, ms, &n.EvalFeedbackTime)
}

// SetFeedbackLatency records the feedback round-trip latency, in millisec.
func (n *McrtNodeInfo) SetFeedbackLatency(ms float64) {
	infocodec.Set(n.codec, keyFeedbackLatency, ms, &n.FeedbackLatency)
}

// SetRenderProgress records the MCRT-phase progress fraction.
func (n *McrtNodeInfo) SetRenderProgress(frac float64) {
	infocodec.Set(n.codec, keyProgress, frac, &n.RenderProgress)
	n.mcrtActive = true
}

// SetGlobalProgress records the fleet-relative progress fraction reported
// back to this node (spec §6's globalProgress command).
func (n *McrtNodeInfo) SetGlobalProgress(frac float64) {
	infocodec.Set(n.codec, keyGlobalProgress, frac, &n.GlobalProgress)
}

// SetRenderPrepStats stages a render-prep progress update. Non-PROCESS
// substages (START/DONE and their canceled variants) always flush
// immediately; PROCESS substages are coalesced and flushed only every
// processFlushStride calls, so the channel doesn't get flooded by kHz
// geometry-load ticks (spec §4.7).
func (n *McrtNodeInfo) SetRenderPrepStats(rp RenderPrepStats) {
	n.renderPrep = rp
	n.prepFlushCount++

	flush := rp.Substage.isImmediateFlush() || n.prepFlushCount%processFlushStride == 0
	if !flush {
		return
	}
	encoded := struct {
		Substage   int  `json:"stg"`
		CurrSteps  int  `json:"c"`
		TotalSteps int  `json:"t"`
		Canceled   bool `json:"x"`
	}{int(rp.Substage), rp.CurrSteps, rp.TotalSteps, rp.Canceled}
	infocodec.Set(n.codec, keyRenderPrep, encoded, nil)
}

// SetClockOffsetMs records the resolved clock offset between the merge
// node's clock and this MCRT node's clock, in milliseconds, and the time
// the offset was applied. The handshake's round-trip time is recorded
// separately, by SetRoundTripTime.
func (n *McrtNodeInfo) SetClockOffsetMs(ms float64) {
	infocodec.Set(n.codec, keyClockOffset, ms, &n.ClockOffsetMs)
	n.LastClockOffsetApplied = time.Now()
}

// SetRoundTripTime records the round-trip time measured by the clock-offset
// handshake, in milliseconds.
func (n *McrtNodeInfo) SetRoundTripTime(ms float64) {
	infocodec.Set(n.codec, keyRoundTripTime, ms, &n.RoundTripTime)
}

// SetSyncID records the syncId this node is currently processing.
func (n *McrtNodeInfo) SetSyncID(id uint32) {
	infocodec.Set(n.codec, keySyncID, id, &n.SyncID)
}

// SetRenderActive records whether this node is currently rendering.
func (n *McrtNodeInfo) SetRenderActive(active bool) {
	infocodec.Set(n.codec, keyRenderActive, active, &n.RenderActive)
}

// SetRenderPrepCancel records whether a render-prep cancel is in flight.
func (n *McrtNodeInfo) SetRenderPrepCancel(cancel bool) {
	infocodec.Set(n.codec, keyRenderPrepCancel, cancel, &n.RenderPrepCancel)
}

// SetGlobalBaseFromEpoch records the epoch time this node's process-start-
// relative timing fields are measured from.
func (n *McrtNodeInfo) SetGlobalBaseFromEpoch(t time.Time) {
	ms := t.UnixMilli()
	var raw int64
	infocodec.Set(n.codec, keyGlobalBaseEpoch, ms, &raw)
	n.GlobalBaseFromEpoch = time.UnixMilli(raw)
}

// SetMsgRecvTotal records the total progressive-frame messages received
// for the current render.
func (n *McrtNodeInfo) SetMsgRecvTotal(total uint32) {
	infocodec.Set(n.codec, keyMsgRecvTotal, total, &n.MsgRecvTotal)
}

// SetOldestMsgRecvTiming records the oldest message-receive timestamp, in
// seconds from process start.
func (n *McrtNodeInfo) SetOldestMsgRecvTiming(sec float64) {
	infocodec.Set(n.codec, keyOldestMsgTiming, sec, &n.OldestMsgRecvTiming)
}

// SetNewestMsgRecvTiming records the newest message-receive timestamp, in
// seconds from process start.
func (n *McrtNodeInfo) SetNewestMsgRecvTiming(sec float64) {
	infocodec.Set(n.codec, keyNewestMsgTiming, sec, &n.NewestMsgRecvTiming)
}

// SetRenderPrepStartTiming records when render-prep started, in seconds
// from process start.
func (n *McrtNodeInfo) SetRenderPrepStartTiming(sec float64) {
	infocodec.Set(n.codec, keyRenderPrepStart, sec, &n.RenderPrepStartTiming)
}

// SetRenderPrepEndTiming records when render-prep ended, in seconds from
// process start.
func (n *McrtNodeInfo) SetRenderPrepEndTiming(sec float64) {
	infocodec.Set(n.codec, keyRenderPrepEnd, sec, &n.RenderPrepEndTiming)
}

// SetFirstSnapshotStartTiming records when the first framebuffer snapshot
// started, in seconds from process start.
func (n *McrtNodeInfo) SetFirstSnapshotStartTiming(sec float64) {
	infocodec.Set(n.codec, key1stSnapshotStart, sec, &n.FirstSnapshotStartTiming)
}

// SetFirstSnapshotEndTiming records when the first framebuffer snapshot
// ended, in seconds from process start.
func (n *McrtNodeInfo) SetFirstSnapshotEndTiming(sec float64) {
	infocodec.Set(n.codec, key1stSnapshotEnd, sec, &n.FirstSnapshotEndTiming)
}

// SetFirstSendTiming records when the first outbound message was sent, in
// seconds from process start.
func (n *McrtNodeInfo) SetFirstSendTiming(sec float64) {
	infocodec.Set(n.codec, key1stSendTiming, sec, &n.FirstSendTiming)
}

// EnqGenericComment appends a free-form comment for this node, protected
// by its own mutex since comments accumulate rather than overwrite
// (unlike every other field, which decode() simply replaces).
func (n *McrtNodeInfo) EnqGenericComment(comment string) {
	n.commentMu.Lock()
	defer n.commentMu.Unlock()
	n.comments = append(n.comments, comment)
	infocodec.Set(n.codec, keyGenericComment, comment, nil)
}

// DeqGenericComment removes and returns the oldest queued comment, or
// ok=false if the queue is empty.
func (n *McrtNodeInfo) DeqGenericComment() (comment string, ok bool) {
	n.commentMu.Lock()
	defer n.commentMu.Unlock()
	if len(n.comments) == 0 {
		return "", false
	}
	comment, n.comments = n.comments[0], n.comments[1:]
	return comment, true
}

// GetNodeStat derives the node's liveness state from its render-prep
// substage and MCRT-active flag, per spec §4.7's getNodeStat table.
func (n *McrtNodeInfo) GetNodeStat() NodeStat {
	switch n.renderPrep.Substage {
	case SubstageLoadGeo0Start, SubstageLoadGeo0Process,
		SubstageLoadGeo1Start, SubstageLoadGeo1Process,
		SubstageTessellation0Start, SubstageTessellation0Process,
		SubstageTessellation1Start, SubstageTessellation1Process:
		return NodeRenderPrepRun
	case SubstageLoadGeo0StartCanceled, SubstageLoadGeo1StartCanceled,
		SubstageTessellation0StartCanceled, SubstageTessellation1StartCanceled:
		return NodeRenderPrepCancel
	}
	if n.mcrtActive {
		return NodeMCRT
	}
	return NodeIdle
}

// decodeSelf applies one decoded InfoCodec item (the visitor callback body
// shared by GlobalNodeInfo.Decode) to this node's exported fields.
func (n *McrtNodeInfo) decodeSelf() {
	infocodec.Get(n.codec, keyHostName, &n.HostName)
	var modeStr string
	if infocodec.Get(n.codec, keyExecMode, &modeStr) {
		n.ExecMode = parseExecMode(modeStr)
	}
	infocodec.Get(n.codec, keyNumThreads, &n.NumThreads)
	infocodec.Get(n.codec, keyCPUTotal, &n.CPUTotal)
	infocodec.Get(n.codec, keyAssignedCPUTotal, &n.AssignedCPUTotal)
	if v, ok := n.codec.GetVecFloat(keyCPUUsage); ok {
		n.CPUUsage = v
	}
	infocodec.Get(n.codec, keyMemTotal, &n.MemTotal)
	infocodec.Get(n.codec, keyMemUsage, &n.MemUsage)
	infocodec.Get(n.codec, keyNetRecvBps, &n.NetRecvBps)
	infocodec.Get(n.codec, keyNetSendBps, &n.NetSendBps)
	infocodec.Get(n.codec, keySendBps, &n.SendBps)
	infocodec.Get(n.codec, keyFeedbackActive, &n.FeedbackActive)
	infocodec.Get(n.codec, keyFeedbackInterval, &n.FeedbackInterval)
	infocodec.Get(n.codec, keyRecvFeedbackFps, &n.RecvFeedbackFps)
	infocodec.Get(n.codec, keyRecvFeedbackBps, &n.RecvFeedbackBps)
	infocodec.Get(n.codec, keyEvalFeedbackTime, &n.EvalFeedbackTime)
	infocodec.Get(n.codec, keyFeedbackLatency, &n.FeedbackLatency)
	if infocodec.Get(n.codec, keyProgress, &n.RenderProgress) {
		n.mcrtActive = true
	}
	infocodec.Get(n.codec, keyGlobalProgress, &n.GlobalProgress)
	infocodec.Get(n.codec, keyClockOffset, &n.ClockOffsetMs)
	infocodec.Get(n.codec, keyRoundTripTime, &n.RoundTripTime)
	infocodec.Get(n.codec, keySyncID, &n.SyncID)
	infocodec.Get(n.codec, keyRenderActive, &n.RenderActive)
	infocodec.Get(n.codec, keyRenderPrepCancel, &n.RenderPrepCancel)
	var epochMs int64
	if infocodec.Get(n.codec, keyGlobalBaseEpoch, &epochMs) {
		n.GlobalBaseFromEpoch = time.UnixMilli(epochMs)
	}
	infocodec.Get(n.codec, keyMsgRecvTotal, &n.MsgRecvTotal)
	infocodec.Get(n.codec, keyOldestMsgTiming, &n.OldestMsgRecvTiming)
	infocodec.Get(n.codec, keyNewestMsgTiming, &n.NewestMsgRecvTiming)
	infocodec.Get(n.codec, keyRenderPrepStart, &n.RenderPrepStartTiming)
	infocodec.Get(n.codec, keyRenderPrepEnd, &n.RenderPrepEndTiming)
	infocodec.Get(n.codec, key1stSnapshotStart, &n.FirstSnapshotStartTiming)
	infocodec.Get(n.codec, key1stSnapshotEnd, &n.FirstSnapshotEndTiming)
	infocodec.Get(n.codec, key1stSendTiming, &n.FirstSendTiming)
	var comment string
	if infocodec.Get(n.codec, keyGenericComment, &comment) {
		n.commentMu.Lock()
		n.comments = append(n.comments, comment)
		n.commentMu.Unlock()
	}
}

func parseExecMode(s string) ExecMode {
	switch s {
	case "SCALAR":
		return ExecScalar
	case "VECTOR":
		return ExecVector
	case "XPU":
		return ExecXPU
	case "AUTO":
		return ExecAuto
	default:
		return ExecUnknown
	}
}
