package nodeinfo

import (
	"strconv"
	"sync"

	"github.com/dreamworks-mcrt/mcrtdataio-go/infocodec"
)

// MsgSendHandler is called by GlobalNodeInfo when a clock-offset handshake
// step needs to push a reply back to an MCRT node, decoupling this package
// from any particular transport (spec §4.7/§9's MCRT-control channel).
type MsgSendHandler func(machineID int, payload []byte)

// GlobalNodeInfo is the merge node's fleet-wide aggregate: runtime
// statistics for the client, the dispatcher, the merge node itself, and
// one associative table of per-render-node McrtNodeInfo records, plus the
// clock-offset handshake state that spans the whole fleet (spec §3
// "Per-node live state" / §4.7). Grounded in infocodec's table contract
// (spec §4.1 S6) and bifaci/host.go's multi-plugin registry shape, adapted
// to a registry of render nodes.
type GlobalNodeInfo struct {
	mu sync.Mutex

	codec *infocodec.InfoCodec
	nodes map[int]*McrtNodeInfo

	// OnNewNode fires the first time a machine id is observed via Decode,
	// the trigger point for the clock-offset handshake (spec §4.7).
	OnNewNode MsgSendHandler

	// clockDeltaClientMainToMcrt[machineID] is the client-main-clock minus
	// mcrt-clock offset reported back from that node's handshake reply.
	clockDeltaClientMainToMcrt map[int]float64
	// clockDeltaClientMainAgainstMerge is the client-main-clock minus
	// merge-clock offset, a single fleet-wide value.
	clockDeltaClientMainAgainstMerge float64

	// Client block: the viewer process's self-reported stats.
	ClientHostName       string
	ClientClockTimeShift float64 // millisec
	ClientRoundTripTime  float64 // millisec
	ClientCPUTotal       int
	ClientCPUUsage       float64 // fraction
	ClientMemTotal       uint64  // byte
	ClientMemUsage       float64 // fraction
	ClientNetRecvBps     float64 // byte/sec
	ClientNetSendBps     float64 // byte/sec

	// Dispatch block: the dispatcher process's self-reported stats.
	DispatchHostName       string
	DispatchClockTimeShift float64 // millisec
	DispatchRoundTripTime  float64 // millisec

	// Merge block: this process's own stats, plus its feedback-channel
	// send-side statistics.
	MergeHostName           string
	MergeClockDeltaSvrPort  int
	MergeClockDeltaSvrPath  string // unix-domain ipc path
	MergeMcrtTotal          int
	MergeCPUTotal           int
	MergeAssignedCPUTotal   int
	MergeCPUUsage           float64
	MergeCoreUsage          []float64
	MergeMemTotal           uint64
	MergeMemUsage           float64
	MergeNetRecvBps         float64
	MergeNetSendBps         float64
	MergeRecvBps            float64
	MergeSendBps            float64
	MergeProgress           float64
	MergeFeedbackActive     bool
	MergeFeedbackInterval   float64 // sec
	MergeEvalFeedbackTime   float64 // millisec
	MergeSendFeedbackFps    float64
	MergeSendFeedbackBps    float64

	mergeCommentMu sync.Mutex
	mergeComments  []string
}

// NewGlobalNodeInfo creates an empty fleet aggregate.
func NewGlobalNodeInfo() *GlobalNodeInfo {
	return &GlobalNodeInfo{
		codec:                      infocodec.New("globalNodeInfo", false),
		nodes:                      make(map[int]*McrtNodeInfo),
		clockDeltaClientMainToMcrt: make(map[int]float64),
	}
}

// Node returns the record for machineID, if one has been observed.
func (g *GlobalNodeInfo) Node(machineID int) (*McrtNodeInfo, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[machineID]
	return n, ok
}

// NodeIDs returns the machine ids currently tracked, in no particular
// order.
func (g *GlobalNodeInfo) NodeIDs() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]int, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	return ids
}

// SetClientHostName records the viewer's hostname.
func (g *GlobalNodeInfo) SetClientHostName(host string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "clientHost", host, &g.ClientHostName)
}

// SetClientClockTimeShift records the resolved client/merge clock offset.
func (g *GlobalNodeInfo) SetClientClockTimeShift(ms float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "clientClkShift", ms, &g.ClientClockTimeShift)
}

// SetClientRoundTripTime records the client handshake's round-trip time.
func (g *GlobalNodeInfo) SetClientRoundTripTime(ms float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "clientRtt", ms, &g.ClientRoundTripTime)
}

// SetClientCPUTotal records the viewer host's CPU core count.
func (g *GlobalNodeInfo) SetClientCPUTotal(total int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "clientCpuT", total, &g.ClientCPUTotal)
}

// SetClientCPUUsage records the viewer host's CPU utilization fraction.
func (g *GlobalNodeInfo) SetClientCPUUsage(frac float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "clientCpu", frac, &g.ClientCPUUsage)
}

// SetClientMemTotal records the viewer host's total memory, in bytes.
func (g *GlobalNodeInfo) SetClientMemTotal(total uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "clientMemT", total, &g.ClientMemTotal)
}

// SetClientMemUsage records the viewer host's memory utilization fraction.
func (g *GlobalNodeInfo) SetClientMemUsage(frac float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "clientMem", frac, &g.ClientMemUsage)
}

// SetClientNetRecvBps records the viewer host's inbound network bandwidth.
func (g *GlobalNodeInfo) SetClientNetRecvBps(bps float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "clientNetR", bps, &g.ClientNetRecvBps)
}

// SetClientNetSendBps records the viewer host's outbound network bandwidth.
func (g *GlobalNodeInfo) SetClientNetSendBps(bps float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "clientNetS", bps, &g.ClientNetSendBps)
}

// SetDispatchHostName records the dispatcher's hostname.
func (g *GlobalNodeInfo) SetDispatchHostName(host string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "dispatchHost", host, &g.DispatchHostName)
}

// SetDispatchClockTimeShift records the resolved dispatch/merge clock
// offset.
func (g *GlobalNodeInfo) SetDispatchClockTimeShift(ms float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "dispatchClkShift", ms, &g.DispatchClockTimeShift)
}

// SetDispatchRoundTripTime records the dispatch handshake's round-trip
// time.
func (g *GlobalNodeInfo) SetDispatchRoundTripTime(ms float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "dispatchRtt", ms, &g.DispatchRoundTripTime)
}

// SetMergeHostName records this merge process's hostname.
func (g *GlobalNodeInfo) SetMergeHostName(host string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeHost", host, &g.MergeHostName)
}

// SetMergeClockDeltaSvrPort records the TCP port this node's clock-offset
// server listens on.
func (g *GlobalNodeInfo) SetMergeClockDeltaSvrPort(port int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeClkPort", port, &g.MergeClockDeltaSvrPort)
}

// SetMergeClockDeltaSvrPath records the clock-offset server's unix-domain
// ipc path.
func (g *GlobalNodeInfo) SetMergeClockDeltaSvrPath(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeClkPath", path, &g.MergeClockDeltaSvrPath)
}

// SetMergeMcrtTotal records the initial mcrt node count this session
// started with.
func (g *GlobalNodeInfo) SetMergeMcrtTotal(total int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeMcrtTotal", total, &g.MergeMcrtTotal)
}

// SetMergeCPUTotal records this merge host's CPU core count.
func (g *GlobalNodeInfo) SetMergeCPUTotal(total int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeCpuT", total, &g.MergeCPUTotal)
}

// SetMergeAssignedCPUTotal records the CPU core count assigned to this
// merge process.
func (g *GlobalNodeInfo) SetMergeAssignedCPUTotal(total int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeCpuA", total, &g.MergeAssignedCPUTotal)
}

// SetMergeCPUUsage records this merge host's CPU utilization fraction.
func (g *GlobalNodeInfo) SetMergeCPUUsage(frac float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeCpu", frac, &g.MergeCPUUsage)
}

// SetMergeCoreUsage records this merge host's per-core utilization
// fractions.
func (g *GlobalNodeInfo) SetMergeCoreUsage(usage []float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.SetVec(g.codec, "mergeCore", usage, &g.MergeCoreUsage)
}

// SetMergeMemTotal records this merge host's total memory, in bytes.
func (g *GlobalNodeInfo) SetMergeMemTotal(total uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeMemT", total, &g.MergeMemTotal)
}

// SetMergeMemUsage records this merge host's memory utilization fraction.
func (g *GlobalNodeInfo) SetMergeMemUsage(frac float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeMem", frac, &g.MergeMemUsage)
}

// SetMergeNetRecvBps records this merge host's inbound network bandwidth.
func (g *GlobalNodeInfo) SetMergeNetRecvBps(bps float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeNetR", bps, &g.MergeNetRecvBps)
}

// SetMergeNetSendBps records this merge host's outbound network bandwidth.
func (g *GlobalNodeInfo) SetMergeNetSendBps(bps float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeNetS", bps, &g.MergeNetSendBps)
}

// SetMergeRecvBps records this merge process's incoming message bandwidth.
func (g *GlobalNodeInfo) SetMergeRecvBps(bps float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeRecvBps", bps, &g.MergeRecvBps)
}

// SetMergeSendBps records this merge process's outgoing message bandwidth.
func (g *GlobalNodeInfo) SetMergeSendBps(bps float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeSendBps", bps, &g.MergeSendBps)
}

// SetMergeProgress records this merge process's own progress fraction.
func (g *GlobalNodeInfo) SetMergeProgress(frac float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeProgress", frac, &g.MergeProgress)
}

// SetMergeFeedbackActive records whether this merge process's feedback
// send loop is currently on.
func (g *GlobalNodeInfo) SetMergeFeedbackActive(active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeFbAct", active, &g.MergeFeedbackActive)
}

// SetMergeFeedbackInterval records this merge process's feedback send
// interval, in seconds.
func (g *GlobalNodeInfo) SetMergeFeedbackInterval(sec float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeFbIvl", sec, &g.MergeFeedbackInterval)
}

// SetMergeEvalFeedbackTime records this merge process's feedback
// evaluation cost, in millisec.
func (g *GlobalNodeInfo) SetMergeEvalFeedbackTime(ms float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeFbEval", ms, &g.MergeEvalFeedbackTime)
}

// SetMergeSendFeedbackFps records this merge process's outgoing feedback
// message rate.
func (g *GlobalNodeInfo) SetMergeSendFeedbackFps(fps float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeFbFps", fps, &g.MergeSendFeedbackFps)
}

// SetMergeSendFeedbackBps records this merge process's outgoing feedback
// bandwidth.
func (g *GlobalNodeInfo) SetMergeSendFeedbackBps(bps float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeFbBps", bps, &g.MergeSendFeedbackBps)
}

// EnqMergeGenericComment appends a free-form comment about this merge
// process, queued rather than overwritten like every other merge field
// (spec's generic-comment queues are additive, not last-write-wins).
func (g *GlobalNodeInfo) EnqMergeGenericComment(comment string) {
	g.mergeCommentMu.Lock()
	g.mergeComments = append(g.mergeComments, comment)
	g.mergeCommentMu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	infocodec.Set(g.codec, "mergeComment", comment, nil)
}

// DeqGenericComment removes and returns the oldest queued merge comment,
// or ok=false if the queue is empty.
func (g *GlobalNodeInfo) DeqGenericComment() (comment string, ok bool) {
	g.mergeCommentMu.Lock()
	defer g.mergeCommentMu.Unlock()
	if len(g.mergeComments) == 0 {
		return "", false
	}
	comment, g.mergeComments = g.mergeComments[0], g.mergeComments[1:]
	return comment, true
}

// EncodeAll folds every tracked node's pending InfoCodec items into the
// fleet-wide "nodes" table and encodes the result (including this
// process's own client/dispatch/merge fields), draining each node's codec
// in the process.
func (g *GlobalNodeInfo) EncodeAll() ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, node := range g.nodes {
		g.codec.EncodeTable("nodes", strconv.Itoa(id), node.codec)
	}
	return g.codec.Encode()
}

// Decode applies an encoded fleet snapshot, lazily constructing
// McrtNodeInfo records for machine ids seen for the first time and
// invoking OnNewNode for each (spec §4.7's clock-offset handshake trigger).
func (g *GlobalNodeInfo) Decode(data []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.codec.Decode(data, func() bool {
		infocodec.Get(g.codec, "clientHost", &g.ClientHostName)
		infocodec.Get(g.codec, "clientClkShift", &g.ClientClockTimeShift)
		infocodec.Get(g.codec, "clientRtt", &g.ClientRoundTripTime)
		infocodec.Get(g.codec, "clientCpuT", &g.ClientCPUTotal)
		infocodec.Get(g.codec, "clientCpu", &g.ClientCPUUsage)
		infocodec.Get(g.codec, "clientMemT", &g.ClientMemTotal)
		infocodec.Get(g.codec, "clientMem", &g.ClientMemUsage)
		infocodec.Get(g.codec, "clientNetR", &g.ClientNetRecvBps)
		infocodec.Get(g.codec, "clientNetS", &g.ClientNetSendBps)

		infocodec.Get(g.codec, "dispatchHost", &g.DispatchHostName)
		infocodec.Get(g.codec, "dispatchClkShift", &g.DispatchClockTimeShift)
		infocodec.Get(g.codec, "dispatchRtt", &g.DispatchRoundTripTime)

		infocodec.Get(g.codec, "mergeHost", &g.MergeHostName)
		infocodec.Get(g.codec, "mergeClkPort", &g.MergeClockDeltaSvrPort)
		infocodec.Get(g.codec, "mergeClkPath", &g.MergeClockDeltaSvrPath)
		infocodec.Get(g.codec, "mergeMcrtTotal", &g.MergeMcrtTotal)
		infocodec.Get(g.codec, "mergeCpuT", &g.MergeCPUTotal)
		infocodec.Get(g.codec, "mergeCpuA", &g.MergeAssignedCPUTotal)
		infocodec.Get(g.codec, "mergeCpu", &g.MergeCPUUsage)
		if v, ok := g.codec.GetVecFloat("mergeCore"); ok {
			g.MergeCoreUsage = v
		}
		infocodec.Get(g.codec, "mergeMemT", &g.MergeMemTotal)
		infocodec.Get(g.codec, "mergeMem", &g.MergeMemUsage)
		infocodec.Get(g.codec, "mergeNetR", &g.MergeNetRecvBps)
		infocodec.Get(g.codec, "mergeNetS", &g.MergeNetSendBps)
		infocodec.Get(g.codec, "mergeRecvBps", &g.MergeRecvBps)
		infocodec.Get(g.codec, "mergeSendBps", &g.MergeSendBps)
		infocodec.Get(g.codec, "mergeProgress", &g.MergeProgress)
		infocodec.Get(g.codec, "mergeFbAct", &g.MergeFeedbackActive)
		infocodec.Get(g.codec, "mergeFbIvl", &g.MergeFeedbackInterval)
		infocodec.Get(g.codec, "mergeFbEval", &g.MergeEvalFeedbackTime)
		infocodec.Get(g.codec, "mergeFbFps", &g.MergeSendFeedbackFps)
		infocodec.Get(g.codec, "mergeFbBps", &g.MergeSendFeedbackBps)
		var mergeComment string
		if infocodec.Get(g.codec, "mergeComment", &mergeComment) {
			g.mergeCommentMu.Lock()
			g.mergeComments = append(g.mergeComments, mergeComment)
			g.mergeCommentMu.Unlock()
		}

		itemKey, itemData, ok := g.codec.DecodeTable("nodes")
		if !ok {
			return true
		}
		machineID, err := strconv.Atoi(itemKey)
		if err != nil {
			return false
		}

		node, existed := g.nodes[machineID]
		if !existed {
			node = NewMcrtNodeInfo(machineID)
			g.nodes[machineID] = node
		}

		if _, err := node.codec.Decode(itemData, func() bool {
			node.decodeSelf()
			return true
		}); err != nil {
			return false
		}

		if !existed && g.OnNewNode != nil {
			g.OnNewNode(machineID, nil)
		}
		return true
	})
}

// SetClockDeltaClientMainToMcrt records the client-main-clock minus
// mcrt-clock offset reported by a node's handshake reply.
func (g *GlobalNodeInfo) SetClockDeltaClientMainToMcrt(machineID int, deltaMs float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clockDeltaClientMainToMcrt[machineID] = deltaMs
}

// SetClockDeltaClientMainAgainstMerge records the client-main-clock minus
// merge-clock offset, a single fleet-wide value independent of any one
// node.
func (g *GlobalNodeInfo) SetClockDeltaClientMainAgainstMerge(deltaMs float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clockDeltaClientMainAgainstMerge = deltaMs
}

// ClockDeltaTimeShift resolves the net offset to add to timestamps
// reported by machineID so they line up against the client's clock:
// (client main vs merge) minus (client main vs that mcrt node), per
// spec §4.7. Returns ok=false until SetClockDeltaClientMainToMcrt has
// recorded a delta for that node; the merge leg is not checked and counts
// as 0 until SetClockDeltaClientMainAgainstMerge is called.
func (g *GlobalNodeInfo) ClockDeltaTimeShift(machineID int) (shiftMs float64, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	mcrtDelta, haveMcrt := g.clockDeltaClientMainToMcrt[machineID]
	if !haveMcrt {
		return 0, false
	}
	shift := g.clockDeltaClientMainAgainstMerge - mcrtDelta
	if node, exists := g.nodes[machineID]; exists {
		node.SetClockOffsetMs(shift)
	}
	return shift, true
}

// NewestBackEndSyncID returns the largest syncId reported by any tracked
// mcrt node, or 0 if none are tracked (GlobalNodeInfo.cc
// getNewestBackEndSyncId).
func (g *GlobalNodeInfo) NewestBackEndSyncID() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var newest uint32
	for _, node := range g.nodes {
		if node.SyncID > newest {
			newest = node.SyncID
		}
	}
	return newest
}

// OldestBackEndSyncID returns the smallest syncId reported by any tracked
// mcrt node, or 0 if none are tracked (GlobalNodeInfo.cc
// getOldestBackEndSyncId).
func (g *GlobalNodeInfo) OldestBackEndSyncID() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.nodes) == 0 {
		return 0
	}
	oldest := ^uint32(0)
	for _, node := range g.nodes {
		if node.SyncID < oldest {
			oldest = node.SyncID
		}
	}
	return oldest
}

// RenderPrepProgress returns the fleet-wide render-prep completion
// fraction: among nodes reporting the newest syncId, the largest reported
// TotalSteps times the number of tracked nodes is the denominator, and the
// sum of every such node's CurrSteps is the numerator (GlobalNodeInfo.cc
// getRenderPrepProgress). Returns 0 if no node has reported a nonzero
// total, matching the original's special case.
func (g *GlobalNodeInfo) RenderPrepProgress() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	var latestSyncID uint32
	for _, node := range g.nodes {
		if node.SyncID > latestSyncID {
			latestSyncID = node.SyncID
		}
	}

	var maxTotalSteps, currStepsAll int
	for _, node := range g.nodes {
		if node.SyncID != latestSyncID {
			continue
		}
		if node.renderPrep.TotalSteps > maxTotalSteps {
			maxTotalSteps = node.renderPrep.TotalSteps
		}
		currStepsAll += node.renderPrep.CurrSteps
	}

	totalStepsAll := maxTotalSteps * len(g.nodes)
	if totalStepsAll == 0 {
		return 0
	}
	return float64(currStepsAll) / float64(totalStepsAll)
}

// NodeStat returns the derived liveness state for machineID.
func (g *GlobalNodeInfo) NodeStat(machineID int) (NodeStat, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, exists := g.nodes[machineID]
	if !exists {
		return NodeIdle, false
	}
	return node.GetNodeStat(), true
}
