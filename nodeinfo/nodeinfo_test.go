package nodeinfo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMcrtNodeInfoRoundTrip(t *testing.T) {
	src := NewMcrtNodeInfo(3)
	src.SetHostName("render07")
	src.SetExecMode(ExecVector)
	src.SetNumThreads(64)
	src.SetCPUUsage([]float64{0.2, 0.5, 0.9})
	src.SetMemUsage(0.33)
	src.SetRenderProgress(0.75)

	encoded, ok := src.codec.Encode()
	require.True(t, ok)

	dst := NewMcrtNodeInfo(3)
	n, err := dst.codec.Decode(encoded, func() bool { dst.decodeSelf(); return true })
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Equal(t, "render07", dst.HostName)
	require.Equal(t, ExecVector, dst.ExecMode)
	require.Equal(t, 64, dst.NumThreads)
	require.Equal(t, []float64{0.2, 0.5, 0.9}, dst.CPUUsage)
	require.InDelta(t, 0.33, dst.MemUsage, 1e-9)
	require.InDelta(t, 0.75, dst.RenderProgress, 1e-9)
	require.Equal(t, NodeMCRT, dst.GetNodeStat())
}

func TestRenderPrepSubstageDrivesNodeStat(t *testing.T) {
	n := NewMcrtNodeInfo(1)
	require.Equal(t, NodeIdle, n.GetNodeStat())

	n.SetRenderPrepStats(RenderPrepStats{Substage: SubstageLoadGeo0Start, TotalSteps: 100})
	require.Equal(t, NodeRenderPrepRun, n.GetNodeStat())

	n.SetRenderPrepStats(RenderPrepStats{Substage: SubstageLoadGeo0StartCanceled})
	require.Equal(t, NodeRenderPrepCancel, n.GetNodeStat())
}

func TestRenderPrepProcessUpdatesAreCoalesced(t *testing.T) {
	n := NewMcrtNodeInfo(1)
	for i := 0; i < processFlushStride-1; i++ {
		n.SetRenderPrepStats(RenderPrepStats{Substage: SubstageLoadGeo0Process, CurrSteps: i, TotalSteps: 1000})
	}
	require.True(t, n.codec.IsEmpty(), "process updates below the stride should not flush")

	n.SetRenderPrepStats(RenderPrepStats{Substage: SubstageLoadGeo0Process, CurrSteps: processFlushStride, TotalSteps: 1000})
	require.False(t, n.codec.IsEmpty(), "the stride-th update should flush")
}

func TestGlobalNodeInfoLazyConstructAndHandshake(t *testing.T) {
	src := NewGlobalNodeInfo()
	node3 := NewMcrtNodeInfo(3)
	node3.SetHostName("render03")
	node3.SetExecMode(ExecScalar)
	src.nodes[3] = node3

	node7 := NewMcrtNodeInfo(7)
	node7.SetHostName("render07")
	node7.SetExecMode(ExecVector)
	src.nodes[7] = node7

	encoded, ok := src.EncodeAll()
	require.True(t, ok)

	var newIDs []int
	dst := NewGlobalNodeInfo()
	dst.OnNewNode = func(machineID int, _ []byte) { newIDs = append(newIDs, machineID) }

	n, err := dst.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, 2, n) // EncodeTable emits one item per node
	require.ElementsMatch(t, []int{3, 7}, newIDs)

	got3, ok := dst.Node(3)
	require.True(t, ok)
	require.Equal(t, "render03", got3.HostName)
	require.Equal(t, ExecScalar, got3.ExecMode)

	got7, ok := dst.Node(7)
	require.True(t, ok)
	require.Equal(t, "render07", got7.HostName)

	dst.SetClockDeltaClientMainToMcrt(3, 12.5)
	dst.SetClockDeltaClientMainAgainstMerge(4.0)
	shift, ok := dst.ClockDeltaTimeShift(3)
	require.True(t, ok)
	require.InDelta(t, 4.0-12.5, shift, 1e-9)

	_, ok = dst.ClockDeltaTimeShift(99)
	require.False(t, ok, "no handshake leg recorded for an unknown node")
}

func TestGlobalNodeInfoRenderPrepProgress(t *testing.T) {
	g := NewGlobalNodeInfo()

	node1 := NewMcrtNodeInfo(1)
	node1.SetSyncID(5)
	node1.SetRenderPrepStats(RenderPrepStats{Substage: SubstageLoadGeo0Start, CurrSteps: 3, TotalSteps: 10})
	g.nodes[1] = node1

	node2 := NewMcrtNodeInfo(2)
	node2.SetSyncID(5)
	node2.SetRenderPrepStats(RenderPrepStats{Substage: SubstageLoadGeo0Start, CurrSteps: 7, TotalSteps: 20})
	g.nodes[2] = node2

	// A stale node reporting an older syncId must not contribute its steps
	// to the numerator or to maxTotalSteps; it is still counted in the node
	// count that multiplies maxTotalSteps.
	staleNode := NewMcrtNodeInfo(3)
	staleNode.SetSyncID(4)
	staleNode.SetRenderPrepStats(RenderPrepStats{Substage: SubstageLoadGeo0Start, CurrSteps: 100, TotalSteps: 100})
	g.nodes[3] = staleNode

	// maxTotalSteps=20 (node2's), currStepsAll=3+7=10, totalStepsAll=20*3=60.
	frac := g.RenderPrepProgress()
	require.InDelta(t, 10.0/60.0, frac, 1e-9)
}

func TestGlobalNodeInfoRenderPrepProgressZeroWhenNoTotals(t *testing.T) {
	g := NewGlobalNodeInfo()
	require.Zero(t, g.RenderPrepProgress())
}

func TestGlobalNodeInfoBackEndSyncIDRange(t *testing.T) {
	g := NewGlobalNodeInfo()
	node1 := NewMcrtNodeInfo(1)
	node1.SetSyncID(3)
	g.nodes[1] = node1
	node2 := NewMcrtNodeInfo(2)
	node2.SetSyncID(9)
	g.nodes[2] = node2

	require.EqualValues(t, 9, g.NewestBackEndSyncID())
	require.EqualValues(t, 3, g.OldestBackEndSyncID())
}

func TestMcrtNodeInfoGenericCommentQueue(t *testing.T) {
	n := NewMcrtNodeInfo(1)
	n.EnqGenericComment("first")
	n.EnqGenericComment("second")

	c, ok := n.DeqGenericComment()
	require.True(t, ok)
	require.Equal(t, "first", c)

	c, ok = n.DeqGenericComment()
	require.True(t, ok)
	require.Equal(t, "second", c)

	_, ok = n.DeqGenericComment()
	require.False(t, ok)
}

func TestGlobalNodeInfoMergeGenericCommentQueue(t *testing.T) {
	g := NewGlobalNodeInfo()
	g.EnqMergeGenericComment("merge-note")

	c, ok := g.DeqGenericComment()
	require.True(t, ok)
	require.Equal(t, "merge-note", c)

	_, ok = g.DeqGenericComment()
	require.False(t, ok)
}
