package fbmsg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamworks-mcrt/mcrtdataio-go/fb"
)

func newTestSingleFrame(t *testing.T, numProducers int) *FbMsgSingleFrame {
	t.Helper()
	s := NewFbMsgSingleFrame(fakeCodec{})
	s.Init(numProducers)
	s.InitFb(testViewport())
	return s
}

// TestStatusArbitration exercises spec §8 property 7: the deterministic
// aggregate-status function of §4.4.
func TestStatusArbitration(t *testing.T) {
	s := newTestSingleFrame(t, 2)

	err := s.Push(&ProgressiveFrame{MachineID: 0, Progress: 0.1, Status: StatusRendering, SendImageActionID: NoActionID}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusStarted, s.AggregateStatus, "the very first received message yields STARTED")

	err = s.Push(&ProgressiveFrame{MachineID: 1, Progress: 0.2, Status: StatusRendering, SendImageActionID: NoActionID}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusRendering, s.AggregateStatus)

	err = s.Push(&ProgressiveFrame{MachineID: 0, Progress: 0.1, Status: StatusError, SendImageActionID: NoActionID}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusError, s.AggregateStatus, "any ERROR dominates")
}

func TestStatusArbitrationCancelledBeatsRendering(t *testing.T) {
	s := newTestSingleFrame(t, 2)
	require.NoError(t, s.Push(&ProgressiveFrame{MachineID: 0, Progress: 0.1, Status: StatusRendering, SendImageActionID: NoActionID}, nil))
	require.NoError(t, s.Push(&ProgressiveFrame{MachineID: 1, Progress: 0.1, Status: StatusCancelled, SendImageActionID: NoActionID}, nil))
	require.Equal(t, StatusCancelled, s.AggregateStatus)
}

func TestPushOutOfRangeMachineID(t *testing.T) {
	s := newTestSingleFrame(t, 2)
	err := s.Push(&ProgressiveFrame{MachineID: 5, Progress: 0.1, Status: StatusRendering, SendImageActionID: NoActionID}, nil)
	require.Error(t, err)
}

func TestIsInitialFrameMessage(t *testing.T) {
	s := newTestSingleFrame(t, 1)
	var force bool

	first := &ProgressiveFrame{MachineID: 0, Progress: 0.1, Status: StatusRendering, SendImageActionID: NoActionID}
	require.NoError(t, s.Push(first, nil))
	require.True(t, s.IsInitialFrameMessage(first, &force))
	require.True(t, force)

	second := &ProgressiveFrame{MachineID: 0, Progress: 0.2, Status: StatusRendering, SendImageActionID: NoActionID}
	require.NoError(t, s.Push(second, nil))
	require.False(t, s.IsInitialFrameMessage(second, &force))
	require.False(t, force)
}

func TestMergeFastFirstPaintThenFullThenPartial(t *testing.T) {
	outFb := fb.New(testViewport())
	s := newTestSingleFrame(t, 2)

	require.NoError(t, s.Push(&ProgressiveFrame{
		MachineID: 0, Progress: 0.1, Status: StatusRendering, SendImageActionID: NoActionID,
		Buffers: []NamedBuffer{{Name: fb.PlaneBeauty, Data: []byte("p0")}},
	}, nil))
	require.NoError(t, s.Push(&ProgressiveFrame{
		MachineID: 1, Progress: 0.2, Status: StatusRendering, SendImageActionID: NoActionID,
		Buffers: []NamedBuffer{{Name: fb.PlaneBeauty, Data: []byte("p1")}},
	}, nil))

	// First merge call: fast first paint from the firstMachineId producer only.
	require.NoError(t, s.Merge(0, outFb, nil))
	require.True(t, outFb.Beauty.HasData)

	// Second merge call with partialTileCount==0: full merge across all
	// received producers.
	require.NoError(t, s.Merge(0, outFb, nil))

	// Third call: partial merge over a handful of tiles.
	require.NoError(t, s.Merge(2, outFb, nil))
}

func TestMergeViewportMismatchAborts(t *testing.T) {
	s := newTestSingleFrame(t, 1)
	require.NoError(t, s.Push(&ProgressiveFrame{MachineID: 0, Progress: 0.1, Status: StatusRendering, SendImageActionID: NoActionID}, nil))

	mismatched := fb.New(testViewport())
	mismatched.Resize(testViewport())
	otherVp := testViewport()
	otherVp.MaxX += 8
	mismatched.Resize(otherVp)

	err := s.Merge(0, mismatched, nil)
	require.Error(t, err)
}

func TestEncodeMergeActionTrackerTerminatesWithSentinel(t *testing.T) {
	s := NewFbMsgSingleFrame(fakeCodec{})
	s.TrackMergeActions = true
	s.Init(2)
	s.InitFb(testViewport())

	require.NoError(t, s.Push(&ProgressiveFrame{MachineID: 0, Progress: 0.1, Status: StatusRendering, SendImageActionID: 10}, nil))
	require.NoError(t, s.Merge(0, fb.New(testViewport()), nil))

	data := s.EncodeMergeActionTracker()
	require.NotEmpty(t, data)
	sentinel := encodeInt32(-1)
	require.Equal(t, sentinel, data[len(data)-len(sentinel):])

	payload, err := DecodeMergeActionTrackerAndDump(data, 0)
	require.NoError(t, err)
	require.NotNil(t, payload)
}
