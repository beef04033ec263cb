package fbmsg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamworks-mcrt/mcrtdataio-go/fb"
	"github.com/dreamworks-mcrt/mcrtdataio-go/tile"
)

func testViewport() tile.Viewport {
	return tile.Viewport{MinX: 0, MinY: 0, MaxX: 15, MaxY: 15}
}

func TestFbMsgMultiChansInfoOnlyForwardsAuxInfo(t *testing.T) {
	m := NewFbMsgMultiChans(fakeCodec{})
	outFb := fb.New(testViewport())

	var got []byte
	pf := &ProgressiveFrame{
		Progress: -1,
		Buffers:  []NamedBuffer{{Name: fb.ChannelAuxInfo, Data: []byte("hello")}},
	}
	err := m.Push(false, pf, outFb, false, false, func(payload []byte) { got = payload })
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
	require.False(t, outFb.Beauty.HasData)
}

func TestFbMsgMultiChansEagerDecodeSetsPlane(t *testing.T) {
	m := NewFbMsgMultiChans(fakeCodec{})
	outFb := fb.New(testViewport())

	pf := &ProgressiveFrame{
		Progress:          0.5,
		Status:            StatusRendering,
		SendImageActionID: NoActionID,
		Buffers: []NamedBuffer{
			{Name: fb.PlaneBeauty, Data: []byte("beauty-bytes")},
		},
	}
	err := m.Push(false, pf, outFb, false, false, nil)
	require.NoError(t, err)
	require.True(t, outFb.Beauty.HasData)
	require.InDelta(t, 0.5, m.Progress, 1e-9)
	require.Equal(t, StatusRendering, m.Status)
}

func TestFbMsgMultiChansStartedResetsFb(t *testing.T) {
	m := NewFbMsgMultiChans(fakeCodec{})
	outFb := fb.New(testViewport())

	first := &ProgressiveFrame{Progress: 0.1, Status: StatusRendering, SendImageActionID: NoActionID,
		Buffers: []NamedBuffer{{Name: fb.PlaneBeauty, Data: []byte("a")}}}
	require.NoError(t, m.Push(false, first, outFb, false, false, nil))
	require.True(t, outFb.Beauty.HasData)

	second := &ProgressiveFrame{Progress: 0.0, Status: StatusStarted, SendImageActionID: NoActionID}
	require.NoError(t, m.Push(false, second, outFb, false, false, nil))
	require.False(t, outFb.Beauty.HasData, "STARTED must reset the framebuffer")
}

func TestFbMsgMultiChansCoarsePassLatches(t *testing.T) {
	m := NewFbMsgMultiChans(fakeCodec{})
	outFb := fb.New(testViewport())
	require.True(t, m.CoarsePass)

	coarse := &ProgressiveFrame{Progress: 0.1, Status: StatusRendering, CoarsePass: true, SendImageActionID: NoActionID}
	require.NoError(t, m.Push(false, coarse, outFb, false, false, nil))
	require.True(t, m.CoarsePass)

	fine := &ProgressiveFrame{Progress: 0.2, Status: StatusRendering, CoarsePass: false, SendImageActionID: NoActionID}
	require.NoError(t, m.Push(false, fine, outFb, false, false, nil))
	require.False(t, m.CoarsePass)

	stillCoarseFlag := &ProgressiveFrame{Progress: 0.3, Status: StatusRendering, CoarsePass: true, SendImageActionID: NoActionID}
	require.NoError(t, m.Push(false, stillCoarseFlag, outFb, false, false, nil))
	require.False(t, m.CoarsePass, "coarsePass must latch false once tripped")
}

func TestFbMsgMultiChansActionIDOrderingAndDecodeAll(t *testing.T) {
	m := NewFbMsgMultiChans(fakeCodec{})
	outFb := fb.New(testViewport())

	for _, id := range []uint32{5, 6, 7} {
		pf := &ProgressiveFrame{Progress: 0.1, Status: StatusRendering, SendImageActionID: id}
		require.NoError(t, m.Push(true, pf, outFb, false, false, nil))
	}
	require.Equal(t, []uint32{5, 6, 7}, m.ActionIDs)

	m.DecodeAll(outFb, nil)
	require.Empty(t, m.ActionIDs)
}
