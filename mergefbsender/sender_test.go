package mergefbsender

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamworks-mcrt/mcrtdataio-go/fb"
	"github.com/dreamworks-mcrt/mcrtdataio-go/fbmsg"
	"github.com/dreamworks-mcrt/mcrtdataio-go/pixelcodec"
	"github.com/dreamworks-mcrt/mcrtdataio-go/tile"
)

// fakeCodec is a pixelcodec.Codec stand-in that records every Encode call's
// chosen precision and reports a fixed HDRI verdict, counting how many
// times the test was invoked (to verify caching).
type fakeCodec struct {
	mu        sync.Mutex
	hdri      bool
	hdriCalls int
	encoded   map[string]pixelcodec.Precision
}

func newFakeCodec(hdri bool) *fakeCodec {
	return &fakeCodec{hdri: hdri, encoded: make(map[string]pixelcodec.Precision)}
}

func (c *fakeCodec) Probe(channelName string, payload []byte) pixelcodec.DataType {
	return pixelcodec.RenderOutputAOV
}

func (c *fakeCodec) DecodeInto(dataType pixelcodec.DataType, payload []byte, vp tile.Viewport) (*pixelcodec.DecodeResult, error) {
	return &pixelcodec.DecodeResult{Mask: tile.NewActivePixels(vp)}, nil
}

func (c *fakeCodec) Encode(dataType string, prec pixelcodec.Precision, vp tile.Viewport) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encoded[dataType] = prec
	return []byte("encoded"), nil
}

func (c *fakeCodec) HDRITest(dataType pixelcodec.DataType, payload []byte, vp tile.Viewport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hdriCalls++
	return c.hdri
}

func testViewport() tile.Viewport {
	return tile.Viewport{MinX: 0, MinY: 0, MaxX: 15, MaxY: 15}
}

func newFrameOnCoarsePass(t *testing.T, codec pixelcodec.Codec, vp tile.Viewport) *fbmsg.FbMsgSingleFrame {
	t.Helper()
	frame := fbmsg.NewFbMsgSingleFrame(codec)
	frame.Init(1)
	frame.InitFb(vp)
	require.NoError(t, frame.Push(&fbmsg.ProgressiveFrame{
		MachineID: 0, Progress: 0.5, Status: fbmsg.StatusRendering, CoarsePass: true,
		SendImageActionID: fbmsg.NoActionID,
	}, nil))
	return frame
}

// TestS5PassPrecisionHDRI is spec §8 scenario S5.
func TestS5PassPrecisionHDRI(t *testing.T) {
	vp := testViewport()

	t.Run("hdri pixels present chooses H16 and caches", func(t *testing.T) {
		codec := newFakeCodec(true)
		frame := newFrameOnCoarsePass(t, codec, vp)

		sender := New(codec, AUTO16)
		sender.Init(vp)
		sender.SetHeaderInfoAndFbReset(frame, nil)
		require.True(t, sender.CoarsePassStatus())

		sender.Fb().Beauty.CoarseHint = pixelcodec.PrecisionRuntimeDecision
		sender.Fb().Beauty.HasData = true
		sender.Fb().Beauty.Data = []byte("beauty-bytes")
		sender.Fb().BeautyOdd.CoarseHint = pixelcodec.PrecisionRuntimeDecision
		sender.Fb().BeautyOdd.HasData = true
		sender.Fb().BeautyOdd.Data = []byte("odd-bytes")

		out := &fbmsg.ProgressiveFrame{}
		require.NoError(t, sender.AddBeautyBuff(out))
		require.NoError(t, sender.AddRenderBufferOdd(out))

		require.Equal(t, pixelcodec.PrecisionH16, codec.encoded[fb.PlaneBeauty])
		require.Equal(t, pixelcodec.PrecisionH16, codec.encoded[fb.PlaneBeautyOdd])
		require.Equal(t, 1, codec.hdriCalls, "the HDRI test result must be cached and shared across beauty and renderBufferOdd")
	})

	t.Run("no hdri pixels chooses UC8", func(t *testing.T) {
		codec := newFakeCodec(false)
		frame := newFrameOnCoarsePass(t, codec, vp)

		sender := New(codec, AUTO16)
		sender.Init(vp)
		sender.SetHeaderInfoAndFbReset(frame, nil)

		sender.Fb().Beauty.CoarseHint = pixelcodec.PrecisionRuntimeDecision
		sender.Fb().Beauty.HasData = true
		sender.Fb().Beauty.Data = []byte("beauty-bytes")

		out := &fbmsg.ProgressiveFrame{}
		require.NoError(t, sender.AddBeautyBuff(out))
		require.Equal(t, pixelcodec.PrecisionUC8, codec.encoded[fb.PlaneBeauty])
	})
}

func TestCalcPackTilePrecisionTable(t *testing.T) {
	codec := newFakeCodec(true)

	always := func(p pixelcodec.Precision) func() pixelcodec.Precision {
		return func() pixelcodec.Precision { return p }
	}

	t.Run("FULL32 always F32", func(t *testing.T) {
		s := New(codec, FULL32)
		s.coarsePassStatus = true
		require.Equal(t, pixelcodec.PrecisionF32, s.calcPackTilePrecision(pixelcodec.PrecisionH16, pixelcodec.PrecisionH16, always(pixelcodec.PrecisionH16)))
	})

	t.Run("FULL16 sends F32 only for F32 hints", func(t *testing.T) {
		s := New(codec, FULL16)
		s.coarsePassStatus = true
		require.Equal(t, pixelcodec.PrecisionF32, s.calcPackTilePrecision(pixelcodec.PrecisionF32, pixelcodec.PrecisionH16, nil))
		s.coarsePassStatus = false
		require.Equal(t, pixelcodec.PrecisionH16, s.calcPackTilePrecision(pixelcodec.PrecisionF32, pixelcodec.PrecisionH16, nil))
	})

	t.Run("AUTO32 is always F32 past coarse pass", func(t *testing.T) {
		s := New(codec, AUTO32)
		s.coarsePassStatus = false
		require.Equal(t, pixelcodec.PrecisionF32, s.calcPackTilePrecision(pixelcodec.PrecisionUC8, pixelcodec.PrecisionH16, nil))
	})

	t.Run("AUTO16 honors fine hint past coarse pass", func(t *testing.T) {
		s := New(codec, AUTO16)
		s.coarsePassStatus = false
		require.Equal(t, pixelcodec.PrecisionH16, s.calcPackTilePrecision(pixelcodec.PrecisionUC8, pixelcodec.PrecisionH16, nil))
		require.Equal(t, pixelcodec.PrecisionF32, s.calcPackTilePrecision(pixelcodec.PrecisionUC8, pixelcodec.PrecisionF32, nil))
	})
}

func TestSetHeaderInfoAndFbResetResetsOnStarted(t *testing.T) {
	vp := testViewport()
	codec := newFakeCodec(false)
	frame := fbmsg.NewFbMsgSingleFrame(codec)
	frame.Init(1)
	frame.InitFb(vp)

	sender := New(codec, AUTO16)
	sender.Init(vp)

	sender.Fb().Beauty.HasData = true
	require.NoError(t, frame.Push(&fbmsg.ProgressiveFrame{
		MachineID: 0, Progress: 0, Status: fbmsg.StatusStarted, SendImageActionID: fbmsg.NoActionID,
	}, nil))

	sender.SetHeaderInfoAndFbReset(frame, nil)
	require.False(t, sender.Fb().Beauty.HasData, "a STARTED header must reset the owned framebuffer")
}

func TestMessageIDChangesPerMessage(t *testing.T) {
	vp := testViewport()
	codec := newFakeCodec(false)
	frame := fbmsg.NewFbMsgSingleFrame(codec)
	frame.Init(1)
	frame.InitFb(vp)
	require.NoError(t, frame.Push(&fbmsg.ProgressiveFrame{
		MachineID: 0, Progress: 0.1, Status: fbmsg.StatusRendering, SendImageActionID: fbmsg.NoActionID,
	}, nil))

	sender := New(codec, AUTO16)
	sender.Init(vp)

	sender.SetHeaderInfoAndFbReset(frame, nil)
	first := sender.MessageID()
	require.NotZero(t, first)

	sender.SetHeaderInfoAndFbReset(frame, nil)
	second := sender.MessageID()
	require.NotEqual(t, first, second, "each assembled message must get a fresh correlation id")
}

func TestAddAuxInfoAndLatencyLog(t *testing.T) {
	vp := testViewport()
	codec := newFakeCodec(false)
	frame := fbmsg.NewFbMsgSingleFrame(codec)
	frame.Init(1)
	frame.InitFb(vp)
	require.NoError(t, frame.Push(&fbmsg.ProgressiveFrame{
		MachineID: 0, Progress: 0.1, Status: fbmsg.StatusRendering, SendImageActionID: fbmsg.NoActionID,
	}, nil))

	sender := New(codec, AUTO16)
	sender.Init(vp)
	sender.SetHeaderInfoAndFbReset(frame, nil)

	out := &fbmsg.ProgressiveFrame{}
	sender.AddAuxInfo(out, []byte("fleet-payload"))
	sender.AddLatencyLog(out, frame, true)

	buf, ok := out.Buffer(fb.ChannelAuxInfo)
	require.True(t, ok)
	require.Equal(t, "fleet-payload", string(buf.Data))

	_, ok = out.Buffer(fb.ChannelLatency)
	require.True(t, ok)
}
