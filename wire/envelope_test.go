package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamworks-mcrt/mcrtdataio-go/fbmsg"
	"github.com/dreamworks-mcrt/mcrtdataio-go/tile"
)

func sampleFrame() *fbmsg.ProgressiveFrame {
	return &fbmsg.ProgressiveFrame{
		FrameID:           7,
		MachineID:         3,
		Progress:          0.42,
		Status:            fbmsg.StatusRendering,
		CoarsePass:        true,
		Viewport:          &tile.Viewport{MinX: 0, MinY: 0, MaxX: 255, MaxY: 127},
		SnapshotStartTime: 1234567,
		SendImageActionID: fbmsg.NoActionID,
		DenoiserAlbedoInputName: "albedo",
		DenoiserNormalInputName: "normal",
		Buffers: []fbmsg.NamedBuffer{
			{Name: "Beauty", Data: []byte{1, 2, 3}},
			{Name: "auxInfo", Data: []byte("hello")},
		},
	}
}

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	pf := sampleFrame()
	buf, err := EncodeFrame(pf)
	require.NoError(t, err)

	out, err := DecodeFrame(buf)
	require.NoError(t, err)

	require.Equal(t, pf.FrameID, out.FrameID)
	require.Equal(t, pf.MachineID, out.MachineID)
	require.InDelta(t, pf.Progress, out.Progress, 1e-12)
	require.Equal(t, pf.Status, out.Status)
	require.Equal(t, pf.CoarsePass, out.CoarsePass)
	require.Equal(t, *pf.Viewport, *out.Viewport)
	require.Equal(t, pf.SnapshotStartTime, out.SnapshotStartTime)
	require.Equal(t, pf.SendImageActionID, out.SendImageActionID)
	require.Equal(t, pf.DenoiserAlbedoInputName, out.DenoiserAlbedoInputName)
	require.Equal(t, pf.DenoiserNormalInputName, out.DenoiserNormalInputName)
	require.Equal(t, pf.Buffers, out.Buffers)
}

func TestEncodeDecodeFrameNilViewport(t *testing.T) {
	pf := sampleFrame()
	pf.Viewport = nil

	buf, err := EncodeFrame(pf)
	require.NoError(t, err)

	out, err := DecodeFrame(buf)
	require.NoError(t, err)
	require.Nil(t, out.Viewport)
}

func TestFrameWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	pf := sampleFrame()
	require.NoError(t, w.WriteFrame(pf))
	require.NoError(t, w.WriteFrame(pf))

	r := NewFrameReader(&buf)
	out1, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, pf.FrameID, out1.FrameID)

	out2, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, pf.FrameID, out2.FrameID)

	_, err = r.ReadFrame()
	require.Error(t, err)
}

func TestFrameReaderRejectsOversizeFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	w.SetLimits(Limits{MaxFrame: MaxFrameHardLimit})
	pf := sampleFrame()
	// Pad with a large buffer to push the encoded size past a tiny limit.
	pf.Buffers = append(pf.Buffers, fbmsg.NamedBuffer{Name: "Beauty", Data: make([]byte, 1024)})
	require.NoError(t, w.WriteFrame(pf))

	r := NewFrameReader(&buf)
	r.SetLimits(Limits{MaxFrame: 16})
	_, err := r.ReadFrame()
	require.Error(t, err)
}
