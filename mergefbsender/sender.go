// Package mergefbsender assembles outbound progressive-frame (and merge →
// MCRT feedback) messages from a merge node's accumulated framebuffer,
// choosing a wire precision per plane according to the configured precision
// control policy (spec §4.8). Grounded in original_source's MergeFbSender;
// the precision table and HDRI test are carried over, the pixel math itself
// stays behind the pixelcodec.Codec boundary.
package mergefbsender

import (
	"sync"

	"github.com/google/uuid"

	"github.com/dreamworks-mcrt/mcrtdataio-go/fb"
	"github.com/dreamworks-mcrt/mcrtdataio-go/fbmsg"
	"github.com/dreamworks-mcrt/mcrtdataio-go/pixelcodec"
	"github.com/dreamworks-mcrt/mcrtdataio-go/tile"
)

// PrecisionControl selects one of four wire-precision policies a sender can
// run under (spec §4.8).
type PrecisionControl int

const (
	// FULL32 always uses F32 for both coarse and fine pass.
	FULL32 PrecisionControl = iota
	// FULL16 uses H16 whenever the plane's hint allows it, else F32.
	FULL16
	// AUTO32 honors the coarse-pass hint (running the HDRI test for
	// RUNTIME_DECISION) but always sends F32 once past the coarse pass.
	AUTO32
	// AUTO16 honors both the coarse- and fine-pass hints.
	AUTO16
)

type hdriState int

const (
	hdriInit hdriState = iota
	hdriYes
	hdriNo
)

// MergeFbSender owns the merge node's outbound framebuffer and the
// bookkeeping needed to encode it into a ProgressiveFrame: current frame
// header state (status/progress/snapshot time/coarse-pass/denoiser names)
// and the per-message HDRI test cache.
type MergeFbSender struct {
	mu sync.Mutex

	Codec            pixelcodec.Codec
	PrecisionControl PrecisionControl

	fb       *fb.Fb
	viewport tile.Viewport

	frameStatus        fbmsg.Status
	progressFraction   float64
	snapshotStartTime  uint64
	coarsePassStatus   bool // true while still in the coarse pass
	denoiserAlbedoName string
	denoiserNormalName string

	beautyHDRI hdriState

	startCondition bool

	// messageID correlates this outbound message's latency-log entries
	// across hops (merge, any downstream merge tier, client); a fresh id
	// is minted every time SetHeaderInfoAndFbReset starts a new message.
	messageID uuid.UUID
}

// New creates a sender bound to codec for both pixel decode probing (not
// used directly here) and encode dispatch.
func New(codec pixelcodec.Codec, control PrecisionControl) *MergeFbSender {
	return &MergeFbSender{Codec: codec, PrecisionControl: control, frameStatus: fbmsg.StatusError}
}

// Init allocates the sender's owned Fb for vp (w/h need not be tile-size
// aligned; Fb aligns internally).
func (m *MergeFbSender) Init(vp tile.Viewport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewport = vp
	m.fb = fb.New(vp)
}

// Fb returns the sender's owned output framebuffer, for a merge pass to
// accumulate into directly.
func (m *MergeFbSender) Fb() *fb.Fb {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fb
}

// SetHeaderInfoAndFbReset copies header state from frame (the merge node's
// per-syncId tracker) and, on a STARTED transition, resets the owned
// framebuffer so its active-pixel masks reflect only this new iteration.
// overwriteStatus, if non-nil, is used in place of frame's aggregate status
// — the merge→MCRT feedback path needs to report a status distinct from the
// client-facing one.
func (m *MergeFbSender) SetHeaderInfoAndFbReset(frame *fbmsg.FbMsgSingleFrame, overwriteStatus *fbmsg.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if overwriteStatus != nil {
		m.frameStatus = *overwriteStatus
	} else {
		m.frameStatus = frame.AggregateStatus
	}
	m.progressFraction = frame.AggregateProgress
	m.snapshotStartTime = frame.SnapshotStartTime()
	m.coarsePassStatus = !frame.CoarsePassDone()
	m.denoiserAlbedoName, m.denoiserNormalName = frame.DenoiserNames()

	if m.frameStatus == fbmsg.StatusStarted {
		m.fb.Reset()
	}

	m.beautyHDRI = hdriInit
	m.messageID = uuid.New()
}

// MessageID returns the correlation id minted for the message currently
// being assembled (set by the last SetHeaderInfoAndFbReset call).
func (m *MergeFbSender) MessageID() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messageID
}

// FrameStatus, ProgressFraction, SnapshotStartTime, CoarsePassStatus, and
// DenoiserNames expose the header state captured by the last
// SetHeaderInfoAndFbReset call.
func (m *MergeFbSender) FrameStatus() fbmsg.Status { m.mu.Lock(); defer m.mu.Unlock(); return m.frameStatus }
func (m *MergeFbSender) ProgressFraction() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progressFraction
}
func (m *MergeFbSender) SnapshotStartTime() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotStartTime
}
func (m *MergeFbSender) CoarsePassStatus() bool { m.mu.Lock(); defer m.mu.Unlock(); return m.coarsePassStatus }
func (m *MergeFbSender) DenoiserNames() (albedo, normal string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.denoiserAlbedoName, m.denoiserNormalName
}

// beautyHDRITestResult runs (and caches) the HDRI test for the beauty
// plane, shared by both the beauty and render-buffer-odd encodes of the
// same outbound message (spec §4.8).
func (m *MergeFbSender) beautyHDRITestResult() pixelcodec.Precision {
	if m.beautyHDRI == hdriInit {
		if m.Codec.HDRITest(pixelcodec.Beauty, m.fb.Beauty.Data, m.viewport) {
			m.beautyHDRI = hdriYes
		} else {
			m.beautyHDRI = hdriNo
		}
	}
	if m.beautyHDRI == hdriYes {
		return pixelcodec.PrecisionH16
	}
	return pixelcodec.PrecisionUC8
}

// calcCoarsePassPrecision resolves a coarse-pass hint to a concrete
// precision, invoking runtimeDecision only for RUNTIME_DECISION.
func calcCoarsePassPrecision(hint pixelcodec.Precision, runtimeDecision func() pixelcodec.Precision) pixelcodec.Precision {
	switch hint {
	case pixelcodec.PrecisionF32:
		return pixelcodec.PrecisionF32
	case pixelcodec.PrecisionH16:
		return pixelcodec.PrecisionH16
	case pixelcodec.PrecisionUC8:
		return pixelcodec.PrecisionUC8
	case pixelcodec.PrecisionRuntimeDecision:
		if runtimeDecision != nil {
			return runtimeDecision()
		}
		return pixelcodec.PrecisionF32
	default:
		return pixelcodec.PrecisionF32
	}
}

// calcFinePassPrecision resolves a fine-pass hint (only F32 or H16 are
// meaningful here, per spec §4.8).
func calcFinePassPrecision(hint pixelcodec.Precision) pixelcodec.Precision {
	if hint == pixelcodec.PrecisionH16 {
		return pixelcodec.PrecisionH16
	}
	return pixelcodec.PrecisionF32
}

// calcPackTilePrecision implements the four-policy precision table of spec
// §4.8. Must be called after SetHeaderInfoAndFbReset (which sets
// m.coarsePassStatus and resets the HDRI cache runtimeDecision may rely on).
func (m *MergeFbSender) calcPackTilePrecision(coarseHint, fineHint pixelcodec.Precision, runtimeDecision func() pixelcodec.Precision) pixelcodec.Precision {
	switch m.PrecisionControl {
	case FULL32:
		return pixelcodec.PrecisionF32
	case FULL16:
		if m.coarsePassStatus {
			if coarseHint == pixelcodec.PrecisionF32 {
				return pixelcodec.PrecisionF32
			}
			return pixelcodec.PrecisionH16
		}
		if fineHint == pixelcodec.PrecisionF32 {
			return pixelcodec.PrecisionF32
		}
		return pixelcodec.PrecisionH16
	case AUTO32:
		if m.coarsePassStatus {
			return calcCoarsePassPrecision(coarseHint, runtimeDecision)
		}
		return pixelcodec.PrecisionF32
	case AUTO16:
		if m.coarsePassStatus {
			return calcCoarsePassPrecision(coarseHint, runtimeDecision)
		}
		return calcFinePassPrecision(fineHint)
	default:
		return pixelcodec.PrecisionF32
	}
}

func (m *MergeFbSender) encodePlane(name string, plane *fb.Plane, runtimeDecision func() pixelcodec.Precision) ([]byte, error) {
	prec := m.calcPackTilePrecision(plane.CoarseHint, plane.FineHint, runtimeDecision)
	return m.Codec.Encode(name, prec, m.viewport)
}

// AddBeautyBuff encodes the beauty plane (using the cached HDRI result for
// a RUNTIME_DECISION coarse hint) and appends it to out, if the plane has
// data.
func (m *MergeFbSender) AddBeautyBuff(out *fbmsg.ProgressiveFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.fb.Beauty.HasData {
		return nil
	}
	data, err := m.encodePlane(fb.PlaneBeauty, m.fb.Beauty, m.beautyHDRITestResult)
	if err != nil {
		return err
	}
	out.Buffers = append(out.Buffers, fbmsg.NamedBuffer{Name: fb.PlaneBeauty, Data: data})
	return nil
}

// AddRenderBufferOdd encodes the odd-beauty (variance) plane, sharing the
// beauty plane's cached HDRI result per spec §4.8.
func (m *MergeFbSender) AddRenderBufferOdd(out *fbmsg.ProgressiveFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.fb.BeautyOdd.HasData {
		return nil
	}
	data, err := m.encodePlane(fb.PlaneBeautyOdd, m.fb.BeautyOdd, m.beautyHDRITestResult)
	if err != nil {
		return err
	}
	out.Buffers = append(out.Buffers, fbmsg.NamedBuffer{Name: fb.PlaneBeautyOdd, Data: data})
	return nil
}

// AddPixelInfo encodes the pixel-info plane (no HDRI test; pixel-info never
// carries a RUNTIME_DECISION coarse hint in practice, but the same table
// applies if it did).
func (m *MergeFbSender) AddPixelInfo(out *fbmsg.ProgressiveFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.fb.PixelInfo.HasData {
		return nil
	}
	data, err := m.encodePlane(fb.PlanePixelInfo, m.fb.PixelInfo, nil)
	if err != nil {
		return err
	}
	out.Buffers = append(out.Buffers, fbmsg.NamedBuffer{Name: fb.PlanePixelInfo, Data: data})
	return nil
}

// AddHeatMap encodes the heat-map plane. HeatMap has no precision table
// entry in the original (it is always sent at its native resolution), so
// this bypasses calcPackTilePrecision.
func (m *MergeFbSender) AddHeatMap(out *fbmsg.ProgressiveFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.fb.HeatMap.HasData {
		return nil
	}
	data, err := m.Codec.Encode(fb.PlaneHeatMap, pixelcodec.PrecisionF32, m.viewport)
	if err != nil {
		return err
	}
	out.Buffers = append(out.Buffers, fbmsg.NamedBuffer{Name: fb.PlaneHeatMap, Data: data})
	return nil
}

// AddWeightBuffer encodes the weight plane.
func (m *MergeFbSender) AddWeightBuffer(out *fbmsg.ProgressiveFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.fb.Weight.HasData {
		return nil
	}
	data, err := m.encodePlane(fb.PlaneWeight, m.fb.Weight, nil)
	if err != nil {
		return err
	}
	out.Buffers = append(out.Buffers, fbmsg.NamedBuffer{Name: fb.PlaneWeight, Data: data})
	return nil
}

// AddRenderOutput encodes every named AOV plane with data, running a fresh
// (uncached) HDRI test per AOV for any RUNTIME_DECISION coarse hint, per
// spec §4.8.
func (m *MergeFbSender) AddRenderOutput(out *fbmsg.ProgressiveFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range m.fb.AOVNames() {
		plane := m.fb.AOV(name)
		if !plane.HasData {
			continue
		}
		runtimeDecision := func() pixelcodec.Precision {
			if m.Codec.HDRITest(pixelcodec.RenderOutputAOV, plane.Data, m.viewport) {
				return pixelcodec.PrecisionH16
			}
			return pixelcodec.PrecisionUC8
		}
		data, err := m.encodePlane(name, plane, runtimeDecision)
		if err != nil {
			return err
		}
		out.Buffers = append(out.Buffers, fbmsg.NamedBuffer{Name: name, Data: data})
	}
	return nil
}

// AddAuxInfo appends a raw auxInfo buffer (fleet/node-info payload) to out.
func (m *MergeFbSender) AddAuxInfo(out *fbmsg.ProgressiveFrame, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out.Buffers = append(out.Buffers, fbmsg.NamedBuffer{Name: fb.ChannelAuxInfo, Data: payload})
}

// AddLatencyLog appends the merge-side latency log (frame.EncodeLatencyLog)
// to out under the standard latency-log channel name.
func (m *MergeFbSender) AddLatencyLog(out *fbmsg.ProgressiveFrame, frame *fbmsg.FbMsgSingleFrame, firstCall bool) {
	out.Buffers = append(out.Buffers, fbmsg.NamedBuffer{Name: fb.ChannelLatency, Data: frame.EncodeLatencyLog(firstCall)})
}

// AddUpstreamLatencyLog appends the same latency log under the upstream
// channel name, used on the merge→MCRT feedback path so a downstream merge
// tier (or the client) can tell this hop's log apart from its own.
func (m *MergeFbSender) AddUpstreamLatencyLog(out *fbmsg.ProgressiveFrame, frame *fbmsg.FbMsgSingleFrame, firstCall bool) {
	out.Buffers = append(out.Buffers, fbmsg.NamedBuffer{Name: fb.ChannelLatencyUp, Data: frame.EncodeLatencyLog(firstCall)})
}

// BuildHeader populates out's frame-level (non-buffer) fields from the
// sender's captured header state, leaving Buffers untouched for the Add*
// calls to fill in.
func (m *MergeFbSender) BuildHeader(out *fbmsg.ProgressiveFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out.Progress = m.progressFraction
	out.Status = m.frameStatus
	out.CoarsePass = m.coarsePassStatus
	out.SnapshotStartTime = m.snapshotStartTime
	out.DenoiserAlbedoInputName = m.denoiserAlbedoName
	out.DenoiserNormalInputName = m.denoiserNormalName
}
