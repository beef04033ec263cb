package fbmsg

import (
	"log"
	"sync"

	"github.com/dreamworks-mcrt/mcrtdataio-go/fb"
	"github.com/dreamworks-mcrt/mcrtdataio-go/mergeaction"
	"github.com/dreamworks-mcrt/mcrtdataio-go/pixelcodec"
	"github.com/dreamworks-mcrt/mcrtdataio-go/tile"
)

// InfoSink receives a decoded auxInfo (fleet-info) payload for forwarding
// to GlobalNodeInfo or an equivalent sink.
type InfoSink func(payload []byte)

// FbMsgMultiChans accumulates the channels of one progressive-frame
// message stream for one producer, decoding eagerly or lazily per channel
// per the push() contract (spec §4.3). Grounded in original_source's
// FbMsgMultiChans and adapted to Go's worker-pool idiom for the parallel
// decode fan-out (teacher's bifaci/host.go uses a similar per-plugin
// dispatch table, generalized here to per-channel-name dispatch).
type FbMsgMultiChans struct {
	mu sync.Mutex

	Codec pixelcodec.Codec

	channels map[string]*FbMsgSingleChan

	Progress   float64
	Status     Status
	CoarsePass bool
	ROI        *tile.Viewport

	snapshotRecorded  bool
	SnapshotStartTime uint64

	ActionIDs []uint32
}

// NewFbMsgMultiChans creates an empty multi-channel accumulator bound to
// codec for decode dispatch.
func NewFbMsgMultiChans(codec pixelcodec.Codec) *FbMsgMultiChans {
	return &FbMsgMultiChans{
		Codec:      codec,
		channels:   make(map[string]*FbMsgSingleChan),
		CoarsePass: true,
	}
}

// EncodeLatencyLogChannel returns the encoded fragment stream of the
// latency-log channel, thread-safe against concurrent Push calls.
func (m *FbMsgMultiChans) EncodeLatencyLogChannel() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel(fb.ChannelLatency).Encode()
}

func (m *FbMsgMultiChans) channel(name string) *FbMsgSingleChan {
	c, ok := m.channels[name]
	if !ok {
		c = &FbMsgSingleChan{}
		m.channels[name] = c
	}
	return c
}

func (m *FbMsgMultiChans) resetInternal() {
	m.channels = make(map[string]*FbMsgSingleChan)
	m.CoarsePass = true
	m.ROI = nil
}

// Push ingests one inbound ProgressiveFrame per the §4.3 contract.
func (m *FbMsgMultiChans) Push(
	delayDecode bool,
	pf *ProgressiveFrame,
	fbOut *fb.Fb,
	parallelExec bool,
	skipLatencyLog bool,
	infoSink InfoSink,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pf.IsInfoOnly() {
		if aux, ok := pf.Buffer(fb.ChannelAuxInfo); ok && infoSink != nil {
			infoSink(aux.Data)
		}
		return nil
	}

	if pf.SendImageActionID != NoActionID {
		m.ActionIDs = append(m.ActionIDs, pf.SendImageActionID)
	}

	m.Progress = pf.Progress
	m.Status = pf.Status
	if pf.Status == StatusStarted {
		fbOut.Reset()
		m.resetInternal()
	}

	if !pf.CoarsePass {
		m.CoarsePass = false
	}

	if pf.Viewport != nil {
		vp := *pf.Viewport
		m.ROI = &vp
	} else {
		m.ROI = nil
	}

	if !m.snapshotRecorded {
		m.SnapshotStartTime = pf.SnapshotStartTime
		m.snapshotRecorded = true
	}

	var eager []NamedBuffer
	for _, buf := range pf.Buffers {
		switch buf.Name {
		case fb.ChannelAuxInfo:
			if infoSink != nil {
				infoSink(buf.Data)
			}
		case fb.ChannelLatency:
			m.channel(buf.Name).Push(buf.Data)
		case fb.ChannelLatencyUp:
			if !skipLatencyLog {
				m.channel(buf.Name).Push(buf.Data)
			}
		default:
			if delayDecode {
				m.channel(buf.Name).Push(buf.Data)
			} else {
				eager = append(eager, buf)
			}
		}
	}

	if len(eager) == 0 {
		return nil
	}
	if parallelExec {
		decodeParallel(eager, m.Codec, fbOut)
	} else {
		for _, buf := range eager {
			decodeOne(buf, m.Codec, fbOut)
		}
	}
	return nil
}

// DecodeAll drains every accumulated non-latency-log channel (in
// parallel), then, if tracker is non-nil, feeds the collected action-id
// ordering list to it and clears the list (spec §4.3 decodeAll).
func (m *FbMsgMultiChans) DecodeAll(fbOut *fb.Fb, tracker *mergeaction.Tracker) {
	m.mu.Lock()
	var pending []NamedBuffer
	for name, chunk := range m.channels {
		if name == fb.ChannelLatency || name == fb.ChannelLatencyUp {
			continue
		}
		for _, frag := range chunk.Fragments() {
			pending = append(pending, NamedBuffer{Name: name, Data: frag})
		}
		chunk.Reset()
	}
	actionIDs := m.ActionIDs
	m.ActionIDs = nil
	m.mu.Unlock()

	decodeParallel(pending, m.Codec, fbOut)

	if tracker != nil && len(actionIDs) > 0 {
		tracker.DecodeAll(actionIDs)
	}
}

// decodeOne dispatches a single named buffer into fbOut, per the §4.3
// per-DataType branch contract. A decode failure is logged and skipped;
// it never aborts the frame.
func decodeOne(buf NamedBuffer, codec pixelcodec.Codec, fbOut *fb.Fb) {
	dataType := codec.Probe(buf.Name, buf.Data)
	plane := planeFor(dataType, buf.Name, fbOut)
	if plane == nil {
		return
	}

	result, err := codec.DecodeInto(dataType, buf.Data, fbOut.Viewport())
	if err != nil {
		log.Printf("fbmsg: decode of channel %q failed: %v", buf.Name, err)
		return
	}

	if err := plane.MergeMask(result.Mask); err != nil {
		log.Printf("fbmsg: merge mask for channel %q failed: %v", buf.Name, err)
		return
	}
	plane.CoarseHint = result.CoarsePrec
	plane.FineHint = result.FinePrec
	plane.HasData = true
}

func decodeParallel(bufs []NamedBuffer, codec pixelcodec.Codec, fbOut *fb.Fb) {
	var wg sync.WaitGroup
	for _, buf := range bufs {
		buf := buf
		wg.Add(1)
		go func() {
			defer wg.Done()
			decodeOne(buf, codec, fbOut)
		}()
	}
	wg.Wait()
}

// planeFor selects the destination plane for a decoded DataType, matching
// the reserved-name dispatch in spec §4.3.
func planeFor(dataType pixelcodec.DataType, name string, fbOut *fb.Fb) *fb.Plane {
	switch dataType {
	case pixelcodec.Beauty, pixelcodec.BeautyWithNumSample:
		return fbOut.Beauty
	case pixelcodec.BeautyOdd, pixelcodec.BeautyOddWithNumSample:
		return fbOut.BeautyOdd
	case pixelcodec.PixelInfo:
		return fbOut.PixelInfo
	case pixelcodec.Heatmap, pixelcodec.HeatmapWithNumSample:
		return fbOut.HeatMap
	case pixelcodec.Weight:
		return fbOut.Weight
	case pixelcodec.Reference:
		return nil
	default:
		return fbOut.AOV(name)
	}
}
