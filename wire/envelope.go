// Package wire frames ProgressiveFrame messages for the raw byte streams
// sock opens: a 4-byte big-endian length prefix followed by a CBOR-encoded
// envelope, grounded in filegrind-capns-go's bifaci/io.go (FrameReader/
// FrameWriter) and bifaci/codec.go (integer-keyed CBOR map). Pixel payloads
// inside a ProgressiveFrame's named buffers stay as opaque []byte — only
// the header fields and buffer list are given integer-keyed CBOR fields;
// the pixel-codec concern (PackTiles) is out of scope here.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/dreamworks-mcrt/mcrtdataio-go/fbmsg"
	"github.com/dreamworks-mcrt/mcrtdataio-go/tile"
)

// CBOR integer map keys for the envelope, chosen the way bifaci/codec.go
// numbers its wire fields: stable small integers, never renumbered once
// shipped.
const (
	keyFrameID           = 0
	keyMachineID         = 1
	keyProgress          = 2
	keyStatus            = 3
	keyCoarsePass        = 4
	keyViewport          = 5
	keySnapshotStartTime = 6
	keySendImageActionID = 7
	keyDenoiserAlbedo    = 8
	keyDenoiserNormal    = 9
	keyBuffers           = 10
)

// DefaultMaxFrame matches bifaci's default: 3.5 MiB keeps a single framed
// message comfortably under typical socket buffer sizes for header-only
// or small-AOV traffic; bulk pixel traffic is expected to use a larger
// Limits.MaxFrame explicitly.
const DefaultMaxFrame = 3_670_016

// MaxFrameHardLimit is the absolute ceiling no Limits may exceed.
const MaxFrameHardLimit = 256 * 1024 * 1024

// Limits bounds frame sizes on both read and write, matching bifaci's
// Limits/DefaultLimits.
type Limits struct {
	MaxFrame int
}

// DefaultLimits returns the envelope size ceiling used when none is set
// explicitly.
func DefaultLimits() Limits {
	return Limits{MaxFrame: DefaultMaxFrame}
}

type wireBuffer struct {
	Name string `cbor:"0,keyasint"`
	Data []byte `cbor:"1,keyasint"`
}

type wireViewport struct {
	MinX int `cbor:"0,keyasint"`
	MinY int `cbor:"1,keyasint"`
	MaxX int `cbor:"2,keyasint"`
	MaxY int `cbor:"3,keyasint"`
}

type envelope struct {
	FrameID           uint32                `cbor:"0,keyasint"`
	MachineID         int                   `cbor:"1,keyasint"`
	Progress          float64               `cbor:"2,keyasint"`
	Status            int                   `cbor:"3,keyasint"`
	CoarsePass        bool                  `cbor:"4,keyasint"`
	Viewport          *wireViewport         `cbor:"5,keyasint,omitempty"`
	SnapshotStartTime uint64                `cbor:"6,keyasint"`
	SendImageActionID uint32                `cbor:"7,keyasint"`
	DenoiserAlbedo    string        `cbor:"8,keyasint,omitempty"`
	DenoiserNormal    string        `cbor:"9,keyasint,omitempty"`
	Buffers           []wireBuffer  `cbor:"10,keyasint,omitempty"`
}

// EncodeFrame serializes a ProgressiveFrame to its CBOR envelope form,
// without the length prefix (for callers embedding it in a larger
// framing scheme); most callers should use FrameWriter.WriteFrame instead.
func EncodeFrame(pf *fbmsg.ProgressiveFrame) ([]byte, error) {
	env := envelope{
		FrameID:           pf.FrameID,
		MachineID:         pf.MachineID,
		Progress:          pf.Progress,
		Status:            int(pf.Status),
		CoarsePass:        pf.CoarsePass,
		SnapshotStartTime: pf.SnapshotStartTime,
		SendImageActionID: pf.SendImageActionID,
		DenoiserAlbedo:    pf.DenoiserAlbedoInputName,
		DenoiserNormal:    pf.DenoiserNormalInputName,
	}
	if pf.Viewport != nil {
		env.Viewport = &wireViewport{
			MinX: pf.Viewport.MinX, MinY: pf.Viewport.MinY,
			MaxX: pf.Viewport.MaxX, MaxY: pf.Viewport.MaxY,
		}
	}
	for _, b := range pf.Buffers {
		env.Buffers = append(env.Buffers, wireBuffer{Name: b.Name, Data: b.Data})
	}

	buf, err := cbor.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return buf, nil
}

// DecodeFrame parses a CBOR envelope produced by EncodeFrame back into a
// ProgressiveFrame.
func DecodeFrame(data []byte) (*fbmsg.ProgressiveFrame, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}

	pf := &fbmsg.ProgressiveFrame{
		FrameID:                 env.FrameID,
		MachineID:               env.MachineID,
		Progress:                env.Progress,
		Status:                  fbmsg.Status(env.Status),
		CoarsePass:              env.CoarsePass,
		SnapshotStartTime:       env.SnapshotStartTime,
		SendImageActionID:       env.SendImageActionID,
		DenoiserAlbedoInputName: env.DenoiserAlbedo,
		DenoiserNormalInputName: env.DenoiserNormal,
	}
	if env.Viewport != nil {
		pf.Viewport = &tile.Viewport{
			MinX: env.Viewport.MinX, MinY: env.Viewport.MinY,
			MaxX: env.Viewport.MaxX, MaxY: env.Viewport.MaxY,
		}
	}
	for _, b := range env.Buffers {
		pf.Buffers = append(pf.Buffers, fbmsg.NamedBuffer{Name: b.Name, Data: b.Data})
	}
	return pf, nil
}

// FrameReader reads length-prefixed CBOR envelopes from a stream.
type FrameReader struct {
	r      io.Reader
	limits Limits
}

// NewFrameReader wraps r with the default size limits.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r, limits: DefaultLimits()}
}

// SetLimits overrides the reader's size ceiling.
func (fr *FrameReader) SetLimits(limits Limits) { fr.limits = limits }

// ReadFrame reads one length-prefixed envelope and decodes it.
func (fr *FrameReader) ReadFrame() (*fbmsg.ProgressiveFrame, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(fr.r, lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])

	if int(length) > fr.limits.MaxFrame {
		return nil, fmt.Errorf("wire: frame size %d exceeds max_frame limit %d", length, fr.limits.MaxFrame)
	}
	if int(length) > MaxFrameHardLimit {
		return nil, fmt.Errorf("wire: frame size %d exceeds hard limit %d", length, MaxFrameHardLimit)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(fr.r, buf); err != nil {
		return nil, err
	}
	return DecodeFrame(buf)
}

// FrameWriter writes length-prefixed CBOR envelopes to a stream.
type FrameWriter struct {
	w      io.Writer
	limits Limits
}

// NewFrameWriter wraps w with the default size limits.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w, limits: DefaultLimits()}
}

// SetLimits overrides the writer's size ceiling.
func (fw *FrameWriter) SetLimits(limits Limits) { fw.limits = limits }

// WriteFrame encodes pf and writes it length-prefixed.
func (fw *FrameWriter) WriteFrame(pf *fbmsg.ProgressiveFrame) error {
	buf, err := EncodeFrame(pf)
	if err != nil {
		return err
	}
	if len(buf) > fw.limits.MaxFrame {
		return fmt.Errorf("wire: encoded frame size %d exceeds max_frame limit %d", len(buf), fw.limits.MaxFrame)
	}
	if len(buf) > MaxFrameHardLimit {
		return fmt.Errorf("wire: encoded frame size %d exceeds hard limit %d", len(buf), MaxFrameHardLimit)
	}

	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(buf)))
	if _, err := fw.w.Write(lengthBuf[:]); err != nil {
		return err
	}
	_, err = fw.w.Write(buf)
	return err
}
