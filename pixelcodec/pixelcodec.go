// Package pixelcodec describes, but does not implement, the external pixel
// codec ("PackTiles") that packs and unpacks tiled framebuffer planes. The
// codec itself, the tiled pixel-plane types it decodes into, and the AOV
// containers are out of this module's scope (spec §1); this package only
// defines the interface surface the rest of the module depends on so that
// fbmsg/mergefbsender can be written and tested against a fake.
package pixelcodec

import "github.com/dreamworks-mcrt/mcrtdataio-go/tile"

// DataType tags the kind of buffer a channel fragment decodes to, mirroring
// the probe PackTiles exposes before a decode call (spec §4.3).
type DataType int

const (
	Undef DataType = iota
	Beauty
	BeautyWithNumSample
	BeautyOdd
	BeautyOddWithNumSample
	PixelInfo
	Heatmap
	HeatmapWithNumSample
	Weight
	Reference
	RenderOutputAOV // default branch: any other named buffer is a user AOV
)

// Precision is the numeric width used to transmit a plane.
type Precision int

const (
	PrecisionF32 Precision = iota
	PrecisionH16
	PrecisionUC8
	PrecisionRuntimeDecision
)

// DecodeResult carries what a successful PackTiles decode call produces:
// the scratch active-pixel mask it touched, and which precision the
// sender used for the coarse and fine passes of this buffer.
type DecodeResult struct {
	Mask         *tile.ActivePixels
	CoarsePrec   Precision
	FinePrec     Precision
	IsCoarsePass bool
}

// Codec is the contract this module depends on from the external pixel
// packer. A production binary supplies a real implementation; tests supply
// a fake that operates on the raw bytes directly.
type Codec interface {
	// Probe inspects a channel name/payload pair and returns the DataType
	// it would decode as.
	Probe(channelName string, payload []byte) DataType

	// DecodeInto decodes payload into the plane selected by dataType,
	// returning the scratch mask the decode touched.
	DecodeInto(dataType DataType, payload []byte, vp tile.Viewport) (*DecodeResult, error)

	// Encode packs one named AOV plane (or Beauty/Weight/etc. when
	// called through the matching Encode* helper) for outbound send,
	// honoring the requested precision.
	Encode(dataType string, prec Precision, vp tile.Viewport) ([]byte, error)

	// HDRITest inspects a decoded plane's pixel data and reports whether it
	// contains enough above-range samples to need H16 rather than UC8 when
	// a RUNTIME_DECISION coarse-pass hint calls for a runtime choice (spec
	// §4.8). The exact channel interpretation (float4 beauty, float-N AOV,
	// u8 AOV short-circuit) is the codec's concern; this module only caches
	// and applies the boolean result.
	HDRITest(dataType DataType, payload []byte, vp tile.Viewport) bool
}
