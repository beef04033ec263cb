package fbmsg

import (
	"github.com/dreamworks-mcrt/mcrtdataio-go/fb"
	"github.com/dreamworks-mcrt/mcrtdataio-go/pixelcodec"
	"github.com/dreamworks-mcrt/mcrtdataio-go/tile"
)

// fakeCodec is a minimal pixelcodec.Codec stand-in for tests: every
// channel decodes to a full-tile active mask, with the DataType selected
// by channel name.
type fakeCodec struct{}

func (fakeCodec) Probe(channelName string, payload []byte) pixelcodec.DataType {
	switch channelName {
	case fb.PlaneBeauty:
		return pixelcodec.Beauty
	case fb.PlaneWeight:
		return pixelcodec.Weight
	case fb.PlanePixelInfo:
		return pixelcodec.PixelInfo
	default:
		return pixelcodec.RenderOutputAOV
	}
}

func (fakeCodec) DecodeInto(dataType pixelcodec.DataType, payload []byte, vp tile.Viewport) (*pixelcodec.DecodeResult, error) {
	mask := tile.NewActivePixels(vp)
	for i := 0; i < mask.TileCount(); i++ {
		mask.SetPixel(i, 0)
	}
	return &pixelcodec.DecodeResult{Mask: mask, CoarsePrec: pixelcodec.PrecisionF32, FinePrec: pixelcodec.PrecisionF32}, nil
}

func (fakeCodec) Encode(dataType string, prec pixelcodec.Precision, vp tile.Viewport) ([]byte, error) {
	return nil, nil
}

func (fakeCodec) HDRITest(dataType pixelcodec.DataType, payload []byte, vp tile.Viewport) bool {
	return len(payload) > 0 && payload[0] == 'H'
}
