package fb

import (
	"github.com/dreamworks-mcrt/mcrtdataio-go/pixelcodec"
	"github.com/dreamworks-mcrt/mcrtdataio-go/tile"
)

// PrecisionHint is the coarse/fine precision hint attached to a plane, per
// spec §3's Fb description.
type PrecisionHint = pixelcodec.Precision

// Plane is one aligned pixel plane owned by an Fb: a byte buffer sized for
// the current viewport plus its active-pixel mask and precision hints. The
// actual pixel layout is owned by the external pixel codec; this module
// only tracks the buffer, its mask, and bookkeeping flags.
type Plane struct {
	Name       string
	Data       []byte
	Mask       *tile.ActivePixels
	CoarseHint PrecisionHint
	FineHint   PrecisionHint
	HasData    bool
}

func newPlane(name string) *Plane {
	return &Plane{Name: name, CoarseHint: pixelcodec.PrecisionRuntimeDecision, FineHint: pixelcodec.PrecisionF32}
}

// resize reallocates the plane's active mask for a new viewport, discarding
// any prior data.
func (p *Plane) resize(vp tile.Viewport) {
	p.Mask = tile.NewActivePixels(vp)
	p.Data = nil
	p.HasData = false
}

// Reset clears the plane's data and has-data flag but keeps its precision
// hints; neither Fb.Reset nor Fb.Resize resets them, so they hold the last
// values written until the next decode or merge overwrites them.
func (p *Plane) Reset() {
	p.Data = p.Data[:0]
	p.HasData = false
	if p.Mask != nil {
		p.Mask.Reset()
	}
}

// MergeMask folds scratch into the plane's active mask: a same-size scratch
// is OR'd in, a differently-sized one replaces the mask outright (spec
// §4.3's "scratch mask disagrees in size" rule).
func (p *Plane) MergeMask(scratch *tile.ActivePixels) error {
	if p.Mask == nil || !p.Mask.SameSize(scratch) {
		p.Mask = scratch
		return nil
	}
	return p.Mask.Or(scratch)
}
