// Package fb implements the owned multi-plane framebuffer container (spec
// §3's "Fb") plus the per-tile activation bitmap a merge pass fills in.
package fb

import (
	"sync"

	"github.com/dreamworks-mcrt/mcrtdataio-go/tile"
)

// Reserved plane names, matching spec §6's reserved buffer names.
const (
	PlaneBeauty      = "Beauty"
	PlaneBeautyOdd   = "RenderBufferOdd"
	PlanePixelInfo   = "PixelInfo"
	PlaneHeatMap     = "HeatMap"
	PlaneWeight      = "Weight"
	ChannelAuxInfo   = "auxInfo"
	ChannelLatency   = "latencyLog"
	ChannelLatencyUp = "latencyLogUpstream"
)

// Fb is an owned container of the fixed planes (beauty, pixel-info,
// heat-map, weight, odd-beauty) plus a dynamically keyed set of named AOV
// planes. It is created once per producer slot, reset at frame boundary,
// and resized on viewport change (spec §3).
type Fb struct {
	mu sync.Mutex

	viewport tile.Viewport

	Beauty    *Plane
	BeautyOdd *Plane
	PixelInfo *Plane
	HeatMap   *Plane
	Weight    *Plane
	aovs      map[string]*Plane

	// ActiveAll is the frame-wide active-pixel mask used by the tile merge
	// helpers: AccumulateTiles ORs the source's ActiveAll in and ResetTiles
	// clears it per tile. Decoding a plane into the Fb does not update it,
	// and fbmsg's resolution-mismatch check compares viewports, not this
	// mask.
	ActiveAll *tile.ActivePixels
}

// New allocates an Fb sized for the given viewport.
func New(vp tile.Viewport) *Fb {
	f := &Fb{
		Beauty:    newPlane(PlaneBeauty),
		BeautyOdd: newPlane(PlaneBeautyOdd),
		PixelInfo: newPlane(PlanePixelInfo),
		HeatMap:   newPlane(PlaneHeatMap),
		Weight:    newPlane(PlaneWeight),
		aovs:      make(map[string]*Plane),
	}
	f.resizeLocked(vp)
	return f
}

// Viewport returns the viewport this Fb is currently sized for.
func (f *Fb) Viewport() tile.Viewport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewport
}

// Resize reallocates every plane's active mask for a new viewport. Existing
// plane byte data is discarded; callers resize only on an actual viewport
// change (spec §3 lifecycle).
func (f *Fb) Resize(vp tile.Viewport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizeLocked(vp)
}

func (f *Fb) resizeLocked(vp tile.Viewport) {
	f.viewport = vp
	f.ActiveAll = tile.NewActivePixels(vp)
	for _, p := range f.fixedPlanes() {
		p.resize(vp)
	}
	f.aovs = make(map[string]*Plane)
}

func (f *Fb) fixedPlanes() []*Plane {
	return []*Plane{f.Beauty, f.BeautyOdd, f.PixelInfo, f.HeatMap, f.Weight}
}

// Reset clears every plane's data (not the viewport sizing) at a frame
// boundary (STARTED status), matching the §4.3 push() contract.
func (f *Fb) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.fixedPlanes() {
		p.Reset()
	}
	f.ActiveAll.Reset()
	f.aovs = make(map[string]*Plane)
}

// Compact trims each plane's byte buffer capacity down to its current
// length, releasing any slack the decode allocator left behind. Intended
// to run once per producer per frame, gated by FbMsgSingleFrame's
// message-count/elapsed-time threshold (spec §4.4 step 6).
func (f *Fb) Compact() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.fixedPlanes() {
		if cap(p.Data) > len(p.Data) {
			p.Data = append([]byte(nil), p.Data...)
		}
	}
	for _, p := range f.aovs {
		if cap(p.Data) > len(p.Data) {
			p.Data = append([]byte(nil), p.Data...)
		}
	}
}

// AOV returns the named AOV plane, creating it (sized for the current
// viewport) on first access.
func (f *Fb) AOV(name string) *Plane {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.aovs[name]
	if !ok {
		p = newPlane(name)
		p.resize(f.viewport)
		f.aovs[name] = p
	}
	return p
}

// AOVNames returns the currently known AOV names in no particular order.
func (f *Fb) AOVNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.aovs))
	for n := range f.aovs {
		names = append(names, n)
	}
	return names
}

// PlaneByFixedName returns one of the five fixed planes by its reserved
// name, or nil if name isn't one of them.
func (f *Fb) PlaneByFixedName(name string) *Plane {
	switch name {
	case PlaneBeauty:
		return f.Beauty
	case PlaneBeautyOdd:
		return f.BeautyOdd
	case PlanePixelInfo:
		return f.PixelInfo
	case PlaneHeatMap:
		return f.HeatMap
	case PlaneWeight:
		return f.Weight
	default:
		return nil
	}
}
