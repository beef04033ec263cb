package fb

// namedPlanes pairs every plane (fixed and AOV) with its name, for
// iteration during tile-scoped merge operations.
func (f *Fb) namedPlanes() map[string]*Plane {
	out := map[string]*Plane{
		PlaneBeauty:    f.Beauty,
		PlaneBeautyOdd: f.BeautyOdd,
		PlanePixelInfo: f.PixelInfo,
		PlaneHeatMap:   f.HeatMap,
		PlaneWeight:    f.Weight,
	}
	for name, p := range f.aovs {
		out[name] = p
	}
	return out
}

// ResetTiles clears only the tiles marked true in tileMask, across every
// plane's active mask plus ActiveAll, leaving the rest of the framebuffer
// untouched. Used by the partial-merge path (spec §4.4 step 5: "reset only
// those tiles in outFb").
func (f *Fb) ResetTiles(tileMask []bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ActiveAll.ClearTiles(tileMask)
	for _, p := range f.namedPlanes() {
		if p.Mask != nil {
			p.Mask.ClearTiles(tileMask)
		}
	}
}

// AccumulateTiles folds src's content into f for only the tiles marked
// true in tileMask, across ActiveAll and every matching named plane
// (fixed planes by identity, AOVs by name — creating the AOV plane in f
// if src has one f doesn't yet know about). The actual pixel math is the
// external pixel codec's concern; at this layer "accumulate" means
// widening the active-pixel coverage and carrying the HasData flag and
// latest byte payload forward, matching spec §4.4 step 5 ("accumulate
// only those tiles from every received producer's fb").
func (f *Fb) AccumulateTiles(src *Fb, tileMask []bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	src.mu.Lock()
	defer src.mu.Unlock()

	if err := f.ActiveAll.OrTiles(src.ActiveAll, tileMask); err != nil {
		return err
	}

	for name, srcPlane := range src.namedPlanes() {
		if srcPlane.Mask == nil || !srcPlane.HasData {
			continue
		}
		dstPlane := f.planeByNameLocked(name)
		if dstPlane == nil {
			dstPlane = newPlane(name)
			dstPlane.resize(f.viewport)
			f.aovs[name] = dstPlane
		}
		if err := dstPlane.Mask.OrTiles(srcPlane.Mask, tileMask); err != nil {
			return err
		}
		dstPlane.HasData = true
		dstPlane.Data = srcPlane.Data
		dstPlane.CoarseHint = srcPlane.CoarseHint
		dstPlane.FineHint = srcPlane.FineHint
	}
	return nil
}

func (f *Fb) planeByNameLocked(name string) *Plane {
	if p := f.PlaneByFixedName(name); p != nil {
		return p
	}
	return f.aovs[name]
}
