// Package fbmsg implements the progressive-frame message pipeline: per-
// channel fragment accumulation, per-producer decode/merge bookkeeping, and
// the three multi-frame scheduling policies (spec §4.2-§4.5).
package fbmsg

import "github.com/dreamworks-mcrt/mcrtdataio-go/tile"

// Status is a producer's (or the aggregate frame's) lifecycle state.
type Status int

const (
	StatusStarted Status = iota
	StatusRendering
	StatusFinished
	StatusCancelled
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusStarted:
		return "STARTED"
	case StatusRendering:
		return "RENDERING"
	case StatusFinished:
		return "FINISHED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// NoActionID is the sentinel (all-ones) meaning sendImageActionId is absent
// from a ProgressiveFrame (spec §6).
const NoActionID = ^uint32(0)

// NamedBuffer is one named byte fragment carried by a ProgressiveFrame.
type NamedBuffer struct {
	Name string
	Data []byte
}

// ProgressiveFrame is the inbound/outbound wire message described in spec
// §6: a sync id, producer id, lifecycle status, optional ROI, and an
// ordered list of named buffers.
type ProgressiveFrame struct {
	FrameID           uint32
	MachineID         int
	Progress          float64 // < 0 means info-only
	Status            Status
	CoarsePass        bool
	Viewport          *tile.Viewport
	SnapshotStartTime uint64
	SendImageActionID uint32 // NoActionID when absent

	DenoiserAlbedoInputName string
	DenoiserNormalInputName string

	Buffers []NamedBuffer
}

// Buffer returns the named buffer, if present.
func (p *ProgressiveFrame) Buffer(name string) (NamedBuffer, bool) {
	for _, b := range p.Buffers {
		if b.Name == name {
			return b, true
		}
	}
	return NamedBuffer{}, false
}

// IsInfoOnly reports whether this message carries no pixel data, only
// fleet-info / auxInfo content (spec §4.3).
func (p *ProgressiveFrame) IsInfoOnly() bool { return p.Progress < 0 }
