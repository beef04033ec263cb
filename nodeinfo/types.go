// Package nodeinfo implements the per-node live statistics (McrtNodeInfo)
// and fleet-wide aggregate (GlobalNodeInfo) described in spec §3/§4.7: a
// schema-less info codec wrapping typed fields and a clock-offset
// handshake. MCRT-control command parsing and dispatch live in package
// mcrtcontrol; this package does not route those commands.
package nodeinfo

// ExecMode is the MCRT node's rendering execution mode.
type ExecMode int

const (
	ExecUnknown ExecMode = iota
	ExecScalar
	ExecVector
	ExecXPU
	ExecAuto
)

func (m ExecMode) String() string {
	switch m {
	case ExecScalar:
		return "SCALAR"
	case ExecVector:
		return "VECTOR"
	case ExecXPU:
		return "XPU"
	case ExecAuto:
		return "AUTO"
	default:
		return "UNKNOWN"
	}
}

// NodeStat is the derived liveness state of an MCRT node, computed from
// its flags plus render-prep substate (spec §3, §4.7 getNodeStat).
type NodeStat int

const (
	NodeIdle NodeStat = iota
	NodeRenderPrepRun
	NodeRenderPrepCancel
	NodeMCRT
)

func (s NodeStat) String() string {
	switch s {
	case NodeRenderPrepRun:
		return "RENDER_PREP_RUN"
	case NodeRenderPrepCancel:
		return "RENDER_PREP_CANCEL"
	case NodeMCRT:
		return "MCRT"
	default:
		return "IDLE"
	}
}

// RenderPrepSubstage tags one step of the render-prep state machine. The
// four "detail" families (loadGeo0/1, tessellation0/1) repeat the same
// {START, START_CANCELED, PROCESS, DONE, DONE_CANCELED} shape; PROCESS
// updates arrive at kHz and are coalesced (spec §4.7).
type RenderPrepSubstage int

const (
	SubstageNone RenderPrepSubstage = iota
	SubstageLoadGeo0Start
	SubstageLoadGeo0StartCanceled
	SubstageLoadGeo0Process
	SubstageLoadGeo0Done
	SubstageLoadGeo0DoneCanceled
	SubstageLoadGeo1Start
	SubstageLoadGeo1StartCanceled
	SubstageLoadGeo1Process
	SubstageLoadGeo1Done
	SubstageLoadGeo1DoneCanceled
	SubstageTessellation0Start
	SubstageTessellation0StartCanceled
	SubstageTessellation0Process
	SubstageTessellation0Done
	SubstageTessellation0DoneCanceled
	SubstageTessellation1Start
	SubstageTessellation1StartCanceled
	SubstageTessellation1Process
	SubstageTessellation1Done
	SubstageTessellation1DoneCanceled
)

// isImmediateFlush reports whether a substage transition must flush to the
// InfoCodec right away rather than being coalesced into the staged work
// record.
func (s RenderPrepSubstage) isImmediateFlush() bool {
	switch s {
	case SubstageLoadGeo0Process, SubstageLoadGeo1Process,
		SubstageTessellation0Process, SubstageTessellation1Process:
		return false
	default:
		return true
	}
}

// RenderPrepStats is the external render-prep progress payload (owned by
// the render-prep stage itself; this module only stages and flushes it).
type RenderPrepStats struct {
	Substage   RenderPrepSubstage
	CurrSteps  int
	TotalSteps int
	Canceled   bool
}
