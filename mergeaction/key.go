// Package mergeaction implements the merge-action record: a compact
// variable-length binary log of the merge node's decode/merge operations
// (spec §3 "Merge-action record", §4.6), plus the tracker that records it
// during a live merge and the codec that replays it on the MCRT side.
package mergeaction

// Key tags one record in the merge-sequence stream. Values match
// original_source/lib/engine/merger/MergeSequenceKey.h exactly (ordinal
// order matters only for wire stability within one build, not across
// versions, since both sides always share a build).
type Key uint32

const (
	KeyDecodeSingle Key = iota
	KeyDecodeRange
	KeyMergeTileSingle
	KeyMergeTileRange
	KeyMergeAllTiles
	KeyEOD
)

func (k Key) String() string {
	switch k {
	case KeyDecodeSingle:
		return "DECODE_SINGLE"
	case KeyDecodeRange:
		return "DECODE_RANGE"
	case KeyMergeTileSingle:
		return "MERGE_TILE_SINGLE"
	case KeyMergeTileRange:
		return "MERGE_TILE_RANGE"
	case KeyMergeAllTiles:
		return "MERGE_ALL_TILES"
	case KeyEOD:
		return "EOD"
	default:
		return "UNKNOWN"
	}
}
