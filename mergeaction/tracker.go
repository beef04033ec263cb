package mergeaction

import "encoding/binary"

// Tracker records what the merge node actually did for one producer during
// one merge cycle, and encodes it as a compact run-length-collapsed
// merge-sequence stream to send back over the feedback channel (spec
// §4.6). Grounded in original_source's MergeActionTracker.cc.
type Tracker struct {
	machineID int // for debugging/dumps only

	lastSendActionID       uint32
	lastPartialMergeTileID uint32

	enq *Enqueue
}

// NewTracker creates a tracker for the given machine id.
func NewTracker(machineID int) *Tracker {
	return &Tracker{machineID: machineID, enq: NewEnqueue()}
}

// SetMachineID updates the debug-only machine id.
func (t *Tracker) SetMachineID(id int) { t.machineID = id }

// ResetEncode clears the pending buffer and rebinds the encoder.
func (t *Tracker) ResetEncode() {
	t.enq = NewEnqueue()
}

// DecodeAll records the consumption of a batch of send-action ids,
// collapsing any run of consecutive (+1) ids into a single DECODE_RANGE
// record. A single id is always emitted as DECODE_SINGLE even though a
// length-1 "run" would otherwise qualify, matching the C++ source's
// special-case fast path.
func (t *Tracker) DecodeAll(ids []uint32) {
	if len(ids) == 0 {
		return
	}
	if len(ids) == 1 {
		t.enq.DecodeSingle(ids[0])
		t.lastSendActionID = ids[0]
		return
	}

	var start, end uint32
	haveRange := false
	flush := func() {
		if start == end {
			t.enq.DecodeSingle(start)
		} else {
			t.enq.DecodeRange(start, end)
		}
		t.lastSendActionID = end
	}
	for _, id := range ids {
		switch {
		case !haveRange:
			start, end = id, id
			haveRange = true
		case id == end+1:
			end = id
		default:
			flush()
			start, end = id, id
		}
	}
	flush()
}

// MergeFull records a full-frame merge.
func (t *Tracker) MergeFull() {
	t.enq.MergeAllTiles()
	t.lastPartialMergeTileID = 0
}

// MergePartial records a partial-tile merge, collapsing contiguous runs of
// `true` entries in tileBitmap into MERGE_TILE_RANGE records and isolated
// `true` entries into MERGE_TILE_SINGLE records.
func (t *Tracker) MergePartial(tileBitmap []bool) {
	var start, end uint32
	active := false
	flush := func() {
		if start == end {
			t.enq.MergeTileSingle(start)
		} else {
			t.enq.MergeTileRange(start, end)
		}
		t.lastPartialMergeTileID = end
	}
	for i, on := range tileBitmap {
		if on {
			if !active {
				start, end = uint32(i), uint32(i)
				active = true
			} else {
				end = uint32(i)
			}
		} else if active {
			flush()
			active = false
		}
	}
	if active {
		flush()
	}
}

// LastSendActionID returns the last decode endpoint recorded (debug-only).
func (t *Tracker) LastSendActionID() uint32 { return t.lastSendActionID }

// LastPartialMergeTileID returns the last partial-merge endpoint recorded
// (debug-only); 0 after a MergeFull call.
func (t *Tracker) LastPartialMergeTileID() uint32 { return t.lastPartialMergeTileID }

// EncodeData appends EOD, finalizes the stream, and returns it prefixed
// with a varint payload size, then resets the encoder for the next cycle
// (spec §4.6 encodeData).
func (t *Tracker) EncodeData() []byte {
	t.enq.EndOfData()
	payload := t.enq.Bytes()

	var sizeBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(sizeBuf[:], uint64(len(payload)))

	out := make([]byte, 0, n+len(payload))
	out = append(out, sizeBuf[:n]...)
	out = append(out, payload...)

	t.ResetEncode()
	return out
}

// DecodeDataSkip reads the size prefix and skips that many bytes without
// decoding, for the merge-side passthrough where the tracker payload isn't
// meant for this machine (spec §4.4 decodeMergeActionTrackerAndDump).
func DecodeDataSkip(data []byte) (rest []byte, err error) {
	size, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, errTruncated
	}
	end := n + int(size)
	if end > len(data) {
		return nil, errTruncated
	}
	return data[end:], nil
}

// DecodeData reads the size prefix and returns the captured payload plus
// whatever bytes follow it, for later replay via Dequeue against the
// target machine.
func DecodeData(data []byte) (payload, rest []byte, err error) {
	size, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, nil, errTruncated
	}
	end := n + int(size)
	if end > len(data) {
		return nil, nil, errTruncated
	}
	return data[n:end], data[end:], nil
}

var errTruncated = &DecodeError{Reason: "truncated merge action data"}

// DecodeError indicates a malformed merge-action byte stream.
type DecodeError struct{ Reason string }

func (e *DecodeError) Error() string { return "mergeaction: " + e.Reason }
