package mergeaction

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Enqueue is a variable-length-int encoder for one merge-sequence stream.
// Each integer uses the standard 7-bit continuation (LEB128) scheme, which
// is exactly what encoding/binary.PutUvarint already implements — there is
// no pack library for this, and reimplementing LEB128 by hand would just
// duplicate the stdlib, so this one concern stays on encoding/binary.
type Enqueue struct {
	buf bytes.Buffer
}

// NewEnqueue creates an empty encoder.
func NewEnqueue() *Enqueue { return &Enqueue{} }

func (e *Enqueue) putUint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	e.buf.Write(tmp[:n])
}

// DecodeSingle emits DECODE_SINGLE(id).
func (e *Enqueue) DecodeSingle(id uint32) {
	e.putUint(uint64(KeyDecodeSingle))
	e.putUint(uint64(id))
}

// DecodeRange emits DECODE_RANGE(start, end), inclusive.
func (e *Enqueue) DecodeRange(start, end uint32) {
	e.putUint(uint64(KeyDecodeRange))
	e.putUint(uint64(start))
	e.putUint(uint64(end))
}

// MergeTileSingle emits MERGE_TILE_SINGLE(tile).
func (e *Enqueue) MergeTileSingle(tileID uint32) {
	e.putUint(uint64(KeyMergeTileSingle))
	e.putUint(uint64(tileID))
}

// MergeTileRange emits MERGE_TILE_RANGE(start, end), inclusive.
func (e *Enqueue) MergeTileRange(start, end uint32) {
	e.putUint(uint64(KeyMergeTileRange))
	e.putUint(uint64(start))
	e.putUint(uint64(end))
}

// MergeAllTiles emits MERGE_ALL_TILES.
func (e *Enqueue) MergeAllTiles() {
	e.putUint(uint64(KeyMergeAllTiles))
}

// EndOfData emits the EOD terminator. The stream is complete after this
// call; callers read out Bytes() and start a fresh Enqueue for the next
// cycle.
func (e *Enqueue) EndOfData() {
	e.putUint(uint64(KeyEOD))
}

// Bytes returns the encoded stream so far.
func (e *Enqueue) Bytes() []byte { return e.buf.Bytes() }

// Reset clears the encoder for reuse.
func (e *Enqueue) Reset() { e.buf.Reset() }

// Dequeue decodes a merge-sequence stream produced by Enqueue.
type Dequeue struct {
	data []byte
	pos  int
}

// NewDequeue wraps data for decoding.
func NewDequeue(data []byte) *Dequeue { return &Dequeue{data: data} }

func (d *Dequeue) getUint() (uint64, error) {
	v, n := binary.Uvarint(d.data[d.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("mergeaction: truncated or invalid varint at offset %d", d.pos)
	}
	d.pos += n
	return v, nil
}

// DecodeLoop dispatches tagged records in order until EOD (or a callback
// returns false, which aborts with an error), mirroring
// MergeSequenceDequeue::decodeLoop's six-callback signature.
func (d *Dequeue) DecodeLoop(
	onSingle func(id uint32) bool,
	onRange func(start, end uint32) bool,
	onTileSingle func(tileID uint32) bool,
	onTileRange func(start, end uint32) bool,
	onTileAll func() bool,
	onEOD func() bool,
) error {
	for {
		keyVal, err := d.getUint()
		if err != nil {
			return err
		}
		key := Key(keyVal)

		switch key {
		case KeyDecodeSingle:
			id, err := d.getUint()
			if err != nil {
				return err
			}
			if !onSingle(uint32(id)) {
				return fmt.Errorf("mergeaction: decodeSingle callback vetoed")
			}
		case KeyDecodeRange:
			start, err := d.getUint()
			if err != nil {
				return err
			}
			end, err := d.getUint()
			if err != nil {
				return err
			}
			if !onRange(uint32(start), uint32(end)) {
				return fmt.Errorf("mergeaction: decodeRange callback vetoed")
			}
		case KeyMergeTileSingle:
			id, err := d.getUint()
			if err != nil {
				return err
			}
			if !onTileSingle(uint32(id)) {
				return fmt.Errorf("mergeaction: mergeTileSingle callback vetoed")
			}
		case KeyMergeTileRange:
			start, err := d.getUint()
			if err != nil {
				return err
			}
			end, err := d.getUint()
			if err != nil {
				return err
			}
			if !onTileRange(uint32(start), uint32(end)) {
				return fmt.Errorf("mergeaction: mergeTileRange callback vetoed")
			}
		case KeyMergeAllTiles:
			if !onTileAll() {
				return fmt.Errorf("mergeaction: mergeAllTiles callback vetoed")
			}
		case KeyEOD:
			if !onEOD() {
				return fmt.Errorf("mergeaction: eod callback vetoed")
			}
			return nil
		default:
			return fmt.Errorf("mergeaction: unknown key 0x%x", uint32(key))
		}
	}
}
