// Package inforec persists a timestamped sequence of GlobalNodeInfo
// snapshots, matching the "iRec" file original_source's infoRecDump reads
// (InfoRec.h, supplemented per SPEC_FULL.md §12). Only the on-disk codec
// survives here — the dump/plot CLI itself is out of scope (spec §1/§6);
// this is a Recorder/Replayer pair any future CLI or test can drive.
//
// Framing follows bifaci/io.go's FrameReader/FrameWriter: a 4-byte
// big-endian length prefix ahead of a CBOR-encoded item, so a partially
// written trailing record is detectable rather than silently corrupting
// the next read.
package inforec

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// MaxItemBytes bounds a single record's encoded size; a GlobalNodeInfo
// snapshot for a reasonably sized fleet stays well under this.
const MaxItemBytes = 16 * 1024 * 1024

// item is the on-disk shape of one recorded snapshot: a wall-clock
// timestamp (so a replay can reconstruct real elapsed time between
// items, as infoRecDump's getTimeStampStr implies) plus the raw
// GlobalNodeInfo.EncodeAll payload, stored opaque since InfoCodec's own
// wire format is already self-delimiting.
type item struct {
	TimeUnixNano int64  `cbor:"0,keyasint"`
	Payload      []byte `cbor:"1,keyasint"`
}

// Recorder appends timestamped snapshots to an underlying stream (a file
// opened for append, typically).
type Recorder struct {
	w io.Writer
}

// NewRecorder wraps w for appending records.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w}
}

// Record writes one snapshot timestamped at.
func (r *Recorder) Record(at time.Time, payload []byte) error {
	buf, err := cbor.Marshal(item{TimeUnixNano: at.UnixNano(), Payload: payload})
	if err != nil {
		return fmt.Errorf("inforec: encode: %w", err)
	}
	if len(buf) > MaxItemBytes {
		return fmt.Errorf("inforec: encoded item size %d exceeds limit %d", len(buf), MaxItemBytes)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(buf)))
	if _, err := r.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("inforec: write length prefix: %w", err)
	}
	if _, err := r.w.Write(buf); err != nil {
		return fmt.Errorf("inforec: write item: %w", err)
	}
	return nil
}

// Item is one decoded record: when it was captured and the opaque
// GlobalNodeInfo.EncodeAll payload recorded at that moment.
type Item struct {
	Time    time.Time
	Payload []byte
}

// Replayer reads back the sequence a Recorder wrote.
type Replayer struct {
	r io.Reader
}

// NewReplayer wraps r for sequential reading.
func NewReplayer(r io.Reader) *Replayer {
	return &Replayer{r: r}
}

// Next reads and decodes the next record. It returns io.EOF once the
// stream is exhausted cleanly (no partial record pending).
func (p *Replayer) Next() (Item, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(p.r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Item{}, fmt.Errorf("inforec: truncated length prefix: %w", err)
		}
		return Item{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if int(length) > MaxItemBytes {
		return Item{}, fmt.Errorf("inforec: item size %d exceeds limit %d", length, MaxItemBytes)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return Item{}, fmt.Errorf("inforec: truncated item: %w", err)
	}

	var it item
	if err := cbor.Unmarshal(buf, &it); err != nil {
		return Item{}, fmt.Errorf("inforec: decode: %w", err)
	}
	return Item{Time: time.Unix(0, it.TimeUnixNano), Payload: it.Payload}, nil
}

// ReadAll drains every record from p until a clean EOF.
func (p *Replayer) ReadAll() ([]Item, error) {
	var out []Item
	for {
		it, err := p.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, it)
	}
}
