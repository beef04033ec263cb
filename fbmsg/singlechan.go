package fbmsg

import (
	"bytes"
	"encoding/binary"
)

// FbMsgSingleChan is an append-only accumulator of raw byte fragments for
// one named channel across however many progressive-frame messages
// contribute to it (spec §4.2). It does no decoding itself — the
// accumulated blobs are handed to the pixel codec by the owner, or
// re-serialized verbatim for latency-log retransmission. Grounded in
// bifaci/host.go's PluginResponse.Concatenated() fragment-joining pattern,
// adapted to a length-prefixed re-encode instead of a flat join so the
// fragment boundaries survive retransmission.
type FbMsgSingleChan struct {
	fragments [][]byte
}

// Reset discards all accumulated fragments.
func (c *FbMsgSingleChan) Reset() {
	c.fragments = c.fragments[:0]
}

// Push appends one fragment. Ownership of data passes to the channel; the
// caller must not mutate it afterward.
func (c *FbMsgSingleChan) Push(data []byte) {
	c.fragments = append(c.fragments, data)
}

// Fragments returns the accumulated fragments in push order.
func (c *FbMsgSingleChan) Fragments() [][]byte { return c.fragments }

// IsEmpty reports whether any fragment has been pushed since the last
// Reset.
func (c *FbMsgSingleChan) IsEmpty() bool { return len(c.fragments) == 0 }

// Encode serializes the accumulated fragments as a count followed by each
// fragment's (size, bytes), for latency-log retransmission (spec §4.2).
func (c *FbMsgSingleChan) Encode() []byte {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(tmp[:], uint64(len(c.fragments)))
	buf.Write(tmp[:n])
	for _, frag := range c.fragments {
		n := binary.PutUvarint(tmp[:], uint64(len(frag)))
		buf.Write(tmp[:n])
		buf.Write(frag)
	}
	return buf.Bytes()
}

// DecodeFragments reverses Encode, returning the fragments in order.
func DecodeFragments(data []byte) ([][]byte, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, errShortBuffer
	}
	pos := n
	out := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		size, n := binary.Uvarint(data[pos:])
		if n <= 0 {
			return nil, errShortBuffer
		}
		pos += n
		end := pos + int(size)
		if end > len(data) {
			return nil, errShortBuffer
		}
		out = append(out, data[pos:end])
		pos = end
	}
	return out, nil
}

var errShortBuffer = decodeError("fbmsg: truncated fragment stream")

type decodeError string

func (e decodeError) Error() string { return string(e) }
