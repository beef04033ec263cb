package mergeaction

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestS2MergeActionTrackerCollapse is spec §8 scenario S2.
func TestS2MergeActionTrackerCollapse(t *testing.T) {
	tr := NewTracker(0)
	tr.DecodeAll([]uint32{12, 13, 15, 16, 17})
	tr.MergeFull()
	bitmap := []bool{
		true, true, false, false, false, true, false, false, true, true, true, false,
	}
	tr.MergePartial(bitmap)
	tr.enq.EndOfData()

	got := collect(t, tr.enq.Bytes())

	want := []recorded{
		{kind: "range", a: 12, b: 13, hasSecondArg: true},
		{kind: "range", a: 15, b: 17, hasSecondArg: true},
		{kind: "tileAll"},
		{kind: "tileRange", a: 0, b: 1, hasSecondArg: true},
		{kind: "tileSingle", a: 5},
		{kind: "tileRange", a: 8, b: 10, hasSecondArg: true},
		{kind: "eod"},
	}
	require.Equal(t, want, got)
}

func TestRunLengthMinimalityContiguousIds(t *testing.T) {
	tr := NewTracker(0)
	ids := []uint32{100, 101, 102, 103, 104}
	tr.DecodeAll(ids)
	tr.enq.EndOfData()
	got := collect(t, tr.enq.Bytes())
	require.Len(t, got, 2)
	require.Equal(t, "range", got[0].kind)
	require.Equal(t, uint32(100), got[0].a)
	require.Equal(t, uint32(104), got[0].b)
	require.Equal(t, "eod", got[1].kind)
}

func TestMergePartialDisjointRunsEmitOneRecordEach(t *testing.T) {
	tr := NewTracker(0)
	// Three disjoint runs: {0}, {2,3}, {7}
	tr.MergePartial([]bool{true, false, true, true, false, false, false, true})
	tr.enq.EndOfData()
	got := collect(t, tr.enq.Bytes())
	require.Len(t, got, 4)
	require.Equal(t, "tileSingle", got[0].kind)
	require.Equal(t, "tileRange", got[1].kind)
	require.Equal(t, "tileSingle", got[2].kind)
	require.Equal(t, "eod", got[3].kind)
}

func TestEncodeDataRoundTripThroughDecodeData(t *testing.T) {
	tr := NewTracker(0)
	tr.DecodeAll([]uint32{1, 2, 3})
	tr.MergeFull()
	encoded := tr.EncodeData()

	payload, rest, err := DecodeData(encoded)
	require.NoError(t, err)
	require.Empty(t, rest)

	got := collect(t, payload)
	require.Equal(t, []recorded{
		{kind: "range", a: 1, b: 3, hasSecondArg: true},
		{kind: "tileAll"},
		{kind: "eod"},
	}, got)
}

func TestDecodeDataSkip(t *testing.T) {
	tr := NewTracker(0)
	tr.MergeFull()
	encoded := tr.EncodeData()

	rest, err := DecodeDataSkip(encoded)
	require.NoError(t, err)
	require.Empty(t, rest)
}

func TestEncodeMultipleMachinesConcatenate(t *testing.T) {
	var all []byte
	for m := 0; m < 3; m++ {
		tr := NewTracker(m)
		tr.DecodeAll([]uint32{uint32(m)})
		tr.MergeFull()
		all = append(all, tr.EncodeData()...)
	}

	rest := all
	for m := 0; m < 3; m++ {
		var payload []byte
		var err error
		payload, rest, err = DecodeData(rest)
		require.NoError(t, err)
		got := collect(t, payload)
		require.Equal(t, uint32(m), got[0].a)
	}
	require.Empty(t, rest)
}
