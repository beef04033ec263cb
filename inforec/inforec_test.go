package inforec

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecorderReplayerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)

	t0 := time.Unix(1_700_000_000, 0)
	require.NoError(t, rec.Record(t0, []byte("snapshot-0")))
	require.NoError(t, rec.Record(t0.Add(time.Second), []byte("snapshot-1")))

	rep := NewReplayer(&buf)
	items, err := rep.ReadAll()
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Equal(t, "snapshot-0", string(items[0].Payload))
	require.Equal(t, "snapshot-1", string(items[1].Payload))
	require.True(t, items[0].Time.Before(items[1].Time))
}

func TestReplayerNextReturnsEOFCleanly(t *testing.T) {
	rep := NewReplayer(bytes.NewReader(nil))
	_, err := rep.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReplayerRejectsTruncatedItem(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)
	require.NoError(t, rec.Record(time.Now(), []byte("whole-item-payload")))

	truncated := buf.Bytes()[:buf.Len()-3]
	rep := NewReplayer(bytes.NewReader(truncated))
	_, err := rep.Next()
	require.Error(t, err)
}

func TestRecorderRejectsOversizeItem(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)
	err := rec.Record(time.Now(), make([]byte, MaxItemBytes+1))
	require.Error(t, err)
}
