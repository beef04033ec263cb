package mcrtcontrol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsCommandRejectsWrongPrefix(t *testing.T) {
	require.False(t, IsCommand("not-MCRT-control completed 10"))
	require.False(t, IsCommand(""))
	require.False(t, IsCommand("MCRT-control"))
}

func TestIsCommandRejectsArityMismatch(t *testing.T) {
	require.False(t, IsCommand("MCRT-control completed"))
	require.False(t, IsCommand("MCRT-control completed 10 11"))
	require.False(t, IsCommand("MCRT-control clockOffset render03"))
}

func TestIsCommandRejectsUnknownName(t *testing.T) {
	require.False(t, IsCommand("MCRT-control renderStop 10"))
}

func TestParseClockDeltaClient(t *testing.T) {
	cmd, ok := Parse(MsgClockDeltaClient(3, "merge01", 20001, "/tmp/clockdelta"))
	require.True(t, ok)
	require.Equal(t, KindClockDeltaClient, cmd.Kind)
	require.Equal(t, ClockDeltaClient{NodeID: 3, ServerName: "merge01", Port: 20001, Path: "/tmp/clockdelta"}, cmd.ClockDeltaClient)
}

func TestParseClockOffset(t *testing.T) {
	cmd, ok := Parse(MsgClockOffset("render03", -12.5))
	require.True(t, ok)
	require.Equal(t, KindClockOffset, cmd.Kind)
	require.Equal(t, "render03", cmd.ClockOffset.HostName)
	require.InDelta(t, -12.5, cmd.ClockOffset.OffsetMs, 1e-9)
}

func TestParseCompleted(t *testing.T) {
	cmd, ok := Parse(MsgCompleted(42))
	require.True(t, ok)
	require.Equal(t, KindCompleted, cmd.Kind)
	require.Equal(t, uint32(42), cmd.Completed.SyncID)
}

func TestParseGlobalProgress(t *testing.T) {
	cmd, ok := Parse(MsgGlobalProgress(7, 0.625))
	require.True(t, ok)
	require.Equal(t, KindGlobalProgress, cmd.Kind)
	require.Equal(t, uint32(7), cmd.GlobalProgress.SyncID)
	require.InDelta(t, 0.625, cmd.GlobalProgress.Fraction, 1e-9)
}

func TestHandlerRunClockDeltaClientGatesOnMachineID(t *testing.T) {
	var called bool
	h := Handler{MachineID: 3, OnClockDeltaClient: func(cmd ClockDeltaClient) { called = true }}

	result, ok := h.Run(MsgClockDeltaClient(5, "merge01", 20001, "/tmp/x"))
	require.True(t, ok)
	require.True(t, result)
	require.False(t, called, "a command addressed to a different node must not invoke the callback")

	_, ok = h.Run(MsgClockDeltaClient(3, "merge01", 20001, "/tmp/x"))
	require.True(t, ok)
	require.True(t, called)
}

func TestHandlerRunClockOffsetGatesOnHostName(t *testing.T) {
	var got ClockOffset
	h := Handler{HostName: "render03", OnClockOffset: func(cmd ClockOffset) { got = cmd }}

	_, ok := h.Run(MsgClockOffset("render09", 1))
	require.True(t, ok)
	require.Zero(t, got)

	_, ok = h.Run(MsgClockOffset("render03", -4.5))
	require.True(t, ok)
	require.InDelta(t, -4.5, got.OffsetMs, 1e-9)
}

func TestHandlerRunCompletedReturnsCallbackResult(t *testing.T) {
	h := Handler{OnCompleted: func(syncID uint32) bool { return syncID == 10 }}

	result, ok := h.Run(MsgCompleted(10))
	require.True(t, ok)
	require.True(t, result)

	result, ok = h.Run(MsgCompleted(11))
	require.True(t, ok)
	require.False(t, result)
}

func TestHandlerRunGlobalProgressInvokesCallback(t *testing.T) {
	var gotSyncID uint32
	var gotFraction float64
	h := Handler{OnGlobalProgress: func(syncID uint32, fraction float64) {
		gotSyncID, gotFraction = syncID, fraction
	}}

	result, ok := h.Run(MsgGlobalProgress(9, 0.2))
	require.True(t, ok)
	require.True(t, result)
	require.Equal(t, uint32(9), gotSyncID)
	require.InDelta(t, 0.2, gotFraction, 1e-9)
}

func TestHandlerRunNotACommandReturnsFalseOk(t *testing.T) {
	h := Handler{}
	_, ok := h.Run("some unrelated log line")
	require.False(t, ok)
}
