// Package mcrtcontrol parses and dispatches "MCRT-control" command lines:
// a small side-channel protocol multiplexed onto the same connections as
// progressive-frame traffic, used to bootstrap clock-delta measurement,
// propagate the resolved clock offset, and signal render completion /
// global progress between MCRT render nodes and the merge node (spec §6).
//
// Commands are modeled as a tagged union (Command) produced by Parse,
// rather than the four independent callback parameters of the original
// dispatch function: callers switch on Command.Kind and read the typed
// payload field that kind populates.
package mcrtcontrol

import (
	"fmt"
	"strconv"
	"strings"
)

// commandPrefix is the literal first token identifying an MCRT-control
// command line; any other first token means "not a command" and is
// silently ignored by callers, per spec §6.
const commandPrefix = "MCRT-control"

// Kind identifies which MCRT-control command a parsed Command carries.
type Kind int

const (
	// KindNone marks a zero-value Command; never produced by Parse.
	KindNone Kind = iota
	KindClockDeltaClient
	KindClockOffset
	KindCompleted
	KindGlobalProgress
)

// name is the literal second token selecting a command, and argCount
// is how many further tokens it requires, mirroring the original's
// compile-time "clockDeltaClient <nodeId> <serverName> <port> <path>"
// style command definitions.
type cmdDef struct {
	name     string
	argCount int
}

var (
	defClockDeltaClient = cmdDef{"clockDeltaClient", 4}
	defClockOffset      = cmdDef{"clockOffset", 2}
	defCompleted        = cmdDef{"completed", 1}
	defGlobalProgress   = cmdDef{"globalProgress", 2}
)

// ClockDeltaClient carries "clockDeltaClient <nodeId> <serverName> <port> <path>".
type ClockDeltaClient struct {
	NodeID     int
	ServerName string
	Port       int
	Path       string
}

// ClockOffset carries "clockOffset <hostName> <offsetMs>".
type ClockOffset struct {
	HostName string
	OffsetMs float64
}

// Completed carries "completed <syncId>".
type Completed struct {
	SyncID uint32
}

// GlobalProgress carries "globalProgress <syncId> <fraction>".
type GlobalProgress struct {
	SyncID   uint32
	Fraction float64
}

// Command is a parsed MCRT-control command line: exactly one of the
// typed payload fields is populated, selected by Kind.
type Command struct {
	Kind Kind

	ClockDeltaClient ClockDeltaClient
	ClockOffset      ClockOffset
	Completed        Completed
	GlobalProgress   GlobalProgress
}

// IsCommand reports whether cmdLine is an MCRT-control command line of
// any recognized kind, without executing it. Arity mismatch or a prefix
// other than "MCRT-control" both count as "not a command".
func IsCommand(cmdLine string) bool {
	_, ok := Parse(cmdLine)
	return ok
}

// Parse tokenizes cmdLine on whitespace and matches it against the known
// command definitions. ok is false whenever cmdLine is not prefixed with
// "MCRT-control", names an unrecognized command, or has the wrong number
// of arguments for its command name — all of which mean "not a command"
// rather than an error, per spec §6.
func Parse(cmdLine string) (cmd Command, ok bool) {
	tokens := strings.Fields(cmdLine)
	if len(tokens) < 2 || tokens[0] != commandPrefix {
		return Command{}, false
	}
	name := tokens[1]
	args := tokens[2:]

	switch name {
	case defClockDeltaClient.name:
		if len(args) != defClockDeltaClient.argCount {
			return Command{}, false
		}
		nodeID, err := strconv.Atoi(args[0])
		if err != nil {
			return Command{}, false
		}
		port, err := strconv.Atoi(args[2])
		if err != nil {
			return Command{}, false
		}
		return Command{
			Kind: KindClockDeltaClient,
			ClockDeltaClient: ClockDeltaClient{
				NodeID:     nodeID,
				ServerName: args[1],
				Port:       port,
				Path:       args[3],
			},
		}, true

	case defClockOffset.name:
		if len(args) != defClockOffset.argCount {
			return Command{}, false
		}
		offsetMs, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return Command{}, false
		}
		return Command{
			Kind: KindClockOffset,
			ClockOffset: ClockOffset{
				HostName: args[0],
				OffsetMs: offsetMs,
			},
		}, true

	case defCompleted.name:
		if len(args) != defCompleted.argCount {
			return Command{}, false
		}
		syncID, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return Command{}, false
		}
		return Command{Kind: KindCompleted, Completed: Completed{SyncID: uint32(syncID)}}, true

	case defGlobalProgress.name:
		if len(args) != defGlobalProgress.argCount {
			return Command{}, false
		}
		syncID, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return Command{}, false
		}
		fraction, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return Command{}, false
		}
		return Command{
			Kind: KindGlobalProgress,
			GlobalProgress: GlobalProgress{SyncID: uint32(syncID), Fraction: fraction},
		}, true
	}

	return Command{}, false
}

// MsgClockDeltaClient formats a "clockDeltaClient" command line for nodeID
// to dial serverName:port over path.
func MsgClockDeltaClient(nodeID int, serverName string, port int, path string) string {
	return fmt.Sprintf("%s %s %d %s %d %s", commandPrefix, defClockDeltaClient.name, nodeID, serverName, port, path)
}

// MsgClockOffset formats a "clockOffset" command line directing hostName
// to apply offsetMs to its latency-log clock.
func MsgClockOffset(hostName string, offsetMs float64) string {
	return fmt.Sprintf("%s %s %s %v", commandPrefix, defClockOffset.name, hostName, offsetMs)
}

// MsgCompleted formats a "completed" command line for syncID.
func MsgCompleted(syncID uint32) string {
	return fmt.Sprintf("%s %s %d", commandPrefix, defCompleted.name, syncID)
}

// MsgGlobalProgress formats a "globalProgress" command line for syncID and
// fraction.
func MsgGlobalProgress(syncID uint32, fraction float64) string {
	return fmt.Sprintf("%s %s %d %v", commandPrefix, defGlobalProgress.name, syncID, fraction)
}

// Handler receives dispatched commands. OnCompleted's bool result is
// threaded back out of Run (matching McrtControl::run's callBack result
// becoming the overall return value); the other callbacks are void.
type Handler struct {
	// MachineID gates ClockDeltaClient and is ignored for other kinds:
	// only the command whose NodeID matches this node's id is acted on.
	MachineID int
	// HostName gates ClockOffset: only a command addressed to this host
	// is acted on.
	HostName string

	OnClockDeltaClient func(cmd ClockDeltaClient)
	OnClockOffset      func(cmd ClockOffset)
	OnCompleted        func(syncID uint32) bool
	OnGlobalProgress   func(syncID uint32, fraction float64)
}

// Run parses cmdLine and, if it is a recognized MCRT-control command,
// dispatches it to the matching Handler callback. ok is false when
// cmdLine is not an MCRT-control command at all. result is the
// OnCompleted callback's result for a "completed" command, or true for
// every other recognized command (no callback means no-op, also true) —
// mirroring McrtControl::run's returnFlag, which defaults to true and is
// only ever overwritten by the clockDeltaClient and completed branches.
func (h Handler) Run(cmdLine string) (result bool, ok bool) {
	cmd, ok := Parse(cmdLine)
	if !ok {
		return false, false
	}

	switch cmd.Kind {
	case KindClockDeltaClient:
		if cmd.ClockDeltaClient.NodeID != h.MachineID {
			return true, true
		}
		if h.OnClockDeltaClient != nil {
			h.OnClockDeltaClient(cmd.ClockDeltaClient)
		}
		return true, true

	case KindClockOffset:
		if cmd.ClockOffset.HostName != h.HostName {
			return true, true
		}
		if h.OnClockOffset != nil {
			h.OnClockOffset(cmd.ClockOffset)
		}
		return true, true

	case KindCompleted:
		if h.OnCompleted == nil {
			return true, true
		}
		return h.OnCompleted(cmd.Completed.SyncID), true

	case KindGlobalProgress:
		if h.OnGlobalProgress != nil {
			h.OnGlobalProgress(cmd.GlobalProgress.SyncID, cmd.GlobalProgress.Fraction)
		}
		return true, true
	}

	return true, true
}
