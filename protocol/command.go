package protocol

import (
	"fmt"
	"strconv"
)

// OpCode identifies the operation a request asks the server to perform.
type OpCode byte

const (
	OpRead    OpCode = 1
	OpInsert  OpCode = 2
	OpMonitor OpCode = 3
	OpGetInfo OpCode = 4
	OpAppend  OpCode = 5
)

func (o OpCode) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpInsert:
		return "INSERT"
	case OpMonitor:
		return "MONITOR"
	case OpGetInfo:
		return "GETINFO"
	case OpAppend:
		return "APPEND"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(o)) + ")"
	}
}

// Known returns true if o is one of the operations the server implements.
func (o OpCode) Known() bool {
	return o >= OpRead && o <= OpAppend
}

// Mutates returns true for operations that change file content.
func (o OpCode) Mutates() bool {
	return o == OpInsert || o == OpAppend
}

// Semantics is the invocation semantics a server is configured with.
type Semantics string

const (
	AtLeastOnce Semantics = "at-least-once"
	AtMostOnce  Semantics = "at-most-once"
)

func ParseSemantics(s string) (Semantics, error) {
	switch Semantics(s) {
	case AtLeastOnce, AtMostOnce:
		return Semantics(s), nil
	default:
		return "", fmt.Errorf("invalid invocation semantics %q, expected %q or %q",
			s, AtLeastOnce, AtMostOnce)
	}
}
