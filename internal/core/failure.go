package core

import (
	"errors"
	"fmt"
)

// ErrStopRequested is returned by host calls and programs that observed the
// cooperative stop flag. It marks an intentional termination, not a fault.
var ErrStopRequested = errors.New("stop requested")

// FailKind classifies a process failure. The class is decided at the point
// of origin, never inferred downstream by inspecting payload shapes.
type FailKind int

const (
	// FailScript is an attributable guest fault carrying a formatted
	// runtime-error message. Surfaced to the script log.
	FailScript FailKind = iota
	// FailKilled means the process was stopped by another path and the
	// completion is just the acknowledgement. Quiet.
	FailKilled
	// FailHost is a host-side bug condition. Logged verbosely.
	FailHost
	// FailUnknown is a failure payload of unrecognized shape. Treated as
	// a bug condition and logged generically.
	FailUnknown
)

func (k FailKind) String() string {
	switch k {
	case FailScript:
		return "script fault"
	case FailKilled:
		return "killed"
	case FailHost:
		return "host fault"
	default:
		return "unknown"
	}
}

// Failure is the tagged outcome of an abnormal termination.
type Failure struct {
	Kind    FailKind
	Message string
}

// ScriptError is a guest-visible failure already formatted into the
// runtime-error wire format.
type ScriptError struct {
	Msg string
}

func (e *ScriptError) Error() string { return e.Msg }

// GuestFault wraps a raw payload thrown by guest code that the runtime
// could not attribute. The completion pipeline classifies its payload.
type GuestFault struct {
	Payload any
}

func (e *GuestFault) Error() string { return fmt.Sprint(e.Payload) }
