package core

import "context"

// Caller identifies the process on whose behalf a host function runs.
// The engine's process type implements it; host functions receive it so
// they can attribute effects and log back to the script.
type Caller interface {
	PID() int
	Script() *ScriptRun
	RecordLog(msg string)
}

// HostFunc describes one capability exposed to guest scripts. The catalog
// of host functions is fixed when the engine is constructed; both execution
// modes adapt it generically from these descriptors.
type HostFunc struct {
	// Name is the identifier guest code calls.
	Name string
	// Blocking marks a multi-tick action: the stepper awaits its result
	// out-of-band and resumes the guest with the resolved value.
	Blocking bool
	// Sleep marks the designated timer function, exempt from the
	// one-call-at-a-time rule in native mode.
	Sleep bool
	// Fn is the implementation. ctx is cancelled when the calling process
	// is stopped.
	Fn func(ctx context.Context, caller Caller, args []any) (any, error)
}

// CallResult is the settled outcome of a host call.
type CallResult struct {
	Value any
	Err   error
}

// HostCall is the future handle for a host function invoked by a suspended
// stepped-mode guest. The driver settles Result exactly once; the program
// reads it before its next step.
type HostCall struct {
	Name   string
	Args   []any
	Result chan CallResult
}

// NewHostCall creates a pending host call handle.
func NewHostCall(name string, args []any) *HostCall {
	return &HostCall{Name: name, Args: args, Result: make(chan CallResult, 1)}
}

// CallSurface is the capability surface handed to native-mode programs.
// Implementations serialize blocking calls per process and check the
// cooperative stop flag on entry.
type CallSurface interface {
	// Call invokes the named host function. Blocking functions block the
	// calling goroutine until the action completes or the process is
	// stopped.
	Call(name string, args ...any) (any, error)
	// Sleep pauses for the given number of milliseconds. It is always
	// permitted, even while another call is in flight.
	Sleep(ms float64) error
	// Log records a message on the process log.
	Log(msg string)
	// Args returns the launch argument vector.
	Args() []any
	// PID returns the process id.
	PID() int
	// Funcs lists the capability names visible to the process.
	Funcs() []string
	// IsBlocking reports whether the named function is a multi-tick
	// action. Loaders use it to decide which calls return promises.
	IsBlocking(name string) bool
}
