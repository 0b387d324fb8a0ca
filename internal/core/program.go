package core

import "context"

// SteppedProgram is a guest program executed one bounded instruction at a
// time by the cooperative stepper.
type SteppedProgram interface {
	// Step runs the next instruction. done is true when no work remains.
	// A non-nil call means the guest suspended on a blocking host
	// function; the driver settles call.Result and steps again. A non-nil
	// error terminates the program.
	Step() (done bool, call *HostCall, err error)
}

// StepCompiler turns preprocessed stepped-mode source into a program.
// lineOffset is the net line shift the import resolver introduced; the
// compiler subtracts it when attributing runtime errors so positions refer
// to the authored file. The engine has no built-in guest-language
// interpreter; embedders supply one through this interface.
type StepCompiler interface {
	Compile(filename, source string, lineOffset int) (SteppedProgram, error)
}

// NativeProgram is a promise-capable program that runs to completion on its
// own goroutine. Run returns nil on normal completion, ErrStopRequested when
// it observed the stop flag, a *ScriptError for an attributable guest fault,
// or a *GuestFault wrapping an unclassified payload thrown by guest code.
type NativeProgram interface {
	Run(ctx context.Context, ns CallSurface) error
}

// NativeLoader produces native programs from script source. The default
// loader is backed by a JS engine selected at build time; a Loader returning
// an error fails the start.
type NativeLoader interface {
	Load(filename, source string) (NativeProgram, error)
	Close()
}

// GoProgram adapts a plain Go function into a NativeProgram, letting
// embedders register compiled-in scripts without a JS engine.
type GoProgram func(ctx context.Context, ns CallSurface) error

// Run implements NativeProgram.
func (f GoProgram) Run(ctx context.Context, ns CallSurface) error {
	return f(ctx, ns)
}
