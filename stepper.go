package hive

import (
	"errors"
	"fmt"
	"time"

	"github.com/cryguy/hive/internal/core"
)

// stepState is the driver's position in its lifecycle. Terminal states are
// never left once entered.
type stepState int

const (
	stateReady stepState = iota
	stateStepping
	stateFinished
	stateStopped
	stateCrashed
)

func (s stepState) String() string {
	switch s {
	case stateReady:
		return "ready"
	case stateStepping:
		return "stepping"
	case stateFinished:
		return "finished"
	case stateStopped:
		return "stopped"
	case stateCrashed:
		return "crashed"
	}
	return "unknown"
}

// stepDriver advances a stepped-mode program one bounded instruction at a
// time, pausing a fixed slice between instructions so a runaway script
// cannot monopolize the engine. It checks the stop flag before every step
// and settles the run through exactly one completion path.
type stepDriver struct {
	eng   *Engine
	proc  *Process
	prog  core.SteppedProgram
	delay time.Duration
	state stepState
}

// run executes the program to a terminal state. It runs on its own
// goroutine; the final transition reports through the engine's lifecycle
// so completion is observed exactly once.
func (d *stepDriver) run() {
	p := d.proc
	for {
		if p.StopRequested() {
			d.state = stateStopped
			d.eng.fail(p, core.Failure{Kind: core.FailKilled})
			return
		}
		d.state = stateStepping
		done, call, err := d.prog.Step()
		if err != nil {
			if errors.Is(err, core.ErrStopRequested) {
				d.state = stateStopped
				d.eng.fail(p, core.Failure{Kind: core.FailKilled})
				return
			}
			d.state = stateCrashed
			var se *core.ScriptError
			if !errors.As(err, &se) {
				se = newScriptError(p, err.Error())
			}
			d.eng.fail(p, core.Failure{Kind: core.FailScript, Message: se.Msg})
			return
		}
		if call != nil {
			if stopped := d.dispatch(call); stopped {
				d.state = stateStopped
				d.eng.fail(p, core.Failure{Kind: core.FailKilled})
				return
			}
		}
		if done {
			d.state = stateFinished
			d.eng.finish(p)
			return
		}
		select {
		case <-time.After(d.delay):
		case <-p.ctx.Done():
			// stop observed at the top of the loop
		}
	}
}

// dispatch settles a host call the program suspended on. Blocking functions
// run out-of-band and the guest resumes with the settled result; everything
// else runs inline. Returns true when the wait was cut short by a stop
// request, in which case the guest receives ErrStopRequested.
func (d *stepDriver) dispatch(call *core.HostCall) bool {
	p := d.proc
	fn, ok := d.eng.hostFunc(call.Name)
	if !ok {
		call.Result <- core.CallResult{Err: scriptErrorf(p, "unknown function %q", call.Name)}
		return false
	}
	if !fn.Blocking {
		v, err := fn.Fn(p.ctx, p, call.Args)
		call.Result <- settleResult(p, call.Name, v, err)
		return false
	}
	resCh := make(chan core.CallResult, 1)
	go func() {
		v, err := fn.Fn(p.ctx, p, call.Args)
		resCh <- settleResult(p, call.Name, v, err)
	}()
	select {
	case res := <-resCh:
		call.Result <- res
		return errors.Is(res.Err, core.ErrStopRequested)
	case <-p.ctx.Done():
		call.Result <- core.CallResult{Err: core.ErrStopRequested}
		return true
	}
}

// settleResult converts a host function outcome into the guest
// representation: errors become attributable faults, values are
// deep-converted.
func settleResult(p *Process, name string, v any, err error) core.CallResult {
	if err != nil {
		if errors.Is(err, core.ErrStopRequested) {
			return core.CallResult{Err: core.ErrStopRequested}
		}
		return core.CallResult{Err: newScriptError(p, fmt.Sprintf("%s: %s", name, err))}
	}
	return core.CallResult{Value: core.ToGuestValue(v)}
}
