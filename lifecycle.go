package hive

import (
	"errors"
	"fmt"
	"log"

	"github.com/cryguy/hive/internal/core"
)

// finish settles a process that reached its natural end: accumulated
// earnings transfer to a still-running parent, then teardown. If the
// process was already settled by another path this is a no-op.
func (e *Engine) finish(p *Process) {
	e.mu.Lock()
	if !p.running.Load() {
		e.mu.Unlock()
		return
	}
	if parent := e.reg.get(p.parent); parent != nil && parent.Running() {
		money, exp := p.earnings()
		parent.AddEarnings(money, exp)
	}
	e.teardownLocked(p)
	e.mu.Unlock()
	e.afterTeardown(p)
	p.RecordLog("script finished running")
}

// fail settles a process that terminated abnormally. The failure class is
// decided by the caller, at the origin of the error; downstream there is no
// re-inspection. If the process was already settled this is a no-op.
func (e *Engine) fail(p *Process, f core.Failure) {
	e.mu.Lock()
	if !p.running.Load() {
		e.mu.Unlock()
		return
	}
	p.setFailure(f)
	e.teardownLocked(p)
	e.mu.Unlock()
	e.afterTeardown(p)

	where := fmt.Sprintf("pid %d (%s@%s)", p.pid, p.run.Filename, p.host.Hostname())
	switch f.Kind {
	case core.FailScript:
		p.recordLevel("error", f.Message)
		log.Printf("hive: %s crashed: %s", where, f.Message)
	case core.FailKilled:
		// intentional termination, nothing to surface
	case core.FailHost:
		p.recordLevel("error", "an internal error occurred running this script; this is a bug")
		log.Printf("hive: internal error settling %s: %s", where, f.Message)
	default:
		p.recordLevel("error", "an unknown error occurred running this script; this is a bug")
		log.Printf("hive: %s terminated with unrecognized error payload: %s", where, f.Message)
	}
}

// teardownLocked releases everything the process holds. Caller holds e.mu.
// The running flag is the single source of truth for whether teardown has
// happened: it is cleared here and checked by every completion path, so the
// reservation is released exactly once no matter how many paths race.
func (e *Engine) teardownLocked(p *Process) {
	p.running.Store(false)
	p.Stop()
	p.host.ReleaseRAM(p.ramUsed)
	e.reg.remove(p.pid)
	p.markDone()
}

// afterTeardown handles work that must not run under the engine mutex.
func (e *Engine) afterTeardown(p *Process) {
	if e.store == nil {
		return
	}
	if err := e.store.Delete(p.host.Hostname(), p.pid); err != nil {
		log.Printf("hive: removing persisted run for pid %d: %v", p.pid, err)
	}
}

// classifyFailure maps an arbitrary termination payload onto exactly one
// failure class. Stop signals are kills; well-formed runtime-error messages
// and attributable guest faults are script faults; other Go errors are host
// faults; anything else is unrecognized.
func classifyFailure(payload any) core.Failure {
	switch v := payload.(type) {
	case core.Failure:
		return v
	case *core.Failure:
		if v != nil {
			return *v
		}
		return core.Failure{Kind: core.FailUnknown}
	case error:
		if errors.Is(v, core.ErrStopRequested) {
			return core.Failure{Kind: core.FailKilled}
		}
		var se *core.ScriptError
		if errors.As(v, &se) {
			return core.Failure{Kind: core.FailScript, Message: se.Msg}
		}
		var gf *core.GuestFault
		if errors.As(v, &gf) {
			return classifyPayload(gf.Payload)
		}
		return core.Failure{Kind: core.FailHost, Message: v.Error()}
	default:
		return classifyPayload(payload)
	}
}

// classifyPayload handles raw values thrown by guest code. Only strings in
// the runtime-error wire format are attributable; everything else is an
// unknown fault carried verbatim for the log.
func classifyPayload(payload any) core.Failure {
	if payload == nil {
		return core.Failure{Kind: core.FailUnknown}
	}
	s, ok := payload.(string)
	if !ok {
		return core.Failure{Kind: core.FailUnknown, Message: fmt.Sprint(payload)}
	}
	if _, _, _, ok := parseRuntimeError(s); ok {
		return core.Failure{Kind: core.FailScript, Message: s}
	}
	return core.Failure{Kind: core.FailUnknown, Message: s}
}
