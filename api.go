package hive

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cryguy/hive/internal/core"
)

// callGuard enforces one in-flight host call per process. Native-mode
// guests that fire a second call before awaiting the first are a
// correctness hazard, not a scheduling matter, so the violation kills the
// whole process.
type callGuard struct {
	mu       sync.Mutex
	inFlight string
}

// enter marks name as in flight. On violation it returns the name of the
// call already in flight and false.
func (g *callGuard) enter(name string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight != "" {
		return g.inFlight, false
	}
	g.inFlight = name
	return "", true
}

// exit clears the marker. Deferred by the caller so the marker is cleared
// on success and on failure alike.
func (g *callGuard) exit() {
	g.mu.Lock()
	g.inFlight = ""
	g.mu.Unlock()
}

// API is the capability surface handed to a native-mode program. It is
// installed once, before guest code begins running, and serializes every
// host call through the process's guard.
type API struct {
	eng  *Engine
	proc *Process
}

var _ core.CallSurface = (*API)(nil)

func newAPI(eng *Engine, p *Process) *API {
	return &API{eng: eng, proc: p}
}

// PID returns the calling process's id.
func (a *API) PID() int { return a.proc.pid }

// Args returns a copy of the invocation arguments.
func (a *API) Args() []any {
	return append([]any(nil), a.proc.run.Args...)
}

// Funcs lists the names of the callable host functions.
func (a *API) Funcs() []string { return a.eng.funcNames() }

// IsBlocking reports whether the named function is a multi-tick action.
func (a *API) IsBlocking(name string) bool {
	fn, ok := a.eng.hostFunc(name)
	return ok && fn.Blocking
}

// Log appends a message to the process log.
func (a *API) Log(msg string) { a.proc.RecordLog(msg) }

// Sleep suspends the caller for the given number of milliseconds. The
// designated sleep timer is exempt from call serialization, so sleeping
// while another call is in flight is always legal.
func (a *API) Sleep(ms float64) error {
	_, err := a.Call("sleep", ms)
	return err
}

// Call invokes a host function by name. A stop request aborts on entry with
// ErrStopRequested before any effect. Host function errors come back as
// attributable guest faults; returned values are deep-converted to the
// guest representation.
func (a *API) Call(name string, args ...any) (any, error) {
	p := a.proc
	if p.StopRequested() {
		return nil, core.ErrStopRequested
	}
	fn, ok := a.eng.hostFunc(name)
	if !ok {
		return nil, scriptErrorf(p, "unknown function %q", name)
	}
	if !fn.Sleep {
		prev, ok := p.guard.enter(name)
		if !ok {
			err := scriptErrorf(p, "concurrent call to %s while a call to %s is still in flight; %s was not awaited", name, prev, prev)
			a.eng.fail(p, core.Failure{Kind: core.FailScript, Message: err.Msg})
			return nil, err
		}
		defer p.guard.exit()
	}
	v, err := fn.Fn(p.ctx, p, args)
	if err != nil {
		if errors.Is(err, core.ErrStopRequested) {
			return nil, core.ErrStopRequested
		}
		return nil, newScriptError(p, fmt.Sprintf("%s: %s", name, err))
	}
	return core.ToGuestValue(v), nil
}
