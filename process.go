package hive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cryguy/hive/internal/core"
)

// Process is one live run of a script. The engine creates it after
// admission succeeds and tears it down exactly once when the run settles.
type Process struct {
	pid     int
	run     *core.ScriptRun
	host    core.Host
	mode    core.ExecMode
	parent  int
	ramUsed float64

	ctx    context.Context
	cancel context.CancelFunc

	stopped atomic.Bool
	running atomic.Bool

	guard callGuard

	mu      sync.Mutex
	logs    []core.LogEntry
	failure *core.Failure

	done     chan struct{}
	doneOnce sync.Once
}

func newProcess(pid int, run *core.ScriptRun, host core.Host, mode core.ExecMode, parent int, ramUsed float64) *Process {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Process{
		pid:     pid,
		run:     run,
		host:    host,
		mode:    mode,
		parent:  parent,
		ramUsed: ramUsed,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	p.running.Store(true)
	return p
}

// PID returns the process id assigned at registration.
func (p *Process) PID() int { return p.pid }

// Script returns the run record backing this process.
func (p *Process) Script() *core.ScriptRun { return p.run }

// Host returns the host the process runs on.
func (p *Process) Host() core.Host { return p.host }

// Mode reports whether the process runs stepped or native.
func (p *Process) Mode() core.ExecMode { return p.mode }

// Parent returns the pid of the launching process, or 0 for external runs.
func (p *Process) Parent() int { return p.parent }

// RAMUsed returns the exact reservation charged at admission. Teardown
// releases this figure, never a recomputed one.
func (p *Process) RAMUsed() float64 { return p.ramUsed }

// Running reports whether the process has not yet been torn down.
func (p *Process) Running() bool { return p.running.Load() }

// StopRequested reports whether a cooperative stop has been requested.
func (p *Process) StopRequested() bool { return p.stopped.Load() }

// Stop requests a cooperative stop. The execution driver observes the flag
// at its next checkpoint; blocking waits are cut short via the context.
func (p *Process) Stop() {
	p.stopped.Store(true)
	p.cancel()
}

// Done is closed when the process has settled.
func (p *Process) Done() <-chan struct{} { return p.done }

// Failure returns the recorded failure, or nil after a natural finish.
func (p *Process) Failure() *core.Failure {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failure
}

// RecordLog appends a message to the process log. Oversized messages are
// truncated and the log is capped so a chatty script cannot grow memory
// without bound.
func (p *Process) RecordLog(msg string) {
	p.recordLevel("info", msg)
}

func (p *Process) recordLevel(level, msg string) {
	if len(msg) > core.MaxLogMessageSize {
		msg = msg[:core.MaxLogMessageSize] + "...(truncated)"
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logs = append(p.logs, core.LogEntry{Level: level, Message: msg, Time: time.Now()})
	if len(p.logs) > core.MaxLogEntries {
		p.logs = p.logs[len(p.logs)-core.MaxLogEntries:]
	}
}

// Logs returns a snapshot of the process log.
func (p *Process) Logs() []core.LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.LogEntry, len(p.logs))
	copy(out, p.logs)
	return out
}

// AddEarnings credits money and experience produced by the run. Totals
// transfer to the parent when the run finishes normally.
func (p *Process) AddEarnings(money, exp float64) {
	p.mu.Lock()
	p.run.OnlineMoney += money
	p.run.OnlineExp += exp
	p.mu.Unlock()
}

func (p *Process) earnings() (money, exp float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run.OnlineMoney, p.run.OnlineExp
}

func (p *Process) addRunTime(seconds float64) {
	p.mu.Lock()
	p.run.OnlineRunTime += seconds
	p.mu.Unlock()
}

// snapshotRun copies the run record for persistence.
func (p *Process) snapshotRun() *core.ScriptRun {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *p.run
	cp.Args = append([]any(nil), p.run.Args...)
	return &cp
}

func (p *Process) setFailure(f core.Failure) {
	p.mu.Lock()
	p.failure = &f
	p.mu.Unlock()
}

func (p *Process) markDone() {
	p.doneOnce.Do(func() { close(p.done) })
}
