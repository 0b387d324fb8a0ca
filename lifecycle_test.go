package hive

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cryguy/hive/internal/core"
)

func TestClassifyFailure(t *testing.T) {
	wire := formatRuntimeError("home", "worm.js", "hack failed")
	tests := []struct {
		name    string
		payload any
		kind    core.FailKind
		message string
	}{
		{"failure value passes through", core.Failure{Kind: core.FailKilled}, core.FailKilled, ""},
		{"failure pointer passes through", &core.Failure{Kind: core.FailHost, Message: "disk"}, core.FailHost, "disk"},
		{"nil failure pointer", (*core.Failure)(nil), core.FailUnknown, ""},
		{"stop request is a kill", core.ErrStopRequested, core.FailKilled, ""},
		{"wrapped stop request", fmt.Errorf("run: %w", core.ErrStopRequested), core.FailKilled, ""},
		{"script error", &core.ScriptError{Msg: wire}, core.FailScript, wire},
		{"guest fault with wire payload", &core.GuestFault{Payload: wire}, core.FailScript, wire},
		{"guest fault with plain payload", &core.GuestFault{Payload: "oops"}, core.FailUnknown, "oops"},
		{"guest fault with number payload", &core.GuestFault{Payload: 42}, core.FailUnknown, "42"},
		{"guest fault with nil payload", &core.GuestFault{Payload: nil}, core.FailUnknown, ""},
		{"plain go error is a host fault", errors.New("dial tcp: refused"), core.FailHost, "dial tcp: refused"},
		{"raw wire string", wire, core.FailScript, wire},
		{"raw plain string", "undefined is not a function", core.FailUnknown, "undefined is not a function"},
		{"nil payload", nil, core.FailUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := classifyFailure(tt.payload)
			if f.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", f.Kind, tt.kind)
			}
			if f.Message != tt.message {
				t.Errorf("message = %q, want %q", f.Message, tt.message)
			}
		})
	}
}

func TestFinish_ReleasesOnce(t *testing.T) {
	eng, p := newTestEngine(t, nil)
	host := p.Host()

	// Ballast distinguishes exactly-once release from a double release,
	// which the clamp at zero would otherwise hide.
	if err := host.ReserveRAM(3); err != nil {
		t.Fatalf("reserve ballast: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				eng.finish(p)
			} else {
				eng.fail(p, core.Failure{Kind: core.FailKilled})
			}
		}(i)
	}
	wg.Wait()

	if got := host.UsedRAM(); got != 3 {
		t.Errorf("UsedRAM after racing completions = %v, want the 3GB ballast", got)
	}
	if p.Running() {
		t.Error("process still running")
	}
	if eng.Lookup(p.PID()) != nil {
		t.Error("pid still registered")
	}
}

func TestFinish_SecondSettleIsNoop(t *testing.T) {
	eng, p := newTestEngine(t, nil)

	eng.fail(p, core.Failure{Kind: core.FailKilled})
	eng.finish(p)
	eng.fail(p, core.Failure{Kind: core.FailScript, Message: "late"})

	f := p.Failure()
	if f == nil || f.Kind != core.FailKilled {
		t.Errorf("first settle must win, got %+v", f)
	}
	if got := p.Host().UsedRAM(); got != 0 {
		t.Errorf("UsedRAM = %v, want 0", got)
	}
}

func TestFinish_TransfersEarningsToLiveParent(t *testing.T) {
	eng, parent := newTestEngine(t, nil)

	host := parent.Host()
	childRun := &core.ScriptRun{Filename: "helper.js", Threads: 1, RAMPerThread: 2, PID: 2}
	if err := host.ReserveRAM(2); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	child := newProcess(2, childRun, host, core.ModeNative, parent.PID(), 2)
	eng.mu.Lock()
	eng.reg.add(child)
	eng.mu.Unlock()

	child.AddEarnings(12.5, 3)
	eng.finish(child)

	money, exp := parent.earnings()
	if money != 12.5 || exp != 3 {
		t.Errorf("parent credited %.1f/%.1f, want 12.5/3", money, exp)
	}
}

func TestFinish_DeadParentGetsNothing(t *testing.T) {
	eng, parent := newTestEngine(t, nil)
	host := parent.Host()

	childRun := &core.ScriptRun{Filename: "helper.js", Threads: 1, RAMPerThread: 2, PID: 2}
	if err := host.ReserveRAM(2); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	child := newProcess(2, childRun, host, core.ModeNative, parent.PID(), 2)
	eng.mu.Lock()
	eng.reg.add(child)
	eng.mu.Unlock()
	child.AddEarnings(7, 1)

	// Parent settles first; the child's yield has nowhere to go.
	eng.fail(parent, core.Failure{Kind: core.FailKilled})
	eng.finish(child)

	money, exp := parent.earnings()
	if money != 0 || exp != 0 {
		t.Errorf("dead parent credited %.1f/%.1f, want nothing", money, exp)
	}
	if got := host.UsedRAM(); got != 0 {
		t.Errorf("UsedRAM = %v, want 0", got)
	}
}

func TestFail_ScriptFaultSurfacesInLog(t *testing.T) {
	eng, p := newTestEngine(t, nil)
	wire := formatRuntimeError("home", "worm.js", "hack: no admin rights")

	eng.fail(p, core.Failure{Kind: core.FailScript, Message: wire})

	if !hasLog(p, "error", "no admin rights") {
		t.Errorf("crash message missing from log: %v", p.Logs())
	}
}

func TestFail_KillStaysQuiet(t *testing.T) {
	eng, p := newTestEngine(t, nil)

	eng.fail(p, core.Failure{Kind: core.FailKilled})

	if hasLog(p, "error", "") {
		t.Errorf("kill produced error logs: %v", p.Logs())
	}
}

func TestFail_HostFaultHidesDetail(t *testing.T) {
	eng, p := newTestEngine(t, nil)

	eng.fail(p, core.Failure{Kind: core.FailHost, Message: "pq: connection reset"})

	// Internal detail goes to the engine log only; the script log gets a
	// generic note.
	if hasLog(p, "error", "connection reset") {
		t.Error("internal failure detail leaked into the script log")
	}
	if !hasLog(p, "error", "internal error") {
		t.Errorf("script log missing the generic note: %v", p.Logs())
	}
}
