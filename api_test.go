package hive

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cryguy/hive/internal/core"
)

// newTestEngine builds an engine with the given extra host functions and a
// registered live process to call through.
func newTestEngine(t *testing.T, funcs []core.HostFunc) (*Engine, *Process) {
	t.Helper()
	eng := NewEngine(core.EngineConfig{MaxProcesses: 100, StepDelayMs: 1}, funcs)
	host := core.NewBasicHost("home", 8)
	run := &core.ScriptRun{Filename: "worm.js", Threads: 1, RAMPerThread: 2, PID: 1}
	if err := host.ReserveRAM(2); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	p := newProcess(1, run, host, core.ModeNative, 0, 2)
	eng.mu.Lock()
	eng.reg.add(p)
	eng.mu.Unlock()
	return eng, p
}

func TestAPICall_Sync(t *testing.T) {
	eng, p := newTestEngine(t, []core.HostFunc{{
		Name: "add",
		Fn: func(ctx context.Context, caller core.Caller, args []any) (any, error) {
			return args[0].(float64) + args[1].(float64), nil
		},
	}})
	api := newAPI(eng, p)

	v, err := api.Call("add", 2.0, 3.0)
	if err != nil {
		t.Fatalf("Call(add): %v", err)
	}
	if v != 5.0 {
		t.Errorf("Call(add) = %v, want 5", v)
	}
}

func TestAPICall_ValueConversion(t *testing.T) {
	eng, p := newTestEngine(t, []core.HostFunc{{
		Name: "stats",
		Fn: func(ctx context.Context, caller core.Caller, args []any) (any, error) {
			return map[string]any{"count": 3, "items": []any{1, 2}}, nil
		},
	}})
	api := newAPI(eng, p)

	v, err := api.Call("stats")
	if err != nil {
		t.Fatalf("Call(stats): %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("Call(stats) = %T, want map", v)
	}
	if m["count"] != float64(3) {
		t.Errorf("count = %#v, want float64(3)", m["count"])
	}
	items := m["items"].([]any)
	if items[0] != float64(1) {
		t.Errorf("items[0] = %#v, want float64(1)", items[0])
	}
}

func TestAPICall_ErrorBecomesScriptError(t *testing.T) {
	eng, p := newTestEngine(t, []core.HostFunc{{
		Name: "fragile",
		Fn: func(ctx context.Context, caller core.Caller, args []any) (any, error) {
			return nil, errors.New("target offline")
		},
	}})
	api := newAPI(eng, p)

	_, err := api.Call("fragile")
	var se *core.ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("Call error = %T, want *ScriptError", err)
	}
	host, script, msg, ok := parseRuntimeError(se.Msg)
	if !ok {
		t.Fatalf("error not wire formatted: %q", se.Msg)
	}
	if host != "home" || script != "worm.js" {
		t.Errorf("attribution = %s/%s, want home/worm.js", host, script)
	}
	if !strings.Contains(msg, "fragile") || !strings.Contains(msg, "target offline") {
		t.Errorf("message %q must name the function and cause", msg)
	}

	// A failed call must not kill the process or leave the guard held.
	if !p.Running() {
		t.Fatal("process killed by a plain call failure")
	}
	if _, err := api.Call("fragile"); err == nil {
		t.Fatal("second call should surface the same failure")
	}
	if !p.Running() {
		t.Fatal("guard not cleared after failed call: second call treated as overlap")
	}
}

func TestAPICall_StopAbortsOnEntry(t *testing.T) {
	called := false
	eng, p := newTestEngine(t, []core.HostFunc{{
		Name: "work",
		Fn: func(ctx context.Context, caller core.Caller, args []any) (any, error) {
			called = true
			return nil, nil
		},
	}})
	api := newAPI(eng, p)
	p.Stop()

	_, err := api.Call("work")
	if !errors.Is(err, core.ErrStopRequested) {
		t.Fatalf("Call after stop = %v, want ErrStopRequested", err)
	}
	if called {
		t.Error("host function ran despite stop flag")
	}
}

func TestAPICall_UnknownFunction(t *testing.T) {
	eng, p := newTestEngine(t, nil)
	api := newAPI(eng, p)

	_, err := api.Call("nonsense")
	var se *core.ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("unknown function error = %T, want *ScriptError", err)
	}
	if !strings.Contains(se.Msg, "nonsense") {
		t.Errorf("error %q must name the function", se.Msg)
	}
	if !p.Running() {
		t.Error("unknown function must not kill the process")
	}
}

func TestAPICall_ConcurrentCallFailsProcess(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	eng, p := newTestEngine(t, []core.HostFunc{
		{
			Name:     "grind",
			Blocking: true,
			Fn: func(ctx context.Context, caller core.Caller, args []any) (any, error) {
				close(entered)
				<-release
				return true, nil
			},
		},
		{
			Name: "poke",
			Fn: func(ctx context.Context, caller core.Caller, args []any) (any, error) {
				return nil, nil
			},
		},
	})
	defer close(release)
	api := newAPI(eng, p)

	go func() { _, _ = api.Call("grind") }()
	<-entered

	_, err := api.Call("poke")
	var se *core.ScriptError
	if !errors.As(err, &se) {
		t.Fatalf("overlapping call error = %T (%v), want *ScriptError", err, err)
	}
	// The violation names both the rejected and the in-flight function.
	if !strings.Contains(se.Msg, "poke") || !strings.Contains(se.Msg, "grind") {
		t.Errorf("violation %q must name both functions", se.Msg)
	}

	// The whole process dies, not just the call.
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("process not settled after guard violation")
	}
	f := p.Failure()
	if f == nil || f.Kind != core.FailScript {
		t.Errorf("failure = %+v, want script fault", f)
	}
}

func TestAPISleep_ExemptFromGuard(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	eng, p := newTestEngine(t, []core.HostFunc{{
		Name:     "grind",
		Blocking: true,
		Fn: func(ctx context.Context, caller core.Caller, args []any) (any, error) {
			close(entered)
			<-release
			return true, nil
		},
	}})
	defer close(release)
	api := newAPI(eng, p)

	go func() { _, _ = api.Call("grind") }()
	<-entered

	// Sleeping while another call is in flight is always allowed.
	if err := api.Sleep(1); err != nil {
		t.Fatalf("Sleep during in-flight call: %v", err)
	}
	if !p.Running() {
		t.Error("sleep must not trip the call guard")
	}
}

func TestAPISleep_InterruptedByStop(t *testing.T) {
	eng, p := newTestEngine(t, nil)
	api := newAPI(eng, p)

	done := make(chan error, 1)
	go func() { done <- api.Sleep(60000) }()

	time.Sleep(20 * time.Millisecond)
	p.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, core.ErrStopRequested) {
			t.Errorf("interrupted sleep = %v, want ErrStopRequested", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sleep did not observe stop")
	}
}

func TestAPIFuncs_IncludesBuiltins(t *testing.T) {
	eng, p := newTestEngine(t, []core.HostFunc{{
		Name: "hack",
		Fn: func(ctx context.Context, caller core.Caller, args []any) (any, error) {
			return nil, nil
		},
	}})
	api := newAPI(eng, p)

	names := api.Funcs()
	want := map[string]bool{"sleep": false, "print": false, "hack": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Errorf("Funcs() missing %q: %v", n, names)
		}
	}
	if !api.IsBlocking("sleep") {
		t.Error("sleep must be blocking")
	}
	if api.IsBlocking("print") {
		t.Error("print must not be blocking")
	}
}
