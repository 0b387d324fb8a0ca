//go:build !v8

package quickjs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cryguy/hive/internal/core"
)

func TestLoad(t *testing.T) {
	l := NewLoader(core.EngineConfig{MemoryLimitMB: 64})

	tests := []struct {
		name    string
		source  string
		wantErr string
	}{
		{
			"plain main",
			"function main(ns) { return; }",
			"",
		},
		{
			"exported async main",
			"export async function main(ns) {\n\tawait ns.sleep(1);\n}",
			"",
		},
		{
			"no main",
			"function helper() { return 1; }",
			"has no main function",
		},
		{
			"syntax error",
			"function main( {",
			"parsing worm.js",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := l.Load("worm.js", tt.source)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Load: %v", err)
				}
				if prog == nil {
					t.Fatal("Load returned nil program")
				}
				return
			}
			if err == nil {
				t.Fatal("Load accepted a bad script")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

// fakeSurface is a minimal capability surface for driving real VMs. wait is
// the only blocking function; hack always fails with an attributed message.
type fakeSurface struct {
	pid  int
	args []any
	ctx  context.Context

	mu   sync.Mutex
	logs []string
}

const fakeHackError = "RUNTIME ERROR|home|worm.js|hack: you do not have admin rights"

func newFakeSurface(ctx context.Context) *fakeSurface {
	return &fakeSurface{pid: 7, args: []any{"joesguns", 3.0}, ctx: ctx}
}

func (s *fakeSurface) Call(name string, args ...any) (any, error) {
	switch name {
	case "print":
		s.Log(fmt.Sprint(args...))
		return nil, nil
	case "sum":
		total := 0.0
		for _, a := range args {
			total += a.(float64)
		}
		return total, nil
	case "wait":
		ms := args[0].(float64)
		t := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer t.Stop()
		select {
		case <-t.C:
			return ms * 2, nil
		case <-s.ctx.Done():
			return nil, core.ErrStopRequested
		}
	case "hack":
		return nil, errors.New(fakeHackError)
	}
	return nil, fmt.Errorf("unknown function %q", name)
}

func (s *fakeSurface) Sleep(ms float64) error {
	_, err := s.Call("wait", ms)
	return err
}

func (s *fakeSurface) Log(msg string) {
	s.mu.Lock()
	s.logs = append(s.logs, msg)
	s.mu.Unlock()
}

func (s *fakeSurface) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logs...)
}

func (s *fakeSurface) Args() []any { return s.args }

func (s *fakeSurface) PID() int { return s.pid }

func (s *fakeSurface) Funcs() []string { return []string{"print", "sum", "wait", "hack"} }

func (s *fakeSurface) IsBlocking(name string) bool { return name == "wait" }

func loadProgram(t *testing.T, source string) core.NativeProgram {
	t.Helper()
	prog, err := NewLoader(core.EngineConfig{MemoryLimitMB: 64}).Load("worm.js", source)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return prog
}

func TestRun_MainCompletes(t *testing.T) {
	source := `export async function main(ns) {
	ns.print("target " + ns.args[0] + " pid " + ns.pid);
	var doubled = await ns.wait(5);
	ns.print("waited " + doubled);
	var total = ns.sum(2, 3);
	ns.print("sum " + total);
}`
	prog := loadProgram(t, source)
	ns := newFakeSurface(context.Background())

	if err := prog.Run(context.Background(), ns); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"target joesguns pid 7", "waited 10", "sum 5"}
	got := ns.snapshot()
	if len(got) != len(want) {
		t.Fatalf("logs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("log %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRun_ThrownStringSurvives(t *testing.T) {
	prog := loadProgram(t, `export async function main(ns) {
	throw "terminated by script";
}`)
	ns := newFakeSurface(context.Background())

	err := prog.Run(context.Background(), ns)
	var gf *core.GuestFault
	if !errors.As(err, &gf) {
		t.Fatalf("Run error = %T (%v), want *GuestFault", err, err)
	}
	if gf.Payload != "terminated by script" {
		t.Errorf("payload = %#v, want the thrown string verbatim", gf.Payload)
	}
}

func TestRun_HostErrorReachesFaultIntact(t *testing.T) {
	prog := loadProgram(t, `export async function main(ns) {
	ns.hack("megacorp");
}`)
	ns := newFakeSurface(context.Background())

	err := prog.Run(context.Background(), ns)
	var gf *core.GuestFault
	if !errors.As(err, &gf) {
		t.Fatalf("Run error = %T (%v), want *GuestFault", err, err)
	}
	payload, ok := gf.Payload.(string)
	if !ok {
		t.Fatalf("payload = %#v, want string", gf.Payload)
	}
	// The structured message must survive the VM round trip unmangled.
	if !strings.Contains(payload, "RUNTIME ERROR|home|worm.js|") {
		t.Errorf("payload %q lost its attribution prefix", payload)
	}
	if !strings.Contains(payload, "admin rights") {
		t.Errorf("payload %q lost the cause", payload)
	}
}

func TestRun_GuestCanCatchHostError(t *testing.T) {
	prog := loadProgram(t, `export async function main(ns) {
	try {
		ns.hack("megacorp");
	} catch (e) {
		ns.print("caught: " + e);
	}
}`)
	ns := newFakeSurface(context.Background())

	if err := prog.Run(context.Background(), ns); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := ns.snapshot()
	if len(got) != 1 || !strings.Contains(got[0], "admin rights") {
		t.Errorf("logs = %v, want the caught message", got)
	}
}

func TestRun_StopInterruptsWait(t *testing.T) {
	prog := loadProgram(t, `export async function main(ns) {
	await ns.wait(600000);
	ns.print("unreachable");
}`)
	ctx, cancel := context.WithCancel(context.Background())
	ns := newFakeSurface(ctx)

	done := make(chan error, 1)
	go func() { done <- prog.Run(ctx, ns) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, core.ErrStopRequested) {
			t.Errorf("Run after stop = %v, want ErrStopRequested", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not observe the stop")
	}
	if logs := ns.snapshot(); len(logs) != 0 {
		t.Errorf("script ran past the interrupted wait: %v", logs)
	}
}

func TestRun_SequentialAwaits(t *testing.T) {
	prog := loadProgram(t, `export async function main(ns) {
	for (var i = 0; i < 3; i++) {
		var v = await ns.wait(1);
		ns.print("tick " + i + " " + v);
	}
}`)
	ns := newFakeSurface(context.Background())

	if err := prog.Run(context.Background(), ns); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := ns.snapshot()
	if len(got) != 3 {
		t.Fatalf("logs = %v, want 3 ticks", got)
	}
	for i, line := range got {
		if want := fmt.Sprintf("tick %d 2", i); line != want {
			t.Errorf("log %d = %q, want %q", i, line, want)
		}
	}
}
