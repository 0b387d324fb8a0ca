//go:build v8

package v8engine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	esbuild "github.com/evanw/esbuild/pkg/api"
	v8 "github.com/tommie/v8go"

	"github.com/cryguy/hive/internal/core"
)

var (
	reExportDecl = regexp.MustCompile(`(?m)^export\s+(async\s+function|function|const|let|var|class)\b`)
	reMainDecl   = regexp.MustCompile(`(?m)^\s*(async\s+)?function\s+main\s*\(`)
)

// Loader produces native programs backed by per-run V8 isolates.
type Loader struct {
	memoryLimitMB int
}

var _ core.NativeLoader = (*Loader)(nil)

// NewLoader creates the V8-backed native loader.
func NewLoader(cfg core.EngineConfig) *Loader {
	return &Loader{memoryLimitMB: cfg.MemoryLimitMB}
}

// Load validates the script and prepares it for execution. The script must
// declare a main function; export keywords on top-level declarations are
// stripped so plain scripts and module-style scripts both load.
func (l *Loader) Load(filename, source string) (core.NativeProgram, error) {
	result := esbuild.Transform(source, esbuild.TransformOptions{
		Loader:     esbuild.LoaderJS,
		Sourcefile: filename,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return nil, fmt.Errorf("parsing %s: %s", filename, strings.Join(msgs, "; "))
	}
	stripped := reExportDecl.ReplaceAllString(source, "$1")
	if !reMainDecl.MatchString(stripped) {
		return nil, fmt.Errorf("%s has no main function", filename)
	}
	return &program{
		filename:      filename,
		source:        stripped,
		memoryLimitMB: l.memoryLimitMB,
	}, nil
}

// Close releases loader resources. Isolates are per-run, so there is
// nothing held between runs.
func (l *Loader) Close() {}

// program is one loaded script. Each Run gets a fresh isolate so runs
// cannot observe each other's globals.
type program struct {
	filename      string
	source        string
	memoryLimitMB int
}

var _ core.NativeProgram = (*program)(nil)

// settledCall is a completed host call waiting to be delivered to the
// guest's pending promise.
type settledCall struct {
	id      int
	ok      bool
	payload string
}

// hostBridge runs guest-initiated host calls on their own goroutines and
// queues the outcomes for the isolate goroutine to deliver.
type hostBridge struct {
	ns core.CallSurface

	mu     sync.Mutex
	nextID int
	done   []settledCall
}

func (b *hostBridge) beginAsync(name, argsJSON string) (any, error) {
	args, err := decodeArgs(name, argsJSON)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.mu.Unlock()
	go func() {
		v, err := b.ns.Call(name, args...)
		s := settledCall{id: id}
		if err != nil {
			s.payload = err.Error()
		} else if enc, jerr := json.Marshal(v); jerr != nil {
			s.payload = fmt.Sprintf("encoding result of %s: %v", name, jerr)
		} else {
			s.ok = true
			s.payload = string(enc)
		}
		b.mu.Lock()
		b.done = append(b.done, s)
		b.mu.Unlock()
	}()
	return id, nil
}

func (b *hostBridge) callSync(name, argsJSON string) (any, error) {
	args, err := decodeArgs(name, argsJSON)
	if err != nil {
		return "", err
	}
	v, err := b.ns.Call(name, args...)
	if err != nil {
		return "", err
	}
	enc, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding result of %s: %v", name, err)
	}
	return string(enc), nil
}

func (b *hostBridge) take() []settledCall {
	b.mu.Lock()
	out := b.done
	b.done = nil
	b.mu.Unlock()
	return out
}

func decodeArgs(name, argsJSON string) ([]any, error) {
	var args []any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, fmt.Errorf("decoding arguments for %s: %v", name, err)
	}
	return args, nil
}

// Run executes the script's main function to completion. The isolate is
// terminated when ctx is cancelled; pending promises are pumped until the
// main invocation settles.
func (p *program) Run(ctx context.Context, ns core.CallSurface) error {
	var iso *v8.Isolate
	if p.memoryLimitMB > 0 {
		heapSize := uint64(p.memoryLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	vctx := v8.NewContext(iso)
	defer func() {
		vctx.Close()
		iso.Dispose()
	}()

	rt := &v8Runtime{iso: iso, ctx: vctx}

	var interrupted atomic.Bool
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			interrupted.Store(true)
			iso.TerminateExecution()
		case <-stopWatch:
		}
	}()

	bridge := &hostBridge{ns: ns}
	if err := installSurface(rt, bridge, ns); err != nil {
		return fmt.Errorf("installing capability surface: %w", err)
	}

	// Load the guest module. Declarations become globals; top-level code
	// runs now, so a fault here is already the guest's.
	if err := rt.Eval(p.source); err != nil {
		if interrupted.Load() || ctx.Err() != nil {
			return core.ErrStopRequested
		}
		return &core.GuestFault{Payload: err.Error()}
	}
	ok, err := rt.EvalBool("typeof globalThis.main === 'function'")
	if err != nil || !ok {
		return &core.GuestFault{Payload: p.filename + " does not define a main function"}
	}

	if err := rt.Eval(`
		globalThis.__hive_settled = 0;
		globalThis.__hive_fault = "";
		(async function () {
			try {
				await main(globalThis.__ns);
				globalThis.__hive_settled = 1;
			} catch (e) {
				globalThis.__hive_fault = (e && e.message !== undefined) ? String(e.message) : String(e);
				globalThis.__hive_settled = 2;
			}
		})();
	`); err != nil {
		if interrupted.Load() || ctx.Err() != nil {
			return core.ErrStopRequested
		}
		return &core.GuestFault{Payload: err.Error()}
	}

	for {
		if ctx.Err() != nil {
			return core.ErrStopRequested
		}
		for _, s := range bridge.take() {
			js := fmt.Sprintf("__hive_settle(%d, %v, %s);", s.id, s.ok, strconv.Quote(s.payload))
			if err := rt.Eval(js); err != nil {
				if interrupted.Load() || ctx.Err() != nil {
					return core.ErrStopRequested
				}
				return fmt.Errorf("delivering host call result: %w", err)
			}
		}
		rt.RunMicrotasks()
		st, err := rt.EvalInt("globalThis.__hive_settled")
		if err != nil {
			if interrupted.Load() || ctx.Err() != nil {
				return core.ErrStopRequested
			}
			return fmt.Errorf("reading completion state: %w", err)
		}
		switch st {
		case 1:
			return nil
		case 2:
			fault, err := rt.EvalString("globalThis.__hive_fault")
			if err != nil {
				return fmt.Errorf("reading fault: %w", err)
			}
			return &core.GuestFault{Payload: fault}
		}
		time.Sleep(time.Millisecond)
	}
}

// installSurface registers the host bridge functions and synthesizes the
// guest-facing namespace object. Blocking functions return promises settled
// by the pump loop; everything else runs inline. The surface is installed
// once, before any guest code runs.
func installSurface(rt *v8Runtime, bridge *hostBridge, ns core.CallSurface) error {
	if err := rt.registerBridge("__host_begin", bridge.beginAsync); err != nil {
		return err
	}
	if err := rt.registerBridge("__host_sync", bridge.callSync); err != nil {
		return err
	}

	var asyncNames, syncNames []string
	for _, name := range ns.Funcs() {
		if ns.IsBlocking(name) {
			asyncNames = append(asyncNames, name)
		} else {
			syncNames = append(syncNames, name)
		}
	}
	asyncJSON, err := json.Marshal(asyncNames)
	if err != nil {
		return err
	}
	syncJSON, err := json.Marshal(syncNames)
	if err != nil {
		return err
	}
	argsJSON, err := json.Marshal(ns.Args())
	if err != nil {
		return err
	}

	setup := fmt.Sprintf(`
		globalThis.__hive_pending = {};
		globalThis.__hive_settle = function (id, ok, payload) {
			var pend = __hive_pending[id];
			if (!pend) return;
			delete __hive_pending[id];
			if (ok) pend.resolve(JSON.parse(payload)); else pend.reject(payload);
		};
		globalThis.__host_async = function (name, argsText) {
			return new Promise(function (resolve, reject) {
				var id;
				try {
					id = __host_begin(name, argsText);
				} catch (e) {
					reject(e);
					return;
				}
				__hive_pending[id] = { resolve: resolve, reject: reject };
			});
		};
		globalThis.__ns = (function () {
			var ns = {};
			var asyncNames = %s;
			var syncNames = %s;
			for (var i = 0; i < asyncNames.length; i++) (function (n) {
				ns[n] = function () {
					return __host_async(n, JSON.stringify(Array.prototype.slice.call(arguments)));
				};
			})(asyncNames[i]);
			for (var i = 0; i < syncNames.length; i++) (function (n) {
				ns[n] = function () {
					return JSON.parse(__host_sync(n, JSON.stringify(Array.prototype.slice.call(arguments))));
				};
			})(syncNames[i]);
			ns.args = %s;
			ns.pid = %d;
			return ns;
		})();
	`, string(asyncJSON), string(syncJSON), string(argsJSON), ns.PID())
	return rt.Eval(setup)
}
