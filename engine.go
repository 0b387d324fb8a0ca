package hive

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cryguy/hive/internal/core"
)

// Engine owns the process registry, the admission path, and the port
// table for one population of scripts. Create one per embedding; Reset
// returns it to the initial state on a full restart event.
type Engine struct {
	cfg core.EngineConfig

	mu    sync.Mutex
	reg   *registry
	ports *portTable

	funcs map[string]core.HostFunc
	names []string

	compiler core.StepCompiler
	loader   core.NativeLoader
	natives  map[string]core.GoProgram
	store    core.RunStore
	offline  OfflineCalc
}

// OfflineCalc credits a rehydrated run with production accrued while no
// live process backed it.
type OfflineCalc func(run *core.ScriptRun, offline time.Duration)

// NewEngine creates an engine with the given configuration and host
// function catalog. The catalog is fixed for the engine's lifetime; the
// built-in sleep and print capabilities are always present. The default
// native loader is the JS backend selected at build time.
func NewEngine(cfg core.EngineConfig, funcs []core.HostFunc) *Engine {
	cfg = cfg.WithDefaults()
	e := &Engine{
		cfg:     cfg,
		reg:     newRegistry(cfg.MaxProcesses),
		ports:   newPortTable(cfg.PortCapacity),
		funcs:   make(map[string]core.HostFunc),
		natives: make(map[string]core.GoProgram),
	}
	for _, fn := range builtinFuncs() {
		e.funcs[fn.Name] = fn
	}
	for _, fn := range funcs {
		e.funcs[fn.Name] = fn
	}
	for name := range e.funcs {
		e.names = append(e.names, name)
	}
	sort.Strings(e.names)
	e.loader = newNativeLoader(cfg)
	return e
}

// builtinFuncs returns the capabilities every process can call regardless
// of the embedder's catalog: the designated sleep timer and script-log
// printing.
func builtinFuncs() []core.HostFunc {
	return []core.HostFunc{
		{
			Name:     "sleep",
			Blocking: true,
			Sleep:    true,
			Fn: func(ctx context.Context, caller core.Caller, args []any) (any, error) {
				ms := argFloat(args, 0)
				if ms < 0 {
					ms = 0
				}
				t := time.NewTimer(time.Duration(ms * float64(time.Millisecond)))
				defer t.Stop()
				select {
				case <-t.C:
					return true, nil
				case <-ctx.Done():
					return nil, core.ErrStopRequested
				}
			},
		},
		{
			Name: "print",
			Fn: func(ctx context.Context, caller core.Caller, args []any) (any, error) {
				parts := make([]string, len(args))
				for i, a := range args {
					parts[i] = fmt.Sprint(a)
				}
				caller.RecordLog(strings.Join(parts, " "))
				return nil, nil
			},
		},
	}
}

func argFloat(args []any, i int) float64 {
	if i >= len(args) {
		return 0
	}
	switch v := args[i].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// SetStepCompiler installs the stepped-mode compiler. Without one, stepped
// scripts cannot start.
func (e *Engine) SetStepCompiler(c core.StepCompiler) { e.compiler = c }

// SetNativeLoader replaces the native-mode loader.
func (e *Engine) SetNativeLoader(l core.NativeLoader) { e.loader = l }

// SetStore installs the persistence backend for run records.
func (e *Engine) SetStore(s core.RunStore) { e.store = s }

// SetOfflineCalc installs the offline production model used by Rehydrate.
func (e *Engine) SetOfflineCalc(f OfflineCalc) { e.offline = f }

// RegisterNative registers a compiled-in Go program under a script
// filename. It takes precedence over the JS loader for that name.
func (e *Engine) RegisterNative(filename string, prog core.GoProgram) {
	e.natives[filename] = prog
}

func (e *Engine) hostFunc(name string) (core.HostFunc, bool) {
	fn, ok := e.funcs[name]
	return fn, ok
}

func (e *Engine) funcNames() []string {
	return append([]string(nil), e.names...)
}

// Start turns a run record into a live process on the host. It returns the
// assigned pid, or 0 when the start was rejected; the reason is logged. A
// rejected start reserves nothing.
func (e *Engine) Start(run *core.ScriptRun, host core.Host) int {
	return e.start(run, host, 0)
}

func (e *Engine) start(run *core.ScriptRun, host core.Host, parent int) int {
	if run == nil || host == nil {
		return 0
	}
	if run.Threads < 1 {
		run.Threads = 1
	}
	source, ok := host.ScriptSource(run.Filename)
	if !ok {
		log.Printf("hive: no script %q on %s", run.Filename, host.Hostname())
		return 0
	}
	mode := core.ModeForScript(run.Filename)

	// All preprocessing happens before admission so a failed start never
	// holds capacity, not even briefly.
	var prog core.SteppedProgram
	var nProg core.NativeProgram
	switch mode {
	case core.ModeStepped:
		if e.compiler == nil {
			log.Printf("hive: no step compiler configured, cannot start %q", run.Filename)
			return 0
		}
		processed, lineOffset, err := resolveImports(run.Filename, source, host)
		if err != nil {
			log.Printf("hive: preprocessing %q on %s: %v", run.Filename, host.Hostname(), err)
			return 0
		}
		prog, err = e.compiler.Compile(run.Filename, processed, lineOffset)
		if err != nil {
			log.Printf("hive: compiling %q on %s: %v", run.Filename, host.Hostname(), err)
			return 0
		}
	case core.ModeNative:
		var err error
		nProg, err = e.nativeProgram(run.Filename, source)
		if err != nil {
			log.Printf("hive: loading %q on %s: %v", run.Filename, host.Hostname(), err)
			return 0
		}
	}

	e.mu.Lock()
	if run.PID != 0 && e.reg.get(run.PID) != nil {
		e.mu.Unlock()
		log.Printf("hive: run %q on %s is already live as pid %d", run.Filename, host.Hostname(), run.PID)
		return 0
	}
	pid := e.reg.allocate()
	if pid == 0 {
		e.mu.Unlock()
		log.Printf("hive: no free pid for %q on %s (limit %d)", run.Filename, host.Hostname(), e.cfg.MaxProcesses)
		return 0
	}
	cost, err := admit(host, run)
	if err != nil {
		e.mu.Unlock()
		log.Printf("hive: rejecting %q on %s: %v", run.Filename, host.Hostname(), err)
		return 0
	}
	run.PID = pid
	run.Server = host.Hostname()
	p := newProcess(pid, run, host, mode, parent, cost)
	e.reg.add(p)
	e.mu.Unlock()

	e.persist(p)

	switch mode {
	case core.ModeStepped:
		d := &stepDriver{
			eng:   e,
			proc:  p,
			prog:  prog,
			delay: time.Duration(e.cfg.StepDelayMs) * time.Millisecond,
		}
		go d.run()
	case core.ModeNative:
		go e.runNative(p, nProg)
	}
	log.Printf("hive: started %q on %s as pid %d (%d threads, %.2fGB)", run.Filename, host.Hostname(), pid, run.Threads, cost)
	return pid
}

// nativeProgram resolves a native-mode script to a program. Compiled-in Go
// programs take precedence, then the JS-engine-backed loader.
func (e *Engine) nativeProgram(filename, source string) (core.NativeProgram, error) {
	if gp, ok := e.natives[filename]; ok {
		return gp, nil
	}
	if e.loader == nil {
		return nil, fmt.Errorf("no native loader configured")
	}
	return e.loader.Load(filename, source)
}

// runNative drives a native-mode program to completion on its own
// goroutine and reports the single completion event.
func (e *Engine) runNative(p *Process, prog core.NativeProgram) {
	err := prog.Run(p.ctx, newAPI(e, p))
	if p.StopRequested() {
		e.fail(p, core.Failure{Kind: core.FailKilled})
		return
	}
	if err == nil {
		e.finish(p)
		return
	}
	e.fail(p, classifyFailure(err))
}

// persist writes the freshly started run to the store. A process that
// settled between registration and this write must not leave a stale row,
// so the write is undone if the process is already gone.
func (e *Engine) persist(p *Process) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(p.host.Hostname(), p.snapshotRun()); err != nil {
		log.Printf("hive: persisting pid %d: %v", p.pid, err)
		return
	}
	if !p.Running() {
		if err := e.store.Delete(p.host.Hostname(), p.pid); err != nil {
			log.Printf("hive: removing persisted run for pid %d: %v", p.pid, err)
		}
	}
}

// StartNested validates and launches a script on behalf of a running
// process. Validation failures are reported to the caller's log and return
// 0; on success the new process records the caller as its parent for
// earnings propagation.
func (e *Engine) StartNested(caller *Process, host core.Host, name string, args []any, threads float64) int {
	if caller == nil || !caller.Running() {
		return 0
	}
	if host == nil {
		caller.RecordLog("run: no target host")
		return 0
	}
	if name == "" {
		caller.RecordLog("run: script name must be a non-empty string")
		return 0
	}
	for i, a := range args {
		if a == nil {
			caller.RecordLog(fmt.Sprintf("run: argument %d is null; arguments must be strings, numbers, or booleans", i))
			return 0
		}
	}
	if _, ok := host.ScriptSource(name); !ok {
		caller.RecordLog(fmt.Sprintf("run: script %q does not exist on %s", name, host.Hostname()))
		return 0
	}
	if !host.AdminRights() {
		caller.RecordLog(fmt.Sprintf("run: no administrative rights on %s", host.Hostname()))
		return 0
	}
	t := roundThreads(threads)
	if t < 1 {
		caller.RecordLog(fmt.Sprintf("run: invalid thread count %v", threads))
		return 0
	}
	ram, err := host.ScriptRAM(name)
	if err != nil {
		caller.RecordLog(fmt.Sprintf("run: %v", err))
		return 0
	}
	cost := core.RoundRAM(ram * float64(t))
	if !core.RAMFits(cost, host.MaxRAM()-host.UsedRAM()) {
		caller.RecordLog(fmt.Sprintf("run: not enough RAM on %s for %s: need %.2fGB", host.Hostname(), name, cost))
		return 0
	}
	if dup := e.findRun(host, name, args); dup != nil {
		caller.RecordLog(fmt.Sprintf("run: %s is already running on %s with the same arguments (pid %d)", name, host.Hostname(), dup.pid))
		return 0
	}
	run := &core.ScriptRun{
		Filename:     name,
		Args:         append([]any(nil), args...),
		Threads:      t,
		RAMPerThread: ram,
	}
	pid := e.start(run, host, caller.PID())
	if pid == 0 {
		caller.RecordLog(fmt.Sprintf("run: failed to start %s on %s", name, host.Hostname()))
	}
	return pid
}

// findRun returns a live process running the named script on the host with
// an identical argument vector, or nil.
func (e *Engine) findRun(host core.Host, name string, args []any) *Process {
	sig := core.ArgsSignature(args)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.reg.procs {
		if p.host.Hostname() == host.Hostname() && p.run.Filename == name && core.ArgsSignature(p.run.Args) == sig {
			return p
		}
	}
	return nil
}

// Lookup returns the live process with the given pid, or nil.
func (e *Engine) Lookup(pid int) *Process {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.get(pid)
}

// Processes returns a snapshot of all live processes.
func (e *Engine) Processes() []*Process {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.list()
}

// Kill requests a cooperative stop of the process and settles it as
// killed. Returns false when no live process has the pid.
func (e *Engine) Kill(pid int) bool {
	e.mu.Lock()
	p := e.reg.get(pid)
	e.mu.Unlock()
	if p == nil {
		return false
	}
	p.Stop()
	e.fail(p, core.Failure{Kind: core.FailKilled})
	return true
}

// KillAll stops every live process. Afterwards the registry is empty and
// every reservation has been returned to its host.
func (e *Engine) KillAll() {
	e.mu.Lock()
	procs := e.reg.list()
	e.mu.Unlock()
	for _, p := range procs {
		p.Stop()
		e.fail(p, core.Failure{Kind: core.FailKilled})
	}
}

// Port returns the numbered message port, creating it on first use. Ports
// are numbered from 1.
func (e *Engine) Port(n int) (*Port, error) {
	if n < 1 {
		return nil, fmt.Errorf("invalid port %d: ports are numbered from 1", n)
	}
	return e.ports.get(n), nil
}

// AccountOnline adds elapsed wall-clock time to every live run's online
// runtime. Call it on a steady cadence from the embedder's main loop.
func (e *Engine) AccountOnline(dt time.Duration) {
	e.mu.Lock()
	procs := e.reg.list()
	e.mu.Unlock()
	for _, p := range procs {
		p.addRunTime(dt.Seconds())
	}
}

// SaveAll persists a snapshot of every live run. Pair with Rehydrate to
// carry runs across a restart.
func (e *Engine) SaveAll() error {
	if e.store == nil {
		return fmt.Errorf("no run store configured")
	}
	e.mu.Lock()
	procs := e.reg.list()
	e.mu.Unlock()
	for _, p := range procs {
		if err := e.store.Save(p.host.Hostname(), p.snapshotRun()); err != nil {
			return fmt.Errorf("persisting pid %d: %w", p.pid, err)
		}
	}
	return nil
}

// Rehydrate restarts every persisted run on its host through the normal
// start path, optionally crediting offline production first. Fresh pids
// are assigned; runs that no longer start are dropped from the store.
func (e *Engine) Rehydrate(hosts []core.Host) error {
	if e.store == nil {
		return fmt.Errorf("no run store configured")
	}
	now := time.Now()
	for _, host := range hosts {
		stored, err := e.store.Runs(host.Hostname())
		if err != nil {
			return fmt.Errorf("loading runs for %s: %w", host.Hostname(), err)
		}
		for _, rec := range stored {
			run := rec.Run
			oldPID := run.PID
			run.PID = 0
			if e.offline != nil && !rec.SavedAt.IsZero() {
				if down := now.Sub(rec.SavedAt); down > 0 {
					e.offline(run, down)
				}
			}
			pid := e.start(run, host, 0)
			if pid == 0 {
				log.Printf("hive: dropping persisted run %q on %s (was pid %d)", run.Filename, host.Hostname(), oldPID)
			}
			if oldPID != 0 && oldPID != pid {
				if err := e.store.Delete(host.Hostname(), oldPID); err != nil {
					log.Printf("hive: removing stale run row for pid %d on %s: %v", oldPID, host.Hostname(), err)
				}
			}
		}
	}
	return nil
}

// Reset returns the engine to its initial state on a full restart event:
// every process is stopped, the registry is cleared, pid numbering starts
// over, and the port table is emptied.
func (e *Engine) Reset() {
	e.KillAll()
	e.mu.Lock()
	e.reg = newRegistry(e.cfg.MaxProcesses)
	e.ports.reset()
	e.mu.Unlock()
}

// Shutdown stops all processes and releases the native loader's engine
// resources.
func (e *Engine) Shutdown() {
	e.KillAll()
	if e.loader != nil {
		e.loader.Close()
	}
}
