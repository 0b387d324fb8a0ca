package hive

import "github.com/cryguy/hive/internal/core"

// Type aliases re-exporting internal/core types so downstream code can use
// hive.ScriptRun, hive.Host, etc. without importing the internal package
// directly.

type ScriptRun = core.ScriptRun
type LogEntry = core.LogEntry
type EngineConfig = core.EngineConfig
type ExecMode = core.ExecMode
type Host = core.Host
type BasicHost = core.BasicHost
type Caller = core.Caller
type HostFunc = core.HostFunc
type HostCall = core.HostCall
type CallResult = core.CallResult
type CallSurface = core.CallSurface
type SteppedProgram = core.SteppedProgram
type StepCompiler = core.StepCompiler
type NativeProgram = core.NativeProgram
type NativeLoader = core.NativeLoader
type GoProgram = core.GoProgram
type RunStore = core.RunStore
type StoredRun = core.StoredRun
type Failure = core.Failure
type FailKind = core.FailKind
type ScriptError = core.ScriptError
type GuestFault = core.GuestFault

// Constants re-exported from core.
const (
	ModeStepped = core.ModeStepped
	ModeNative  = core.ModeNative

	FailScript  = core.FailScript
	FailKilled  = core.FailKilled
	FailHost    = core.FailHost
	FailUnknown = core.FailUnknown

	MaxLogEntries     = core.MaxLogEntries
	MaxLogMessageSize = core.MaxLogMessageSize
)

// ErrStopRequested re-exported from core.
var ErrStopRequested = core.ErrStopRequested

// Functions re-exported from core.
var DefaultConfig = core.DefaultConfig
var NewBasicHost = core.NewBasicHost
var NewHostCall = core.NewHostCall
var RoundRAM = core.RoundRAM
var ModeForScript = core.ModeForScript
var ToGuestValue = core.ToGuestValue
