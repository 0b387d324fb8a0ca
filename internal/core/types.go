package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

const MaxLogEntries = 1000
const MaxLogMessageSize = 4096

// RoundRAM rounds a RAM amount to two decimal places. All reservations and
// releases pass through this so that many small admissions cannot accumulate
// floating-point drift against the pool.
func RoundRAM(v float64) float64 {
	return math.Round(v*100) / 100
}

// ramEpsilon absorbs the sub-cent representation error left after RoundRAM
// when comparing a cost against remaining capacity.
const ramEpsilon = 1e-9

// RAMFits reports whether cost fits in avail. An exact fit passes; only a
// genuine overshoot beyond representation error is rejected.
func RAMFits(cost, avail float64) bool {
	return cost <= avail+ramEpsilon
}

// ExecMode selects how a script's source is executed.
type ExecMode int

const (
	// ModeStepped runs the script through the cooperative instruction
	// stepper (legacy script form).
	ModeStepped ExecMode = iota
	// ModeNative runs the script as a promise-capable program whose host
	// calls go through the serializing wrapper.
	ModeNative
)

func (m ExecMode) String() string {
	if m == ModeNative {
		return "native"
	}
	return "stepped"
}

// ModeForScript derives the execution mode from the script filename.
// ".js" and ".mjs" scripts run natively; everything else is stepped.
func ModeForScript(filename string) ExecMode {
	if strings.HasSuffix(filename, ".js") || strings.HasSuffix(filename, ".mjs") {
		return ModeNative
	}
	return ModeStepped
}

// ScriptRun is the durable record of one script invocation. It survives
// independently of whether a live process currently backs it: records are
// persisted across restarts and rehydrated into fresh processes.
type ScriptRun struct {
	Filename     string  `json:"filename"`
	Args         []any   `json:"args"`
	Threads      int     `json:"threads"`
	RAMPerThread float64 `json:"ramPerThread"`
	Server       string  `json:"server"` // hostname the run lives on
	PID          int     `json:"pid"`    // assigned at start, 0 before

	// Accumulated production while a live process backed this record.
	OnlineRunTime float64 `json:"onlineRunTime"` // seconds
	OnlineMoney   float64 `json:"onlineMoney"`
	OnlineExp     float64 `json:"onlineExp"`
}

// RAMUsage is the total cost of the run: per-thread cost times threads,
// rounded to the fixed precision.
func (r *ScriptRun) RAMUsage() float64 {
	return RoundRAM(r.RAMPerThread * float64(r.Threads))
}

// ArgsSignature returns the canonical form of an argument vector, used to
// detect duplicate launches of the same script with the same arguments.
func ArgsSignature(args []any) string {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprint(args)
	}
	return string(b)
}

// LogEntry is a single message recorded by or about a process.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}
