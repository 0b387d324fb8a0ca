package core

import (
	"fmt"
	"sync"
)

// Host is the machine a script runs on. It owns the capacity pool the
// admission controller draws from and the script catalog used for nested
// launches and import resolution. Implementations must keep the
// reserved-never-exceeds-total invariant themselves; the engine only calls
// ReserveRAM/ReleaseRAM in matched pairs.
type Host interface {
	Hostname() string
	MaxRAM() float64
	UsedRAM() float64

	// ReserveRAM claims the given amount or returns an error explaining why
	// it does not fit. The claim is all-or-nothing.
	ReserveRAM(amount float64) error
	ReleaseRAM(amount float64)

	AdminRights() bool

	// ScriptSource returns the stored text of the named script.
	ScriptSource(name string) (string, bool)
	// ScriptRAM returns the per-thread RAM cost of the named script.
	ScriptRAM(name string) (float64, error)
}

// BasicHost is an in-memory Host for embedders and tests.
type BasicHost struct {
	Name     string
	TotalRAM float64
	Admin    bool

	mu      sync.Mutex
	used    float64
	scripts map[string]hostedScript
}

type hostedScript struct {
	source       string
	ramPerThread float64
}

var _ Host = (*BasicHost)(nil)

// NewBasicHost creates a host with the given name and total capacity.
func NewBasicHost(name string, totalRAM float64) *BasicHost {
	return &BasicHost{Name: name, TotalRAM: totalRAM, Admin: true}
}

// AddScript stores a script on the host with its per-thread RAM cost.
func (h *BasicHost) AddScript(name, source string, ramPerThread float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.scripts == nil {
		h.scripts = make(map[string]hostedScript)
	}
	h.scripts[name] = hostedScript{source: source, ramPerThread: ramPerThread}
}

func (h *BasicHost) Hostname() string { return h.Name }

func (h *BasicHost) MaxRAM() float64 { return h.TotalRAM }

func (h *BasicHost) UsedRAM() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

func (h *BasicHost) ReserveRAM(amount float64) error {
	amount = RoundRAM(amount)
	h.mu.Lock()
	defer h.mu.Unlock()
	avail := h.TotalRAM - h.used
	if !RAMFits(amount, avail) {
		return fmt.Errorf("insufficient capacity on %s: need %.2fGB, %.2fGB available", h.Name, amount, avail)
	}
	h.used = RoundRAM(h.used + amount)
	return nil
}

func (h *BasicHost) ReleaseRAM(amount float64) {
	amount = RoundRAM(amount)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.used = RoundRAM(h.used - amount)
	if h.used < 0 {
		h.used = 0
	}
}

func (h *BasicHost) AdminRights() bool { return h.Admin }

func (h *BasicHost) ScriptSource(name string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.scripts[name]
	return s.source, ok
}

func (h *BasicHost) ScriptRAM(name string) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.scripts[name]
	if !ok {
		return 0, fmt.Errorf("no script %q on %s", name, h.Name)
	}
	return s.ramPerThread, nil
}
