package hive

import "sync"

// Port is a bounded FIFO for inter-script signaling. The engine treats the
// contents as opaque values; scripts agree on their own conventions.
type Port struct {
	mu   sync.Mutex
	data []any
	cap  int
}

func newPort(capacity int) *Port {
	return &Port{cap: capacity}
}

// Write appends a value. When the port is full the oldest entry is evicted
// and returned; otherwise nil.
func (p *Port) Write(v any) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var evicted any
	if len(p.data) >= p.cap {
		evicted = p.data[0]
		p.data = p.data[1:]
	}
	p.data = append(p.data, v)
	return evicted
}

// TryWrite appends a value only if the port has room.
func (p *Port) TryWrite(v any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.data) >= p.cap {
		return false
	}
	p.data = append(p.data, v)
	return true
}

// Read removes and returns the oldest value.
func (p *Port) Read() (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.data) == 0 {
		return nil, false
	}
	v := p.data[0]
	p.data = p.data[1:]
	return v, true
}

// Peek returns the oldest value without removing it.
func (p *Port) Peek() (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.data) == 0 {
		return nil, false
	}
	return p.data[0], true
}

// Clear discards all queued values.
func (p *Port) Clear() {
	p.mu.Lock()
	p.data = nil
	p.mu.Unlock()
}

// Len returns the number of queued values.
func (p *Port) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data)
}

// Full reports whether a plain Write would evict.
func (p *Port) Full() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.data) >= p.cap
}

// portTable owns the numbered ports. Ports are created lazily on first use
// and survive until the engine is reset.
type portTable struct {
	mu       sync.Mutex
	ports    map[int]*Port
	capacity int
}

func newPortTable(capacity int) *portTable {
	return &portTable{ports: make(map[int]*Port), capacity: capacity}
}

func (t *portTable) get(n int) *Port {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.ports[n]
	if !ok {
		p = newPort(t.capacity)
		t.ports[n] = p
	}
	return p
}

func (t *portTable) reset() {
	t.mu.Lock()
	t.ports = make(map[int]*Port)
	t.mu.Unlock()
}
