package hive

// registry is the table of live processes keyed by pid. The engine's mutex
// guards all access; registry methods do no locking of their own.
type registry struct {
	procs   map[int]*Process
	nextPID int
	max     int
}

func newRegistry(max int) *registry {
	return &registry{procs: make(map[int]*Process), max: max}
}

// allocate picks the next free pid, or 0 when the table is full. Ids
// increase monotonically and wrap around within the configured bound, and
// an id is never handed out while a live process still holds it. Callers
// must treat 0 as failure and reserve nothing for the run.
func (r *registry) allocate() int {
	if len(r.procs) >= r.max {
		return 0
	}
	for i := 0; i < r.max; i++ {
		r.nextPID++
		if r.nextPID > r.max {
			r.nextPID = 1
		}
		if _, taken := r.procs[r.nextPID]; !taken {
			return r.nextPID
		}
	}
	return 0
}

func (r *registry) add(p *Process) {
	r.procs[p.pid] = p
}

// remove is idempotent so racing completion paths can both call it.
func (r *registry) remove(pid int) {
	delete(r.procs, pid)
}

func (r *registry) get(pid int) *Process {
	return r.procs[pid]
}

func (r *registry) list() []*Process {
	out := make([]*Process, 0, len(r.procs))
	for _, p := range r.procs {
		out = append(out, p)
	}
	return out
}
