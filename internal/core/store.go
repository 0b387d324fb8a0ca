package core

import "time"

// StoredRun is a persisted run record together with the time it was saved,
// used to compute how long the run was offline.
type StoredRun struct {
	Run     *ScriptRun
	SavedAt time.Time
}

// RunStore persists run records across engine restarts. Implementations
// must key records by (host, pid).
type RunStore interface {
	Save(host string, run *ScriptRun) error
	Runs(host string) ([]StoredRun, error)
	Delete(host string, pid int) error
}
