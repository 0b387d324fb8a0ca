package hive

import (
	"math"

	"github.com/cryguy/hive/internal/core"
)

// admit charges the run's full RAM cost against the host. All-or-nothing:
// on error nothing was reserved. The returned amount is the exact figure
// teardown must release; it is recorded on the process rather than
// recomputed, so a later change to the script's cost cannot skew the books.
func admit(host core.Host, run *core.ScriptRun) (float64, error) {
	cost := run.RAMUsage()
	if err := host.ReserveRAM(cost); err != nil {
		return 0, err
	}
	return cost, nil
}

// roundThreads converts a requested thread count to a whole number.
// Anything that rounds to zero or below, or is not a finite number, is
// invalid and comes back as 0.
func roundThreads(threads float64) int {
	if math.IsNaN(threads) || math.IsInf(threads, 0) {
		return 0
	}
	n := int(math.Round(threads))
	if n < 0 {
		return 0
	}
	return n
}
