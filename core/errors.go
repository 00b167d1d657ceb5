package core

import (
	"fmt"
	"strings"
)

// NonConvergenceError reports a fixpoint that did not settle. No data plane is
// published alongside it.
type NonConvergenceError struct {
	Phase  string
	Rounds int
	// Oscillating is set when a previously seen network state recurred;
	// CycleLength is then the period in rounds.
	Oscillating bool
	CycleLength int
	// Dirty lists the adjacencies whose exports still changed in the last round.
	Dirty []string
}

func (e *NonConvergenceError) Error() string {
	sb := strings.Builder{}
	if e.Oscillating {
		fmt.Fprintf(&sb, "%s: oscillation detected after %d rounds (cycle of %d rounds)", e.Phase, e.Rounds, e.CycleLength)
	} else {
		fmt.Fprintf(&sb, "%s: no convergence within %d rounds", e.Phase, e.Rounds)
	}
	if len(e.Dirty) > 0 {
		fmt.Fprintf(&sb, ", %d dirty adjacencies: %s", len(e.Dirty), strings.Join(e.Dirty, "; "))
	}
	return sb.String()
}
