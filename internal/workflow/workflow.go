// Package workflow defines the governance phase machine for a project.
//
// The edge table is data, not branching code; property tests iterate it
// directly to prove edge closure.
package workflow

import (
	"sort"
	"strings"

	"steward/core/internal/fault"
)

type Phase string

const (
	Initiating Phase = "initiating"
	Planning   Phase = "planning"
	Executing  Phase = "executing"
	Monitoring Phase = "monitoring"
	Closing    Phase = "closing"
	Closed     Phase = "closed"
)

// MinReasonLen is the governance floor for transition reasons. One-word
// justifications do not survive an audit.
const MinReasonLen = 8

// edges is the complete transition graph. closed has no outgoing edges.
var edges = map[Phase][]Phase{
	Initiating: {Planning},
	Planning:   {Executing, Initiating},
	Executing:  {Monitoring, Planning},
	Monitoring: {Executing, Closing},
	Closing:    {Closed},
	Closed:     {},
}

// Phases lists every phase in lifecycle order.
func Phases() []Phase {
	return []Phase{Initiating, Planning, Executing, Monitoring, Closing, Closed}
}

func Valid(p Phase) bool {
	_, ok := edges[p]
	return ok
}

// Initial is the only phase a project may start in.
func Initial() Phase {
	return Initiating
}

// Terminal reports whether p has no outgoing edges.
func Terminal(p Phase) bool {
	return Valid(p) && len(edges[p]) == 0
}

// AllowedTransitions returns the phases reachable from current, sorted for
// stable rendering. Unknown phases yield an empty set.
func AllowedTransitions(current Phase) []Phase {
	out := append([]Phase(nil), edges[current]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidateTransition checks the edge and the reason. It mutates nothing;
// persistence and auditing belong to the caller.
func ValidateTransition(current, to Phase, reason string) error {
	if !Valid(current) {
		return fault.Newf(fault.CodeInvalidTransition, "unknown phase %q", current)
	}
	if !Valid(to) {
		return fault.Newf(fault.CodeInvalidTransition, "unknown phase %q", to)
	}
	if len(strings.TrimSpace(reason)) < MinReasonLen {
		return fault.Newf(fault.CodeInvalidInput, "transition reason must be at least %d characters", MinReasonLen)
	}
	for _, next := range edges[current] {
		if next == to {
			return nil
		}
	}
	return fault.Newf(fault.CodeInvalidTransition, "no edge %s -> %s", current, to)
}
