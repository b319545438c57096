package dag

import (
	"sort"
)

// GetReadyTasks returns the deterministically ordered list of step names that
// are eligible to run.
//
// Policy:
//   - A step is ready iff it is PENDING and all its dependencies are COMPLETED.
//   - The returned list is sorted by (topological depth asc, step name asc).
//
// This function is pure: it does not mutate graph or state.
func GetReadyTasks(g *StepGraph, state ExecutionState) []string {
	if g == nil {
		return nil
	}

	ready := make([]string, 0)
	for _, node := range g.nodes {
		st, ok := state[node.Name]
		if !ok || st != StepPending {
			continue
		}
		if g.depsSatisfied(node.canonicalIndex, state) {
			ready = append(ready, node.Name)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		ad, _ := g.Depth(a)
		bd, _ := g.Depth(b)
		if ad != bd {
			return ad < bd
		}
		return a < b
	})

	return ready
}

// depsSatisfied reports whether every direct dependency of idx completed. A
// failed or skipped dependency never satisfies it.
func (g *StepGraph) depsSatisfied(idx int, state ExecutionState) bool {
	for _, p := range g.incoming[idx] {
		if state[g.nodes[p].Name] != StepCompleted {
			return false
		}
	}
	return true
}
