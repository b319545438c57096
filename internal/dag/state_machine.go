package dag

import "fmt"

// nextStates lists the allowed moves out of each state. Terminal states have
// none: a step runs at most once per execution.
var nextStates = map[StepState][]StepState{
	StepPending: {StepRunning, StepSkipped},
	StepRunning: {StepCompleted, StepFailed},
}

// IsTerminal reports whether a step in state s is finished.
func IsTerminal(s StepState) bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// Transition moves one step from the expected state from to to. The state
// map is left untouched when the step is unknown, not in from, or the move
// is not allowed.
func Transition(state ExecutionState, name string, from, to StepState) error {
	cur, ok := state[name]
	if !ok {
		return fmt.Errorf("unknown step in state: %q", name)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", name, from, cur)
	}
	for _, next := range nextStates[from] {
		if next == to {
			state[name] = to
			return nil
		}
	}
	return fmt.Errorf("disallowed transition for %q: %s -> %s", name, from, to)
}

// FailAndPropagate marks a running step FAILED and every pending step
// downstream of it SKIPPED. It returns the skipped steps in canonical order.
//
// A downstream step that is already RUNNING means the executor dispatched it
// before its dependencies completed; the state is then left as it was.
func FailAndPropagate(g *StepGraph, state ExecutionState, name string) ([]string, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	node, ok := g.nodesByName[name]
	if !ok {
		return nil, fmt.Errorf("unknown step: %q", name)
	}
	cur, ok := state[name]
	if !ok {
		return nil, fmt.Errorf("unknown step in state: %q", name)
	}
	if cur != StepRunning && cur != StepFailed {
		return nil, fmt.Errorf("cannot fail %q from state %s", name, cur)
	}

	downstream := g.downstreamOf(node.canonicalIndex)
	for _, n := range downstream {
		st, ok := state[n.Name]
		if !ok {
			return nil, fmt.Errorf("missing state for %q", n.Name)
		}
		if st == StepRunning {
			return nil, fmt.Errorf("invariant violation: downstream step %q is RUNNING during failure propagation", n.Name)
		}
	}

	state[name] = StepFailed
	var skipped []string
	for _, n := range downstream {
		if state[n.Name] == StepPending {
			state[n.Name] = StepSkipped
			skipped = append(skipped, n.Name)
		}
	}
	return skipped, nil
}

// downstreamOf returns every step reachable from idx, in canonical order.
func (g *StepGraph) downstreamOf(idx int) []*StepNode {
	reached := make([]bool, len(g.nodes))
	stack := append([]int(nil), g.outgoing[idx]...)
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reached[u] {
			continue
		}
		reached[u] = true
		stack = append(stack, g.outgoing[u]...)
	}

	var out []*StepNode
	for i, ok := range reached {
		if ok {
			out = append(out, g.nodes[i])
		}
	}
	return out
}
