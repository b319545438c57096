package dag

import "sort"

// validateAcyclic rejects graphs whose topological sort does not reach every
// step, naming one cycle.
func (g *StepGraph) validateAcyclic() error {
	if len(g.topoOrderIndices()) == len(g.nodes) {
		return nil
	}
	return &GraphError{Kind: ErrCycleFound, Cycle: g.cycleWitness()}
}

// topoOrderIndices is Kahn's algorithm with the ready set kept sorted by
// canonical index, so equal graphs always sort the same way. Steps on a cycle
// are missing from the result.
func (g *StepGraph) topoOrderIndices() []int {
	indeg := append([]int(nil), g.indeg...)

	var ready []int
	for i, d := range indeg {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)

		released := false
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				ready = append(ready, m)
				released = true
			}
		}
		if released {
			sort.Ints(ready)
		}
	}
	return out
}

// cycleWitness walks the steps left over by the topological sort. Each of
// them has a predecessor that is also left over, so following predecessors
// from the lowest index must revisit a step; the revisited stretch is the
// cycle, reported in edge direction.
func (g *StepGraph) cycleWitness() []string {
	sorted := make([]bool, len(g.nodes))
	for _, i := range g.topoOrderIndices() {
		sorted[i] = true
	}

	start := -1
	for i := range g.nodes {
		if !sorted[i] {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	pred := make([]int, len(g.nodes))
	for i := range g.nodes {
		pred[i] = -1
		for _, from := range g.incoming[i] {
			if !sorted[from] {
				pred[i] = from
				break
			}
		}
	}

	seenAt := make(map[int]int)
	var walk []int
	cur := start
	for {
		if at, ok := seenAt[cur]; ok {
			walk = walk[at:]
			break
		}
		seenAt[cur] = len(walk)
		walk = append(walk, cur)
		cur = pred[cur]
	}

	// walk follows predecessors; reverse it into edge direction and close it.
	out := make([]string, 0, len(walk)+1)
	for i := len(walk) - 1; i >= 0; i-- {
		out = append(out, g.nodes[walk[i]].Name)
	}
	return append(out, out[0])
}
