package dag

import "testing"

func steps(names ...string) []StepDef {
	out := make([]StepDef, 0, len(names))
	for _, n := range names {
		out = append(out, StepDef{Name: n, Kind: "test"})
	}
	return out
}

func mustGraph(t *testing.T, defs []StepDef, edges []Edge) *StepGraph {
	t.Helper()
	g, err := NewStepGraph(defs, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return g
}
