package dag

import "sitepipe/internal/core"

// GraphHash is the deterministic identity of a StepGraph. It is stable across
// insertion orders of steps and edges.
type GraphHash string

// String returns the string representation of the GraphHash.
func (h GraphHash) String() string { return string(h) }

// StepDef declares one step. Kind groups steps that share an implementation,
// e.g. every "stage" step; Name is unique within a graph.
type StepDef struct {
	Name string
	Kind string
}

// Edge represents a dependency relation: To runs only after From completed.
type Edge struct {
	From string
	To   string
}

// StepNode is an immutable node in the StepGraph.
type StepNode struct {
	Name           string
	Step           StepDef
	DefinitionHash core.ContentHash
	canonicalIndex int
}

// CanonicalIndex returns the node's deterministic position in the graph's canonical ordering.
func (n *StepNode) CanonicalIndex() int { return n.canonicalIndex }
