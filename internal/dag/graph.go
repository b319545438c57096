package dag

import (
	"encoding/binary"
	"sort"

	"sitepipe/internal/core"
)

type edgeIndex struct {
	from int
	to   int
}

// StepGraph is an immutable, validated DAG definition.
//
// It is safe for concurrent read access.
type StepGraph struct {
	nodesByName map[string]*StepNode
	nodes       []*StepNode // canonical order

	edges []edgeIndex // sorted

	outgoing [][]int // by canonical index, sorted ascending
	incoming [][]int // by canonical index, sorted ascending
	indeg    []int   // by canonical index
	depth    []int   // by canonical index (topological depth)

	hash GraphHash
}

// NewStepGraph builds and validates a StepGraph.
//
// Validation runs immediately and rejects:
//   - empty or duplicate step names
//   - edges referencing unknown steps
//   - duplicate edges
//   - self-loops
//   - any cycle (direct or indirect)
func NewStepGraph(steps []StepDef, edges []Edge) (*StepGraph, error) {
	if len(steps) == 0 {
		return nil, invalidf("no steps")
	}

	nodesByName := make(map[string]*StepNode, len(steps))
	nodes := make([]*StepNode, 0, len(steps))

	for _, s := range steps {
		if s.Name == "" {
			return nil, invalidf("step name is required")
		}
		if _, exists := nodesByName[s.Name]; exists {
			return nil, invalidf("duplicate step name: %q", s.Name)
		}
		node := &StepNode{
			Name:           s.Name,
			Step:           s,
			DefinitionHash: core.HashFields([]byte(s.Kind), []byte(s.Name)),
		}
		nodesByName[s.Name] = node
		nodes = append(nodes, node)
	}

	sort.Slice(nodes, func(i, j int) bool {
		ai, aj := nodes[i], nodes[j]
		if ai.DefinitionHash != aj.DefinitionHash {
			return ai.DefinitionHash < aj.DefinitionHash
		}
		return ai.Name < aj.Name
	})
	for i, n := range nodes {
		n.canonicalIndex = i
	}

	mapped := make([]edgeIndex, 0, len(edges))
	seen := make(map[edgeIndex]struct{}, len(edges))
	for _, e := range edges {
		fromNode, okFrom := nodesByName[e.From]
		toNode, okTo := nodesByName[e.To]
		if !okFrom {
			return nil, invalidf("edge references unknown step (from): %q", e.From)
		}
		if !okTo {
			return nil, invalidf("edge references unknown step (to): %q", e.To)
		}
		if fromNode == toNode {
			return nil, invalidf("self-loop: %q -> %q", e.From, e.To)
		}

		pair := edgeIndex{from: fromNode.canonicalIndex, to: toNode.canonicalIndex}
		if _, exists := seen[pair]; exists {
			return nil, invalidf("duplicate edge: %q -> %q", e.From, e.To)
		}
		seen[pair] = struct{}{}
		mapped = append(mapped, pair)
	}

	sort.Slice(mapped, func(i, j int) bool {
		a, b := mapped[i], mapped[j]
		if a.from != b.from {
			return a.from < b.from
		}
		return a.to < b.to
	})

	outgoing := make([][]int, len(nodes))
	incoming := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	for _, e := range mapped {
		outgoing[e.from] = append(outgoing[e.from], e.to)
		incoming[e.to] = append(incoming[e.to], e.from)
		indeg[e.to]++
	}

	g := &StepGraph{
		nodesByName: nodesByName,
		nodes:       nodes,
		edges:       mapped,
		outgoing:    outgoing,
		incoming:    incoming,
		indeg:       indeg,
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}

	g.depth = g.computeDepth()
	g.hash = g.computeGraphHash()
	return g, nil
}

// Hash returns the stable identity for this graph.
func (g *StepGraph) Hash() GraphHash { return g.hash }

// Node returns a node by name.
func (g *StepGraph) Node(name string) (*StepNode, bool) {
	n, ok := g.nodesByName[name]
	return n, ok
}

// Nodes returns the nodes in canonical order.
func (g *StepGraph) Nodes() []*StepNode {
	out := make([]*StepNode, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns the dependency edges as (From, To) name pairs in canonical order.
func (g *StepGraph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, Edge{From: g.nodes[e.from].Name, To: g.nodes[e.to].Name})
	}
	return out
}

// Depth returns the topological depth of the given step: the length of the
// longest path from any root to it.
func (g *StepGraph) Depth(name string) (int, bool) {
	n, ok := g.nodesByName[name]
	if !ok {
		return 0, false
	}
	return g.depth[n.canonicalIndex], true
}

func (g *StepGraph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	for _, u := range g.topoOrderIndices() {
		maxParent := 0
		for _, p := range g.incoming[u] {
			maxParent = max(maxParent, depth[p]+1)
		}
		depth[u] = maxParent
	}
	return depth
}

// TopologicalOrder returns a deterministic topological ordering of step names.
func (g *StepGraph) TopologicalOrder() []string {
	order := g.topoOrderIndices()
	names := make([]string, 0, len(order))
	for _, idx := range order {
		names = append(names, g.nodes[idx].Name)
	}
	return names
}

func (g *StepGraph) computeGraphHash() GraphHash {
	fields := make([][]byte, 0, 1+len(g.nodes)+2*len(g.edges))
	fields = append(fields, binary.BigEndian.AppendUint32(nil, uint32(len(g.nodes))))
	for _, n := range g.nodes {
		fields = append(fields, []byte(n.DefinitionHash))
	}
	for _, e := range g.edges {
		fields = append(fields,
			binary.BigEndian.AppendUint32(nil, uint32(e.from)),
			binary.BigEndian.AppendUint32(nil, uint32(e.to)),
		)
	}
	return GraphHash(core.HashFields(fields...))
}
