package pipeline

import (
	"sitepipe/internal/core"
	"sitepipe/internal/dag"
	"sitepipe/internal/stage"
)

// Step names and kinds of the run graph.
const (
	StepCleanup = "cleanup"
	StepBind    = "bind"
	StepServe   = "serve"
	StepWatch   = "watch"

	kindStage = "stage"
)

// Trace reasons of failed steps.
const (
	ReasonCleanup    = "Cleanup"
	ReasonServerBind = "ServerBind"
	ReasonServe      = "Serve"
	ReasonWatch      = "Watch"
)

// runGraph orders a full run: cleanup, then the listeners, then every stage,
// then serving and watching once all stages settled.
func runGraph(categories []core.Category) (*dag.StepGraph, error) {
	steps := []dag.StepDef{
		{Name: StepCleanup, Kind: StepCleanup},
		{Name: StepBind, Kind: StepBind},
		{Name: StepServe, Kind: StepServe},
		{Name: StepWatch, Kind: StepWatch},
	}
	edges := []dag.Edge{
		{From: StepCleanup, To: StepBind},
		{From: StepServe, To: StepWatch},
	}
	for _, cat := range categories {
		name := stage.StepName(cat)
		steps = append(steps, dag.StepDef{Name: name, Kind: kindStage})
		edges = append(edges,
			dag.Edge{From: StepBind, To: name},
			dag.Edge{From: name, To: StepServe},
		)
	}
	return dag.NewStepGraph(steps, edges)
}

// stageGraph is the single-step graph of a narrow invocation.
func stageGraph(cat core.Category) (*dag.StepGraph, error) {
	return dag.NewStepGraph([]dag.StepDef{{Name: stage.StepName(cat), Kind: kindStage}}, nil)
}
