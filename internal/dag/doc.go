// Package dag orders the steps of a pipeline run.
//
// It is split into:
//   - Immutable graph definition (StepGraph): steps + dependency structure + stable GraphHash
//   - Mutable execution state (ExecutionState): per-run step statuses
//
// A step that fails marks every downstream step SKIPPED, which is how a
// failed cleanup or listener bind keeps the stages, the server and the
// watcher from ever starting.
package dag
