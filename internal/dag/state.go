package dag

// StepState is the runtime execution state of a node, kept apart from the
// immutable StepGraph so the same graph can be executed repeatedly.
type StepState string

const (
	StepPending   StepState = "PENDING"
	StepRunning   StepState = "RUNNING"
	StepCompleted StepState = "COMPLETED"
	StepFailed    StepState = "FAILED"
	StepSkipped   StepState = "SKIPPED"
)

// ExecutionState maps step name to its current StepState.
type ExecutionState map[string]StepState
