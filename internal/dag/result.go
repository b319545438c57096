package dag

// NodeResult is the outcome of one step. A failed step is a normal outcome,
// not an error: the executor marks it FAILED and skips everything
// downstream.
type NodeResult struct {
	Failed bool
	// Reason is a stable code for the failure, e.g. "ServerBind".
	Reason string
	Err    error
}

// GraphResult is the summary of a graph execution attempt.
type GraphResult struct {
	GraphHash GraphHash

	// FinalState is the terminal state of each node by name.
	FinalState ExecutionState

	// ExecutionOrder is the ordered list of steps that were started.
	ExecutionOrder []string

	// Errors holds the error of each failed step.
	Errors map[string]error
}

// FirstError returns the error of the first failed step in execution order.
func (r *GraphResult) FirstError() error {
	if r == nil {
		return nil
	}
	for _, name := range r.ExecutionOrder {
		if err := r.Errors[name]; err != nil {
			return err
		}
	}
	return nil
}
