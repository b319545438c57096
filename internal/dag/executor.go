package dag

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sitepipe/internal/trace"
)

// ReasonUpstreamFailed is the trace reason of a step skipped by propagation.
const ReasonUpstreamFailed = "UpstreamFailed"

// StepRunner executes a single step.
//
// A step that fails in the ordinary sense reports it through NodeResult.Failed.
// A non-nil error aborts the whole graph.
type StepRunner interface {
	Run(ctx context.Context, step StepDef) (*NodeResult, error)
}

// RunnerFunc adapts a function to StepRunner.
type RunnerFunc func(ctx context.Context, step StepDef) (*NodeResult, error)

func (f RunnerFunc) Run(ctx context.Context, step StepDef) (*NodeResult, error) { return f(ctx, step) }

// Executor executes a StepGraph deterministically.
type Executor struct {
	Graph  *StepGraph
	Runner StepRunner

	// Sink receives StepCompleted, StepFailed and StepSkipped events.
	Sink trace.Sink

	mu    sync.Mutex
	state ExecutionState
}

// NewExecutor creates an executor with all nodes initialized to PENDING.
func NewExecutor(g *StepGraph, runner StepRunner) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if runner == nil {
		return nil, fmt.Errorf("nil runner")
	}

	state := make(ExecutionState, len(g.nodes))
	for _, n := range g.nodes {
		state[n.Name] = StepPending
	}

	return &Executor{Graph: g, Runner: runner, Sink: trace.NopSink{}, state: state}, nil
}

// StateSnapshot returns a copy of the current execution state.
func (e *Executor) StateSnapshot() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := make(ExecutionState, len(e.state))
	for k, v := range e.state {
		cp[k] = v
	}
	return cp
}

// settle records the outcome of a finished step. Callers hold e.mu.
func (e *Executor) settle(name string, res *NodeResult, errs map[string]error) error {
	if !res.Failed {
		if err := Transition(e.state, name, StepRunning, StepCompleted); err != nil {
			return err
		}
		trace.SafeRecord(e.Sink, trace.Event{Kind: trace.EventStepCompleted, Step: name})
		return nil
	}

	errs[name] = res.Err
	skipped, err := FailAndPropagate(e.Graph, e.state, name)
	if err != nil {
		return err
	}
	trace.SafeRecord(e.Sink, trace.Event{Kind: trace.EventStepFailed, Step: name, Reason: res.Reason})
	for _, s := range skipped {
		trace.SafeRecord(e.Sink, trace.Event{Kind: trace.EventStepSkipped, Step: s, Reason: ReasonUpstreamFailed, Cause: name})
	}
	return nil
}

func (e *Executor) result(order []string, errs map[string]error) *GraphResult {
	return &GraphResult{
		GraphHash:      e.Graph.Hash(),
		FinalState:     e.StateSnapshot(),
		ExecutionOrder: order,
		Errors:         errs,
	}
}

// RunSerial executes the graph one step at a time. The next step is always
// the first element of the scheduler's ordered list.
func (e *Executor) RunSerial(ctx context.Context) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	order := make([]string, 0, len(e.Graph.nodes))
	errs := make(map[string]error)

	for {
		e.mu.Lock()
		ready := GetReadyTasks(e.Graph, e.state)

		if len(ready) == 0 {
			allTerminal := true
			for _, st := range e.state {
				if !IsTerminal(st) {
					allTerminal = false
					break
				}
			}
			e.mu.Unlock()

			if allTerminal {
				return e.result(order, errs), nil
			}
			return nil, fmt.Errorf("no ready steps but graph not finished")
		}

		next := ready[0]
		if err := Transition(e.state, next, StepPending, StepRunning); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("execution cancelled: %w", err)
		}
		res, err := e.Runner.Run(ctx, e.Graph.nodesByName[next].Step)
		if err != nil {
			return nil, fmt.Errorf("executing %q: %w", next, err)
		}
		if res == nil {
			return nil, fmt.Errorf("executing %q: nil result", next)
		}

		e.mu.Lock()
		order = append(order, next)
		err = e.settle(next, res, errs)
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
}

type workResult struct {
	name   string
	result *NodeResult
	err    error
}

// RunParallel executes the graph using up to concurrency workers.
//
// Steps are dispatched in increasing topological depth and, within a depth,
// in lexical order. A depth starts only after the previous one settled.
func (e *Executor) RunParallel(ctx context.Context, concurrency int) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be > 0")
	}

	maxDepth := 0
	for _, d := range e.Graph.depth {
		maxDepth = max(maxDepth, d)
	}

	byDepth := make([][]string, maxDepth+1)
	for _, n := range e.Graph.nodes {
		d := e.Graph.depth[n.canonicalIndex]
		byDepth[d] = append(byDepth[d], n.Name)
	}
	for d := range byDepth {
		sort.Strings(byDepth[d])
	}

	workCh := make(chan string, concurrency)
	doneCh := make(chan workResult, concurrency)

	var wg sync.WaitGroup
	var stopOnce sync.Once
	stopWorkers := func() {
		stopOnce.Do(func() {
			close(workCh)
			// Drain so that workers blocked on doneCh can exit.
			go func() {
				for range doneCh {
				}
			}()
			wg.Wait()
			close(doneCh)
		})
	}
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range workCh {
				res, err := e.Runner.Run(ctx, e.Graph.nodesByName[name].Step)
				doneCh <- workResult{name: name, result: res, err: err}
			}
		}()
	}

	order := make([]string, 0, len(e.Graph.nodes))
	errs := make(map[string]error)
	inFlight := 0

	for depth := 0; depth <= maxDepth; depth++ {
		names := byDepth[depth]
		nextToStart := 0

		for {
			e.mu.Lock()
			for inFlight < concurrency && nextToStart < len(names) {
				name := names[nextToStart]
				node := e.Graph.nodesByName[name]
				st := e.state[name]

				// Skipped by an earlier failure.
				if IsTerminal(st) {
					nextToStart++
					continue
				}
				if st != StepPending {
					e.mu.Unlock()
					stopWorkers()
					return nil, fmt.Errorf("unexpected non-pending state for %q: %s", name, st)
				}
				if !e.Graph.depsSatisfied(node.canonicalIndex, e.state) {
					e.mu.Unlock()
					stopWorkers()
					return nil, fmt.Errorf("step %q at depth %d is pending but dependencies are not successful", name, depth)
				}

				if err := Transition(e.state, name, StepPending, StepRunning); err != nil {
					e.mu.Unlock()
					stopWorkers()
					return nil, err
				}
				order = append(order, name)
				inFlight++
				nextToStart++
				workCh <- name
			}

			stageDone := nextToStart >= len(names) && inFlight == 0
			e.mu.Unlock()
			if stageDone {
				break
			}

			select {
			case <-ctx.Done():
				stopWorkers()
				return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
			case r := <-doneCh:
				if r.err != nil {
					stopWorkers()
					return nil, fmt.Errorf("executing %q: %w", r.name, r.err)
				}
				if r.result == nil {
					stopWorkers()
					return nil, fmt.Errorf("executing %q: nil result", r.name)
				}

				e.mu.Lock()
				if cur := e.state[r.name]; cur != StepRunning {
					e.mu.Unlock()
					stopWorkers()
					return nil, fmt.Errorf("completion for %q but state is %s", r.name, cur)
				}
				err := e.settle(r.name, r.result, errs)
				inFlight--
				e.mu.Unlock()
				if err != nil {
					stopWorkers()
					return nil, err
				}
			}
		}
	}

	stopWorkers()
	return e.result(order, errs), nil
}
