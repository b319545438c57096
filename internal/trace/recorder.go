package trace

import "sync"

// Sink receives trace events from the executor and the stages. Record has no
// way to report a failure and must not block.
type Sink interface {
	Record(event Event)
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Record(Event) {}

// SafeRecord forwards event to s. A nil sink drops the event and a panicking
// sink is contained, so tracing never fails a step.
func SafeRecord(s Sink, event Event) {
	if s == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.Record(event)
}

// Recorder collects the events of one pipeline run. Concurrent stages record
// in any order; Trace sorts.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

// Record stores a copy of event.
func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	if len(event.Outputs) > 0 {
		event.Outputs = append([]string(nil), event.Outputs...)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Len returns the number of events recorded so far.
func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Trace returns the canonical trace of the events recorded so far. Later
// events do not change it.
func (r *Recorder) Trace(graphHash, variant string) RunTrace {
	tr := RunTrace{GraphHash: graphHash, Variant: variant}
	if r != nil {
		r.mu.Lock()
		tr.Events = make([]Event, len(r.events))
		copy(tr.Events, r.events)
		r.mu.Unlock()
	}
	tr.Canonicalize()
	return tr
}
