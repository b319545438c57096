package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"sitepipe/internal/core"
	"sitepipe/internal/dag"
	"sitepipe/internal/server"
	"sitepipe/internal/stage"
	"sitepipe/internal/trace"
	"sitepipe/internal/watch"
)

// Session states reported by the companion UI.
const (
	StateRunning = "running"
	StateReady   = "ready"
	StateFailed  = "failed"
	StateClosed  = "closed"
)

type stageRecord struct {
	result   stage.Result
	err      error
	finished time.Time
}

// Session is a running pipeline: the server keeps serving and the watcher
// keeps rebuilding until Close.
type Session struct {
	ID      string
	Variant core.Variant
	Graph   *dag.StepGraph

	label    string
	clock    clockwork.Clock
	started  time.Time
	recorder *trace.Recorder
	server   *server.Server
	watcher  *watch.Dispatcher

	mu     sync.Mutex
	result *dag.GraphResult
	stages map[core.Category]stageRecord
	state  string
	closed bool
}

func newSession(id string, v core.Variant, label string, clock clockwork.Clock, g *dag.StepGraph, rec *trace.Recorder) *Session {
	return &Session{
		ID:       id,
		Variant:  v,
		Graph:    g,
		label:    label,
		clock:    clock,
		started:  clock.Now(),
		recorder: rec,
		stages:   make(map[core.Category]stageRecord),
		state:    StateRunning,
	}
}

func (s *Session) recordStage(res stage.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[res.Category] = stageRecord{result: res, err: err, finished: s.clock.Now()}
}

func (s *Session) setWatcher(w *watch.Dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watcher = w
}

func (s *Session) setResult(r *dag.GraphResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = r
	if r.FirstError() != nil {
		s.state = StateFailed
	} else {
		s.state = StateReady
	}
}

// Result returns the pipeline graph result, nil while the run is starting.
func (s *Session) Result() *dag.GraphResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Stages returns the latest result of every stage, ordered by category.
func (s *Session) Stages() []stage.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stage.Result, 0, len(s.stages))
	for _, rec := range s.stages {
		out = append(out, rec.result)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Trace returns the canonical trace of the pipeline run. Watch reruns are
// not part of it.
func (s *Session) Trace() trace.RunTrace {
	return s.recorder.Trace(s.Graph.Hash().String(), string(s.Variant))
}

// Addr returns the dev server address, empty when it is not bound.
func (s *Session) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr()
}

// UIAddr returns the companion UI address, empty when it is not bound.
func (s *Session) UIAddr() string {
	if s.server == nil {
		return ""
	}
	return s.server.UIAddr()
}

// Status implements server.StatusSource.
func (s *Session) Status() server.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := server.Status{
		RunID:     s.ID,
		Variant:   string(s.Variant),
		Label:     s.label,
		State:     s.state,
		StartedAt: s.started,
		Stages:    make([]server.StageStatus, 0, len(s.stages)),
	}
	for _, rec := range s.stages {
		ss := server.StageStatus{
			Category:   string(rec.result.Category),
			Trigger:    rec.result.Trigger,
			Written:    rec.result.Written,
			DurationMS: rec.result.Duration.Milliseconds(),
			FinishedAt: rec.finished,
		}
		for _, fe := range rec.result.Skipped {
			ss.Skipped = append(ss.Skipped, fe.Source)
		}
		if rec.err != nil {
			ss.Error = rec.err.Error()
		}
		st.Stages = append(st.Stages, ss)
	}
	sort.Slice(st.Stages, func(i, j int) bool { return st.Stages[i].Category < st.Stages[j].Category })
	return st
}

// Wait blocks until ctx is done, then closes the session.
func (s *Session) Wait(ctx context.Context) error {
	<-ctx.Done()
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Close(shutdown)
}

// Close stops the watcher and the server. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.state != StateFailed {
		s.state = StateClosed
	}
	w, srv := s.watcher, s.server
	s.mu.Unlock()

	var errs []error
	if w != nil {
		errs = append(errs, w.Close())
	}
	if srv != nil {
		errs = append(errs, srv.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
