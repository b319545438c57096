// Package trace records the canonical, timing-free trace of a pipeline run.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// RunTrace is the canonical record of one pipeline run.
//
// It captures what each step decided and which destination files each source
// produced, never when. Two runs over an unchanged source tree produce the
// same canonical bytes, which is what the idempotence checks compare.
//
// Canonical representation:
//   - Events are sorted via Canonicalize() using a fully-specified ordering.
//   - JSON serialization uses a custom marshaler to fix field order and omit
//     absent optional fields.
type RunTrace struct {
	// GraphHash identifies the step graph the run executed.
	GraphHash string
	Variant   string
	Events    []Event
}

// EventKind is the stable discriminator for Event. The string values are part
// of the canonical bytes; do not rename.
type EventKind string

const (
	EventStepCompleted EventKind = "StepCompleted"
	EventStepFailed    EventKind = "StepFailed"
	EventStepSkipped   EventKind = "StepSkipped"
	EventFileWritten   EventKind = "FileWritten"
	EventFileSkipped   EventKind = "FileSkipped"
)

// Event is a single logical transition.
//
// Determinism constraints:
//   - No timestamps or durations.
//   - No error strings; Reason carries a stable code such as a transform
//     step name or "UpstreamFailed".
type Event struct {
	Kind EventKind

	// Step is the pipeline step, e.g. "cleanup" or "stage:styles".
	Step string

	// Path is the project-relative source file for file events.
	Path string

	Reason string

	// Cause records the upstream step whose failure skipped this one.
	Cause string

	// Outputs are the project-relative destination paths a source produced.
	Outputs []string

	// Digest is the content hash of the written output.
	Digest string
}

// Validate checks basic invariants and returns a descriptive error.
func (t *RunTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graphHash is required")
	}
	for i := range t.Events {
		e := t.Events[i]
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.Step == "" {
			return fmt.Errorf("events[%d].step is required for kind %q", i, e.Kind)
		}
		if isFileEvent(e.Kind) && e.Path == "" {
			return fmt.Errorf("events[%d].path is required for kind %q", i, e.Kind)
		}
		for j, o := range e.Outputs {
			if o == "" {
				return fmt.Errorf("events[%d].outputs[%d] is empty", i, j)
			}
		}
	}
	return nil
}

func isFileEvent(kind EventKind) bool {
	return kind == EventFileWritten || kind == EventFileSkipped
}

// Canonicalize normalizes and sorts the trace into its canonical form.
//
// Events are stably sorted by (step, path, kindOrder, reason, cause,
// outputs); Outputs are copied and sorted; empty Outputs become nil.
func (t *RunTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Outputs) == 0 {
			t.Events[i].Outputs = nil
			continue
		}
		out := make([]string, len(t.Events[i].Outputs))
		copy(out, t.Events[i].Outputs)
		sort.Strings(out)
		t.Events[i].Outputs = out
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a := t.Events[i]
		b := t.Events[j]

		if a.Step != b.Step {
			return a.Step < b.Step
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.Cause != b.Cause {
			return a.Cause < b.Cause
		}
		return compareStringSlices(a.Outputs, b.Outputs)
	})
}

func kindOrder(k EventKind) int {
	switch k {
	case EventFileWritten:
		return 10
	case EventFileSkipped:
		return 20
	case EventStepCompleted:
		return 30
	case EventStepFailed:
		return 40
	case EventStepSkipped:
		return 50
	default:
		return 1000
	}
}

func compareStringSlices(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			continue
		}
		return a[i] < b[i]
	}
	return len(a) < len(b)
}

// CanonicalJSON returns the canonical JSON encoding of the trace.
// It canonicalizes a copy to avoid mutating the caller's slices.
func (t RunTrace) CanonicalJSON() ([]byte, error) {
	c := RunTrace{GraphHash: t.GraphHash, Variant: t.Variant}
	c.Events = make([]Event, len(t.Events))
	copy(c.Events, t.Events)
	c.Canonicalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&c)
}

// Hash returns the sha256 hex of the canonical JSON bytes.
func (t RunTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON fixes field order. It does not sort; see CanonicalJSON.
func (t RunTrace) MarshalJSON() ([]byte, error) {
	if t.GraphHash == "" {
		return nil, errors.New("graphHash is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeString(&buf, "graphHash", t.GraphHash, false)
	if t.Variant != "" {
		writeString(&buf, "variant", t.Variant, true)
	}

	buf.WriteString(",\"events\":[")
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var outputs []string
	if len(e.Outputs) > 0 {
		outputs = make([]string, len(e.Outputs))
		copy(outputs, e.Outputs)
		sort.Strings(outputs)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	writeString(&buf, "kind", string(e.Kind), false)
	for _, f := range []struct{ key, value string }{
		{"step", e.Step},
		{"path", e.Path},
		{"reason", e.Reason},
		{"cause", e.Cause},
	} {
		if f.value != "" {
			writeString(&buf, f.key, f.value, true)
		}
	}
	if len(outputs) > 0 {
		buf.WriteString(",\"outputs\":")
		ob, _ := json.Marshal(outputs)
		buf.Write(ob)
	}
	if e.Digest != "" {
		writeString(&buf, "digest", e.Digest, true)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, key, value string, comma bool) {
	if comma {
		buf.WriteByte(',')
	}
	kb, _ := json.Marshal(key)
	vb, _ := json.Marshal(value)
	buf.Write(kb)
	buf.WriteByte(':')
	buf.Write(vb)
}
