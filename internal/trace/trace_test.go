package trace

import (
	"bytes"
	"testing"
)

func TestCanonicalTraceStability_ByteForByte(t *testing.T) {
	trace1 := RunTrace{
		GraphHash: "graph-abc",
		Variant:   "build",
		Events: []Event{
			{Kind: EventStepCompleted, Step: "stage:styles"},
			{Kind: EventFileWritten, Step: "stage:styles", Path: "src/sass/a.sass", Outputs: []string{"build/css/a.css"}, Digest: "d1"},
			{Kind: EventFileSkipped, Step: "stage:styles", Path: "src/sass/b.sass", Reason: "sass"},
			{Kind: EventStepCompleted, Step: "cleanup"},
		},
	}

	trace2 := RunTrace{
		GraphHash: "graph-abc",
		Variant:   "build",
		Events: []Event{
			{Kind: EventStepCompleted, Step: "cleanup"},
			{Kind: EventFileSkipped, Step: "stage:styles", Path: "src/sass/b.sass", Reason: "sass"},
			{Kind: EventStepCompleted, Step: "stage:styles"},
			{Kind: EventFileWritten, Step: "stage:styles", Path: "src/sass/a.sass", Outputs: []string{"build/css/a.css"}, Digest: "d1"},
		},
	}

	b1, err := trace1.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (1): %v", err)
	}
	b2, err := trace2.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (2): %v", err)
	}

	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected identical bytes\n1=%s\n2=%s", string(b1), string(b2))
	}
}

func TestCanonicalOrdering(t *testing.T) {
	tr := RunTrace{
		GraphHash: "g",
		Events: []Event{
			{Kind: EventStepSkipped, Step: "serve", Reason: "UpstreamFailed", Cause: "bind"},
			{Kind: EventStepCompleted, Step: "stage:scripts"},
			{Kind: EventFileWritten, Step: "stage:scripts", Path: "src/js/app.js", Outputs: []string{"preview/js/app.js"}},
			{Kind: EventStepFailed, Step: "bind", Reason: "ServerBind"},
		},
	}
	b, err := tr.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	expected := `{"graphHash":"g","events":[` +
		`{"kind":"StepFailed","step":"bind","reason":"ServerBind"},` +
		`{"kind":"StepSkipped","step":"serve","reason":"UpstreamFailed","cause":"bind"},` +
		`{"kind":"StepCompleted","step":"stage:scripts"},` +
		`{"kind":"FileWritten","step":"stage:scripts","path":"src/js/app.js","outputs":["preview/js/app.js"]}]}`
	if string(b) != expected {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", expected, string(b))
	}
}

func TestHash_IgnoresInsertionOrder(t *testing.T) {
	tr1 := RunTrace{GraphHash: "g", Events: []Event{
		{Kind: EventStepCompleted, Step: "b"},
		{Kind: EventStepCompleted, Step: "a"},
	}}
	tr2 := RunTrace{GraphHash: "g", Events: []Event{
		{Kind: EventStepCompleted, Step: "a"},
		{Kind: EventStepCompleted, Step: "b"},
	}}

	h1, err := tr1.Hash()
	if err != nil {
		t.Fatalf("hash (1): %v", err)
	}
	h2, err := tr2.Hash()
	if err != nil {
		t.Fatalf("hash (2): %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected equal hash, got %q != %q", h1, h2)
	}

	tr2.Events[0].Digest = "changed"
	h3, _ := tr2.Hash()
	if h3 == h1 {
		t.Fatal("digest change must change the hash")
	}
}

func TestOutputs_CanonicalizedAndOmittedWhenEmpty(t *testing.T) {
	tr := RunTrace{GraphHash: "g", Events: []Event{{
		Kind:    EventFileWritten,
		Step:    "stage:markup",
		Path:    "src/index.html",
		Outputs: []string{"z", "a"},
	}}}
	b, err := tr.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	expected := `{"graphHash":"g","events":[{"kind":"FileWritten","step":"stage:markup","path":"src/index.html","outputs":["a","z"]}]}`
	if string(b) != expected {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", expected, string(b))
	}
}

func TestValidate(t *testing.T) {
	cases := []RunTrace{
		{},
		{GraphHash: "g", Events: []Event{{Step: "x"}}},
		{GraphHash: "g", Events: []Event{{Kind: EventStepCompleted}}},
		{GraphHash: "g", Events: []Event{{Kind: EventFileWritten, Step: "stage:markup"}}},
	}
	for i, tr := range cases {
		if err := tr.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestRecorder_SafeRecord(t *testing.T) {
	r := NewRecorder()
	SafeRecord(r, Event{Kind: EventStepCompleted, Step: "cleanup"})
	SafeRecord(nil, Event{Kind: EventStepCompleted, Step: "ignored"})
	SafeRecord(NopSink{}, Event{Kind: EventStepCompleted, Step: "ignored"})

	tr := r.Trace("g", "preview")
	if len(tr.Events) != 1 || tr.Variant != "preview" {
		t.Fatalf("unexpected trace %+v", tr)
	}

	SafeRecord(r, Event{Kind: EventFileWritten, Step: "stage:scripts", Path: "src/js/app.js"})
	if r.Len() != 2 || len(tr.Events) != 1 {
		t.Fatalf("trace must not follow later events: recorder %d, trace %d", r.Len(), len(tr.Events))
	}
}

type panickingSink struct{}

func (panickingSink) Record(Event) { panic("broken sink") }

func TestSafeRecord_ContainsPanics(t *testing.T) {
	SafeRecord(panickingSink{}, Event{Kind: EventStepCompleted, Step: "cleanup"})
}
