package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	icl "sitepipe/internal/cli"
	"sitepipe/internal/testutil"
)

type outcome struct {
	res icl.CLIResult
	err error
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// newProject writes the demo site with the build server on port.
func newProject(t *testing.T, port int, extra map[string]string) string {
	t.Helper()
	files := map[string]string{
		"sitepipe.yaml": fmt.Sprintf(`variants:
  build:
    port: %d
    ui_port: 0
tools:
  sass: %q
`, port, testutil.FakeSass(t)),
	}
	for k, v := range extra {
		files[k] = v
	}
	return testutil.NewSite(t, files)
}

func quiet() icl.IO {
	return icl.IO{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
}

// runServing starts a pipeline invocation, waits until the dev server answers
// on port, then cancels it and returns the outcome.
func runServing(t *testing.T, port int, args ...string) outcome {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		res, err := icl.RunWithIO(ctx, args, quiet())
		done <- outcome{res, err}
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/", port)
	deadline := time.Now().Add(10 * time.Second)
	for {
		select {
		case o := <-done:
			return o
		default:
		}
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("dev server on port %d never answered", port)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case o := <-done:
		return o
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not stop after cancellation")
		return outcome{}
	}
}

func exists(workDir, rel string) bool {
	_, err := os.Stat(filepath.Join(workDir, filepath.FromSlash(rel)))
	return err == nil
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return b
}

func TestBuild_ExitsZeroAndWritesSite(t *testing.T) {
	port := freePort(t)
	workDir := newProject(t, port, map[string]string{"build/stale.txt": "old\n"})

	o := runServing(t, port, "--workdir", workDir, "--trace", "trace.json", "build")
	if o.err != nil {
		t.Fatalf("err: %v", o.err)
	}
	if o.res.ExitCode != icl.ExitSuccess {
		t.Fatalf("exit: %d", o.res.ExitCode)
	}

	for _, rel := range []string{"build/index.html", "build/about.html", "build/css/a.css", "build/js/app.js", "build/img/dot.svg", "build/robots.txt"} {
		if !exists(workDir, rel) {
			t.Fatalf("missing %s", rel)
		}
	}
	if exists(workDir, "build/stale.txt") {
		t.Fatalf("cleanup did not remove the stray file")
	}

	var tr struct {
		GraphHash string `json:"graphHash"`
		Variant   string `json:"variant"`
		Events    []struct {
			Kind string `json:"kind"`
		} `json:"events"`
	}
	if err := json.Unmarshal(readFile(t, filepath.Join(workDir, "trace.json")), &tr); err != nil {
		t.Fatalf("trace json invalid: %v", err)
	}
	if tr.GraphHash == "" || tr.Variant != "build" || len(tr.Events) == 0 {
		t.Fatalf("unexpected trace: %+v", tr)
	}
}

func TestBuild_OccupiedPortExitsOneBeforeAnyStage(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	workDir := newProject(t, port, map[string]string{"build/stale.txt": "old\n"})

	res, err := icl.RunWithIO(context.Background(), []string{"--workdir", workDir, "build"}, quiet())
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.ExitCode != icl.ExitPipelineFailure {
		t.Fatalf("expected exit %d, got %d", icl.ExitPipelineFailure, res.ExitCode)
	}

	entries, err := os.ReadDir(filepath.Join(workDir, "build"))
	if err != nil {
		t.Fatalf("read build dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected an emptied build dir, found %d entries", len(entries))
	}
}

func TestBuild_BrokenStylesheetIsSkipped(t *testing.T) {
	port := freePort(t)
	workDir := newProject(t, port, map[string]string{"src/sass/b.sass": "INVALID {\n"})

	o := runServing(t, port, "--workdir", workDir, "build")
	if o.res.ExitCode != icl.ExitSuccess {
		t.Fatalf("exit: %d (%v)", o.res.ExitCode, o.err)
	}
	if !exists(workDir, "build/css/a.css") {
		t.Fatalf("a.css missing")
	}
	if exists(workDir, "build/css/b.css") {
		t.Fatalf("b.css must not be written")
	}
	if !bytes.Contains(readFile(t, filepath.Join(workDir, "build", "css", "a.css")), []byte("-webkit-user-select")) {
		t.Fatalf("a.css was not prefixed")
	}
}

func TestBuild_IdenticalRunsIdenticalTrace(t *testing.T) {
	port := freePort(t)
	workDir := newProject(t, port, nil)
	args := []string{"--workdir", workDir, "--trace", "trace.json", "build"}
	tracePath := filepath.Join(workDir, "trace.json")

	o1 := runServing(t, port, args...)
	if o1.res.ExitCode != icl.ExitSuccess {
		t.Fatalf("run1 exit: %d (%v)", o1.res.ExitCode, o1.err)
	}
	tr1 := readFile(t, tracePath)
	css1 := readFile(t, filepath.Join(workDir, "build", "css", "a.css"))

	o2 := runServing(t, port, args...)
	if o2.res.ExitCode != icl.ExitSuccess {
		t.Fatalf("run2 exit: %d (%v)", o2.res.ExitCode, o2.err)
	}
	tr2 := readFile(t, tracePath)
	css2 := readFile(t, filepath.Join(workDir, "build", "css", "a.css"))

	if !bytes.Equal(tr1, tr2) {
		t.Fatalf("trace differs across identical runs")
	}
	if !bytes.Equal(css1, css2) {
		t.Fatalf("output differs across identical runs")
	}
}

func TestStageInvocation_TouchesOnlyItsCategory(t *testing.T) {
	workDir := newProject(t, freePort(t), map[string]string{"build/stale.txt": "old\n"})

	res, err := icl.RunWithIO(context.Background(), []string{"--workdir", workDir, "styles-build"}, quiet())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.ExitCode != icl.ExitSuccess {
		t.Fatalf("exit: %d", res.ExitCode)
	}
	if !exists(workDir, "build/css/a.css") {
		t.Fatalf("a.css missing")
	}
	if !exists(workDir, "build/stale.txt") {
		t.Fatalf("a stage invocation must not clean the destination")
	}
	if exists(workDir, "build/js/app.js") {
		t.Fatalf("scripts stage must not run")
	}
}

func TestExitCodes_InvalidInvocationAndBadConfig(t *testing.T) {
	workDir := newProject(t, freePort(t), nil)

	res, _ := icl.RunWithIO(context.Background(), []string{"--workdir", workDir, "stylez-build"}, quiet())
	if res.ExitCode != icl.ExitInvalidInvocation {
		t.Fatalf("expected exit %d, got %d", icl.ExitInvalidInvocation, res.ExitCode)
	}

	testutil.WriteTree(t, workDir, map[string]string{"sitepipe.yaml": "variants:\n  build:\n    port: 70000\n"})
	res, _ = icl.RunWithIO(context.Background(), []string{"--workdir", workDir, "build"}, quiet())
	if res.ExitCode != icl.ExitConfigError {
		t.Fatalf("expected exit %d, got %d", icl.ExitConfigError, res.ExitCode)
	}

	empty := t.TempDir()
	res1, _ := icl.RunWithIO(context.Background(), []string{"--workdir", empty, "build"}, quiet())
	res2, _ := icl.RunWithIO(context.Background(), []string{"--workdir", empty, "build"}, quiet())
	if res1.ExitCode != icl.ExitConfigError || res2.ExitCode != icl.ExitConfigError {
		t.Fatalf("expected stable config error exit code; got %d and %d", res1.ExitCode, res2.ExitCode)
	}
}
