// Package stage runs one category's transform chain over its source files.
package stage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"
	"github.com/natefinch/atomic"

	"sitepipe/internal/core"
	"sitepipe/internal/logging"
	"sitepipe/internal/metrics"
	"sitepipe/internal/trace"
	"sitepipe/internal/transform"
)

// Triggers recorded on StageRunsTotal.
const (
	TriggerPipeline = "pipeline"
	TriggerWatch    = "watch"
	TriggerManual   = "manual"
)

// StepWrite names the pseudo step reported when the destination write fails.
const StepWrite = "write"

// Notifier is told which URL paths, relative to the variant root, a stage
// wrote.
type Notifier interface {
	Notify(paths []string)
}

// FileError is a source file the stage skipped.
type FileError struct {
	Source string
	Step   string
	Err    error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Step, e.Err)
}

func (e FileError) Unwrap() error { return e.Err }

// Result summarizes one stage run.
type Result struct {
	Category core.Category `json:"category"`
	Variant  core.Variant  `json:"variant"`
	Trigger  string        `json:"trigger"`

	// Written lists project-relative destination paths in source order.
	Written  []string      `json:"written"`
	Skipped  []FileError   `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Stage binds a category to its chain for one variant.
type Stage struct {
	Category core.Category
	Variant  core.Variant
	WorkDir  string
	Catalog  *core.Catalog
	Chain    transform.Chain

	// Concurrency bounds the files transformed at once. Zero means one.
	Concurrency int

	Notifier Notifier
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Sink     trace.Sink
}

// Name is the stage's step name in the pipeline graph.
func (s *Stage) Name() string { return StepName(s.Category) }

// StepName returns the pipeline graph step name of a category's stage.
func StepName(cat core.Category) string { return "stage:" + string(cat) }

type outcome struct {
	source  string
	written string
	digest  core.ContentHash
	failure *FileError
}

// Run transforms every matching source file and writes the results below the
// category destination. A file rejected by a step is logged and skipped; the
// returned error is reserved for problems that stop the whole stage, such as
// an unresolvable glob or cancellation.
func (s *Stage) Run(ctx context.Context, trigger string) (Result, error) {
	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := s.Logger
	if log == nil {
		log = logging.Discard()
	}
	log = log.With("category", string(s.Category))
	start := clock.Now()

	res := Result{Category: s.Category, Variant: s.Variant, Trigger: trigger}
	metrics.StageRunsTotal.WithLabelValues(string(s.Variant), string(s.Category), trigger).Inc()

	dest, err := s.Catalog.Destination(s.Category, s.Variant)
	if err != nil {
		return res, err
	}
	files, err := s.Catalog.Resolve(s.WorkDir, s.Category)
	if err != nil {
		return res, fmt.Errorf("resolving %s sources: %w", s.Category, err)
	}
	log.Debug("Stage started", "files", len(files), "trigger", trigger)

	outcomes, err := s.processAll(ctx, dest, files)
	if err != nil {
		return res, err
	}

	for _, o := range outcomes {
		if o.failure != nil {
			res.Skipped = append(res.Skipped, *o.failure)
			metrics.TransformErrorsTotal.WithLabelValues(string(s.Variant), string(s.Category), o.failure.Step).Inc()
			trace.SafeRecord(s.Sink, trace.Event{Kind: trace.EventFileSkipped, Step: s.Name(), Path: o.source, Reason: o.failure.Step})
			log.Warn("Skipping file", "source", o.source, "step", o.failure.Step, "error", o.failure.Err)
			continue
		}
		res.Written = append(res.Written, o.written)
		trace.SafeRecord(s.Sink, trace.Event{
			Kind:    trace.EventFileWritten,
			Step:    s.Name(),
			Path:    o.source,
			Outputs: []string{o.written},
			Digest:  o.digest.String(),
		})
	}
	metrics.FilesWrittenTotal.WithLabelValues(string(s.Variant), string(s.Category)).Add(float64(len(res.Written)))

	res.Duration = clock.Since(start)
	metrics.StageDuration.WithLabelValues(string(s.Variant), string(s.Category)).Observe(res.Duration.Seconds())
	log.Info("Stage finished", "written", len(res.Written), "skipped", len(res.Skipped), "duration", res.Duration)

	if s.Notifier != nil && len(res.Written) > 0 {
		s.Notifier.Notify(s.urlPaths(res.Written))
	}
	return res, nil
}

// processAll transforms files on a bounded pool. Outcomes come back in
// source order whatever the completion order.
func (s *Stage) processAll(ctx context.Context, dest string, files []core.SourceFile) ([]outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	pool := pond.NewResultPool[outcome](max(s.Concurrency, 1))
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	for _, src := range files {
		group.SubmitErr(func() (outcome, error) {
			return s.process(ctx, dest, src), nil
		})
	}
	outcomes, err := group.Wait()
	if err != nil {
		return nil, err
	}
	return outcomes, ctx.Err()
}

func (s *Stage) process(ctx context.Context, dest string, src core.SourceFile) outcome {
	o := outcome{source: src.Path}
	data, err := os.ReadFile(filepath.Join(s.WorkDir, filepath.FromSlash(src.Path)))
	if err != nil {
		o.failure = &FileError{Source: src.Path, Step: "read", Err: err}
		return o
	}

	out, err := s.Chain.Run(ctx, &transform.File{Source: src.Path, Rel: src.Rel, Data: data})
	if err != nil {
		o.failure = &FileError{Source: src.Path, Step: failedStep(err), Err: err}
		return o
	}

	written := path.Join(dest, out.Rel)
	if err := writeAtomic(filepath.Join(s.WorkDir, filepath.FromSlash(written)), out.Data); err != nil {
		o.failure = &FileError{Source: src.Path, Step: StepWrite, Err: err}
		return o
	}
	o.written = written
	o.digest = core.HashBytes(out.Data)
	return o
}

func failedStep(err error) string {
	var pe *core.PipelineError
	if errors.As(err, &pe) && pe.Op != "" {
		return pe.Op
	}
	return "transform"
}

func writeAtomic(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	if err := atomic.WriteFile(name, bytes.NewReader(data)); err != nil {
		return err
	}
	return os.Chmod(name, 0o644)
}

func (s *Stage) urlPaths(written []string) []string {
	root := s.Catalog.Root(s.Variant) + "/"
	out := make([]string, 0, len(written))
	for _, w := range written {
		out = append(out, "/"+strings.TrimPrefix(w, root))
	}
	return out
}
