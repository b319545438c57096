package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	"sitepipe/internal/config"
	"sitepipe/internal/logging"
	"sitepipe/internal/pipeline"
	"sitepipe/internal/stage"
	"sitepipe/internal/trace"
	"sitepipe/internal/version"
)

const shutdownTimeout = 5 * time.Second

type CLIResult struct {
	ExitCode int
	// Trace is the canonical trace of the run, nil when none was produced.
	Trace  *trace.RunTrace
	Stages []stage.Result
}

// IO carries the process streams. Logs go to Stderr.
type IO struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Execute maps a canonical CLIInvocation to a pipeline run.
//
// A pipeline invocation returns once ctx is done; the dev server and the
// watcher run until then. A stage invocation returns when the stage is done.
// The trace, if enabled, is written as soon as the pipeline settled, even on
// failure.
func Execute(ctx context.Context, inv CLIInvocation, streams IO) (res CLIResult, execErr error) {
	res.ExitCode = ExitInternalError
	defer func() {
		if r := recover(); r != nil {
			res = CLIResult{ExitCode: ExitInternalError}
			execErr = fmt.Errorf("internal error: %v", r)
		}
	}()

	switch inv.Action {
	case ActionHelp:
		res.ExitCode = ExitSuccess
		return res, nil
	case ActionVersion:
		fmt.Fprintln(streams.Stdout, version.String())
		res.ExitCode = ExitSuccess
		return res, nil
	}

	cfg, err := config.Load(inv.WorkDir)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}

	log := logging.New(streams.Stderr, inv.Verbose)
	composer, err := pipeline.NewComposer(cfg, log)
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}
	defer composer.Close()

	if inv.Action == ActionStage {
		return executeStage(ctx, inv, composer, log)
	}
	return executePipeline(ctx, inv, composer, log)
}

func executeStage(ctx context.Context, inv CLIInvocation, composer *pipeline.Composer, log *slog.Logger) (CLIResult, error) {
	stageRes, rt, err := composer.RunStage(ctx, inv.Variant, inv.Category)
	res := CLIResult{Stages: []stage.Result{stageRes}}
	if rt.GraphHash != "" {
		res.Trace = &rt
		if werr := writeTrace(inv.Trace, rt); werr != nil {
			log.Error("Failed to write trace", "path", inv.Trace.Path, "error", werr)
		}
	}
	res.ExitCode = ExitCode(err)
	return res, err
}

func executePipeline(ctx context.Context, inv CLIInvocation, composer *pipeline.Composer, log *slog.Logger) (CLIResult, error) {
	sess, err := composer.Run(ctx, inv.Variant)
	var res CLIResult
	if sess != nil {
		rt := sess.Trace()
		res.Trace = &rt
		res.Stages = sess.Stages()
		if werr := writeTrace(inv.Trace, rt); werr != nil {
			log.Error("Failed to write trace", "path", inv.Trace.Path, "error", werr)
		}
	}
	if err != nil && ctx.Err() != nil {
		// Interrupted before the first run settled: a normal stop.
		log.Info("Interrupted", "error", err)
		res.ExitCode = ExitSuccess
		return res, nil
	}
	if err != nil {
		res.ExitCode = ExitCode(err)
		return res, err
	}

	<-ctx.Done()
	log.Info("Shutting down")
	shutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sess.Close(shutdown); err != nil {
		log.Warn("Shutdown incomplete", "error", err)
	}
	res.Stages = sess.Stages()
	res.ExitCode = ExitSuccess
	return res, nil
}

// writeTrace replaces the trace file atomically with the canonical JSON of rt.
func writeTrace(cfg TraceConfig, rt trace.RunTrace) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Path == "" {
		return fmt.Errorf("trace enabled but path is empty")
	}
	b, err := rt.CanonicalJSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return fmt.Errorf("create trace dir: %w", err)
	}
	return atomic.WriteFile(cfg.Path, bytes.NewReader(b))
}
