// Package pipeline composes cleanup, stages, the dev server and the watcher
// into preview and build runs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"sitepipe/internal/config"
	"sitepipe/internal/core"
	"sitepipe/internal/dag"
	"sitepipe/internal/logging"
	"sitepipe/internal/metrics"
	"sitepipe/internal/server"
	"sitepipe/internal/stage"
	"sitepipe/internal/trace"
	"sitepipe/internal/transform"
	"sitepipe/internal/watch"
)

const imageCacheBytes = 256 << 20

// Composer runs pipelines for one loaded configuration.
type Composer struct {
	cfg       *config.Config
	log       *slog.Logger
	toolchain *transform.Toolchain
}

// NewComposer prepares the shared toolchain. The image memo cache lives as
// long as the composer.
func NewComposer(cfg *config.Config, log *slog.Logger) (*Composer, error) {
	if cfg == nil {
		return nil, core.ConfigErrorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Discard()
	}
	images, err := transform.NewImageCache(imageCacheBytes)
	if err != nil {
		return nil, fmt.Errorf("creating image cache: %w", err)
	}
	return &Composer{
		cfg: cfg,
		log: log,
		toolchain: &transform.Toolchain{
			WorkDir:   cfg.WorkDir,
			SourceDir: cfg.SourceDir,
			Executor:  core.NewExecutor(cfg.WorkDir),
			Sass:      cfg.Sass,
			ToolEnv:   cfg.ToolEnv,
			Minifier:  transform.NewMinifier(),
			Images:    images,
			Name:      cfg.Project.Name,
			Version:   cfg.Project.Version,
		},
	}, nil
}

// Close releases the image cache.
func (c *Composer) Close() {
	c.toolchain.Images.Close()
}

func (c *Composer) logger(v core.Variant, runID string) *slog.Logger {
	return c.log.With("variant", string(v), "run_id", runID, "label", c.cfg.Server(v).LogLabel)
}

func (c *Composer) newStage(v core.Variant, cat core.Category, log *slog.Logger, n stage.Notifier, sink trace.Sink) (*stage.Stage, error) {
	chain, err := c.toolchain.Chain(cat, v)
	if err != nil {
		return nil, err
	}
	return &stage.Stage{
		Category:    cat,
		Variant:     v,
		WorkDir:     c.cfg.WorkDir,
		Catalog:     c.cfg.Catalog,
		Chain:       chain,
		Concurrency: c.cfg.FileConcurrency,
		Notifier:    n,
		Logger:      log,
		Clock:       c.cfg.Clock,
		Sink:        sink,
	}, nil
}

func (c *Composer) execute(ctx context.Context, g *dag.StepGraph, runner dag.StepRunner, sink trace.Sink) (*dag.GraphResult, error) {
	exec, err := dag.NewExecutor(g, runner)
	if err != nil {
		return nil, err
	}
	exec.Sink = sink
	if c.cfg.StageConcurrency == 1 {
		return exec.RunSerial(ctx)
	}
	return exec.RunParallel(ctx, c.cfg.StageConcurrency)
}

// Run executes the variant's pipeline: cleanup, listener bind, all stages
// concurrently, then the dev server and the watcher. It returns once the
// server is up. A fatal step failure is returned as its typed error along
// with the session, which by then holds no open resources.
func (c *Composer) Run(ctx context.Context, v core.Variant) (*Session, error) {
	runID := uuid.NewString()
	log := c.logger(v, runID)
	categories := c.cfg.Catalog.Categories()

	g, err := runGraph(categories)
	if err != nil {
		return nil, err
	}

	rec := trace.NewRecorder()
	sess := newSession(runID, v, c.cfg.Server(v).LogLabel, c.cfg.Clock, g, rec)
	hub := server.NewHub(v, log)
	srv := &server.Server{
		Variant: v,
		Config:  c.cfg.Server(v),
		Root:    c.root(v),
		Hub:     hub,
		Status:  sess,
		Logger:  log,
	}
	sess.server = srv

	stages := make(map[string]*stage.Stage, len(categories))
	for _, cat := range categories {
		st, err := c.newStage(v, cat, log, hub, rec)
		if err != nil {
			return nil, err
		}
		stages[st.Name()] = st
	}

	runner := dag.RunnerFunc(func(ctx context.Context, step dag.StepDef) (*dag.NodeResult, error) {
		switch step.Kind {
		case StepCleanup:
			log.Info("Clearing destination", "dir", c.cfg.Catalog.Root(v))
			if err := clearDir(c.root(v)); err != nil {
				return &dag.NodeResult{Failed: true, Reason: ReasonCleanup, Err: err}, nil
			}
		case StepBind:
			if err := srv.Bind(); err != nil {
				return &dag.NodeResult{Failed: true, Reason: ReasonServerBind, Err: err}, nil
			}
		case kindStage:
			st := stages[step.Name]
			res, err := st.Run(ctx, stage.TriggerPipeline)
			sess.recordStage(res, err)
			if err != nil {
				// Stage failures never stop the run.
				log.Error("Stage failed", "category", string(st.Category), "error", err)
			}
		case StepServe:
			if err := srv.Serve(); err != nil {
				return &dag.NodeResult{Failed: true, Reason: ReasonServe, Err: err}, nil
			}
		case StepWatch:
			w, err := c.newWatcher(v, log, hub, sess)
			if err != nil {
				return &dag.NodeResult{Failed: true, Reason: ReasonWatch, Err: err}, nil
			}
			sess.setWatcher(w)
			if err := w.Start(ctx); err != nil {
				return &dag.NodeResult{Failed: true, Reason: ReasonWatch, Err: err}, nil
			}
		default:
			return nil, fmt.Errorf("unknown step kind %q", step.Kind)
		}
		return &dag.NodeResult{}, nil
	})

	log.Info("Pipeline started", "steps", len(g.Nodes()))
	gr, err := c.execute(ctx, g, runner, rec)
	if err != nil {
		metrics.PipelineRunsTotal.WithLabelValues(string(v), "error").Inc()
		_ = sess.Close(context.Background())
		return sess, err
	}
	sess.setResult(gr)

	if stepErr := gr.FirstError(); stepErr != nil {
		metrics.PipelineRunsTotal.WithLabelValues(string(v), "failed").Inc()
		log.Error("Pipeline failed", "error", stepErr)
		_ = sess.Close(context.Background())
		return sess, stepErr
	}

	checkDisjoint(log, sess.Stages())
	metrics.PipelineRunsTotal.WithLabelValues(string(v), "ok").Inc()
	log.Info("Pipeline ready", "url", "http://"+srv.Addr(), "ui", "http://"+srv.UIAddr())
	return sess, nil
}

func (c *Composer) newWatcher(v core.Variant, log *slog.Logger, hub *server.Hub, sess *Session) (*watch.Dispatcher, error) {
	stages := make(map[core.Category]*stage.Stage)
	for _, cat := range c.cfg.Catalog.Categories() {
		st, err := c.newStage(v, cat, log, hub, trace.NopSink{})
		if err != nil {
			return nil, err
		}
		stages[cat] = st
	}
	return watch.New(watch.Config{
		WorkDir:  c.cfg.WorkDir,
		Catalog:  c.cfg.Catalog,
		Debounce: c.cfg.WatchDebounce,
		Dedupe:   c.cfg.WatchDedupe,
		Ignore:   c.cfg.WatchIgnore,
		Clock:    c.cfg.Clock,
		Logger:   log,
		Run: func(ctx context.Context, cat core.Category) error {
			res, err := stages[cat].Run(ctx, stage.TriggerWatch)
			sess.recordStage(res, err)
			return err
		},
	})
}

// RunStage runs one category's stage once, without cleanup, server or
// watcher.
func (c *Composer) RunStage(ctx context.Context, v core.Variant, cat core.Category) (stage.Result, trace.RunTrace, error) {
	runID := uuid.NewString()
	log := c.logger(v, runID)
	rec := trace.NewRecorder()

	g, err := stageGraph(cat)
	if err != nil {
		return stage.Result{}, trace.RunTrace{}, err
	}
	st, err := c.newStage(v, cat, log, nil, rec)
	if err != nil {
		return stage.Result{}, trace.RunTrace{}, err
	}

	var res stage.Result
	gr, err := c.execute(ctx, g, dag.RunnerFunc(func(ctx context.Context, _ dag.StepDef) (*dag.NodeResult, error) {
		var runErr error
		res, runErr = st.Run(ctx, stage.TriggerManual)
		return &dag.NodeResult{Failed: runErr != nil, Reason: "Stage", Err: runErr}, nil
	}), rec)
	if err != nil {
		return res, trace.RunTrace{}, err
	}
	return res, rec.Trace(gr.GraphHash.String(), string(v)), gr.FirstError()
}

// root is the absolute destination root of a variant.
func (c *Composer) root(v core.Variant) string {
	return filepath.Join(c.cfg.WorkDir, filepath.FromSlash(c.cfg.Catalog.Root(v)))
}

// checkDisjoint warns about destination paths written by more than one stage.
func checkDisjoint(log *slog.Logger, results []stage.Result) []string {
	owner := make(map[string]core.Category)
	var clashes []string
	for _, r := range results {
		for _, w := range r.Written {
			if prev, ok := owner[w]; ok && prev != r.Category {
				clashes = append(clashes, w)
				log.Warn("Destination written by two stages", "path", w, "first", string(prev), "second", string(r.Category))
				continue
			}
			owner[w] = r.Category
		}
	}
	sort.Strings(clashes)
	return clashes
}

