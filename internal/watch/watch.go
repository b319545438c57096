// Package watch re-runs a category's stage when one of its sources changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"sitepipe/internal/core"
	"sitepipe/internal/logging"
	"sitepipe/internal/metrics"
)

// Watch event outcomes recorded on WatchEventsTotal.
const (
	outcomeScheduled = "scheduled"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeUnowned   = "unowned"
	outcomeQueued    = "queued"
	outcomeDropped   = "dropped"
)

// RunFunc re-runs the stage of one category.
type RunFunc func(ctx context.Context, cat core.Category) error

// Config configures a Dispatcher.
type Config struct {
	WorkDir string
	Catalog *core.Catalog
	Run     RunFunc

	// Debounce is the quiet period after the last event of a category before
	// its stage runs.
	Debounce time.Duration
	// Dedupe suppresses repeats of the same (path, op) inside the window.
	Dedupe time.Duration
	// Ignore lists project-relative globs never acted on.
	Ignore []string

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Validate fills defaults and rejects a config that cannot run.
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return errors.New("work dir is required")
	}
	if c.Catalog == nil {
		return errors.New("catalog is required")
	}
	if c.Run == nil {
		return errors.New("run func is required")
	}
	if c.Debounce < 0 || c.Dedupe < 0 {
		return errors.New("debounce and dedupe must not be negative")
	}
	for _, g := range c.Ignore {
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("invalid ignore glob %q", g)
		}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	return nil
}

// categoryState serializes the runs of one category: at most one in flight
// and one queued behind it.
type categoryState struct {
	timer   clockwork.Timer
	gen     uint64
	running bool
	queued  bool
}

// Dispatcher maps filesystem events to stage runs.
type Dispatcher struct {
	cfg Config
	log *slog.Logger

	seen *ttlcache.Cache[string, struct{}]

	mu      sync.Mutex
	ctx     context.Context
	states  map[core.Category]*categoryState
	watcher *fsnotify.Watcher
	closed  bool

	wg sync.WaitGroup
}

// New creates a dispatcher. Start begins watching the filesystem; Dispatch
// can be driven directly without it.
func New(cfg Config) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Dispatcher{
		cfg:    cfg,
		log:    cfg.Logger,
		ctx:    context.Background(),
		states: make(map[core.Category]*categoryState),
	}
	if cfg.Dedupe > 0 {
		d.seen = ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](cfg.Dedupe),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		)
	}
	return d, nil
}

// Start watches every directory below the work dir except the destination
// roots and ignored trees. Directories created later are added as they
// appear. Runs use ctx.
func (d *Dispatcher) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	d.mu.Lock()
	d.ctx = ctx
	d.watcher = w
	d.mu.Unlock()

	if err := d.addTree(d.cfg.WorkDir); err != nil {
		w.Close()
		return err
	}
	d.wg.Add(1)
	go d.loop(ctx, w)
	d.log.Info("Watching sources", "dir", d.cfg.WorkDir, "debounce", d.cfg.Debounce)
	return nil
}

func (d *Dispatcher) loop(ctx context.Context, w *fsnotify.Watcher) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			d.handle(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			d.log.Warn("Watcher error", "error", err)
		}
	}
}

func (d *Dispatcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(d.cfg.WorkDir, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	if ev.Has(fsnotify.Create) {
		if err := d.addTree(ev.Name); err != nil {
			d.log.Debug("Could not watch new path", "path", rel, "error", err)
		}
	}
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return
	}
	d.Dispatch(rel, ev.Op.String())
}

// Dispatch handles one change of a project-relative path and returns the
// categories it scheduled.
func (d *Dispatcher) Dispatch(rel, op string) []core.Category {
	if d.ignored(rel) {
		metrics.WatchEventsTotal.WithLabelValues("", outcomeIgnored).Inc()
		return nil
	}
	owners := d.cfg.Catalog.Watchers(rel)
	if len(owners) == 0 {
		metrics.WatchEventsTotal.WithLabelValues("", outcomeUnowned).Inc()
		return nil
	}

	if d.seen != nil {
		key := op + " " + rel
		if d.seen.Has(key) {
			metrics.WatchEventsTotal.WithLabelValues(string(owners[0]), outcomeDuplicate).Inc()
			return nil
		}
		d.seen.Set(key, struct{}{}, ttlcache.DefaultTTL)
	}

	d.log.Debug("Source changed", "path", rel, "op", op, "categories", owners)
	for _, cat := range owners {
		d.schedule(cat)
		metrics.WatchEventsTotal.WithLabelValues(string(cat), outcomeScheduled).Inc()
	}
	return owners
}

func (d *Dispatcher) schedule(cat core.Category) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	st := d.state(cat)
	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.timer = d.cfg.Clock.AfterFunc(d.cfg.Debounce, func() { d.fire(cat, gen) })
}

func (d *Dispatcher) state(cat core.Category) *categoryState {
	st, ok := d.states[cat]
	if !ok {
		st = &categoryState{}
		d.states[cat] = st
	}
	return st
}

func (d *Dispatcher) fire(cat core.Category, gen uint64) {
	d.mu.Lock()
	st := d.state(cat)
	// A timer stopped too late still fires; the newer one owns the slot.
	if d.closed || gen != st.gen {
		d.mu.Unlock()
		return
	}
	st.timer = nil
	if st.running {
		if st.queued {
			metrics.WatchEventsTotal.WithLabelValues(string(cat), outcomeDropped).Inc()
		} else {
			metrics.WatchEventsTotal.WithLabelValues(string(cat), outcomeQueued).Inc()
		}
		st.queued = true
		d.mu.Unlock()
		return
	}
	st.running = true
	ctx := d.ctx
	d.wg.Add(1)
	d.mu.Unlock()

	go d.runLoop(ctx, cat)
}

// runLoop runs cat until no rerun is queued behind it.
func (d *Dispatcher) runLoop(ctx context.Context, cat core.Category) {
	defer d.wg.Done()
	for {
		if ctx.Err() == nil {
			if err := d.cfg.Run(ctx, cat); err != nil {
				d.log.Warn("Stage rerun failed", "category", string(cat), "error", err)
			}
		}

		d.mu.Lock()
		st := d.state(cat)
		if st.queued && !d.closed {
			st.queued = false
			d.mu.Unlock()
			continue
		}
		st.running = false
		st.queued = false
		d.mu.Unlock()
		return
	}
}

func (d *Dispatcher) ignored(rel string) bool {
	for _, g := range d.cfg.Ignore {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

// skipDir reports whether a directory is outside the watched set: a
// destination root, or a tree whose children are all ignored.
func (d *Dispatcher) skipDir(rel string) bool {
	if rel == "." {
		return false
	}
	for _, v := range core.AllVariants() {
		if root := d.cfg.Catalog.Root(v); rel == root || strings.HasPrefix(rel, root+"/") {
			return true
		}
	}
	return d.ignored(path.Join(rel, "_"))
}

func (d *Dispatcher) addTree(root string) error {
	d.mu.Lock()
	w := d.watcher
	d.mu.Unlock()
	if w == nil {
		return nil
	}

	return filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.cfg.WorkDir, p)
		if err != nil {
			return err
		}
		if d.skipDir(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", rel, err)
		}
		return nil
	})
}

// Close stops watching, cancels pending debounces and waits for in-flight
// runs.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, st := range d.states {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	w := d.watcher
	d.mu.Unlock()

	var err error
	if w != nil {
		err = w.Close()
	}
	d.wg.Wait()
	return err
}
