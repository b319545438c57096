package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"sitepipe/internal/core"
	"sitepipe/internal/testutil"
)

const debounce = 100 * time.Millisecond

type runRecorder struct {
	mu   sync.Mutex
	runs []core.Category
	ch   chan core.Category
}

func newRunRecorder() *runRecorder {
	return &runRecorder{ch: make(chan core.Category, 64)}
}

func (r *runRecorder) run(_ context.Context, cat core.Category) error {
	r.mu.Lock()
	r.runs = append(r.runs, cat)
	r.mu.Unlock()
	r.ch <- cat
	return nil
}

func (r *runRecorder) snapshot() []core.Category {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Category(nil), r.runs...)
}

func (r *runRecorder) next(t *testing.T) core.Category {
	t.Helper()
	select {
	case cat := <-r.ch:
		return cat
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a stage run")
		return ""
	}
}

func newCatalog(t *testing.T) *core.Catalog {
	t.Helper()
	cat, err := core.NewCatalog(
		map[core.Variant]string{core.VariantPreview: "preview", core.VariantBuild: "build"},
		core.DefaultCategoryPaths("src"),
	)
	require.NoError(t, err)
	return cat
}

func newDispatcher(t *testing.T, clock clockwork.Clock, run RunFunc) *Dispatcher {
	t.Helper()
	d, err := New(Config{
		WorkDir:  t.TempDir(),
		Catalog:  newCatalog(t),
		Run:      run,
		Debounce: debounce,
		Dedupe:   time.Minute,
		Ignore:   []string{"**/node_modules/**"},
		Clock:    clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func waitTimers(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, n))
}

func TestDispatch_RunsOnlyOwningCategory(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := newRunRecorder()
	d := newDispatcher(t, clock, rec.run)

	require.Equal(t, []core.Category{core.CategoryStyles}, d.Dispatch("src/sass/b.sass", "WRITE"))
	waitTimers(t, clock, 1)
	clock.Advance(debounce)

	require.Equal(t, core.CategoryStyles, rec.next(t))
	require.NoError(t, d.Close())
	require.Equal(t, []core.Category{core.CategoryStyles}, rec.snapshot())
}

func TestDispatch_IgnoresUnownedAndIgnoredPaths(t *testing.T) {
	d := newDispatcher(t, clockwork.NewFakeClock(), newRunRecorder().run)

	require.Nil(t, d.Dispatch("preview/css/a.css", "WRITE"))
	require.Nil(t, d.Dispatch("src/hero.jpg", "WRITE"))
	require.Nil(t, d.Dispatch("src/js/node_modules/dep/index.js", "WRITE"))
	require.Nil(t, d.Dispatch("README", "WRITE"))
}

func TestDispatch_PartialsRebuildTheirCategory(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := newRunRecorder()
	d := newDispatcher(t, clock, rec.run)

	require.Equal(t, []core.Category{core.CategoryStyles}, d.Dispatch("src/sass/_vars.sass", "WRITE"))
	require.Equal(t, []core.Category{core.CategoryTemplates}, d.Dispatch("src/includes/nav.gohtml", "WRITE"))
	require.Equal(t, []core.Category{core.CategoryMarkup}, d.Dispatch("src/includes/head.html", "WRITE"))
	waitTimers(t, clock, 3)
	clock.Advance(debounce)

	got := []core.Category{rec.next(t), rec.next(t), rec.next(t)}
	slices.Sort(got)
	require.Equal(t, []core.Category{core.CategoryMarkup, core.CategoryStyles, core.CategoryTemplates}, got)
}

func TestDispatch_DebounceCoalescesBursts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := newRunRecorder()
	d := newDispatcher(t, clock, rec.run)

	d.Dispatch("src/js/a.js", "WRITE")
	waitTimers(t, clock, 1)
	clock.Advance(debounce / 2)
	d.Dispatch("src/js/b.js", "WRITE")
	d.Dispatch("src/js/c.js", "CREATE")
	clock.Advance(debounce / 2)
	require.Empty(t, rec.snapshot())

	clock.Advance(debounce)
	require.Equal(t, core.CategoryScripts, rec.next(t))
	require.NoError(t, d.Close())
	require.Len(t, rec.snapshot(), 1)
}

func TestDispatch_SuppressesDuplicates(t *testing.T) {
	d := newDispatcher(t, clockwork.NewFakeClock(), newRunRecorder().run)

	require.NotNil(t, d.Dispatch("src/robots.txt", "WRITE"))
	require.Nil(t, d.Dispatch("src/robots.txt", "WRITE"))
	require.NotNil(t, d.Dispatch("src/robots.txt", "REMOVE"))
}

func TestDispatch_OneInFlightOneQueued(t *testing.T) {
	clock := clockwork.NewFakeClock()
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	var mu sync.Mutex
	runs := 0
	d := newDispatcher(t, clock, func(context.Context, core.Category) error {
		mu.Lock()
		runs++
		mu.Unlock()
		started <- struct{}{}
		<-release
		return nil
	})

	d.Dispatch("src/js/a.js", "WRITE")
	waitTimers(t, clock, 1)
	clock.Advance(debounce)
	<-started

	// Two more bursts while the first run is in flight collapse into one rerun.
	d.Dispatch("src/js/b.js", "WRITE")
	waitTimers(t, clock, 1)
	clock.Advance(debounce)
	d.Dispatch("src/js/c.js", "WRITE")
	waitTimers(t, clock, 1)
	clock.Advance(debounce)

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		st := d.states[core.CategoryScripts]
		return st.queued && st.timer == nil
	}, 5*time.Second, 5*time.Millisecond)

	release <- struct{}{}
	<-started
	release <- struct{}{}
	require.NoError(t, d.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, runs)
}

func TestStart_WatchesSourceTree(t *testing.T) {
	root := testutil.NewSite(t, map[string]string{
		"preview/css/a.css":          "x",
		"node_modules/pkg/index.js":  "x",
		"src/js/node_modules/x/y.js": "x",
	})
	rec := newRunRecorder()
	d, err := New(Config{
		WorkDir:  root,
		Catalog:  newCatalog(t),
		Run:      rec.run,
		Debounce: 10 * time.Millisecond,
		Ignore:   []string{"**/node_modules/**"},
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Close()

	watched := d.watcher.WatchList()
	require.Contains(t, watched, filepath.Join(root, "src", "js"))
	require.NotContains(t, watched, filepath.Join(root, "preview"))
	require.NotContains(t, watched, filepath.Join(root, "node_modules"))
	require.NotContains(t, watched, filepath.Join(root, "src", "js", "node_modules"))

	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "js", "app.js"), []byte("let a = 2;\n"), 0o644))
	require.Equal(t, core.CategoryScripts, rec.next(t))

	sub := filepath.Join(root, "src", "js", "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.Eventually(t, func() bool {
		return slices.Contains(d.watcher.WatchList(), sub)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConfig_Validate(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{WorkDir: ".", Catalog: newCatalog(t), Run: newRunRecorder().run, Ignore: []string{"[bad"}})
	require.Error(t, err)
}
