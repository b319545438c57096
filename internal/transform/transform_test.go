package transform

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"sitepipe/internal/core"
	"sitepipe/internal/testutil"
)

func TestPlan_TotalAndOrdered(t *testing.T) {
	for _, cat := range core.AllCategories() {
		for _, v := range core.AllVariants() {
			require.NotEmpty(t, Plan[cat][v], "%s/%s", cat, v)
		}
	}

	build := Plan[core.CategoryStyles][core.VariantBuild]
	require.Equal(t, []string{StepSass, StepPrefix, StepMinifyCSS}, build)
	require.Equal(t, []string{StepSass, StepPrefix}, Plan[core.CategoryStyles][core.VariantPreview])
}

func TestToolchain_ChainMatchesPlan(t *testing.T) {
	tc := &Toolchain{WorkDir: t.TempDir(), SourceDir: "src", Executor: core.NewExecutor(t.TempDir())}
	for _, cat := range core.AllCategories() {
		for _, v := range core.AllVariants() {
			chain, err := tc.Chain(cat, v)
			require.NoError(t, err)
			require.Equal(t, Plan[cat][v], chain.Names(), "%s/%s", cat, v)
		}
	}

	_, err := tc.Chain(core.Category("fonts"), core.VariantBuild)
	require.ErrorIs(t, err, core.ErrConfiguration)
}

func TestChain_RunWrapsTransformError(t *testing.T) {
	boom := errors.New("boom")
	chain := Chain{
		Copy(),
		stepFunc{name: "explode", fn: func(context.Context, *File) (*File, error) { return nil, boom }},
		stepFunc{name: "unreached", fn: func(context.Context, *File) (*File, error) {
			t.Fatal("chain continued after a failing step")
			return nil, nil
		}},
	}

	_, err := chain.Run(context.Background(), &File{Source: "src/x.txt", Rel: "x.txt"})
	require.ErrorIs(t, err, core.ErrTransform)
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "explode src/x.txt")
}

func TestRename(t *testing.T) {
	f, err := Rename(".html", ".gohtml").Apply(context.Background(), &File{Rel: "blog/post.gohtml"})
	require.NoError(t, err)
	require.Equal(t, "blog/post.html", f.Rel)

	f, err = Rename(".html", ".gohtml").Apply(context.Background(), &File{Rel: "notes.txt"})
	require.NoError(t, err)
	require.Equal(t, "notes.txt", f.Rel)
}

func TestPrefix(t *testing.T) {
	expanded := "body {\n  user-select: none;\n  color: red;\n}\n"
	got := string(prefixCSS([]byte(expanded)))
	require.Equal(t, "body {\n  -webkit-user-select: none;\n  -moz-user-select: none;\n  -ms-user-select: none;\n  user-select: none;\n  color: red;\n}\n", got)

	inline := "a{appearance:none}b{color:red;backdrop-filter:blur(2px)}"
	got = string(prefixCSS([]byte(inline)))
	require.Equal(t, "a{-webkit-appearance:none;-moz-appearance:none;appearance:none}b{color:red;-webkit-backdrop-filter:blur(2px);backdrop-filter:blur(2px)}", got)

	already := "a {\n  -webkit-appearance: none;\n}\n"
	require.Equal(t, already, string(prefixCSS([]byte(already))))

	partial := "p {\n  -webkit-user-select: text;\n  user-select: none;\n}\nq { user-select: all; }"
	require.Equal(t, "p {\n  -webkit-user-select: text;\n  -moz-user-select: none;\n  -ms-user-select: none;\n  user-select: none;\n}\nq { -webkit-user-select: all;\n -moz-user-select: all;\n -ms-user-select: all;\n user-select: all; }", string(prefixCSS([]byte(partial))))

	untouched := "a { color: blue; }"
	require.Equal(t, untouched, string(prefixCSS([]byte(untouched))))
}

func TestPrefix_OnlyCSS(t *testing.T) {
	in := &File{Rel: "x.sass", Data: []byte("a\n  user-select: none")}
	out, err := Prefix().Apply(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, in.Data, out.Data)
}

func TestMinify(t *testing.T) {
	m := NewMinifier()
	ctx := context.Background()

	html := &File{Rel: "index.html", Data: []byte("<html>\n  <body>\n    <p>  Hello   world  </p>\n  </body>\n</html>\n")}
	out, err := Minify(m, mediaHTML, ".html").Apply(ctx, html)
	require.NoError(t, err)
	require.Less(t, len(out.Data), len(html.Data))
	require.Contains(t, string(out.Data), "Hello world")

	php := &File{Rel: "contact.php", Data: []byte("<?php  echo 'hi';  ?>\n")}
	out, err = Minify(m, mediaHTML, ".html").Apply(ctx, php)
	require.NoError(t, err)
	require.Equal(t, php.Data, out.Data)

	js := &File{Rel: "app.js", Data: []byte("function add(first, second) {\n  return first + second;\n}\n")}
	out, err = Minify(m, mediaJS, ".js").Apply(ctx, js)
	require.NoError(t, err)
	require.Less(t, len(out.Data), len(js.Data))

	_, err = Minify(m, mediaJS, ".js").Apply(ctx, &File{Rel: "bad.js", Data: []byte("function (")})
	require.Error(t, err)
}

func TestRenderer(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"src/includes/nav.gohtml":         `<nav>{{.Name}}</nav>`,
		"src/includes/layout/foot.gohtml": `<footer>{{.Variant}}</footer>`,
	})
	r := &Renderer{
		WorkDir:     root,
		IncludesDir: "src/includes",
		Data:        PageData{Name: "demo", Version: "1.0.0", Variant: "preview"},
	}

	page := &File{
		Source: "src/blog/post.gohtml",
		Rel:    "blog/post.gohtml",
		Data:   []byte(`{{template "nav" .}}<a href="{{.Root}}index.html">{{.Path}}</a>{{template "layout/foot" .}}`),
	}
	out, err := r.Apply(context.Background(), page)
	require.NoError(t, err)
	require.Equal(t, `<nav>demo</nav><a href="../index.html">blog/post.html</a><footer>preview</footer>`, string(out.Data))
	require.Equal(t, "blog/post.gohtml", out.Rel, "renaming is a separate step")

	_, err = r.Apply(context.Background(), &File{Source: "src/bad.gohtml", Rel: "bad.gohtml", Data: []byte(`{{if}}`)})
	require.Error(t, err)

	_, err = r.Apply(context.Background(), &File{Source: "src/missing.gohtml", Rel: "missing.gohtml", Data: []byte(`{{template "nope" .}}`)})
	require.Error(t, err)
}

func TestSass(t *testing.T) {
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"src/sass/a.sass": "body\n  color: red\n",
		"src/sass/b.sass": "INVALID {{{\n",
	})
	s := &Sass{
		Executor: core.NewExecutor(root),
		Binary:   testutil.FakeSass(t),
		Env:      testutil.ToolEnv(),
	}

	out, err := s.Apply(context.Background(), &File{Source: "src/sass/a.sass", Rel: "a.sass"})
	require.NoError(t, err)
	require.Equal(t, "a.css", out.Rel)
	require.Equal(t, "body\n  color: red\n", string(out.Data))

	_, err = s.Apply(context.Background(), &File{Source: "src/sass/b.sass", Rel: "b.sass"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "exit status 65")
	require.Contains(t, err.Error(), `expected "{"`)
}

func TestSass_Args(t *testing.T) {
	s := &Sass{LoadPaths: []string{"src/sass"}, SourceMap: true}
	args := s.args(&File{Source: "src/sass/pages/home.scss"})
	require.Equal(t, []string{
		"--style=expanded", "--no-error-css", "--embed-source-map", "--embed-sources",
		"--load-path=src/sass/pages", "--load-path=src/sass", "src/sass/pages/home.scss",
	}, args)

	s.SourceMap = false
	require.Contains(t, s.args(&File{Source: "src/sass/a.sass"}), "--no-source-map")
}

func encodePNG(t *testing.T, level png.CompressionLevel) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: level}
	require.NoError(t, enc.Encode(&buf, img))
	return buf.Bytes()
}

func TestImageOptimizer(t *testing.T) {
	cache, err := NewImageCache(1 << 20)
	require.NoError(t, err)
	defer cache.Close()
	o := &ImageOptimizer{Cache: cache, Minifier: NewMinifier()}
	ctx := context.Background()

	raw := encodePNG(t, png.NoCompression)
	out, err := o.Apply(ctx, &File{Rel: "img/red.png", Data: raw})
	require.NoError(t, err)
	require.Less(t, len(out.Data), len(raw))
	_, err = png.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)

	again, err := o.Apply(ctx, &File{Rel: "img/copy.png", Data: raw})
	require.NoError(t, err)
	require.Equal(t, out.Data, again.Data)

	best := encodePNG(t, png.BestCompression)
	out, err = o.Apply(ctx, &File{Rel: "img/best.png", Data: best})
	require.NoError(t, err)
	require.LessOrEqual(t, len(out.Data), len(best))

	svg := "<svg xmlns=\"http://www.w3.org/2000/svg\">\n  <!-- comment -->\n  <circle r=\"4\" />\n</svg>\n"
	out, err = o.Apply(ctx, &File{Rel: "dot.svg", Data: []byte(svg)})
	require.NoError(t, err)
	require.NotContains(t, string(out.Data), "comment")

	gif := []byte("GIF89a not really")
	out, err = o.Apply(ctx, &File{Rel: "anim.gif", Data: gif})
	require.NoError(t, err)
	require.Equal(t, gif, out.Data)

	_, err = o.Apply(ctx, &File{Rel: "broken.png", Data: []byte("not a png")})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "png"), "got %v", err)
}
