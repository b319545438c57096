package transform

import (
	"fmt"
	"path"

	"github.com/tdewolff/minify/v2"

	"sitepipe/internal/core"
)

// Step identifiers used by Plan.
const (
	StepCopy       = "copy"
	StepRender     = "render"
	StepRenameHTML = "rename.html"
	StepSass       = "sass"
	StepPrefix     = "prefix"
	StepMinifyHTML = "minify-html"
	StepMinifyCSS  = "minify-css"
	StepMinifyJS   = "minify-js"
	StepOptimize   = "optimize-image"
)

// Plan is the transform order of every category in every variant. Order
// matters: compilation and source maps come before prefixing, prefixing
// before minification.
var Plan = map[core.Category]map[core.Variant][]string{
	core.CategoryMarkup: {
		core.VariantPreview: {StepCopy},
		core.VariantBuild:   {StepMinifyHTML},
	},
	core.CategoryTemplates: {
		core.VariantPreview: {StepRender, StepRenameHTML},
		core.VariantBuild:   {StepRender, StepRenameHTML, StepMinifyHTML},
	},
	core.CategoryStyles: {
		core.VariantPreview: {StepSass, StepPrefix},
		core.VariantBuild:   {StepSass, StepPrefix, StepMinifyCSS},
	},
	core.CategoryScripts: {
		core.VariantPreview: {StepCopy},
		core.VariantBuild:   {StepMinifyJS},
	},
	core.CategoryImages: {
		core.VariantPreview: {StepCopy},
		core.VariantBuild:   {StepOptimize},
	},
	core.CategoryMiscellaneous: {
		core.VariantPreview: {StepCopy},
		core.VariantBuild:   {StepCopy},
	},
}

// Toolchain holds what the steps need from the outside world.
type Toolchain struct {
	WorkDir   string
	SourceDir string

	Executor *core.Executor
	Sass     string
	ToolEnv  map[string]string

	Minifier *minify.M
	Images   *ImageCache

	Name    string
	Version string
}

// Chain builds the chain Plan declares for a category and variant.
func (tc *Toolchain) Chain(cat core.Category, v core.Variant) (Chain, error) {
	names, ok := Plan[cat][v]
	if !ok {
		return nil, core.ConfigErrorf("no transform plan for %s/%s", cat, v)
	}
	chain := make(Chain, 0, len(names))
	for _, n := range names {
		s, err := tc.step(n, v)
		if err != nil {
			return nil, err
		}
		chain = append(chain, s)
	}
	return chain, nil
}

func (tc *Toolchain) step(name string, v core.Variant) (Step, error) {
	m := tc.Minifier
	if m == nil {
		m = NewMinifier()
	}
	switch name {
	case StepCopy:
		return Copy(), nil
	case StepRender:
		return &Renderer{
			WorkDir:     tc.WorkDir,
			IncludesDir: path.Join(tc.SourceDir, "includes"),
			Data: PageData{
				Name:    tc.Name,
				Version: tc.Version,
				Variant: v.String(),
			},
		}, nil
	case StepRenameHTML:
		return Rename(".html", ".gohtml"), nil
	case StepSass:
		return &Sass{
			Executor:  tc.Executor,
			Binary:    tc.Sass,
			Env:       tc.ToolEnv,
			LoadPaths: []string{path.Join(tc.SourceDir, "sass")},
			SourceMap: v == core.VariantPreview,
		}, nil
	case StepPrefix:
		return Prefix(), nil
	case StepMinifyHTML:
		return Minify(m, mediaHTML, ".html", ".htm"), nil
	case StepMinifyCSS:
		return Minify(m, mediaCSS, ".css"), nil
	case StepMinifyJS:
		return Minify(m, mediaJS, ".js", ".mjs"), nil
	case StepOptimize:
		return &ImageOptimizer{Cache: tc.Images, Minifier: m}, nil
	default:
		return nil, fmt.Errorf("unknown step %q", name)
	}
}
