package transform

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PageData is the value templates execute against.
type PageData struct {
	Name    string
	Version string
	Variant string
	// Path is the output path of the page, e.g. "blog/index.html".
	Path string
	// Root is the relative prefix from the page back to the site root,
	// e.g. "../" for "blog/index.html".
	Root string
}

// Renderer executes html/template pages. Partials are every *.gohtml file
// below IncludesDir, addressable by their path relative to it without the
// extension, e.g. {{template "nav" .}} or {{template "layout/head" .}}.
type Renderer struct {
	WorkDir     string
	IncludesDir string
	Data        PageData
}

func (r *Renderer) Name() string { return "render" }

func (r *Renderer) Apply(_ context.Context, f *File) (*File, error) {
	tmpl := template.New(f.Source).Funcs(template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	})
	if err := r.parsePartials(tmpl); err != nil {
		return nil, err
	}
	if _, err := tmpl.Parse(string(f.Data)); err != nil {
		return nil, err
	}

	data := r.Data
	data.Path = strings.TrimSuffix(f.Rel, path.Ext(f.Rel)) + ".html"
	data.Root = strings.Repeat("../", strings.Count(data.Path, "/"))

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, f.Source, data); err != nil {
		return nil, err
	}
	out := *f
	out.Data = buf.Bytes()
	return &out, nil
}

func (r *Renderer) parsePartials(tmpl *template.Template) error {
	if r.IncludesDir == "" {
		return nil
	}
	dir := filepath.Join(r.WorkDir, filepath.FromSlash(r.IncludesDir))
	fsys := os.DirFS(dir)
	names, err := doublestar.Glob(fsys, "**/*.gohtml")
	if err != nil {
		return fmt.Errorf("listing partials: %w", err)
	}
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading partial %s: %w", name, err)
		}
		partial := strings.TrimSuffix(name, ".gohtml")
		if _, err := tmpl.New(partial).Parse(string(data)); err != nil {
			return fmt.Errorf("partial %s: %w", name, err)
		}
	}
	return nil
}
