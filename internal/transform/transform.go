// Package transform implements the per-file transform steps and the
// category/variant chains that compose them.
package transform

import (
	"context"
	"path"
	"strings"

	"sitepipe/internal/core"
)

// File is the unit a step consumes and produces.
type File struct {
	// Source is the project-relative path of the originating source file.
	Source string
	// Rel is the output path below the stage destination. Steps that change
	// the output type rename it.
	Rel  string
	Data []byte
}

// Ext returns the lower-cased extension of Rel.
func (f *File) Ext() string {
	return strings.ToLower(path.Ext(f.Rel))
}

// WithExt returns a copy of f whose Rel carries a new extension.
func (f *File) WithExt(ext string) *File {
	out := *f
	out.Rel = strings.TrimSuffix(f.Rel, path.Ext(f.Rel)) + ext
	return &out
}

// Step is one external transform. Steps must not keep state between files
// except for content-addressed memoization.
type Step interface {
	Name() string
	Apply(ctx context.Context, f *File) (*File, error)
}

// Chain is an ordered list of steps applied to each file of a stage.
type Chain []Step

// Names lists the step names in order.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name()
	}
	return names
}

// Run applies every step in order. The first failing step stops the chain
// and its error is returned as a TransformError naming the step and source.
func (c Chain) Run(ctx context.Context, f *File) (*File, error) {
	cur := f
	for _, s := range c {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := s.Apply(ctx, cur)
		if err != nil {
			return nil, core.NewTransformError(s.Name(), f.Source, err)
		}
		cur = next
	}
	return cur, nil
}

type stepFunc struct {
	name string
	fn   func(ctx context.Context, f *File) (*File, error)
}

func (s stepFunc) Name() string { return s.name }

func (s stepFunc) Apply(ctx context.Context, f *File) (*File, error) { return s.fn(ctx, f) }

// Copy passes a file through unchanged.
func Copy() Step {
	return stepFunc{name: "copy", fn: func(_ context.Context, f *File) (*File, error) {
		return f, nil
	}}
}

// Rename changes the extension of files whose extension is in from.
func Rename(to string, from ...string) Step {
	return stepFunc{name: "rename" + to, fn: func(_ context.Context, f *File) (*File, error) {
		if !hasExt(f, from) {
			return f, nil
		}
		return f.WithExt(to), nil
	}}
}

func hasExt(f *File, exts []string) bool {
	ext := f.Ext()
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}
