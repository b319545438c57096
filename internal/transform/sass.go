package transform

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path"

	"sitepipe/internal/core"
)

// Sass compiles .sass and .scss files with the Dart Sass command line tool.
// Other files pass through.
type Sass struct {
	Executor *core.Executor
	Binary   string
	Env      map[string]string

	// LoadPaths are project-relative directories searched for imports.
	LoadPaths []string
	SourceMap bool
}

func (s *Sass) Name() string { return "sass" }

func (s *Sass) Apply(ctx context.Context, f *File) (*File, error) {
	if !hasExt(f, []string{".sass", ".scss"}) {
		return f, nil
	}

	res, err := s.Executor.Execute(ctx, core.Command{
		Path: s.Binary,
		Args: s.args(f),
		Env:  s.Env,
	})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("exit status %d: %s", res.ExitCode, firstLine(res.Stderr))
	}

	out := f.WithExt(".css")
	out.Data = res.Stdout
	return out, nil
}

func (s *Sass) args(f *File) []string {
	args := []string{"--style=expanded", "--no-error-css"}
	if s.SourceMap {
		args = append(args, "--embed-source-map", "--embed-sources")
	} else {
		args = append(args, "--no-source-map")
	}
	args = append(args, "--load-path="+path.Dir(f.Source))
	for _, p := range s.LoadPaths {
		args = append(args, "--load-path="+p)
	}
	return append(args, f.Source)
}

func firstLine(b []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(bytes.TrimSpace(b)))
	if sc.Scan() {
		return sc.Text()
	}
	return "no diagnostic output"
}
