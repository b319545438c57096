package core

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// SourceFile is a resolved source path.
//
// Base is the static prefix of the glob that matched the file and Rel is the
// remainder; destinations are built from Rel so the directory structure below
// the glob base is preserved.
type SourceFile struct {
	// Path is relative to the project root, slash separated.
	Path string
	Base string
	Rel  string
}

// SourceResolver expands source globs below a project root.
//
// Resolution is deterministic:
//   - Globs support "**" (doublestar semantics).
//   - Exclusions are applied after inclusion.
//   - Directories are skipped.
//   - The result is sorted by Path and deduplicated; when two patterns match
//     the same file, the first pattern decides its glob base.
type SourceResolver struct {
	// BaseDir is the project root. Patterns are relative to it.
	BaseDir string

	fsys fs.FS
}

// NewSourceResolver creates a resolver rooted at baseDir.
func NewSourceResolver(baseDir string) *SourceResolver {
	return &SourceResolver{BaseDir: baseDir, fsys: os.DirFS(baseDir)}
}

// Resolve expands sources minus exclusions.
func (r *SourceResolver) Resolve(sources, exclusions []string) ([]SourceFile, error) {
	seen := make(map[string]SourceFile)

	for _, pattern := range sources {
		matches, err := r.expandPattern(pattern)
		if err != nil {
			return nil, fmt.Errorf("expanding pattern %q: %w", pattern, err)
		}
		base := globBase(pattern)
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			excluded, err := matchesAny(exclusions, m)
			if err != nil {
				return nil, err
			}
			if excluded {
				continue
			}
			seen[m] = SourceFile{Path: m, Base: base, Rel: relativeTo(base, m)}
		}
	}

	files := make([]SourceFile, 0, len(seen))
	for _, f := range seen {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// expandPattern returns the regular files matching pattern.
// A pattern without glob characters is treated as a literal path.
func (r *SourceResolver) expandPattern(pattern string) ([]string, error) {
	matches, err := doublestar.Glob(r.fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern: %w", err)
	}
	if len(matches) == 0 && !containsGlobChar(pattern) {
		if _, err := fs.Stat(r.fsys, pattern); err == nil {
			matches = []string{pattern}
		}
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		info, err := fs.Stat(r.fsys, m)
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", m, err)
		}
		if info.IsDir() {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// globBase returns the static directory prefix of a glob pattern.
func globBase(pattern string) string {
	if !containsGlobChar(pattern) {
		return path.Dir(pattern)
	}
	base, _ := doublestar.SplitPattern(pattern)
	return base
}

func relativeTo(base, p string) string {
	if base == "." || base == "" {
		return p
	}
	return strings.TrimPrefix(p, base+"/")
}

func matchesAny(patterns []string, name string) (bool, error) {
	for _, p := range patterns {
		ok, err := doublestar.Match(p, name)
		if err != nil {
			return false, fmt.Errorf("invalid exclusion %q: %w", p, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// containsGlobChar returns true if the pattern contains glob special characters.
func containsGlobChar(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[]{}")
}
