package core

import (
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PathSpec is the resolved path configuration of one category in one variant.
type PathSpec struct {
	Sources    []string
	Exclusions []string

	// Destination is relative to the project root, e.g. "preview/css".
	Destination string
}

// CategoryPaths declares a category's globs and its destination below the
// variant root. A source entry starting with "!" is an exclusion.
//
// Partials are files the category reads but never emits, such as sass
// partials or template includes. A change to one rebuilds the category.
type CategoryPaths struct {
	Sources    []string `yaml:"sources"`
	Exclusions []string `yaml:"exclusions"`
	Partials   []string `yaml:"partials"`
	Dest       string   `yaml:"dest"`
}

// Catalog is the immutable path catalog. Construct it with NewCatalog; a
// catalog that exists is total over AllCategories.
type Catalog struct {
	roots   map[Variant]string
	entries map[Category]CategoryPaths
}

// DefaultCategoryPaths returns the stock layout rooted at sourceDir.
func DefaultCategoryPaths(sourceDir string) map[Category]CategoryPaths {
	s := strings.TrimSuffix(path.Clean(sourceDir), "/")
	includes := s + "/includes/**"
	return map[Category]CategoryPaths{
		CategoryMarkup: {
			Sources:    []string{s + "/**/*.html", s + "/**/*.php"},
			Exclusions: []string{includes},
			Partials:   []string{includes + "/*.html", includes + "/*.php"},
			Dest:       ".",
		},
		CategoryTemplates: {
			Sources:    []string{s + "/**/*.gohtml"},
			Exclusions: []string{includes},
			Partials:   []string{includes + "/*.gohtml"},
			Dest:       ".",
		},
		CategoryStyles: {
			Sources:    []string{s + "/sass/**/*.sass", s + "/sass/**/*.scss"},
			Exclusions: []string{s + "/sass/**/_*"},
			Partials:   []string{s + "/sass/**/_*.sass", s + "/sass/**/_*.scss"},
			Dest:       "css",
		},
		CategoryScripts: {
			Sources: []string{s + "/js/**/*.js"},
			Dest:    "js",
		},
		CategoryImages: {
			Sources: []string{s + "/img/**/*.*"},
			Dest:    "img",
		},
		CategoryMiscellaneous: {
			Sources: []string{s + "/**/*.*"},
			Exclusions: []string{
				s + "/sass/**",
				includes,
				s + "/img/**",
				s + "/js/**",
				s + "/**/*.html",
				s + "/**/*.php",
				s + "/**/*.gohtml",
				s + "/*.jpg",
			},
			Dest: ".",
		},
	}
}

// NewCatalog validates and freezes a catalog.
//
// Rejected (all as ErrConfiguration):
//   - a category from AllCategories without an entry, or an unknown category
//   - a category without sources
//   - malformed, absolute or escaping globs and destinations
//   - a missing, shared or unsafe variant root
func NewCatalog(roots map[Variant]string, entries map[Category]CategoryPaths) (*Catalog, error) {
	c := &Catalog{
		roots:   make(map[Variant]string, len(roots)),
		entries: make(map[Category]CategoryPaths, len(entries)),
	}

	seenRoots := make(map[string]Variant)
	for _, v := range AllVariants() {
		root, ok := roots[v]
		if !ok || strings.TrimSpace(root) == "" {
			return nil, ConfigErrorf("variant %q has no destination root", v)
		}
		clean := path.Clean(root)
		if err := checkRelative("destination root", clean); err != nil {
			return nil, err
		}
		if clean == "." {
			return nil, ConfigErrorf("destination root for %q must not be the project root", v)
		}
		if other, dup := seenRoots[clean]; dup {
			return nil, ConfigErrorf("variants %q and %q share destination root %q", other, v, clean)
		}
		seenRoots[clean] = v
		c.roots[v] = clean
	}
	for v := range roots {
		if _, ok := c.roots[v]; !ok {
			return nil, ConfigErrorf("unknown variant %q", v)
		}
	}

	known := make(map[Category]bool)
	for _, cat := range AllCategories() {
		known[cat] = true
	}
	for cat := range entries {
		if !known[cat] {
			return nil, ConfigErrorf("unknown category %q", cat)
		}
	}

	for _, cat := range AllCategories() {
		e, ok := entries[cat]
		if !ok {
			return nil, ConfigErrorf("category %q is not declared", cat)
		}
		norm, err := normalizeEntry(cat, e)
		if err != nil {
			return nil, err
		}
		for _, root := range c.roots {
			for _, src := range norm.Sources {
				if base := globBase(src); base == root || strings.HasPrefix(base, root+"/") {
					return nil, ConfigErrorf("category %q reads from destination root %q", cat, root)
				}
			}
		}
		c.entries[cat] = norm
	}
	return c, nil
}

func normalizeEntry(cat Category, e CategoryPaths) (CategoryPaths, error) {
	var out CategoryPaths
	for _, s := range e.Sources {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.HasPrefix(s, "!") {
			out.Exclusions = append(out.Exclusions, strings.TrimPrefix(s, "!"))
			continue
		}
		out.Sources = append(out.Sources, s)
	}
	for _, x := range e.Exclusions {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		out.Exclusions = append(out.Exclusions, strings.TrimPrefix(x, "!"))
	}
	for _, x := range e.Partials {
		if x = strings.TrimSpace(x); x != "" {
			out.Partials = append(out.Partials, x)
		}
	}
	if len(out.Sources) == 0 {
		return CategoryPaths{}, ConfigErrorf("category %q has no sources", cat)
	}
	globs := append(append([]string(nil), out.Sources...), out.Exclusions...)
	for _, p := range append(globs, out.Partials...) {
		if !doublestar.ValidatePattern(p) {
			return CategoryPaths{}, ConfigErrorf("category %q: invalid glob %q", cat, p)
		}
		if err := checkRelative("glob", p); err != nil {
			return CategoryPaths{}, err
		}
	}

	dest := e.Dest
	if strings.TrimSpace(dest) == "" {
		dest = "."
	}
	dest = path.Clean(dest)
	if err := checkRelative("destination", dest); err != nil {
		return CategoryPaths{}, err
	}
	out.Dest = dest
	return out, nil
}

func checkRelative(what, p string) error {
	if strings.HasPrefix(p, "/") {
		return ConfigErrorf("%s %q must be relative to the project root", what, p)
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return ConfigErrorf("%s %q escapes the project root", what, p)
	}
	return nil
}

// Categories returns the declared categories in declaration order.
func (c *Catalog) Categories() []Category {
	return AllCategories()
}

// Root returns the destination root of a variant, e.g. "build".
func (c *Catalog) Root(v Variant) string {
	return c.roots[v]
}

// Spec returns the PathSpec for a category in a variant.
func (c *Catalog) Spec(cat Category, v Variant) (PathSpec, error) {
	e, ok := c.entries[cat]
	if !ok {
		return PathSpec{}, ConfigErrorf("category %q is not declared", cat)
	}
	root, ok := c.roots[v]
	if !ok {
		return PathSpec{}, ConfigErrorf("unknown variant %q", v)
	}
	return PathSpec{
		Sources:     append([]string(nil), e.Sources...),
		Exclusions:  append([]string(nil), e.Exclusions...),
		Destination: path.Join(root, e.Dest),
	}, nil
}

// Destination returns the project-relative destination directory of a
// category in a variant, e.g. "build/css".
func (c *Catalog) Destination(cat Category, v Variant) (string, error) {
	spec, err := c.Spec(cat, v)
	if err != nil {
		return "", err
	}
	return spec.Destination, nil
}

// Match reports whether a project-relative, slash separated path belongs to
// the category: it matches a source glob and no exclusion.
func (c *Catalog) Match(cat Category, name string) bool {
	e, ok := c.entries[cat]
	if !ok {
		return false
	}
	included := false
	for _, s := range e.Sources {
		if ok, _ := doublestar.Match(s, name); ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	excluded, _ := matchesAny(e.Exclusions, name)
	return !excluded
}

// Watches reports whether a change to name must rebuild the category: name is
// one of its sources or one of its partials.
func (c *Catalog) Watches(cat Category, name string) bool {
	if c.Match(cat, name) {
		return true
	}
	partial, _ := matchesAny(c.entries[cat].Partials, name)
	return partial
}

// Owners returns the categories whose globs match name, sorted.
func (c *Catalog) Owners(name string) []Category {
	return c.collect(name, c.Match)
}

// Watchers returns the categories a change to name rebuilds, sorted.
func (c *Catalog) Watchers(name string) []Category {
	return c.collect(name, c.Watches)
}

func (c *Catalog) collect(name string, pred func(Category, string) bool) []Category {
	var out []Category
	for _, cat := range AllCategories() {
		if pred(cat, name) {
			out = append(out, cat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve lists the source files of a category below baseDir.
func (c *Catalog) Resolve(baseDir string, cat Category) ([]SourceFile, error) {
	e, ok := c.entries[cat]
	if !ok {
		return nil, ConfigErrorf("category %q is not declared", cat)
	}
	return NewSourceResolver(baseDir).Resolve(e.Sources, e.Exclusions)
}
