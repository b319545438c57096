// Package testutil provides shared project fixtures for tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// fakeSass stands in for Dart Sass. It echoes the input file, the last
// argument, and fails like the real compiler on files containing INVALID.
const fakeSass = `#!/bin/sh
for arg; do file=$arg; done
if grep -q INVALID "$file"; then
	echo "Error: expected \"{\"." >&2
	echo "  $file 1:1  root stylesheet" >&2
	exit 65
fi
cat "$file"
`

// WriteTree writes files (slash separated relative path -> content) below root.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

// FakeSass writes the Sass stand-in into a fresh directory and returns its
// path.
func FakeSass(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sass")
	if err := os.WriteFile(p, []byte(fakeSass), 0o755); err != nil {
		t.Fatalf("write fake sass: %v", err)
	}
	return p
}

// ToolEnv is the environment the fake tools need.
func ToolEnv() map[string]string {
	return map[string]string{"PATH": os.Getenv("PATH")}
}

// SiteFiles is a small project covering every default category.
func SiteFiles() map[string]string {
	return map[string]string{
		"package.json":            `{"name": "demo-site", "version": "1.0.0"}`,
		"src/index.html":          "<!DOCTYPE html>\n<html>\n  <body>\n    <p>  Hello   world  </p>\n  </body>\n</html>\n",
		"src/contact.php":         "<?php echo 'hi'; ?>\n",
		"src/includes/nav.gohtml": `<nav>{{.Name}}</nav>`,
		"src/about.gohtml":        "<html><body>{{template \"nav\" .}}\n  <h1>About {{.Name}} {{.Version}}</h1>\n</body></html>\n",
		"src/sass/a.sass":         "body {\n  user-select: none;\n  color: red;\n}\n",
		"src/sass/_vars.sass":     "$x: 1\n",
		"src/js/app.js":           "function add(first, second) {\n  return first + second;\n}\nconsole.log(add(1, 2));\n",
		"src/img/dot.svg":         "<svg xmlns=\"http://www.w3.org/2000/svg\" width=\"10\" height=\"10\">\n  <!-- dot -->\n  <circle cx=\"5\" cy=\"5\" r=\"4\" />\n</svg>\n",
		"src/robots.txt":          "User-agent: *\n",
		"src/fonts/readme.md":     "fonts\n",
	}
}

// NewSite creates a project from SiteFiles plus extra files and returns its
// root.
func NewSite(t *testing.T, extra map[string]string) string {
	t.Helper()
	root := t.TempDir()
	files := SiteFiles()
	for k, v := range extra {
		files[k] = v
	}
	WriteTree(t, root, files)
	return root
}
