package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListTree(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"index.html":   "<p>hi</p>",
		"css/main.css": "a{}",
		"img/x/y.png":  "png",
	}
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	entries, err := ListTree(dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "css/main.css", entries[0].Path)
	require.Equal(t, "img/x/y.png", entries[1].Path)
	require.Equal(t, "index.html", entries[2].Path)
	require.Equal(t, int64(3), entries[0].Size)
	require.Equal(t, HashBytes([]byte("a{}")), entries[0].Hash)
}

func TestListTree_MissingDir(t *testing.T) {
	entries, err := ListTree(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	require.Empty(t, entries)
}
