package core

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// TreeEntry describes one regular file below a directory.
type TreeEntry struct {
	// Path is relative to the listed directory, slash separated.
	Path string      `json:"path"`
	Size int64       `json:"size"`
	Hash ContentHash `json:"hash"`
}

// ListTree returns every regular file below dir, sorted by path, with its
// content hash. A missing dir yields an empty listing.
func ListTree(dir string) ([]TreeEntry, error) {
	var entries []TreeEntry

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == dir {
				return fs.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		entries = append(entries, TreeEntry{
			Path: filepath.ToSlash(rel),
			Size: int64(len(data)),
			Hash: HashBytes(data),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	if entries == nil {
		entries = []TreeEntry{}
	}
	return entries, nil
}
