// Package fs provides file system adapters for walking and hashing package sources.
package fs

import (
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"

	"go.trai.ch/keel/internal/core/domain"
)

// skippedDirs are never part of a package's content.
var skippedDirs = []string{".git", ".jj", domain.KeelDirName, domain.TargetDirName}

// Walker provides file walking functionality.
type Walker struct{}

// NewWalker creates a new Walker.
func NewWalker() *Walker {
	return &Walker{}
}

// WalkFiles yields all regular files below root in lexical order. Version control
// directories, keel's own state and build outputs are skipped, as are directories and
// files whose name matches one of ignores. Directories holding their own manifest are
// separate packages and are skipped too. Yielded paths include root.
func (w *Walker) WalkFiles(root string, ignores []string) iter.Seq[string] {
	return func(yield func(string) bool) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path == root {
				return nil
			}

			if skip, action := w.shouldSkip(path, d, ignores); skip {
				return action
			}
			if !d.Type().IsRegular() {
				return nil
			}

			if !yield(path) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// shouldSkip reports whether d is excluded, and the WalkDir action that excludes it.
func (w *Walker) shouldSkip(path string, d fs.DirEntry, ignores []string) (bool, error) {
	name := d.Name()

	if d.IsDir() {
		if slices.Contains(skippedDirs, name) {
			return true, filepath.SkipDir
		}
		if _, err := os.Stat(filepath.Join(path, domain.ManifestFileName)); err == nil {
			return true, filepath.SkipDir
		}
	}

	for _, ignore := range ignores {
		if matched, _ := filepath.Match(ignore, name); matched {
			if d.IsDir() {
				return true, filepath.SkipDir
			}
			return true, nil
		}
	}
	return false, nil
}
