package fs_test

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/keel/internal/adapters/fs"
	"go.trai.ch/keel/internal/core/domain"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), domain.DirPerm))
		require.NoError(t, os.WriteFile(path, []byte(content), domain.FilePerm))
	}
}

func relFiles(t *testing.T, root string, ignores []string) []string {
	t.Helper()
	var out []string
	for path := range fs.NewWalker().WalkFiles(root, ignores) {
		rel, err := filepath.Rel(root, path)
		require.NoError(t, err)
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

func TestWalker_SkipsStateAndNestedPackages(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"keel.yaml":             "package: {name: a, version: 1.0.0}",
		"src/lib.keel":          "lib",
		"src/util/strings.keel": "util",
		".git/HEAD":             "ref",
		".keel/lock":            "",
		"target/a/out.bin":      "bin",
		"crates/b/keel.yaml":    "package: {name: b, version: 1.0.0}",
		"crates/b/src/lib.keel": "b",
		"notes.tmp":             "scratch",
	})

	files := relFiles(t, root, []string{"*.tmp"})
	assert.Equal(t, []string{"keel.yaml", "src/lib.keel", "src/util/strings.keel"}, files)
	assert.True(t, slices.IsSorted(files))
}

func TestWalker_StopsEarly(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a": "1", "b": "2", "c": "3"})

	count := 0
	for range fs.NewWalker().WalkFiles(root, nil) {
		count++
		break
	}
	assert.Equal(t, 1, count)
}
