package source_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/keel/internal/adapters/source"
	"go.trai.ch/keel/internal/core/domain"
)

// fakeGit serves commits from in-memory file trees.
type fakeGit struct {
	commits map[string]map[string]string
	refs    map[domain.GitReference]string
	clones  int
	fetches int
}

func (g *fakeGit) Clone(_ context.Context, _, dir string) error {
	g.clones++
	return os.MkdirAll(dir, domain.DirPerm)
}

func (g *fakeGit) Fetch(_ context.Context, _ string) error {
	g.fetches++
	return nil
}

func (g *fakeGit) ResolveRef(_ context.Context, _ string, ref domain.GitReference) (string, error) {
	if ref.Kind == domain.GitRev {
		if _, ok := g.commits[ref.Value]; ok {
			return ref.Value, nil
		}
	}
	if commit, ok := g.refs[ref]; ok {
		return commit, nil
	}
	return "", errors.New("unknown revision")
}

func (g *fakeGit) Checkout(_ context.Context, _, commit, dest string) error {
	files, ok := g.commits[commit]
	if !ok {
		return errors.New("unknown commit")
	}
	for name, content := range files {
		path := filepath.Join(dest, name)
		if err := os.MkdirAll(filepath.Dir(path), domain.DirPerm); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), domain.FilePerm); err != nil {
			return err
		}
	}
	return nil
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		commits: map[string]map[string]string{
			"c1": {"keel.yaml": "package: {name: net, version: 0.1.0}"},
			"c2": {"keel.yaml": "package: {name: net, version: 0.2.0}\ndependencies:\n  fmt: \"^1\"\n"},
		},
		refs: map[domain.GitReference]string{
			{Kind: domain.GitBranch, Value: "main"}: "c2",
		},
	}
}

func TestGitSource_ListVersionsPinsHead(t *testing.T) {
	deps := newTestDeps(t)
	git := newFakeGit()
	id := domain.NewGitSource("https://example.com/net.git", domain.GitReference{Kind: domain.GitBranch, Value: "main"})
	src := source.NewGitSource(id, defaultRegistry, t.TempDir(), git, deps.loader)

	ids, err := src.ListVersions(context.Background(), "net")
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "0.2.0", ids[0].Version().String())
	assert.Equal(t, "c2", ids[0].Source().Precise)
	assert.True(t, ids[0].Source().SameSource(id))

	summary, err := src.FetchSummary(context.Background(), ids[0])
	require.NoError(t, err)
	require.Len(t, summary.Dependencies, 1)
	assert.Equal(t, domain.PackageName("fmt"), summary.Dependencies[0].Name)
	assert.Equal(t, 1, git.clones)

	missing, err := src.ListVersions(context.Background(), "other")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestGitSource_HonorsLockedRevision(t *testing.T) {
	deps := newTestDeps(t)
	git := newFakeGit()
	cache := t.TempDir()
	id := domain.NewGitSource("https://example.com/net.git", domain.GitReference{Kind: domain.GitBranch, Value: "main"})

	// Populate the mirror once.
	_, err := source.NewGitSource(id, defaultRegistry, cache, git, deps.loader).ListVersions(context.Background(), "net")
	require.NoError(t, err)

	locked := domain.NewPackageID("net", domain.MustParseVersion("0.1.0"), id.WithPrecise("c1"))
	src := source.NewGitSource(id, defaultRegistry, cache, git, deps.loader)
	pkg, err := src.Materialize(context.Background(), locked)
	require.NoError(t, err)
	assert.Equal(t, locked, pkg.ID())
	assert.Equal(t, 1, git.clones)
	assert.Equal(t, 0, git.fetches, "a revision already in the mirror needs no fetch")
}

func TestGitSource_VersionMismatch(t *testing.T) {
	deps := newTestDeps(t)
	id := domain.NewGitSource("https://example.com/net.git", domain.GitReference{})
	src := source.NewGitSource(id, defaultRegistry, t.TempDir(), newFakeGit(), deps.loader)

	wrong := domain.NewPackageID("net", domain.MustParseVersion("9.0.0"), id.WithPrecise("c1"))
	_, err := src.FetchSummary(context.Background(), wrong)
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.ErrPackageNotFound.Error())
}

func TestGitSource_UnknownReference(t *testing.T) {
	deps := newTestDeps(t)
	id := domain.NewGitSource("https://example.com/net.git", domain.GitReference{Kind: domain.GitTag, Value: "v9"})
	src := source.NewGitSource(id, defaultRegistry, t.TempDir(), newFakeGit(), deps.loader)

	_, err := src.ListVersions(context.Background(), "net")
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.ErrFetchFailed.Error())
}
