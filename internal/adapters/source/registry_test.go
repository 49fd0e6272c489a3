package source_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/keel/internal/adapters/source"
	"go.trai.ch/keel/internal/core/domain"
)

type testRegistry struct {
	root string
	id   domain.SourceID
}

func newTestRegistry(t *testing.T) *testRegistry {
	t.Helper()
	root := t.TempDir()
	return &testRegistry{root: root, id: domain.NewRegistrySource("file://" + filepath.ToSlash(root))}
}

// publish writes an archive for name@version and appends it to the index document.
func (r *testRegistry) publish(t *testing.T, name, version string, yanked bool, deps ...source.IndexDependency) {
	t.Helper()
	manifest := "package: {name: " + name + ", version: " + version + "}\n"
	archive := buildArchive(t, map[string]string{
		"keel.yaml":    manifest,
		"src/lib.keel": name + " " + version,
	})
	rel := "archives/" + name + "-" + version + ".tar.gz"
	writeFiles(t, r.root, map[string]string{rel: string(archive)})

	docPath := filepath.Join(r.root, "index", name+".json")
	doc := source.IndexDocument{Name: name}
	if data, err := os.ReadFile(docPath); err == nil {
		require.NoError(t, json.Unmarshal(data, &doc))
	}
	doc.Versions = append(doc.Versions, source.IndexVersion{
		Version:      version,
		Checksum:     source.ArchiveChecksum(archive),
		Yanked:       yanked,
		Dependencies: deps,
		Download:     rel,
	})
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	writeFiles(t, r.root, map[string]string{"index/" + name + ".json": string(data)})
}

func (r *testRegistry) source(t *testing.T, deps testDeps) *source.RegistrySource {
	t.Helper()
	return source.NewRegistrySource(r.id, source.NewFileIndex(r.root), t.TempDir(), deps.loader, deps.logger)
}

func TestRegistrySource_ListVersions(t *testing.T) {
	deps := newTestDeps(t)
	reg := newTestRegistry(t)
	reg.publish(t, "util", "1.0.0", false)
	reg.publish(t, "util", "1.2.0", false)
	reg.publish(t, "util", "1.3.0", true)
	reg.publish(t, "util", "1.10.0", false)

	ids, err := reg.source(t, deps).ListVersions(context.Background(), "util")
	require.NoError(t, err)

	got := make([]string, len(ids))
	for i, id := range ids {
		got[i] = id.Version().String()
		assert.Equal(t, reg.id, id.Source())
	}
	assert.Equal(t, []string{"1.10.0", "1.2.0", "1.0.0"}, got)
}

func TestRegistrySource_UnknownPackage(t *testing.T) {
	deps := newTestDeps(t)
	reg := newTestRegistry(t)
	src := reg.source(t, deps)

	ids, err := src.ListVersions(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = src.FetchSummary(context.Background(),
		domain.NewPackageID("ghost", domain.MustParseVersion("1.0.0"), reg.id))
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.ErrPackageNotFound.Error())
}

func TestRegistrySource_FetchSummary(t *testing.T) {
	deps := newTestDeps(t)
	reg := newTestRegistry(t)
	reg.publish(t, "util", "1.3.0", true,
		source.IndexDependency{Name: "fmt", Req: "^2.0"},
		source.IndexDependency{Name: "log", Req: "~0.4", Registry: "https://other.example/"},
	)

	// Yanked versions stay fetchable by exact id.
	id := domain.NewPackageID("util", domain.MustParseVersion("1.3.0"), reg.id)
	summary, err := reg.source(t, deps).FetchSummary(context.Background(), id)
	require.NoError(t, err)

	require.Len(t, summary.Dependencies, 2)
	assert.Equal(t, reg.id, summary.Dependencies[0].Source)
	assert.True(t, summary.Dependencies[0].Req.Matches(domain.MustParseVersion("2.4.0")))
	assert.Equal(t, domain.NewRegistrySource("https://other.example"), summary.Dependencies[1].Source)
	assert.Contains(t, summary.Checksum, "sha256:")
}

func TestRegistrySource_Materialize(t *testing.T) {
	deps := newTestDeps(t)
	reg := newTestRegistry(t)
	reg.publish(t, "util", "1.2.0", false)
	src := reg.source(t, deps)

	id := domain.NewPackageID("util", domain.MustParseVersion("1.2.0"), reg.id)
	pkg, err := src.Materialize(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, pkg.ID())

	content, err := os.ReadFile(filepath.Join(pkg.SourceDir(), "lib.keel"))
	require.NoError(t, err)
	assert.Equal(t, "util 1.2.0", string(content))

	// A second call reuses the extracted copy even if the archive is gone.
	require.NoError(t, os.RemoveAll(filepath.Join(reg.root, "archives")))
	again, err := src.Materialize(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, pkg.Root(), again.Root())
}

func TestRegistrySource_ChecksumMismatch(t *testing.T) {
	deps := newTestDeps(t)
	reg := newTestRegistry(t)
	reg.publish(t, "util", "1.2.0", false)
	writeFiles(t, reg.root, map[string]string{
		"archives/util-1.2.0.tar.gz": string(buildArchive(t, map[string]string{"keel.yaml": "tampered"})),
	})

	id := domain.NewPackageID("util", domain.MustParseVersion("1.2.0"), reg.id)
	_, err := reg.source(t, deps).Materialize(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.ErrFetchFailed.Error())
}
