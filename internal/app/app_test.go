package app_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/keel/internal/adapters/cas"
	"go.trai.ch/keel/internal/adapters/telemetry"
	"go.trai.ch/keel/internal/app"
	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
	"go.trai.ch/keel/internal/core/ports/mocks"
	"go.trai.ch/keel/internal/engine/planner"
	"go.trai.ch/keel/internal/engine/resolver"
	"go.trai.ch/keel/internal/engine/scheduler"
	"go.uber.org/mock/gomock"
)

const indexURL = "https://index.test"

type harness struct {
	root     string
	opts     app.Options
	loader   *mocks.MockManifestLoader
	locks    *mocks.MockLockStore
	source   *mocks.MockSource
	compiler *mocks.MockCompiler
	app      *app.App
	util     domain.PackageID
}

func libTarget(name string) domain.Target {
	return domain.Target{Kind: domain.TargetKindLib, Name: name, Entry: domain.DefaultLibEntry}
}

// newHarness sets up a workspace with one member "app" depending on registry package "util".
func newHarness(t *testing.T) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	root := t.TempDir()
	registry := domain.NewRegistrySource(indexURL)

	appID := domain.NewPackageID("app", domain.MustParseVersion("0.1.0"), domain.NewPathSource(filepath.Join(root, "app")))
	appManifest := &domain.Manifest{
		Package: domain.PackageMetadata{Name: appID.Name(), Version: appID.Version()},
		Dependencies: []domain.DependencyRequirement{{
			Name:   "util",
			Req:    domain.MustParseVersionReq("^1.0"),
			Source: registry,
		}},
		Targets: []domain.Target{libTarget("app")},
	}
	ws := &domain.Workspace{
		Root:         root,
		ManifestPath: filepath.Join(root, domain.ManifestFileName),
		Members:      []*domain.Package{domain.NewPackage(appID, appManifest, filepath.Join(root, "app", domain.ManifestFileName))},
	}

	utilID := domain.NewPackageID("util", domain.MustParseVersion("1.2.0"), registry)
	utilManifest := &domain.Manifest{
		Package: domain.PackageMetadata{Name: utilID.Name(), Version: utilID.Version()},
		Targets: []domain.Target{libTarget("util")},
	}

	loader := mocks.NewMockManifestLoader(ctrl)
	loader.EXPECT().LoadWorkspace(root, registry).Return(ws, nil).AnyTimes()

	locks := mocks.NewMockLockStore(ctrl)
	locks.EXPECT().Acquire(gomock.Any(), root).Return(func() error { return nil }, nil).AnyTimes()

	src := mocks.NewMockSource(ctrl)
	src.EXPECT().ID().Return(registry).AnyTimes()
	src.EXPECT().ListVersions(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, name domain.PackageName) ([]domain.PackageID, error) {
			if name == "util" {
				return []domain.PackageID{utilID}, nil
			}
			return nil, nil
		}).AnyTimes()
	src.EXPECT().FetchSummary(gomock.Any(), utilID).Return(domain.SummaryFromManifest(utilID, utilManifest, "abc"), nil).AnyTimes()

	provider := mocks.NewMockSourceProvider(ctrl)
	provider.EXPECT().Source(gomock.Any()).Return(src, nil).AnyTimes()
	sources := mocks.NewMockSourceFactory(ctrl)
	sources.EXPECT().NewProvider(gomock.Any()).DoAndReturn(func(cfg ports.SourceConfig) (ports.SourceProvider, error) {
		assert.Equal(t, registry, cfg.Registry)
		return provider, nil
	}).AnyTimes()

	vertex := mocks.NewMockVertex(ctrl)
	vertex.EXPECT().Stdout().Return(io.Discard).AnyTimes()
	vertex.EXPECT().Stderr().Return(io.Discard).AnyTimes()
	vertex.EXPECT().Complete(gomock.Any()).AnyTimes()
	progress := mocks.NewMockTelemetry(ctrl)
	progress.EXPECT().Record(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ string, _ ...ports.VertexOption) (context.Context, ports.Vertex) {
			return ctx, vertex
		}).AnyTimes()

	logger := mocks.NewMockLogger(ctrl)
	logger.EXPECT().Debug(gomock.Any()).AnyTimes()
	logger.EXPECT().Info(gomock.Any()).AnyTimes()
	logger.EXPECT().Warn(gomock.Any()).AnyTimes()

	hasher := mocks.NewMockHasher(ctrl)
	hasher.EXPECT().ComputeUnitFingerprint(gomock.Any(), gomock.Any(), gomock.Any()).Return("fp", nil).AnyTimes()
	compiler := mocks.NewMockCompiler(ctrl)

	tracer := telemetry.NewNoOpTracer()
	sched := scheduler.NewScheduler(compiler, cas.NewStore(), hasher, tracer, progress, logger)

	return &harness{
		root:     root,
		opts:     app.Options{Dir: root, Registry: indexURL, Jobs: 2},
		loader:   loader,
		locks:    locks,
		source:   src,
		compiler: compiler,
		app:      app.New(loader, sources, locks, sched, tracer, progress, logger),
		util:     utilID,
	}
}

func (h *harness) materializeUtil() {
	h.source.EXPECT().Materialize(gomock.Any(), h.util).Return(
		domain.NewPackage(h.util, &domain.Manifest{
			Package: domain.PackageMetadata{Name: h.util.Name(), Version: h.util.Version()},
			Targets: []domain.Target{libTarget("util")},
		}, filepath.Join(h.root, "cache", "util", domain.ManifestFileName)), nil)
}

func TestApp_Resolve_WritesLock(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	lockPath := domain.LockPath(h.root)
	h.locks.EXPECT().Read(lockPath).Return(nil, nil)
	var written *domain.Lockfile
	h.locks.EXPECT().Write(lockPath, gomock.Any()).DoAndReturn(func(_ string, lock *domain.Lockfile) (bool, error) {
		written = lock
		return true, nil
	})

	res, err := h.app.Resolve(t.Context(), h.opts)
	require.NoError(t, err)
	assert.True(t, res.LockChanged)
	assert.Equal(t, []domain.PackageID{h.util}, res.Graph.Lookup("util"))

	require.NotNil(t, written)
	locked := written.Find("util")
	require.Len(t, locked, 1)
	assert.Equal(t, "1.2.0", locked[0].Version.String())
	assert.Equal(t, "abc", locked[0].Checksum)
}

func TestApp_Resolve_LockedOutdated(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.locks.EXPECT().Read(gomock.Any()).Return(nil, nil)
	h.locks.EXPECT().Write(gomock.Any(), gomock.Any()).Times(0)

	opts := h.opts
	opts.Policy = resolver.LockPolicyNone
	_, err := h.app.Resolve(t.Context(), opts)
	require.ErrorIs(t, err, domain.ErrLockOutdated)
}

func TestApp_Build(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.locks.EXPECT().Read(gomock.Any()).Return(nil, nil)
	h.locks.EXPECT().Write(gomock.Any(), gomock.Any()).Return(false, nil)
	h.materializeUtil()

	var compiled []string
	h.compiler.EXPECT().Compile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ports.CompileRequest, _, _ io.Writer) error {
			compiled = append(compiled, req.Unit.Package.Name().String())
			return os.MkdirAll(req.OutDir, domain.DirPerm)
		}).Times(2)

	opts := h.opts
	opts.Jobs = 1
	report, err := h.app.Build(t.Context(), opts, planner.SelectLib)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(domain.UnitStatusCompleted))
	assert.Equal(t, []string{"util", "app"}, compiled)
}

func TestApp_Build_FetchFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.locks.EXPECT().Read(gomock.Any()).Return(nil, nil)
	h.locks.EXPECT().Write(gomock.Any(), gomock.Any()).Return(false, nil)
	h.source.EXPECT().Materialize(gomock.Any(), h.util).Return(nil, domain.ErrFetchFailed)
	h.compiler.EXPECT().Compile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := h.app.Build(t.Context(), h.opts, planner.Selection{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.ErrFetchFailed.Error())
}

func TestApp_Tree(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.locks.EXPECT().Read(gomock.Any()).Return(nil, nil)
	h.locks.EXPECT().Write(gomock.Any(), gomock.Any()).Return(false, nil)

	var buf bytes.Buffer
	require.NoError(t, h.app.Tree(t.Context(), h.opts, &buf))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "app 0.1.0")
	assert.Equal(t, "└── "+h.util.String(), string(lines[1]))
}

func TestApp_Clean(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	target := domain.TargetPath(h.root)
	require.NoError(t, os.MkdirAll(filepath.Join(target, "app-0.1.0"), domain.DirPerm))
	require.NoError(t, os.MkdirAll(domain.StorePath(h.root), domain.DirPerm))

	require.NoError(t, h.app.Clean(t.Context(), h.opts))

	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(domain.StorePath(h.root))
	assert.True(t, os.IsNotExist(err))
}
