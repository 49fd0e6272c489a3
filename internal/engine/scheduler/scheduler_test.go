package scheduler_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/synctest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/keel/internal/adapters/cas"
	"go.trai.ch/keel/internal/adapters/telemetry"
	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
	"go.trai.ch/keel/internal/core/ports/mocks"
	"go.trai.ch/keel/internal/engine/scheduler"
	"go.uber.org/mock/gomock"
)

func libUnit(name string, deps ...*domain.CompilationUnit) *domain.CompilationUnit {
	id := domain.NewPackageID(domain.PackageName(name), domain.MustParseVersion("1.0.0"), domain.NewPathSource("/ws/"+name))
	target := domain.Target{Kind: domain.TargetKindLib, Name: name, Entry: domain.DefaultLibEntry}
	return &domain.CompilationUnit{
		ID:           domain.NewUnitID(id, target),
		Package:      domain.NewPackage(id, &domain.Manifest{Targets: []domain.Target{target}}, "/ws/"+name+"/"+domain.ManifestFileName),
		Target:       target,
		Dependencies: deps,
	}
}

func newPlan(t *testing.T, units ...*domain.CompilationUnit) *domain.BuildPlan {
	t.Helper()
	plan := domain.NewBuildPlan()
	for _, u := range units {
		require.NoError(t, plan.AddUnit(u))
	}
	require.NoError(t, plan.Validate())
	return plan
}

type harness struct {
	compiler  *mocks.MockCompiler
	vertex    *mocks.MockVertex
	scheduler *scheduler.Scheduler
	opts      scheduler.Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)

	hasher := mocks.NewMockHasher(ctrl)
	hasher.EXPECT().ComputeUnitFingerprint(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(unit *domain.CompilationUnit, deps []string, salt string) (string, error) {
			return unit.ID.String() + "|" + strings.Join(deps, ",") + "|" + salt, nil
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
	logger.EXPECT().Warn(gomock.Any()).AnyTimes()

	compiler := mocks.NewMockCompiler(ctrl)
	root := t.TempDir()
	return &harness{
		compiler:  compiler,
		vertex:    vertex,
		scheduler: scheduler.NewScheduler(compiler, cas.NewStore(), hasher, telemetry.NewNoOpTracer(), progress, logger),
		opts:      scheduler.Options{Root: root, Parallelism: 2},
	}
}

// writeOutput mimics a compiler that succeeds and leaves an artifact behind.
func writeOutput(_ context.Context, req ports.CompileRequest, _, _ io.Writer) error {
	if err := os.MkdirAll(req.OutDir, domain.DirPerm); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(req.OutDir, "artifact"), []byte(req.Unit.ID.String()), domain.FilePerm)
}

func statuses(r *scheduler.Report) map[string]domain.UnitStatus {
	out := make(map[string]domain.UnitStatus, len(r.Units))
	for _, u := range r.Units {
		out[u.ID.String()] = u.Status
	}
	return out
}

func TestScheduler_Run_Diamond(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// d <- b, d <- c, (b, c) <- a
	d := libUnit("d")
	b := libUnit("b", d)
	c := libUnit("c", d)
	a := libUnit("a", b, c, d)
	plan := newPlan(t, a, b, c, d)

	var mu sync.Mutex
	var order []string
	h.compiler.EXPECT().Compile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req ports.CompileRequest, stdout, stderr io.Writer) error {
			mu.Lock()
			order = append(order, req.Unit.Package.Name().String())
			mu.Unlock()
			if req.Unit == a {
				assert.Equal(t, map[domain.PackageName]string{
					"b": scheduler.OutDir(h.opts.TargetDir, b),
					"c": scheduler.OutDir(h.opts.TargetDir, c),
					"d": scheduler.OutDir(h.opts.TargetDir, d),
				}, req.DependencyDirs)
			}
			return writeOutput(ctx, req, stdout, stderr)
		}).Times(4)

	h.opts.TargetDir = filepath.Join(h.opts.Root, "target")
	report, err := h.scheduler.Run(t.Context(), plan, h.opts)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Count(domain.UnitStatusCompleted))

	require.Len(t, order, 4)
	assert.Equal(t, "d", order[0])
	assert.Equal(t, "a", order[3])
}

func TestScheduler_Run_FailureSkipsDependents(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	d := libUnit("d")
	b := libUnit("b", d)
	c := libUnit("c", d)
	a := libUnit("a", b, c, d)
	plan := newPlan(t, a, b, c, d)

	h.compiler.EXPECT().Compile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req ports.CompileRequest, stdout, stderr io.Writer) error {
			switch req.Unit {
			case a:
				t.Error("a must not be compiled after b failed")
			case b:
				assert.NoError(t, writeOutput(ctx, req, stdout, stderr))
				return errors.New("syntax error")
			}
			return writeOutput(ctx, req, stdout, stderr)
		}).Times(3)

	report, err := h.scheduler.Run(t.Context(), plan, h.opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.ErrUnitFailed.Error())
	assert.Contains(t, err.Error(), "syntax error")

	assert.Equal(t, map[string]domain.UnitStatus{
		a.ID.String(): domain.UnitStatusSkipped,
		b.ID.String(): domain.UnitStatusFailed,
		c.ID.String(): domain.UnitStatusCompleted,
		d.ID.String(): domain.UnitStatusCompleted,
	}, statuses(report))

	_, statErr := os.Stat(scheduler.OutDir(domain.TargetPath(h.opts.Root), b))
	assert.True(t, os.IsNotExist(statErr), "failed unit output must be removed")
	_, statErr = os.Stat(scheduler.OutDir(domain.TargetPath(h.opts.Root), c))
	assert.NoError(t, statErr)
}

func TestScheduler_Run_Cached(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	core := libUnit("core")
	util := libUnit("util", core)
	plan := newPlan(t, core, util)

	h.compiler.EXPECT().Compile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(writeOutput).Times(2)

	_, err := h.scheduler.Run(t.Context(), plan, h.opts)
	require.NoError(t, err)

	h.vertex.EXPECT().Cached().Times(2)
	report, err := h.scheduler.Run(t.Context(), plan, h.opts)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(domain.UnitStatusCached))

	h.compiler.EXPECT().Compile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(writeOutput).Times(2)
	opts := h.opts
	opts.NoCache = true
	report, err = h.scheduler.Run(t.Context(), plan, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(domain.UnitStatusCompleted))
}

func TestScheduler_Run_MissingOutputInvalidatesCache(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	core := libUnit("core")
	plan := newPlan(t, core)

	h.compiler.EXPECT().Compile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(writeOutput).Times(2)

	_, err := h.scheduler.Run(t.Context(), plan, h.opts)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(domain.TargetPath(h.opts.Root)))

	report, err := h.scheduler.Run(t.Context(), plan, h.opts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(domain.UnitStatusCompleted))
}

func TestScheduler_Run_Canceled(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	x := libUnit("x")
	a := libUnit("a", x)
	y := libUnit("y")
	plan := newPlan(t, a, x, y)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	h.compiler.EXPECT().Compile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req ports.CompileRequest, _, _ io.Writer) error {
			assert.Equal(t, x, req.Unit)
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}).Times(1)

	opts := h.opts
	opts.Parallelism = 1
	report, err := h.scheduler.Run(ctx, plan, opts)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, map[string]domain.UnitStatus{
		x.ID.String(): domain.UnitStatusFailed,
		a.ID.String(): domain.UnitStatusSkipped,
		y.ID.String(): domain.UnitStatusCanceled,
	}, statuses(report))
}

func TestScheduler_Run_CanceledWaitsForInFlightUnits(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t)

		x := libUnit("x")
		y := libUnit("y")
		plan := newPlan(t, x, y)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// The compiler ignores cancellation until released.
		release := make(chan struct{})
		h.compiler.EXPECT().Compile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, _ ports.CompileRequest, _, _ io.Writer) error {
				cancel()
				<-release
				return ctx.Err()
			}).Times(1)

		opts := h.opts
		opts.Parallelism = 1
		var report *scheduler.Report
		done := make(chan error)
		go func() {
			var err error
			report, err = h.scheduler.Run(ctx, plan, opts)
			done <- err
		}()

		// Returns only once Run is durably blocked on the in-flight result.
		synctest.Wait()
		select {
		case <-done:
			t.Fatal("Run returned while a unit was still compiling")
		default:
		}

		close(release)
		require.ErrorIs(t, <-done, context.Canceled)
		assert.Equal(t, map[string]domain.UnitStatus{
			x.ID.String(): domain.UnitStatusFailed,
			y.ID.String(): domain.UnitStatusCanceled,
		}, statuses(report))
	})
}

func TestScheduler_Run_Parallelism(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		h := newHarness(t)

		var units []*domain.CompilationUnit
		for _, name := range []string{"a", "b", "c", "d", "e"} {
			units = append(units, libUnit(name))
		}
		plan := newPlan(t, units...)

		var mu sync.Mutex
		running, peak := 0, 0
		release := make(chan struct{})
		h.compiler.EXPECT().Compile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, req ports.CompileRequest, stdout, stderr io.Writer) error {
				mu.Lock()
				running++
				peak = max(peak, running)
				mu.Unlock()

				<-release

				mu.Lock()
				running--
				mu.Unlock()
				return writeOutput(ctx, req, stdout, stderr)
			}).Times(5)

		done := make(chan error)
		go func() {
			_, err := h.scheduler.Run(context.Background(), plan, h.opts)
			done <- err
		}()

		synctest.Wait()
		mu.Lock()
		assert.Equal(t, 2, running)
		mu.Unlock()

		close(release)
		require.NoError(t, <-done)
		assert.Equal(t, 2, peak)
	})
}

func TestScheduler_Run_StatusMap(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	core := libUnit("core")
	plan := newPlan(t, core)

	h.compiler.EXPECT().Compile(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(writeOutput).Times(1)

	_, err := h.scheduler.Run(t.Context(), plan, h.opts)
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusCompleted, h.scheduler.GetUnitStatusMap()[core.ID])
}
