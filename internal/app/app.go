// Package app implements the application layer for keel.
package app

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
	"go.trai.ch/keel/internal/engine/planner"
	"go.trai.ch/keel/internal/engine/resolver"
	"go.trai.ch/keel/internal/engine/scheduler"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// Options holds the settings of one invocation.
type Options struct {
	// Dir is where the manifest search starts. Defaults to the working directory.
	Dir string
	// CacheDir holds registry archives and git checkouts. Defaults to a directory
	// inside the workspace.
	CacheDir string
	// Registry is the index URL bound to dependencies that name none.
	Registry string
	// Policy controls how the existing lock is used.
	Policy resolver.LockPolicy
	// Unlock names packages whose locked entries are discarded.
	Unlock []domain.PackageName
	// Precedence decides between requirements naming different sources.
	Precedence resolver.SourcePrecedence
	// Jobs bounds concurrent fetches and compilations. Defaults to runtime.NumCPU().
	Jobs int
	// NoCache recompiles units whose fingerprint is unchanged.
	NoCache bool
	// Command overrides the compiler invocation.
	Command []string
}

// Resolution is the outcome of resolving a workspace.
type Resolution struct {
	Workspace   *domain.Workspace
	Graph       *domain.ResolvedGraph
	LockChanged bool
}

// runTagger is implemented by loggers that can tag each line with the run id.
type runTagger interface {
	SetRunID(id string)
}

// App represents the main application logic.
type App struct {
	loader    ports.ManifestLoader
	sources   ports.SourceFactory
	locks     ports.LockStore
	scheduler *scheduler.Scheduler
	tracer    ports.Tracer
	progress  ports.Telemetry
	logger    ports.Logger
}

// New creates a new App instance.
func New(
	loader ports.ManifestLoader,
	sources ports.SourceFactory,
	locks ports.LockStore,
	sched *scheduler.Scheduler,
	tracer ports.Tracer,
	progress ports.Telemetry,
	logger ports.Logger,
) *App {
	return &App{
		loader:    loader,
		sources:   sources,
		locks:     locks,
		scheduler: sched,
		tracer:    tracer,
		progress:  progress,
		logger:    logger,
	}
}

// Close flushes the progress recording.
func (a *App) Close() error {
	return a.progress.Close()
}

// session is the state shared by the steps of one operation.
type session struct {
	opts      Options
	workspace *domain.Workspace
	provider  ports.SourceProvider
	release   func() error
}

func (s *session) close(logger ports.Logger) {
	if err := s.release(); err != nil {
		logger.Warn("failed to release workspace lock: " + err.Error())
	}
}

// begin loads the workspace and takes its advisory lock. The caller must close the session.
func (a *App) begin(ctx context.Context, opts Options) (context.Context, *session, error) {
	ctx = a.withRunID(ctx)
	registry := domain.NewRegistrySource(cmp.Or(opts.Registry, domain.DefaultRegistryURL))

	// 1. Load the workspace
	ws, err := a.loader.LoadWorkspace(cmp.Or(opts.Dir, "."), registry)
	if err != nil {
		return ctx, nil, zerr.Wrap(err, "failed to load workspace")
	}

	// 2. Serialize against other processes working on it
	release, err := a.locks.Acquire(ctx, ws.Root)
	if err != nil {
		return ctx, nil, err
	}
	s := &session{opts: opts, workspace: ws, release: release}

	// 3. Bind sources
	cacheDir := cmp.Or(opts.CacheDir, filepath.Join(ws.Root, domain.KeelDirName, "cache"))
	s.provider, err = a.sources.NewProvider(ports.SourceConfig{CacheDir: cacheDir, Registry: registry})
	if err != nil {
		s.close(a.logger)
		return ctx, nil, err
	}
	return ctx, s, nil
}

func (a *App) withRunID(ctx context.Context) context.Context {
	if ports.RunIDFromContext(ctx) != "" {
		return ctx
	}
	id := uuid.NewString()
	if t, ok := a.logger.(runTagger); ok {
		t.SetRunID(id)
	}
	return ports.ContextWithRunID(ctx, id)
}

// Resolve resolves the workspace and updates the lock unless the policy forbids it.
func (a *App) Resolve(ctx context.Context, opts Options) (*Resolution, error) {
	ctx, s, err := a.begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer s.close(a.logger)

	return a.resolve(ctx, s)
}

func (a *App) resolve(ctx context.Context, s *session) (*Resolution, error) {
	lockPath := domain.LockPath(s.workspace.Root)
	lock, err := a.locks.Read(lockPath)
	if err != nil {
		return nil, err
	}

	graph, err := resolver.New(s.provider, a.tracer, a.logger).Resolve(ctx, resolver.Request{
		Members:    s.workspace.Summaries(),
		Lock:       lock,
		Policy:     s.opts.Policy,
		Unlock:     s.opts.Unlock,
		Precedence: s.opts.Precedence,
		Prefetch:   s.opts.Jobs,
	})
	if err != nil {
		return nil, err
	}

	res := &Resolution{Workspace: s.workspace, Graph: graph}
	if s.opts.Policy == resolver.LockPolicyNone {
		return res, nil
	}
	res.LockChanged, err = a.locks.Write(lockPath, domain.LockFromGraph(graph))
	if err != nil {
		return nil, err
	}
	if res.LockChanged {
		a.logger.Info("updated " + domain.LockFileName)
	}
	return res, nil
}

// Fetch resolves the workspace and makes every resolved package available on disk.
func (a *App) Fetch(ctx context.Context, opts Options) (*Resolution, error) {
	ctx, s, err := a.begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer s.close(a.logger)

	res, err := a.resolve(ctx, s)
	if err != nil {
		return nil, err
	}
	if _, err := a.fetch(ctx, s, res.Graph); err != nil {
		return nil, err
	}
	return res, nil
}

// fetch materializes every package of graph. Members are already on disk.
func (a *App) fetch(
	ctx context.Context,
	s *session,
	graph *domain.ResolvedGraph,
) (map[domain.PackageID]*domain.Package, error) {
	packages := make(map[domain.PackageID]*domain.Package, graph.Len())
	for _, m := range s.workspace.Members {
		packages[m.ID()] = m
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cmp.Or(max(s.opts.Jobs, 0), runtime.NumCPU()))
	for _, node := range graph.Sorted() {
		if _, ok := packages[node.ID]; ok {
			continue
		}
		id := node.ID
		g.Go(func() error {
			pkg, err := a.materialize(ctx, s.provider, id)
			if err != nil {
				return err
			}
			mu.Lock()
			packages[id] = pkg
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return packages, nil
}

func (a *App) materialize(ctx context.Context, provider ports.SourceProvider, id domain.PackageID) (*domain.Package, error) {
	ctx, vertex := a.progress.Record(ctx, "fetch "+id.String())

	src, err := provider.Source(id.Source())
	if err != nil {
		vertex.Complete(err)
		return nil, err
	}
	pkg, err := src.Materialize(ctx, id)
	if err != nil {
		err = zerr.With(err, "package", id.String())
		vertex.Complete(err)
		return nil, err
	}
	vertex.Complete(nil)
	a.logger.Debug("fetched " + id.String())
	return pkg, nil
}

// Build resolves and fetches the workspace, then compiles the selected targets.
// The report is returned even when units failed.
func (a *App) Build(ctx context.Context, opts Options, sel planner.Selection) (*scheduler.Report, error) {
	ctx, s, err := a.begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer s.close(a.logger)

	ctx, span := a.tracer.Start(ctx, "build", ports.WithAttribute("workspace", s.workspace.Root))
	defer span.End()

	// 1. Resolve
	res, err := a.resolve(ctx, s)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// 2. Fetch
	packages, err := a.fetch(ctx, s, res.Graph)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// 3. Plan
	plan, err := planner.Plan(res.Graph, packages, sel)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// 4. Run the scheduler
	report, err := a.scheduler.Run(ctx, plan, scheduler.Options{
		Root:        s.workspace.Root,
		Parallelism: opts.Jobs,
		NoCache:     opts.NoCache,
		Command:     opts.Command,
	})
	if err != nil {
		span.RecordError(err)
		return report, zerr.Wrap(err, domain.ErrBuildFailed.Error())
	}
	return report, nil
}

// Tree resolves the workspace and writes its dependency tree to w. A package
// already printed is marked with (*) and not expanded again.
func (a *App) Tree(ctx context.Context, opts Options, w io.Writer) error {
	res, err := a.Resolve(ctx, opts)
	if err != nil {
		return err
	}

	for i, root := range res.Graph.Roots {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		seen := make(map[domain.PackageID]bool)
		if err := printTree(w, res.Graph, root, "", "", seen); err != nil {
			return err
		}
	}
	return nil
}

func printTree(w io.Writer, g *domain.ResolvedGraph, id domain.PackageID, lead, branch string, seen map[domain.PackageID]bool) error {
	deps := g.Dependencies(id)
	suffix := ""
	if seen[id] && len(deps) > 0 {
		suffix = " (*)"
	}
	if _, err := fmt.Fprintf(w, "%s%s%s\n", branch, id, suffix); err != nil {
		return err
	}
	if seen[id] {
		return nil
	}
	seen[id] = true

	for i, dep := range deps {
		next, child := "├── ", "│   "
		if i == len(deps)-1 {
			next, child = "└── ", "    "
		}
		if err := printTree(w, g, dep, lead+child, lead+next, seen); err != nil {
			return err
		}
	}
	return nil
}

// Clean removes the build outputs and the recorded fingerprints of the workspace.
func (a *App) Clean(ctx context.Context, opts Options) error {
	ctx = a.withRunID(ctx)
	ws, err := a.loader.LoadWorkspace(cmp.Or(opts.Dir, "."), domain.NewRegistrySource(cmp.Or(opts.Registry, domain.DefaultRegistryURL)))
	if err != nil {
		return zerr.Wrap(err, "failed to load workspace")
	}

	release, err := a.locks.Acquire(ctx, ws.Root)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			a.logger.Warn("failed to release workspace lock: " + err.Error())
		}
	}()

	for _, dir := range []string{domain.TargetPath(ws.Root), domain.StorePath(ws.Root)} {
		if err := os.RemoveAll(dir); err != nil {
			return zerr.With(zerr.Wrap(err, "failed to remove directory"), "path", dir)
		}
		a.logger.Debug("removed " + dir)
	}
	return nil
}
