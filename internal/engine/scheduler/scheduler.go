// Package scheduler compiles the units of a build plan in dependency order.
package scheduler

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
	"go.trai.ch/zerr"
)

// Options configures one build.
type Options struct {
	// Root is the workspace root. Build info is stored below it.
	Root string
	// TargetDir receives unit outputs. Defaults to the target directory of Root.
	TargetDir string
	// Parallelism bounds concurrently running units. Defaults to runtime.NumCPU().
	Parallelism int
	// NoCache recompiles every unit even when its fingerprint is unchanged.
	NoCache bool
	// Command is the compiler invocation. Defaults to domain.DefaultCompiler.
	Command []string
}

func (o Options) withDefaults() Options {
	if o.TargetDir == "" {
		o.TargetDir = domain.TargetPath(o.Root)
	}
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.NumCPU()
	}
	if len(o.Command) == 0 {
		o.Command = []string{domain.DefaultCompiler}
	}
	return o
}

// UnitReport is the outcome of one unit.
type UnitReport struct {
	ID       domain.InternedString
	Status   domain.UnitStatus
	Err      error
	Duration time.Duration
	OutDir   string
}

// Report lists the outcome of every unit in plan order.
type Report struct {
	Units []UnitReport
}

// Count returns the number of units that ended with status.
func (r *Report) Count(status domain.UnitStatus) int {
	n := 0
	for _, u := range r.Units {
		if u.Status == status {
			n++
		}
	}
	return n
}

// OutDir returns the directory the artifacts of unit are written to.
func OutDir(targetDir string, unit *domain.CompilationUnit) string {
	id := unit.Package.ID()
	return filepath.Join(
		targetDir,
		id.Name().String()+"-"+id.Version().String(),
		string(unit.Target.Kind)+"-"+unit.Target.Name,
	)
}

// Scheduler manages the execution of compilation units.
type Scheduler struct {
	compiler  ports.Compiler
	store     ports.BuildInfoStore
	hasher    ports.Hasher
	tracer    ports.Tracer
	telemetry ports.Telemetry
	logger    ports.Logger

	mu         sync.RWMutex
	unitStatus map[domain.InternedString]domain.UnitStatus
}

// NewScheduler creates a new Scheduler.
func NewScheduler(
	compiler ports.Compiler,
	store ports.BuildInfoStore,
	hasher ports.Hasher,
	tracer ports.Tracer,
	telemetry ports.Telemetry,
	logger ports.Logger,
) *Scheduler {
	return &Scheduler{
		compiler:   compiler,
		store:      store,
		hasher:     hasher,
		tracer:     tracer,
		telemetry:  telemetry,
		logger:     logger,
		unitStatus: make(map[domain.InternedString]domain.UnitStatus),
	}
}

func (s *Scheduler) initUnitStatuses(plan *domain.BuildPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unitStatus = make(map[domain.InternedString]domain.UnitStatus, plan.Len())
	for unit := range plan.Walk() {
		s.unitStatus[unit.ID] = domain.UnitStatusPending
	}
}

func (s *Scheduler) updateStatus(id domain.InternedString, status domain.UnitStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unitStatus[id] = status
}

func (s *Scheduler) getStatus(id domain.InternedString) domain.UnitStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unitStatus[id]
}

// Run compiles every unit of plan. It returns once no unit is running, with the
// report filled in even when units failed. The error joins every unit failure and
// the context error, if any.
func (s *Scheduler) Run(ctx context.Context, plan *domain.BuildPlan, opts Options) (*Report, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	s.initUnitStatuses(plan)

	ids := make([]string, 0, plan.Len())
	for unit := range plan.Walk() {
		ids = append(ids, unit.ID.String())
	}
	s.tracer.EmitPlan(ctx, ids)

	state := s.newRunState(ctx, plan, opts)

	// done is cleared once it fires so the loop blocks on in-flight results only.
	done := state.ctx.Done()
	for !state.isDone() {
		state.schedule()

		if state.isDone() {
			break
		}

		if state.ctx.Err() != nil && state.active == 0 {
			break
		}

		select {
		case res := <-state.resultsCh:
			state.handleResult(res)
		case <-done:
			done = nil
		}
	}

	state.settlePending()
	if err := state.ctx.Err(); err != nil {
		state.errs = errors.Join(state.errs, err)
	}
	return state.report(), state.errs
}

type result struct {
	unit        domain.InternedString
	fingerprint string
	cached      bool
	duration    time.Duration
	err         error
}

type schedulerRunState struct {
	plan         *domain.BuildPlan
	opts         Options
	inDegree     map[domain.InternedString]int
	ready        []domain.InternedString
	active       int
	resultsCh    chan result
	fingerprints map[domain.InternedString]string
	results      map[domain.InternedString]result
	errs         error
	ctx          context.Context
	s            *Scheduler
}

func (s *Scheduler) newRunState(ctx context.Context, plan *domain.BuildPlan, opts Options) *schedulerRunState {
	inDegree := make(map[domain.InternedString]int, plan.Len())
	var ready []domain.InternedString
	for unit := range plan.Walk() {
		inDegree[unit.ID] = len(unit.Dependencies)
		if len(unit.Dependencies) == 0 {
			ready = append(ready, unit.ID)
		}
	}

	return &schedulerRunState{
		plan:         plan,
		opts:         opts,
		inDegree:     inDegree,
		ready:        ready,
		resultsCh:    make(chan result, opts.Parallelism),
		fingerprints: make(map[domain.InternedString]string, plan.Len()),
		results:      make(map[domain.InternedString]result, plan.Len()),
		ctx:          ctx,
		s:            s,
	}
}

func (state *schedulerRunState) isDone() bool {
	return state.active == 0 && len(state.ready) == 0
}

func (state *schedulerRunState) schedule() {
	for len(state.ready) > 0 && state.active < state.opts.Parallelism && state.ctx.Err() == nil {
		id := state.ready[0]
		state.ready = state.ready[1:]
		unit, _ := state.plan.Unit(id)

		// Dependency fingerprints are copied here so the worker never reads the shared map.
		depFingerprints := make([]string, len(unit.Dependencies))
		depDirs := make(map[domain.PackageName]string, len(unit.Dependencies))
		for i, dep := range unit.Dependencies {
			depFingerprints[i] = state.fingerprints[dep.ID]
			if dep.Package.ID() != unit.Package.ID() {
				depDirs[dep.Package.Name()] = OutDir(state.opts.TargetDir, dep)
			}
		}

		state.active++
		state.s.updateStatus(id, domain.UnitStatusRunning)

		go func() {
			state.resultsCh <- state.s.executeUnit(state.ctx, unit, depFingerprints, depDirs, state.opts)
		}()
	}
}

func (state *schedulerRunState) handleResult(res result) {
	state.active--
	state.results[res.unit] = res

	if res.err != nil {
		wrapped := zerr.With(zerr.Wrap(res.err, domain.ErrUnitFailed.Error()), "unit", res.unit.String())
		state.errs = errors.Join(state.errs, wrapped)
		state.s.updateStatus(res.unit, domain.UnitStatusFailed)
		return
	}

	if res.cached {
		state.s.updateStatus(res.unit, domain.UnitStatusCached)
	} else {
		state.s.updateStatus(res.unit, domain.UnitStatusCompleted)
	}
	state.fingerprints[res.unit] = res.fingerprint

	for _, dep := range state.plan.Dependents(res.unit) {
		state.inDegree[dep]--
		if state.inDegree[dep] == 0 {
			state.ready = append(state.ready, dep)
		}
	}
}

// settlePending marks units that never started. Execution order puts dependencies
// first, so their final status is known when a unit is visited.
func (state *schedulerRunState) settlePending() {
	for unit := range state.plan.Walk() {
		if state.s.getStatus(unit.ID) != domain.UnitStatusPending {
			continue
		}
		status := domain.UnitStatusCanceled
		for _, dep := range unit.Dependencies {
			if st := state.s.getStatus(dep.ID); st == domain.UnitStatusFailed || st == domain.UnitStatusSkipped {
				status = domain.UnitStatusSkipped
				break
			}
		}
		state.s.updateStatus(unit.ID, status)
	}
}

func (state *schedulerRunState) report() *Report {
	r := &Report{Units: make([]UnitReport, 0, state.plan.Len())}
	for unit := range state.plan.Walk() {
		res := state.results[unit.ID]
		r.Units = append(r.Units, UnitReport{
			ID:       unit.ID,
			Status:   state.s.getStatus(unit.ID),
			Err:      res.err,
			Duration: res.duration,
			OutDir:   OutDir(state.opts.TargetDir, unit),
		})
	}
	return r
}

func (s *Scheduler) executeUnit(
	ctx context.Context,
	unit *domain.CompilationUnit,
	depFingerprints []string,
	depDirs map[domain.PackageName]string,
	opts Options,
) result {
	start := time.Now()
	res := result{unit: unit.ID}

	ctx, span := s.tracer.Start(ctx, unit.ID.String(),
		ports.WithAttribute("package", unit.Package.ID().String()),
		ports.WithAttribute("target", unit.Target.String()),
	)
	defer span.End()

	inputs := make([]string, len(unit.Dependencies))
	for i, dep := range unit.Dependencies {
		inputs[i] = dep.ID.String()
	}
	ctx, vertex := s.telemetry.Record(ctx, unit.ID.String(), ports.WithInputs(inputs...))

	fail := func(err error) result {
		span.RecordError(err)
		vertex.Complete(err)
		res.err = err
		res.duration = time.Since(start)
		return res
	}

	fingerprint, err := s.hasher.ComputeUnitFingerprint(unit, depFingerprints, strings.Join(opts.Command, "\x00"))
	if err != nil {
		return fail(err)
	}
	res.fingerprint = fingerprint

	outDir := OutDir(opts.TargetDir, unit)
	if !opts.NoCache && s.upToDate(opts.Root, unit, fingerprint, outDir) {
		s.logger.Debug("up to date: " + unit.ID.String())
		vertex.Cached()
		res.cached = true
		res.duration = time.Since(start)
		return res
	}

	// Stale artifacts must not survive into the new output.
	if err := os.RemoveAll(outDir); err != nil {
		return fail(zerr.With(zerr.Wrap(err, "failed to clear output directory"), "path", outDir))
	}

	req := ports.CompileRequest{
		Unit:           unit,
		Command:        opts.Command,
		OutDir:         outDir,
		DependencyDirs: depDirs,
	}
	if err := s.compiler.Compile(ctx, req, vertex.Stdout(), io.MultiWriter(vertex.Stderr(), span)); err != nil {
		_ = os.RemoveAll(outDir)
		return fail(err)
	}

	info := domain.BuildInfo{
		UnitID:      unit.ID.String(),
		Fingerprint: fingerprint,
		OutDir:      outDir,
		Timestamp:   time.Now(),
	}
	if err := s.store.Put(opts.Root, info); err != nil {
		return fail(err)
	}

	vertex.Complete(nil)
	res.duration = time.Since(start)
	return res
}

// upToDate reports whether the stored fingerprint matches and the output still exists.
func (s *Scheduler) upToDate(root string, unit *domain.CompilationUnit, fingerprint, outDir string) bool {
	info, err := s.store.Get(root, unit.ID.String())
	if err != nil {
		s.logger.Warn("ignoring unreadable build info for " + unit.ID.String())
		return false
	}
	if info == nil || info.Fingerprint != fingerprint || info.OutDir != outDir {
		return false
	}
	_, err = os.Stat(outDir)
	return err == nil
}
