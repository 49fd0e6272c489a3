package resolver

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"

	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
	"go.trai.ch/zerr"
)

// requirement is a dependency together with the name of the package declaring it.
type requirement struct {
	dep  domain.DependencyRequirement
	from domain.PackageName
}

// decision is one slot of the search stack.
type decision struct {
	name       domain.PackageName
	source     domain.SourceID
	candidates []domain.PackageID
	pos        int

	// locked is the lock entry the slot started from. The source is only listed
	// once that entry has been rejected.
	locked   domain.PackageID
	expanded bool
	hinted   bool

	id      domain.PackageID
	summary *domain.Summary

	conflicts map[domain.PackageName]bool
	evidence  []domain.RequirementTrace
	origin    domain.PackageName
	reason    string
}

type search struct {
	req     Request
	queries *queryCache
	tracer  ports.Tracer
	logger  ports.Logger

	members map[domain.PackageName]*domain.Summary
	locked  map[domain.PackageName]domain.PackageID

	stack  []*decision
	byName map[domain.PackageName]*decision

	// hints remembers higher-precedence sources seen for a name after it was decided.
	hints map[domain.PackageName]domain.SourceID

	unavailable []error
	seen        map[string]bool
	backjumps   int
}

func newSearch(req Request, queries *queryCache, tracer ports.Tracer, logger ports.Logger) *search {
	s := &search{
		req:     req,
		queries: queries,
		tracer:  tracer,
		logger:  logger,
		members: make(map[domain.PackageName]*domain.Summary, len(req.Members)),
		byName:  make(map[domain.PackageName]*decision),
		hints:   make(map[domain.PackageName]domain.SourceID),
		seen:    make(map[string]bool),
	}

	var roots []domain.DependencyRequirement
	for _, m := range req.Members {
		s.members[m.ID.Name()] = m
		roots = append(roots, m.Dependencies...)
	}

	var lock *domain.Lockfile
	unlock := make(map[domain.PackageName]bool)
	switch req.Policy {
	case LockPolicyConservative:
		lock = req.Lock
		for _, name := range req.Unlock {
			unlock[name] = true
		}
	case LockPolicyNone:
		lock = req.Lock
	case LockPolicyFull:
	}

	locked, mismatches := lock.Revalidate(roots, unlock)
	for name := range s.members {
		delete(locked, name)
	}
	for _, m := range mismatches {
		logger.Debug(fmt.Sprintf("lock entry %s %s no longer satisfies %s", m.Entry.Name, m.Entry.Version, m.Requirement))
	}
	s.locked = locked
	return s
}

func (s *search) run(ctx context.Context) error {
	if err := s.checkMembers(); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		d, err := s.nextSlot(ctx)
		if err != nil {
			return err
		}
		if d == nil {
			bad := s.inconsistent()
			if bad == nil {
				return nil
			}
			s.logger.Debug(fmt.Sprintf("%s is no longer required from %s, reconsidering", bad.name, bad.id.Source()))
			s.popTo(bad)
			for name := range s.introducers(bad.name) {
				bad.conflicts[name] = true
			}
			if err := s.advance(ctx, bad); err != nil {
				return err
			}
			continue
		}

		s.stack = append(s.stack, d)
		s.byName[d.name] = d
		if err := s.advance(ctx, d); err != nil {
			return err
		}
	}
}

// checkMembers rejects members that require another member they cannot use.
func (s *search) checkMembers() error {
	for _, m := range s.req.Members {
		for _, dep := range m.Dependencies {
			target, ok := s.members[dep.Name]
			if !ok {
				continue
			}
			reqs := s.requirementsOn(dep.Name)
			src, reason := s.effectiveSource(dep.Name, reqs)
			if reason == "" && !target.ID.Source().SameSource(src) {
				reason = fmt.Sprintf("%s is a workspace member but is required from %s", dep.Name, src)
			}
			if reason == "" && dep.Req.Matches(target.ID.Version()) {
				continue
			}
			return &domain.ConflictError{
				Package:      dep.Name,
				Requirements: s.traces(reqs),
				Reason:       reason,
			}
		}
	}
	return nil
}

// advance moves d to its next acceptable candidate, backjumping whenever a slot runs dry.
func (s *search) advance(ctx context.Context, d *decision) error {
	for {
		slotCtx, span := s.tracer.Start(ctx, "resolve.slot", ports.WithAttribute("package", d.name.String()))
		ok, err := s.tryNext(slotCtx, d)
		if err != nil {
			span.RecordError(err)
			span.End()
			return err
		}
		if ok {
			span.SetAttribute("selected", d.id.String())
			span.End()
			s.logger.Debug("selected " + d.id.String())
			return nil
		}
		span.End()

		s.logger.Debug(fmt.Sprintf("no candidate left for %s", d.name))
		next, err := s.backjump(ctx, d)
		if err != nil {
			return err
		}
		d = next
	}
}

func (s *search) tryNext(ctx context.Context, d *decision) (bool, error) {
	for {
		for d.pos < len(d.candidates) {
			id := d.candidates[d.pos]
			d.pos++
			ok, err := s.try(ctx, d, id)
			if err != nil || ok {
				return ok, err
			}
		}

		if d.locked.IsZero() || d.expanded {
			return false, nil
		}
		d.expanded = true
		more, err := s.list(ctx, d.source, d.name, s.requirementsOn(d.name))
		if err != nil {
			return false, err
		}
		d.candidates = append(d.candidates, slices.DeleteFunc(more, func(id domain.PackageID) bool {
			return id == d.locked
		})...)
	}
}

// try fetches the summary of id and checks its dependencies against the decided slots.
func (s *search) try(ctx context.Context, d *decision, id domain.PackageID) (bool, error) {
	summary, err := s.queries.summary(ctx, id)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		s.markUnavailable(zerr.With(err, "package", id.String()))
		return false, nil
	}

	deps := slices.Clone(summary.Dependencies)
	slices.SortStableFunc(deps, func(a, b domain.DependencyRequirement) int {
		return cmp.Compare(a.Name, b.Name)
	})
	for _, dep := range deps {
		if dep.Name == d.name {
			continue
		}
		if culprits, ok := s.check(d, id, dep); !ok {
			for _, name := range culprits {
				d.conflicts[name] = true
			}
			return false, nil
		}
	}

	d.id = id
	d.summary = summary
	return true, nil
}

// check reports whether dep, declared by candidate id of slot d, is compatible with the
// slots decided so far. On failure it returns the decisions that caused the clash.
func (s *search) check(d *decision, id domain.PackageID, dep domain.DependencyRequirement) ([]domain.PackageName, bool) {
	reqs := append(s.requirementsOn(dep.Name), requirement{dep: dep, from: d.name})
	src, reason := s.effectiveSource(dep.Name, reqs)

	trace := domain.RequirementTrace{Requirement: dep, Chain: append(s.chainVia(d.name), id)}
	reject := func(culprits ...domain.PackageName) ([]domain.PackageName, bool) {
		d.evidence = appendTraces(d.evidence, trace)
		d.evidence = appendTraces(d.evidence, s.traces(reqs[:len(reqs)-1])...)
		if d.origin == "" {
			d.origin = dep.Name
		}
		return culprits, false
	}

	if reason != "" {
		if d.reason == "" {
			d.reason = reason
		}
		return reject(slices.Sorted(maps.Keys(s.introducers(dep.Name)))...)
	}

	if m, ok := s.members[dep.Name]; ok {
		if !dep.Req.Matches(m.ID.Version()) {
			return reject()
		}
		return nil, true
	}

	y, ok := s.byName[dep.Name]
	if !ok || y.summary == nil {
		return nil, true
	}
	if !s.servesSource(y.id.Source(), src) {
		if s.req.Precedence == PrecedenceOverride && src.Kind.Precedence() > y.id.Source().Kind.Precedence() {
			s.hints[dep.Name] = src
		}
		return reject(y.name)
	}
	if !dep.Req.Matches(y.id.Version()) {
		return reject(y.name)
	}
	return nil, true
}

// servesSource reports whether a package from have may satisfy requirements whose effective source is want.
func (s *search) servesSource(have, want domain.SourceID) bool {
	if have.SameSource(want) {
		return true
	}
	return s.req.Precedence == PrecedenceOverride && have.Kind.Precedence() > want.Kind.Precedence()
}

// backjump undoes decisions up to the most recent one that took part in the conflict of failed.
func (s *search) backjump(ctx context.Context, failed *decision) (*decision, error) {
	set := maps.Clone(failed.conflicts)
	for name := range s.introducers(failed.name) {
		set[name] = true
	}
	delete(set, failed.name)

	evidence := appendTraces(s.traces(s.requirementsOn(failed.name)), failed.evidence...)
	origin := cmp.Or(failed.origin, failed.name)

	idx := -1
	for i := len(s.stack) - 1; i >= 0; i-- {
		if set[s.stack[i].name] {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, &domain.ConflictError{
			Package:      origin,
			Requirements: evidence,
			Unavailable:  slices.Clone(s.unavailable),
			Reason:       failed.reason,
		}
	}

	target := s.stack[idx]
	s.popTo(target)
	delete(set, target.name)
	maps.Copy(target.conflicts, set)
	target.evidence = appendTraces(target.evidence, evidence...)
	target.origin = origin
	if target.reason == "" {
		target.reason = failed.reason
	}
	s.backjumps++
	s.logger.Debug(fmt.Sprintf("backjumping from %s to %s", failed.name, target.name))

	if err := s.applyHint(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}

// popTo removes every decision above d and clears the choice of d.
func (s *search) popTo(d *decision) {
	idx := slices.Index(s.stack, d)
	for _, above := range s.stack[idx+1:] {
		delete(s.byName, above.name)
	}
	s.stack = s.stack[:idx+1]
	d.id = domain.PackageID{}
	d.summary = nil
}

// applyHint inserts candidates from a higher-precedence source learned since d was opened.
func (s *search) applyHint(ctx context.Context, d *decision) error {
	hint, ok := s.hints[d.name]
	if !ok || d.hinted || hint.Kind.Precedence() <= d.source.Kind.Precedence() {
		return nil
	}
	d.hinted = true
	extra, err := s.list(ctx, hint, d.name, s.requirementsOn(d.name))
	if err != nil {
		return err
	}
	d.candidates = slices.Insert(d.candidates, d.pos, extra...)
	return nil
}

// inconsistent returns the first decision whose source no longer matches its requirements.
func (s *search) inconsistent() *decision {
	for _, d := range s.stack {
		reqs := s.requirementsOn(d.name)
		src, reason := s.effectiveSource(d.name, reqs)
		if reason != "" || !d.id.Source().SameSource(src) {
			return d
		}
		for _, r := range reqs {
			if !r.dep.Req.Matches(d.id.Version()) {
				return d
			}
		}
	}
	return nil
}

// nextSlot opens the undecided name with the fewest candidates. Ties go to the smaller name.
func (s *search) nextSlot(ctx context.Context) (*decision, error) {
	pending := s.pending()
	if len(pending) == 0 {
		return nil, nil
	}

	listings := make([]versionsKey, 0, len(pending))
	for _, name := range pending {
		if _, ok := s.locked[name]; ok {
			continue
		}
		src, reason := s.effectiveSource(name, s.requirementsOn(name))
		if reason == "" {
			listings = append(listings, versionsKey{source: src, name: name})
		}
	}
	s.queries.prefetch(ctx, s.req.Prefetch, listings, nil)

	var best *decision
	firsts := make([]domain.PackageID, 0, len(pending))
	for _, name := range pending {
		d, err := s.open(ctx, name)
		if err != nil {
			return nil, err
		}
		if len(d.candidates) > 0 {
			firsts = append(firsts, d.candidates[0])
		}
		if best == nil || len(d.candidates) < len(best.candidates) {
			best = d
		}
	}
	s.queries.prefetch(ctx, s.req.Prefetch, nil, firsts)
	return best, nil
}

// open creates the decision for name from the requirements active now.
func (s *search) open(ctx context.Context, name domain.PackageName) (*decision, error) {
	d := &decision{name: name, conflicts: make(map[domain.PackageName]bool)}
	reqs := s.requirementsOn(name)

	src, reason := s.effectiveSource(name, reqs)
	if reason != "" {
		d.reason = reason
		return d, nil
	}
	d.source = src

	if id, ok := s.locked[name]; ok && id.Source().SameSource(src) && satisfiesAll(id, reqs) {
		d.locked = id
		d.candidates = []domain.PackageID{id}
		return d, nil
	}

	cands, err := s.list(ctx, src, name, reqs)
	if err != nil {
		return nil, err
	}
	d.candidates = cands
	if hint, ok := s.hints[name]; ok && hint.Kind.Precedence() > src.Kind.Precedence() {
		d.hinted = true
		extra, err := s.list(ctx, hint, name, reqs)
		if err != nil {
			return nil, err
		}
		d.candidates = append(extra, d.candidates...)
	}
	return d, nil
}

// list returns the versions of name in src that satisfy reqs, highest first.
// A source that cannot be listed contributes no candidates and is reported in the diagnostic.
func (s *search) list(ctx context.Context, src domain.SourceID, name domain.PackageName, reqs []requirement) ([]domain.PackageID, error) {
	ids, err := s.queries.listVersions(ctx, src, name)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.markUnavailable(zerr.With(err, "package", name.String()))
		return nil, nil
	}

	out := make([]domain.PackageID, 0, len(ids))
	for _, id := range ids {
		if id.Name() == name && id.Source().SameSource(src) && satisfiesAll(id, reqs) {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, func(a, b domain.PackageID) int {
		if c := b.Version().Compare(a.Version()); c != 0 {
			return c
		}
		return a.Source().Compare(b.Source())
	})
	return slices.Compact(out), nil
}

func satisfiesAll(id domain.PackageID, reqs []requirement) bool {
	for _, r := range reqs {
		if !r.dep.Req.Matches(id.Version()) {
			return false
		}
	}
	return true
}

// effectiveSource returns the source every requirement on name is served from,
// or a reason when the requirements cannot agree on one.
func (s *search) effectiveSource(name domain.PackageName, reqs []requirement) (domain.SourceID, string) {
	sources := make([]domain.SourceID, 0, len(reqs)+1)
	if m, ok := s.members[name]; ok {
		sources = append(sources, m.ID.Source())
	}
	for _, r := range reqs {
		sources = append(sources, r.dep.Source)
	}
	if len(sources) == 0 {
		return domain.SourceID{}, ""
	}

	top := 0
	if s.req.Precedence == PrecedenceOverride {
		for _, src := range sources {
			top = max(top, src.Kind.Precedence())
		}
	}

	var chosen domain.SourceID
	for _, src := range sources {
		if s.req.Precedence == PrecedenceOverride && src.Kind.Precedence() < top {
			continue
		}
		src = src.Canonical()
		if chosen.IsZero() {
			chosen = src
			continue
		}
		if src != chosen {
			return domain.SourceID{}, fmt.Sprintf("%s is required from both %s and %s", name, chosen, src)
		}
	}
	return chosen, ""
}

// requirementsOn returns every active requirement naming name, members first and then in stack order.
func (s *search) requirementsOn(name domain.PackageName) []requirement {
	var out []requirement
	for _, m := range s.req.Members {
		for _, dep := range m.Dependencies {
			if dep.Name == name {
				out = append(out, requirement{dep: dep, from: m.ID.Name()})
			}
		}
	}
	for _, d := range s.stack {
		if d.summary == nil {
			continue
		}
		for _, dep := range d.summary.Dependencies {
			if dep.Name == name {
				out = append(out, requirement{dep: dep, from: d.name})
			}
		}
	}
	return out
}

// introducers returns the decided packages that require name. Members are never included.
func (s *search) introducers(name domain.PackageName) map[domain.PackageName]bool {
	out := make(map[domain.PackageName]bool)
	for _, r := range s.requirementsOn(name) {
		if _, member := s.members[r.from]; !member {
			out[r.from] = true
		}
	}
	return out
}

// pending returns the required names that have no decision yet, sorted.
func (s *search) pending() []domain.PackageName {
	seen := make(map[domain.PackageName]bool)
	visit := func(summary *domain.Summary) {
		for _, dep := range summary.Dependencies {
			if _, member := s.members[dep.Name]; member {
				continue
			}
			if _, decided := s.byName[dep.Name]; decided {
				continue
			}
			seen[dep.Name] = true
		}
	}
	for _, m := range s.req.Members {
		visit(m)
	}
	for _, d := range s.stack {
		if d.summary != nil {
			visit(d.summary)
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// chainOf returns the packages leading from a workspace member to the package decided for name.
func (s *search) chainOf(name domain.PackageName) []domain.PackageID {
	if m, ok := s.members[name]; ok {
		return []domain.PackageID{m.ID}
	}
	d, ok := s.byName[name]
	if !ok || d.summary == nil {
		return nil
	}
	return append(s.chainVia(name), d.id)
}

// chainVia returns the chain of the earliest package requiring name.
func (s *search) chainVia(name domain.PackageName) []domain.PackageID {
	reqs := s.requirementsOn(name)
	if len(reqs) == 0 || reqs[0].from == name {
		return nil
	}
	return s.chainOf(reqs[0].from)
}

func (s *search) traces(reqs []requirement) []domain.RequirementTrace {
	out := make([]domain.RequirementTrace, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, domain.RequirementTrace{Requirement: r.dep, Chain: s.chainOf(r.from)})
	}
	return out
}

func appendTraces(dst []domain.RequirementTrace, traces ...domain.RequirementTrace) []domain.RequirementTrace {
	for _, t := range traces {
		if !slices.ContainsFunc(dst, func(have domain.RequirementTrace) bool {
			return have.String() == t.String()
		}) {
			dst = append(dst, t)
		}
	}
	return dst
}

func (s *search) markUnavailable(err error) {
	if msg := err.Error(); !s.seen[msg] {
		s.seen[msg] = true
		s.unavailable = append(s.unavailable, err)
	}
}

// graph assembles the resolved graph from the members and the decided slots.
func (s *search) graph() (*domain.ResolvedGraph, error) {
	roots := make([]domain.PackageID, len(s.req.Members))
	summaries := make([]*domain.Summary, 0, len(s.req.Members)+len(s.stack))
	chosen := make(map[domain.PackageName]domain.PackageID, len(s.req.Members)+len(s.stack))
	for i, m := range s.req.Members {
		roots[i] = m.ID
		summaries = append(summaries, m)
		chosen[m.ID.Name()] = m.ID
	}
	for _, d := range s.stack {
		summaries = append(summaries, d.summary)
		chosen[d.name] = d.id
	}

	g := domain.NewResolvedGraph(roots)
	for _, summary := range summaries {
		g.AddNode(summary)
	}
	for _, summary := range summaries {
		for _, dep := range summary.Dependencies {
			if err := g.AddEdge(summary.ID, chosen[dep.Name], dep); err != nil {
				return nil, err
			}
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
